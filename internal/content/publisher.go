package content

import (
	"context"
	"log/slog"
	"time"

	"github.com/lumostream/socialcore/internal/bus"
	"github.com/lumostream/socialcore/internal/events"
)

// publishTimeout bounds broker I/O so the mutation path never hangs on an
// unreachable broker.
const publishTimeout = 3 * time.Second

// EventPublisher emits domain events after canonical writes commit. Publishing
// is fire-and-forget: there is no outbox, so a failed publish is logged and the
// event is lost until an out-of-band rebuild of the derived stores.
type EventPublisher struct {
	bus bus.Publisher
	log *slog.Logger
}

// NewEventPublisher wraps a broker publisher.
func NewEventPublisher(b bus.Publisher, log *slog.Logger) *EventPublisher {
	return &EventPublisher{bus: b, log: log}
}

// PostCreated publishes a post.created event.
func (p *EventPublisher) PostCreated(ctx context.Context, e events.PostCreated) {
	p.publish(ctx, e)
}

// PostDeleted publishes a post.deleted event.
func (p *EventPublisher) PostDeleted(ctx context.Context, e events.PostDeleted) {
	p.publish(ctx, e)
}

func (p *EventPublisher) publish(ctx context.Context, e bus.Event) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.bus.Publish(ctx, e.Topic(), e); err != nil {
		p.log.Error("event lost: publish failed", "topic", e.Topic(), "error", err)
		return
	}

	p.log.Info("event published", "topic", e.Topic())
}
