package content

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lumostream/socialcore/internal/bus"
	"github.com/lumostream/socialcore/internal/events"
)

// Consumer sweeps the cache on post lifecycle events. Mutations already
// invalidate inline; the consumer covers writes that happened in other
// processes sharing the same cache.
type Consumer struct {
	svc *Service
	log *slog.Logger
}

func NewConsumer(svc *Service, log *slog.Logger) *Consumer {
	return &Consumer{svc: svc, log: log}
}

// Subscribe registers the consumer on both post topics.
func (c *Consumer) Subscribe(ctx context.Context, sub bus.Subscriber) error {
	if err := sub.Subscribe(ctx, events.TopicPostCreated, c.handleCreated); err != nil {
		return fmt.Errorf("subscribe %s: %w", events.TopicPostCreated, err)
	}

	if err := sub.Subscribe(ctx, events.TopicPostDeleted, c.handleDeleted); err != nil {
		return fmt.Errorf("subscribe %s: %w", events.TopicPostDeleted, err)
	}

	return nil
}

func (c *Consumer) handleCreated(ctx context.Context, body []byte) error {
	e, err := events.DecodePostCreated(body)
	if err != nil {
		return err
	}

	return c.invalidate(ctx, e.PostID)
}

func (c *Consumer) handleDeleted(ctx context.Context, body []byte) error {
	e, err := events.DecodePostDeleted(body)
	if err != nil {
		return err
	}

	return c.invalidate(ctx, e.PostID)
}

func (c *Consumer) invalidate(ctx context.Context, postID string) error {
	if err := c.svc.InvalidateCache(ctx, postID); err != nil {
		return err
	}

	c.log.Debug("cache invalidated", "postId", postID)

	return nil
}
