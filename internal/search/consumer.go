package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lumostream/socialcore/internal/bus"
	"github.com/lumostream/socialcore/internal/events"
)

// Consumer applies post lifecycle events to the search index.
// Handlers are idempotent, so redeliveries of the same event
// converge on the same index state.
type Consumer struct {
	store Store
	log   *slog.Logger
}

func NewConsumer(store Store, log *slog.Logger) *Consumer {
	return &Consumer{store: store, log: log}
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

	doc := Document{
		PostID:    e.PostID,
		UserID:    e.UserID,
		Content:   e.Content,
		CreatedAt: e.CreatedAt,
	}

	if err := c.store.Index(ctx, doc); err != nil {
		return err
	}

	c.log.Debug("post indexed", "postId", e.PostID)

	return nil
}

func (c *Consumer) handleDeleted(ctx context.Context, body []byte) error {
	e, err := events.DecodePostDeleted(body)
	if err != nil {
		return err
	}

	if err := c.store.Remove(ctx, e.PostID); err != nil {
		return err
	}

	c.log.Debug("post removed from index", "postId", e.PostID)

	return nil
}
