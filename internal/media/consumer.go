package media

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lumostream/socialcore/internal/bus"
	"github.com/lumostream/socialcore/internal/events"
)

// Consumer cleans up the assets referenced by deleted posts. Objects
// are removed before their metadata records, so a failure mid-cleanup
// leaves records pointing at absent objects, and the redelivery that
// follows retries them without harm.
type Consumer struct {
	store   Store
	objects ObjectStorage
	log     *slog.Logger
}

func NewConsumer(store Store, objects ObjectStorage, log *slog.Logger) *Consumer {
	return &Consumer{store: store, objects: objects, log: log}
}

// Subscribe registers the consumer on the post deletion topic.
func (c *Consumer) Subscribe(ctx context.Context, sub bus.Subscriber) error {
	if err := sub.Subscribe(ctx, events.TopicPostDeleted, c.handleDeleted); err != nil {
		return fmt.Errorf("subscribe %s: %w", events.TopicPostDeleted, err)
	}

	return nil
}

func (c *Consumer) handleDeleted(ctx context.Context, body []byte) error {
	e, err := events.DecodePostDeleted(body)
	if err != nil {
		return err
	}

	if len(e.MediaIDs) == 0 {
		return nil
	}

	assets, err := c.store.FindByIDs(ctx, e.MediaIDs)
	if err != nil {
		return err
	}

	if len(assets) < len(e.MediaIDs) {
		c.log.Warn("some assets already gone",
			"postId", e.PostID, "referenced", len(e.MediaIDs), "found", len(assets))
	}

	for _, a := range assets {
		if err := c.objects.Remove(ctx, a.PublicID); err != nil {
			return fmt.Errorf("remove object %s: %w", a.PublicID, err)
		}

		if err := c.store.Delete(ctx, a.ID); err != nil {
			return fmt.Errorf("delete asset %s: %w", a.ID, err)
		}

		c.log.Debug("asset cleaned up", "assetId", a.ID, "postId", e.PostID)
	}

	return nil
}
