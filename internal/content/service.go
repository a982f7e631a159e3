package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lumostream/socialcore/internal/cache"
	"github.com/lumostream/socialcore/internal/events"
)

const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100
)

// Service is the mutation and read path for posts. Mutations follow
// write-then-publish ordering: the canonical write commits first, then the
// domain event is published, then cache entries are invalidated. There is no
// transaction spanning these steps; a crash between them loses the event.
type Service struct {
	store Store
	cache cache.Cache
	pub   *EventPublisher
	log   *slog.Logger
}

// NewService wires the canonical store, cache, and event publisher.
func NewService(store Store, c cache.Cache, pub *EventPublisher, log *slog.Logger) *Service {
	return &Service{store: store, cache: c, pub: pub, log: log}
}

// Create inserts a post, publishes post.created, and invalidates the cache.
// Publish and invalidation failures degrade freshness but never fail the
// mutation once the canonical write committed.
func (s *Service) Create(ctx context.Context, userID, content string, mediaIDs []string) (*Post, error) {
	if userID == "" {
		return nil, errors.New("content: userID required")
	}

	if mediaIDs == nil {
		mediaIDs = []string{}
	}

	post := &Post{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   content,
		MediaIDs:  mediaIDs,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.Insert(ctx, post); err != nil {
		return nil, err
	}

	s.pub.PostCreated(ctx, events.PostCreated{
		PostID:    post.ID,
		UserID:    post.UserID,
		Content:   post.Content,
		CreatedAt: post.CreatedAt,
	})

	s.invalidate(ctx, post.ID)

	return post, nil
}

// Delete removes a post owned by userID, publishes post.deleted with the
// post's media references, and invalidates the cache.
func (s *Service) Delete(ctx context.Context, id, userID string) (*Post, error) {
	post, err := s.store.DeleteOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	s.pub.PostDeleted(ctx, events.PostDeleted{
		PostID:   post.ID,
		UserID:   userID,
		MediaIDs: post.MediaIDs,
	})

	s.invalidate(ctx, id)

	return post, nil
}

// Get reads one post through the cache (TTL one hour).
func (s *Service) Get(ctx context.Context, id string) (*Post, error) {
	key := cache.ItemKey(id)

	if cached, ok := s.cacheGet(ctx, key); ok {
		var p Post
		if err := json.Unmarshal(cached, &p); err == nil {
			return &p, nil
		}

		s.log.Warn("discarding undecodable cache entry", "key", key)
	}

	post, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, key, post, cache.ItemTTL)

	return post, nil
}

// List reads one listing page through the cache (TTL five minutes).
func (s *Service) List(ctx context.Context, page, limit int) (*Page, error) {
	if page < 1 {
		page = defaultPage
	}

	if limit < 1 {
		limit = defaultLimit
	}

	if limit > maxLimit {
		limit = maxLimit
	}

	key := cache.ListKey(page, limit)

	if cached, ok := s.cacheGet(ctx, key); ok {
		var p Page
		if err := json.Unmarshal(cached, &p); err == nil {
			return &p, nil
		}

		s.log.Warn("discarding undecodable cache entry", "key", key)
	}

	posts, total, err := s.store.FindPage(ctx, page, limit)
	if err != nil {
		return nil, err
	}

	if posts == nil {
		posts = []Post{}
	}

	result := &Page{
		Posts:       posts,
		CurrentPage: page,
		TotalPages:  int((total + int64(limit) - 1) / int64(limit)),
		TotalPosts:  total,
	}

	s.cacheSet(ctx, key, result, cache.ListTTL)

	return result, nil
}

// InvalidateCache removes the item key for id and sweeps every listing key.
// Partial invalidation of individual pages is unsafe because a mutation shifts
// every page boundary.
func (s *Service) InvalidateCache(ctx context.Context, id string) error {
	if err := s.cache.Delete(ctx, cache.ItemKey(id)); err != nil {
		return fmt.Errorf("invalidate %s: %w", id, err)
	}

	if err := s.cache.DeleteMatching(ctx, cache.ListPattern); err != nil {
		return fmt.Errorf("invalidate listings: %w", err)
	}

	return nil
}

func (s *Service) invalidate(ctx context.Context, id string) {
	if err := s.InvalidateCache(ctx, id); err != nil {
		// Fail open: stale entries expire by TTL at worst.
		s.log.Warn("cache invalidation failed", "post", id, "error", err)
	}
}

// cacheGet reads a key, treating misses and cache errors the same way: fall
// through to the canonical store. Only real errors are logged.
func (s *Service) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	val, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.log.Warn("cache read failed", "key", key, "error", err)
		}

		return nil, false
	}

	return val, true
}

func (s *Service) cacheSet(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("cache encode failed", "key", key, "error", err)
		return
	}

	if err := s.cache.Set(ctx, key, data, ttl); err != nil {
		s.log.Warn("cache write failed", "key", key, "error", err)
	}
}
