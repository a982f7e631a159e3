// Package cache provides the read-through cache in front of the canonical post
// store: the key namespace, TTLs, and a Redis-backed implementation. Cache
// failures are fail-open by contract — callers log and fall through to the
// canonical store, never failing the triggering request.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Key namespace. Item keys hold one serialized post; list keys hold one page of
// the listing. Any mutation deletes the item key and sweeps every list key,
// because an insert or delete shifts every page boundary.
const (
	ItemTTL = time.Hour
	ListTTL = 5 * time.Minute

	ListPattern = "posts:*"
)

// ItemKey is the cache key for a single post.
func ItemKey(id string) string { return "post:" + id }

// ListKey is the cache key for one page of the post listing.
func ListKey(page, limit int) string { return fmt.Sprintf("posts:%d:%d", page, limit) }

// ErrMiss reports that a key is absent. A miss is the normal cold-read path,
// not a failure.
var ErrMiss = errMiss{}

type errMiss struct{}

func (errMiss) Error() string { return "cache: miss" }

// Cache is a byte-oriented key/value store with TTLs and pattern deletion.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes the given keys; absent keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// DeleteMatching removes every key matching pattern; zero matches is not an
	// error.
	DeleteMatching(ctx context.Context, pattern string) error
}
