// Package content owns the canonical post store and the mutation path that
// fans out domain events and keeps the read-path cache consistent.
package content

import (
	"context"
	"errors"
	"time"
)

// Post is the canonical record; every derived store is computed from it.
type Post struct {
	ID        string    `bson:"_id" json:"id"`
	UserID    string    `bson:"userId" json:"userId"`
	Content   string    `bson:"content" json:"content"`
	MediaIDs  []string  `bson:"mediaIds" json:"mediaIds"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// Page is one page of the post listing plus paging metadata.
type Page struct {
	Posts       []Post `json:"posts"`
	CurrentPage int    `json:"currentPage"`
	TotalPages  int    `json:"totalPages"`
	TotalPosts  int64  `json:"totalPosts"`
}

// ErrNotFound reports that no post matched the lookup (or that the caller does
// not own it, on the delete path).
var ErrNotFound = errors.New("content: post not found")

// Store is the canonical post store.
type Store interface {
	Insert(ctx context.Context, p *Post) error
	FindByID(ctx context.Context, id string) (*Post, error)
	// FindPage returns the posts for a page ordered by creation time, plus the
	// total number of posts.
	FindPage(ctx context.Context, page, limit int) ([]Post, int64, error)
	// DeleteOwned removes the post only if userID owns it and returns the
	// removed record, so the caller can publish its media references.
	DeleteOwned(ctx context.Context, id, userID string) (*Post, error)
}
