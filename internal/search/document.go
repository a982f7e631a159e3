// Package search maintains a full-text index of posts, fed
// asynchronously from the event bus.
package search

import (
	"context"
	"time"
)

// Document is one indexed post. PostID is the natural key so that
// redelivered events overwrite instead of duplicating.
type Document struct {
	PostID    string    `bson:"postId" json:"postId"`
	UserID    string    `bson:"userId" json:"userId"`
	Content   string    `bson:"content" json:"content"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	Score     float64   `bson:"score,omitempty" json:"score,omitempty"`
}

// Store is the index backing the search service.
type Store interface {
	// Index inserts or replaces the document keyed by PostID.
	Index(ctx context.Context, doc Document) error
	// Remove deletes the document for the given post. Removing an
	// absent document is not an error.
	Remove(ctx context.Context, postID string) error
	// Search runs a full-text query, best matches first.
	Search(ctx context.Context, query string) ([]Document, error)
}
