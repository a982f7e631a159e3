// Package media manages uploaded media assets: their metadata records
// and the stored objects behind them. Cleanup of orphaned assets is
// driven from the event bus.
package media

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an asset has no metadata record.
var ErrNotFound = errors.New("media: asset not found")

// Asset is the metadata record for one uploaded object. PublicID is
// the key of the stored object.
type Asset struct {
	ID           string    `bson:"_id" json:"id"`
	PublicID     string    `bson:"publicId" json:"publicId"`
	OriginalName string    `bson:"originalName" json:"originalName"`
	MimeType     string    `bson:"mimeType" json:"mimeType"`
	URL          string    `bson:"url" json:"url"`
	UserID       string    `bson:"userId" json:"userId"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
}

// Store holds asset metadata.
type Store interface {
	Save(ctx context.Context, a *Asset) error
	// FindByIDs returns the assets that exist among ids. Missing ids
	// are skipped, not reported as errors.
	FindByIDs(ctx context.Context, ids []string) ([]Asset, error)
	Delete(ctx context.Context, id string) error
}

// ObjectStorage stores the object bodies, keyed by Asset.PublicID.
type ObjectStorage interface {
	// Put uploads the object and returns its public URL.
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
	// Remove deletes the object. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}
