package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service handles uploads: the object body goes to storage first, the
// metadata record second, so a crash in between leaves an unreferenced
// object rather than a dangling record.
type Service struct {
	store   Store
	objects ObjectStorage
	log     *slog.Logger
}

func NewService(store Store, objects ObjectStorage, log *slog.Logger) *Service {
	return &Service{store: store, objects: objects, log: log}
}

// Save uploads one asset and records its metadata.
func (s *Service) Save(ctx context.Context, userID, originalName, mimeType string, body []byte) (*Asset, error) {
	if userID == "" {
		return nil, errors.New("media: userID required")
	}

	if len(body) == 0 {
		return nil, errors.New("media: empty body")
	}

	a := &Asset{
		ID:           uuid.NewString(),
		PublicID:     uuid.NewString(),
		OriginalName: originalName,
		MimeType:     mimeType,
		UserID:       userID,
		CreatedAt:    time.Now().UTC(),
	}

	url, err := s.objects.Put(ctx, a.PublicID, mimeType, body)
	if err != nil {
		return nil, fmt.Errorf("store object for asset %s: %w", a.ID, err)
	}
	a.URL = url

	if err := s.store.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("save asset %s: %w", a.ID, err)
	}

	s.log.Info("asset saved", "assetId", a.ID, "userId", userID, "name", originalName)

	return a, nil
}

// Get returns the metadata records for the given asset ids.
func (s *Service) Get(ctx context.Context, ids []string) ([]Asset, error) {
	return s.store.FindByIDs(ctx, ids)
}
