// Package events defines the domain events exchanged between services and the
// validated decoding boundary for their JSON payloads. Events are
// self-contained: consumers never query the canonical store to process one.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lumostream/socialcore/internal/bus"
)

// Routing keys on the event exchange.
const (
	TopicPostCreated = "post.created"
	TopicPostDeleted = "post.deleted"
)

// PostCreated is emitted after a post is committed to the canonical store.
type PostCreated struct {
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func (PostCreated) Topic() string { return TopicPostCreated }

// PostDeleted is emitted after a post is removed from the canonical store.
// MediaIDs carries the asset references the media service must clean up.
type PostDeleted struct {
	PostID   string   `json:"postId"`
	UserID   string   `json:"userId"`
	MediaIDs []string `json:"mediaIds"`
}

func (PostDeleted) Topic() string { return TopicPostDeleted }

var (
	_ bus.Event = PostCreated{}
	_ bus.Event = PostDeleted{}
)

// DecodePostCreated parses and validates a PostCreated payload. Validation
// failures wrap bus.ErrMalformedPayload so consumer loops drop instead of
// retrying them.
func DecodePostCreated(body []byte) (PostCreated, error) {
	var e PostCreated
	if err := json.Unmarshal(body, &e); err != nil {
		return PostCreated{}, malformed("post.created", err)
	}

	if e.PostID == "" {
		return PostCreated{}, malformed("post.created", errors.New("missing postId"))
	}

	if e.UserID == "" {
		return PostCreated{}, malformed("post.created", errors.New("missing userId"))
	}

	return e, nil
}

// DecodePostDeleted parses and validates a PostDeleted payload.
func DecodePostDeleted(body []byte) (PostDeleted, error) {
	var e PostDeleted
	if err := json.Unmarshal(body, &e); err != nil {
		return PostDeleted{}, malformed("post.deleted", err)
	}

	if e.PostID == "" {
		return PostDeleted{}, malformed("post.deleted", errors.New("missing postId"))
	}

	return e, nil
}

func malformed(topic string, err error) error {
	return fmt.Errorf("decode %s: %w", topic, errors.Join(bus.ErrMalformedPayload, err))
}
