package bus

import (
	"context"
	"time"
)

// Event is a payload destined for the broker. Topic() guides exchange-side routing.
type Event interface{ Topic() string }

// Handler processes one delivered message body. Returning nil acknowledges the
// delivery. Returning an error wrapping ErrMalformedPayload acknowledges and drops
// the message without retry. Any other error triggers the adapter's retry policy.
//
// Handlers must be idempotent: delivery is at-least-once on every transport.
type Handler func(ctx context.Context, body []byte) error

// Publisher publishes events to a topic. Publishing is fire-and-forget: no broker
// acknowledgment is awaited, and the caller decides whether a failure is fatal.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

// Subscriber binds a process-exclusive queue to a topic and consumes it on a
// background goroutine until the broker is closed or ctx is canceled.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, fn Handler) error
}

// Broker combines publishing and subscribing over one shared connection.
// Close stops intake, drains in-flight handlers, and releases the connection.
type Broker interface {
	Publisher
	Subscriber
	Close() error
}

// Default consumption limits shared by the adapters.
const (
	DefaultPrefetch     = 16
	DefaultMaxRetries   = 3
	DefaultDrainTimeout = 15 * time.Second
)

// Options bounds consumer-side resource usage.
// Prefetch caps in-flight deliveries per subscription; MaxRetries is the number of
// additional attempts after the first failure before a message is dead-lettered.
type Options struct {
	Prefetch     int
	MaxRetries   int
	DrainTimeout time.Duration
}

// Normalize returns a copy of o with unset values replaced by defaults.
// MaxRetries zero means unset; pass a negative value to disable retries.
func (o Options) Normalize() Options {
	if o.Prefetch <= 0 {
		o.Prefetch = DefaultPrefetch
	}

	switch {
	case o.MaxRetries == 0:
		o.MaxRetries = DefaultMaxRetries
	case o.MaxRetries < 0:
		o.MaxRetries = 0
	}

	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}

	return o
}
