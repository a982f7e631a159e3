/*
Package inmemory implements the broker contract in process memory with AMQP
topic-pattern matching, the same bounded-retry handler protocol as the RabbitMQ
adapter, and recorded dead letters. It backs tests and local development.
*/
package inmemory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lumostream/socialcore/internal/bus"
)

// Message is a published payload as recorded by the broker.
type Message struct {
	Topic string
	Body  []byte
}

// DeadLetter is a message whose handler exhausted the retry budget.
type DeadLetter struct {
	Topic    string
	Body     []byte
	Attempts int
}

// Broker is a thread-safe in-memory bus.Broker. Deliveries happen synchronously
// in the publishing goroutine, which keeps tests deterministic.
type Broker struct {
	opts bus.Options

	mu        sync.Mutex
	subs      []*subscription
	published []Message
	dead      []DeadLetter
	closed    bool
}

type subscription struct {
	ctx     context.Context
	pattern string
	fn      bus.Handler
}

var _ bus.Broker = (*Broker)(nil)

// New creates an in-memory broker with the given consumption options.
func New(opts bus.Options) *Broker {
	return &Broker{opts: opts.Normalize()}
}

// Publish serializes the event and delivers it to every matching subscription.
// Zero matching subscriptions is a valid fan-out and not an error.
func (b *Broker) Publish(ctx context.Context, topic string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("inmemory publish serialize: %w", errors.Join(bus.ErrSerializationFailed, err))
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return bus.ErrClosed
	}

	b.published = append(b.published, Message{Topic: topic, Body: body})
	subs := append([]*subscription(nil), b.subs...)
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.ctx.Err() != nil || !matchTopic(sub.pattern, topic) {
			continue
		}

		b.deliver(sub, topic, body)
	}

	return nil
}

// deliver runs the handler with redelivery up to the retry budget, then records
// a dead letter. Malformed payloads are dropped without retry.
func (b *Broker) deliver(sub *subscription, topic string, body []byte) {
	var attempts int

	for {
		err := sub.fn(sub.ctx, body)
		if err == nil {
			return
		}

		if errors.Is(err, bus.ErrMalformedPayload) {
			return
		}

		if attempts >= b.opts.MaxRetries {
			b.mu.Lock()
			b.dead = append(b.dead, DeadLetter{Topic: topic, Body: body, Attempts: attempts + 1})
			b.mu.Unlock()

			return
		}

		attempts++
	}
}

// Subscribe registers a handler for a topic pattern ("*" matches one word, "#"
// matches zero or more).
func (b *Broker) Subscribe(ctx context.Context, topic string, fn bus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("inmemory subscribe %q: %w", topic, bus.ErrClosed)
	}

	b.subs = append(b.subs, &subscription{ctx: ctx, pattern: topic, fn: fn})

	return nil
}

// Close stops accepting publishes and subscriptions.
func (b *Broker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subs = nil
	b.mu.Unlock()

	return nil
}

// Published returns a copy of everything published so far.
func (b *Broker) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]Message(nil), b.published...)
}

// DeadLetters returns a copy of the dead-lettered messages.
func (b *Broker) DeadLetters() []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]DeadLetter(nil), b.dead...)
}

// matchTopic implements AMQP topic-exchange matching for dot-separated keys.
func matchTopic(pattern, topic string) bool {
	return matchParts(strings.Split(pattern, "."), strings.Split(topic, "."))
}

func matchParts(pattern, topic []string) bool {
	if len(pattern) == 0 {
		return len(topic) == 0
	}

	switch pattern[0] {
	case "#":
		if matchParts(pattern[1:], topic) {
			return true
		}

		return len(topic) > 0 && matchParts(pattern, topic[1:])
	case "*":
		return len(topic) > 0 && matchParts(pattern[1:], topic[1:])
	default:
		return len(topic) > 0 && pattern[0] == topic[0] && matchParts(pattern[1:], topic[1:])
	}
}
