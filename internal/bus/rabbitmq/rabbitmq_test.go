package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lumostream/socialcore/internal/bus"
)

func TestDecide(t *testing.T) {
	malformed := fmt.Errorf("decode: %w", bus.ErrMalformedPayload)
	boom := errors.New("boom")

	cases := []struct {
		name     string
		err      error
		attempts int
		budget   int
		want     action
	}{
		{"malformed never retried", malformed, 0, 3, actionDrop},
		{"malformed after retries", malformed, 5, 3, actionDrop},
		{"first failure retries", boom, 0, 3, actionRetry},
		{"under budget retries", boom, 2, 3, actionRetry},
		{"budget spent dead-letters", boom, 3, 3, actionDeadLetter},
		{"zero budget dead-letters immediately", boom, 0, 0, actionDeadLetter},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := decide(tc.err, tc.attempts, tc.budget); got != tc.want {
				t.Fatalf("decide(%v, %d, %d) = %v, want %v", tc.err, tc.attempts, tc.budget, got, tc.want)
			}
		})
	}
}

func TestRetryCount(t *testing.T) {
	cases := []struct {
		name string
		h    amqp.Table
		want int
	}{
		{"missing header", amqp.Table{}, 0},
		{"nil table", nil, 0},
		{"int32", amqp.Table{retryCountHeader: int32(2)}, 2},
		{"int64", amqp.Table{retryCountHeader: int64(4)}, 4},
		{"int", amqp.Table{retryCountHeader: 1}, 1},
		{"unexpected type", amqp.Table{retryCountHeader: "3"}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := retryCount(tc.h); got != tc.want {
				t.Fatalf("retryCount(%v) = %d, want %d", tc.h, got, tc.want)
			}
		})
	}
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{URL: "amqp://localhost"}.normalize()

	if cfg.Exchange != "social.events" {
		t.Fatalf("exchange = %q", cfg.Exchange)
	}

	if cfg.dlxExchange() != "social.events.dlx" || cfg.dlqQueue() != "social.events.dlq" {
		t.Fatalf("dead-letter names: %q %q", cfg.dlxExchange(), cfg.dlqQueue())
	}

	if cfg.DialRetries != 5 {
		t.Fatalf("dial retries = %d", cfg.DialRetries)
	}

	if cfg.Options.Prefetch != bus.DefaultPrefetch || cfg.Options.MaxRetries != bus.DefaultMaxRetries {
		t.Fatalf("options = %+v", cfg.Options)
	}
}

func TestNextBackoff(t *testing.T) {
	if got := nextBackoff(time.Second); got != 2*time.Second {
		t.Fatalf("nextBackoff(1s) = %v", got)
	}

	if got := nextBackoff(maxBackoff); got != maxBackoff {
		t.Fatalf("nextBackoff(max) = %v", got)
	}
}

func TestNew_EmptyURL(t *testing.T) {
	_, err := New(Config{}, nil)
	if !errors.Is(err, bus.ErrConnectFailed) {
		t.Fatalf("want ErrConnectFailed, got %v", err)
	}
}

// recordingPublisher captures the consumer side's publishes.
type recordingPublisher struct {
	calls []publishCall
	err   error
}

type publishCall struct {
	exchange string
	key      string
	body     []byte
	headers  amqp.Table
}

func (r *recordingPublisher) publish(_ context.Context, exchange, key string, body []byte, headers amqp.Table) error {
	r.calls = append(r.calls, publishCall{exchange: exchange, key: key, body: body, headers: headers})

	return r.err
}

// fakeAcknowledger records ack/nack decisions on a delivery.
type fakeAcknowledger struct {
	acks     int
	nacks    int
	requeued bool
}

func (f *fakeAcknowledger) Ack(uint64, bool) error { f.acks++; return nil }

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacks++
	f.requeued = requeue

	return nil
}

func (f *fakeAcknowledger) Reject(uint64, bool) error { return nil }

func newHandleFixture(t *testing.T, pub *recordingPublisher, fn bus.Handler) (*Client, *subscription) {
	t.Helper()

	c := &Client{
		cfg: Config{URL: "amqp://localhost"}.normalize(),
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	c.publish = pub.publish

	sub := &subscription{ctx: context.Background(), topic: "post.created", fn: fn}
	sub.setQueue("amq.gen-consumer-1")

	return c, sub
}

func TestHandle_RetryGoesToOwnQueueOnly(t *testing.T) {
	pub := &recordingPublisher{}
	c, sub := newHandleFixture(t, pub, func(context.Context, []byte) error {
		return errors.New("transient")
	})

	ack := &fakeAcknowledger{}
	c.handle(sub, amqp.Delivery{Acknowledger: ack, Body: []byte(`{"postId":"p1"}`)})

	if len(pub.calls) != 1 {
		t.Fatalf("publishes = %d, want 1", len(pub.calls))
	}

	call := pub.calls[0]

	if call.exchange != "" {
		t.Fatalf("retry exchange = %q, want the default exchange", call.exchange)
	}

	if call.key != "amq.gen-consumer-1" {
		t.Fatalf("retry routing key = %q, want the consumer's queue", call.key)
	}

	if got := retryCount(call.headers); got != 1 {
		t.Fatalf("retry count = %d, want 1", got)
	}

	if ack.acks != 1 || ack.nacks != 0 {
		t.Fatalf("acks = %d nacks = %d", ack.acks, ack.nacks)
	}
}

func TestHandle_RetryFollowsQueueAcrossReconnect(t *testing.T) {
	pub := &recordingPublisher{}
	c, sub := newHandleFixture(t, pub, func(context.Context, []byte) error {
		return errors.New("transient")
	})

	sub.setQueue("amq.gen-consumer-2")

	c.handle(sub, amqp.Delivery{Acknowledger: &fakeAcknowledger{}, Body: []byte("{}")})

	if pub.calls[0].key != "amq.gen-consumer-2" {
		t.Fatalf("retry routing key = %q, want the redeclared queue", pub.calls[0].key)
	}
}

func TestHandle_DeadLetterKeepsTopicRouting(t *testing.T) {
	pub := &recordingPublisher{}
	c, sub := newHandleFixture(t, pub, func(context.Context, []byte) error {
		return errors.New("persistent")
	})

	ack := &fakeAcknowledger{}
	d := amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte("{}"),
		Headers:      amqp.Table{retryCountHeader: int32(c.cfg.Options.MaxRetries)},
	}

	c.handle(sub, d)

	if len(pub.calls) != 1 {
		t.Fatalf("publishes = %d, want 1", len(pub.calls))
	}

	call := pub.calls[0]

	if call.exchange != c.cfg.dlxExchange() {
		t.Fatalf("dead-letter exchange = %q, want %q", call.exchange, c.cfg.dlxExchange())
	}

	if call.key != sub.topic {
		t.Fatalf("dead-letter routing key = %q, want %q", call.key, sub.topic)
	}

	if ack.acks != 1 {
		t.Fatalf("acks = %d, want 1", ack.acks)
	}
}

func TestHandle_RequeuePublishFailureNacks(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("channel gone")}
	c, sub := newHandleFixture(t, pub, func(context.Context, []byte) error {
		return errors.New("transient")
	})

	ack := &fakeAcknowledger{}
	c.handle(sub, amqp.Delivery{Acknowledger: ack, Body: []byte("{}")})

	if ack.acks != 0 {
		t.Fatal("delivery must not be acked when the retry publish fails")
	}

	if ack.nacks != 1 || !ack.requeued {
		t.Fatalf("nacks = %d requeued = %v, want a requeueing nack", ack.nacks, ack.requeued)
	}
}

func TestHandle_MalformedAckedWithoutPublish(t *testing.T) {
	pub := &recordingPublisher{}
	c, sub := newHandleFixture(t, pub, func(context.Context, []byte) error {
		return fmt.Errorf("decode: %w", bus.ErrMalformedPayload)
	})

	ack := &fakeAcknowledger{}
	c.handle(sub, amqp.Delivery{Acknowledger: ack, Body: []byte("oops")})

	if len(pub.calls) != 0 {
		t.Fatalf("publishes = %d, want none", len(pub.calls))
	}

	if ack.acks != 1 {
		t.Fatalf("acks = %d, want 1", ack.acks)
	}
}

func TestHandle_SuccessAcks(t *testing.T) {
	pub := &recordingPublisher{}
	c, sub := newHandleFixture(t, pub, func(context.Context, []byte) error { return nil })

	ack := &fakeAcknowledger{}
	c.handle(sub, amqp.Delivery{Acknowledger: ack, Body: []byte("{}")})

	if len(pub.calls) != 0 || ack.acks != 1 {
		t.Fatalf("publishes = %d acks = %d", len(pub.calls), ack.acks)
	}
}
