/*
Package kafkabus implements the broker contract over Kafka via franz-go. Each
routing key is a topic; every subscription joins a fresh per-process consumer
group starting at the end of the log, mirroring the exclusive anonymous queues
of the RabbitMQ transport. Offsets are committed only after the handler
completes, and terminal failures are produced to a "dlq." topic.
*/
package kafkabus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/lumostream/socialcore/internal/bus"
)

const dlqPrefix = "dlq."

// Config holds the connection settings for the Kafka broker.
type Config struct {
	Brokers  []string
	ClientID string
	Options  bus.Options
}

// Client owns one produce-only kgo client; each subscription owns its own
// consumer client because topics and groups are fixed at construction in kgo.
type Client struct {
	cfg  Config
	opts bus.Options
	log  *slog.Logger

	producer *kgo.Client

	// deadLetter forwards terminally failed bodies; tests swap it to observe
	// dead-letter routing without a broker.
	deadLetter func(ctx context.Context, topic string, body []byte) error

	mu        sync.Mutex
	consumers []*kgo.Client

	handlers  bus.HandlerGroup
	closed    chan struct{}
	closeOnce sync.Once
}

var _ bus.Broker = (*Client)(nil)

// New builds the shared producer client. Broker reachability is verified with a
// bounded ping so a service without its event subsystem fails to start.
func New(cfg Config, log *slog.Logger) (*Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers required: %w", bus.ErrConnectFailed)
	}

	if log == nil {
		log = slog.Default()
	}

	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	producer, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client init: %w", errors.Join(bus.ErrConnectFailed, err))
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := producer.Ping(pingCtx); err != nil {
		producer.Close()
		return nil, fmt.Errorf("kafka ping: %w", errors.Join(bus.ErrConnectFailed, err))
	}

	c := &Client{
		cfg:      cfg,
		opts:     cfg.Options.Normalize(),
		log:      log,
		producer: producer,
		closed:   make(chan struct{}),
	}
	c.deadLetter = c.produceDeadLetter

	return c, nil
}

// Publish serializes the event and produces it synchronously to the topic.
func (c *Client) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka publish serialize: %w", errors.Join(bus.ErrSerializationFailed, err))
	}

	rec := &kgo.Record{Topic: topic, Value: data}

	if err := c.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("kafka publish %q: %w", topic, errors.Join(bus.ErrPublishFailed, err))
	}

	return nil
}

// Subscribe starts a dedicated consumer client for the topic.
func (c *Client) Subscribe(ctx context.Context, topic string, fn bus.Handler) error {
	group := fmt.Sprintf("%s-%s-%s", c.cfg.ClientID, topic, uuid.NewString())

	opts := []kgo.Opt{
		kgo.SeedBrokers(c.cfg.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup(group),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.DisableAutoCommit(),
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("kafka subscribe %q: %w", topic, errors.Join(bus.ErrSubscribeFailed, err))
	}

	c.mu.Lock()
	c.consumers = append(c.consumers, cl)
	c.mu.Unlock()

	go c.consume(ctx, cl, topic, fn)

	c.log.Info("subscribed", "topic", topic, "group", group)

	return nil
}

func (c *Client) consume(ctx context.Context, cl *kgo.Client, topic string, fn bus.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		default:
		}

		fetches := cl.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}

		fetches.EachError(func(t string, p int32, err error) {
			c.log.Warn("kafka fetch error", "topic", t, "partition", p, "error", err)
		})

		var done []*kgo.Record

		fetches.EachRecord(func(rec *kgo.Record) {
			if !c.handlers.Enter() {
				// Shutdown began; the record stays uncommitted.
				return
			}

			c.handle(ctx, topic, rec.Value, fn)
			c.handlers.Leave()

			done = append(done, rec)
		})

		if len(done) > 0 {
			if err := cl.CommitRecords(ctx, done...); err != nil {
				c.log.Warn("kafka commit failed", "topic", topic, "error", err)
			}
		}
	}
}

// handle retries in process up to the budget, then produces the body to the
// dead-letter topic through the deadLetter seam.
func (c *Client) handle(ctx context.Context, topic string, body []byte, fn bus.Handler) {
	bus.RunWithRetry(ctx, c.log, topic, body, fn, c.opts.MaxRetries, func(topic string, body []byte) error {
		return c.deadLetter(ctx, dlqPrefix+topic, body)
	})
}

// produceDeadLetter is the default deadLetter seam: a synchronous produce on
// the shared producer client.
func (c *Client) produceDeadLetter(ctx context.Context, topic string, body []byte) error {
	rec := &kgo.Record{Topic: topic, Value: body}

	return c.producer.ProduceSync(ctx, rec).FirstErr()
}

// Close stops consumers, waits for in-flight handlers up to the drain timeout,
// and closes the producer.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.mu.Lock()
		for _, cl := range c.consumers {
			cl.Close()
		}
		c.consumers = nil
		c.mu.Unlock()

		if !c.handlers.Drain(c.opts.DrainTimeout) {
			c.log.Warn("kafka drain timeout exceeded", "timeout", c.opts.DrainTimeout)
		}

		c.producer.Close()
	})

	return nil
}
