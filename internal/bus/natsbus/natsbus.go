/*
Package natsbus implements the broker contract over core NATS subjects. Routing
keys map directly to subjects. Core NATS has no broker-side redelivery, so the
retry budget is applied in process and terminal failures are mirrored to a
"dlq." subject instead of a broker dead-letter queue.
*/
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lumostream/socialcore/internal/bus"
)

const dlqPrefix = "dlq."

// Config holds the connection settings for the NATS broker.
type Config struct {
	URL         string
	Name        string
	ConnTimeout time.Duration
	Options     bus.Options
}

// Client owns one NATS connection per process. The nats.go library handles its
// own write serialization and reconnects.
type Client struct {
	cfg  Config
	opts bus.Options
	log  *slog.Logger

	nc *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription

	handlers  bus.HandlerGroup
	closed    chan struct{}
	closeOnce sync.Once
}

var _ bus.Broker = (*Client)(nil)

// New connects to NATS with unlimited reconnects after a successful initial
// dial. An unreachable broker at startup is a fatal constructor error.
func New(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats: url required: %w", bus.ErrConnectFailed)
	}

	if log == nil {
		log = slog.Default()
	}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, errors.Join(bus.ErrConnectFailed, err))
	}

	return &Client{
		cfg:    cfg,
		opts:   cfg.Options.Normalize(),
		log:    log,
		nc:     nc,
		closed: make(chan struct{}),
	}, nil
}

// Publish serializes the event and sends it fire-and-forget.
func (c *Client) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("nats publish serialize: %w", errors.Join(bus.ErrSerializationFailed, err))
	}

	if err := c.nc.Publish(topic, data); err != nil {
		return fmt.Errorf("nats publish %q: %w", topic, errors.Join(bus.ErrPublishFailed, err))
	}

	return nil
}

// Subscribe consumes the subject on a background goroutine. The delivery channel
// is buffered at the prefetch limit and messages are processed one at a time, so
// in-flight work per subscription stays bounded.
func (c *Client) Subscribe(ctx context.Context, topic string, fn bus.Handler) error {
	ch := make(chan *nats.Msg, c.opts.Prefetch)

	sub, err := c.nc.ChanSubscribe(topic, ch)
	if err != nil {
		return fmt.Errorf("nats subscribe %q: %w", topic, errors.Join(bus.ErrSubscribeFailed, err))
	}

	// Flush so the subscription is registered server-side before returning.
	if err := c.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("nats subscribe flush %q: %w", topic, errors.Join(bus.ErrSubscribeFailed, err))
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	go c.consume(ctx, topic, ch, fn)

	c.log.Info("subscribed", "topic", topic)

	return nil
}

func (c *Client) consume(ctx context.Context, topic string, ch <-chan *nats.Msg, fn bus.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			if !c.handlers.Enter() {
				return
			}

			c.handle(ctx, topic, msg.Data, fn)
			c.handlers.Leave()
		}
	}
}

// handle retries in process up to the budget. A terminally failed body is
// republished on the dlq. subject so an operator can inspect it.
func (c *Client) handle(ctx context.Context, topic string, body []byte, fn bus.Handler) {
	bus.RunWithRetry(ctx, c.log, topic, body, fn, c.opts.MaxRetries, func(topic string, body []byte) error {
		return c.nc.Publish(dlqPrefix+topic, body)
	})
}

// Close unsubscribes, waits for in-flight handlers up to the drain timeout, and
// closes the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.mu.Lock()
		for _, sub := range c.subs {
			_ = sub.Unsubscribe()
		}
		c.subs = nil
		c.mu.Unlock()

		if !c.handlers.Drain(c.opts.DrainTimeout) {
			c.log.Warn("nats drain timeout exceeded", "timeout", c.opts.DrainTimeout)
		}

		// Every subscription is unsubscribed and all handlers have finished,
		// so there is nothing left for a connection-level drain to flush.
		if !c.nc.IsClosed() {
			c.nc.Close()
		}
	})

	return nil
}
