package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lumostream/socialcore/internal/bus"
)

const (
	exchangeType = "topic"

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Config holds the connection settings for the RabbitMQ broker.
type Config struct {
	URL         string
	Exchange    string
	ConnTimeout time.Duration
	// DialRetries is the number of startup connection attempts before New gives
	// up. A service that cannot reach its broker at startup must not start.
	DialRetries int
	Options     bus.Options
}

func (c Config) normalize() Config {
	if c.Exchange == "" {
		c.Exchange = "social.events"
	}

	if c.ConnTimeout <= 0 {
		c.ConnTimeout = 10 * time.Second
	}

	if c.DialRetries <= 0 {
		c.DialRetries = 5
	}

	c.Options = c.Options.Normalize()

	return c
}

func (c Config) dlxExchange() string { return c.Exchange + ".dlx" }
func (c Config) dlqQueue() string    { return c.Exchange + ".dlq" }

// Client owns one AMQP connection and one channel for the whole process.
// Channel access is serialized through mu; concurrent unsynchronized use of a
// single AMQP channel is unsafe.
type Client struct {
	cfg Config
	log *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	ready chan struct{} // closed while a channel is usable

	closed    chan struct{}
	closeOnce sync.Once

	subsMu sync.Mutex
	subs   []*subscription

	handlers bus.HandlerGroup

	// publish is the transport seam used by the consumer side; tests swap it
	// to inspect retry and dead-letter routing without a broker.
	publish func(ctx context.Context, exchange, key string, body []byte, headers amqp.Table) error
}

// subscription is one live topic binding. queue is the name of its current
// exclusive queue; it changes on every reconnect.
type subscription struct {
	ctx   context.Context
	topic string
	fn    bus.Handler

	mu    sync.Mutex
	queue string
}

func (s *subscription) setQueue(name string) {
	s.mu.Lock()
	s.queue = name
	s.mu.Unlock()
}

func (s *subscription) queueName() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queue
}

var _ bus.Broker = (*Client)(nil)

// New dials the broker, declares the topic exchange and dead-letter topology,
// and starts the reconnect monitor. Startup retries are bounded: exhausting them
// returns an error wrapping bus.ErrConnectFailed and the caller must treat it as
// fatal.
func New(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rabbitmq: url required: %w", bus.ErrConnectFailed)
	}

	if log == nil {
		log = slog.Default()
	}

	c := &Client{
		cfg:    cfg.normalize(),
		log:    log,
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	c.publish = c.publishBody

	backoff := initialBackoff

	var lastErr error

	for attempt := 0; attempt < c.cfg.DialRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)

			backoff = nextBackoff(backoff)
		}

		conn, ch, err := c.dial()
		if err != nil {
			lastErr = err
			c.log.Warn("rabbitmq connect failed", "attempt", attempt+1, "error", err)

			continue
		}

		c.install(conn, ch)
		go c.run()

		return c, nil
	}

	return nil, fmt.Errorf("rabbitmq connect after %d attempts: %w",
		c.cfg.DialRetries, errors.Join(bus.ErrConnectFailed, lastErr))
}

func (c *Client) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(c.cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "socialcore"},
		Dial:       amqp.DefaultDial(c.cfg.ConnTimeout),
	})
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	if err := declareTopology(ch, c.cfg); err != nil {
		_ = ch.Close()
		_ = conn.Close()

		return nil, nil, err
	}

	return conn, ch, nil
}

// declareTopology asserts the event exchange and the dead-letter exchange/queue.
// The event exchange is non-durable: broker restart loses topology and unrouted
// messages, and derived stores are rebuilt from the canonical store. The
// dead-letter side is durable so terminally failed messages survive restarts.
func declareTopology(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, exchangeType, false, false, false, false, nil); err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(cfg.dlxExchange(), "fanout", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := ch.QueueDeclare(cfg.dlqQueue(), true, false, false, false, nil)
	if err != nil {
		return err
	}

	return ch.QueueBind(q.Name, "#", cfg.dlxExchange(), false, nil)
}

func (c *Client) install(conn *amqp.Connection, ch *amqp.Channel) {
	c.mu.Lock()
	c.conn = conn
	c.ch = ch

	select {
	case <-c.ready:
		// already signalled; leave closed
	default:
		close(c.ready)
	}
	c.mu.Unlock()
}

// run blocks on connection close notifications and re-establishes the
// connection, topology, and every live subscription with backoff and jitter.
func (c *Client) run() {
	// #nosec G404 -- non-crypto RNG for backoff jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		notify := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.closed:
			return
		case amqpErr := <-notify:
			c.mu.Lock()
			c.ready = make(chan struct{})
			c.ch = nil
			c.conn = nil
			c.mu.Unlock()

			if amqpErr != nil {
				c.log.Warn("rabbitmq connection lost", "error", amqpErr)
			}
		}

		backoff := initialBackoff

		for {
			select {
			case <-c.closed:
				return
			default:
			}

			conn, ch, err := c.dial()
			if err != nil {
				jitter := time.Duration(rng.Int63n(int64(backoff / 2)))
				sleep := backoff + jitter

				t := time.NewTimer(sleep)
				select {
				case <-c.closed:
					t.Stop()
					return
				case <-t.C:
				}

				backoff = nextBackoff(backoff)

				continue
			}

			c.install(conn, ch)
			c.log.Info("rabbitmq reconnected")
			c.resubscribeAll()

			break
		}
	}
}

func (c *Client) resubscribeAll() {
	c.subsMu.Lock()
	subs := append([]*subscription(nil), c.subs...)
	c.subsMu.Unlock()

	for _, sub := range subs {
		if sub.ctx.Err() != nil {
			continue
		}

		if err := c.startConsumer(sub); err != nil {
			c.log.Error("rabbitmq resubscribe failed", "topic", sub.topic, "error", err)
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}

	return d
}

// Close stops intake, waits up to the drain timeout for in-flight handlers, then
// closes the channel and connection. Deliveries still unacknowledged at that
// point are requeued by the broker when the connection drops.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)

		if !c.handlers.Drain(c.cfg.Options.DrainTimeout) {
			c.log.Warn("rabbitmq drain timeout exceeded", "timeout", c.cfg.Options.DrainTimeout)
		}

		c.mu.Lock()
		if c.ch != nil {
			_ = c.ch.Close()
			c.ch = nil
		}

		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
	})

	return nil
}
