package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lumostream/socialcore/internal/bus"
)

const retryCountHeader = "x-retry-count"

// Publish serializes the event and sends it to the topic exchange without
// waiting for broker confirmation. If the connection is down it waits for the
// reconnect loop within the bounds of ctx; callers should pass a short deadline
// so request paths never block on broker I/O.
func (c *Client) Publish(ctx context.Context, topic string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("rabbitmq publish serialize: %w", errors.Join(bus.ErrSerializationFailed, err))
	}

	return c.publishBody(ctx, c.cfg.Exchange, topic, body, nil)
}

func (c *Client) publishBody(ctx context.Context, exchange, topic string, body []byte, headers amqp.Table) error {
	ch, err := c.channel(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq publish %q: %w", topic, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err = ch.PublishWithContext(ctx, exchange, topic, false, false, amqp.Publishing{
		ContentType: "application/json",
		Headers:     headers,
		Body:        body,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq publish %q: %w", topic, errors.Join(bus.ErrPublishFailed, err))
	}

	return nil
}

// channel waits for a usable channel or gives up when ctx expires or the client
// is closed.
func (c *Client) channel(ctx context.Context) (*amqp.Channel, error) {
	for {
		c.mu.Lock()
		ch := c.ch
		ready := c.ready
		c.mu.Unlock()

		if ch != nil {
			return ch, nil
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.closed:
			return nil, bus.ErrClosed
		}
	}
}

// Subscribe declares an exclusive auto-deleted queue bound to topic and consumes
// it on a background goroutine. The subscription survives reconnects and ends
// when ctx is canceled or the client closes.
func (c *Client) Subscribe(ctx context.Context, topic string, fn bus.Handler) error {
	sub := &subscription{ctx: ctx, topic: topic, fn: fn}

	c.subsMu.Lock()
	c.subs = append(c.subs, sub)
	c.subsMu.Unlock()

	if err := c.startConsumer(sub); err != nil {
		return fmt.Errorf("rabbitmq subscribe %q: %w", topic, errors.Join(bus.ErrSubscribeFailed, err))
	}

	return nil
}

func (c *Client) startConsumer(sub *subscription) error {
	ch, err := c.channel(sub.ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()

	if err := ch.Qos(c.cfg.Options.Prefetch, 0, false); err != nil {
		c.mu.Unlock()
		return err
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	if err := ch.QueueBind(q.Name, sub.topic, c.cfg.Exchange, false, nil); err != nil {
		c.mu.Unlock()
		return err
	}

	deliveries, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	c.mu.Unlock()

	if err != nil {
		return err
	}

	sub.setQueue(q.Name)

	go c.consume(sub, deliveries)

	return nil
}

func (c *Client) consume(sub *subscription, deliveries <-chan amqp.Delivery) {
	c.log.Info("subscribed", "topic", sub.topic)

	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-c.closed:
			return
		case d, ok := <-deliveries:
			if !ok {
				// Channel closed; the reconnect loop re-establishes the consumer.
				return
			}

			if !c.handlers.Enter() {
				// Shutdown began; leave the delivery unacked so the broker
				// requeues it when the connection drops.
				return
			}

			c.handle(sub, d)
			c.handlers.Leave()
		}
	}
}

// handle applies the handler-result protocol: ack on success, drop malformed
// payloads, republish with a bumped retry count on retryable failure, and route
// to the dead-letter exchange once the budget is spent. The original delivery is
// acknowledged in every branch so it is never left unacked forever.
func (c *Client) handle(sub *subscription, d amqp.Delivery) {
	err := sub.fn(sub.ctx, d.Body)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			c.log.Warn("ack failed", "topic", sub.topic, "error", ackErr)
		}

		return
	}

	attempts := retryCount(d.Headers)

	switch decide(err, attempts, c.cfg.Options.MaxRetries) {
	case actionDrop:
		c.log.Warn("dropping malformed event", "topic", sub.topic, "error", err)
	case actionRetry:
		c.log.Warn("handler failed, requeueing", "topic", sub.topic, "attempt", attempts+1, "error", err)

		// Retries go through the default exchange straight back to this
		// consumer's own queue. Republishing to the topic exchange would fan
		// the retry out to every subscriber of the routing key, and the retry
		// counter would be shared across consumers.
		headers := amqp.Table{retryCountHeader: int32(attempts + 1)}
		if pubErr := c.publish(sub.ctx, "", sub.queueName(), d.Body, headers); pubErr != nil {
			c.log.Error("requeue publish failed", "topic", sub.topic, "error", pubErr)

			if nackErr := d.Nack(false, true); nackErr != nil {
				c.log.Warn("nack failed", "topic", sub.topic, "error", nackErr)
			}

			return
		}
	case actionDeadLetter:
		c.log.Error("retry budget exhausted, dead-lettering", "topic", sub.topic, "attempts", attempts, "error", err)

		if pubErr := c.publish(sub.ctx, c.cfg.dlxExchange(), sub.topic, d.Body, d.Headers); pubErr != nil {
			c.log.Error("dead-letter publish failed", "topic", sub.topic, "error", pubErr)

			if nackErr := d.Nack(false, true); nackErr != nil {
				c.log.Warn("nack failed", "topic", sub.topic, "error", nackErr)
			}

			return
		}
	}

	if ackErr := d.Ack(false); ackErr != nil {
		c.log.Warn("ack failed", "topic", sub.topic, "error", ackErr)
	}
}

type action int

const (
	actionDrop action = iota
	actionRetry
	actionDeadLetter
)

// decide maps a handler error and the attempt count so far onto the retry
// policy. Malformed payloads are never retried.
func decide(err error, attempts, budget int) action {
	if errors.Is(err, bus.ErrMalformedPayload) {
		return actionDrop
	}

	if attempts < budget {
		return actionRetry
	}

	return actionDeadLetter
}

// retryCount extracts the retry counter from delivery headers; AMQP tables
// round-trip integers through several widths.
func retryCount(h amqp.Table) int {
	v, ok := h[retryCountHeader]
	if !ok {
		return 0
	}

	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	default:
		return 0
	}
}
