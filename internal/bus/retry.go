package bus

import (
	"context"
	"errors"
	"log/slog"
)

// DeadLetterFunc forwards a terminally failed body to the transport's
// dead-letter destination for the topic.
type DeadLetterFunc func(topic string, body []byte) error

// RunWithRetry applies the handler-result protocol for transports without
// broker-side redelivery: run fn against body, retry in process up to budget
// additional attempts on retryable errors, drop malformed payloads, and hand
// a terminal failure to dlq once. A dead-letter failure is logged; the message
// is lost at that point on these transports.
func RunWithRetry(ctx context.Context, log *slog.Logger, topic string, body []byte, fn Handler, budget int, dlq DeadLetterFunc) {
	var attempts int

	for {
		err := fn(ctx, body)
		if err == nil {
			return
		}

		if errors.Is(err, ErrMalformedPayload) {
			log.Warn("dropping malformed event", "topic", topic, "error", err)
			return
		}

		if attempts >= budget {
			log.Error("retry budget exhausted, dead-lettering", "topic", topic, "attempts", attempts+1, "error", err)

			if dlqErr := dlq(topic, body); dlqErr != nil {
				log.Error("dead-letter publish failed", "topic", topic, "error", dlqErr)
			}

			return
		}

		attempts++
		log.Warn("handler failed, retrying", "topic", topic, "attempt", attempts, "error", err)
	}
}
