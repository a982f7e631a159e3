/*
Package rabbitmq implements the broker contract over a RabbitMQ topic exchange.
One connection and channel are shared per process, re-established automatically
with backoff; consumers use exclusive auto-deleted queues with a prefetch bound,
bounded requeue on failure, and a durable dead-letter queue for terminal
failures.
*/
package rabbitmq
