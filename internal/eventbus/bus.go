package eventbus

import "context"

// Handler processes one envelope. Returning a non-nil error means the
// record is not acknowledged or committed and will be redelivered on a
// later poll.
type Handler func(ctx context.Context, env Envelope) error

// Subscription is a live registration returned by Subscribe; call
// Unsubscribe to stop receiving and release resources.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the control plane's event log abstraction: topic-partitioned
// (by Key), durable, delivered at least once, with consumer groups and
// manual-commit semantics.
//
// Two implementations are provided: memorybus (in-process, used in
// tests and single-node mode) and jetstream (durable, NATS-backed,
// used in production, with streams and durable consumers standing in
// for Kafka bootstrap servers and consumer groups).
type Bus interface {
	// Publish appends env to topic, partitioned by key, and returns
	// only once a durable ack has been observed.
	Publish(ctx context.Context, topic string, env Envelope) error

	// Subscribe registers handler under consumer group on topic,
	// optionally filtered to eventTypes (empty/nil means all types).
	// Poll batches are bounded to at most maxPollBatch records.
	Subscribe(topic, group string, eventTypes []string, handler Handler) (Subscription, error)

	// Close releases all resources and stops all consumers.
	Close() error
}

// maxHandlerRetries is the default number of failed delivery attempts
// after which a record is redirected to dead.letter.
const maxHandlerRetries = 3

// maxPollBatch bounds how many records a consumer pulls per poll.
const maxPollBatch = 50
