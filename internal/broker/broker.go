// Package broker moves messages between this service and the rest of the
// marketplace. Delivery is at-least-once: a handler error means the message
// is delivered again.
package broker

import (
	"context"
	"errors"
)

var (
	ErrClosed       = errors.New("broker is closed")
	ErrQueueFull    = errors.New("broker queue is full")
	ErrNotConnected = errors.New("broker is not connected")
)

// Handler processes one message. Returning an error asks the broker to
// redeliver it.
type Handler func(ctx context.Context, msg Message) error

// MessageBroker is the transport used by the producer and consumer.
// Implementations: KafkaBroker, RabbitMQBroker and InMemoryBroker.
type MessageBroker interface {
	// Connect verifies the broker is reachable. It is called once at startup
	// and a failure there is fatal.
	Connect(ctx context.Context) error

	// Publish writes msg to msg.Topic.
	Publish(ctx context.Context, msg Message) error

	// Subscribe starts delivering messages from topic to handler in a
	// background goroutine, one message at a time. It returns a
	// subscription ID.
	Subscribe(topic string, handler Handler) (string, error)

	// Close stops all subscriptions and releases connections. Publish and
	// Subscribe fail with ErrClosed afterwards.
	Close() error
}
