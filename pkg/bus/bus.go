package bus

import (
	"context"
	"errors"
	"time"
)

// Bus errors.
var (
	ErrClosed  = errors.New("bus client closed")
	ErrConnect = errors.New("bus connection failed")
)

// Message is a single message received from the bus.
type Message struct {
	// Topic is the concrete topic the message was published on.
	Topic string

	// Payload is the raw message body.
	Payload []byte

	// Received is when the transport handed the message to the dispatcher.
	Received time.Time
}

// Client is a connected publish/subscribe client.
type Client interface {
	// Subscribe adds a subscription for the given topic pattern. MQTT
	// wildcards ("+" and "#") are supported.
	Subscribe(ctx context.Context, pattern string) error

	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Listen attaches a new listener to the stream of subscribed messages.
	// The caller must Close the listener when done.
	Listen() *Listener

	// Close disconnects the client and closes all listeners.
	Close() error
}
