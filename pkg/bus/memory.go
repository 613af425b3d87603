package bus

import (
	"context"
	"slices"
	"sync"
)

// MemoryBus is an in-process broker. Messages published by any connected
// client are delivered synchronously to every client holding a matching
// subscription, including the publisher itself.
type MemoryBus struct {
	mu      sync.RWMutex
	clients map[*MemoryClient]struct{}
}

// NewMemoryBus creates an empty in-process broker.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		clients: make(map[*MemoryClient]struct{}),
	}
}

// Connect returns a new client attached to the bus.
func (b *MemoryBus) Connect() *MemoryClient {
	c := &MemoryClient{
		bus:  b,
		disp: NewDispatcher(0),
	}

	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()

	return c
}

func (b *MemoryBus) deliver(msg Message) {
	b.mu.RLock()
	targets := make([]*MemoryClient, 0, len(b.clients))
	for c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	for _, c := range targets {
		if c.matches(msg.Topic) {
			c.disp.Dispatch(Message{Topic: msg.Topic, Payload: slices.Clone(msg.Payload)})
		}
	}
}

func (b *MemoryBus) remove(c *MemoryClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, c)
}

// MemoryClient is a Client attached to a MemoryBus.
type MemoryClient struct {
	bus  *MemoryBus
	disp *Dispatcher

	mu         sync.RWMutex
	patterns   []string
	published  []Message
	publishErr error
	closed     bool
}

var _ Client = (*MemoryClient)(nil)

// Subscribe adds a subscription.
func (c *MemoryClient) Subscribe(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if !slices.Contains(c.patterns, pattern) {
		c.patterns = append(c.patterns, pattern)
	}
	return nil
}

// Publish delivers payload to all matching subscribers.
func (c *MemoryClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.publishErr != nil {
		err := c.publishErr
		c.mu.Unlock()
		return err
	}
	msg := Message{Topic: topic, Payload: slices.Clone(payload)}
	c.published = append(c.published, msg)
	c.mu.Unlock()

	c.bus.deliver(msg)
	return nil
}

// Listen attaches a listener to this client's subscribed messages.
func (c *MemoryClient) Listen() *Listener {
	return c.disp.Listen()
}

// Close detaches the client from the bus and closes its listeners.
func (c *MemoryClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.bus.remove(c)
	c.disp.Close()
	return nil
}

// Subscriptions returns the patterns this client subscribed to.
func (c *MemoryClient) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.patterns)
}

// Published returns the messages this client has published.
func (c *MemoryClient) Published() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.published)
}

// Listeners returns the number of attached listeners.
func (c *MemoryClient) Listeners() int {
	return c.disp.Len()
}

// FailPublish makes subsequent Publish calls return err. A nil err restores
// normal delivery.
func (c *MemoryClient) FailPublish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

func (c *MemoryClient) matches(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.patterns {
		if MatchTopic(p, topic) {
			return true
		}
	}
	return false
}
