package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultListenerBuffer is the default per-listener channel capacity.
const DefaultListenerBuffer = 256

// Dispatcher fans incoming messages out to attached listeners.
// It is safe for concurrent use.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	closed    bool

	bufSize int
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher whose listeners buffer up to bufSize
// messages. A non-positive bufSize selects DefaultListenerBuffer.
func NewDispatcher(bufSize int) *Dispatcher {
	if bufSize <= 0 {
		bufSize = DefaultListenerBuffer
	}
	return &Dispatcher{
		listeners: make(map[*Listener]struct{}),
		bufSize:   bufSize,
	}
}

// SetLogger sets the logger used to report dropped messages.
func (d *Dispatcher) SetLogger(logger *slog.Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger = logger
}

// Listen attaches a new listener. On a closed dispatcher the returned
// listener's channel is already closed.
func (d *Dispatcher) Listen() *Listener {
	l := &Listener{
		c: make(chan Message, d.bufSize),
		d: d,
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		close(l.c)
		l.detached = true
		return l
	}
	d.listeners[l] = struct{}{}
	return l
}

// Dispatch delivers msg to every attached listener without blocking.
// A zero msg.Received is set to the current time. Messages that do not fit
// a listener's buffer are dropped and counted on that listener.
func (d *Dispatcher) Dispatch(msg Message) {
	if msg.Received.IsZero() {
		msg.Received = time.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for l := range d.listeners {
		select {
		case l.c <- msg:
		default:
			n := l.dropped.Add(1)
			if d.logger != nil {
				d.logger.Warn("listener overflow, message dropped",
					"topic", msg.Topic, "dropped", n)
			}
		}
	}
}

// Len returns the number of attached listeners.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners)
}

// Close detaches and closes all listeners. Listen calls after Close return
// closed listeners.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	for l := range d.listeners {
		delete(d.listeners, l)
		l.detached = true
		close(l.c)
	}
}

func (d *Dispatcher) detach(l *Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if l.detached {
		return
	}
	l.detached = true
	delete(d.listeners, l)
	close(l.c)
}

// Listener receives messages from a Dispatcher.
type Listener struct {
	c chan Message
	d *Dispatcher

	// detached is guarded by d.mu.
	detached bool
	dropped  atomic.Uint64
}

// C returns the message channel. It is closed when the listener is
// closed or the owning client shuts down.
func (l *Listener) C() <-chan Message {
	return l.c
}

// Close detaches the listener. It is safe to call Close multiple times.
func (l *Listener) Close() {
	l.d.detach(l)
}

// Dropped returns the number of messages dropped because the listener's
// buffer was full.
func (l *Listener) Dropped() uint64 {
	return l.dropped.Load()
}
