package capture

// Logger receives capture events.
// Pass NoopLogger to disable capturing.
type Logger interface {
	// Log records an event. Implementations must be thread-safe and must not
	// block for long; the probe engine calls Log while an attempt is running.
	Log(event Event)
}

// NoopLogger discards all events. It is usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}
