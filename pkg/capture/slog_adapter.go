package capture

import (
	"context"
	"log/slog"
)

// SlogAdapter writes events to an slog.Logger at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session", event.SessionID),
		slog.String("direction", event.Direction.String()),
		slog.String("kind", event.Kind.String()),
		slog.String("topic", event.Topic),
		slog.String("tag", formatTag(event.Tag)),
	}
	if event.PacketID != "" {
		attrs = append(attrs, slog.String("packet_id", event.PacketID))
	}
	if event.RSSI != nil {
		attrs = append(attrs, slog.Float64("rssi", *event.RSSI))
	}
	if event.SNR != nil {
		attrs = append(attrs, slog.Float64("snr", *event.SNR))
	}
	attrs = append(attrs, slog.Int("payload_size", len(event.Payload)))

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "capture", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
