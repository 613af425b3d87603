// Package commands implements the meshprobe-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/meshprobe/meshprobe-go/pkg/capture"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

// ViewOptions controls the view command.
type ViewOptions struct {
	Filter capture.Filter

	// Payload prints the raw message body below each event.
	Payload bool
}

// RunView prints the events of the capture file at path.
func RunView(path string, opts ViewOptions, w io.Writer) error {
	reader, err := capture.NewFilteredReader(path, opts.Filter)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event, opts.Payload)
	}
}

// formatEvent writes one event:
//
//	2024-05-01T12:00:00.000000Z [session:1b4e28ba] OUT PROBE     tag=0000000a msh/EU_868/2/json/mqtt/!00000001
//	2024-05-01T12:00:00.412000Z [session:1b4e28ba] IN  RX_REPORT tag=0000000a id=0000beef rssi=-80 snr=7.5 msh/...
func formatEvent(w io.Writer, event capture.Event, payload bool) {
	fmt.Fprintf(w, "%s [session:%s] %-3s %-9s tag=%08x",
		event.Timestamp.UTC().Format(timeLayout),
		shortenSessionID(event.SessionID),
		event.Direction,
		event.Kind,
		event.Tag)
	if event.PacketID != "" {
		fmt.Fprintf(w, " id=%s", event.PacketID)
	}
	if event.RSSI != nil {
		fmt.Fprintf(w, " rssi=%s", formatFloat(*event.RSSI))
	}
	if event.SNR != nil {
		fmt.Fprintf(w, " snr=%s", formatFloat(*event.SNR))
	}
	fmt.Fprintf(w, " %s\n", event.Topic)

	if payload && len(event.Payload) > 0 {
		fmt.Fprintf(w, "  %s\n", event.Payload)
	}
}

// shortenSessionID returns the first 8 characters of the session ID.
func shortenSessionID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseTimeFlag parses an RFC 3339 time flag value.
func ParseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return &t, nil
}

// BuildFilter builds a capture filter from flag values. Empty values match
// everything.
func BuildFilter(session, direction, kind, timeStart, timeEnd string) (capture.Filter, error) {
	f := capture.Filter{SessionID: session}

	if direction != "" {
		d, err := capture.ParseDirection(direction)
		if err != nil {
			return capture.Filter{}, err
		}
		f.Direction = &d
	}
	if kind != "" {
		k, err := capture.ParseKind(kind)
		if err != nil {
			return capture.Filter{}, err
		}
		f.Kind = &k
	}

	var err error
	if f.TimeStart, err = ParseTimeFlag("time-start", timeStart); err != nil {
		return capture.Filter{}, err
	}
	if f.TimeEnd, err = ParseTimeFlag("time-end", timeEnd); err != nil {
		return capture.Filter{}, err
	}
	return f, nil
}
