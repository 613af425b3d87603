package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/meshprobe/meshprobe-go/pkg/capture"
	"github.com/meshprobe/meshprobe-go/pkg/probe"
	"github.com/meshprobe/meshprobe-go/pkg/summary"
)

// Stats holds aggregate statistics about a capture file.
type Stats struct {
	TotalEvents  int
	EventsByKind map[capture.Kind]int
	Sessions     map[string]int
	TimeRange    struct {
		Start time.Time
		End   time.Time
	}
	Attempts *summary.Summary
}

// attemptKey identifies one attempt across sessions.
type attemptKey struct {
	session string
	tag     uint32
}

// attemptTrace is what the capture shows of one attempt.
type attemptTrace struct {
	tx *capture.Event
	rx *capture.Event
}

// outcome reconstructs the attempt's outcome. A trace without reports is
// counted as not transmitted, one with only a transmit report as timed out.
func (a *attemptTrace) outcome() probe.Outcome {
	switch {
	case a.tx != nil && a.rx != nil:
		o := probe.Outcome{
			Status: probe.StatusSuccess,
			Delay:  max(a.rx.Timestamp.Sub(a.tx.Timestamp), 0),
		}
		if a.rx.RSSI != nil {
			o.RSSI = *a.rx.RSSI
		}
		if a.rx.SNR != nil {
			o.SNR = *a.rx.SNR
		}
		return o
	case a.tx != nil:
		return probe.Outcome{Status: probe.StatusTimeout}
	default:
		return probe.Outcome{Status: probe.StatusNotTransmitted}
	}
}

// RunStats analyzes the capture file at path and prints statistics.
func RunStats(path string, filter capture.Filter, w io.Writer) error {
	stats, err := collectStats(path, filter)
	if err != nil {
		return err
	}
	return printStats(w, stats)
}

func collectStats(path string, filter capture.Filter) (*Stats, error) {
	reader, err := capture.NewFilteredReader(path, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByKind: make(map[capture.Kind]int),
		Sessions:     make(map[string]int),
		Attempts:     summary.New(),
	}
	attempts := make(map[attemptKey]*attemptTrace)

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByKind[event.Kind]++
		stats.Sessions[event.SessionID]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		key := attemptKey{session: event.SessionID, tag: event.Tag}
		trace, ok := attempts[key]
		if !ok {
			if event.Kind != capture.KindProbe {
				// Reports of an attempt whose probe was filtered out.
				continue
			}
			trace = &attemptTrace{}
			attempts[key] = trace
		}
		switch event.Kind {
		case capture.KindTxReport:
			if trace.tx == nil {
				ev := event
				trace.tx = &ev
			}
		case capture.KindRxReport:
			if trace.rx == nil {
				ev := event
				trace.rx = &ev
			}
		}
	}

	for _, trace := range attempts {
		stats.Attempts.Add(trace.outcome())
	}
	return stats, nil
}

func printStats(w io.Writer, stats *Stats) error {
	fmt.Fprintln(w, "=== meshprobe Capture Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents == 0 {
		fmt.Fprintln(w, "No events.")
		return nil
	}

	fmt.Fprintf(w, "Time Range: %s to %s\n",
		stats.TimeRange.Start.UTC().Format(time.RFC3339),
		stats.TimeRange.End.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Duration: %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Millisecond))
	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Kind:")
	kinds := make([]capture.Kind, 0, len(stats.EventsByKind))
	for k := range stats.EventsByKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-10s %d\n", k.String()+":", stats.EventsByKind[k])
	}
	fmt.Fprintln(w)

	sessions := make([]string, 0, len(stats.Sessions))
	for s := range stats.Sessions {
		sessions = append(sessions, s)
	}
	sort.Strings(sessions)
	fmt.Fprintf(w, "Sessions: %d\n", len(sessions))
	for _, s := range sessions {
		fmt.Fprintf(w, "  %s: %d events\n", shortenSessionID(s), stats.Sessions[s])
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Attempts:")
	return stats.Attempts.Report().Write(w)
}
