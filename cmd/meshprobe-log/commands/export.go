package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/meshprobe/meshprobe-go/pkg/capture"
)

// exportRecord is the JSON form of an event.
type exportRecord struct {
	Timestamp string   `json:"timestamp"`
	SessionID string   `json:"session_id"`
	Direction string   `json:"direction"`
	Kind      string   `json:"kind"`
	Topic     string   `json:"topic"`
	Tag       string   `json:"tag"`
	PacketID  string   `json:"packet_id,omitempty"`
	RSSI      *float64 `json:"rssi,omitempty"`
	SNR       *float64 `json:"snr,omitempty"`
	Payload   string   `json:"payload,omitempty"`
}

func newExportRecord(event capture.Event) exportRecord {
	return exportRecord{
		Timestamp: event.Timestamp.UTC().Format(timeLayout),
		SessionID: event.SessionID,
		Direction: event.Direction.String(),
		Kind:      event.Kind.String(),
		Topic:     event.Topic,
		Tag:       fmt.Sprintf("%08x", event.Tag),
		PacketID:  event.PacketID,
		RSSI:      event.RSSI,
		SNR:       event.SNR,
		Payload:   string(event.Payload),
	}
}

// RunExport exports the capture file to format ("jsonl" or "csv"). Output
// goes to the file output, or to w if output is empty.
func RunExport(path, format, output string, w io.Writer) error {
	if format != "jsonl" && format != "csv" {
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	reader, err := capture.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if format == "csv" {
		return exportCSV(reader, w)
	}
	return exportJSONL(reader, w)
}

func exportJSONL(reader *capture.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(newExportRecord(event)); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
}

func exportCSV(reader *capture.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{"timestamp", "session_id", "direction", "kind", "topic", "tag", "packet_id", "rssi", "snr", "payload_size"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		r := newExportRecord(event)
		row := []string{
			r.Timestamp,
			r.SessionID,
			r.Direction,
			r.Kind,
			r.Topic,
			r.Tag,
			r.PacketID,
			optionalFloat(r.RSSI),
			optionalFloat(r.SNR),
			strconv.Itoa(len(event.Payload)),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func optionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
