package capture

import (
	"fmt"
	"strings"
	"time"
)

// Event is a single captured bus message.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the message was published or received.
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies one process run (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction of the message relative to this tool.
	Direction Direction `cbor:"3,keyasint"`

	// Kind classifies the message.
	Kind Kind `cbor:"4,keyasint"`

	// Topic the message was published on.
	Topic string `cbor:"5,keyasint"`

	// Tag is the probe tag of the attempt the message belongs to.
	Tag uint32 `cbor:"6,keyasint"`

	// PacketID is the gateway packet id (reports only).
	PacketID string `cbor:"7,keyasint,omitempty"`

	// RSSI and SNR as reported by the gateway (reports only).
	RSSI *float64 `cbor:"8,keyasint,omitempty"`
	SNR  *float64 `cbor:"9,keyasint,omitempty"`

	// Payload is the raw message body.
	Payload []byte `cbor:"10,keyasint,omitempty"`
}

// Direction indicates message flow.
type Direction uint8

const (
	// DirectionIn is a message received from the bus.
	DirectionIn Direction = 0
	// DirectionOut is a message published to the bus.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// ParseDirection parses "in" or "out" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return DirectionIn, nil
	case "out":
		return DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction %q (valid: in, out)", s)
	}
}

// Kind classifies a captured message.
type Kind uint8

const (
	KindProbe     Kind = 0
	KindTxReport  Kind = 1
	KindRxReport  Kind = 2
	KindDuplicate Kind = 3
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindProbe:
		return "PROBE"
	case KindTxReport:
		return "TX_REPORT"
	case KindRxReport:
		return "RX_REPORT"
	case KindDuplicate:
		return "DUPLICATE"
	default:
		return "UNKNOWN"
	}
}

// ParseKind parses a kind name such as "tx_report" or "tx-report".
func ParseKind(s string) (Kind, error) {
	switch strings.ReplaceAll(strings.ToLower(s), "-", "_") {
	case "probe":
		return KindProbe, nil
	case "tx_report", "tx":
		return KindTxReport, nil
	case "rx_report", "rx":
		return KindRxReport, nil
	case "duplicate", "dup":
		return KindDuplicate, nil
	default:
		return 0, fmt.Errorf("invalid kind %q (valid: probe, tx_report, rx_report, duplicate)", s)
	}
}

func formatTag(tag uint32) string {
	return fmt.Sprintf("%08x", tag)
}
