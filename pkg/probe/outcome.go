package probe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Status is the kind of outcome of one attempt.
type Status uint8

const (
	// StatusSuccess means both reports were observed.
	StatusSuccess Status = iota

	// StatusTimeout means the source transmitted but the target's report
	// did not arrive in time.
	StatusTimeout

	// StatusNotTransmitted means the source's transmit report did not
	// arrive in time.
	StatusNotTransmitted
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusNotTransmitted:
		return "NOT_TRANSMITTED"
	default:
		return "UNKNOWN"
	}
}

// Outcome is the result of a single attempt. Delay, PacketID, RSSI and SNR
// are set only for StatusSuccess.
type Outcome struct {
	Status Status

	// Delay between the source's transmit report and the target's
	// receive report.
	Delay time.Duration

	// PacketID is the gateway's id of the on-air packet.
	PacketID PacketID

	// RSSI and SNR as reported by the target.
	RSSI float64
	SNR  float64
}

// Result is an outcome together with the wall-clock start of its attempt.
type Result struct {
	Start   time.Time
	Outcome Outcome
}

// PacketID is the gateway's identifier of an on-air packet. Gateways report
// it as a JSON number; strings are accepted as well.
// The zero value means "not set".
type PacketID struct {
	num   uint64
	str   string
	isNum bool
	set   bool
}

// NumericPacketID returns a numeric packet id.
func NumericPacketID(n uint64) PacketID {
	return PacketID{num: n, isNum: true, set: true}
}

// StringPacketID returns a textual packet id.
func StringPacketID(s string) PacketID {
	return PacketID{str: s, set: true}
}

// IsZero reports whether the id is unset.
func (p PacketID) IsZero() bool {
	return !p.set
}

// String renders numeric ids as 8 lowercase hex digits and textual ids
// verbatim.
func (p PacketID) String() string {
	switch {
	case !p.set:
		return ""
	case p.isNum:
		return fmt.Sprintf("%08x", p.num)
	default:
		return p.str
	}
}

// UnmarshalJSON accepts null, a non-negative integer or a string.
func (p *PacketID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*p = PacketID{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = StringPacketID(s)
		return nil
	default:
		n, err := strconv.ParseUint(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("packet id %s: %w", data, err)
		}
		*p = NumericPacketID(n)
		return nil
	}
}

// MarshalJSON writes numeric ids as numbers and textual ids as strings.
func (p PacketID) MarshalJSON() ([]byte, error) {
	switch {
	case !p.set:
		return []byte("null"), nil
	case p.isNum:
		return strconv.AppendUint(nil, p.num, 10), nil
	default:
		return json.Marshal(p.str)
	}
}
