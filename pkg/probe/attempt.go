package probe

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/meshprobe/meshprobe-go/pkg/bus"
)

type attemptState uint8

const (
	stateAwaitingTx attemptState = iota
	stateAwaitingRx
	stateDone
)

// String returns the state name.
func (s attemptState) String() string {
	switch s {
	case stateAwaitingTx:
		return "AWAITING_TX"
	case stateAwaitingRx:
		return "AWAITING_RX"
	case stateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// match classifies an inbound message for the running attempt.
type match uint8

const (
	// matchNone: not a report of this attempt's probe.
	matchNone match = iota
	// matchDuplicate: carries the probe fingerprint but completes no phase.
	matchDuplicate
	// matchTx: the source's transmit report.
	matchTx
	// matchRx: the target's receive report.
	matchRx
)

// attempt holds the state of one probe. It is owned by the goroutine
// running Engine.Probe and is never shared.
type attempt struct {
	tag  uint32
	text string

	from     uint32
	prefix   string
	fromNode string
	toNode   string

	state    attemptState
	packetID PacketID
	txAt     time.Time
}

// handle advances the attempt with msg received at now.
func (a *attempt) handle(msg bus.Message, now time.Time) (match, *report) {
	var r report
	if err := json.Unmarshal(msg.Payload, &r); err != nil {
		return matchNone, nil
	}
	if !a.isOurs(&r) {
		return matchNone, nil
	}

	node, ok := strings.CutPrefix(msg.Topic, a.prefix)
	if !ok {
		node = ""
	}

	switch a.state {
	case stateAwaitingTx:
		// A report without an id cannot bind the receive report.
		if node == a.fromNode && !r.ID.IsZero() {
			a.packetID = r.ID
			a.txAt = now
			a.state = stateAwaitingRx
			return matchTx, &r
		}
	case stateAwaitingRx:
		if r.ID == a.packetID && node == a.toNode {
			a.state = stateDone
			return matchRx, &r
		}
	}
	return matchDuplicate, &r
}

// isOurs checks the content fingerprint: sender, destination 0 and the
// exact probe text.
func (a *attempt) isOurs(r *report) bool {
	if r.From == nil || *r.From != a.from {
		return false
	}
	if r.To == nil || *r.To != 0 {
		return false
	}
	if r.Payload == nil || r.Payload.Text == nil {
		return false
	}
	return *r.Payload.Text == a.text
}

// success builds the outcome for a receive report observed at now.
func (a *attempt) success(r *report, now time.Time) Outcome {
	delay := now.Sub(a.txAt)
	if delay < 0 {
		delay = 0
	}
	return Outcome{
		Status:   StatusSuccess,
		Delay:    delay,
		PacketID: a.packetID,
		RSSI:     r.RSSI,
		SNR:      r.SNR,
	}
}

// expire builds the outcome when the timeout fires first.
func (a *attempt) expire() Outcome {
	if a.state == stateAwaitingTx {
		return Outcome{Status: StatusNotTransmitted}
	}
	return Outcome{Status: StatusTimeout}
}
