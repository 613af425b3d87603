package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/meshprobe/meshprobe-go/pkg/bus"
	"github.com/meshprobe/meshprobe-go/pkg/capture"
	"github.com/meshprobe/meshprobe-go/pkg/nodeid"
)

// Probe errors.
var (
	ErrInvalidSettings = errors.New("invalid probe settings")
	ErrListenerClosed  = errors.New("bus listener closed")
)

// Filler pads the probe text to the configured extra load.
const Filler = "."

// Settings configures an Engine.
type Settings struct {
	// Topic is the gateway's root topic, e.g. "msh/EU_868".
	Topic string

	// UplinkChannel is the channel the gateway reports packets on.
	UplinkChannel string

	// From is the source node, To the target node.
	From nodeid.ID
	To   nodeid.ID

	// ExtraLoad is the number of filler characters appended to the tag.
	ExtraLoad int

	// Timeout bounds each attempt.
	Timeout time.Duration

	// Interval is the minimum time between attempt starts in Loop.
	Interval time.Duration
}

// Validate checks the settings.
func (s Settings) Validate() error {
	switch {
	case s.Topic == "":
		return fmt.Errorf("%w: topic is empty", ErrInvalidSettings)
	case s.UplinkChannel == "":
		return fmt.Errorf("%w: uplink channel is empty", ErrInvalidSettings)
	case strings.ContainsAny(s.UplinkChannel, "/+#"):
		return fmt.Errorf("%w: uplink channel %q must be a single topic level", ErrInvalidSettings, s.UplinkChannel)
	case s.ExtraLoad < 0:
		return fmt.Errorf("%w: extra load %d is negative", ErrInvalidSettings, s.ExtraLoad)
	case s.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidSettings)
	case s.Interval <= 0:
		return fmt.Errorf("%w: interval must be positive", ErrInvalidSettings)
	}
	return nil
}

// UplinkPrefix returns the topic prefix of uplink reports; the node id of the
// reporting node follows it.
func (s Settings) UplinkPrefix() string {
	return s.Topic + "/2/json/" + s.UplinkChannel + "/"
}

// DownlinkTopic returns the topic probe requests are published to.
func (s Settings) DownlinkTopic() string {
	return s.Topic + "/2/json/mqtt/" + nodeid.Format(s.From)
}

// Option configures an Engine.
type Option func(*Engine)

// WithTagSource replaces the random tag source.
func WithTagSource(tags TagSource) Option {
	return func(e *Engine) { e.tags = tags }
}

// WithClock replaces time.Now for delay measurement and result timestamps.
// With a clock set, reports are timed when the engine reads them instead of
// by their bus arrival time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
		e.clocked = true
	}
}

// WithCapture records probe traffic to logger, tagged with sessionID.
func WithCapture(logger capture.Logger, sessionID string) Option {
	return func(e *Engine) {
		e.capture = logger
		e.sessionID = sessionID
	}
}

// WithLogger sets the operational logger. If nil, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Engine runs probe attempts over a shared bus subscription.
type Engine struct {
	client   bus.Client
	settings Settings

	uplinkPrefix  string
	downlinkTopic string
	fromNode      string
	toNode        string
	filler        string

	tags      TagSource
	now       func() time.Time
	clocked   bool
	capture   capture.Logger
	sessionID string
	logger    *slog.Logger
}

// NewEngine validates s and subscribes to the uplink channel. The
// subscription is kept for the lifetime of client.
func NewEngine(ctx context.Context, client bus.Client, s Settings, opts ...Option) (*Engine, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		client:        client,
		settings:      s,
		uplinkPrefix:  s.UplinkPrefix(),
		downlinkTopic: s.DownlinkTopic(),
		fromNode:      nodeid.Format(s.From),
		toNode:        nodeid.Format(s.To),
		filler:        strings.Repeat(Filler, s.ExtraLoad),
		tags:          RandomTags{},
		now:           time.Now,
		capture:       capture.NoopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := client.Subscribe(ctx, e.uplinkPrefix+"+"); err != nil {
		return nil, fmt.Errorf("subscribe uplink: %w", err)
	}
	e.debugLog("engine ready",
		"uplink", e.uplinkPrefix+"+", "downlink", e.downlinkTopic,
		"from", e.fromNode, "to", e.toNode)
	return e, nil
}

// Settings returns the engine's settings.
func (e *Engine) Settings() Settings {
	return e.settings
}

// ProbeText returns the payload text for tag.
func (e *Engine) ProbeText(tag uint32) string {
	return fmt.Sprintf("%08x", tag) + e.filler
}

// Probe runs a single attempt. It returns within the configured timeout with
// exactly one outcome, or with an error if the probe could not be published,
// the bus listener closed, or ctx ended. A publish still pending when the
// timeout fires resolves as NotTransmitted. No listener stays attached after
// Probe returns.
func (e *Engine) Probe(ctx context.Context) (Outcome, error) {
	tag := e.tags.Next()
	a := &attempt{
		tag:      tag,
		text:     e.ProbeText(tag),
		from:     uint32(e.settings.From),
		prefix:   e.uplinkPrefix,
		fromNode: e.fromNode,
		toNode:   e.toNode,
	}

	timer := time.NewTimer(e.settings.Timeout)
	defer timer.Stop()

	l := e.client.Listen()
	defer l.Close()

	payload, err := json.Marshal(request{
		From:     a.from,
		To:       0,
		HopLimit: 0,
		Payload:  a.text,
		Type:     SendTextType,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("encode probe: %w", err)
	}
	pubCtx, cancel := context.WithTimeout(ctx, e.settings.Timeout)
	err = e.client.Publish(pubCtx, e.downlinkTopic, payload)
	cancel()
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			e.debugLog("probe publish timed out", "tag", fmt.Sprintf("%08x", tag))
			return a.expire(), nil
		}
		return Outcome{}, fmt.Errorf("publish probe: %w", err)
	}
	e.record(e.now(), capture.DirectionOut, capture.KindProbe, e.downlinkTopic, tag, payload, nil)
	e.debugLog("probe sent", "tag", fmt.Sprintf("%08x", tag))

	for {
		select {
		case <-timer.C:
			out := a.expire()
			if dropped := l.Dropped(); dropped > 0 && e.logger != nil {
				e.logger.Warn("probe expired with dropped bus messages",
					"tag", fmt.Sprintf("%08x", tag), "status", out.Status, "dropped", dropped)
			}
			e.debugLog("probe expired", "tag", fmt.Sprintf("%08x", tag), "state", a.state, "status", out.Status)
			return out, nil

		case msg, ok := <-l.C():
			if !ok {
				return Outcome{}, ErrListenerClosed
			}
			now := e.arrival(msg)
			m, r := a.handle(msg, now)
			switch m {
			case matchNone:
				continue
			case matchDuplicate:
				e.record(now, capture.DirectionIn, capture.KindDuplicate, msg.Topic, tag, msg.Payload, r)
			case matchTx:
				e.record(now, capture.DirectionIn, capture.KindTxReport, msg.Topic, tag, msg.Payload, r)
				e.debugLog("tx report", "tag", fmt.Sprintf("%08x", tag), "packet_id", r.ID.String())
			case matchRx:
				e.record(now, capture.DirectionIn, capture.KindRxReport, msg.Topic, tag, msg.Payload, r)
				return a.success(r, now), nil
			}

		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}
}

// arrival returns when msg reached the bus client, so a backlog on the
// listener does not add to the measured delay.
func (e *Engine) arrival(msg bus.Message) time.Time {
	if e.clocked || msg.Received.IsZero() {
		return e.now()
	}
	return msg.Received
}

func (e *Engine) record(ts time.Time, dir capture.Direction, kind capture.Kind, topic string, tag uint32, payload []byte, r *report) {
	event := capture.Event{
		Timestamp: ts,
		SessionID: e.sessionID,
		Direction: dir,
		Kind:      kind,
		Topic:     topic,
		Tag:       tag,
		Payload:   payload,
	}
	if r != nil {
		event.PacketID = r.ID.String()
		rssi, snr := r.RSSI, r.SNR
		event.RSSI = &rssi
		event.SNR = &snr
	}
	e.capture.Log(event)
}

// debugLog logs a debug message if logging is enabled.
func (e *Engine) debugLog(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}
