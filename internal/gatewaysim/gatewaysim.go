// Package gatewaysim simulates a mesh gateway on an in-memory bus.
//
// The simulator answers every sendtext request published to the downlink
// topic the way a JSON-enabled gateway does: the source node reports its own
// transmission on the uplink channel and, after a delay, the target node
// reports the reception of the same packet.
package gatewaysim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meshprobe/meshprobe-go/pkg/bus"
	"github.com/meshprobe/meshprobe-go/pkg/nodeid"
)

// Defaults.
const (
	DefaultRSSI          = -80
	DefaultSNR           = 7.5
	DefaultFirstPacketID = 1
)

// Config configures a Gateway.
type Config struct {
	// Topic is the root topic, e.g. "msh/EU_868".
	Topic string

	// UplinkChannel is the channel reports are published on.
	UplinkChannel string

	// Target is the node that reports reception.
	Target nodeid.ID

	// Delay between the transmit report and the receive report.
	Delay time.Duration

	// RSSI and SNR carried by receive reports.
	RSSI float64
	SNR  float64

	// Noise publishes unrelated traffic, malformed payloads, a duplicate
	// transmit report and a receive report with a foreign id around every
	// request.
	Noise bool

	// FirstPacketID is the id of the first simulated packet.
	FirstPacketID uint32

	// Logger is the optional logger. If nil, logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns a configuration for topic msh/test, channel
// LongFast and target !00000002.
func DefaultConfig() Config {
	return Config{
		Topic:         "msh/test",
		UplinkChannel: "LongFast",
		Target:        2,
		Delay:         20 * time.Millisecond,
		RSSI:          DefaultRSSI,
		SNR:           DefaultSNR,
		FirstPacketID: DefaultFirstPacketID,
	}
}

// Request is a sendtext request seen on the downlink topic.
type Request struct {
	Topic    string
	From     uint32 `json:"from"`
	To       uint32 `json:"to"`
	HopLimit uint32 `json:"hopLimit"`
	Payload  string `json:"payload"`
	Type     string `json:"type"`
}

type reportPayload struct {
	Text string `json:"text"`
}

type uplinkReport struct {
	Channel   int            `json:"channel"`
	From      uint32         `json:"from"`
	To        uint32         `json:"to"`
	ID        uint32         `json:"id"`
	Payload   *reportPayload `json:"payload"`
	RSSI      float64        `json:"rssi"`
	SNR       float64        `json:"snr"`
	Sender    string         `json:"sender"`
	Timestamp int64          `json:"timestamp"`
	Type      string         `json:"type"`
}

// Gateway is a running simulator.
type Gateway struct {
	cfg    Config
	client *bus.MemoryClient
	l      *bus.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	nextID   uint32
	dropTx   bool
	dropRx   bool
	requests []Request
}

// Start connects a simulator to b.
func Start(ctx context.Context, b *bus.MemoryBus, cfg Config) (*Gateway, error) {
	if cfg.Topic == "" || cfg.UplinkChannel == "" {
		return nil, fmt.Errorf("gatewaysim: topic and uplink channel are required")
	}
	if cfg.FirstPacketID == 0 {
		cfg.FirstPacketID = DefaultFirstPacketID
	}

	client := b.Connect()
	if err := client.Subscribe(ctx, cfg.Topic+"/2/json/mqtt/+"); err != nil {
		return nil, err
	}

	gctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:    cfg,
		client: client,
		l:      client.Listen(),
		ctx:    gctx,
		cancel: cancel,
		nextID: cfg.FirstPacketID,
	}

	g.wg.Add(1)
	go g.run()
	return g, nil
}

// SetDropTx suppresses transmit reports (and therefore receive reports).
func (g *Gateway) SetDropTx(drop bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dropTx = drop
}

// SetDropRx suppresses receive reports.
func (g *Gateway) SetDropRx(drop bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dropRx = drop
}

// Requests returns the requests received so far.
func (g *Gateway) Requests() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Request, len(g.requests))
	copy(out, g.requests)
	return out
}

// Close stops the simulator and waits for pending reports to be abandoned.
func (g *Gateway) Close() error {
	g.cancel()
	g.l.Close()
	g.wg.Wait()
	return g.client.Close()
}

func (g *Gateway) run() {
	defer g.wg.Done()
	for {
		select {
		case msg, ok := <-g.l.C():
			if !ok {
				return
			}
			g.handle(msg)
		case <-g.ctx.Done():
			return
		}
	}
}

func (g *Gateway) handle(msg bus.Message) {
	var req Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil || req.Type != "sendtext" {
		g.debugLog("ignoring downlink message", "topic", msg.Topic)
		return
	}
	req.Topic = msg.Topic

	g.mu.Lock()
	g.requests = append(g.requests, req)
	dropTx, dropRx := g.dropTx, g.dropRx
	id := g.nextID
	g.nextID++
	g.mu.Unlock()

	if g.cfg.Noise {
		g.publishNoise(req)
	}
	if dropTx {
		g.debugLog("dropping tx report", "id", id)
		return
	}

	tx := g.report(req, req.From, id)
	g.publish(g.uplinkTopic(nodeid.ID(req.From)), tx)
	if g.cfg.Noise {
		g.publish(g.uplinkTopic(nodeid.ID(req.From)), tx)
	}
	if dropRx {
		g.debugLog("dropping rx report", "id", id)
		return
	}

	rx := g.report(req, uint32(g.cfg.Target), id)
	rx.RSSI = g.cfg.RSSI
	rx.SNR = g.cfg.SNR
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		t := time.NewTimer(g.cfg.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-g.ctx.Done():
			return
		}
		if g.cfg.Noise {
			foreign := rx
			foreign.ID = id + 1<<16
			g.publish(g.uplinkTopic(g.cfg.Target), foreign)
		}
		g.publish(g.uplinkTopic(g.cfg.Target), rx)
	}()
}

// report builds an uplink report of req as seen by node.
func (g *Gateway) report(req Request, node uint32, id uint32) uplinkReport {
	return uplinkReport{
		From:      req.From,
		To:        req.To,
		ID:        id,
		Payload:   &reportPayload{Text: req.Payload},
		Sender:    nodeid.Format(nodeid.ID(node)),
		Timestamp: time.Now().Unix(),
		Type:      "text",
	}
}

func (g *Gateway) publishNoise(req Request) {
	topic := g.uplinkTopic(g.cfg.Target)
	g.publishRaw(topic, []byte("not json"))
	g.publishRaw(topic, []byte(`{"from":1,"to":0,"id":7,"payload":null}`))

	other := g.report(req, req.From, 0xffff)
	other.Payload = &reportPayload{Text: req.Payload + "x"}
	g.publish(g.uplinkTopic(nodeid.ID(req.From)), other)

	broadcast := g.report(req, req.From, 0xfffe)
	broadcast.To = 0xffffffff
	g.publish(g.uplinkTopic(nodeid.ID(req.From)), broadcast)
}

func (g *Gateway) publish(topic string, r uplinkReport) {
	payload, err := json.Marshal(r)
	if err != nil {
		return
	}
	g.publishRaw(topic, payload)
}

func (g *Gateway) publishRaw(topic string, payload []byte) {
	if err := g.client.Publish(g.ctx, topic, payload); err != nil {
		g.debugLog("publish failed", "topic", topic, "error", err)
	}
}

func (g *Gateway) uplinkTopic(node nodeid.ID) string {
	return g.cfg.Topic + "/2/json/" + g.cfg.UplinkChannel + "/" + nodeid.Format(node)
}

// debugLog logs a debug message if logging is enabled.
func (g *Gateway) debugLog(msg string, args ...any) {
	if g.cfg.Logger != nil {
		g.cfg.Logger.Debug(msg, args...)
	}
}
