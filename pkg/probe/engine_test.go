package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshprobe/meshprobe-go/internal/gatewaysim"
	"github.com/meshprobe/meshprobe-go/pkg/bus"
	"github.com/meshprobe/meshprobe-go/pkg/capture"
)

func testSettings() Settings {
	return Settings{
		Topic:         "msh/test",
		UplinkChannel: "LongFast",
		From:          1,
		To:            2,
		Timeout:       300 * time.Millisecond,
		Interval:      100 * time.Millisecond,
	}
}

type recordingCapture struct {
	mu     sync.Mutex
	events []capture.Event
}

func (r *recordingCapture) Log(e capture.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingCapture) kinds() []capture.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]capture.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func newTestEngine(t *testing.T, b *bus.MemoryBus, s Settings, opts ...Option) (*Engine, *bus.MemoryClient) {
	t.Helper()
	client := b.Connect()
	t.Cleanup(func() { client.Close() })
	e, err := NewEngine(context.Background(), client, s, opts...)
	require.NoError(t, err)
	return e, client
}

func startGateway(t *testing.T, b *bus.MemoryBus, mod func(*gatewaysim.Config)) *gatewaysim.Gateway {
	t.Helper()
	cfg := gatewaysim.DefaultConfig()
	cfg.Delay = 10 * time.Millisecond
	if mod != nil {
		mod(&cfg)
	}
	g, err := gatewaysim.Start(context.Background(), b, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

// answer waits for one probe request on the downlink topic and runs respond.
func answer(t *testing.T, b *bus.MemoryBus, respond func(gw *bus.MemoryClient, req request)) {
	t.Helper()
	gw := b.Connect()
	t.Cleanup(func() { gw.Close() })
	require.NoError(t, gw.Subscribe(context.Background(), "msh/test/2/json/mqtt/+"))
	l := gw.Listen()

	go func() {
		defer l.Close()
		m, ok := <-l.C()
		if !ok {
			return
		}
		var req request
		if err := json.Unmarshal(m.Payload, &req); err != nil {
			return
		}
		respond(gw, req)
	}()
}

// scriptedClient subscribes through a memory client but delivers messages
// from its own dispatcher, and runs publish in place of a real publish.
type scriptedClient struct {
	*bus.MemoryClient
	disp    *bus.Dispatcher
	publish func(ctx context.Context) error
}

func newScriptedClient(t *testing.T, buffer int, publish func(ctx context.Context, d *bus.Dispatcher) error) *scriptedClient {
	t.Helper()
	c := &scriptedClient{
		MemoryClient: bus.NewMemoryBus().Connect(),
		disp:         bus.NewDispatcher(buffer),
	}
	c.publish = func(ctx context.Context) error { return publish(ctx, c.disp) }
	t.Cleanup(func() {
		c.disp.Close()
		c.MemoryClient.Close()
	})
	return c
}

func (c *scriptedClient) Listen() *bus.Listener {
	return c.disp.Listen()
}

func (c *scriptedClient) Publish(ctx context.Context, _ string, _ []byte) error {
	return c.publish(ctx)
}

func TestNewEngineSubscribes(t *testing.T) {
	b := bus.NewMemoryBus()
	_, client := newTestEngine(t, b, testSettings())

	assert.Equal(t, []string{"msh/test/2/json/LongFast/+"}, client.Subscriptions())
}

func TestNewEngineRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Settings)
	}{
		{"empty topic", func(s *Settings) { s.Topic = "" }},
		{"empty channel", func(s *Settings) { s.UplinkChannel = "" }},
		{"channel with level", func(s *Settings) { s.UplinkChannel = "a/b" }},
		{"channel with wildcard", func(s *Settings) { s.UplinkChannel = "+" }},
		{"negative extra load", func(s *Settings) { s.ExtraLoad = -1 }},
		{"zero timeout", func(s *Settings) { s.Timeout = 0 }},
		{"zero interval", func(s *Settings) { s.Interval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			tt.mod(&s)
			client := bus.NewMemoryBus().Connect()
			_, err := NewEngine(context.Background(), client, s)
			assert.ErrorIs(t, err, ErrInvalidSettings)
			assert.Empty(t, client.Subscriptions())
		})
	}
}

func TestNewEngineSubscribeFailure(t *testing.T) {
	client := bus.NewMemoryBus().Connect()
	require.NoError(t, client.Close())

	_, err := NewEngine(context.Background(), client, testSettings())
	assert.ErrorIs(t, err, bus.ErrClosed)
}

func TestProbePublishesRequest(t *testing.T) {
	b := bus.NewMemoryBus()
	s := testSettings()
	s.ExtraLoad = 3
	s.Timeout = 20 * time.Millisecond
	e, client := newTestEngine(t, b, s, WithTagSource(TagFunc(func() uint32 { return 0xbeef })))

	out, err := e.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusNotTransmitted, out.Status)

	published := client.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "msh/test/2/json/mqtt/!00000001", published[0].Topic)
	assert.JSONEq(t,
		`{"from":1,"to":0,"hopLimit":0,"payload":"0000beef...","type":"sendtext"}`,
		string(published[0].Payload))
}

func TestProbeScenario(t *testing.T) {
	b := bus.NewMemoryBus()
	e, client := newTestEngine(t, b, testSettings(), WithTagSource(TagFunc(func() uint32 { return 10 })))

	answer(t, b, func(gw *bus.MemoryClient, req request) {
		assert.Equal(t, "0000000a", req.Payload)
		ctx := context.Background()
		_ = gw.Publish(ctx, "msh/test/2/json/LongFast/!00000001",
			[]byte(`{"from":1,"to":0,"id":"m1","payload":{"text":"0000000a"}}`))
		time.Sleep(15 * time.Millisecond)
		_ = gw.Publish(ctx, "msh/test/2/json/LongFast/!00000002",
			[]byte(`{"from":1,"to":0,"id":"m1","payload":{"text":"0000000a"},"rssi":-80,"snr":7.5}`))
	})

	out, err := e.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, StringPacketID("m1"), out.PacketID)
	assert.Equal(t, -80.0, out.RSSI)
	assert.Equal(t, 7.5, out.SNR)
	assert.GreaterOrEqual(t, out.Delay, 10*time.Millisecond)
	assert.Less(t, out.Delay, testSettings().Timeout)
	assert.Equal(t, 0, client.Listeners())
}

func TestProbeDelayUsesClock(t *testing.T) {
	b := bus.NewMemoryBus()
	var mu sync.Mutex
	now := time.Unix(5000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(250 * time.Millisecond)
		return now
	}
	e, _ := newTestEngine(t, b, testSettings(), WithClock(clock))
	startGateway(t, b, nil)

	out, err := e.Probe(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, out.Status)
	// The clock advances 250ms per read: probe sent, tx report, rx report.
	assert.Equal(t, 250*time.Millisecond, out.Delay)
}

func TestProbeWithGateway(t *testing.T) {
	b := bus.NewMemoryBus()
	e, client := newTestEngine(t, b, testSettings())
	startGateway(t, b, func(c *gatewaysim.Config) { c.FirstPacketID = 0xbeef })

	out, err := e.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, "0000beef", out.PacketID.String())
	assert.Equal(t, float64(gatewaysim.DefaultRSSI), out.RSSI)
	assert.Equal(t, gatewaysim.DefaultSNR, out.SNR)
	assert.Equal(t, 0, client.Listeners())
}

func TestProbeIgnoresNoise(t *testing.T) {
	b := bus.NewMemoryBus()
	rec := &recordingCapture{}
	e, _ := newTestEngine(t, b, testSettings(), WithCapture(rec, "session"))
	startGateway(t, b, func(c *gatewaysim.Config) { c.Noise = true })

	out, err := e.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)

	assert.Equal(t, []capture.Kind{
		capture.KindProbe,
		capture.KindTxReport,
		capture.KindDuplicate,
		capture.KindDuplicate,
		capture.KindRxReport,
	}, rec.kinds())
	for _, ev := range rec.events {
		assert.Equal(t, "session", ev.SessionID)
	}
}

func TestProbeNotTransmitted(t *testing.T) {
	b := bus.NewMemoryBus()
	e, client := newTestEngine(t, b, testSettings())
	g := startGateway(t, b, nil)
	g.SetDropTx(true)

	start := time.Now()
	out, err := e.Probe(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, StatusNotTransmitted, out.Status)
	assert.GreaterOrEqual(t, elapsed, testSettings().Timeout)
	assert.Less(t, elapsed, testSettings().Timeout+time.Second)
	assert.Equal(t, 0, client.Listeners())
}

func TestProbeTimeout(t *testing.T) {
	b := bus.NewMemoryBus()
	e, client := newTestEngine(t, b, testSettings())
	g := startGateway(t, b, nil)
	g.SetDropRx(true)

	start := time.Now()
	out, err := e.Probe(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, out.Status)
	assert.True(t, out.PacketID.IsZero(), "timeout must not carry a packet id")
	assert.GreaterOrEqual(t, elapsed, testSettings().Timeout)
	assert.Less(t, elapsed, testSettings().Timeout+time.Second)
	assert.Equal(t, 0, client.Listeners())
}

func TestProbeTimeoutRunsFromAttemptStart(t *testing.T) {
	b := bus.NewMemoryBus()
	s := testSettings()
	e, _ := newTestEngine(t, b, s, WithTagSource(TagFunc(func() uint32 { return 10 })))

	answer(t, b, func(gw *bus.MemoryClient, _ request) {
		time.Sleep(s.Timeout * 8 / 10)
		_ = gw.Publish(context.Background(), "msh/test/2/json/LongFast/!00000001",
			[]byte(`{"from":1,"to":0,"id":7,"payload":{"text":"0000000a"}}`))
	})

	start := time.Now()
	out, err := e.Probe(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, out.Status)
	// A late transmit report must not extend the attempt.
	assert.GreaterOrEqual(t, elapsed, s.Timeout)
	assert.Less(t, elapsed, s.Timeout+150*time.Millisecond)
}

func TestProbeStalledPublishIsNotTransmitted(t *testing.T) {
	client := newScriptedClient(t, 0, func(ctx context.Context, _ *bus.Dispatcher) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s := testSettings()
	e, err := NewEngine(context.Background(), client, s)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	out, err := e.Probe(ctx)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, StatusNotTransmitted, out.Status)
	assert.Less(t, elapsed, s.Timeout+150*time.Millisecond)
	assert.Equal(t, 0, client.disp.Len())
}

func TestProbeStalledPublishCancelled(t *testing.T) {
	client := newScriptedClient(t, 0, func(ctx context.Context, _ *bus.Dispatcher) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s := testSettings()
	s.Timeout = 5 * time.Second
	e, err := NewEngine(context.Background(), client, s)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = e.Probe(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProbeDelayUsesArrivalTime(t *testing.T) {
	t0 := time.Now()
	// Both reports are queued before the engine reads either of them.
	client := newScriptedClient(t, 8, func(_ context.Context, d *bus.Dispatcher) error {
		d.Dispatch(bus.Message{
			Topic:    "msh/test/2/json/LongFast/!00000001",
			Payload:  []byte(`{"from":1,"to":0,"id":7,"payload":{"text":"0000000a"}}`),
			Received: t0,
		})
		d.Dispatch(bus.Message{
			Topic:    "msh/test/2/json/LongFast/!00000002",
			Payload:  []byte(`{"from":1,"to":0,"id":7,"payload":{"text":"0000000a"},"rssi":-90,"snr":1}`),
			Received: t0.Add(123 * time.Millisecond),
		})
		return nil
	})
	e, err := NewEngine(context.Background(), client, testSettings(),
		WithTagSource(TagFunc(func() uint32 { return 10 })))
	require.NoError(t, err)

	out, err := e.Probe(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 123*time.Millisecond, out.Delay)
}

func TestProbeExpiryLogsDroppedMessages(t *testing.T) {
	client := newScriptedClient(t, 1, func(_ context.Context, d *bus.Dispatcher) error {
		for range 3 {
			d.Dispatch(bus.Message{Topic: "msh/test/2/json/LongFast/!00000009", Payload: []byte("{}")})
		}
		return nil
	})
	var logs bytes.Buffer
	s := testSettings()
	s.Timeout = 50 * time.Millisecond
	e, err := NewEngine(context.Background(), client, s,
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)

	out, err := e.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusNotTransmitted, out.Status)
	assert.Contains(t, logs.String(), "probe expired with dropped bus messages")
	assert.Contains(t, logs.String(), "dropped=2")
}

func TestProbeRxFromWrongIDTimesOut(t *testing.T) {
	b := bus.NewMemoryBus()
	e, _ := newTestEngine(t, b, testSettings(), WithTagSource(TagFunc(func() uint32 { return 10 })))

	answer(t, b, func(gw *bus.MemoryClient, _ request) {
		ctx := context.Background()
		_ = gw.Publish(ctx, "msh/test/2/json/LongFast/!00000001",
			[]byte(`{"from":1,"to":0,"id":41,"payload":{"text":"0000000a"}}`))
		_ = gw.Publish(ctx, "msh/test/2/json/LongFast/!00000002",
			[]byte(`{"from":1,"to":0,"id":42,"payload":{"text":"0000000a"}}`))
	})

	out, err := e.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, out.Status)
}

func TestProbeFingerprintMismatchOnAnyTopic(t *testing.T) {
	b := bus.NewMemoryBus()
	e, _ := newTestEngine(t, b, testSettings(), WithTagSource(TagFunc(func() uint32 { return 10 })))

	answer(t, b, func(gw *bus.MemoryClient, _ request) {
		ctx := context.Background()
		for _, node := range []string{"!00000001", "!00000002"} {
			_ = gw.Publish(ctx, "msh/test/2/json/LongFast/"+node,
				[]byte(`{"from":1,"to":0,"id":1,"payload":{"text":"0000000b"}}`))
			_ = gw.Publish(ctx, "msh/test/2/json/LongFast/"+node,
				[]byte(`{"from":3,"to":0,"id":1,"payload":{"text":"0000000a"}}`))
		}
	})

	out, err := e.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusNotTransmitted, out.Status)
}

func TestProbePublishFailure(t *testing.T) {
	b := bus.NewMemoryBus()
	e, client := newTestEngine(t, b, testSettings())
	boom := errors.New("broker gone")
	client.FailPublish(boom)

	_, err := e.Probe(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, client.Listeners())
}

func TestProbeListenerClosed(t *testing.T) {
	b := bus.NewMemoryBus()
	e, client := newTestEngine(t, b, testSettings())

	go func() {
		time.Sleep(20 * time.Millisecond)
		client.Close()
	}()

	_, err := e.Probe(context.Background())
	assert.ErrorIs(t, err, ErrListenerClosed)
}

func TestProbeContextCancelled(t *testing.T) {
	b := bus.NewMemoryBus()
	s := testSettings()
	s.Timeout = 5 * time.Second
	e, client := newTestEngine(t, b, s)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Probe(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, client.Listeners())
}

func TestLoopPacing(t *testing.T) {
	b := bus.NewMemoryBus()
	s := testSettings()
	s.Interval = 150 * time.Millisecond
	e, _ := newTestEngine(t, b, s)
	startGateway(t, b, func(c *gatewaysim.Config) { c.Delay = 5 * time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		results []Result
	)
	done := make(chan error, 1)
	go func() {
		done <- e.Loop(ctx, func(r Result) {
			mu.Lock()
			results = append(results, r)
			n := len(results)
			mu.Unlock()
			if n == 3 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, StatusSuccess, r.Outcome.Status, "result %d", i)
	}
	for i := 1; i < len(results); i++ {
		gap := results[i].Start.Sub(results[i-1].Start)
		assert.GreaterOrEqual(t, gap, s.Interval, "gap between attempt %d and %d", i-1, i)
	}
}

func TestLoopWaitsForSlowAttempt(t *testing.T) {
	b := bus.NewMemoryBus()
	s := testSettings()
	s.Timeout = 120 * time.Millisecond
	s.Interval = 20 * time.Millisecond
	e, _ := newTestEngine(t, b, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var starts []time.Time
	err := e.Loop(ctx, func(r Result) {
		assert.Equal(t, StatusNotTransmitted, r.Outcome.Status)
		starts = append(starts, r.Start)
		if len(starts) == 2 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, starts, 2)
	assert.GreaterOrEqual(t, starts[1].Sub(starts[0]), s.Timeout)
}

func TestLoopStopsOnFault(t *testing.T) {
	b := bus.NewMemoryBus()
	e, client := newTestEngine(t, b, testSettings())
	boom := errors.New("broker gone")
	client.FailPublish(boom)

	reported := 0
	err := e.Loop(context.Background(), func(Result) { reported++ })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, reported)
	assert.Equal(t, 0, client.Listeners())
}

func TestEngineProbeText(t *testing.T) {
	b := bus.NewMemoryBus()
	s := testSettings()
	s.ExtraLoad = 5
	e, _ := newTestEngine(t, b, s)

	assert.Equal(t, "0000000a.....", e.ProbeText(10))
	assert.Equal(t, "msh/test/2/json/LongFast/", s.UplinkPrefix())
	assert.Equal(t, "msh/test/2/json/mqtt/!00000001", s.DownlinkTopic())
	assert.Equal(t, s, e.Settings())
}
