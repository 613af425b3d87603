package bus

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/meshprobe/meshprobe-go/pkg/connection"
)

// MQTT defaults.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultKeepAlive      = 30 * time.Second
	ClientIDPrefix        = "meshprobe-"

	disconnectQuiesce = 250 // milliseconds
)

// DialConfig configures an MQTT connection.
type DialConfig struct {
	// URL is the broker address, e.g. "tcp://broker:1883" or "mqtts://host".
	URL string

	// ClientID defaults to ClientIDPrefix followed by a random UUID.
	ClientID string

	Username string
	Password string

	// TLS is used for TLS-based schemes. Nil uses Paho's defaults.
	TLS *tls.Config

	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration

	// Attempts is the connection attempt budget. Values below 1 mean 1.
	Attempts int

	// Backoff spaces repeated attempts.
	Backoff connection.BackoffConfig

	// ListenerBuffer is the per-listener channel capacity.
	ListenerBuffer int

	// Logger is the optional logger for connection events.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// MQTTClient is a Client backed by an MQTT broker.
type MQTTClient struct {
	client mqtt.Client
	disp   *Dispatcher
	logger *slog.Logger

	mu       sync.Mutex
	patterns []string
	closed   bool
}

var _ Client = (*MQTTClient)(nil)

// Dial connects to the broker described by cfg. Errors wrap ErrConnect.
func Dial(ctx context.Context, cfg DialConfig) (*MQTTClient, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = ClientIDPrefix + uuid.New().String()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}

	c := &MQTTClient{
		disp:   NewDispatcher(cfg.ListenerBuffer),
		logger: cfg.Logger,
	}
	c.disp.SetLogger(cfg.Logger)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetKeepAlive(DefaultKeepAlive).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectionLostHandler(c.onConnectionLost).
		SetOnConnectHandler(c.onConnect)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.TLS != nil {
		opts.SetTLSConfig(cfg.TLS)
	}

	c.client = mqtt.NewClient(opts)

	b := connection.NewBackoffWithConfig(cfg.Backoff)
	err := connection.Retry(ctx, cfg.Attempts, b, func(ctx context.Context) error {
		c.debugLog("connecting", "url", cfg.URL, "client_id", cfg.ClientID)
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()

		err := waitToken(attemptCtx, c.client.Connect())
		if err != nil && c.logger != nil {
			c.logger.Warn("broker connection failed", "url", cfg.URL, "error", err)
		}
		return err
	})
	if err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %s: %w", ErrConnect, cfg.URL, err)
	}

	return c, nil
}

// Subscribe subscribes to pattern at QoS 0. Subscriptions are restored
// automatically after a reconnect.
func (c *MQTTClient) Subscribe(ctx context.Context, pattern string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	if err := waitToken(ctx, c.client.Subscribe(pattern, 0, c.onMessage)); err != nil {
		return fmt.Errorf("subscribe %s: %w", pattern, err)
	}

	c.mu.Lock()
	if !slices.Contains(c.patterns, pattern) {
		c.patterns = append(c.patterns, pattern)
	}
	c.mu.Unlock()

	c.debugLog("subscribed", "pattern", pattern)
	return nil
}

// Publish publishes payload to topic at QoS 0 without retain.
func (c *MQTTClient) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := waitToken(ctx, c.client.Publish(topic, 0, false, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Listen attaches a listener to the subscribed message stream.
func (c *MQTTClient) Listen() *Listener {
	return c.disp.Listen()
}

// Close disconnects from the broker and closes all listeners.
func (c *MQTTClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.client.Disconnect(disconnectQuiesce)
	c.disp.Close()
	return nil
}

func (c *MQTTClient) onMessage(_ mqtt.Client, m mqtt.Message) {
	c.disp.Dispatch(Message{Topic: m.Topic(), Payload: m.Payload()})
}

func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	if c.logger != nil {
		c.logger.Warn("broker connection lost", "error", err)
	}
}

// onConnect restores subscriptions; clean sessions drop them on reconnect.
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.mu.Lock()
	patterns := slices.Clone(c.patterns)
	c.mu.Unlock()

	for _, p := range patterns {
		tok := client.Subscribe(p, 0, c.onMessage)
		go func(p string) {
			tok.Wait()
			if err := tok.Error(); err != nil && c.logger != nil {
				c.logger.Warn("resubscribe failed", "pattern", p, "error", err)
			}
		}(p)
	}
	c.debugLog("connected", "resubscribed", len(patterns))
}

// debugLog logs a debug message if logging is enabled.
func (c *MQTTClient) debugLog(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

// waitToken waits for tok to complete or ctx to end.
func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
