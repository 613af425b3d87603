package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meshprobe/meshprobe-go/pkg/bus"
	"github.com/meshprobe/meshprobe-go/pkg/connection"
	"github.com/meshprobe/meshprobe-go/pkg/nodeid"
	"github.com/meshprobe/meshprobe-go/pkg/probe"
)

// DefaultFile is the configuration file used when none is given.
const DefaultFile = "probe.yaml"

// Defaults for optional fields.
const (
	DefaultConnectAttempts = 1
	DefaultLogLevel        = slog.LevelInfo
)

// Schemes accepted in the url field.
var schemes = []string{"tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss", "mdns"}

// Config is a validated configuration.
type Config struct {
	URL           string
	Topic         string
	UplinkChannel string
	From          nodeid.ID
	To            nodeid.ID
	ExtraLoad     int
	Timeout       time.Duration
	Interval      time.Duration

	Username        string
	Password        string
	ClientID        string
	ConnectAttempts int
	TLS             bus.TLSOptions

	// Capture is the path of a bus capture file. Empty disables capturing.
	Capture string

	LogLevel slog.Level
}

type rawConfig struct {
	URL           string    `yaml:"url"`
	Topic         string    `yaml:"topic"`
	UplinkChannel string    `yaml:"uplinkChannel"`
	From          yaml.Node `yaml:"from"`
	To            yaml.Node `yaml:"to"`
	ExtraLoad     *int      `yaml:"extraLoad"`
	Timeout       *int64    `yaml:"timeout"`
	Interval      *int64    `yaml:"interval"`

	Username        string  `yaml:"username"`
	Password        string  `yaml:"password"`
	ClientID        string  `yaml:"clientId"`
	ConnectAttempts *int    `yaml:"connectAttempts"`
	TLS             rawTLS  `yaml:"tls"`
	Capture         string  `yaml:"capture"`
	LogLevel        *string `yaml:"logLevel"`
}

type rawTLS struct {
	CAFile             string `yaml:"caFile"`
	CertFile           string `yaml:"certFile"`
	KeyFile            string `yaml:"keyFile"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}

	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{File: path, Message: err.Error()}
	}
	return cfg, nil
}

// Parse validates a configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &LoadError{Message: "file is empty"}
		}
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}

	cfg := &Config{
		URL:             strings.TrimSpace(raw.URL),
		Topic:           strings.TrimSuffix(strings.TrimSpace(raw.Topic), "/"),
		UplinkChannel:   strings.TrimSpace(raw.UplinkChannel),
		Username:        raw.Username,
		Password:        raw.Password,
		ClientID:        raw.ClientID,
		ConnectAttempts: DefaultConnectAttempts,
		TLS: bus.TLSOptions{
			CAFile:             raw.TLS.CAFile,
			CertFile:           raw.TLS.CertFile,
			KeyFile:            raw.TLS.KeyFile,
			InsecureSkipVerify: raw.TLS.InsecureSkipVerify,
		},
		Capture:  raw.Capture,
		LogLevel: DefaultLogLevel,
	}

	var err error
	if cfg.From, err = decodeNode("from", &raw.From); err != nil {
		return nil, err
	}
	if cfg.To, err = decodeNode("to", &raw.To); err != nil {
		return nil, err
	}
	if raw.ExtraLoad != nil {
		cfg.ExtraLoad = *raw.ExtraLoad
	}
	if raw.Timeout == nil {
		return nil, missing("timeout")
	}
	cfg.Timeout = time.Duration(*raw.Timeout) * time.Millisecond
	if raw.Interval == nil {
		return nil, missing("interval")
	}
	cfg.Interval = time.Duration(*raw.Interval) * time.Millisecond
	if raw.ConnectAttempts != nil {
		cfg.ConnectAttempts = *raw.ConnectAttempts
	}
	if raw.LogLevel != nil {
		if err := cfg.LogLevel.UnmarshalText([]byte(*raw.LogLevel)); err != nil {
			return nil, invalid("logLevel", fmt.Sprintf("unknown level %q", *raw.LogLevel))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeNode(field string, n *yaml.Node) (nodeid.ID, error) {
	if n.Kind == 0 || n.ShortTag() == "!!null" {
		return 0, missing(field)
	}
	var id nodeid.ID
	if err := n.Decode(&id); err != nil {
		return 0, &LoadError{Field: field, Message: "invalid node id", Cause: fmt.Errorf("%w: %w", ErrInvalidValue, err)}
	}
	return id, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return missing("url")
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" {
		return invalid("url", fmt.Sprintf("%q is not a broker URL", c.URL))
	}
	if !slices.Contains(schemes, u.Scheme) {
		return invalid("url", fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	if c.Topic == "" {
		return missing("topic")
	}
	if c.UplinkChannel == "" {
		return missing("uplinkChannel")
	}
	if strings.ContainsAny(c.UplinkChannel, "/+#") {
		return invalid("uplinkChannel", "must be a single topic level")
	}
	if strings.ContainsAny(c.Topic, "+#") {
		return invalid("topic", "must not contain wildcards")
	}
	if c.ExtraLoad < 0 {
		return invalid("extraLoad", "must not be negative")
	}
	if c.Timeout <= 0 {
		return invalid("timeout", "must be a positive number of milliseconds")
	}
	if c.Interval <= 0 {
		return invalid("interval", "must be a positive number of milliseconds")
	}
	if c.ConnectAttempts < 1 {
		return invalid("connectAttempts", "must be at least 1")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return invalid("tls", "certFile and keyFile must be set together")
	}
	return nil
}

// Probe returns the probe engine settings.
func (c *Config) Probe() probe.Settings {
	return probe.Settings{
		Topic:         c.Topic,
		UplinkChannel: c.UplinkChannel,
		From:          c.From,
		To:            c.To,
		ExtraLoad:     c.ExtraLoad,
		Timeout:       c.Timeout,
		Interval:      c.Interval,
	}
}

// Dial returns the bus dial configuration for brokerURL, which is c.URL
// after discovery has resolved it.
func (c *Config) Dial(brokerURL string, logger *slog.Logger) (bus.DialConfig, error) {
	dc := bus.DialConfig{
		URL:      brokerURL,
		ClientID: c.ClientID,
		Username: c.Username,
		Password: c.Password,
		Attempts: c.ConnectAttempts,
		Backoff:  connection.BackoffConfig{Initial: connection.DefaultInitial, Max: connection.DefaultMax},
		Logger:   logger,
	}
	if !c.TLS.IsZero() {
		tlsCfg, err := bus.NewTLSConfig(c.TLS)
		if err != nil {
			return bus.DialConfig{}, &LoadError{Field: "tls", Message: "invalid TLS settings", Cause: err}
		}
		dc.TLS = tlsCfg
	}
	return dc, nil
}
