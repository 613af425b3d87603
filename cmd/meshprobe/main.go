// Command meshprobe measures delivery delay and loss between two mesh nodes
// through an MQTT gateway.
//
// Usage:
//
//	meshprobe [<config-yaml>]
//
// The configuration file defaults to probe.yaml. Each attempt prints one line
// to stdout:
//
//	2024-05-01T12:00:00.000Z    412 0000beef  -80    7.5
//	2024-05-01T12:00:30.000Z timeout (no rx report)
//	2024-05-01T12:01:00.000Z failure (no tx report)
//
// The columns of a successful attempt are the attempt start time, the delay
// between the source's transmit report and the target's receive report in
// milliseconds, the gateway packet id, RSSI and SNR.
//
// Exit codes:
//
//	0  help, usage, or shutdown by SIGINT/SIGTERM
//	1  configuration error
//	2  broker discovery or connection error
//	3  probe loop fault
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/meshprobe/meshprobe-go/pkg/bus"
	"github.com/meshprobe/meshprobe-go/pkg/capture"
	"github.com/meshprobe/meshprobe-go/pkg/config"
	"github.com/meshprobe/meshprobe-go/pkg/discovery"
	"github.com/meshprobe/meshprobe-go/pkg/probe"
)

// Exit codes.
const (
	exitOK         = 0
	exitConfig     = 1
	exitConnection = 2
	exitLoop       = 3
)

const usage = "Usage: meshprobe [<config-yaml>]"

// connectFunc opens the bus connection.
type connectFunc func(ctx context.Context, cfg bus.DialConfig) (bus.Client, error)

// resolveFunc turns the configured URL into a broker URL.
type resolveFunc func(ctx context.Context, raw string, logger *slog.Logger) (string, error)

func dialMQTT(ctx context.Context, cfg bus.DialConfig) (bus.Client, error) {
	return bus.Dial(ctx, cfg)
}

func resolveMDNS(ctx context.Context, raw string, logger *slog.Logger) (string, error) {
	return discovery.NewResolver(discovery.ResolverConfig{Logger: logger}).Resolve(ctx, raw)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, resolveMDNS, dialMQTT)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, resolve resolveFunc, connect connectFunc) int {
	fs := flag.NewFlagSet("meshprobe", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil || fs.NArg() > 1 {
		fmt.Fprintln(stdout, usage)
		return exitOK
	}

	path := config.DefaultFile
	if fs.NArg() == 1 {
		path = fs.Arg(0)
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitConfig
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	brokerURL, err := resolve(ctx, cfg.URL, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitConnection
	}

	dialCfg, err := cfg.Dial(brokerURL, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitConfig
	}

	sessionID := uuid.New().String()
	sinks := []capture.Logger{capture.NewSlogAdapter(logger)}
	if cfg.Capture != "" {
		fileLogger, err := capture.NewFileLogger(cfg.Capture)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to open capture file: %v\n", err)
			return exitConfig
		}
		defer fileLogger.Close()
		sinks = append(sinks, fileLogger)
	}

	client, err := connect(ctx, dialCfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitConnection
	}
	defer client.Close()

	engine, err := probe.NewEngine(ctx, client, cfg.Probe(),
		probe.WithLogger(logger),
		probe.WithCapture(capture.NewMultiLogger(sinks...), sessionID))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitConnection
	}

	logger.Info("probing",
		"broker", brokerURL,
		"from", cfg.From, "to", cfg.To,
		"timeout", cfg.Timeout, "interval", cfg.Interval,
		"session", sessionID)

	err = engine.Loop(ctx, func(r probe.Result) {
		fmt.Fprintln(stdout, probe.FormatLine(r))
	})
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Info("shutting down")
		return exitOK
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitLoop
}
