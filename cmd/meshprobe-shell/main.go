// Command meshprobe-shell runs probe attempts on demand from an interactive
// console.
//
// Usage:
//
//	meshprobe-shell [<config-yaml>]
//
// It reads the same configuration file as meshprobe. The console accepts:
//
//	probe [n]  run n attempts spaced by the configured interval
//	stats      loss and delay statistics of this session
//	reset      clear statistics
//	config     show probe settings
//	quit       exit
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/meshprobe/meshprobe-go/cmd/meshprobe-shell/interactive"
	"github.com/meshprobe/meshprobe-go/pkg/bus"
	"github.com/meshprobe/meshprobe-go/pkg/capture"
	"github.com/meshprobe/meshprobe-go/pkg/config"
	"github.com/meshprobe/meshprobe-go/pkg/discovery"
	"github.com/meshprobe/meshprobe-go/pkg/probe"
)

const usage = "Usage: meshprobe-shell [<config-yaml>]"

// logSink is the log destination. It starts as stderr and moves to the
// console once readline owns the terminal.
type logSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *logSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *logSink) set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	code := run(ctx)
	stop()
	os.Exit(code)
}

func run(ctx context.Context) int {
	fs := flag.NewFlagSet("meshprobe-shell", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(os.Args[1:]); err != nil || fs.NArg() > 1 {
		fmt.Println(usage)
		return 0
	}

	path := config.DefaultFile
	if fs.NArg() == 1 {
		path = fs.Arg(0)
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	sink := &logSink{w: os.Stderr}
	logger := slog.New(slog.NewTextHandler(sink, &slog.HandlerOptions{Level: cfg.LogLevel}))

	brokerURL, err := discovery.NewResolver(discovery.ResolverConfig{Logger: logger}).Resolve(ctx, cfg.URL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	dialCfg, err := cfg.Dial(brokerURL, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var recorder capture.Logger = capture.NoopLogger{}
	if cfg.Capture != "" {
		fileLogger, err := capture.NewFileLogger(cfg.Capture)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open capture file: %v\n", err)
			return 1
		}
		defer fileLogger.Close()
		recorder = fileLogger
	}

	client, err := bus.Dial(ctx, dialCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	defer client.Close()

	engine, err := probe.NewEngine(ctx, client, cfg.Probe(),
		probe.WithLogger(logger),
		probe.WithCapture(recorder, uuid.New().String()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	shell, err := interactive.New(engine, brokerURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	sink.set(shell.Stdout())

	shell.Run(ctx)
	return 0
}
