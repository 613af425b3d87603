// Package interactive provides the interactive console of meshprobe-shell.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/meshprobe/meshprobe-go/pkg/nodeid"
	"github.com/meshprobe/meshprobe-go/pkg/probe"
	"github.com/meshprobe/meshprobe-go/pkg/summary"
)

// MaxBatch caps the attempt count of a single probe command.
const MaxBatch = 1000

// Prober runs single probe attempts. *probe.Engine implements it.
type Prober interface {
	Probe(ctx context.Context) (probe.Outcome, error)
	Settings() probe.Settings
}

// Shell handles interactive mode for meshprobe-shell.
type Shell struct {
	prober  Prober
	broker  string
	summary *summary.Summary
	out     io.Writer
	now     func() time.Time

	rl *readline.Instance
}

// New creates a shell reading commands from the terminal.
func New(prober Prober, broker string) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "probe> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	s := newShell(prober, broker, rl.Stdout())
	s.rl = rl
	return s, nil
}

func newShell(prober Prober, broker string, out io.Writer) *Shell {
	return &Shell{
		prober:  prober,
		broker:  broker,
		summary: summary.New(),
		out:     out,
		now:     time.Now,
	}
}

// Stdout returns a writer that coordinates with the readline prompt.
// Use this for log output to avoid interfering with the command line.
func (s *Shell) Stdout() io.Writer {
	return s.out
}

// Run starts the interactive command loop. It returns when the user quits,
// input ends, or ctx is done.
func (s *Shell) Run(ctx context.Context) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			return
		}

		if !s.Exec(ctx, line) {
			return
		}
	}
}

// Exec runs one command line. It returns false if the shell should exit.
func (s *Shell) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()

	case "probe", "p":
		s.cmdProbe(ctx, args)

	case "stats", "s":
		s.cmdStats()

	case "reset":
		s.summary.Reset()
		fmt.Fprintln(s.out, "Statistics reset")

	case "config", "c":
		s.cmdConfig()

	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return false

	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
meshprobe Commands:
    probe [n]  - Run n attempts (default 1), spaced by the configured interval
    stats      - Show loss and delay statistics of this session
    reset      - Clear statistics
    config     - Show probe settings
    help       - Show this help
    quit       - Exit`)
}

// cmdProbe runs a batch of attempts and prints one line per attempt.
func (s *Shell) cmdProbe(ctx context.Context, args []string) {
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 || v > MaxBatch {
			fmt.Fprintf(s.out, "Usage: probe [n]  (1 <= n <= %d)\n", MaxBatch)
			return
		}
		n = v
	}

	interval := s.prober.Settings().Interval
	for i := range n {
		start := s.now()
		o, err := s.prober.Probe(ctx)
		if err != nil {
			fmt.Fprintf(s.out, "Probe failed: %v\n", err)
			return
		}
		s.summary.Add(o)
		fmt.Fprintln(s.out, probe.FormatLine(probe.Result{Start: start, Outcome: o}))

		if i == n-1 {
			break
		}
		wait := start.Add(interval).Sub(s.now())
		if wait <= 0 {
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			fmt.Fprintln(s.out, "Probe batch cancelled")
			return
		}
	}
}

func (s *Shell) cmdStats() {
	r := s.summary.Report()
	if r.Total == 0 {
		fmt.Fprintln(s.out, "No attempts yet")
		return
	}
	if err := r.Write(s.out); err != nil {
		fmt.Fprintf(s.out, "Failed to write statistics: %v\n", err)
	}
}

func (s *Shell) cmdConfig() {
	st := s.prober.Settings()
	fmt.Fprintln(s.out, "\nProbe Settings")
	fmt.Fprintln(s.out, "-------------------------------------------")
	fmt.Fprintf(s.out, "  Broker:         %s\n", s.broker)
	fmt.Fprintf(s.out, "  Downlink:       %s\n", st.DownlinkTopic())
	fmt.Fprintf(s.out, "  Uplink:         %s+\n", st.UplinkPrefix())
	fmt.Fprintf(s.out, "  From:           %s\n", nodeid.Format(st.From))
	fmt.Fprintf(s.out, "  To:             %s\n", nodeid.Format(st.To))
	fmt.Fprintf(s.out, "  Extra Load:     %d\n", st.ExtraLoad)
	fmt.Fprintf(s.out, "  Timeout:        %s\n", st.Timeout)
	fmt.Fprintf(s.out, "  Interval:       %s\n", st.Interval)
}
