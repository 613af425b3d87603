// Command meshprobe-log is a tool for viewing and analyzing meshprobe capture
// files.
//
// Capture files are written by meshprobe when the capture key is set in its
// configuration.
//
// Usage:
//
//	meshprobe-log <command> [flags] <file.mpcap>
//
// Commands:
//
//	view     View capture file in human-readable format
//	export   Export capture file to JSONL or CSV format
//	filter   Filter capture file and write to new file
//	stats    Show attempt statistics
//
// Examples:
//
//	# View only gateway reports
//	meshprobe-log view -direction in probe.mpcap
//
//	# Export to CSV
//	meshprobe-log export -format csv -o probe.csv probe.mpcap
//
//	# Keep one session
//	meshprobe-log filter -session 1b4e28ba-... -o session.mpcap probe.mpcap
//
//	# Loss and delay over one hour
//	meshprobe-log stats -time-start 2026-01-28T10:00:00Z -time-end 2026-01-28T11:00:00Z probe.mpcap
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/meshprobe/meshprobe-go/cmd/meshprobe-log/commands"
)

const usage = `meshprobe-log - meshprobe capture analyzer

Usage:
  meshprobe-log <command> [flags] <file.mpcap>

Commands:
  view     View capture file in human-readable format
  export   Export capture file to JSONL or CSV format
  filter   Filter capture file and write to new file
  stats    Show attempt statistics

Use "meshprobe-log <command> -help" for more information about a command.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprint(stderr, usage)
		return 1
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "view":
		return runView(args, stdout, stderr)
	case "export":
		return runExport(args, stdout, stderr)
	case "filter":
		return runFilter(args, stdout, stderr)
	case "stats":
		return runStats(args, stdout, stderr)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(stderr, usage)
		return 1
	}
}

// filterFlags are the event selection flags shared by view, filter and stats.
type filterFlags struct {
	session   *string
	direction *string
	kind      *string
	timeStart *string
	timeEnd   *string
}

func addFilterFlags(fs *flag.FlagSet) filterFlags {
	return filterFlags{
		session:   fs.String("session", "", "Filter by session ID"),
		direction: fs.String("direction", "", "Filter by direction (in, out)"),
		kind:      fs.String("kind", "", "Filter by kind (probe, tx_report, rx_report, duplicate)"),
		timeStart: fs.String("time-start", "", "Filter by start time (RFC3339)"),
		timeEnd:   fs.String("time-end", "", "Filter by end time (RFC3339)"),
	}
}

// newFlagSet returns a flag set whose usage text starts with header.
func newFlagSet(name, header string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, header)
		fs.PrintDefaults()
	}
	return fs
}

// parse parses args and returns the capture file path. ok is false if the
// command should exit with code.
func parse(fs *flag.FlagSet, args []string, stderr io.Writer) (path string, code int, ok bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return "", 0, false
		}
		return "", 1, false
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Error: capture file path required")
		fs.Usage()
		return "", 1, false
	}
	return fs.Arg(0), 0, true
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func runView(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("view", `meshprobe-log view - View capture file in human-readable format

Usage:
  meshprobe-log view [flags] <file.mpcap>

Flags:
`, stderr)
	ff := addFilterFlags(fs)
	payload := fs.Bool("payload", false, "Print message payloads")

	path, code, ok := parse(fs, args, stderr)
	if !ok {
		return code
	}

	filter, err := commands.BuildFilter(*ff.session, *ff.direction, *ff.kind, *ff.timeStart, *ff.timeEnd)
	if err != nil {
		return fail(stderr, err)
	}

	if err := commands.RunView(path, commands.ViewOptions{Filter: filter, Payload: *payload}, stdout); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runExport(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("export", `meshprobe-log export - Export capture file to JSONL or CSV format

Usage:
  meshprobe-log export [flags] <file.mpcap>

Flags:
`, stderr)
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	path, code, ok := parse(fs, args, stderr)
	if !ok {
		return code
	}

	if err := commands.RunExport(path, *format, *output, stdout); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runFilter(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("filter", `meshprobe-log filter - Filter capture file and write to new file

Usage:
  meshprobe-log filter [flags] <file.mpcap>

Flags:
`, stderr)
	output := fs.String("o", "", "Output file (required)")
	ff := addFilterFlags(fs)

	path, code, ok := parse(fs, args, stderr)
	if !ok {
		return code
	}
	if *output == "" {
		fmt.Fprintln(stderr, "Error: output file (-o) required")
		fs.Usage()
		return 1
	}

	filter, err := commands.BuildFilter(*ff.session, *ff.direction, *ff.kind, *ff.timeStart, *ff.timeEnd)
	if err != nil {
		return fail(stderr, err)
	}

	if err := commands.RunFilter(path, *output, filter, stdout); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runStats(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("stats", `meshprobe-log stats - Show attempt statistics

Attempts are reconstructed from probe, tx report and rx report events that
share a session and tag. Filtering by direction or kind drops attempts
whose probe event does not match.

Usage:
  meshprobe-log stats [flags] <file.mpcap>

Flags:
`, stderr)
	ff := addFilterFlags(fs)

	path, code, ok := parse(fs, args, stderr)
	if !ok {
		return code
	}

	filter, err := commands.BuildFilter(*ff.session, *ff.direction, *ff.kind, *ff.timeStart, *ff.timeEnd)
	if err != nil {
		return fail(stderr, err)
	}

	if err := commands.RunStats(path, filter, stdout); err != nil {
		return fail(stderr, err)
	}
	return 0
}
