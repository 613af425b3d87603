// Package capture records probe traffic seen on the bus.
//
// A capture is a machine-readable trace of the probe requests this tool
// publishes and the gateway reports it recognizes as belonging to them. It is
// separate from operational logging (slog): the trace lets the probe delays
// be re-derived offline and helps debug gateways that report unexpectedly.
// Probe outcomes themselves are not recorded.
//
// # Basic Usage
//
//	// Console, for development
//	logger := capture.NewSlogAdapter(slog.Default())
//
//	// Binary file
//	logger, _ := capture.NewFileLogger("probe.mcap")
//
//	// Both
//	logger := capture.NewMultiLogger(
//	    capture.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Kinds
//
//   - PROBE: a probe request published to the gateway (OUT)
//   - TX_REPORT: the source node's report of its own transmission (IN)
//   - RX_REPORT: the target node's report of the reception (IN)
//   - DUPLICATE: a report carrying the probe fingerprint that completed no
//     phase, e.g. a repeated transmit report (IN)
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with integer keys,
// conventionally using the .mcap extension. The meshprobe-log command views,
// exports and summarizes them.
package capture
