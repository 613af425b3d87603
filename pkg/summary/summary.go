// Package summary aggregates probe outcomes into loss and delay statistics.
package summary

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/meshprobe/meshprobe-go/pkg/probe"
)

// Summary accumulates outcomes. It is safe for concurrent use.
type Summary struct {
	mu             sync.Mutex
	success        int
	timeout        int
	notTransmitted int
	other          int
	delays         stats.Float64Data
}

// New creates an empty summary.
func New() *Summary {
	return &Summary{}
}

// Add records one outcome.
func (s *Summary) Add(o probe.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch o.Status {
	case probe.StatusSuccess:
		s.success++
		s.delays = append(s.delays, float64(o.Delay)/float64(time.Millisecond))
	case probe.StatusTimeout:
		s.timeout++
	case probe.StatusNotTransmitted:
		s.notTransmitted++
	default:
		s.other++
	}
}

// Reset discards all recorded outcomes.
func (s *Summary) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s = Summary{}
}

// Report is a snapshot of a Summary.
type Report struct {
	Total          int
	Success        int
	Timeout        int
	NotTransmitted int

	// LossRate is the share of attempts that did not succeed, in [0, 1].
	LossRate float64

	// Delay is nil when no attempt succeeded.
	Delay *DelayStats
}

// DelayStats describes the delays of successful attempts.
type DelayStats struct {
	Min    time.Duration
	Max    time.Duration
	Mean   time.Duration
	Median time.Duration
	P95    time.Duration
	StdDev time.Duration
}

// Report returns the current statistics.
func (s *Summary) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Report{
		Total:          s.success + s.timeout + s.notTransmitted + s.other,
		Success:        s.success,
		Timeout:        s.timeout,
		NotTransmitted: s.notTransmitted,
	}
	if r.Total > 0 {
		r.LossRate = float64(r.Total-r.Success) / float64(r.Total)
	}
	if len(s.delays) > 0 {
		r.Delay = delayStats(s.delays)
	}
	return r
}

func delayStats(d stats.Float64Data) *DelayStats {
	// Errors only occur for empty input, which the caller excludes.
	minimum, _ := d.Min()
	maximum, _ := d.Max()
	mean, _ := d.Mean()
	median, _ := d.Median()
	p95, _ := d.Percentile(95)
	stddev, _ := d.StandardDeviation()

	return &DelayStats{
		Min:    millis(minimum),
		Max:    millis(maximum),
		Mean:   millis(mean),
		Median: millis(median),
		P95:    millis(p95),
		StdDev: millis(stddev),
	}
}

func millis(v float64) time.Duration {
	return time.Duration(v * float64(time.Millisecond))
}

// Write prints the report in a short human-readable form.
func (r Report) Write(w io.Writer) error {
	_, err := fmt.Fprintf(w, "attempts: %d  success: %d  timeout: %d  not transmitted: %d  loss: %.1f%%\n",
		r.Total, r.Success, r.Timeout, r.NotTransmitted, r.LossRate*100)
	if err != nil || r.Delay == nil {
		return err
	}
	_, err = fmt.Fprintf(w, "delay ms: min %d  median %d  mean %d  p95 %d  max %d  stddev %d\n",
		r.Delay.Min.Milliseconds(), r.Delay.Median.Milliseconds(), r.Delay.Mean.Milliseconds(),
		r.Delay.P95.Milliseconds(), r.Delay.Max.Milliseconds(), r.Delay.StdDev.Milliseconds())
	return err
}
