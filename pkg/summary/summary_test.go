package summary

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meshprobe/meshprobe-go/pkg/probe"
)

func success(ms int) probe.Outcome {
	return probe.Outcome{Status: probe.StatusSuccess, Delay: time.Duration(ms) * time.Millisecond}
}

func TestEmptyReport(t *testing.T) {
	r := New().Report()
	if r.Total != 0 || r.LossRate != 0 || r.Delay != nil {
		t.Errorf("Report() = %+v, want empty", r)
	}

	var buf bytes.Buffer
	if err := r.Write(&buf); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "delay") {
		t.Errorf("empty report printed delays: %q", buf.String())
	}
}

func TestReportCounts(t *testing.T) {
	s := New()
	s.Add(success(100))
	s.Add(probe.Outcome{Status: probe.StatusTimeout})
	s.Add(probe.Outcome{Status: probe.StatusNotTransmitted})
	s.Add(probe.Outcome{Status: probe.StatusNotTransmitted})

	r := s.Report()
	if r.Total != 4 || r.Success != 1 || r.Timeout != 1 || r.NotTransmitted != 2 {
		t.Errorf("counts = %+v", r)
	}
	if r.LossRate != 0.75 {
		t.Errorf("LossRate = %v, want 0.75", r.LossRate)
	}
}

func TestReportDelays(t *testing.T) {
	s := New()
	for _, ms := range []int{2, 4, 4, 4, 5, 5, 7, 9} {
		s.Add(success(ms))
	}

	d := s.Report().Delay
	if d == nil {
		t.Fatal("Delay = nil")
	}
	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"min", d.Min, 2 * time.Millisecond},
		{"max", d.Max, 9 * time.Millisecond},
		{"mean", d.Mean, 5 * time.Millisecond},
		{"median", d.Median, 4500 * time.Microsecond},
		{"stddev", d.StdDev, 2 * time.Millisecond},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestReportP95(t *testing.T) {
	s := New()
	for ms := 1; ms <= 20; ms++ {
		s.Add(success(ms))
	}
	if got, want := s.Report().Delay.P95, 19*time.Millisecond; got != want {
		t.Errorf("P95 = %v, want %v", got, want)
	}
}

func TestReset(t *testing.T) {
	s := New()
	s.Add(success(1))
	s.Reset()
	if r := s.Report(); r.Total != 0 || r.Delay != nil {
		t.Errorf("Report() after Reset = %+v", r)
	}
}

func TestWrite(t *testing.T) {
	s := New()
	s.Add(success(200))
	s.Add(success(200))
	s.Add(probe.Outcome{Status: probe.StatusTimeout})
	s.Add(probe.Outcome{Status: probe.StatusTimeout})

	var buf bytes.Buffer
	if err := s.Report().Write(&buf); err != nil {
		t.Fatal(err)
	}
	want := "attempts: 4  success: 2  timeout: 2  not transmitted: 0  loss: 50.0%\n" +
		"delay ms: min 200  median 200  mean 200  p95 200  max 200  stddev 0\n"
	if buf.String() != want {
		t.Errorf("Write() = %q, want %q", buf.String(), want)
	}
}

func TestConcurrentAdd(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Add(success(j))
			}
		}()
	}
	wg.Wait()
	if got := s.Report().Success; got != 1000 {
		t.Errorf("Success = %d, want 1000", got)
	}
}
