package connection

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffSequence(t *testing.T) {
	b := NewBackoff()

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}

	for i, exp := range want {
		if got := b.Current(); got != exp {
			t.Errorf("step %d: Current() = %v, want %v", i, got, exp)
		}
		b.Next()
	}
	if b.Attempts() != len(want) {
		t.Errorf("Attempts() = %d, want %d", b.Attempts(), len(want))
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{Initial: 100 * time.Millisecond, Max: 100 * time.Millisecond})

	for i := range 50 {
		d := b.Next()
		if d < 100*time.Millisecond || d > 125*time.Millisecond {
			t.Fatalf("sample %d: %v outside [100ms, 125ms]", i, d)
		}
	}
}

func TestBackoffNoJitter(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{Initial: time.Second, Jitter: -1})

	if d := b.Next(); d != time.Second {
		t.Errorf("Next() = %v, want 1s", d)
	}
	if d := b.Next(); d != 2*time.Second {
		t.Errorf("Next() = %v, want 2s", d)
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff()
	for range 4 {
		b.Next()
	}

	b.Reset()

	if b.Current() != DefaultInitial {
		t.Errorf("Current() after Reset = %v, want %v", b.Current(), DefaultInitial)
	}
	if b.Attempts() != 0 {
		t.Errorf("Attempts() after Reset = %d, want 0", b.Attempts())
	}
}

func TestBackoffMaxBelowInitial(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{Initial: 5 * time.Second, Max: time.Second, Jitter: -1})

	b.Next()
	if b.Current() != 5*time.Second {
		t.Errorf("Current() = %v, want 5s", b.Current())
	}
}

func fastBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{Initial: time.Millisecond, Max: time.Millisecond, Jitter: -1})
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, fastBackoff(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("refused")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	errLast := errors.New("last")
	calls := 0
	err := Retry(context.Background(), 2, fastBackoff(), func(context.Context) error {
		calls++
		if calls == 2 {
			return errLast
		}
		return errors.New("first")
	})

	if !errors.Is(err, errLast) {
		t.Errorf("Retry() error = %v, want %v", err, errLast)
	}
}

func TestRetrySingleAttemptDoesNotSleep(t *testing.T) {
	b := NewBackoff()
	start := time.Now()

	err := Retry(context.Background(), 1, b, func(context.Context) error {
		return errors.New("refused")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("single attempt should not wait for backoff")
	}
	if b.Attempts() != 0 {
		t.Errorf("Attempts() = %d, want 0", b.Attempts())
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBackoffWithConfig(BackoffConfig{Initial: time.Hour})

	err := Retry(ctx, 5, b, func(context.Context) error {
		cancel()
		return errors.New("refused")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry() error = %v, want context.Canceled", err)
	}
}

func TestRetryNoAttempts(t *testing.T) {
	err := Retry(context.Background(), 0, NewBackoff(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrNoAttempts) {
		t.Errorf("Retry() error = %v, want ErrNoAttempts", err)
	}
}
