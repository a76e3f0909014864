package errors

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

const shortWait = time.Second

func TestBackoff_StopsOnPermanent(t *testing.T) {
	b := NewBackoff(5, testclock.NewClock(time.Now()))

	calls := 0
	err := b.Do(context.Background(), func(context.Context) error {
		calls++
		return &codedErr{code: sqliteError}
	})

	var coded *codedErr
	if !errors.As(err, &coded) {
		t.Fatalf("expected the engine error back, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent errors must not be retried, got %d calls", calls)
	}
}

func TestBackoff_RetriesBusy(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	b := NewBackoff(3, clk)

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- b.Do(context.Background(), func(context.Context) error {
			if calls.Add(1) < 3 {
				return &codedErr{code: sqliteBusy | (1 << 8)} // SQLITE_BUSY_RECOVERY
			}
			return nil
		})
	}()

	for i := 0; i < 2; i++ {
		if err := clk.WaitAdvance(2*backoffMax, shortWait, 1); err != nil {
			t.Fatal(err)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestBackoff_GivesUp(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	b := NewBackoff(2, clk)

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- b.Do(context.Background(), func(context.Context) error {
			calls.Add(1)
			return &codedErr{code: sqliteLocked}
		})
	}()

	for i := 0; i < 2; i++ {
		if err := clk.WaitAdvance(2*backoffMax, shortWait, 1); err != nil {
			t.Fatal(err)
		}
	}
	err := <-done
	var coded *codedErr
	if !errors.As(err, &coded) || coded.code != sqliteLocked {
		t.Fatalf("expected wrapped SQLITE_LOCKED, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestBackoff_ContextCancelled(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	b := NewBackoff(5, clk)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- b.Do(ctx, func(context.Context) error {
			return &codedErr{code: sqliteBusy}
		})
	}()

	// Wait until Do is sleeping between attempts.
	if err := clk.WaitAdvance(0, shortWait, 1); err != nil {
		t.Fatal(err)
	}
	cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var coded *codedErr
	if !errors.As(err, &coded) {
		t.Errorf("expected the last engine error to be kept, got %v", err)
	}
}

func TestBackoff_DelayCapped(t *testing.T) {
	b := NewBackoff(0, nil)
	for attempt := 0; attempt < 40; attempt++ {
		d := b.delay(attempt)
		if d <= 0 {
			t.Fatalf("attempt %d: delay must be positive, got %v", attempt, d)
		}
		if d > b.max+b.max/4 {
			t.Fatalf("attempt %d: delay %v exceeds cap with jitter", attempt, d)
		}
	}
}
