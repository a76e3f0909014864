package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/juju/clock"
)

const (
	backoffInitial = 10 * time.Millisecond
	backoffMax     = time.Second
)

// Backoff retries an engine operation while it fails with a transient
// error. For SQLite that means SQLITE_BUSY and SQLITE_LOCKED (including
// extended codes such as SQLITE_BUSY_RECOVERY while another connection
// replays the WAL). Everything else is returned at once.
//
// busy_timeout already waits inside a single attempt, so Backoff only
// covers what outlasts it, e.g. opening a file another process is
// checkpointing.
type Backoff struct {
	initial    time.Duration
	max        time.Duration
	retries    int
	clock      clock.Clock
	classifier *Classifier
}

// NewBackoff allows up to retries retries after the first attempt, waiting
// on clk between them.
func NewBackoff(retries int, clk clock.Clock) *Backoff {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Backoff{
		initial:    backoffInitial,
		max:        backoffMax,
		retries:    retries,
		clock:      clk,
		classifier: NewClassifier(),
	}
}

// Do runs op until it succeeds, fails with a non-transient error, the
// retries are used up, or ctx ends.
func (b *Backoff) Do(ctx context.Context, op func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !b.classifier.ShouldRetry(b.classifier.Classify(err)) {
			return err
		}
		if attempt >= b.retries {
			return fmt.Errorf("%w (gave up after %d attempts)", err, attempt+1)
		}

		select {
		case <-b.clock.After(b.delay(attempt)):
		case <-ctx.Done():
			return fmt.Errorf("%w: last error: %w", ctx.Err(), err)
		}
	}
}

// delay doubles from initial up to max, with ±25% jitter.
func (b *Backoff) delay(attempt int) time.Duration {
	d := b.max
	if attempt < 30 {
		if exp := b.initial << uint(attempt); exp > 0 && exp < b.max {
			d = exp
		}
	}
	d += time.Duration(float64(d) * 0.25 * (rand.Float64()*2 - 1))
	if d <= 0 {
		d = b.initial
	}
	return d
}
