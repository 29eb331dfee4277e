// Package retry drives a failure-prone operation through bounded attempts
// with capped exponential backoff. Every attempt's outcome is recorded and
// returned, so callers can log the full history of a failed sequence instead
// of just its last error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted marks a terminal failure after every attempt failed. The
// returned error wraps it together with the final attempt's diagnostic.
var ErrExhausted = errors.New("attempts exhausted")

const (
	DefaultMaxAttempts = 3
	DefaultUnit        = time.Second
	DefaultCap         = 8 * time.Second
)

// Attempt is the observed outcome of one try.
type Attempt struct {
	Number int
	Err    error
	// Wait is the backoff slept after this failed attempt. Zero for a
	// success and for the final attempt.
	Wait time.Duration
}

// Policy configures an attempt sequence. The zero value uses the defaults:
// 3 attempts, 1-second backoff unit, 8-second cap.
type Policy struct {
	MaxAttempts int
	Unit        time.Duration
	Cap         time.Duration
}

// Default returns the policy used for regeneration flows.
func Default() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Unit: DefaultUnit, Cap: DefaultCap}
}

// Backoff returns the delay slept after the given failed attempt (1-based):
// 2^(attempt-1) units, capped.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	unit := p.Unit
	if unit <= 0 {
		unit = DefaultUnit
	}
	max := p.Cap
	if max <= 0 {
		max = DefaultCap
	}
	if attempt-1 >= 62 {
		return max
	}
	d := unit << uint(attempt-1)
	if d <= 0 || d > max {
		return max
	}
	return d
}

// Execute runs op until it succeeds or MaxAttempts failures accumulate.
// On success the returned error is nil and the last recorded attempt carries
// no error. On exhaustion the error wraps ErrExhausted, the attempt count,
// and the final failure. Cancellation during a backoff sleep returns the
// context's error; op itself is expected to honor ctx.
func (p Policy) Execute(ctx context.Context, op func(context.Context) error) ([]Attempt, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	attempts := make([]Attempt, 0, maxAttempts)
	for n := 1; ; n++ {
		err := op(ctx)
		if err == nil {
			attempts = append(attempts, Attempt{Number: n})
			return attempts, nil
		}

		if n == maxAttempts {
			attempts = append(attempts, Attempt{Number: n, Err: err})
			return attempts, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, maxAttempts, err)
		}

		wait := p.Backoff(n)
		attempts = append(attempts, Attempt{Number: n, Err: err, Wait: wait})

		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(wait):
		}
	}
}
