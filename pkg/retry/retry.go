// Package retry runs an operation again after transient failures, waiting an
// exponentially growing delay between attempts. The bot uses it for startup
// calls that may race a dependency coming up and for every Telegram Bot API
// request, where the server can also dictate the wait through retry_after.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// PERMANENT ERRORS
// ══════════════════════════════════════════════════════════════════════════════

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as final: Do returns the unwrapped error at once,
// whatever ShouldRetry says.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Policy describes how many times an operation runs and how long to wait
// between runs. The zero Policy runs the operation once.
type Policy struct {
	// Attempts is the total number of runs, the first one included.
	Attempts int

	// BaseDelay is the wait before the second run; it doubles afterwards.
	BaseDelay time.Duration

	// MaxDelay caps the computed wait. Zero means no cap.
	MaxDelay time.Duration

	// Jitter spreads each wait by up to ±Jitter of its length (0..1).
	Jitter float64

	// ShouldRetry reports whether err is worth another run.
	// Nil retries every error that is not Permanent.
	ShouldRetry func(err error) bool

	// MinDelay returns a lower bound for the next wait that the failed call
	// asked for, or zero.
	MinDelay func(err error) time.Duration

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Do runs op until it succeeds, fails with an error that is not retried, the
// attempts run out or ctx is done. The last error of op is returned; a
// cancelled ctx before the first run returns ctx.Err().
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt >= attempts || (p.ShouldRetry != nil && !p.ShouldRetry(err)) {
			return err
		}

		delay := p.delay(attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
}

// delay returns the wait after the given failed attempt (1-based).
func (p Policy) delay(attempt int, err error) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt && (p.MaxDelay <= 0 || d < p.MaxDelay); i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(float64(d) * p.Jitter * (rand.Float64()*2 - 1))
	}
	if p.MinDelay != nil {
		if floor := p.MinDelay(err); floor > d {
			d = floor
		}
	}
	return max(d, 0)
}

// Startup returns the policy for dependencies that may still be starting next
// to the bot (database, Redis, the Telegram API behind a proxy). Every error
// is retried; wrap an error with Permanent to stop early.
func Startup(onRetry func(attempt int, err error, delay time.Duration)) Policy {
	return Policy{
		Attempts:  5,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  10 * time.Second,
		Jitter:    0.2,
		OnRetry:   onRetry,
	}
}
