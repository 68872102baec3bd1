// Package retry provides the exponential backoff policy shared by every
// external call: store writes, REST fetches and notification sends.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rewired-gh/pulsewatch/internal/logger"
)

// Policy describes how many times to try and how long to wait between tries.
// Delay before retry n (0-based) is BaseDelay * Factor^n, capped at MaxDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
}

// DefaultPolicy matches the dashboard's fetch retry: 3 attempts, 1s doubling.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Factor:      2,
		MaxDelay:    10 * time.Second,
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait after the given failed attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	b := &backoff.Backoff{
		Min:    p.BaseDelay,
		Max:    p.MaxDelay,
		Factor: p.Factor,
	}
	if b.Min <= 0 {
		b.Min = time.Millisecond
	}
	if b.Max < b.Min {
		b.Max = b.Min
	}
	if b.Factor < 1 {
		b.Factor = 1
	}
	return b.ForAttempt(float64(attempt))
}

// Do runs fn until it succeeds, returns a Permanent error, the attempts run
// out, or ctx is done. The last error is returned wrapped with op.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	n := p.attempts()
	var lastErr error
	for attempt := 0; attempt < n; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return fmt.Errorf("%s: %w", op, perm.err)
		}
		if attempt == n-1 {
			break
		}

		delay := p.Delay(attempt)
		logger.Debug("Attempt %d/%d failed for %s: %v (retrying in %v)", attempt+1, n, op, err, delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, lastErr)
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, n, lastErr)
}
