package poller

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultInterval    = 3 * time.Second
	DefaultMaxAttempts = 40
)

// ErrTimedOut is returned when every attempt ran without a terminal outcome.
// The order is left untouched; the server-side sweeper owns cancellation.
var ErrTimedOut = errors.New("poller: no terminal outcome before attempts ran out")

// StopError aborts polling; any other check error counts as a failed attempt.
type StopError struct {
	Err error
}

func (e *StopError) Error() string { return e.Err.Error() }
func (e *StopError) Unwrap() error { return e.Err }

// Stop wraps err so Poll returns it immediately.
func Stop(err error) error { return &StopError{Err: err} }

// Check runs one attempt and reports whether a terminal outcome was reached.
type Check func(ctx context.Context, attempt int) (done bool, err error)

// Poller runs a check on a fixed interval for a bounded number of attempts.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	Logger      *zap.Logger
}

// New returns a poller with the 3 second / 40 attempt defaults.
func New(logger *zap.Logger) *Poller {
	return &Poller{Interval: DefaultInterval, MaxAttempts: DefaultMaxAttempts, Logger: logger}
}

// Poll calls check until it reports done, returns a StopError, the attempts run out
// (ErrTimedOut) or ctx is cancelled (ctx.Err()). A cancelled poll has no side effects
// on the server; a request already in flight completes there on its own.
func (p *Poller) Poll(ctx context.Context, check Check) error {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := check(ctx, attempt)
		if err != nil {
			var stop *StopError
			if errors.As(err, &stop) {
				return stop.Err
			}
			logger.Warn("poll attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		} else if done {
			return nil
		}

		if attempt == p.MaxAttempts {
			break
		}

		wait := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		case <-wait.C:
		}
	}

	logger.Info("polling exhausted", zap.Int("attempts", p.MaxAttempts))
	return ErrTimedOut
}
