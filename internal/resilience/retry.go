// Package resilience provides retry and circuit-breaking helpers for calls to
// external collaborators (embedding sidecar, translator, asset storage).
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
)

// Policy configures bounded retries with exponential backoff.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// AttemptTimeout bounds each individual attempt. Zero means no per-attempt limit.
	AttemptTimeout time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		AttemptTimeout:  15 * time.Second,
	}
}

// Retry runs op until it succeeds, returns a non-transient error, the retry
// budget is exhausted, or ctx is done.
func Retry(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	// The retry count is the only budget.
	b.MaxElapsedTime = 0

	var policy backoff.BackOff = b
	if p.MaxRetries >= 0 {
		policy = backoff.WithMaxRetries(b, uint64(p.MaxRetries))
	}

	attempt := func() error {
		attemptCtx := ctx
		cancel := func() {}
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		err := op(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		// An attempt that ran out of its own time budget is worth another try.
		if errors.Is(err, context.DeadlineExceeded) {
			return Transient(err)
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		log.Debug("Retrying after transient failure", "op", name, "wait", wait, "error", err)
	}

	return backoff.RetryNotify(attempt, backoff.WithContext(policy, ctx), notify)
}

// RetryValue is Retry for operations that produce a value.
func RetryValue[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Retry(ctx, p, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// transientError marks an error as safe to retry.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// StatusError is returned by HTTP clients for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// IsTransient reports whether err is worth retrying: network failures,
// timeouts, HTTP 429 and 5xx, and errors explicitly marked with Transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *transientError
	if errors.As(err, &te) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}

	var oe *net.OpError
	return errors.As(err, &oe)
}
