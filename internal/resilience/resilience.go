// Package resilience retries calls against external dependencies with
// exponential backoff, per-attempt timeouts and a retryable-error predicate.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Policy configures retries for one dependency.
type Policy struct {
	// Name identifies the dependency in errors, logs and metrics.
	Name           string
	Attempts       int
	MinDelay       time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration

	// Retryable reports whether an error is transient. Nil retries nothing
	// except attempt timeouts.
	Retryable func(error) bool

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy retries 3 times with 1s to 10s exponential backoff.
func DefaultPolicy(name string, attemptTimeout time.Duration) Policy {
	return Policy{
		Name:           name,
		Attempts:       3,
		MinDelay:       time.Second,
		MaxDelay:       10 * time.Second,
		AttemptTimeout: attemptTimeout,
	}
}

// With returns a copy of p that retries on retryable.
func (p Policy) With(retryable func(error) bool) Policy {
	p.Retryable = retryable
	return p
}

// Validate reports settings that can never retry correctly.
func (p Policy) Validate() error {
	switch {
	case p.Attempts < 1:
		return fmt.Errorf("%s: attempts must be at least 1, got %d", p.Name, p.Attempts)
	case p.MinDelay < 0 || p.MaxDelay < 0:
		return fmt.Errorf("%s: delays must not be negative", p.Name)
	case p.MaxDelay > 0 && p.MinDelay > p.MaxDelay:
		return fmt.Errorf("%s: min delay %s exceeds max delay %s", p.Name, p.MinDelay, p.MaxDelay)
	case p.AttemptTimeout < 0:
		return fmt.Errorf("%s: attempt timeout must not be negative", p.Name)
	}
	return nil
}

// ExhaustedError is returned once every attempt failed with a transient error.
type ExhaustedError struct {
	Dependency string
	Attempts   int
	Err        error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s unavailable after %d attempts: %v", e.Dependency, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsExhausted reports whether err came from a policy giving up.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// ErrAttemptTimeout wraps the error of an attempt cut off by AttemptTimeout.
var ErrAttemptTimeout = errors.New("attempt timed out")

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.MinDelay
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = p.MinDelay
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(p.Attempts-1))
}

// Do runs op until it succeeds, fails with a non-retryable error, the caller's
// context ends, or the attempts run out. Each attempt gets its own timeout.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}

	attempt := 0
	permanent := false
	operation := func() (T, error) {
		attempt++
		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		defer cancel()

		v, err := op(actx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			permanent = true
			return zero, backoff.Permanent(ctx.Err())
		}
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s: %w", ErrAttemptTimeout, p.AttemptTimeout, err)
		}
		if p.Retryable == nil || !p.Retryable(err) {
			permanent = true
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("dependency", p.Name).Int("attempt", attempt).
			Dur("wait", wait).Msg("transient failure, retrying")
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
	}

	v, err := backoff.RetryNotifyWithData(operation, backoff.WithContext(p.backOff(), ctx), notify)
	if err == nil {
		return v, nil
	}
	if permanent {
		return zero, err
	}
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}
	return zero, &ExhaustedError{Dependency: p.Name, Attempts: attempt, Err: err}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
