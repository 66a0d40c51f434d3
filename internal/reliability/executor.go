// Package reliability composes a circuit breaker with a backoff retry loop
// into one generic outbound-call wrapper: per-attempt timeout, exponential
// backoff, and breaker trip/open/half-open — used by the agent runtime for
// tool invocation inside the ReAct loop.
package reliability

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/agentcore/runtime/internal/infra"
	"github.com/agentcore/runtime/internal/retry"
)

// StatusError carries a transport-level status so the executor can decide
// whether a failure is retryable without inspecting library-specific error
// types.
type StatusError struct {
	StatusCode int
	Code       string
	RetryAfter time.Duration
	Err        error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *StatusError) Unwrap() error { return e.Err }

var retryableCodes = map[string]struct{}{
	"rate_limited":        {},
	"ratelimited":         {},
	"internal_error":      {},
	"request_timeout":     {},
	"service_unavailable": {},
}

var retryableStatusCodes = map[int]struct{}{
	429: {},
	500: {},
	502: {},
	503: {},
	504: {},
}

// IsRetryable reports whether err represents a transient outbound failure
// per the HTTP-status/code taxonomy this package recognizes.
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if _, ok := retryableStatusCodes[statusErr.StatusCode]; ok {
			return true
		}
		if _, ok := retryableCodes[strings.ToLower(statusErr.Code)]; ok {
			return true
		}
		return false
	}
	return err != nil
}

// Config configures one Executor.
type Config struct {
	Breaker        infra.CircuitBreakerConfig
	Retry          retry.Config
	AttemptTimeout time.Duration
}

// DefaultConfig returns sensible defaults: 5-failure breaker trip, 30s
// open timeout, 3-attempt exponential backoff, 10s per-attempt timeout.
func DefaultConfig(name string) Config {
	return Config{
		Breaker: infra.CircuitBreakerConfig{
			Name:             name,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		},
		Retry:          retry.DefaultConfig(),
		AttemptTimeout: 10 * time.Second,
	}
}

// Executor wraps a call with a circuit breaker and retry/backoff.
type Executor struct {
	breaker *infra.CircuitBreaker
	cfg     Config
}

// New creates an Executor from cfg.
func New(cfg Config) *Executor {
	return &Executor{breaker: infra.NewCircuitBreaker(cfg.Breaker), cfg: cfg}
}

// Do runs fn, retrying transient failures with exponential backoff, gating
// every attempt through the circuit breaker, and bounding each attempt by
// AttemptTimeout. The returned error is the last attempt's error; a
// permanent (non-retryable) error short-circuits the retry loop.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	result := retry.Do(ctx, e.cfg.Retry, func() error {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if e.cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
			defer cancel()
		}

		err := e.breaker.Execute(attemptCtx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, infra.ErrCircuitOpen) {
			return err
		}
		waitBeforeRetry(err)
		if !IsRetryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	return result.Err
}

// waitBeforeRetry honors a transport-reported Retry-After floor before the
// executor's own backoff delay kicks in.
func waitBeforeRetry(err error) {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.RetryAfter <= 0 {
		return
	}
	timer := time.NewTimer(statusErr.RetryAfter)
	defer timer.Stop()
	<-timer.C
}

// DoWithResult runs fn (returning a value) under the same breaker/retry
// composition as Do.
func DoWithResult[T any](e *Executor, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var value T
	err := e.Do(ctx, func(ctx context.Context) error {
		v, fnErr := fn(ctx)
		value = v
		return fnErr
	})
	return value, err
}

// State returns the breaker's current state (infra.CircuitClosed/Open/HalfOpen).
func (e *Executor) State() string { return e.breaker.State() }
