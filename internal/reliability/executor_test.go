package reliability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentcore/runtime/internal/infra"
	"github.com/agentcore/runtime/internal/retry"
)

func fastConfig(name string) Config {
	return Config{
		Breaker: infra.CircuitBreakerConfig{
			Name:             name,
			FailureThreshold: 2,
			SuccessThreshold: 1,
			Timeout:          20 * time.Millisecond,
		},
		Retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Factor:       2,
		},
		AttemptTimeout: 50 * time.Millisecond,
	}
}

func TestDoRetriesRetryableErrorsThenSucceeds(t *testing.T) {
	e := New(fastConfig("svc"))
	var attempts int32

	err := e.Do(context.Background(), func(ctx context.Context) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			return &StatusError{StatusCode: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestDoDoesNotRetryNonRetryableStatus(t *testing.T) {
	e := New(fastConfig("svc2"))
	var attempts int32

	err := e.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return &StatusError{StatusCode: 400}
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt for a non-retryable status, got %d", attempts)
	}
}

func TestDoRetriesByCodeString(t *testing.T) {
	e := New(fastConfig("svc3"))
	var attempts int32

	err := e.Do(context.Background(), func(ctx context.Context) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			return &StatusError{Code: "rate_limited"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected retry on rate_limited code, got %d attempts", attempts)
	}
}

func TestBreakerOpensAfterRepeatedFailuresAcrossCalls(t *testing.T) {
	e := New(fastConfig("svc4"))

	alwaysFail := func(ctx context.Context) error {
		return &StatusError{StatusCode: 500}
	}

	e.Do(context.Background(), alwaysFail)
	e.Do(context.Background(), alwaysFail)

	if e.State() != infra.CircuitOpen {
		t.Fatalf("expected breaker to open after repeated failures, state=%s", e.State())
	}

	err := e.Do(context.Background(), func(ctx context.Context) error {
		t.Fatalf("fn should not be invoked while breaker is open")
		return nil
	})
	if !errors.Is(err, infra.ErrCircuitOpen) {
		t.Fatalf("expected circuit-open error, got %v", err)
	}
}
