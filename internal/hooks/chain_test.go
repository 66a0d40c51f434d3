package hooks

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/agentcore/runtime/pkg/models"
)

func newTestRegistry() *Registry {
	return NewRegistry(slog.Default())
}

func TestBeforeStartOrderIsStableByOrder(t *testing.T) {
	r := newTestRegistry()
	var order []string

	r.RegisterBeforeStart(func(ctx context.Context, hc *models.HookContext) (models.HookResult, error) {
		order = append(order, "second")
		return models.Continue(), nil
	}, WithOrder(2))
	r.RegisterBeforeStart(func(ctx context.Context, hc *models.HookContext) (models.HookResult, error) {
		order = append(order, "first")
		return models.Continue(), nil
	}, WithOrder(1))

	hc := models.NewHookContext("run1", "user1", "hi")
	result, err := r.RunBeforeStart(context.Background(), hc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != models.HookContinue {
		t.Fatalf("expected continue, got %v", result.Kind)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected [first second], got %v", order)
	}
}

func TestBeforeToolShortCircuitsOnReject(t *testing.T) {
	r := newTestRegistry()
	calledSecond := false

	r.RegisterBeforeTool(func(ctx context.Context, tc models.ToolCallContext) (models.HookResult, error) {
		return models.Reject("blocked by policy"), nil
	}, WithOrder(1))
	r.RegisterBeforeTool(func(ctx context.Context, tc models.ToolCallContext) (models.HookResult, error) {
		calledSecond = true
		return models.Continue(), nil
	}, WithOrder(2))

	hc := models.NewHookContext("run1", "user1", "hi")
	tc := models.ToolCallContext{AgentContext: hc, ToolName: "search"}

	result, err := r.RunBeforeTool(context.Background(), tc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != models.HookReject {
		t.Fatalf("expected reject, got %v", result.Kind)
	}
	if result.Reason != "blocked by policy" {
		t.Fatalf("unexpected reason: %q", result.Reason)
	}
	if calledSecond {
		t.Fatalf("expected second hook not to run after reject")
	}
}

func TestBeforeToolShortCircuitsOnPendingApproval(t *testing.T) {
	r := newTestRegistry()
	r.RegisterBeforeTool(func(ctx context.Context, tc models.ToolCallContext) (models.HookResult, error) {
		return models.PendingApprovalResult("needs human approval"), nil
	}, WithOrder(1))

	hc := models.NewHookContext("run1", "user1", "hi")
	tc := models.ToolCallContext{AgentContext: hc, ToolName: "delete_prod"}

	result, err := r.RunBeforeTool(context.Background(), tc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != models.HookPendingApproval {
		t.Fatalf("expected pending approval, got %v", result.Kind)
	}
}

func TestBeforeStartFailOpenContinuesOnError(t *testing.T) {
	r := newTestRegistry()
	secondRan := false

	r.RegisterBeforeStart(func(ctx context.Context, hc *models.HookContext) (models.HookResult, error) {
		return models.HookResult{}, errors.New("boom")
	}, WithOrder(1), WithFailOnError(false))
	r.RegisterBeforeStart(func(ctx context.Context, hc *models.HookContext) (models.HookResult, error) {
		secondRan = true
		return models.Continue(), nil
	}, WithOrder(2))

	hc := models.NewHookContext("run1", "user1", "hi")
	result, err := r.RunBeforeStart(context.Background(), hc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != models.HookContinue {
		t.Fatalf("expected continue (fail-open), got %v", result.Kind)
	}
	if !secondRan {
		t.Fatalf("expected chain to continue past the failing fail-open hook")
	}
}

func TestBeforeStartFailCloseRejectsOnError(t *testing.T) {
	r := newTestRegistry()
	secondRan := false

	r.RegisterBeforeStart(func(ctx context.Context, hc *models.HookContext) (models.HookResult, error) {
		return models.HookResult{}, errors.New("db unavailable")
	}, WithOrder(1), WithFailOnError(true))
	r.RegisterBeforeStart(func(ctx context.Context, hc *models.HookContext) (models.HookResult, error) {
		secondRan = true
		return models.Continue(), nil
	}, WithOrder(2))

	hc := models.NewHookContext("run1", "user1", "hi")
	result, err := r.RunBeforeStart(context.Background(), hc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != models.HookReject {
		t.Fatalf("expected reject (fail-close), got %v", result.Kind)
	}
	if result.Reason != "db unavailable" {
		t.Fatalf("expected reject reason to carry the hook error, got %q", result.Reason)
	}
	if secondRan {
		t.Fatalf("expected chain to stop after fail-close rejection")
	}
}

func TestCancellationAlwaysPropagatesRegardlessOfFailOnError(t *testing.T) {
	for _, failOnError := range []bool{true, false} {
		r := newTestRegistry()
		r.RegisterBeforeStart(func(ctx context.Context, hc *models.HookContext) (models.HookResult, error) {
			return models.HookResult{}, context.Canceled
		}, WithOrder(1), WithFailOnError(failOnError))

		hc := models.NewHookContext("run1", "user1", "hi")
		_, err := r.RunBeforeStart(context.Background(), hc)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("failOnError=%v: expected cancellation to propagate, got %v", failOnError, err)
		}
	}
}

func TestBeforeToolPanicRecoveredAsFailOnErrorPolicy(t *testing.T) {
	r := newTestRegistry()
	r.RegisterBeforeTool(func(ctx context.Context, tc models.ToolCallContext) (models.HookResult, error) {
		panic("unexpected nil pointer")
	}, WithOrder(1), WithFailOnError(true))

	hc := models.NewHookContext("run1", "user1", "hi")
	tc := models.ToolCallContext{AgentContext: hc, ToolName: "search"}

	result, err := r.RunBeforeTool(context.Background(), tc)
	if err != nil {
		t.Fatalf("unexpected error escaping panic recovery: %v", err)
	}
	if result.Kind != models.HookReject {
		t.Fatalf("expected panic to convert to reject under fail-close, got %v", result.Kind)
	}
}

func TestAfterToolRunsAllAndSwallowsFailOpenErrors(t *testing.T) {
	r := newTestRegistry()
	ran := []string{}

	r.RegisterAfterTool(func(ctx context.Context, tc models.ToolCallContext, result models.ToolCallResult) error {
		ran = append(ran, "first")
		return errors.New("logging backend down")
	}, WithOrder(1), WithFailOnError(false))
	r.RegisterAfterTool(func(ctx context.Context, tc models.ToolCallContext, result models.ToolCallResult) error {
		ran = append(ran, "second")
		return nil
	}, WithOrder(2))

	hc := models.NewHookContext("run1", "user1", "hi")
	tc := models.ToolCallContext{AgentContext: hc, ToolName: "search"}

	err := r.RunAfterTool(context.Background(), tc, models.ToolCallResult{Success: true})
	if err != nil {
		t.Fatalf("expected fail-open error to be swallowed, got %v", err)
	}
	if len(ran) != 2 || ran[0] != "first" || ran[1] != "second" {
		t.Fatalf("expected both after-tool hooks to run, got %v", ran)
	}
}

func TestAfterCompleteFailCloseStopsChainAndPropagates(t *testing.T) {
	r := newTestRegistry()
	secondRan := false

	r.RegisterAfterComplete(func(ctx context.Context, hc *models.HookContext, result models.AgentResult) error {
		return errors.New("persist failed")
	}, WithOrder(1), WithFailOnError(true))
	r.RegisterAfterComplete(func(ctx context.Context, hc *models.HookContext, result models.AgentResult) error {
		secondRan = true
		return nil
	}, WithOrder(2))

	hc := models.NewHookContext("run1", "user1", "hi")
	err := r.RunAfterComplete(context.Background(), hc, models.AgentResult{Success: true})
	if err == nil {
		t.Fatalf("expected fail-close error to propagate")
	}
	if secondRan {
		t.Fatalf("expected chain to stop after fail-close after-hook error")
	}
}

func TestUnregisterDisablesHook(t *testing.T) {
	r := newTestRegistry()
	ran := false
	id := r.RegisterBeforeStart(func(ctx context.Context, hc *models.HookContext) (models.HookResult, error) {
		ran = true
		return models.Continue(), nil
	}, WithOrder(1))

	if !r.Unregister(id) {
		t.Fatalf("expected unregister to find the hook")
	}

	hc := models.NewHookContext("run1", "user1", "hi")
	_, err := r.RunBeforeStart(context.Background(), hc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran {
		t.Fatalf("expected unregistered hook not to run")
	}
}
