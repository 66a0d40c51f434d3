package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/agentcore/runtime/pkg/models"
)

// Option configures a Registration at registration time.
type Option func(*Registration)

// WithOrder sets the ascending sort key for a hook.
func WithOrder(order int) Option {
	return func(r *Registration) { r.Order = order }
}

// WithFailOnError selects fail-close (true) or fail-open (false) behavior
// for this hook's errors. Cancellation always propagates regardless.
func WithFailOnError(failClose bool) Option {
	return func(r *Registration) { r.FailOnError = failClose }
}

// WithHookName sets a debugging name for a registration.
func WithHookName(name string) Option {
	return func(r *Registration) { r.Name = name }
}

// Registry holds the four ordered hook chains for one agent configuration.
// Each kind's hooks are sorted by ascending Order and filtered by Enabled
// once per call, matching spec.md §4.2 step 1 — matching the teacher's
// Registry.Trigger sort-on-dispatch approach from internal/hooks/registry.go,
// but replacing its "run everything, aggregate first error" control flow
// with strict short-circuit on Reject/PendingApproval.
type Registry struct {
	mu     sync.RWMutex
	logger *slog.Logger

	beforeStart   []*Registration
	beforeTool    []*Registration
	afterTool     []*Registration
	afterComplete []*Registration
}

// NewRegistry creates an empty hook registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger.With("component", "hooks")}
}

func newRegistration(opts []Option) *Registration {
	reg := &Registration{ID: uuid.New().String(), Enabled: true}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// RegisterBeforeStart adds a BeforeAgentStart hook.
func (r *Registry) RegisterBeforeStart(fn BeforeStartHook, opts ...Option) string {
	reg := newRegistration(opts)
	reg.BeforeStart = fn
	r.mu.Lock()
	r.beforeStart = append(r.beforeStart, reg)
	r.mu.Unlock()
	return reg.ID
}

// RegisterBeforeTool adds a BeforeToolCall hook.
func (r *Registry) RegisterBeforeTool(fn BeforeToolHook, opts ...Option) string {
	reg := newRegistration(opts)
	reg.BeforeTool = fn
	r.mu.Lock()
	r.beforeTool = append(r.beforeTool, reg)
	r.mu.Unlock()
	return reg.ID
}

// RegisterAfterTool adds an AfterToolCall hook.
func (r *Registry) RegisterAfterTool(fn AfterToolHook, opts ...Option) string {
	reg := newRegistration(opts)
	reg.AfterTool = fn
	r.mu.Lock()
	r.afterTool = append(r.afterTool, reg)
	r.mu.Unlock()
	return reg.ID
}

// RegisterAfterComplete adds an AfterAgentComplete hook.
func (r *Registry) RegisterAfterComplete(fn AfterCompleteHook, opts ...Option) string {
	reg := newRegistration(opts)
	reg.AfterComplete = fn
	r.mu.Lock()
	r.afterComplete = append(r.afterComplete, reg)
	r.mu.Unlock()
	return reg.ID
}

// Unregister disables a hook by ID in whichever chain holds it; the
// registration stays in the chain but no longer runs.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, list := range [][]*Registration{r.beforeStart, r.beforeTool, r.afterTool, r.afterComplete} {
		for i, reg := range list {
			if reg.ID == id {
				reg.Enabled = false
				_ = i
				return true
			}
		}
	}
	return false
}

func sortedEnabled(list []*Registration) []*Registration {
	out := make([]*Registration, 0, len(list))
	for _, reg := range list {
		if reg.Enabled {
			out = append(out, reg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// RunBeforeStart runs BeforeAgentStart hooks in order. It returns early
// with the first Reject/PendingApproval result. A non-nil error means
// cancellation, which always propagates regardless of any hook's
// FailOnError setting; callers must not swallow it.
func (r *Registry) RunBeforeStart(ctx context.Context, hc *models.HookContext) (models.HookResult, error) {
	r.mu.RLock()
	chain := sortedEnabled(r.beforeStart)
	r.mu.RUnlock()

	for _, reg := range chain {
		result, err := r.invokeBeforeStart(ctx, reg, hc)
		if err != nil {
			return models.HookResult{}, err
		}
		if result.Kind != models.HookContinue {
			return result, nil
		}
	}
	return models.Continue(), nil
}

func (r *Registry) invokeBeforeStart(ctx context.Context, reg *Registration, hc *models.HookContext) (result models.HookResult, cancelErr error) {
	defer func() {
		if p := recover(); p != nil {
			result, cancelErr = r.handleBeforeError(reg, fmt.Errorf("hook panic: %v", p))
		}
	}()

	res, err := reg.BeforeStart(ctx, hc)
	if err != nil {
		return r.handleBeforeError(reg, err)
	}
	return res, nil
}

func (r *Registry) handleBeforeError(reg *Registration, err error) (models.HookResult, error) {
	if isCancellation(err) {
		return models.HookResult{}, err
	}
	if reg.FailOnError {
		return models.Reject(err.Error()), nil
	}
	r.logger.Warn("before hook failed, continuing (fail-open)", "hook", reg.Name, "error", err)
	return models.Continue(), nil
}

// RunBeforeTool runs BeforeToolCall hooks for one tool call. Same
// short-circuit/error semantics as RunBeforeStart.
func (r *Registry) RunBeforeTool(ctx context.Context, tc models.ToolCallContext) (models.HookResult, error) {
	r.mu.RLock()
	chain := sortedEnabled(r.beforeTool)
	r.mu.RUnlock()

	for _, reg := range chain {
		result, err := r.invokeBeforeTool(ctx, reg, tc)
		if err != nil {
			return models.HookResult{}, err
		}
		if result.Kind != models.HookContinue {
			return result, nil
		}
	}
	return models.Continue(), nil
}

func (r *Registry) invokeBeforeTool(ctx context.Context, reg *Registration, tc models.ToolCallContext) (result models.HookResult, cancelErr error) {
	defer func() {
		if p := recover(); p != nil {
			result, cancelErr = r.handleBeforeError(reg, fmt.Errorf("hook panic: %v", p))
		}
	}()

	res, err := reg.BeforeTool(ctx, tc)
	if err != nil {
		return r.handleBeforeError(reg, err)
	}
	return res, nil
}

// RunAfterTool runs AfterToolCall hooks. A non-nil return means either a
// genuine FailOnError=true hook error, or cancellation — both propagate to
// the caller per spec.md §4.2 step 4.
func (r *Registry) RunAfterTool(ctx context.Context, tc models.ToolCallContext, result models.ToolCallResult) error {
	r.mu.RLock()
	chain := sortedEnabled(r.afterTool)
	r.mu.RUnlock()

	for _, reg := range chain {
		if err := r.invokeAfterTool(ctx, reg, tc, result); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) invokeAfterTool(ctx context.Context, reg *Registration, tc models.ToolCallContext, result models.ToolCallResult) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = r.handleAfterError(reg, fmt.Errorf("hook panic: %v", p))
		}
	}()

	if hookErr := reg.AfterTool(ctx, tc, result); hookErr != nil {
		return r.handleAfterError(reg, hookErr)
	}
	return nil
}

// RunAfterComplete runs AfterAgentComplete hooks. Same propagation rule as
// RunAfterTool.
func (r *Registry) RunAfterComplete(ctx context.Context, hc *models.HookContext, result models.AgentResult) error {
	r.mu.RLock()
	chain := sortedEnabled(r.afterComplete)
	r.mu.RUnlock()

	for _, reg := range chain {
		if err := r.invokeAfterComplete(ctx, reg, hc, result); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) invokeAfterComplete(ctx context.Context, reg *Registration, hc *models.HookContext, result models.AgentResult) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = r.handleAfterError(reg, fmt.Errorf("hook panic: %v", p))
		}
	}()

	if hookErr := reg.AfterComplete(ctx, hc, result); hookErr != nil {
		return r.handleAfterError(reg, hookErr)
	}
	return nil
}

func (r *Registry) handleAfterError(reg *Registration, err error) error {
	if isCancellation(err) {
		return err
	}
	if reg.FailOnError {
		return err
	}
	r.logger.Warn("after hook failed, swallowing (fail-open)", "hook", reg.Name, "error", err)
	return nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
