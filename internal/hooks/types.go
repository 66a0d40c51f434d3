// Package hooks implements ordered, cooperative lifecycle extension points
// with explicit fail-open/fail-close policy, for the four stages of one
// agent run: BeforeAgentStart, BeforeToolCall, AfterToolCall, and
// AfterAgentComplete.
package hooks

import (
	"context"

	"github.com/agentcore/runtime/pkg/models"
)

// BeforeStartHook runs before the ReAct loop starts.
type BeforeStartHook func(ctx context.Context, hc *models.HookContext) (models.HookResult, error)

// BeforeToolHook runs before a tool is invoked.
type BeforeToolHook func(ctx context.Context, tc models.ToolCallContext) (models.HookResult, error)

// AfterToolHook observes a completed tool invocation. It cannot reject.
type AfterToolHook func(ctx context.Context, tc models.ToolCallContext, result models.ToolCallResult) error

// AfterCompleteHook observes the finished run. It cannot reject.
type AfterCompleteHook func(ctx context.Context, hc *models.HookContext, result models.AgentResult) error

// Registration pairs a hook with its ordering and fail policy. Exactly one
// of the four handler fields should be set, matching the kind of
// Registration's owning chain.
type Registration struct {
	ID          string
	Order       int
	Enabled     bool
	FailOnError bool
	Name        string

	BeforeStart   BeforeStartHook
	BeforeTool    BeforeToolHook
	AfterTool     AfterToolHook
	AfterComplete AfterCompleteHook
}
