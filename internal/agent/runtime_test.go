package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/agentcore/runtime/internal/guard"
	"github.com/agentcore/runtime/internal/hooks"
	"github.com/agentcore/runtime/internal/toolpolicy"
	"github.com/agentcore/runtime/pkg/models"
)

// scriptedProvider replays a fixed sequence of turns: each turn is either a
// final text response or a set of tool calls to make, one turn per
// successive Complete call.
type scriptedProvider struct {
	turns [][]*CompletionChunk
	calls int
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if p.calls >= len(p.turns) {
		return nil, errors.New("scriptedProvider: no more turns scripted")
	}
	turn := p.turns[p.calls]
	p.calls++

	out := make(chan *CompletionChunk, len(turn)+1)
	for _, c := range turn {
		out <- c
	}
	out <- &CompletionChunk{Done: true}
	close(out)
	return out, nil
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []Model     { return nil }
func (p *scriptedProvider) SupportsTools() bool { return true }

func textTurn(text string) []*CompletionChunk {
	return []*CompletionChunk{{Text: text}}
}

func toolCallTurn(id, name string, input json.RawMessage) []*CompletionChunk {
	return []*CompletionChunk{{ToolCall: &models.ToolCall{ID: id, Name: name, Input: input}}}
}

type echoTool struct{ name string }

func (t *echoTool) Name() string           { return t.name }
func (t *echoTool) Description() string    { return "echoes its input" }
func (t *echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *echoTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return &ToolResult{Content: string(params)}, nil
}

func newTestRuntime(t *testing.T, provider LLMProvider, tools ...Tool) *Runtime {
	t.Helper()
	registry := NewToolRegistry()
	for _, tool := range tools {
		registry.Register(tool)
	}
	rt := NewRuntime(provider, registry, DefaultRuntimeOptions())
	return rt
}

func TestExecutePlainTextResponse(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{textTurn("hello there")}}
	rt := newTestRuntime(t, provider)

	result, err := rt.Execute(context.Background(), models.AgentCommand{UserPrompt: "hi", UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.Content != "hello there" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ErrorCode != "" {
		t.Fatalf("expected no error code, got %q", result.ErrorCode)
	}
}

func TestExecuteGuardRejection(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{textTurn("should not run")}}
	rt := newTestRuntime(t, provider)
	rt.SetGuard(guard.New(rejectingStage{}))

	result, err := rt.Execute(context.Background(), models.AgentCommand{UserPrompt: "hi", UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatalf("expected rejection, got success")
	}
	if result.ErrorCode != models.ErrorGuardRejected {
		t.Fatalf("expected GUARD_REJECTED, got %q", result.ErrorCode)
	}
}

type rejectingStage struct{}

func (rejectingStage) Name() string  { return "deny-all" }
func (rejectingStage) Order() int    { return 0 }
func (rejectingStage) Check(cmd guard.GuardCommand) models.GuardResult {
	return models.GuardRejected("blocked for testing", models.GuardCategory(""), "")
}

func TestExecuteBeforeStartHookPendingApproval(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{textTurn("should not run")}}
	rt := newTestRuntime(t, provider)

	registry := hooks.NewRegistry(nil)
	registry.RegisterBeforeStart(func(ctx context.Context, hc *models.HookContext) (models.HookResult, error) {
		return models.PendingApprovalResult("waiting on a human"), nil
	})
	rt.SetHooks(registry)

	result, err := rt.Execute(context.Background(), models.AgentCommand{UserPrompt: "hi", UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || result.ErrorCode != models.ErrorPendingApproval {
		t.Fatalf("expected PENDING_APPROVAL, got %+v", result)
	}
}

// TestMaxToolCallsSynthesizesAndContinues is the regression test for the
// review-flagged bug: hitting the tool-call budget must not abort the run,
// it must synthesize an error tool result and let the loop reach a final
// answer on a later turn.
func TestMaxToolCallsSynthesizesAndContinues(t *testing.T) {
	rt := newTestRuntime(t, &scriptedProvider{}, &echoTool{name: "echo"})

	msg, invoked, name := rt.handleToolCall(context.Background(), models.NewHookContext("r1", "u1", "hi"), "r1", "u1", "", models.ToolCall{ID: "x", Name: "echo"}, 0, 1, 1, nil, rt.logger)
	if invoked {
		t.Fatalf("expected tool call at the limit to not be invoked")
	}
	if name != "echo" {
		t.Fatalf("expected tool name echo, got %q", name)
	}
	if len(msg.ToolResults) != 1 || msg.ToolResults[0].Content != "Error: Maximum tool call limit reached" {
		t.Fatalf("expected synthesized limit error, got %+v", msg.ToolResults)
	}
	if !msg.ToolResults[0].IsError {
		t.Fatalf("expected synthesized limit result to be marked as an error")
	}
}

// TestMaxToolCallsRunContinuesToFinalAnswer exercises the full loop: the
// first iteration exhausts the tool-call budget, the second iteration still
// runs and reaches a final answer rather than the run aborting.
func TestMaxToolCallsRunContinuesToFinalAnswer(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{
			{ToolCall: &models.ToolCall{ID: "call-1", Name: "echo", Input: json.RawMessage(`{"a":1}`)}},
			{ToolCall: &models.ToolCall{ID: "call-2", Name: "echo", Input: json.RawMessage(`{"a":2}`)}},
		},
		textTurn("done after limit"),
	}}
	rt := newTestRuntime(t, provider, &echoTool{name: "echo"})
	rt.opts.MaxToolCalls = 1

	result, err := rt.Execute(context.Background(), models.AgentCommand{
		UserPrompt: "hi",
		UserID:     "u1",
		Mode:       models.ModeReact,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.Content != "done after limit" {
		t.Fatalf("expected the run to continue past the tool call and finish, got %+v", result)
	}
}

func TestHandleToolCallNotFound(t *testing.T) {
	rt := newTestRuntime(t, &scriptedProvider{})
	msg, invoked, _ := rt.handleToolCall(context.Background(), models.NewHookContext("r1", "u1", "hi"), "r1", "u1", "", models.ToolCall{ID: "x", Name: "missing"}, 0, 0, 0, nil, rt.logger)
	if invoked {
		t.Fatalf("expected missing tool to not be invoked")
	}
	if msg.ToolResults[0].Content != "Error: Tool 'missing' not found" {
		t.Fatalf("unexpected message: %+v", msg.ToolResults)
	}
}

func TestHandleToolCallPolicyReject(t *testing.T) {
	rt := newTestRuntime(t, &scriptedProvider{}, &echoTool{name: "echo"})
	rt.SetToolPolicy(toolpolicy.New([]string{"echo"}, []string{"readonly"}, "writes are blocked on this channel", nil))

	msg, invoked, _ := rt.handleToolCall(context.Background(), models.NewHookContext("r1", "u1", "hi"), "r1", "u1", "readonly", models.ToolCall{ID: "x", Name: "echo", Input: json.RawMessage(`{}`)}, 0, 0, 0, nil, rt.logger)
	if invoked {
		t.Fatalf("expected policy rejection to prevent invocation")
	}
	if msg.ToolResults[0].Content != "writes are blocked on this channel" {
		t.Fatalf("unexpected message: %+v", msg.ToolResults)
	}
}

func TestHandleToolCallBeforeToolHookReject(t *testing.T) {
	rt := newTestRuntime(t, &scriptedProvider{}, &echoTool{name: "echo"})
	registry := hooks.NewRegistry(nil)
	registry.RegisterBeforeTool(func(ctx context.Context, tc models.ToolCallContext) (models.HookResult, error) {
		return models.Reject("not allowed"), nil
	})
	rt.SetHooks(registry)

	msg, invoked, _ := rt.handleToolCall(context.Background(), models.NewHookContext("r1", "u1", "hi"), "r1", "u1", "", models.ToolCall{ID: "x", Name: "echo", Input: json.RawMessage(`{}`)}, 0, 0, 0, nil, rt.logger)
	if invoked {
		t.Fatalf("expected hook rejection to prevent invocation")
	}
	if msg.ToolResults[0].Content != "Tool call rejected: not allowed" {
		t.Fatalf("unexpected message: %+v", msg.ToolResults)
	}
}

func TestExecuteRAGFailOpen(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{textTurn("answer without context")}}
	rt := newTestRuntime(t, provider)
	rt.SetRAG(true, 3, false)
	rt.SetRetriever(failingRetriever{})

	result, err := rt.Execute(context.Background(), models.AgentCommand{UserPrompt: "hi", UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.Content != "answer without context" {
		t.Fatalf("expected the run to succeed despite a failing retriever, got %+v", result)
	}
}

type failingRetriever struct{}

func (failingRetriever) Retrieve(ctx context.Context, query string, topK int, rerank bool) (string, bool, error) {
	return "", false, errors.New("index unavailable")
}

func TestExecuteStreamEmitsErrorSentinel(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{{Error: errors.New("rate limit exceeded")}},
	}}
	rt := newTestRuntime(t, provider)

	chunks, err := rt.ExecuteStream(context.Background(), models.AgentCommand{UserPrompt: "hi", UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawErrorSentinel bool
	for chunk := range chunks {
		if chunk.Text != "" && chunk.Text[:7] == "[error]" {
			sawErrorSentinel = true
		}
	}
	if !sawErrorSentinel {
		t.Fatalf("expected a [error] sentinel chunk on failure")
	}
}

func TestTranslateAgentError(t *testing.T) {
	cases := []struct {
		message string
		want    models.ErrorCode
	}{
		{"rate limit exceeded, slow down", models.ErrorRateLimited},
		{"context deadline exceeded", models.ErrorTimeout},
		{"context length exceeded for model", models.ErrorContextTooLong},
		{"tool invocation failed", models.ErrorToolError},
		{"something odd happened", models.ErrorUnknown},
	}
	for _, tc := range cases {
		code, _ := translateAgentError(errors.New(tc.message))
		if code != tc.want {
			t.Errorf("translateAgentError(%q) = %q, want %q", tc.message, code, tc.want)
		}
	}
}

func TestFitHistoryToWindowDropsOldestUnderTightBudget(t *testing.T) {
	history := make([]models.Message, 6)
	for i := range history {
		history[i] = models.Message{Role: models.RoleUser, Content: strings.Repeat("x", 4000)}
	}

	fitted := fitHistoryToWindow(history, "gpt-4", 4096)
	if len(fitted) == 0 || len(fitted) >= len(history) {
		t.Fatalf("expected a tight gpt-4 budget to drop some but not all history, got %d of %d", len(fitted), len(history))
	}
	// The surviving messages must be the most recent ones, in order.
	if fitted[len(fitted)-1].Content != history[len(history)-1].Content {
		t.Fatalf("expected the most recent message to survive truncation")
	}
}

func TestFitHistoryToWindowNoOpUnderGenerousBudget(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
	}
	fitted := fitHistoryToWindow(history, "claude-3-5-sonnet", 4096)
	if len(fitted) != len(history) {
		t.Fatalf("expected a generous budget to leave history untouched, got %d of %d", len(fitted), len(history))
	}
}

func TestEffectiveMaxToolCalls(t *testing.T) {
	cases := []struct {
		cmdMax, globalMax, want int
	}{
		{0, 0, 0},
		{5, 0, 5},
		{0, 5, 5},
		{3, 5, 3},
		{5, 3, 3},
	}
	for _, tc := range cases {
		if got := effectiveMaxToolCalls(tc.cmdMax, tc.globalMax); got != tc.want {
			t.Errorf("effectiveMaxToolCalls(%d, %d) = %d, want %d", tc.cmdMax, tc.globalMax, got, tc.want)
		}
	}
}
