package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/runtime/internal/approval"
	agentctx "github.com/agentcore/runtime/internal/context"
	"github.com/agentcore/runtime/internal/guard"
	"github.com/agentcore/runtime/internal/hooks"
	"github.com/agentcore/runtime/internal/idempotency"
	"github.com/agentcore/runtime/internal/memorystore"
	"github.com/agentcore/runtime/internal/rag"
	"github.com/agentcore/runtime/internal/reliability"
	"github.com/agentcore/runtime/internal/toolpolicy"
	"github.com/agentcore/runtime/pkg/models"
)

// ToolSelector narrows the tool set offered to the LLM for one request.
// Grounded on spec.md §6's "Tool Selector: select(prompt, allTools) →
// subset" collaborator; nil means every registered tool is offered as-is.
type ToolSelector interface {
	Select(prompt string, tools []Tool) []Tool
}

// Runtime is the Agent Executor: it runs one models.AgentCommand through
// the ReAct core, wiring together every collaborator of §4 into the
// ten-step per-run lifecycle of §4.8. It satisfies internal/scheduler's
// AgentExecutor interface.
//
// Grounded on the teacher's internal/agent/runtime.go Runtime (the
// provider/registry/event-chunk plumbing) and internal/agent/loop.go (the
// iterate-until-no-tool-calls state machine), generalized from the
// teacher's own Session/Message-oriented Process(ctx, session, msg) entry
// point to the spec's AgentCommand/AgentResult contract, and rewired to
// consult Guard, Hooks, Memory Store, RAG, Tool Policy, Approval Store,
// Idempotency Service, and the Circuit Breaker + Retry Executor at the
// points §4.8 names them.
type Runtime struct {
	provider LLMProvider
	tools    *ToolRegistry
	toolExec *Executor

	guard        *guard.Pipeline
	hooks        *hooks.Registry
	memory       *memorystore.Store
	approvals    *approval.Store
	policy       *toolpolicy.Policy
	idempotent   *idempotency.Service
	reliability  *reliability.Executor
	retriever    rag.Retriever
	toolSelector ToolSelector

	opts RuntimeOptions

	defaultModel       string
	defaultSystemPrompt string
	defaultTemperature *float64
	maxOutputTokens    int

	maxConversationTurns int
	maxToolsPerRequest   int
	ragEnabled           bool
	ragTopK              int
	ragRerank            bool

	sem           chan struct{}
	admissionWait time.Duration
	requestTimeout time.Duration

	sessionLocksMu sync.Mutex
	sessionLocks   map[string]*sessionLock

	logger *slog.Logger
}

// NewRuntime constructs a Runtime with its required collaborators. Every
// other collaborator (guard, hooks, memory, approvals, policy,
// idempotency, reliability, retriever, tool selector) is optional and
// wired in later via the Set* methods; an absent collaborator causes its
// pipeline step to be skipped rather than erroring, matching the
// fail-open posture spec.md §4.8 describes for RAG and §4.2 describes for
// hooks.
func NewRuntime(provider LLMProvider, registry *ToolRegistry, opts RuntimeOptions) *Runtime {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	execConfig := DefaultExecutorConfig()
	if opts.ToolParallelism > 0 {
		execConfig.MaxConcurrency = opts.ToolParallelism
	}
	if opts.ToolTimeout > 0 {
		execConfig.DefaultTimeout = opts.ToolTimeout
	}
	if opts.ToolMaxAttempts > 0 {
		execConfig.DefaultRetries = opts.ToolMaxAttempts - 1
	}
	if opts.ToolRetryBackoff > 0 {
		execConfig.RetryBackoff = opts.ToolRetryBackoff
	}

	return &Runtime{
		provider:             provider,
		tools:                registry,
		toolExec:             NewExecutor(registry, execConfig),
		opts:                 opts,
		maxOutputTokens:      4096,
		maxConversationTurns: 20,
		maxToolsPerRequest:   32,
		sessionLocks:         make(map[string]*sessionLock),
		logger:               opts.Logger.With("component", "agent.Runtime"),
	}
}

func (r *Runtime) SetGuard(p *guard.Pipeline)             { r.guard = p }
func (r *Runtime) SetHooks(h *hooks.Registry)             { r.hooks = h }
func (r *Runtime) SetMemoryStore(s *memorystore.Store)    { r.memory = s }
func (r *Runtime) SetApprovalStore(s *approval.Store)     { r.approvals = s }
func (r *Runtime) SetToolPolicy(p *toolpolicy.Policy)     { r.policy = p }
func (r *Runtime) SetIdempotency(s *idempotency.Service)  { r.idempotent = s }
func (r *Runtime) SetReliability(e *reliability.Executor) { r.reliability = e }
func (r *Runtime) SetRetriever(ret rag.Retriever)         { r.retriever = ret }
func (r *Runtime) SetToolSelector(s ToolSelector)         { r.toolSelector = s }
func (r *Runtime) SetToolExecutor(e *Executor)            { r.toolExec = e }

func (r *Runtime) SetDefaultModel(model string)            { r.defaultModel = model }
func (r *Runtime) SetSystemPrompt(prompt string)           { r.defaultSystemPrompt = prompt }
func (r *Runtime) SetDefaultTemperature(temp float64)      { r.defaultTemperature = &temp }
func (r *Runtime) SetMaxOutputTokens(n int)                { r.maxOutputTokens = n }
func (r *Runtime) SetMaxConversationTurns(n int)           { r.maxConversationTurns = n }
func (r *Runtime) SetMaxToolsPerRequest(n int)             { r.maxToolsPerRequest = n }

// SetRAG enables retrieval-augmented generation. topK and rerank are
// passed verbatim to the configured Retriever on every call.
func (r *Runtime) SetRAG(enabled bool, topK int, rerank bool) {
	r.ragEnabled = enabled
	r.ragTopK = topK
	r.ragRerank = rerank
}

// SetConcurrency configures the global admission semaphore of §5: at most
// maxConcurrent executions run at once; a request unable to acquire a
// permit within admissionWait is rejected as busy. requestTimeout, if
// positive, bounds one execute(cmd) call end to end.
func (r *Runtime) SetConcurrency(maxConcurrent int, admissionWait, requestTimeout time.Duration) {
	if maxConcurrent > 0 {
		r.sem = make(chan struct{}, maxConcurrent)
	} else {
		r.sem = nil
	}
	r.admissionWait = admissionWait
	r.requestTimeout = requestTimeout
}

func (r *Runtime) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	r.logger = logger.With("component", "agent.Runtime")
}

// RegisterTool adds a tool to the runtime's registry.
func (r *Runtime) RegisterTool(tool Tool) { r.tools.Register(tool) }

// UnregisterTool removes a tool from the runtime's registry.
func (r *Runtime) UnregisterTool(name string) { r.tools.Unregister(name) }

// Execute runs cmd to completion and returns the aggregated result. It
// implements internal/scheduler.AgentExecutor.
func (r *Runtime) Execute(ctx context.Context, cmd models.AgentCommand) (models.AgentResult, error) {
	started := time.Now()

	release, busy := r.acquireAdmission(ctx)
	defer release()
	if busy {
		return busyResult(started), nil
	}

	ctx, cancel := r.boundRequest(ctx)
	defer cancel()

	return r.executeCore(ctx, cmd, started, nil)
}

// ExecuteStream runs cmd to completion, streaming text chunks and tool
// start/end markers as they occur. The channel is always closed once the
// run finishes; a run-ending error is delivered as a "[error] ..." text
// chunk rather than a Go error, per spec.md §7's streaming contract.
func (r *Runtime) ExecuteStream(ctx context.Context, cmd models.AgentCommand) (<-chan *ResponseChunk, error) {
	started := time.Now()

	release, busy := r.acquireAdmission(ctx)
	if busy {
		release()
		out := make(chan *ResponseChunk, 1)
		out <- &ResponseChunk{Text: "[error] system busy: too many concurrent requests"}
		close(out)
		return out, nil
	}

	ctx, cancel := r.boundRequest(ctx)

	out := make(chan *ResponseChunk, 16)
	go func() {
		defer cancel()
		defer release()
		defer close(out)

		emit := func(c *ResponseChunk) {
			select {
			case out <- c:
			case <-ctx.Done():
			}
		}

		result, err := r.executeCore(ctx, cmd, started, emit)
		if err != nil {
			emit(&ResponseChunk{Text: "[error] " + err.Error(), Error: err})
			return
		}
		if !result.Success {
			emit(&ResponseChunk{Text: "[error] " + result.ErrorMessage})
		}
	}()
	return out, nil
}

func (r *Runtime) boundRequest(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.requestTimeout)
}

func (r *Runtime) acquireAdmission(ctx context.Context) (release func(), busy bool) {
	if r.sem == nil {
		return func() {}, false
	}

	wait := r.admissionWait
	if wait <= 0 {
		wait = 50 * time.Millisecond
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case r.sem <- struct{}{}:
		return func() { <-r.sem }, false
	case <-ctx.Done():
		return func() {}, true
	case <-timer.C:
		return func() {}, true
	}
}

func busyResult(started time.Time) models.AgentResult {
	return models.AgentResult{
		Success:      false,
		ErrorCode:    models.ErrorRateLimited,
		ErrorMessage: "system busy: too many concurrent requests",
		ToolsUsed:    []string{},
		DurationMs:   time.Since(started).Milliseconds(),
	}
}

// executeCore implements the ten-step lifecycle of spec.md §4.8. Both
// Execute and ExecuteStream funnel through here; emit is nil for the
// non-streaming path.
func (r *Runtime) executeCore(ctx context.Context, cmd models.AgentCommand, started time.Time, emit func(*ResponseChunk)) (models.AgentResult, error) {
	// Step 1: allocate.
	runID := uuid.New().String()
	sessionID := cmd.SessionID()
	hc := models.NewHookContext(runID, cmd.UserID, cmd.UserPrompt)
	log := r.logger.With("run_id", runID, "user_id", cmd.UserID, "session_id", sessionID)

	unlock := r.lockSession(sessionID)
	defer unlock()

	// Step 2: guard.
	if cmd.UserID != "" && r.guard != nil {
		result := r.guard.Evaluate(guard.GuardCommand{UserID: cmd.UserID, Text: cmd.UserPrompt, Metadata: cmd.Metadata})
		if !result.Allowed {
			log.Warn("guard rejected command", "stage", result.Stage, "reason", result.Reason)
			return failureResult(models.ErrorGuardRejected, result.Reason, started), nil
		}
	}

	// Step 3: BeforeAgentStart hooks.
	if r.hooks != nil {
		result, err := r.hooks.RunBeforeStart(ctx, hc)
		if err != nil {
			return models.AgentResult{}, err
		}
		switch result.Kind {
		case models.HookReject:
			return failureResult(models.ErrorUnknown, result.Reason, started), nil
		case models.HookPendingApproval:
			return failureResult(models.ErrorPendingApproval, "Pending approval: "+result.Message, started), nil
		}
	}

	model := cmd.Model
	if model == "" {
		model = r.defaultModel
	}

	// Step 4: history.
	history := cmd.ConversationHistory
	if len(history) == 0 && sessionID != "" && r.memory != nil {
		mem := r.memory.GetOrCreate(sessionID)
		history = mem.History()
	}
	history = truncateHistory(history, r.maxConversationTurns*2)
	history = fitHistoryToWindow(history, model, r.maxOutputTokens)

	// Step 5: RAG.
	systemPrompt := cmd.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = r.defaultSystemPrompt
	}
	if r.ragEnabled && r.retriever != nil {
		retrieved, hasDocs, err := r.retriever.Retrieve(ctx, cmd.UserPrompt, r.ragTopK, r.ragRerank)
		if err != nil {
			log.Warn("rag retrieval failed, continuing without context", "error", err)
		} else if hasDocs {
			systemPrompt = strings.TrimSpace(systemPrompt + "\n\n[Retrieved Context]\n" + retrieved)
		}
	}

	// Step 6: tool selection.
	var selectedTools []Tool
	if cmd.Mode != models.ModeStandard {
		selectedTools = r.tools.AsLLMTools()
		if r.toolSelector != nil {
			selectedTools = r.toolSelector.Select(cmd.UserPrompt, selectedTools)
		}
		if r.maxToolsPerRequest > 0 && len(selectedTools) > r.maxToolsPerRequest {
			selectedTools = selectedTools[:r.maxToolsPerRequest]
		}
	}

	// Step 7: ReAct loop.
	temperature := cmd.Temperature
	if temperature == nil {
		temperature = r.defaultTemperature
	}

	messages := append(toCompletionMessages(history), CompletionMessage{Role: string(models.RoleUser), Content: cmd.UserPrompt})

	globalMax := r.opts.MaxToolCalls
	effectiveMax := effectiveMaxToolCalls(cmd.MaxToolCalls, globalMax)

	maxIterations := r.opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 25
	}
	if effectiveMax > 0 && effectiveMax+1 < maxIterations {
		maxIterations = effectiveMax + 1
	}

	var finalText string
	var tokenUsage models.TokenUsage
	totalToolCalls := 0
	channel, _ := cmd.Metadata["channel"].(string)

	for iteration := 0; iteration < maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return models.AgentResult{}, err
		}

		req := &CompletionRequest{
			Model:       model,
			System:      systemPrompt,
			Messages:    messages,
			Tools:       selectedTools,
			MaxTokens:   r.maxOutputTokens,
			Temperature: temperature,
		}

		text, toolCalls, usage, err := r.runLLM(ctx, req, emit)
		tokenUsage.Prompt += usage.Prompt
		tokenUsage.Completion += usage.Completion
		tokenUsage.Total += usage.Total
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return models.AgentResult{}, err
			}
			code, message := translateAgentError(err)
			log.Error("llm call failed", "error", err, "error_code", code)
			return failureResult(code, message, started), nil
		}

		if len(toolCalls) == 0 {
			finalText = text
			break
		}

		messages = append(messages, CompletionMessage{Role: string(models.RoleAssistant), Content: text, ToolCalls: toolCalls})

		if len(toolCalls) > MaxToolCallsPerIteration {
			toolCalls = toolCalls[:MaxToolCallsPerIteration]
		}

		for idx, call := range toolCalls {
			resultMsg, invoked, toolName := r.handleToolCall(ctx, hc, runID, cmd.UserID, channel, call, idx, totalToolCalls, effectiveMax, emit, log)
			messages = append(messages, resultMsg)
			if invoked {
				totalToolCalls++
				hc.AppendToolUsed(toolName)
			}
		}

		if err := ctx.Err(); err != nil {
			return models.AgentResult{}, err
		}
	}

	// Step 8: persist.
	if sessionID != "" && r.memory != nil {
		mem := r.memory.GetOrCreate(sessionID)
		mem.Append(models.Message{SessionID: sessionID, Role: models.RoleUser, Content: cmd.UserPrompt})
		mem.Append(models.Message{SessionID: sessionID, Role: models.RoleAssistant, Content: finalText})
	}

	result := models.AgentResult{
		Success:    true,
		Content:    finalText,
		ToolsUsed:  hc.ToolsUsed(),
		TokenUsage: tokenUsage,
		DurationMs: time.Since(started).Milliseconds(),
	}

	// Step 9: AfterAgentComplete hooks.
	if r.hooks != nil {
		if err := r.hooks.RunAfterComplete(ctx, hc, result); err != nil {
			return models.AgentResult{}, err
		}
	}

	// Step 10: result (constructed above; durationMs already final).
	return result, nil
}

// handleToolCall executes the per-tool-call sub-state-machine of spec.md
// §4.8 step 7c, returning the CompletionMessage to append to the
// conversation and whether the tool was actually invoked (governs whether
// the caller counts it against totalToolCalls / toolsUsed).
func (r *Runtime) handleToolCall(
	ctx context.Context,
	hc *models.HookContext,
	runID, userID, channel string,
	call models.ToolCall,
	callIndex, totalToolCalls, effectiveMax int,
	emit func(*ResponseChunk),
	log *slog.Logger,
) (CompletionMessage, bool, string) {
	synthesize := func(content string, isError bool) CompletionMessage {
		return CompletionMessage{
			Role:        string(models.RoleTool),
			ToolResults: []models.ToolResult{{ToolCallID: call.ID, Content: content, IsError: isError}},
		}
	}

	if effectiveMax > 0 && totalToolCalls >= effectiveMax {
		return synthesize("Error: Maximum tool call limit reached", true), false, call.Name
	}

	var args map[string]any
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &args); err != nil {
			log.Warn("failed to parse tool arguments, using empty mapping", "tool", call.Name, "error", err)
			args = map[string]any{}
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	tc := models.ToolCallContext{AgentContext: hc, ToolName: call.Name, ToolParams: args, CallIndex: callIndex}

	if r.hooks != nil {
		result, err := r.hooks.RunBeforeTool(ctx, tc)
		if err != nil {
			return synthesize("Error: "+err.Error(), true), false, call.Name
		}
		if result.Kind == models.HookReject {
			return synthesize("Tool call rejected: "+result.Reason, true), false, call.Name
		}
	}

	if _, ok := r.tools.Get(call.Name); !ok {
		return synthesize(fmt.Sprintf("Error: Tool '%s' not found", call.Name), true), false, call.Name
	}

	if r.policy != nil {
		decision := r.policy.Evaluate(call.Name, args, channel)
		switch decision.Decision {
		case toolpolicy.Reject:
			return synthesize(decision.Reason, true), false, call.Name
		case toolpolicy.RequireApproval:
			if matchesToolPatterns(r.opts.ElevatedTools, call.Name) {
				break
			}
			if r.approvals == nil {
				return synthesize(fmt.Sprintf("Error: tool '%s' requires approval but no approval store is configured", call.Name), true), false, call.Name
			}
			resp, err := r.approvals.RequestApproval(ctx, runID, userID, call.Name, args, 0)
			if err != nil {
				return synthesize("Error: "+err.Error(), true), false, call.Name
			}
			if !resp.Approved {
				return synthesize("Tool call rejected: "+resp.Reason, true), false, call.Name
			}
			if resp.ModifiedArguments != nil {
				args = resp.ModifiedArguments
			}
		}
	}

	if emit != nil && !r.opts.DisableToolEvents {
		emit(&ResponseChunk{ToolEvent: &models.ToolEvent{ToolCallID: call.ID, ToolName: call.Name, Stage: models.ToolEventStarted}})
	}

	paramsJSON := AsJSON(args)
	invokeOnce := func(ctx context.Context) (*ExecutionResult, error) {
		res := r.toolExec.Execute(ctx, models.ToolCall{ID: call.ID, Name: call.Name, Input: paramsJSON})
		if res.Error != nil {
			return res, res.Error
		}
		return res, nil
	}

	invoke := func(ctx context.Context) (*ExecutionResult, error) {
		if r.idempotent == nil {
			return invokeOnce(ctx)
		}
		explicitKey, _ := args["idempotencyKey"].(string)
		value, err := r.idempotent.Execute(call.Name, explicitKey, []string{call.Name, string(paramsJSON)}, func() (any, error) {
			return invokeOnce(ctx)
		})
		if res, ok := value.(*ExecutionResult); ok {
			return res, err
		}
		return &ExecutionResult{ToolCallID: call.ID, ToolName: call.Name}, err
	}

	start := time.Now()
	var execResult *ExecutionResult
	var invokeErr error
	if r.reliability != nil {
		invokeErr = r.reliability.Do(ctx, func(attemptCtx context.Context) error {
			res, err := invoke(attemptCtx)
			execResult = res
			return err
		})
	} else {
		execResult, invokeErr = invoke(ctx)
	}
	duration := time.Since(start)

	success := invokeErr == nil
	output := ""
	if execResult != nil && execResult.Result != nil {
		output = execResult.Result.Content
	}
	if !success {
		if invokeErr != nil {
			output = invokeErr.Error()
		}
	}

	guarded := r.opts.ToolResultGuard.Apply(call.Name, models.ToolResult{ToolCallID: call.ID, Content: output, IsError: !success})
	output = guarded.Content

	if !r.opts.DisableToolEvents {
		emitToolEvent(emit, call, success)
	}

	if r.hooks != nil {
		afterErr := r.hooks.RunAfterTool(ctx, tc, models.ToolCallResult{Success: success, Output: output, DurationMs: duration.Milliseconds()})
		if afterErr != nil {
			return synthesize("Error: "+afterErr.Error(), true), true, call.Name
		}
	}

	return synthesize(output, !success), true, call.Name
}

func emitToolEvent(emit func(*ResponseChunk), call models.ToolCall, success bool) {
	if emit == nil {
		return
	}
	stage := models.ToolEventSucceeded
	if !success {
		stage = models.ToolEventFailed
	}
	emit(&ResponseChunk{ToolEvent: &models.ToolEvent{ToolCallID: call.ID, ToolName: call.Name, Stage: stage}})
}

// runLLM drains one LLM completion, forwarding text deltas to emit (if
// non-nil) as they arrive and accumulating the final text, tool calls, and
// token usage.
func (r *Runtime) runLLM(ctx context.Context, req *CompletionRequest, emit func(*ResponseChunk)) (string, []models.ToolCall, models.TokenUsage, error) {
	chunks, err := r.provider.Complete(ctx, req)
	if err != nil {
		return "", nil, models.TokenUsage{}, err
	}

	var text strings.Builder
	var toolCalls []models.ToolCall
	var usage models.TokenUsage

	for {
		select {
		case <-ctx.Done():
			return "", nil, usage, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return text.String(), toolCalls, usage, nil
			}
			if chunk.Error != nil {
				return "", nil, usage, chunk.Error
			}
			if chunk.Text != "" {
				if text.Len()+len(chunk.Text) > MaxResponseTextSize {
					return "", nil, usage, fmt.Errorf("response text exceeded maximum size of %d bytes", MaxResponseTextSize)
				}
				text.WriteString(chunk.Text)
				if emit != nil {
					emit(&ResponseChunk{Text: chunk.Text})
				}
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
			if chunk.Done {
				usage.Prompt += chunk.InputTokens
				usage.Completion += chunk.OutputTokens
				usage.Total = usage.Prompt + usage.Completion
				return text.String(), toolCalls, usage, nil
			}
		}
	}
}

func toCompletionMessages(history []models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(history))
	for _, m := range history {
		out = append(out, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return out
}

// truncateHistory keeps the last maxMessages entries, oldest first.
func truncateHistory(history []models.Message, maxMessages int) []models.Message {
	if maxMessages <= 0 || len(history) <= maxMessages {
		return history
	}
	return history[len(history)-maxMessages:]
}

// fitHistoryToWindow drops the oldest history entries until the remaining
// conversation's estimated token count fits the target model's context
// window, reserving headroom for the response itself. This is a second,
// token-aware pass after truncateHistory's message-count cap: a short
// window (e.g. gpt-4's 8k) can still be exceeded well below
// maxConversationTurns messages. The actual drop decision is delegated to
// internal/context's TruncateOldest strategy, always keeping the most
// recent two messages so the immediate back-and-forth survives.
func fitHistoryToWindow(history []models.Message, model string, maxOutputTokens int) []models.Message {
	if len(history) == 0 {
		return history
	}

	reserve := maxOutputTokens
	if reserve <= 0 {
		reserve = 4096
	}
	budget := agentctx.NewWindowForModel(model).Remaining() - reserve
	if budget <= 0 {
		return history
	}

	ctxMessages := make([]agentctx.Message, len(history))
	for i, m := range history {
		ctxMessages[i] = agentctx.Message{
			Role:     string(m.Role),
			Content:  m.Content,
			IsSystem: m.Role == models.RoleSystem,
		}
	}

	truncator := agentctx.NewTruncator(agentctx.TruncateOldest, budget)
	truncator.SetKeepFirst(0)
	truncator.SetKeepLast(2)
	_, result := truncator.Truncate(ctxMessages)

	switch {
	case result.NewCount <= 0:
		return nil
	case result.NewCount >= len(history):
		return history
	default:
		return history[len(history)-result.NewCount:]
	}
}

// effectiveMaxToolCalls resolves the per-command limit against the
// runtime-wide limit: an unset (<=0) bound defers to the other; when both
// are set, the tighter bound wins.
func effectiveMaxToolCalls(cmdMax, globalMax int) int {
	switch {
	case cmdMax <= 0:
		return globalMax
	case globalMax <= 0:
		return cmdMax
	case cmdMax < globalMax:
		return cmdMax
	default:
		return globalMax
	}
}

func failureResult(code models.ErrorCode, message string, started time.Time) models.AgentResult {
	return models.AgentResult{
		Success:      false,
		ErrorCode:    code,
		ErrorMessage: message,
		ToolsUsed:    []string{},
		DurationMs:   time.Since(started).Milliseconds(),
	}
}

// translateAgentError maps a raw error to the §7 error taxonomy by
// substring inspection, the same idiom errors.go's classifyToolError uses
// for ToolErrorType.
func translateAgentError(err error) (models.ErrorCode, string) {
	if err == nil {
		return "", ""
	}
	message := err.Error()
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "rate limit"):
		return models.ErrorRateLimited, message
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return models.ErrorTimeout, message
	case strings.Contains(lower, "context length") || strings.Contains(lower, "context_length") || strings.Contains(lower, "context too long"):
		return models.ErrorContextTooLong, message
	case strings.Contains(lower, "tool"):
		return models.ErrorToolError, message
	default:
		return models.ErrorUnknown, message
	}
}
