package models

import (
	"strings"
	"sync"
	"time"
)

// AgentMode selects the ReAct execution mode for an AgentCommand.
type AgentMode string

const (
	ModeStandard  AgentMode = "STANDARD"
	ModeReact     AgentMode = "REACT"
	ModeStreaming AgentMode = "STREAMING"
)

// AgentCommand is the input to the Agent Executor.
type AgentCommand struct {
	UserPrompt          string         `json:"user_prompt"`
	SystemPrompt        string         `json:"system_prompt,omitempty"`
	UserID              string         `json:"user_id,omitempty"`
	Mode                AgentMode      `json:"mode,omitempty"`
	MaxToolCalls        int            `json:"max_tool_calls,omitempty"`
	Temperature         *float64       `json:"temperature,omitempty"`
	Model               string         `json:"model,omitempty"`
	ConversationHistory []Message      `json:"conversation_history,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// SessionID returns the metadata["sessionId"] value, or "" if absent.
func (c AgentCommand) SessionID() string {
	if c.Metadata == nil {
		return ""
	}
	v, _ := c.Metadata["sessionId"].(string)
	return v
}

// ErrorCode is the normalized failure taxonomy surfaced on AgentResult.
type ErrorCode string

const (
	ErrorGuardRejected   ErrorCode = "GUARD_REJECTED"
	ErrorRateLimited     ErrorCode = "RATE_LIMITED"
	ErrorTimeout         ErrorCode = "TIMEOUT"
	ErrorContextTooLong  ErrorCode = "CONTEXT_TOO_LONG"
	ErrorToolError       ErrorCode = "TOOL_ERROR"
	ErrorPendingApproval ErrorCode = "PENDING_APPROVAL"
	ErrorUnknown         ErrorCode = "UNKNOWN"
)

// TokenUsage aggregates prompt/completion token counts for one run.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// AgentResult is the output of one execute(cmd) call.
//
// Invariant: Success == true iff ErrorCode == "" iff Content != "".
type AgentResult struct {
	Success      bool       `json:"success"`
	Content      string     `json:"content,omitempty"`
	ErrorCode    ErrorCode  `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ToolsUsed    []string   `json:"tools_used"`
	TokenUsage   TokenUsage `json:"token_usage,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
}

// HookContext is per-run state shared across hooks and the executor.
//
// ToolsUsed and Metadata are safe for concurrent append/write: a run-scoped
// mutex guards both, matching the spec's "thread-safe append-only sequence
// and concurrent map" requirement.
type HookContext struct {
	RunID      string
	UserID     string
	UserPrompt string
	StartedAt  time.Time

	mu        sync.Mutex
	toolsUsed []string
	metadata  map[string]any
}

// NewHookContext constructs a HookContext for a fresh run.
func NewHookContext(runID, userID, userPrompt string) *HookContext {
	return &HookContext{
		RunID:      runID,
		UserID:     userID,
		UserPrompt: userPrompt,
		StartedAt:  time.Now(),
		metadata:   make(map[string]any),
	}
}

// AppendToolUsed records a tool name; safe for concurrent callers.
func (c *HookContext) AppendToolUsed(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsUsed = append(c.toolsUsed, name)
}

// ToolsUsed returns a point-in-time copy of the tools used so far.
func (c *HookContext) ToolsUsed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.toolsUsed))
	copy(out, c.toolsUsed)
	return out
}

// SetMetadata writes a metadata key; safe for concurrent callers.
func (c *HookContext) SetMetadata(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metadata == nil {
		c.metadata = make(map[string]any)
	}
	c.metadata[key] = value
}

// Metadata returns the metadata value for key and whether it was present.
func (c *HookContext) Metadata(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.metadata[key]
	return v, ok
}

// ToolCallContext describes one tool invocation within a run.
type ToolCallContext struct {
	AgentContext *HookContext
	ToolName     string
	ToolParams   map[string]any
	CallIndex    int
}

var sensitiveParamPatterns = []string{"password", "apikey", "token", "secret"}

// MaskedParams returns ToolParams with sensitive-looking values redacted.
func (t ToolCallContext) MaskedParams() map[string]any {
	masked := make(map[string]any, len(t.ToolParams))
	for k, v := range t.ToolParams {
		if isSensitiveParamName(k) {
			masked[k] = "***"
			continue
		}
		masked[k] = v
	}
	return masked
}

func isSensitiveParamName(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range sensitiveParamPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ToolCallResult is what AfterToolCall observes about one invocation.
type ToolCallResult struct {
	Success    bool
	Output     string
	DurationMs int64
}

// HookResultKind tags the HookResult variant.
type HookResultKind string

const (
	HookContinue        HookResultKind = "continue"
	HookReject          HookResultKind = "reject"
	HookPendingApproval HookResultKind = "pending_approval"
)

// HookResult is the tagged variant {Continue, Reject{reason}, PendingApproval{message}}.
type HookResult struct {
	Kind    HookResultKind
	Reason  string
	Message string
}

// Continue constructs a HookResult that lets the chain proceed.
func Continue() HookResult { return HookResult{Kind: HookContinue} }

// Reject constructs a HookResult that halts the chain.
func Reject(reason string) HookResult { return HookResult{Kind: HookReject, Reason: reason} }

// PendingApprovalResult constructs a HookResult that suspends for approval.
func PendingApprovalResult(message string) HookResult {
	return HookResult{Kind: HookPendingApproval, Message: message}
}

// GuardCategory classifies why a GuardResult rejected a command.
type GuardCategory string

const (
	GuardRateLimited     GuardCategory = "RATE_LIMITED"
	GuardInvalidInput    GuardCategory = "INVALID_INPUT"
	GuardPromptInjection GuardCategory = "PROMPT_INJECTION"
	GuardUnauthorized    GuardCategory = "UNAUTHORIZED"
)

// GuardResult is the tagged variant {Allowed, Rejected{reason, category, stage}}.
type GuardResult struct {
	Allowed  bool
	Reason   string
	Category GuardCategory
	Stage    string
}

// GuardAllowed is the canonical "passed every stage" result.
func GuardAllowed() GuardResult { return GuardResult{Allowed: true} }

// GuardRejected constructs a rejecting GuardResult.
func GuardRejected(reason string, category GuardCategory, stage string) GuardResult {
	return GuardResult{Allowed: false, Reason: reason, Category: category, Stage: stage}
}

// ScheduledJobType selects what a ScheduledJob dispatches to on firing.
type ScheduledJobType string

const (
	JobTypeMCPTool ScheduledJobType = "MCP_TOOL"
	JobTypeAgent   ScheduledJobType = "AGENT"
)

// ScheduledJob is a persisted cron/at-time trigger definition.
type ScheduledJob struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	CronExpression      string           `json:"cron_expression"`
	Timezone            string           `json:"timezone"`
	JobType             ScheduledJobType `json:"job_type"`
	MCPServerName       string           `json:"mcp_server_name,omitempty"`
	ToolName            string           `json:"tool_name,omitempty"`
	ToolArguments       map[string]any   `json:"tool_arguments,omitempty"`
	AgentPrompt         string           `json:"agent_prompt,omitempty"`
	PersonaID           string           `json:"persona_id,omitempty"`
	AgentSystemPrompt   string           `json:"agent_system_prompt,omitempty"`
	AgentModel          string           `json:"agent_model,omitempty"`
	AgentMaxToolCalls   int              `json:"agent_max_tool_calls,omitempty"`
	SlackChannelID      string           `json:"slack_channel_id,omitempty"`
	TeamsWebhookURL     string           `json:"teams_webhook_url,omitempty"`
	ExecutionTimeoutMs  int64            `json:"execution_timeout_ms,omitempty"`
	RetryOnFailure      bool             `json:"retry_on_failure,omitempty"`
	MaxRetryCount        int             `json:"max_retry_count,omitempty"`
	Enabled             bool             `json:"enabled"`
}

// ScheduledJobStatus is the outcome of one ScheduledJobExecution.
type ScheduledJobStatus string

const (
	JobExecRunning ScheduledJobStatus = "RUNNING"
	JobExecSuccess ScheduledJobStatus = "SUCCESS"
	JobExecFailed  ScheduledJobStatus = "FAILED"
)

// ScheduledJobExecution is one recorded firing of a ScheduledJob.
type ScheduledJobExecution struct {
	ID           string             `json:"id"`
	JobID        string             `json:"job_id"`
	JobName      string             `json:"job_name"`
	Status       ScheduledJobStatus `json:"status"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at,omitempty"`
	DurationMs   int64              `json:"duration_ms"`
	DryRun       bool               `json:"dry_run"`
	Result       string             `json:"result,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
}

// ApprovalStatus tracks the lifecycle of a PendingApproval.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "PENDING"
	ApprovalApproved  ApprovalStatus = "APPROVED"
	ApprovalRejected  ApprovalStatus = "REJECTED"
	ApprovalTimedOut  ApprovalStatus = "TIMED_OUT"
)

// PendingApproval is a suspended tool call awaiting a human decision.
type PendingApproval struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id"`
	UserID      string         `json:"user_id"`
	ToolName    string         `json:"tool_name"`
	Arguments   map[string]any `json:"arguments"`
	RequestedAt time.Time      `json:"requested_at"`
	Status      ApprovalStatus `json:"status"`
}

// Persona is a named, reusable system prompt.
//
// Backs the PersonaStore collaborator consulted by the scheduler's AGENT-job
// system prompt precedence chain.
type Persona struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
	IsDefault    bool   `json:"is_default,omitempty"`
}
