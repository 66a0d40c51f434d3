package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/agentcore/runtime/internal/agent"
	"github.com/agentcore/runtime/pkg/models"
)

type fakeTool struct {
	name  string
	calls int
	fail  int
	out   string
}

func (t *fakeTool) Name() string                { return t.name }
func (t *fakeTool) Description() string         { return "fake" }
func (t *fakeTool) Schema() json.RawMessage     { return json.RawMessage(`{}`) }
func (t *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	t.calls++
	if t.calls <= t.fail {
		return nil, fmt.Errorf("transient failure")
	}
	return &agent.ToolResult{Content: t.out}, nil
}

type fakeToolLookup struct{ tools map[string]agent.Tool }

func (f *fakeToolLookup) Get(name string) (agent.Tool, bool) {
	t, ok := f.tools[name]
	return t, ok
}

type fakeAgentExecutor struct {
	lastCmd models.AgentCommand
	result  models.AgentResult
	err     error
}

func (f *fakeAgentExecutor) Execute(ctx context.Context, cmd models.AgentCommand) (models.AgentResult, error) {
	f.lastCmd = cmd
	return f.result, f.err
}

type fakeSender struct {
	sent []string
	fail bool
}

func (f *fakeSender) Send(ctx context.Context, target, text string) error {
	if f.fail {
		return fmt.Errorf("send failed")
	}
	f.sent = append(f.sent, text)
	return nil
}

func newTestJob(id string, jobType models.ScheduledJobType) *models.ScheduledJob {
	return &models.ScheduledJob{
		ID:             id,
		Name:           "job-" + id,
		CronExpression: "0 0 0 1 1 *",
		JobType:        jobType,
		Enabled:        true,
	}
}

func TestValidateRejectsBadCronExpression(t *testing.T) {
	job := newTestJob("j1", models.JobTypeAgent)
	job.CronExpression = "not a cron expression"
	if err := Validate(job); err == nil {
		t.Fatalf("expected invalid cron expression to be rejected")
	}
}

func TestValidateRejectsMCPToolMissingFields(t *testing.T) {
	job := newTestJob("j1", models.JobTypeMCPTool)
	if err := Validate(job); err == nil {
		t.Fatalf("expected MCP_TOOL job without mcpServerName/toolName to be rejected")
	}
}

func TestMCPToolJobInvokesRegisteredTool(t *testing.T) {
	store := NewMemoryStore()
	execStore := NewMemoryExecutionStore()
	tool := &fakeTool{name: "ping", out: "pong"}
	job := newTestJob("j1", models.JobTypeMCPTool)
	job.MCPServerName = "local"
	job.ToolName = "ping"
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	s := New(store, execStore, DefaultConfig(), WithToolLookup(&fakeToolLookup{tools: map[string]agent.Tool{"ping": tool}}))
	exec, err := s.Trigger(context.Background(), "j1")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if exec.Status != models.JobExecSuccess || exec.Result != "pong" {
		t.Fatalf("expected successful execution with result pong, got %+v", exec)
	}
	if tool.calls != 1 {
		t.Fatalf("expected tool invoked once, got %d", tool.calls)
	}
}

func TestMCPToolJobRetriesOnFailureThenSucceeds(t *testing.T) {
	store := NewMemoryStore()
	execStore := NewMemoryExecutionStore()
	tool := &fakeTool{name: "flaky", fail: 2, out: "ok"}
	job := newTestJob("j1", models.JobTypeMCPTool)
	job.MCPServerName = "local"
	job.ToolName = "flaky"
	job.RetryOnFailure = true
	job.MaxRetryCount = 3
	store.Create(context.Background(), job)

	cfg := Config{PollInterval: time.Second, RetryBackoff: time.Millisecond}
	s := New(store, execStore, cfg, WithToolLookup(&fakeToolLookup{tools: map[string]agent.Tool{"flaky": tool}}))
	exec, err := s.Trigger(context.Background(), "j1")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if exec.Status != models.JobExecSuccess || exec.Result != "ok" {
		t.Fatalf("expected eventual success, got %+v", exec)
	}
	if tool.calls != 3 {
		t.Fatalf("expected tool invoked exactly 3 times, got %d", tool.calls)
	}
}

func TestAgentJobMissingExecutorProducesStructuredFailure(t *testing.T) {
	store := NewMemoryStore()
	execStore := NewMemoryExecutionStore()
	job := newTestJob("j1", models.JobTypeAgent)
	job.AgentPrompt = "do the thing"
	store.Create(context.Background(), job)

	s := New(store, execStore, DefaultConfig())
	exec, err := s.Trigger(context.Background(), "j1")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if exec.Status != models.JobExecFailed || exec.ErrorMessage != "AgentExecutor not available" {
		t.Fatalf("expected structured failure, got %+v", exec)
	}
}

func TestAgentJobResolvesSystemPromptPrecedence(t *testing.T) {
	store := NewMemoryStore()
	execStore := NewMemoryExecutionStore()
	job := newTestJob("j1", models.JobTypeAgent)
	job.AgentPrompt = "hi"
	job.PersonaID = "analyst"
	store.Create(context.Background(), job)

	personas := NewMemoryPersonaStore(&models.Persona{ID: "analyst", Name: "Analyst", SystemPrompt: "You are an analyst."})
	exec := &fakeAgentExecutor{result: models.AgentResult{Success: true, Content: "done"}}
	s := New(store, execStore, DefaultConfig(), WithAgentExecutor(exec), WithPersonaStore(personas))

	if _, err := s.Trigger(context.Background(), "j1"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if exec.lastCmd.SystemPrompt != "You are an analyst." {
		t.Fatalf("expected persona system prompt to win, got %q", exec.lastCmd.SystemPrompt)
	}
}

func TestDryRunMarksExecutionAndSkipsNotification(t *testing.T) {
	store := NewMemoryStore()
	execStore := NewMemoryExecutionStore()
	job := newTestJob("j1", models.JobTypeAgent)
	job.AgentPrompt = "hi"
	job.SlackChannelID = "C123"
	store.Create(context.Background(), job)

	agentExec := &fakeAgentExecutor{result: models.AgentResult{Success: true, Content: "done"}}
	sender := &fakeSender{}
	s := New(store, execStore, DefaultConfig(), WithAgentExecutor(agentExec), WithSlackSender(sender))

	exec, err := s.DryRun(context.Background(), "j1")
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !exec.DryRun {
		t.Fatalf("expected execution marked DryRun")
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected dry run to skip notifications, sent=%v", sender.sent)
	}
}

func TestNotificationFailureDoesNotAffectRecordedStatus(t *testing.T) {
	store := NewMemoryStore()
	execStore := NewMemoryExecutionStore()
	job := newTestJob("j1", models.JobTypeAgent)
	job.AgentPrompt = "hi"
	job.SlackChannelID = "C123"
	store.Create(context.Background(), job)

	agentExec := &fakeAgentExecutor{result: models.AgentResult{Success: true, Content: "done"}}
	sender := &fakeSender{fail: true}
	s := New(store, execStore, DefaultConfig(), WithAgentExecutor(agentExec), WithSlackSender(sender))

	exec, err := s.Trigger(context.Background(), "j1")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if exec.Status != models.JobExecSuccess {
		t.Fatalf("expected success despite notification failure, got %+v", exec)
	}
}

func TestMCPToolNotificationFormatsFencedCodeBlock(t *testing.T) {
	job := newTestJob("j1", models.JobTypeMCPTool)
	text := formatNotification(job, "raw output")
	want := "**job-j1**\n```\nraw output\n```"
	if text != want {
		t.Fatalf("expected %q, got %q", want, text)
	}
}

func TestAgentNotificationFormatsBriefingPrefix(t *testing.T) {
	job := newTestJob("j1", models.JobTypeAgent)
	text := formatNotification(job, "plain result")
	want := "**job-j1** 브리핑:\nplain result"
	if text != want {
		t.Fatalf("expected %q, got %q", want, text)
	}
}
