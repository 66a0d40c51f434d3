// Package scheduler implements the dynamic cron/at-time job runner: it
// persists ScheduledJob definitions, validates and registers their
// schedules, fires MCP_TOOL and AGENT jobs on time, and records each firing
// as a ScheduledJobExecution. Superseded from the teacher's internal/tasks
// (distributed-lock poll/acquire loop) and internal/cron (webhook/message/
// agent job dispatch, retry backoff) into one package scoped to the two job
// kinds this system actually needs.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/agentcore/runtime/internal/agent"
	"github.com/agentcore/runtime/pkg/models"
)

// ErrInvalidArgument is returned by Create/Update when the job fails
// validation; the store is left untouched.
var ErrInvalidArgument = errors.New("invalid argument")

// Store persists ScheduledJob definitions.
type Store interface {
	Create(ctx context.Context, job *models.ScheduledJob) error
	Update(ctx context.Context, job *models.ScheduledJob) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.ScheduledJob, error)
	List(ctx context.Context) ([]*models.ScheduledJob, error)
	// UpdateExecutionResult records the job's last-known trigger outcome.
	// MUST NOT be called for dry runs.
	UpdateExecutionResult(ctx context.Context, id string, status models.ScheduledJobStatus, result string) error
}

// ExecutionStore persists ScheduledJobExecution history.
type ExecutionStore interface {
	Save(ctx context.Context, exec *models.ScheduledJobExecution) (*models.ScheduledJobExecution, error)
	FindByJobID(ctx context.Context, jobID string, limit int) ([]*models.ScheduledJobExecution, error)
}

// PersonaStore resolves named system prompts for AGENT jobs.
type PersonaStore interface {
	Get(id string) (*models.Persona, bool)
	GetDefault() *models.Persona
}

// AgentExecutor runs one AgentCommand to completion. Satisfied by the
// core Agent Executor (internal/agent.Runtime).
type AgentExecutor interface {
	Execute(ctx context.Context, cmd models.AgentCommand) (models.AgentResult, error)
}

// ToolLookup resolves a registered tool by name for MCP_TOOL jobs.
type ToolLookup interface {
	Get(name string) (agent.Tool, bool)
}

// SlackMessageSender posts a message to a Slack channel.
type SlackMessageSender interface {
	Send(ctx context.Context, channelID, text string) error
}

// TeamsMessageSender posts a message to a Teams incoming webhook.
type TeamsMessageSender interface {
	Send(ctx context.Context, webhookURL, text string) error
}

// marshalArguments renders tool arguments as the JSON params Tool.Execute expects.
func marshalArguments(args map[string]any) (json.RawMessage, error) {
	if args == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(args)
}
