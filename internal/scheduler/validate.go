package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentcore/runtime/pkg/models"
)

// cronParser accepts Spring-style 6-field expressions (seconds leading) as
// well as standard 5-field POSIX cron, matching the teacher's
// internal/tasks cronParser construction.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Validate checks a ScheduledJob's cron expression, timezone, and
// job-type-specific required fields before it is persisted. A failure
// here MUST leave the store untouched.
func Validate(job *models.ScheduledJob) error {
	if job == nil {
		return fmt.Errorf("%w: job is nil", ErrInvalidArgument)
	}
	if job.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}
	if _, err := cronParser.Parse(job.CronExpression); err != nil {
		return fmt.Errorf("%w: invalid cron expression %q: %v", ErrInvalidArgument, job.CronExpression, err)
	}
	if job.Timezone != "" {
		if _, err := time.LoadLocation(job.Timezone); err != nil {
			return fmt.Errorf("%w: invalid timezone %q: %v", ErrInvalidArgument, job.Timezone, err)
		}
	}
	switch job.JobType {
	case models.JobTypeMCPTool:
		if job.MCPServerName == "" || job.ToolName == "" {
			return fmt.Errorf("%w: MCP_TOOL job requires mcpServerName and toolName", ErrInvalidArgument)
		}
	case models.JobTypeAgent:
		// agentPrompt may be resolved at trigger time from a persona, so it
		// is not required here.
	default:
		return fmt.Errorf("%w: unsupported job type %q", ErrInvalidArgument, job.JobType)
	}
	return nil
}

func parseSchedule(job *models.ScheduledJob) (cron.Schedule, *time.Location, error) {
	sched, err := cronParser.Parse(job.CronExpression)
	if err != nil {
		return nil, nil, err
	}
	loc := time.UTC
	if job.Timezone != "" {
		if l, err := time.LoadLocation(job.Timezone); err == nil {
			loc = l
		}
	}
	return sched, loc, nil
}
