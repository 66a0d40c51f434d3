package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentcore/runtime/pkg/models"
)

// Config configures one Scheduler.
type Config struct {
	PollInterval time.Duration
	RetryBackoff time.Duration
	Logger       *slog.Logger
}

// DefaultConfig returns a 10-second poll interval and a 2-second base retry
// backoff, matching the teacher's task scheduler defaults.
func DefaultConfig() Config {
	return Config{PollInterval: 10 * time.Second, RetryBackoff: 2 * time.Second}
}

// Scheduler persists ScheduledJobs, registers their schedules, and fires
// them on time or on demand. Grounded on the teacher's internal/tasks
// Scheduler poll loop, narrowed from its distributed-lock
// acquire/execute/cleanup design (single-process here, no shared store
// contention) down to poll-and-fire, and on internal/cron's per-job-type
// dispatch and webhook request-building idiom for notifications.
type Scheduler struct {
	store        Store
	execStore    ExecutionStore
	personas     PersonaStore
	agentExec    AgentExecutor
	tools        ToolLookup
	slack        SlackMessageSender
	teams        TeamsMessageSender
	logger       *slog.Logger
	pollInterval time.Duration
	retryBackoff time.Duration
	now          func() time.Time

	mu      sync.Mutex
	nextRun map[string]time.Time
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

func WithPersonaStore(p PersonaStore) Option  { return func(s *Scheduler) { s.personas = p } }
func WithAgentExecutor(a AgentExecutor) Option { return func(s *Scheduler) { s.agentExec = a } }
func WithToolLookup(t ToolLookup) Option       { return func(s *Scheduler) { s.tools = t } }
func WithSlackSender(sender SlackMessageSender) Option {
	return func(s *Scheduler) { s.slack = sender }
}
func WithTeamsSender(sender TeamsMessageSender) Option {
	return func(s *Scheduler) { s.teams = sender }
}
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}
func withNow(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// New creates a Scheduler over store/execStore with the given options.
func New(store Store, execStore ExecutionStore, cfg Config, opts ...Option) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "scheduler")
	}
	s := &Scheduler{
		store:        store,
		execStore:    execStore,
		personas:     NewMemoryPersonaStore(),
		logger:       logger,
		pollInterval: cfg.PollInterval,
		retryBackoff: cfg.RetryBackoff,
		now:          time.Now,
		nextRun:      make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the poll loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.pollDue(ctx)
			}
		}
	}()
	return nil
}

// Stop cancels the poll loop and waits for it to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) pollDue(ctx context.Context) {
	jobs, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("list scheduled jobs failed", "error", err)
		return
	}
	now := s.now()
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		due, ok := s.dueTime(job, now)
		if !ok || now.Before(due) {
			continue
		}
		if _, err := s.Fire(ctx, job.ID, false); err != nil {
			s.logger.Warn("scheduled job fire failed", "job_id", job.ID, "error", err)
		}
	}
}

// dueTime returns (and caches) the next scheduled fire time for job,
// advancing it past now once consumed.
func (s *Scheduler) dueTime(job *models.ScheduledJob, now time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due, known := s.nextRun[job.ID]
	if !known {
		next, ok := s.computeNext(job, now)
		if !ok {
			return time.Time{}, false
		}
		s.nextRun[job.ID] = next
		return next, true
	}
	if now.Before(due) {
		return due, true
	}
	next, ok := s.computeNext(job, due)
	if !ok {
		delete(s.nextRun, job.ID)
		return time.Time{}, false
	}
	s.nextRun[job.ID] = next
	return due, true
}

func (s *Scheduler) computeNext(job *models.ScheduledJob, after time.Time) (time.Time, bool) {
	sched, loc, err := parseSchedule(job)
	if err != nil {
		s.logger.Warn("invalid schedule, job skipped", "job_id", job.ID, "error", err)
		return time.Time{}, false
	}
	return sched.Next(after.In(loc)), true
}

// Trigger manually fires jobID, bypassing its enabled flag and the poll
// schedule, and records a real (non-dry) execution.
func (s *Scheduler) Trigger(ctx context.Context, jobID string) (*models.ScheduledJobExecution, error) {
	return s.Fire(ctx, jobID, false)
}

// DryRun fires jobID without sending notifications or updating the job's
// last-execution-status field; it still records an execution row with
// DryRun=true.
func (s *Scheduler) DryRun(ctx context.Context, jobID string) (*models.ScheduledJobExecution, error) {
	return s.Fire(ctx, jobID, true)
}

// Fire is the shared trigger path for timer firings, manual Trigger, and
// DryRun.
func (s *Scheduler) Fire(ctx context.Context, jobID string, dryRun bool) (*models.ScheduledJobExecution, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load scheduled job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("scheduled job %q not found", jobID)
	}

	started := s.now()
	result, attempts, fireErr := s.invokeWithRetry(ctx, job)
	finished := s.now()

	exec := &models.ScheduledJobExecution{
		JobID:      job.ID,
		JobName:    job.Name,
		StartedAt:  started,
		FinishedAt: finished,
		DurationMs: finished.Sub(started).Milliseconds(),
		DryRun:     dryRun,
	}
	if fireErr != nil {
		exec.Status = models.JobExecFailed
		exec.ErrorMessage = fireErr.Error()
	} else {
		exec.Status = models.JobExecSuccess
		exec.Result = result
	}
	_ = attempts

	saved, err := s.execStore.Save(ctx, exec)
	if err != nil {
		s.logger.Error("save execution failed", "job_id", job.ID, "error", err)
		saved = exec
	}

	if !dryRun {
		if err := s.store.UpdateExecutionResult(ctx, job.ID, exec.Status, result); err != nil {
			s.logger.Warn("update execution result failed", "job_id", job.ID, "error", err)
		}
		if fireErr == nil {
			s.notify(ctx, job, result)
		}
	}

	return saved, nil
}

// invokeWithRetry wraps invoke with the per-job execution timeout and
// optional retry-on-failure, counting the first attempt as attempt 1 per
// the spec's retry semantics.
func (s *Scheduler) invokeWithRetry(ctx context.Context, job *models.ScheduledJob) (result string, attempts int, err error) {
	maxAttempts := 1
	if job.RetryOnFailure && job.MaxRetryCount > 0 {
		maxAttempts = job.MaxRetryCount
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		result, err = s.invokeOnce(ctx, job)
		if err == nil {
			return result, attempts, nil
		}
		if attempt < maxAttempts {
			delay := retryDelay(s.retryBackoff, attempt)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return "", attempts, ctx.Err()
			}
		}
	}
	return result, attempts, err
}

func retryDelay(base time.Duration, attempt int) time.Duration {
	if attempt <= 1 {
		return base
	}
	return base * time.Duration(attempt)
}

// invokeOnce bounds a single attempt by ExecutionTimeoutMs (if set) and
// dispatches to the job's type.
func (s *Scheduler) invokeOnce(ctx context.Context, job *models.ScheduledJob) (string, error) {
	attemptCtx := ctx
	if job.ExecutionTimeoutMs > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(job.ExecutionTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	var result string
	var err error
	switch job.JobType {
	case models.JobTypeMCPTool:
		result, err = s.invokeTool(attemptCtx, job)
	case models.JobTypeAgent:
		result, err = s.invokeAgent(attemptCtx, job)
	default:
		return "", fmt.Errorf("unsupported job type %q", job.JobType)
	}

	if err != nil && attemptCtx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("job %q timed out: %w", job.Name, err)
	}
	return result, err
}

func (s *Scheduler) invokeTool(ctx context.Context, job *models.ScheduledJob) (string, error) {
	if s.tools == nil {
		return "", fmt.Errorf("tool registry not available")
	}
	tool, ok := s.tools.Get(job.ToolName)
	if !ok {
		return "", fmt.Errorf("tool %q not found", job.ToolName)
	}
	params, err := marshalArguments(job.ToolArguments)
	if err != nil {
		return "", fmt.Errorf("marshal tool arguments: %w", err)
	}
	out, err := tool.Execute(ctx, params)
	if err != nil {
		return "", err
	}
	if out.IsError {
		return "", fmt.Errorf("%s", out.Content)
	}
	return out.Content, nil
}

func (s *Scheduler) invokeAgent(ctx context.Context, job *models.ScheduledJob) (string, error) {
	if s.agentExec == nil {
		return "", fmt.Errorf("AgentExecutor not available")
	}
	if strings.TrimSpace(job.AgentPrompt) == "" {
		return "", fmt.Errorf("agentPrompt required")
	}

	cmd := models.AgentCommand{
		UserID:       "scheduler",
		UserPrompt:   job.AgentPrompt,
		Model:        job.AgentModel,
		MaxToolCalls: job.AgentMaxToolCalls,
		SystemPrompt: s.resolveSystemPrompt(job),
	}

	result, err := s.agentExec.Execute(ctx, cmd)
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", fmt.Errorf("%s", result.ErrorMessage)
	}
	return result.Content, nil
}

// resolveSystemPrompt implements the precedence chain: agentSystemPrompt >
// PersonaStore.get(personaId).systemPrompt > PersonaStore.getDefault().systemPrompt >
// the built-in fallback.
func (s *Scheduler) resolveSystemPrompt(job *models.ScheduledJob) string {
	if job.AgentSystemPrompt != "" {
		return job.AgentSystemPrompt
	}
	if job.PersonaID != "" && s.personas != nil {
		if p, ok := s.personas.Get(job.PersonaID); ok && p.SystemPrompt != "" {
			return p.SystemPrompt
		}
	}
	if s.personas != nil {
		if def := s.personas.GetDefault(); def != nil && def.SystemPrompt != "" {
			return def.SystemPrompt
		}
	}
	return "You are a helpful AI assistant."
}

// notify sends the job-completion message to whichever sinks are
// configured. Failures are logged and swallowed; they never affect the
// job's recorded status.
func (s *Scheduler) notify(ctx context.Context, job *models.ScheduledJob, result string) {
	text := formatNotification(job, result)

	if job.SlackChannelID != "" && s.slack != nil {
		if err := s.slack.Send(ctx, job.SlackChannelID, text); err != nil {
			s.logger.Warn("slack notification failed", "job_id", job.ID, "error", err)
		}
	}
	if job.TeamsWebhookURL != "" && s.teams != nil {
		if err := s.teams.Send(ctx, job.TeamsWebhookURL, text); err != nil {
			s.logger.Warn("teams notification failed", "job_id", job.ID, "error", err)
		}
	}
}

func formatNotification(job *models.ScheduledJob, result string) string {
	if job.JobType == models.JobTypeMCPTool {
		return fmt.Sprintf("**%s**\n```\n%s\n```", job.Name, result)
	}
	return fmt.Sprintf("**%s** 브리핑:\n%s", job.Name, result)
}

// GetExecutions returns up to limit recorded executions for jobID, newest
// first.
func (s *Scheduler) GetExecutions(ctx context.Context, jobID string, limit int) ([]*models.ScheduledJobExecution, error) {
	return s.execStore.FindByJobID(ctx, jobID, limit)
}
