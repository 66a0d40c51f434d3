package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agentcore/runtime/pkg/models"
)

// MemoryStore is an in-memory Store, grounded on the teacher's
// internal/cron MemoryExecutionStore clone-on-read/write discipline so
// callers can never mutate stored state through a returned pointer.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.ScheduledJob
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.ScheduledJob)}
}

func cloneJob(job *models.ScheduledJob) *models.ScheduledJob {
	if job == nil {
		return nil
	}
	clone := *job
	if job.ToolArguments != nil {
		clone.ToolArguments = make(map[string]any, len(job.ToolArguments))
		for k, v := range job.ToolArguments {
			clone.ToolArguments[k] = v
		}
	}
	return &clone
}

func (s *MemoryStore) Create(ctx context.Context, job *models.ScheduledJob) error {
	if err := Validate(job); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, job *models.ScheduledJob) error {
	if err := Validate(job); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return fmt.Errorf("scheduled job %q not found", job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*models.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateExecutionResult is a no-op beyond existence-checking: ScheduledJob
// carries no last-status field of its own (that history lives entirely in
// ScheduledJobExecution), so this hook exists only for stores whose schema
// denormalizes a last-status column onto the job row.
func (s *MemoryStore) UpdateExecutionResult(ctx context.Context, id string, status models.ScheduledJobStatus, result string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("scheduled job %q not found", id)
	}
	return nil
}

// MemoryExecutionStore is an in-memory ExecutionStore keyed by job ID,
// newest execution first.
type MemoryExecutionStore struct {
	mu         sync.Mutex
	byJob      map[string][]*models.ScheduledJobExecution
	nextSerial int
}

// NewMemoryExecutionStore creates an empty in-memory execution store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{byJob: make(map[string][]*models.ScheduledJobExecution)}
}

func (s *MemoryExecutionStore) Save(ctx context.Context, exec *models.ScheduledJobExecution) (*models.ScheduledJobExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exec.ID == "" {
		s.nextSerial++
		exec.ID = fmt.Sprintf("exec-%d", s.nextSerial)
	}
	clone := *exec
	s.byJob[exec.JobID] = append([]*models.ScheduledJobExecution{&clone}, s.byJob[exec.JobID]...)
	return &clone, nil
}

func (s *MemoryExecutionStore) FindByJobID(ctx context.Context, jobID string, limit int) ([]*models.ScheduledJobExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.byJob[jobID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]*models.ScheduledJobExecution, limit)
	for i := 0; i < limit; i++ {
		clone := *all[i]
		out[i] = &clone
	}
	return out, nil
}

// MemoryPersonaStore is an in-memory PersonaStore.
type MemoryPersonaStore struct {
	mu          sync.RWMutex
	personas    map[string]*models.Persona
	defaultID   string
	defaultStub *models.Persona
}

// NewMemoryPersonaStore creates a persona store seeded with personas, using
// the persona marked IsDefault (or a fallback "helpful AI assistant" stub
// when none is marked) as the default.
func NewMemoryPersonaStore(personas ...*models.Persona) *MemoryPersonaStore {
	s := &MemoryPersonaStore{
		personas:    make(map[string]*models.Persona),
		defaultStub: &models.Persona{ID: "", Name: "default", SystemPrompt: "You are a helpful AI assistant."},
	}
	for _, p := range personas {
		s.personas[p.ID] = p
		if p.IsDefault {
			s.defaultID = p.ID
		}
	}
	return s
}

func (s *MemoryPersonaStore) Get(id string) (*models.Persona, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.personas[id]
	return p, ok
}

func (s *MemoryPersonaStore) GetDefault() *models.Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.defaultID != "" {
		if p, ok := s.personas[s.defaultID]; ok {
			return p
		}
	}
	return s.defaultStub
}
