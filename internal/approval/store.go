// Package approval implements the human-in-the-loop approval rendezvous: a
// tool call suspends until a human approves, rejects, or a timeout fires.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/runtime/pkg/models"
)

// Response is the outcome of a requestApproval rendezvous.
type Response struct {
	Approved          bool
	ModifiedArguments map[string]any
	Reason            string
}

type pendingEntry struct {
	approval *models.PendingApproval
	reply    chan Response
	done     bool
}

// Store coordinates suspend/resume of tool calls awaiting human approval.
// Entries are released exactly once; after release they are no longer
// reachable via ListPending/ListPendingByUser. Grounded on the teacher's
// request/reply rendezvous idiom (a buffered channel per pending entry,
// select against time.After and ctx.Done) previously used for interactive
// tool approval, generalized here to support argument modification at
// approval time.
type Store struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
}

// New creates an empty approval store.
func New() *Store {
	return &Store{pending: make(map[string]*pendingEntry)}
}

// RequestApproval registers a pending approval and blocks until approve,
// reject, ctx cancellation, or timeoutMs elapses — whichever comes first.
// On timeout the entry is removed and {approved: false, reason: "approval
// timed out"} is returned.
func (s *Store) RequestApproval(ctx context.Context, runID, userID, toolName string, arguments map[string]any, timeoutMs int64) (Response, error) {
	id := uuid.New().String()
	entry := &pendingEntry{
		approval: &models.PendingApproval{
			ID:          id,
			RunID:       runID,
			UserID:      userID,
			ToolName:    toolName,
			Arguments:   arguments,
			RequestedAt: time.Now(),
			Status:      models.ApprovalPending,
		},
		reply: make(chan Response, 1),
	}

	s.mu.Lock()
	s.pending[id] = entry
	s.mu.Unlock()

	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-entry.reply:
		return resp, nil
	case <-timer.C:
		s.complete(id, models.ApprovalTimedOut)
		return Response{Approved: false, Reason: "approval timed out"}, nil
	case <-ctx.Done():
		s.complete(id, models.ApprovalTimedOut)
		return Response{}, ctx.Err()
	}
}

// Approve completes a pending entry as approved. modifiedArguments, if
// non-nil, replaces the original arguments for the subsequent tool
// invocation. Returns false if the entry does not exist or already
// completed.
func (s *Store) Approve(id string, modifiedArguments map[string]any) bool {
	s.mu.Lock()
	entry, ok := s.pending[id]
	if !ok || entry.done {
		s.mu.Unlock()
		return false
	}
	entry.done = true
	entry.approval.Status = models.ApprovalApproved
	delete(s.pending, id)
	s.mu.Unlock()

	entry.reply <- Response{Approved: true, ModifiedArguments: modifiedArguments}
	return true
}

// Reject completes a pending entry as rejected. Returns false if the entry
// does not exist or already completed.
func (s *Store) Reject(id string, reason string) bool {
	s.mu.Lock()
	entry, ok := s.pending[id]
	if !ok || entry.done {
		s.mu.Unlock()
		return false
	}
	entry.done = true
	entry.approval.Status = models.ApprovalRejected
	delete(s.pending, id)
	s.mu.Unlock()

	if reason == "" {
		reason = "rejected by reviewer"
	}
	entry.reply <- Response{Approved: false, Reason: reason}
	return true
}

func (s *Store) complete(id string, status models.ApprovalStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.pending[id]; ok {
		entry.done = true
		entry.approval.Status = status
		delete(s.pending, id)
	}
}

// ListPending returns a snapshot of all currently pending approvals.
func (s *Store) ListPending() []*models.PendingApproval {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.PendingApproval, 0, len(s.pending))
	for _, entry := range s.pending {
		out = append(out, entry.approval)
	}
	return out
}

// ListPendingByUser returns a snapshot of pending approvals for one user.
func (s *Store) ListPendingByUser(userID string) []*models.PendingApproval {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.PendingApproval{}
	for _, entry := range s.pending {
		if entry.approval.UserID == userID {
			out = append(out, entry.approval)
		}
	}
	return out
}
