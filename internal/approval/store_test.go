package approval

import (
	"context"
	"testing"
	"time"
)

func TestApproveReleasesWaiter(t *testing.T) {
	s := New()
	resultCh := make(chan Response, 1)

	go func() {
		resp, err := s.RequestApproval(context.Background(), "run1", "user1", "send_email", map[string]any{"to": "x@example.com"}, 5000)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		resultCh <- resp
	}()

	var id string
	for i := 0; i < 100; i++ {
		pending := s.ListPending()
		if len(pending) == 1 {
			id = pending[0].ID
			break
		}
		time.Sleep(time.Millisecond)
	}
	if id == "" {
		t.Fatalf("expected one pending approval to appear")
	}

	if !s.Approve(id, nil) {
		t.Fatalf("expected approve to succeed")
	}

	select {
	case resp := <-resultCh:
		if !resp.Approved {
			t.Fatalf("expected approved response")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for RequestApproval to return")
	}
}

func TestApproveWithModifiedArguments(t *testing.T) {
	s := New()
	resultCh := make(chan Response, 1)

	go func() {
		resp, _ := s.RequestApproval(context.Background(), "run1", "user1", "send_email", map[string]any{"to": "x@example.com"}, 5000)
		resultCh <- resp
	}()

	var id string
	for i := 0; i < 100; i++ {
		pending := s.ListPending()
		if len(pending) == 1 {
			id = pending[0].ID
			break
		}
		time.Sleep(time.Millisecond)
	}

	modified := map[string]any{"to": "reviewed@example.com"}
	s.Approve(id, modified)

	resp := <-resultCh
	if resp.ModifiedArguments["to"] != "reviewed@example.com" {
		t.Fatalf("expected modified arguments to carry through, got %v", resp.ModifiedArguments)
	}
}

func TestRejectReturnsReason(t *testing.T) {
	s := New()
	resultCh := make(chan Response, 1)

	go func() {
		resp, _ := s.RequestApproval(context.Background(), "run1", "user1", "delete_prod", nil, 5000)
		resultCh <- resp
	}()

	var id string
	for i := 0; i < 100; i++ {
		pending := s.ListPending()
		if len(pending) == 1 {
			id = pending[0].ID
			break
		}
		time.Sleep(time.Millisecond)
	}

	if !s.Reject(id, "too risky") {
		t.Fatalf("expected reject to succeed")
	}

	resp := <-resultCh
	if resp.Approved {
		t.Fatalf("expected rejection")
	}
	if resp.Reason != "too risky" {
		t.Fatalf("expected reason to carry through, got %q", resp.Reason)
	}
}

func TestTimeoutReleasesWithFalseApproved(t *testing.T) {
	s := New()
	resp, err := s.RequestApproval(context.Background(), "run1", "user1", "send_email", nil, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Approved {
		t.Fatalf("expected timeout to resolve as not approved")
	}
	if resp.Reason != "approval timed out" {
		t.Fatalf("expected timeout reason, got %q", resp.Reason)
	}
	if len(s.ListPending()) != 0 {
		t.Fatalf("expected entry to be removed after timeout")
	}
}

func TestApproveIsExactlyOnce(t *testing.T) {
	s := New()
	resultCh := make(chan Response, 1)

	go func() {
		resp, _ := s.RequestApproval(context.Background(), "run1", "user1", "send_email", nil, 5000)
		resultCh <- resp
	}()

	var id string
	for i := 0; i < 100; i++ {
		pending := s.ListPending()
		if len(pending) == 1 {
			id = pending[0].ID
			break
		}
		time.Sleep(time.Millisecond)
	}

	if !s.Approve(id, nil) {
		t.Fatalf("expected first approve to succeed")
	}
	if s.Approve(id, nil) {
		t.Fatalf("expected second approve on the same id to fail")
	}
	if s.Reject(id, "too late") {
		t.Fatalf("expected reject after approve to fail")
	}
	<-resultCh
}

func TestListPendingByUserFiltersByUser(t *testing.T) {
	s := New()
	go s.RequestApproval(context.Background(), "run1", "alice", "tool_a", nil, 5000)
	go s.RequestApproval(context.Background(), "run2", "bob", "tool_b", nil, 5000)

	var aliceCount int
	for i := 0; i < 100; i++ {
		aliceCount = len(s.ListPendingByUser("alice"))
		if aliceCount == 1 && len(s.ListPending()) == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if aliceCount != 1 {
		t.Fatalf("expected exactly one pending approval for alice, got %d", aliceCount)
	}
}

func TestCancellationPropagatesFromRequestApproval(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.RequestApproval(ctx, "run1", "user1", "send_email", nil, 5000)
		errCh <- err
	}()

	for i := 0; i < 100; i++ {
		if len(s.ListPending()) == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected cancellation error to propagate")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for cancellation to propagate")
	}
}
