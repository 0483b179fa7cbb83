package storage

import (
	"context"
	"testing"
	"time"
)

func TestClaimNextJobEmpty(t *testing.T) {
	s := openTestStore(t)

	job, err := s.ClaimNextJob(context.Background(), []string{"heartbeat"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil job on empty queue, got %+v", job)
	}
}

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j1", Type: "heartbeat", PayloadJSON: `{"user_id":"u1"}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	job, err := s.ClaimNextJob(ctx, []string{"heartbeat"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("expected to claim the enqueued job")
	}
	if job.ID != "j1" || job.Status != "running" {
		t.Errorf("claimed job = %+v", job)
	}

	// Already running: a second claim finds nothing.
	again, err := s.ClaimNextJob(ctx, []string{"heartbeat"})
	if err != nil {
		t.Fatalf("second ClaimNextJob: %v", err)
	}
	if again != nil {
		t.Errorf("expected nil on second claim, got %+v", again)
	}
}

func TestClaimNextJobFiltersByType(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j1", Type: "other", PayloadJSON: "{}"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	job, err := s.ClaimNextJob(ctx, []string{"heartbeat"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job != nil {
		t.Errorf("claimed a job of the wrong type: %+v", job)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j1", Type: "heartbeat", PayloadJSON: "{}"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob(ctx, []string{"heartbeat"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.CompleteJob(ctx, "j1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	var status string
	if err := s.db.QueryRow("SELECT status FROM jobs WHERE id = 'j1'").Scan(&status); err != nil {
		t.Fatalf("querying status: %v", err)
	}
	if status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
}

func TestCompleteJobNotFound(t *testing.T) {
	s := openTestStore(t)

	if err := s.CompleteJob(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestFailJobRetriesWithBackoff verifies a failed job goes back to pending
// with a future run_after, and becomes failed for good at the attempt limit.
func TestFailJobRetriesWithBackoff(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j1", Type: "heartbeat", PayloadJSON: "{}", MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	if err := s.FailJob(ctx, "j1", "boom"); err != nil {
		t.Fatalf("first FailJob: %v", err)
	}

	var status, runAfter, lastError string
	if err := s.db.QueryRow("SELECT status, run_after, last_error FROM jobs WHERE id = 'j1'").
		Scan(&status, &runAfter, &lastError); err != nil {
		t.Fatalf("querying job: %v", err)
	}
	if status != "pending" {
		t.Errorf("status after first failure = %q, want pending", status)
	}
	if lastError != "boom" {
		t.Errorf("last_error = %q", lastError)
	}
	ra, err := time.Parse(time.RFC3339, runAfter)
	if err != nil {
		t.Fatalf("parsing run_after: %v", err)
	}
	if !ra.After(time.Now().UTC()) {
		t.Errorf("run_after %v should be in the future", ra)
	}

	// Backed-off job is not claimable yet.
	job, err := s.ClaimNextJob(ctx, []string{"heartbeat"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job != nil {
		t.Errorf("claimed a backed-off job: %+v", job)
	}

	if err := s.FailJob(ctx, "j1", "boom again"); err != nil {
		t.Fatalf("second FailJob: %v", err)
	}
	if err := s.db.QueryRow("SELECT status FROM jobs WHERE id = 'j1'").Scan(&status); err != nil {
		t.Fatalf("querying status: %v", err)
	}
	if status != "failed" {
		t.Errorf("status at attempt limit = %q, want failed", status)
	}
}
