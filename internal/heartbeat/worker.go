package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/adesege/factbeat/internal/storage"
)

// JobTypeHeartbeat is the queue type for scheduled heartbeat runs.
const JobTypeHeartbeat = "heartbeat"

// JobStore abstracts the job queue operations.
// Implemented by storage.Store.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	EnqueueJob(ctx context.Context, job storage.Job) error
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Worker processes heartbeat jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	orch   *Orchestrator
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, orch *Orchestrator, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		orch:   orch,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single heartbeat job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobTypeHeartbeat})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("heartbeat job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// heartbeatPayload is the job payload. A zero Since means "resume from the
// stored cursor", which is the normal case.
type heartbeatPayload struct {
	UserID string    `json:"user_id"`
	Since  time.Time `json:"since,omitempty"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload heartbeatPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.UserID == "" {
		return fmt.Errorf("heartbeat job %s has no user_id", job.ID)
	}

	summary, err := w.orch.ProcessUser(ctx, payload.UserID, payload.Since)
	if err != nil {
		return fmt.Errorf("processing heartbeat for %s: %w", payload.UserID, err)
	}

	w.logger.Info("heartbeat run complete",
		"user_id", payload.UserID,
		"messages", summary.MessagesProcessed,
		"created", summary.FactsCreated,
		"superseded", summary.FactsSuperseded,
		"confirmed", summary.FactsConfirmed,
		"rejected", summary.CandidatesRejected,
		"errors", len(summary.Errors),
	)
	return nil
}

// EnqueueHeartbeat queues an on-demand heartbeat run for one user.
func EnqueueHeartbeat(ctx context.Context, store JobStore, userID string, since time.Time) (string, error) {
	payload, err := json.Marshal(heartbeatPayload{UserID: userID, Since: since})
	if err != nil {
		return "", fmt.Errorf("marshalling heartbeat payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeHeartbeat,
		PayloadJSON: string(payload),
	}
	if err := store.EnqueueJob(ctx, job); err != nil {
		return "", fmt.Errorf("enqueueing heartbeat job: %w", err)
	}
	return job.ID, nil
}

// Scheduler enqueues a heartbeat job per known user on a fixed interval.
// Overlap with on-demand runs is harmless: resolution is idempotent and
// write races resolve through the store's optimistic conflict check.
type Scheduler struct {
	store    JobStore
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler. If interval is <= 0, it defaults to 15m.
func NewScheduler(store JobStore, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{store: store, interval: interval, logger: slog.Default()}
}

// Run enqueues heartbeats on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.logger.Error("heartbeat scheduling tick failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	users, err := s.store.ListUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}
	for _, userID := range users {
		if _, err := EnqueueHeartbeat(ctx, s.store, userID, time.Time{}); err != nil {
			s.logger.Warn("could not enqueue heartbeat", "user_id", userID, "error", err)
		}
	}
	return nil
}
