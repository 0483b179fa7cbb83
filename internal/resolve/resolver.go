package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/adesege/factbeat/internal/extract"
	"github.com/adesege/factbeat/internal/storage"
)

// maxConflictRetries bounds the reload-and-retry loop when an overlapping
// heartbeat run wins the write race for the same entity key.
const maxConflictRetries = 3

// Outcome classifies what resolution did with one candidate.
type Outcome int

const (
	// OutcomeCreated means no active fact existed; the candidate became
	// the first active fact for its key.
	OutcomeCreated Outcome = iota
	// OutcomeConfirmed means the candidate restated the active fact;
	// only the last-confirmed marker moved.
	OutcomeConfirmed
	// OutcomeSuperseded means the candidate replaced the active fact.
	OutcomeSuperseded
	// OutcomeRejected means the candidate lost confidence arbitration
	// and was recorded for audit only.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeSuperseded:
		return "superseded"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result reports resolution of a single candidate.
type Result struct {
	Outcome    Outcome
	EntityName string
	FactID     string // the active fact after resolution (empty on reject)
}

// ResolutionConflictError is surfaced when an entity key stayed contended
// past the retry bound. Only that key is affected; the run continues.
type ResolutionConflictError struct {
	UserID     string
	EntityName string
	Attempts   int
}

func (e *ResolutionConflictError) Error() string {
	return fmt.Sprintf("resolution for %s/%s still conflicted after %d attempts", e.UserID, e.EntityName, e.Attempts)
}

// FactStore is the slice of storage the resolver needs.
// Implemented by storage.Store.
type FactStore interface {
	ActiveFact(ctx context.Context, userID, entityName string) (storage.Fact, error)
	CreateFact(ctx context.Context, f storage.Fact) error
	SupersedeFact(ctx context.Context, oldID string, replacement storage.Fact) error
	ConfirmFact(ctx context.Context, id string, at time.Time) error
	RecordRejectedCandidate(ctx context.Context, rc storage.RejectedCandidate) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Options tune confidence arbitration.
type Options struct {
	// ConfidenceMargin widens the rejection band: a candidate is rejected
	// outright when its confidence is below the active fact's by more than
	// the margin. Zero means any strictly lower confidence is rejected.
	ConfidenceMargin float64
	// RecencyFloor is the minimum confidence a chronologically newer
	// candidate needs to supersede when it sits inside the margin.
	RecencyFloor float64
}

// DefaultOptions rejects any strictly lower-confidence candidate and lets
// recency win ties for candidates at or above 0.6 confidence.
func DefaultOptions() Options {
	return Options{ConfidenceMargin: 0, RecencyFloor: 0.6}
}

// Resolver applies the supersession state machine to normalized candidates.
type Resolver struct {
	store FactStore
	opts  Options
	clock Clock
}

// New creates a Resolver.
func New(store FactStore, opts Options) *Resolver {
	return &Resolver{store: store, opts: opts, clock: realClock{}}
}

// NewWithClock creates a Resolver with a custom clock (for testing).
func NewWithClock(store FactStore, opts Options, clock Clock) *Resolver {
	return &Resolver{store: store, opts: opts, clock: clock}
}

// ResolveAll resolves a batch of normalized candidates for one user.
// Candidates are grouped by entity key and each group is applied in message
// timestamp order, so the final active fact reflects the most recent
// chronological statement rather than extraction order. Per-key conflict
// errors are collected, not fatal.
func (r *Resolver) ResolveAll(ctx context.Context, userID string, candidates []extract.Candidate) ([]Result, []error) {
	groups := map[string][]extract.Candidate{}
	var order []string
	for _, c := range candidates {
		if _, ok := groups[c.EntityName]; !ok {
			order = append(order, c.EntityName)
		}
		groups[c.EntityName] = append(groups[c.EntityName], c)
	}

	var results []Result
	var errs []error
	for _, entity := range order {
		group := groups[entity]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].MessageAt.Before(group[j].MessageAt)
		})
		for _, c := range group {
			res, err := r.Resolve(ctx, userID, c)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			results = append(results, res)
		}
	}
	return results, errs
}

// Resolve applies the state machine to a single candidate, retrying from a
// fresh load when an optimistic write loses a race.
func (r *Resolver) Resolve(ctx context.Context, userID string, c extract.Candidate) (Result, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		res, err := r.resolveOnce(ctx, userID, c)
		if errors.Is(err, storage.ErrConflict) {
			slog.Debug("resolution conflict, retrying from fresh state",
				"user_id", userID, "entity", c.EntityName, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return Result{}, err
		}
		return res, nil
	}
	return Result{}, &ResolutionConflictError{UserID: userID, EntityName: c.EntityName, Attempts: maxConflictRetries}
}

func (r *Resolver) resolveOnce(ctx context.Context, userID string, c extract.Candidate) (Result, error) {
	active, err := r.store.ActiveFact(ctx, userID, c.EntityName)
	if errors.Is(err, storage.ErrNotFound) {
		// First claim for this key: accept unconditionally.
		f := r.newFact(userID, c)
		if err := r.store.CreateFact(ctx, f); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeCreated, EntityName: c.EntityName, FactID: f.ID}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("loading active fact: %w", err)
	}

	if active.FactContent == c.Value {
		// Identical claim: idempotent self-loop. No new row, no version bump.
		if err := r.store.ConfirmFact(ctx, active.ID, r.clock.Now()); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeConfirmed, EntityName: c.EntityName, FactID: active.ID}, nil
	}

	if !r.supersedes(c, active) {
		rc := storage.RejectedCandidate{
			ID:              uuid.New().String(),
			UserID:          userID,
			EntityName:      c.EntityName,
			FactContent:     c.Value,
			Confidence:      c.Confidence,
			ActiveFactID:    active.ID,
			SourceMessageID: c.SourceMessageID,
			Reason: fmt.Sprintf("confidence %.2f below active %.2f (margin %.2f)",
				c.Confidence, active.Confidence, r.opts.ConfidenceMargin),
			CreatedAt: r.clock.Now(),
		}
		if err := r.store.RecordRejectedCandidate(ctx, rc); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeRejected, EntityName: c.EntityName}, nil
	}

	replacement := r.newFact(userID, c)
	if err := r.store.SupersedeFact(ctx, active.ID, replacement); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeSuperseded, EntityName: c.EntityName, FactID: replacement.ID}, nil
}

// supersedes decides confidence arbitration for a genuinely conflicting
// claim. Equal-or-higher confidence wins; within the margin, a newer
// statement at or above the recency floor also wins. Later messages are not
// inherently more reliable, so anything below both bars is rejected.
func (r *Resolver) supersedes(c extract.Candidate, active storage.Fact) bool {
	if c.Confidence >= active.Confidence {
		return true
	}
	if active.Confidence-c.Confidence <= r.opts.ConfidenceMargin &&
		c.Confidence >= r.opts.RecencyFloor &&
		c.MessageAt.After(active.CreatedAt) {
		return true
	}
	return false
}

func (r *Resolver) newFact(userID string, c extract.Candidate) storage.Fact {
	now := r.clock.Now()
	return storage.Fact{
		ID:              uuid.New().String(),
		UserID:          userID,
		Layer:           c.Layer,
		EntityName:      c.EntityName,
		FactContent:     c.Value,
		Confidence:      c.Confidence,
		SourceMessageID: c.SourceMessageID,
		CreatedAt:       now,
		LastConfirmedAt: now,
	}
}
