package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adesege/factbeat/internal/extract"
	"github.com/adesege/factbeat/internal/resolve"
	"github.com/adesege/factbeat/internal/storage"
)

// Summary reports one heartbeat run. Message-level and key-level problems
// land in Errors; callers observe partial success here rather than through a
// single failure signal.
type Summary struct {
	UserID             string    `json:"user_id"`
	Since              time.Time `json:"since"`
	MessagesProcessed  int       `json:"messages_processed"`
	MessagesSkipped    int       `json:"messages_skipped"`
	FactsCreated       int       `json:"facts_created"`
	FactsConfirmed     int       `json:"facts_confirmed"`
	FactsSuperseded    int       `json:"facts_superseded"`
	CandidatesRejected int       `json:"candidates_rejected"`
	CandidatesDropped  int       `json:"candidates_dropped"`
	Errors             []string  `json:"errors,omitempty"`
	CursorAdvancedTo   time.Time `json:"cursor_advanced_to"`
}

// MessageStore is the slice of storage the orchestrator reads and advances.
// Implemented by storage.Store.
type MessageStore interface {
	SelectMessagesSince(ctx context.Context, userID string, since time.Time) ([]storage.Message, error)
	HeartbeatCursor(ctx context.Context, userID string) (time.Time, error)
	AdvanceHeartbeatCursor(ctx context.Context, userID string, at time.Time) error
}

// CandidateResolver applies resolved candidates against the fact store.
// Implemented by resolve.Resolver.
type CandidateResolver interface {
	ResolveAll(ctx context.Context, userID string, candidates []extract.Candidate) ([]resolve.Result, []error)
}

// Orchestrator sequences one user's heartbeat: select window, extract,
// normalize, resolve, advance cursor. It is safe to re-run with overlapping
// windows: duplicate claims hit the resolver's idempotent confirm path and
// write races are absorbed by the store's optimistic conflict check.
type Orchestrator struct {
	store       MessageStore
	extractor   extract.Extractor
	resolver    CandidateResolver
	concurrency int
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator. concurrency bounds parallel
// extraction calls; <= 0 defaults to 4.
func NewOrchestrator(store MessageStore, extractor extract.Extractor, resolver CandidateResolver, concurrency int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Orchestrator{
		store:       store,
		extractor:   extractor,
		resolver:    resolver,
		concurrency: concurrency,
		logger:      slog.Default(),
	}
}

// ProcessUser runs one heartbeat for userID over messages strictly after
// since. A zero since loads the stored cursor. Only a store-unreachable
// condition returns a non-nil error (and leaves the cursor untouched);
// everything else is isolated into the Summary.
func (o *Orchestrator) ProcessUser(ctx context.Context, userID string, since time.Time) (Summary, error) {
	if since.IsZero() {
		cursor, err := o.store.HeartbeatCursor(ctx, userID)
		if err != nil {
			return Summary{}, fmt.Errorf("loading cursor: %w", err)
		}
		since = cursor
	}

	summary := Summary{UserID: userID, Since: since}

	messages, err := o.store.SelectMessagesSince(ctx, userID, since)
	if err != nil {
		return Summary{}, fmt.Errorf("selecting message window: %w", err)
	}
	if len(messages) == 0 {
		return summary, nil
	}

	extracted := o.extractBatch(ctx, messages)

	// Cursor advances only past messages with no extraction failure before
	// them, so a skipped message is retried on the next heartbeat instead
	// of being lost.
	var candidates []extract.Candidate
	var lastClean time.Time
	failed := false
	for _, ex := range extracted {
		if ex.err != nil {
			failed = true
			summary.MessagesSkipped++
			summary.Errors = append(summary.Errors, ex.err.Error())
			o.logger.Warn("message extraction failed, holding cursor",
				"user_id", userID, "message_id", ex.msg.ID, "error", ex.err)
			continue
		}
		summary.MessagesProcessed++
		if !failed {
			lastClean = ex.msg.CreatedAt
		}
		for _, c := range ex.candidates {
			normalized, err := extract.Normalize(c)
			if err != nil {
				var verr *extract.ValidationError
				if errors.As(err, &verr) {
					summary.CandidatesDropped++
					o.logger.Warn("dropping malformed candidate",
						"user_id", userID, "entity", verr.EntityName, "reason", verr.Reason)
					continue
				}
				summary.Errors = append(summary.Errors, err.Error())
				continue
			}
			candidates = append(candidates, normalized)
		}
	}

	results, resolveErrs := o.resolver.ResolveAll(ctx, userID, candidates)
	for _, err := range resolveErrs {
		summary.Errors = append(summary.Errors, err.Error())
	}
	for _, res := range results {
		switch res.Outcome {
		case resolve.OutcomeCreated:
			summary.FactsCreated++
		case resolve.OutcomeConfirmed:
			summary.FactsConfirmed++
		case resolve.OutcomeSuperseded:
			summary.FactsSuperseded++
		case resolve.OutcomeRejected:
			summary.CandidatesRejected++
		}
	}

	if !lastClean.IsZero() {
		if err := o.store.AdvanceHeartbeatCursor(ctx, userID, lastClean); err != nil {
			return summary, fmt.Errorf("advancing cursor: %w", err)
		}
		summary.CursorAdvancedTo = lastClean
	}

	return summary, nil
}

type extraction struct {
	msg        storage.Message
	candidates []extract.Candidate
	err        error
}

// extractBatch runs extraction for independent messages concurrently, then
// restores message-timestamp order. Chronological order is a correctness
// requirement for resolution, not an optimization.
func (o *Orchestrator) extractBatch(ctx context.Context, messages []storage.Message) []extraction {
	results := make([]extraction, len(messages))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for i, msg := range messages {
		g.Go(func() error {
			candidates, err := o.extractor.Extract(gCtx, msg)
			results[i] = extraction{msg: msg, candidates: candidates, err: err}
			return nil
		})
	}
	// Workers never return errors; per-message failures live in results.
	_ = g.Wait()

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].msg.CreatedAt.Before(results[b].msg.CreatedAt)
	})
	return results
}
