package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/adesege/factbeat/internal/ollama"
	"github.com/adesege/factbeat/internal/storage"
)

// DefaultTimeout bounds a single extraction call. Exceeding it fails only
// the message being extracted, never the batch.
const DefaultTimeout = 15 * time.Second

// Candidate is an unresolved fact proposed by extraction for one message.
type Candidate struct {
	EntityName      string
	Layer           string
	Value           string // canonical JSON after normalization
	Confidence      float64
	SourceMessageID string
	MessageAt       time.Time
}

// ExtractionError marks a per-message extraction failure (timeout, transport
// error, malformed model output). The orchestrator skips the message and
// holds the cursor back so it is retried on the next heartbeat.
type ExtractionError struct {
	MessageID string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting from message %s: %v", e.MessageID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extractor proposes candidate facts from a single message. Implementations
// must honor ctx cancellation; a correctness test can inject a deterministic
// stub instead of a live model.
type Extractor interface {
	Extract(ctx context.Context, msg storage.Message) ([]Candidate, error)
}

// Chatter is the LLM chat interface the extractor needs.
// Satisfied by ollama.Client and openrouter.Client.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, jsonSchema *ollama.Schema) (string, error)
}

// KnownFactsProvider supplies a compact summary of the user's current active
// facts so the model can tell restatements from corrections.
type KnownFactsProvider interface {
	Summary(ctx context.Context, userID string) (string, error)
}

// LLMExtractor extracts candidate facts using a chat model constrained to a
// JSON schema.
type LLMExtractor struct {
	client  Chatter
	model   string
	known   KnownFactsProvider // optional
	timeout time.Duration
}

// NewLLMExtractor creates an LLMExtractor. known may be nil; timeout <= 0
// falls back to DefaultTimeout.
func NewLLMExtractor(client Chatter, model string, known KnownFactsProvider, timeout time.Duration) *LLMExtractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &LLMExtractor{client: client, model: model, known: known, timeout: timeout}
}

// rawCandidate mirrors the model's JSON output for one proposed fact.
type rawCandidate struct {
	EntityName string  `json:"entity_name"`
	Layer      string  `json:"layer"`
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

type extractionResult struct {
	Facts []rawCandidate `json:"facts"`
}

// Extract runs one extraction call for the message. Candidates are returned
// un-normalized; callers pass them through Normalize before resolution.
// Zero candidates is a valid result for a non-factual message.
func (e *LLMExtractor) Extract(ctx context.Context, msg storage.Message) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	knownSummary := ""
	if e.known != nil {
		s, err := e.known.Summary(ctx, msg.UserID)
		if err != nil {
			// Known-facts context is an aid, not a requirement.
			slog.Warn("loading known facts for extraction prompt failed", "user_id", msg.UserID, "error", err)
		} else {
			knownSummary = s
		}
	}

	raw, err := e.client.Chat(ctx, e.model, BuildPrompt(msg.Content, knownSummary), extractionSchema())
	if err != nil {
		return nil, &ExtractionError{MessageID: msg.ID, Err: err}
	}

	var result extractionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, &ExtractionError{MessageID: msg.ID, Err: fmt.Errorf("malformed model output: %w", err)}
	}

	candidates := make([]Candidate, 0, len(result.Facts))
	for _, rc := range result.Facts {
		value, err := json.Marshal(rc.Value)
		if err != nil {
			return nil, &ExtractionError{MessageID: msg.ID, Err: fmt.Errorf("encoding value for %q: %w", rc.EntityName, err)}
		}
		candidates = append(candidates, Candidate{
			EntityName:      rc.EntityName,
			Layer:           rc.Layer,
			Value:           string(value),
			Confidence:      rc.Confidence,
			SourceMessageID: msg.ID,
			MessageAt:       msg.CreatedAt,
		})
	}
	return candidates, nil
}
