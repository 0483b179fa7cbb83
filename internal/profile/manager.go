package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/adesege/factbeat/internal/storage"
)

// FactReader defines the storage operations the Manager needs.
// Implemented by storage.Store.
type FactReader interface {
	ListActiveFacts(ctx context.Context, userID, layer string) ([]storage.Fact, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager provides cached, per-user summaries of active facts. The summary
// feeds the extraction prompt (so the model can tell a restatement from a
// correction) and the MCP profile resource.
type Manager struct {
	store FactReader
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   map[string]cachedSummary
}

type cachedSummary struct {
	text     string
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store FactReader) *Manager {
	return &Manager{
		store:  store,
		clock:  realClock{},
		ttl:    60 * time.Second,
		cached: make(map[string]cachedSummary),
	}
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store FactReader, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		ttl:    ttl,
		cached: make(map[string]cachedSummary),
	}
}

// Summary returns a compact natural-language rendering of the user's active
// facts, suitable for injection into a system prompt. Targets < 500 tokens.
func (m *Manager) Summary(ctx context.Context, userID string) (string, error) {
	m.mu.RLock()
	if c, ok := m.cached[userID]; ok && m.clock.Now().Before(c.cachedAt.Add(m.ttl)) {
		m.mu.RUnlock()
		return c.text, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if c, ok := m.cached[userID]; ok && m.clock.Now().Before(c.cachedAt.Add(m.ttl)) {
		return c.text, nil
	}

	facts, err := m.store.ListActiveFacts(ctx, userID, "")
	if err != nil {
		return "", fmt.Errorf("loading active facts for summary: %w", err)
	}

	text := summarize(facts)
	m.cached[userID] = cachedSummary{text: text, cachedAt: m.clock.Now()}
	return text, nil
}

// Invalidate drops the cached summary for a user after their facts change.
func (m *Manager) Invalidate(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cached, userID)
}

// maxSummaryChars caps the summary to stay under ~500 tokens (4 chars/token).
const maxSummaryChars = 2000

func summarize(facts []storage.Fact) string {
	if len(facts) == 0 {
		return "No facts on record yet."
	}

	sorted := make([]storage.Fact, len(facts))
	copy(sorted, facts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].EntityName < sorted[j].EntityName
	})

	var parts []string
	for _, f := range sorted {
		parts = append(parts, fmt.Sprintf("%s: %s (confidence %.2f).",
			f.EntityName, renderValue(f.FactContent), f.Confidence))
	}

	summary := strings.Join(parts, " ")
	if len(summary) > maxSummaryChars {
		// Ensure we don't split a multi-byte UTF-8 character.
		end := maxSummaryChars
		for end > 0 && !utf8.RuneStart(summary[end]) {
			end--
		}
		if idx := strings.LastIndex(summary[:end], " "); idx > 0 {
			summary = summary[:idx]
		} else {
			summary = summary[:end]
		}
	}
	return summary
}

// renderValue unwraps the canonical JSON for display; malformed content is
// shown raw rather than hidden.
func renderValue(contentJSON string) string {
	var v any
	if err := json.Unmarshal([]byte(contentJSON), &v); err != nil {
		return contentJSON
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}
