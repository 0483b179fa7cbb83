package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an optimistic write loses a race: the active
// fact it targeted was superseded (or created) by another run between load
// and write. Callers reload and retry.
var ErrConflict = errors.New("conflicting concurrent write")

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// PARA layers a fact can belong to.
const (
	LayerProject  = "project"
	LayerArea     = "area"
	LayerResource = "resource"
	LayerArchive  = "archive"
)

type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Direction string    `json:"direction"` // "inbound" or "outbound"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Fact is a single claim about a user. Rows are immutable once written
// except for the supersession flip and the last-confirmed marker.
type Fact struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Layer           string    `json:"layer"`
	EntityName      string    `json:"entity_name"`
	FactContent     string    `json:"fact_content"` // canonical JSON value
	Confidence      float64   `json:"confidence"`
	IsSuperseded    bool      `json:"is_superseded"`
	SupersededBy    string    `json:"superseded_by,omitempty"` // fact ID, empty while active
	SourceMessageID string    `json:"source_message_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LastConfirmedAt time.Time `json:"last_confirmed_at"`
}

// RejectedCandidate records a candidate that lost confidence arbitration
// against the active fact. Kept for audit, never consulted by resolution.
type RejectedCandidate struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	EntityName      string    `json:"entity_name"`
	FactContent     string    `json:"fact_content"`
	Confidence      float64   `json:"confidence"`
	ActiveFactID    string    `json:"active_fact_id,omitempty"`
	SourceMessageID string    `json:"source_message_id,omitempty"`
	Reason          string    `json:"reason"`
	CreatedAt       time.Time `json:"created_at"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
