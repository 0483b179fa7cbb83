package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const factColumns = `id, user_id, layer, entity_name, fact_content, confidence,
	is_superseded, superseded_by, source_message_id, created_at, last_confirmed_at`

func scanFact(row interface{ Scan(...any) error }) (Fact, error) {
	var f Fact
	var supersededBy, sourceMessageID sql.NullString
	var createdAt, lastConfirmedAt string
	err := row.Scan(&f.ID, &f.UserID, &f.Layer, &f.EntityName, &f.FactContent,
		&f.Confidence, &f.IsSuperseded, &supersededBy, &sourceMessageID,
		&createdAt, &lastConfirmedAt)
	if err != nil {
		return Fact{}, err
	}
	f.SupersededBy = supersededBy.String
	f.SourceMessageID = sourceMessageID.String
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return Fact{}, fmt.Errorf("parsing created_at for fact %s: %w", f.ID, err)
	}
	if f.LastConfirmedAt, err = parseTime(lastConfirmedAt); err != nil {
		return Fact{}, fmt.Errorf("parsing last_confirmed_at for fact %s: %w", f.ID, err)
	}
	return f, nil
}

// ActiveFact returns the single non-superseded fact for (userID, entityName).
// Returns ErrNotFound when the key has never been claimed.
func (s *Store) ActiveFact(ctx context.Context, userID, entityName string) (Fact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+factColumns+`
		FROM atomic_facts
		WHERE user_id = ? AND entity_name = ? AND is_superseded = 0`,
		userID, entityName,
	)
	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return Fact{}, ErrNotFound
	}
	if err != nil {
		return Fact{}, fmt.Errorf("loading active fact %s/%s: %w", userID, entityName, err)
	}
	return f, nil
}

// GetFact retrieves a fact by ID.
func (s *Store) GetFact(ctx context.Context, id string) (Fact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+factColumns+` FROM atomic_facts WHERE id = ?`, id)
	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return Fact{}, ErrNotFound
	}
	if err != nil {
		return Fact{}, fmt.Errorf("loading fact %s: %w", id, err)
	}
	return f, nil
}

// ListActiveFacts returns all active facts for a user, optionally filtered
// by PARA layer, ordered by entity name.
func (s *Store) ListActiveFacts(ctx context.Context, userID, layer string) ([]Fact, error) {
	query := `SELECT ` + factColumns + `
		FROM atomic_facts
		WHERE user_id = ? AND is_superseded = 0`
	args := []any{userID}
	if layer != "" {
		query += " AND layer = ?"
		args = append(args, layer)
	}
	query += " ORDER BY entity_name ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing active facts for %s: %w", userID, err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning fact row: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// FactHistory returns the supersession chain for (userID, entityName),
// newest first: the active fact, then each predecessor reached by walking
// superseded_by links backwards. Returns ErrNotFound when the key has no
// active fact.
func (s *Store) FactHistory(ctx context.Context, userID, entityName string) ([]Fact, error) {
	active, err := s.ActiveFact(ctx, userID, entityName)
	if err != nil {
		return nil, err
	}

	chain := []Fact{active}
	cur := active.ID
	for {
		row := s.db.QueryRowContext(ctx, `
			SELECT `+factColumns+`
			FROM atomic_facts WHERE superseded_by = ?`, cur)
		prev, err := scanFact(row)
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("walking supersession chain at %s: %w", cur, err)
		}
		chain = append(chain, prev)
		cur = prev.ID
	}
	return chain, nil
}

// CreateFact inserts a new active fact for a key with no current active
// fact. A racing insert for the same key trips the partial unique index and
// is reported as ErrConflict.
func (s *Store) CreateFact(ctx context.Context, f Fact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO atomic_facts (`+factColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?)`,
		f.ID, f.UserID, f.Layer, f.EntityName, f.FactContent, f.Confidence,
		nullable(f.SourceMessageID),
		formatTime(f.CreatedAt),
		formatTime(f.LastConfirmedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting fact %s: %w", f.ID, err)
	}
	return nil
}

// SupersedeFact atomically writes the replacement fact and retires the old
// one. Both happen in a single transaction: there is never a state with two
// active facts for the key, nor one where the old fact is retired with no
// replacement. The UPDATE is guarded on is_superseded = 0; zero rows means
// another run already retired the old fact, reported as ErrConflict.
func (s *Store) SupersedeFact(ctx context.Context, oldID string, replacement Fact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning supersede transaction: %w", err)
	}
	defer tx.Rollback()

	// superseded_by references the replacement row, which is inserted after
	// the UPDATE; defer FK checks to commit so the forward reference is legal.
	if _, err := tx.ExecContext(ctx, "PRAGMA defer_foreign_keys = ON"); err != nil {
		return fmt.Errorf("deferring foreign keys: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE atomic_facts SET is_superseded = 1, superseded_by = ?
		WHERE id = ? AND is_superseded = 0`,
		replacement.ID, oldID,
	)
	if err != nil {
		return fmt.Errorf("retiring fact %s: %w", oldID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking retired rows: %w", err)
	}
	if n != 1 {
		return ErrConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO atomic_facts (`+factColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?)`,
		replacement.ID, replacement.UserID, replacement.Layer,
		replacement.EntityName, replacement.FactContent, replacement.Confidence,
		nullable(replacement.SourceMessageID),
		formatTime(replacement.CreatedAt),
		formatTime(replacement.LastConfirmedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting replacement fact %s: %w", replacement.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing supersession of %s: %w", oldID, err)
	}
	return nil
}

// ConfirmFact bumps last_confirmed_at on an active fact after a duplicate
// restatement. Content, confidence, and created_at stay untouched.
func (s *Store) ConfirmFact(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE atomic_facts SET last_confirmed_at = ?
		WHERE id = ? AND is_superseded = 0`,
		formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("confirming fact %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking confirmed rows: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// RecordRejectedCandidate stores a losing candidate for audit.
func (s *Store) RecordRejectedCandidate(ctx context.Context, rc RejectedCandidate) error {
	created := rc.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rejected_candidates
			(id, user_id, entity_name, fact_content, confidence, active_fact_id, source_message_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rc.ID, rc.UserID, rc.EntityName, rc.FactContent, rc.Confidence,
		nullable(rc.ActiveFactID), nullable(rc.SourceMessageID), rc.Reason,
		formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("recording rejected candidate: %w", err)
	}
	return nil
}

// ListRejectedCandidates returns recent rejected candidates for a user,
// newest first.
func (s *Store) ListRejectedCandidates(ctx context.Context, userID string, limit int) ([]RejectedCandidate, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, entity_name, fact_content, confidence,
		       COALESCE(active_fact_id, ''), COALESCE(source_message_id, ''), reason, created_at
		FROM rejected_candidates
		WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing rejected candidates for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []RejectedCandidate
	for rows.Next() {
		var rc RejectedCandidate
		var createdAt string
		if err := rows.Scan(&rc.ID, &rc.UserID, &rc.EntityName, &rc.FactContent,
			&rc.Confidence, &rc.ActiveFactID, &rc.SourceMessageID, &rc.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning rejected candidate: %w", err)
		}
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		rc.CreatedAt = t
		out = append(out, rc)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
