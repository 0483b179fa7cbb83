package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveMessage stores a chat message.
func (s *Store) SaveMessage(ctx context.Context, m Message) error {
	if m.Direction != DirectionInbound && m.Direction != DirectionOutbound {
		return fmt.Errorf("invalid message direction %q", m.Direction)
	}
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, user_id, direction, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Direction, m.Content, formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("inserting message %s: %w", m.ID, err)
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, id string) (Message, error) {
	var m Message
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, direction, content, created_at
		FROM messages WHERE id = ?`, id,
	).Scan(&m.ID, &m.UserID, &m.Direction, &m.Content, &createdAt)
	if err == sql.ErrNoRows {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return Message{}, fmt.Errorf("parsing created_at: %w", err)
	}
	m.CreatedAt = t
	return m, nil
}

// SelectMessagesSince returns the user's inbound messages created strictly
// after since, ascending by creation time. The bound is exclusive so a
// message timestamped exactly at the cursor is never reprocessed. The result
// is deterministic for a fixed since: ties on created_at break on id.
func (s *Store) SelectMessagesSince(ctx context.Context, userID string, since time.Time) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, direction, content, created_at
		FROM messages
		WHERE user_id = ? AND direction = ? AND created_at > ?
		ORDER BY created_at ASC, id ASC`,
		userID, DirectionInbound, formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("selecting messages for %s: %w", userID, err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Direction, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for message %s: %w", m.ID, err)
		}
		m.CreatedAt = t
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CountMessages returns the number of stored messages for a user.
func (s *Store) CountMessages(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE user_id = ?", userID).Scan(&n)
	return n, err
}

// ListUserIDs returns the distinct user IDs that have at least one message.
// Used by the heartbeat scheduler to enumerate users due for a run.
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT user_id FROM messages ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("listing user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
