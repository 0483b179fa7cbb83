package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// HeartbeatCursor returns the exclusive lower bound of messages already
// considered for a user. A user with no recorded cursor gets the zero time,
// so their entire history is in the first window.
func (s *Store) HeartbeatCursor(ctx context.Context, userID string) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT last_heartbeat_at FROM heartbeat_cursors WHERE user_id = ?", userID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("loading heartbeat cursor for %s: %w", userID, err)
	}
	t, err := parseTime(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing heartbeat cursor for %s: %w", userID, err)
	}
	return t, nil
}

// AdvanceHeartbeatCursor moves the cursor forward to at. The guard keeps the
// cursor monotonic: an overlapping run that finishes late with an older
// window cannot drag it backwards. The guard compares stored text, which is
// chronological only because formatTime emits fixed-width values.
func (s *Store) AdvanceHeartbeatCursor(ctx context.Context, userID string, at time.Time) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO heartbeat_cursors (user_id, last_heartbeat_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			last_heartbeat_at = excluded.last_heartbeat_at,
			updated_at = excluded.updated_at
		WHERE excluded.last_heartbeat_at > heartbeat_cursors.last_heartbeat_at`,
		userID, formatTime(at), now,
	)
	if err != nil {
		return fmt.Errorf("advancing heartbeat cursor for %s: %w", userID, err)
	}
	return nil
}
