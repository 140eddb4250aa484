package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sagebionetworks/burstd/notify"
)

// PendingRequests returns every scheduled reminder ordered by fire time.
func (s *Store) PendingRequests(ctx context.Context) ([]notify.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fire_at, body FROM pending_notifications
		ORDER BY fire_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]notify.Request, 0)
	for rows.Next() {
		var req notify.Request
		var fireAt string
		if err := rows.Scan(&req.Identifier, &fireAt, &req.Body); err != nil {
			return nil, err
		}
		at, err := parseRequiredTime(fireAt)
		if err != nil {
			return nil, err
		}
		req.FireAt = at
		out = append(out, req)
	}
	return out, rows.Err()
}

// Add schedules a reminder, replacing any existing request with the same
// identifier.
func (s *Store) Add(ctx context.Context, req notify.Request) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_notifications (id, fire_at, body, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			fire_at = excluded.fire_at,
			body = excluded.body`,
		req.Identifier, mustTime(req.FireAt), req.Body, mustTime(time.Now()))
	if err != nil {
		return fmt.Errorf("add notification %s: %w", req.Identifier, err)
	}
	return nil
}

// RemovePending deletes the given reminder requests. Unknown identifiers are
// ignored.
func (s *Store) RemovePending(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?, ", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_notifications WHERE id IN (`+placeholders+`)`, args...)
	return err
}
