package cache

import (
	"context"
	"encoding/json"
	"time"
)

// StoredOrder returns the persisted daily task order, or ok=false when none
// has been saved yet or the stored row is unreadable.
func (s *Store) StoredOrder() ([]string, time.Time, bool) {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT order_json, saved_at FROM task_order WHERE id = 1`)

	var orderJSON, savedAt string
	if err := row.Scan(&orderJSON, &savedAt); err != nil {
		return nil, time.Time{}, false
	}

	var order []string
	if err := json.Unmarshal([]byte(orderJSON), &order); err != nil {
		return nil, time.Time{}, false
	}
	at, err := parseRequiredTime(savedAt)
	if err != nil {
		return nil, time.Time{}, false
	}
	return order, at, true
}

// SaveOrder persists the daily task order, replacing any previous one.
func (s *Store) SaveOrder(order []string, savedAt time.Time) error {
	orderJSON, err := json.Marshal(order)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(context.Background(), `
		INSERT INTO task_order (id, order_json, saved_at)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			order_json = excluded.order_json,
			saved_at = excluded.saved_at`,
		string(orderJSON), mustTime(savedAt))
	return err
}
