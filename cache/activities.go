package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sagebionetworks/burstd/schedule"
)

const activityColumns = `guid, identifier, schema_identifier, scheduled_at, expires_at, started_at, finished_at, client_data, persistent`

// ReplaceActivities swaps the cached snapshot for a new one atomically.
func (s *Store) ReplaceActivities(ctx context.Context, activities []schedule.Activity, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM activities`); err != nil {
		return fmt.Errorf("clear activities: %w", err)
	}
	for _, a := range activities {
		if err := upsertActivity(ctx, tx, a, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertActivities inserts or updates individual records without touching the
// rest of the snapshot, for locally mutated schedules awaiting push-back.
func (s *Store) UpsertActivities(ctx context.Context, activities []schedule.Activity, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, a := range activities {
		if err := upsertActivity(ctx, tx, a, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertActivity(ctx context.Context, tx *sql.Tx, a schedule.Activity, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO activities (`+activityColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (guid) DO UPDATE SET
			identifier = excluded.identifier,
			schema_identifier = excluded.schema_identifier,
			scheduled_at = excluded.scheduled_at,
			expires_at = excluded.expires_at,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			client_data = excluded.client_data,
			persistent = excluded.persistent,
			updated_at = excluded.updated_at`,
		a.GUID, a.Identifier, a.SchemaIdentifier, mustTime(a.ScheduledOn),
		nullTime(a.ExpiresOn), nullTime(a.StartedOn), nullTime(a.FinishedOn),
		[]byte(a.ClientData), boolInt(a.Persistent), mustTime(now),
	)
	if err != nil {
		return fmt.Errorf("upsert activity %s: %w", a.GUID, err)
	}
	return nil
}

// Activities returns the whole cached snapshot ordered by schedule time.
func (s *Store) Activities(ctx context.Context) ([]schedule.Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+` FROM activities
		ORDER BY scheduled_at ASC, guid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActivities(rows)
}

// FutureMarkers returns up to limit not-yet-started occurrences of the
// identifier scheduled at or after from, ascending.
func (s *Store) FutureMarkers(ctx context.Context, identifier string, from time.Time, limit int) ([]schedule.Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+` FROM activities
		WHERE identifier = ? AND scheduled_at >= ? AND started_at IS NULL
		ORDER BY scheduled_at ASC, guid ASC
		LIMIT ?`,
		identifier, mustTime(from), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActivities(rows)
}

func collectActivities(rows *sql.Rows) ([]schedule.Activity, error) {
	out := make([]schedule.Activity, 0)
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanActivity(s scanner) (schedule.Activity, error) {
	var out schedule.Activity
	var scheduled string
	var expires, started, finished sql.NullString
	var clientData []byte
	var persistent int
	if err := s.Scan(&out.GUID, &out.Identifier, &out.SchemaIdentifier,
		&scheduled, &expires, &started, &finished, &clientData, &persistent); err != nil {
		return schedule.Activity{}, err
	}

	scheduledOn, err := parseRequiredTime(scheduled)
	if err != nil {
		return schedule.Activity{}, err
	}
	expiresOn, err := parseNullableTime(expires)
	if err != nil {
		return schedule.Activity{}, err
	}
	startedOn, err := parseNullableTime(started)
	if err != nil {
		return schedule.Activity{}, err
	}
	finishedOn, err := parseNullableTime(finished)
	if err != nil {
		return schedule.Activity{}, err
	}

	out.ScheduledOn = scheduledOn
	out.ExpiresOn = expiresOn
	out.StartedOn = startedOn
	out.FinishedOn = finishedOn
	if len(clientData) > 0 {
		out.ClientData = clientData
	}
	out.Persistent = persistent != 0
	return out, nil
}
