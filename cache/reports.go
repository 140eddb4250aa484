package cache

import (
	"context"
	"time"

	"github.com/sagebionetworks/burstd/schedule"
)

// SaveReport inserts or replaces a report row keyed by identifier and date.
func (s *Store) SaveReport(ctx context.Context, report schedule.Report) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (identifier, report_date, client_data)
		VALUES (?, ?, ?)
		ON CONFLICT (identifier, report_date) DO UPDATE SET
			client_data = excluded.client_data`,
		report.Identifier, mustTime(report.Date), []byte(report.ClientData))
	return err
}

// FetchReports evaluates each query against the cached rows. Unknown query
// types fall back to returning everything for the identifier.
func (s *Store) FetchReports(ctx context.Context, queries []schedule.ReportQuery) ([]schedule.Report, error) {
	var out []schedule.Report
	for _, q := range queries {
		reports, err := s.fetchReports(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, reports...)
	}
	return out, nil
}

func (s *Store) fetchReports(ctx context.Context, q schedule.ReportQuery) ([]schedule.Report, error) {
	query := `SELECT identifier, report_date, client_data FROM reports WHERE identifier = ?`
	args := []any{q.Identifier}

	switch q.Type {
	case schedule.QueryMostRecent:
		query += ` ORDER BY report_date DESC LIMIT 1`
	case schedule.QueryToday:
		day := q.From
		if day.IsZero() {
			day = time.Now()
		}
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
		query += ` AND report_date >= ? AND report_date < ? ORDER BY report_date ASC`
		args = append(args, mustTime(start), mustTime(start.AddDate(0, 0, 1)))
	case schedule.QueryDateRange:
		query += ` AND report_date >= ? AND report_date <= ? ORDER BY report_date ASC`
		args = append(args, mustTime(q.From), mustTime(q.To))
	default:
		query += ` ORDER BY report_date ASC`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]schedule.Report, 0)
	for rows.Next() {
		r, scanErr := scanReport(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReport(s scanner) (schedule.Report, error) {
	var out schedule.Report
	var date string
	var clientData []byte
	if err := s.Scan(&out.Identifier, &date, &clientData); err != nil {
		return schedule.Report{}, err
	}
	reportDate, err := parseRequiredTime(date)
	if err != nil {
		return schedule.Report{}, err
	}
	out.Date = reportDate
	if len(clientData) > 0 {
		out.ClientData = clientData
	}
	return out, nil
}
