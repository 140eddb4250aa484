package schedule

import (
	"encoding/json"
	"time"
)

// QueryType selects how a report query is evaluated by the report store.
type QueryType string

const (
	// QueryToday fetches reports dated on the current calendar day.
	QueryToday QueryType = "today"
	// QueryMostRecent fetches the single most recent report.
	QueryMostRecent QueryType = "mostRecent"
	// QueryAll fetches every report for the identifier.
	QueryAll QueryType = "all"
	// QueryDateRange fetches reports within [From, To].
	QueryDateRange QueryType = "dateRange"
)

// Report is a small JSON payload keyed by identifier and date, used for data
// without a calendar-schedule shape (survey completion markers, the reminder
// preference).
type Report struct {
	Identifier string          `json:"identifier"`
	Date       time.Time       `json:"date"`
	ClientData json.RawMessage `json:"data,omitempty"`
}

// ReportQuery declares one report fetch the engine needs the store to run.
type ReportQuery struct {
	Identifier string
	Type       QueryType
	From       time.Time
	To         time.Time
}

// MostRecentReport returns the latest report for the identifier, or false
// when none exists.
func MostRecentReport(reports []Report, identifier string) (Report, bool) {
	var best Report
	found := false
	for _, r := range reports {
		if r.Identifier != identifier {
			continue
		}
		if !found || r.Date.After(best.Date) {
			best = r
			found = true
		}
	}
	return best, found
}
