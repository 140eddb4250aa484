// Package schedule defines the value types shared by the study burst engine:
// scheduled activity records as supplied by the sync layer, participant
// reports, and the calendar-day type used for all "same day" decisions.
//
// Activities are treated as immutable values. Derived state is recomputed
// from full snapshots; nothing in this package mutates in place.
package schedule

import (
	"encoding/json"
	"sort"
	"time"
)

// Activity is a single scheduled occurrence of a study activity. Identity is
// the GUID; many records can share an Identifier (one per occurrence/day).
type Activity struct {
	// Identifier names the activity (task, survey, or burst marker).
	Identifier string `json:"activityIdentifier"`

	// GUID uniquely identifies this occurrence.
	GUID string `json:"guid"`

	// SchemaIdentifier keys the upload schema for archived results.
	SchemaIdentifier string `json:"schemaIdentifier,omitempty"`

	ScheduledOn time.Time  `json:"scheduledOn"`
	ExpiresOn   *time.Time `json:"expiresOn,omitempty"`
	StartedOn   *time.Time `json:"startedOn,omitempty"`
	FinishedOn  *time.Time `json:"finishedOn,omitempty"`

	// ClientData carries small JSON payloads attached by the client, such as
	// the burst completion record.
	ClientData json.RawMessage `json:"clientData,omitempty"`

	Persistent bool `json:"persistent,omitempty"`
}

// IsFinished reports whether the occurrence has a finished timestamp.
func (a Activity) IsFinished() bool {
	return a.FinishedOn != nil && !a.FinishedOn.IsZero()
}

// ScheduledDay returns the calendar day the occurrence is scheduled on.
func (a Activity) ScheduledDay(loc *time.Location) Day {
	return DayOf(a.ScheduledOn, loc)
}

// FinishedToday reports whether the occurrence finished on the given day.
func (a Activity) FinishedToday(today Day) bool {
	return a.IsFinished() && today.Contains(*a.FinishedOn)
}

// WithCompletion returns a copy with the given start/finish timestamps.
func (a Activity) WithCompletion(startedOn, finishedOn time.Time) Activity {
	s, f := startedOn, finishedOn
	a.StartedOn = &s
	a.FinishedOn = &f
	return a
}

// Filter returns the activities for which keep returns true, preserving order.
func Filter(activities []Activity, keep func(Activity) bool) []Activity {
	out := make([]Activity, 0, len(activities))
	for _, a := range activities {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

// WithIdentifier returns the activities matching the given identifier.
func WithIdentifier(activities []Activity, identifier string) []Activity {
	return Filter(activities, func(a Activity) bool { return a.Identifier == identifier })
}

// SortByScheduledOn sorts a copy of the activities by ascending scheduled
// time, ties broken by GUID so the order is deterministic.
func SortByScheduledOn(activities []Activity) []Activity {
	out := make([]Activity, len(activities))
	copy(out, activities)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ScheduledOn.Equal(out[j].ScheduledOn) {
			return out[i].ScheduledOn.Before(out[j].ScheduledOn)
		}
		return out[i].GUID < out[j].GUID
	})
	return out
}
