// Package notify computes and delivers local reminder notifications for
// study burst days.
//
// The planner reconciles the desired set of future reminders against the
// currently pending set and returns a minimal add/remove diff. Identifiers
// are deterministic, built from the marker occurrence GUID and the reminder
// time of day, so reapplying a plan is self-correcting: anything still valid
// is left alone, anything stale is removed, anything missing is added.
package notify

import (
	"fmt"
	"time"

	"github.com/sagebionetworks/burstd/schedule"
)

// TimeOfDay is a reminder wall-clock time.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Key returns the canonical JSON encoding used in notification identifiers.
func (t TimeOfDay) Key() string {
	return fmt.Sprintf(`{"hour":%d,"minute":%d}`, t.Hour, t.Minute)
}

// Request is one pending or to-be-scheduled local notification.
type Request struct {
	// Identifier is "<marker guid> <time-of-day JSON>".
	Identifier string
	// FireAt is the absolute trigger time (non-repeating).
	FireAt time.Time
	Body   string
}

// RequestIdentifier builds the deterministic identifier for a marker
// occurrence reminder.
func RequestIdentifier(markerGUID string, t TimeOfDay) string {
	return markerGUID + " " + t.Key()
}

// Diff is the minimal reconciliation result.
type Diff struct {
	Add       []Request
	RemoveIDs []string
}

// Empty reports whether the diff changes nothing.
func (d Diff) Empty() bool {
	return len(d.Add) == 0 && len(d.RemoveIDs) == 0
}

// PlanInput carries everything the planner needs. Markers is the full set of
// known burst-marker occurrences; Pending is the currently scheduled set of
// reminder requests (already filtered to this planner's namespace).
type PlanInput struct {
	Now      time.Time
	Location *time.Location
	Reminder TimeOfDay

	Markers []schedule.Activity

	// Burst shape, used to stop reminding for continuation days once the
	// minimum requirement is already met.
	NumberOfDays        int
	MinimumRequiredDays int
	MaxDaysCount        int
	PastDaysCount       int
	MissedDaysCount     int

	Pending []Request

	// FetchNextCycle supplies the next burst cycle's marker occurrences when
	// the known future list runs low. Optional.
	FetchNextCycle func(from time.Time, limit int) ([]schedule.Activity, error)

	Body string
}

// Plan computes the add/remove diff for the desired reminder schedule.
//
// A reminder fires on each future, not-yet-completed marker occurrence day at
// the configured time of day. Once the participant has met the minimum
// required day count the trailing continuation-day occurrences are dropped,
// since the burst may end at the nominal length.
func Plan(in PlanInput) Diff {
	loc := in.Location
	if loc == nil {
		loc = time.Local
	}

	// Schedule start: today at the reminder time if still ahead, else
	// tomorrow.
	today := schedule.DayOf(in.Now, loc)
	start := today.At(in.Reminder.Hour, in.Reminder.Minute)
	if !start.After(in.Now) {
		start = today.AddDays(1).At(in.Reminder.Hour, in.Reminder.Minute)
	}

	future := futureOccurrences(in.Markers, start, loc, in.Reminder)

	extraDays := in.MaxDaysCount - in.NumberOfDays
	if extraDays < 0 {
		extraDays = 0
	}
	completed := in.PastDaysCount - in.MissedDaysCount
	if completed >= in.MinimumRequiredDays && extraDays > 0 {
		if len(future) > extraDays {
			future = future[:len(future)-extraDays]
		} else {
			future = nil
		}
	}

	// Running low on known occurrences: roll forward into the next cycle.
	if len(future) <= extraDays && in.FetchNextCycle != nil {
		from := in.Now.AddDate(0, 0, 2*extraDays)
		more, err := in.FetchNextCycle(from, in.NumberOfDays)
		if err == nil {
			future = append(future, futureOccurrences(more, start, loc, in.Reminder)...)
		}
	}

	pendingByID := make(map[string]Request, len(in.Pending))
	for _, p := range in.Pending {
		pendingByID[p.Identifier] = p
	}

	var add []Request
	for _, f := range future {
		if _, ok := pendingByID[f.Identifier]; ok {
			delete(pendingByID, f.Identifier)
			continue
		}
		f.Body = in.Body
		add = append(add, f)
	}

	removeIDs := make([]string, 0, len(pendingByID))
	for _, p := range in.Pending {
		if _, stale := pendingByID[p.Identifier]; stale {
			removeIDs = append(removeIDs, p.Identifier)
		}
	}

	return Diff{Add: add, RemoveIDs: removeIDs}
}

// futureOccurrences maps unfinished marker occurrences at or after start to
// reminder requests, ascending by fire time.
func futureOccurrences(markers []schedule.Activity, start time.Time, loc *time.Location, t TimeOfDay) []Request {
	var out []Request
	for _, m := range schedule.SortByScheduledOn(markers) {
		if m.IsFinished() {
			continue
		}
		fire := schedule.DayOf(m.ScheduledOn, loc).At(t.Hour, t.Minute)
		if fire.Before(start) {
			continue
		}
		out = append(out, Request{
			Identifier: RequestIdentifier(m.GUID, t),
			FireAt:     fire,
		})
	}
	return out
}
