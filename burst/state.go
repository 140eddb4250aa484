package burst

import (
	"time"

	"github.com/sagebionetworks/burstd/config"
	"github.com/sagebionetworks/burstd/schedule"
)

// State is the derived view of the participant's study burst, recomputed
// from scratch on every applied snapshot and never persisted.
//
// Invariants: HasStudyBurst == (DayCount > 0); DayCount, when the burst is
// active, is 1-based; Finished holds at most one record per activity
// identifier and never more records than the task group has tasks.
type State struct {
	HasStudyBurst bool

	// DayCount is the 1-based day index into the current burst occurrence,
	// 0 when no burst is active today.
	DayCount int

	// PastDaysCount and MissedDaysCount describe the marker history strictly
	// before today. MissedDaysCount is 0 when no burst is active.
	PastDaysCount   int
	MissedDaysCount int

	// MaxDaysCount is the total number of marker occurrences known, bounding
	// the continuation-days window.
	MaxDaysCount int

	// Finished is the subset of today's task schedules counting as done
	// under the expiration-window rule.
	Finished []schedule.Activity

	// ExpiresOn is the wall-clock deadline after which partial progress
	// stops counting. Nil when there is no partial progress or the marker is
	// already complete.
	ExpiresOn *time.Time

	// Marker is today's burst marker occurrence, nil when none exists.
	Marker *schedule.Activity
}

// FinishedCount returns the number of completed burst days including today's
// progress day: dayCount minus the missed days.
func (s State) FinishedCount() int {
	return s.DayCount - s.MissedDaysCount
}

// stateInputs gathers everything the pure state computation needs.
type stateInputs struct {
	cfg            config.StudyBurstConfig
	loc            *time.Location
	now            time.Time
	activities     []schedule.Activity
	totalTasks     int
	taskSet        map[string]bool
	gracePeriod    time.Duration
	shouldContinue func() bool
}

// computeState derives the burst state from a full activity snapshot.
func computeState(in stateInputs) State {
	today := schedule.DayOf(in.now, in.loc)
	markers := schedule.WithIdentifier(in.activities, in.cfg.Identifier)

	var todayMarker *schedule.Activity
	for i := range markers {
		if today.Contains(markers[i].ScheduledOn) {
			m := markers[i]
			todayMarker = &m
			break
		}
	}

	past := schedule.Filter(markers, func(a schedule.Activity) bool {
		return a.ScheduledDay(in.loc).Before(today)
	})

	out := State{
		MaxDaysCount:  len(markers),
		PastDaysCount: len(past),
	}
	if todayMarker == nil {
		return out
	}

	dayCount := len(past) + 1
	missed := 0
	for _, a := range past {
		if !a.IsFinished() {
			missed++
		}
	}
	finishedCount := dayCount - missed

	hasBurst := dayCount <= in.cfg.NumberOfDays ||
		(finishedCount < in.cfg.MinimumRequiredDays && in.shouldContinue())
	if !hasBurst {
		// Marker exists but the burst is over; day counts are meaningless.
		out.Marker = todayMarker
		return out
	}

	out.HasStudyBurst = true
	out.DayCount = dayCount
	out.MissedDaysCount = missed
	out.Marker = todayMarker

	finished, earliest := filterFinished(filterInputs{
		activities: in.activities,
		taskSet:    in.taskSet,
		today:      today,
		now:        in.now,
		limit:      in.cfg.ExpiresLimit.Std(),
		grace:      in.gracePeriod,
		totalTasks: in.totalTasks,
	})
	out.Finished = finished

	switch {
	case todayMarker.IsFinished():
		// Already recorded complete; nothing left to expire.
	case len(finished) > 0 && len(finished) < in.totalTasks:
		exp := earliest.Add(in.cfg.ExpiresLimit.Std())
		out.ExpiresOn = &exp
	}

	return out
}

type filterInputs struct {
	activities []schedule.Activity
	taskSet    map[string]bool
	today      schedule.Day
	now        time.Time
	limit      time.Duration
	grace      time.Duration
	totalTasks int
}

// filterFinished computes today's finished task set under the grace-period
// rule. Only activities finished within one rolling expiration window of now
// count toward today's progress, unless all of them are finished, in which
// case nothing is dropped. The second return is the earliest finish time
// among the kept records; it anchors the expiration deadline and is zero
// when nothing is kept.
//
// Duplicate identifiers keep the record with the latest finish time, ties
// broken by the lexically smallest GUID.
func filterFinished(in filterInputs) ([]schedule.Activity, time.Time) {
	best := make(map[string]schedule.Activity)
	for _, a := range in.activities {
		if !in.taskSet[a.Identifier] || !a.FinishedToday(in.today) {
			continue
		}
		cur, ok := best[a.Identifier]
		if !ok || laterFinish(a, cur) {
			best[a.Identifier] = a
		}
	}

	kept := make([]schedule.Activity, 0, len(best))
	for _, a := range best {
		kept = append(kept, a)
	}

	if len(kept) < in.totalTasks {
		cutoff := in.now.Add(-(in.limit + in.grace))
		kept = schedule.Filter(kept, func(a schedule.Activity) bool {
			return !a.FinishedOn.Before(cutoff)
		})
	}

	var earliest time.Time
	for _, a := range kept {
		if earliest.IsZero() || a.FinishedOn.Before(earliest) {
			earliest = *a.FinishedOn
		}
	}

	// Deterministic order: ascending finish time, then GUID.
	for i := 0; i < len(kept); i++ {
		for j := i + 1; j < len(kept); j++ {
			if laterFinish(kept[i], kept[j]) {
				kept[i], kept[j] = kept[j], kept[i]
			}
		}
	}
	return kept, earliest
}

// laterFinish reports whether a finished strictly after b, ties broken by
// the lexically smaller GUID winning.
func laterFinish(a, b schedule.Activity) bool {
	if !a.FinishedOn.Equal(*b.FinishedOn) {
		return a.FinishedOn.After(*b.FinishedOn)
	}
	return a.GUID < b.GUID
}

// isLastDay reports whether today is the last day of the burst: the marker
// occurrences are exhausted, or the nominal length is reached with no days
// left to make up, or the nominal length is reached and the continuation
// policy says stop. A missed day keeps the burst open into the continuation
// window even when the minimum requirement is already met.
func isLastDay(s State, cfg config.StudyBurstConfig, shouldContinue func() bool) bool {
	if !s.HasStudyBurst {
		return false
	}
	if (s.PastDaysCount-s.MissedDaysCount)+1 >= s.MaxDaysCount {
		return true
	}
	if s.DayCount >= cfg.NumberOfDays {
		if s.FinishedCount() >= cfg.NumberOfDays {
			return true
		}
		if !shouldContinue() {
			return true
		}
	}
	return false
}

// thisDay selects the day used for completion content. Outside a burst it is
// past the end; within the nominal length it is the day count; in the
// continuation window day numbering continues by completed-day count rather
// than raw elapsed days.
func thisDay(s State, cfg config.StudyBurstConfig, shouldContinue func() bool) int {
	switch {
	case !s.HasStudyBurst:
		return s.MaxDaysCount + 1
	case s.DayCount < cfg.NumberOfDays:
		return s.DayCount
	case isLastDay(s, cfg, shouldContinue):
		return cfg.NumberOfDays
	default:
		return (s.PastDaysCount - s.MissedDaysCount) + 1
	}
}
