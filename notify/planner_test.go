package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagebionetworks/burstd/schedule"
)

var plannerNow = time.Date(2021, 3, 1, 8, 0, 0, 0, time.UTC)

// markerRun builds count daily marker occurrences, the first scheduled on
// the day offset days from plannerNow, finishing the first finished of them.
func markerRun(startOffset, count, finished int) []schedule.Activity {
	out := make([]schedule.Activity, 0, count)
	for i := 0; i < count; i++ {
		a := schedule.Activity{
			Identifier:  "study-burst-completed",
			GUID:        string(rune('a'+i)) + "-guid",
			ScheduledOn: plannerNow.AddDate(0, 0, startOffset+i),
		}
		if i < finished {
			f := a.ScheduledOn.Add(10 * time.Hour)
			a.FinishedOn = &f
		}
		out = append(out, a)
	}
	return out
}

func basePlan(markers []schedule.Activity, pending []Request) PlanInput {
	return PlanInput{
		Now:                 plannerNow,
		Location:            time.UTC,
		Reminder:            TimeOfDay{Hour: 9},
		Markers:             markers,
		NumberOfDays:        14,
		MinimumRequiredDays: 10,
		MaxDaysCount:        len(markers),
		PastDaysCount:       1,
		MissedDaysCount:     0,
		Pending:             pending,
	}
}

func TestPlan_FirstCall(t *testing.T) {
	// Day 1 (today) done, days 2-19 still pending.
	markers := markerRun(0, 19, 1)

	diff := Plan(basePlan(markers, nil))

	assert.Len(t, diff.Add, 18, "one reminder per remaining day")
	assert.Empty(t, diff.RemoveIDs)

	// Today is already finished, so the first reminder fires tomorrow.
	require.NotEmpty(t, diff.Add)
	assert.Equal(t, plannerNow.AddDate(0, 0, 1).Truncate(24*time.Hour).Add(9*time.Hour), diff.Add[0].FireAt)
}

func TestPlan_Idempotent(t *testing.T) {
	markers := markerRun(0, 19, 1)

	first := Plan(basePlan(markers, nil))
	require.NotEmpty(t, first.Add)

	second := Plan(basePlan(markers, first.Add))
	assert.Empty(t, second.Add)
	assert.Empty(t, second.RemoveIDs)
}

func TestPlan_TimeOfDayChange(t *testing.T) {
	markers := markerRun(0, 19, 1)

	in := basePlan(markers, nil)
	first := Plan(in)

	in.Pending = first.Add
	in.Reminder = TimeOfDay{Hour: 19, Minute: 30}
	second := Plan(in)

	// Every future reminder replaced, none added or removed net.
	assert.Len(t, second.Add, len(first.Add))
	assert.Len(t, second.RemoveIDs, len(first.Add))
}

func TestPlan_ReminderTimeStillAheadToday(t *testing.T) {
	// Reminder at 09:00, now 08:00: today's occurrence is still eligible.
	markers := markerRun(0, 14, 0)

	diff := Plan(basePlan(markers, nil))
	require.NotEmpty(t, diff.Add)
	assert.Equal(t, plannerNow.Add(time.Hour), diff.Add[0].FireAt)
	assert.Len(t, diff.Add, 14)
}

func TestPlan_ReminderTimePassedToday(t *testing.T) {
	in := basePlan(markerRun(0, 14, 0), nil)
	in.Reminder = TimeOfDay{Hour: 7}

	diff := Plan(in)
	require.NotEmpty(t, diff.Add)
	// Today's 07:00 is already gone; first fire is tomorrow.
	assert.Equal(t, plannerNow.AddDate(0, 0, 1).Truncate(24*time.Hour).Add(7*time.Hour), diff.Add[0].FireAt)
	assert.Len(t, diff.Add, 13)
}

func TestPlan_TruncatesContinuationDaysOnceRequirementMet(t *testing.T) {
	// 19 known occurrences (5 extra days), 10 completed days: the burst may
	// end at day 14, so the trailing 5 reminders are unnecessary.
	markers := markerRun(-10, 19, 10)

	in := basePlan(markers, nil)
	in.PastDaysCount = 10
	in.MissedDaysCount = 0

	diff := Plan(in)
	assert.Len(t, diff.Add, 4, "days 11-14 only, continuation days dropped")
}

func TestPlan_RemovesAllWhenEverythingFinished(t *testing.T) {
	markers := markerRun(-13, 14, 14)

	stale := []Request{{Identifier: "stale 1"}, {Identifier: "stale 2"}}
	in := basePlan(markers, stale)
	in.PastDaysCount = 13

	diff := Plan(in)
	assert.Empty(t, diff.Add)
	assert.ElementsMatch(t, []string{"stale 1", "stale 2"}, diff.RemoveIDs)
}

func TestPlan_FetchesNextCycleWhenRunningLow(t *testing.T) {
	// Only 3 future occurrences left out of 19: below the 5 extra days, so
	// the planner rolls forward into the next cycle.
	markers := markerRun(-16, 19, 16)

	var fetchedFrom time.Time
	var fetchedLimit int
	next := markerRun(90, 14, 0)

	in := basePlan(markers, nil)
	in.PastDaysCount = 16
	in.MissedDaysCount = 7 // below minimum, keep reminding
	in.FetchNextCycle = func(from time.Time, limit int) ([]schedule.Activity, error) {
		fetchedFrom = from
		fetchedLimit = limit
		return next, nil
	}

	diff := Plan(in)

	assert.Equal(t, plannerNow.AddDate(0, 0, 10), fetchedFrom, "fetch starts 2*extraDays out")
	assert.Equal(t, 14, fetchedLimit)
	assert.Len(t, diff.Add, 3+14)
}

func TestRequestIdentifier(t *testing.T) {
	id := RequestIdentifier("abc-guid", TimeOfDay{Hour: 9, Minute: 5})
	assert.Equal(t, `abc-guid {"hour":9,"minute":5}`, id)
}

func TestDecodeReminder(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		want   TimeOfDay
		wantOK bool
	}{
		{name: "wall clock time", data: `{"reminderTime":"09:30"}`, want: TimeOfDay{9, 30}, wantOK: true},
		{name: "full timestamp", data: `{"reminderTime":"2021-03-01T14:15:00Z"}`, want: TimeOfDay{14, 15}, wantOK: true},
		{name: "no reminder flag", data: `{"reminderTime":"09:30","noReminder":true}`, wantOK: false},
		{name: "empty payload", data: ``, wantOK: false},
		{name: "malformed json", data: `{"reminderTime":`, wantOK: false},
		{name: "unparseable time", data: `{"reminderTime":"morning"}`, wantOK: false},
		{name: "missing time", data: `{"noReminder":false}`, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeReminder([]byte(tt.data))
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestEncodeDecodeReminder(t *testing.T) {
	got, ok := DecodeReminder(EncodeReminder(TimeOfDay{Hour: 21, Minute: 45}, false))
	require.True(t, ok)
	assert.Equal(t, TimeOfDay{Hour: 21, Minute: 45}, got)

	_, ok = DecodeReminder(EncodeReminder(TimeOfDay{Hour: 21}, true))
	assert.False(t, ok)
}
