package schedule

import (
	"fmt"
	"time"
)

// Day is a calendar day in an explicit timezone. All "same day" decisions in
// the engine go through this type rather than raw time comparisons, so DST
// transitions cannot shift an activity across a midnight boundary.
type Day struct {
	year  int
	month time.Month
	day   int
	loc   *time.Location
}

// DayOf returns the calendar day containing t, evaluated in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	y, m, d := t.In(loc).Date()
	return Day{year: y, month: m, day: d, loc: loc}
}

// Start returns midnight at the start of the day.
func (d Day) Start() time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, d.loc)
}

// At returns the day at the given local time of day.
func (d Day) At(hour, minute int) time.Time {
	return time.Date(d.year, d.month, d.day, hour, minute, 0, 0, d.loc)
}

// AddDays returns the day n calendar days later (earlier for negative n).
func (d Day) AddDays(n int) Day {
	return DayOf(d.Start().AddDate(0, 0, n), d.loc)
}

// Contains reports whether t falls on this calendar day.
func (d Day) Contains(t time.Time) bool {
	y, m, dd := t.In(d.loc).Date()
	return y == d.year && m == d.month && dd == d.day
}

// Equal reports whether both values name the same calendar day.
func (d Day) Equal(o Day) bool {
	return d.year == o.year && d.month == o.month && d.day == o.day
}

// Before reports whether d is an earlier calendar day than o.
func (d Day) Before(o Day) bool {
	if d.year != o.year {
		return d.year < o.year
	}
	if d.month != o.month {
		return d.month < o.month
	}
	return d.day < o.day
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.year, int(d.month), d.day)
}
