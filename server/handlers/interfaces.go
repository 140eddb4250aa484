package handlers

import (
	"context"
	"time"

	"github.com/sagebionetworks/burstd/burst"
	"github.com/sagebionetworks/burstd/taskgroup"
)

// BurstProvider exposes the engine state the status endpoint reports.
type BurstProvider interface {
	State() burst.State
	IsCompletedForToday() bool
	IsLastDay() bool
	CalculateThisDay() int
	OrderedTasks() []taskgroup.Task
	EngagementVariant() (string, bool)
	PastSurveys() []string
	UnfinishedSchedule() (burst.Todo, bool)
	ShouldShowActionBar() bool
}

// Refresher triggers an immediate snapshot refresh.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// NextRunFunc reports the next scheduled refresh, or nil when no schedule is
// configured.
type NextRunFunc func() *time.Time
