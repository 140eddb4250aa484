// Package trigger provides cron-based scheduling for the periodic snapshot
// refresh.
//
// The Trigger wraps a Refresher and executes it according to a cron
// schedule. It is started once and runs until the context is cancelled.
package trigger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCronSpec is returned when the cron specification cannot be
// parsed.
var ErrInvalidCronSpec = errors.New("invalid cron spec")

// Refresher is implemented by anything the scheduler can refresh.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Trigger executes a Refresher according to a cron schedule.
type Trigger struct {
	spec      string
	schedule  cron.Schedule
	refresher Refresher
	logger    *slog.Logger
}

// New creates a Trigger from a standard 5-field cron specification (minute,
// hour, day, month, weekday). Returns ErrInvalidCronSpec when the
// specification cannot be parsed.
func New(spec string, refresher Refresher, logger *slog.Logger) (*Trigger, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidCronSpec, err)
	}

	return &Trigger{
		spec:      spec,
		schedule:  schedule,
		refresher: refresher,
		logger:    logger.With("component", "trigger"),
	}, nil
}

// Start launches a goroutine that fires refreshes on schedule. Returns
// immediately; the goroutine exits when ctx is cancelled.
func (t *Trigger) Start(ctx context.Context) {
	go t.loop(ctx)
}

// NextRun returns the next scheduled refresh time from now.
func (t *Trigger) NextRun() time.Time {
	return t.schedule.Next(time.Now())
}

func (t *Trigger) loop(ctx context.Context) {
	for {
		nextRun := t.schedule.Next(time.Now())
		waitDuration := time.Until(nextRun)

		t.logger.Debug("waiting for next scheduled refresh",
			"next_run", nextRun,
			"wait_duration", waitDuration,
		)

		select {
		case <-ctx.Done():
			t.logger.Info("refresh trigger shutting down")
			return
		case <-time.After(waitDuration):
			t.refresh(ctx)
		}
	}
}

func (t *Trigger) refresh(ctx context.Context) {
	t.logger.Info("starting scheduled refresh")

	if err := t.refresher.Refresh(ctx); err != nil {
		t.logger.Warn("scheduled refresh completed with error", "error", err)
	} else {
		t.logger.Info("scheduled refresh completed")
	}
}
