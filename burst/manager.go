// Package burst implements the study burst scheduling and completion-state
// engine.
//
// A Manager derives, from a snapshot of scheduled-activity records and
// cached reports, which day of the burst the participant is on, whether
// today's activities are all finished, whether the partial-credit expiration
// window has elapsed, which follow-up surveys are still outstanding, and the
// local reminder schedule. All derived state is rebuilt from scratch on
// every applied snapshot; the engine keeps no durable state of its own.
package burst

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sagebionetworks/burstd/config"
	"github.com/sagebionetworks/burstd/notify"
	"github.com/sagebionetworks/burstd/schedule"
	"github.com/sagebionetworks/burstd/taskgroup"
)

// ErrNoSchedule is returned when a task result names an activity with no
// matching schedule record. This indicates a configuration/data mismatch
// and is not recoverable.
var ErrNoSchedule = errors.New("no schedule record matches task result")

// Manager is the study burst engine. All callbacks are serialized by an
// internal mutex; each instance owns its derived state exclusively.
type Manager struct {
	cfg    config.StudyBurstConfig
	loc    *time.Location
	logger *slog.Logger

	schedules    ScheduleStore
	reports      ReportStore
	archiver     Archiver
	center       notify.Center
	tasks        *taskgroup.Manager
	participants ParticipantSource

	clock          schedule.Clock
	observer       Observer
	shouldContinue func() bool
	gracePeriod    time.Duration
	reminderBody   string
	todos          map[string]Todo

	mu          sync.Mutex
	snapshot    []schedule.Activity
	reportCache []schedule.Report
	state       State
	archived    map[string]bool
	recomputing bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock substitutes the engine clock, for tests.
func WithClock(clock schedule.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithObserver wires a metrics observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithContinuationPolicy sets the policy deciding whether a burst keeps
// running past its nominal length while the minimum required day count is
// unmet. The default policy always continues.
func WithContinuationPolicy(policy func() bool) Option {
	return func(m *Manager) { m.shouldContinue = policy }
}

// WithGracePeriod extends the expiration window by an extra allowance.
func WithGracePeriod(d time.Duration) Option {
	return func(m *Manager) { m.gracePeriod = d }
}

// WithReminderBody sets the text attached to scheduled reminders.
func WithReminderBody(body string) Option {
	return func(m *Manager) { m.reminderBody = body }
}

// WithParticipantSource wires the remote source of the participant's data
// groups and permissions, refreshed alongside the schedule snapshot.
func WithParticipantSource(src ParticipantSource) Option {
	return func(m *Manager) { m.participants = src }
}

// New creates a Manager. The task group manager supplies today's ordered
// task list and the group's activity count.
func New(
	cfg config.StudyBurstConfig,
	loc *time.Location,
	schedules ScheduleStore,
	reports ReportStore,
	archiver Archiver,
	center notify.Center,
	tasks *taskgroup.Manager,
	logger *slog.Logger,
	opts ...Option,
) *Manager {
	m := &Manager{
		cfg:            cfg,
		loc:            loc,
		logger:         logger.With("component", "burst"),
		schedules:      schedules,
		reports:        reports,
		archiver:       archiver,
		center:         center,
		tasks:          tasks,
		clock:          schedule.SystemClock{},
		observer:       noopObserver{},
		shouldContinue: func() bool { return true },
		todos:          surveyTitles(cfg),
		archived:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Refresh pulls a fresh snapshot from the schedule and report stores and
// recomputes all derived state. On a fetch error the previous state is left
// untouched and the error is returned; retry policy belongs to the caller.
func (m *Manager) Refresh(ctx context.Context) error {
	activities, err := m.schedules.Snapshot(ctx)
	if err != nil {
		err = fmt.Errorf("fetching schedule snapshot: %w", err)
		m.logger.Warn("refresh failed", "error", err)
		m.observer.RefreshCompleted(err)
		return err
	}

	reports, err := m.reports.FetchReports(ctx, m.ReportQueries())
	if err != nil {
		err = fmt.Errorf("fetching reports: %w", err)
		m.logger.Warn("refresh failed", "error", err)
		m.observer.RefreshCompleted(err)
		return err
	}

	if m.participants != nil {
		participant, perr := m.participants.Participant(ctx)
		if perr != nil {
			// Task variants keep the last known participant state.
			m.logger.Warn("participant fetch failed", "error", perr)
		} else {
			m.tasks.SetParticipant(participant)
		}
	}

	m.ApplySnapshot(ctx, activities, reports)
	m.observer.RefreshCompleted(nil)

	if err := m.saveTaskOrderReport(ctx); err != nil {
		m.logger.Warn("failed to save task order report", "error", err)
	}

	if err := m.ReconcileReminders(ctx); err != nil {
		m.logger.Warn("reminder reconciliation failed", "error", err)
	}
	return nil
}

// ApplySnapshot replaces the engine's view of the world with a new full
// snapshot and recomputes all derived state. A just-completed burst day is
// archived exactly once as a side effect.
func (m *Manager) ApplySnapshot(ctx context.Context, activities []schedule.Activity, reports []schedule.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshot = append([]schedule.Activity(nil), activities...)
	if reports != nil {
		m.reportCache = append([]schedule.Report(nil), reports...)
	}
	m.recomputeLocked()
	m.maybeArchiveLocked(ctx)
}

// recomputeLocked rebuilds derived state from the current snapshot.
func (m *Manager) recomputeLocked() {
	now := m.clock.Now()
	m.state = computeState(stateInputs{
		cfg:            m.cfg,
		loc:            m.loc,
		now:            now,
		activities:     m.snapshot,
		totalTasks:     m.tasks.Count(),
		taskSet:        m.taskSet(),
		gracePeriod:    m.gracePeriod,
		shouldContinue: m.shouldContinue,
	})

	m.tasks.OrderedTasks()
	m.tasks.UpdateFromSchedules(m.snapshot)

	// The medication timing question accompanies the first measurement of
	// the day, so it counts as answered once anything finished today.
	participant := m.tasks.Participant()
	participant.AnsweredMedicationTiming = len(m.state.Finished) > 0
	m.tasks.SetParticipant(participant)

	m.observer.StateUpdated(m.state)
	m.logger.Debug("state recomputed",
		"has_study_burst", m.state.HasStudyBurst,
		"day_count", m.state.DayCount,
		"missed_days", m.state.MissedDaysCount,
		"finished_today", len(m.state.Finished),
	)
}

func (m *Manager) taskSet() map[string]bool {
	set := make(map[string]bool)
	for _, id := range m.tasks.TaskIdentifiers() {
		set[id] = true
	}
	return set
}

// State returns a copy of the current derived state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.Finished = append([]schedule.Activity(nil), m.state.Finished...)
	return s
}

// HasStudyBurst reports whether the participant is within an active burst
// window today.
func (m *Manager) HasStudyBurst() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.HasStudyBurst
}

// DayCount returns the 1-based burst day, or false when no burst is active.
func (m *Manager) DayCount() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.HasStudyBurst {
		return 0, false
	}
	return m.state.DayCount, true
}

// IsCompletedForToday reports whether today needs no further burst activity:
// either there is no active burst, or every group task is finished.
func (m *Manager) IsCompletedForToday() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isCompletedForTodayLocked()
}

func (m *Manager) isCompletedForTodayLocked() bool {
	if !m.state.HasStudyBurst {
		return true
	}
	return len(m.state.Finished) == m.tasks.Count()
}

// IsLastDay reports whether today is the final day of the burst.
func (m *Manager) IsLastDay() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return isLastDay(m.state, m.cfg, m.shouldContinue)
}

// CalculateThisDay returns the day used to select completion content; past
// the nominal length it advances by completed days rather than elapsed days.
func (m *Manager) CalculateThisDay() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return thisDay(m.state, m.cfg, m.shouldContinue)
}

// ExpiresOn returns the partial-credit deadline. Reading it after the
// deadline has passed schedules an asynchronous recomputation, since expiry
// changes whether unfinished activities still count.
func (m *Manager) ExpiresOn() *time.Time {
	m.mu.Lock()
	exp := m.state.ExpiresOn
	needsRecompute := exp != nil && m.clock.Now().After(*exp) && !m.recomputing
	if needsRecompute {
		m.recomputing = true
	}
	m.mu.Unlock()

	if needsRecompute {
		go func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.recomputing = false
			m.recomputeLocked()
		}()
	}
	return exp
}

// OrderedTasks returns today's ordered burst tasks with their completion
// state and participant-specific steps.
func (m *Manager) OrderedTasks() []taskgroup.Task {
	return m.tasks.OrderedTasks()
}

// EngagementVariant resolves the engagement content variant for the
// participant's data groups.
func (m *Manager) EngagementVariant() (string, bool) {
	return m.tasks.EngagementVariant()
}

// orderedTasksReport is the clientData payload published under the
// OrderedTasks report so other clients of the study render the same order.
type orderedTasksReport struct {
	TaskOrder string    `json:"taskOrder"`
	Timestamp time.Time `json:"timestamp"`
}

// saveTaskOrderReport records today's task order, keyed by calendar day so
// repeated refreshes overwrite rather than accumulate.
func (m *Manager) saveTaskOrderReport(ctx context.Context) error {
	order := make([]string, 0, m.tasks.Count())
	for _, task := range m.tasks.OrderedTasks() {
		order = append(order, task.Identifier)
	}

	now := m.clock.Now()
	data, err := json.Marshal(orderedTasksReport{
		TaskOrder: strings.Join(order, ","),
		Timestamp: now,
	})
	if err != nil {
		return err
	}
	return m.reports.SaveReport(ctx, schedule.Report{
		Identifier: config.ReportOrderedTasks,
		Date:       schedule.DayOf(now, m.loc).Start(),
		ClientData: data,
	})
}

// RecordTaskResult merges a just-finished task into today's finished set
// ahead of the sync layer confirming the write, so callers see "done"
// immediately. Idempotent: re-recording an already finished activity changes
// nothing. Completion-survey results are persisted as reports instead.
func (m *Manager) RecordTaskResult(ctx context.Context, res TaskResult) error {
	if m.isCompletionSurvey(res.Identifier) {
		return m.recordSurveyResult(ctx, res)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.findScheduleLocked(res)
	if idx < 0 {
		m.logger.Error("no schedule record for task result",
			"identifier", res.Identifier, "guid", res.ScheduleGUID)
		return fmt.Errorf("%w: %s", ErrNoSchedule, res.Identifier)
	}

	m.snapshot[idx] = m.snapshot[idx].WithCompletion(res.StartedOn, res.FinishedOn)
	m.recomputeLocked()
	m.maybeArchiveLocked(ctx)
	return nil
}

// findScheduleLocked locates the snapshot record for a task result: by GUID
// when given, else today's occurrence of the identifier.
func (m *Manager) findScheduleLocked(res TaskResult) int {
	if res.ScheduleGUID != "" {
		for i := range m.snapshot {
			if m.snapshot[i].GUID == res.ScheduleGUID {
				return i
			}
		}
	}
	today := schedule.DayOf(m.clock.Now(), m.loc)
	for i := range m.snapshot {
		if m.snapshot[i].Identifier == res.Identifier && today.Contains(m.snapshot[i].ScheduledOn) {
			return i
		}
	}
	return -1
}

func (m *Manager) isCompletionSurvey(identifier string) bool {
	for _, ct := range m.cfg.CompletionTasks {
		for _, id := range ct.Activities {
			if id == identifier {
				return true
			}
		}
	}
	return false
}

// recordSurveyResult persists a completion-survey result as a report and
// caches it so outstanding-survey queries reflect it immediately.
func (m *Manager) recordSurveyResult(ctx context.Context, res TaskResult) error {
	report := schedule.Report{
		Identifier: res.Identifier,
		Date:       res.FinishedOn,
	}
	if err := m.reports.SaveReport(ctx, report); err != nil {
		return fmt.Errorf("saving %s report: %w", res.Identifier, err)
	}

	m.mu.Lock()
	m.reportCache = append(m.reportCache, report)
	m.mu.Unlock()
	return nil
}
