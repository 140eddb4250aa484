// Package taskgroup computes the daily ordering of the study burst's
// measurement tasks and the per-participant task variants.
//
// The display order of burst tasks is randomized once per participant per
// day and stable across restarts and refreshes within that day: the first
// access each calendar day either reuses a stored (order, timestamp) pair or
// performs a fresh shuffle and persists it.
package taskgroup

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/sagebionetworks/burstd/schedule"
)

// Task is one ordered burst task together with its completion state for
// today, copied from the matching schedule record on each refresh.
type Task struct {
	Identifier   string
	ScheduleGUID string
	StartedOn    *time.Time
	FinishedOn   *time.Time

	// Steps are extra instruction steps prepended or appended for this
	// participant; see AugmentTask.
	Steps []string
}

// IsFinished reports whether the task finished today.
func (t Task) IsFinished() bool {
	return t.FinishedOn != nil && !t.FinishedOn.IsZero()
}

// OrderStore persists the daily shuffle so it survives restarts.
type OrderStore interface {
	// StoredOrder returns the last persisted order and its timestamp, or
	// ok=false when none has been saved.
	StoredOrder() (order []string, savedAt time.Time, ok bool)
	SaveOrder(order []string, savedAt time.Time) error
}

// Manager owns the ordered task list for one activity group.
type Manager struct {
	group  string
	tasks  []string
	axes   [][]string
	loc    *time.Location
	store  OrderStore
	clock  schedule.Clock
	rng    *rand.Rand
	logger *slog.Logger

	mu          sync.Mutex
	cached      []Task
	cachedDay   schedule.Day
	haveDay     bool
	participant Participant
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock substitutes the clock, for tests.
func WithClock(clock schedule.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithRand substitutes the shuffle RNG, for tests.
func WithRand(rng *rand.Rand) Option {
	return func(m *Manager) { m.rng = rng }
}

// WithEngagementGroups sets the data-group axes used to resolve the
// engagement content variant.
func WithEngagementGroups(axes [][]string) Option {
	return func(m *Manager) { m.axes = axes }
}

// New creates a task group manager for the given group and member tasks.
func New(group string, tasks []string, loc *time.Location, store OrderStore, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		group:  group,
		tasks:  append([]string(nil), tasks...),
		loc:    loc,
		store:  store,
		clock:  schedule.SystemClock{},
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger.With("component", "taskgroup", "group", group),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Identifier returns the activity group identifier.
func (m *Manager) Identifier() string { return m.group }

// TaskIdentifiers returns the group's member task identifiers in their
// configured (unshuffled) order.
func (m *Manager) TaskIdentifiers() []string {
	return append([]string(nil), m.tasks...)
}

// Count returns the number of tasks in the group.
func (m *Manager) Count() int { return len(m.tasks) }

// OrderedTasks returns today's ordered task list. The order is computed at
// most once per calendar day; the cached list is discarded and rebuilt when
// the day changes.
func (m *Manager) OrderedTasks() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := schedule.DayOf(m.clock.Now(), m.loc)
	if m.haveDay && m.cachedDay.Equal(today) {
		return m.variantsLocked()
	}

	order := m.orderForDay(today)
	m.cached = make([]Task, len(order))
	for i, id := range order {
		m.cached[i] = Task{Identifier: id}
	}
	m.cachedDay = today
	m.haveDay = true
	return m.variantsLocked()
}

// variantsLocked returns the cached tasks augmented for the current
// participant.
func (m *Manager) variantsLocked() []Task {
	out := copyTasks(m.cached)
	for i := range out {
		out[i] = AugmentTask(out[i], m.participant)
	}
	return out
}

// SetParticipant replaces the participant state consulted when building task
// variants.
func (m *Manager) SetParticipant(p Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participant = p
}

// Participant returns the current participant state.
func (m *Manager) Participant() Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.participant
}

// EngagementVariant resolves the engagement content variant for the current
// participant against the configured axes.
func (m *Manager) EngagementVariant() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return EngagementVariant(m.axes, m.participant.DataGroups)
}

// UpdateFromSchedules copies completion state from today's schedule records
// onto the cached ordered tasks. Records for other days or other activities
// are ignored.
func (m *Manager) UpdateFromSchedules(activities []schedule.Activity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.haveDay {
		return
	}

	byIdentifier := make(map[string]schedule.Activity, len(activities))
	for _, a := range activities {
		if !m.cachedDay.Contains(a.ScheduledOn) {
			continue
		}
		byIdentifier[a.Identifier] = a
	}

	for i := range m.cached {
		a, ok := byIdentifier[m.cached[i].Identifier]
		if !ok {
			continue
		}
		m.cached[i].ScheduleGUID = a.GUID
		m.cached[i].StartedOn = a.StartedOn
		m.cached[i].FinishedOn = a.FinishedOn
	}
}

// orderForDay returns the stored order when it was saved today, otherwise a
// fresh shuffle, persisted with today's timestamp.
func (m *Manager) orderForDay(today schedule.Day) []string {
	if stored, savedAt, ok := m.store.StoredOrder(); ok && today.Contains(savedAt) {
		return matchStoredOrder(m.tasks, stored)
	}

	order := m.shuffle()
	if err := m.store.SaveOrder(order, m.clock.Now()); err != nil {
		m.logger.Warn("failed to persist task order", "error", err)
	}
	m.logger.Debug("task order shuffled", "day", today.String(), "order", order)
	return order
}

// shuffle returns a Fisher-Yates shuffle of the task identifiers.
func (m *Manager) shuffle() []string {
	order := append([]string(nil), m.tasks...)
	for i := len(order) - 1; i > 0; i-- {
		j := m.rng.Intn(i + 1)
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// matchStoredOrder sorts the live task list to match a stored identifier
// order. Tasks missing from the stored order sort last, keeping their
// configured relative order.
func matchStoredOrder(tasks, stored []string) []string {
	rank := make(map[string]int, len(stored))
	for i, id := range stored {
		rank[id] = i
	}

	known := make([]string, 0, len(tasks))
	unknown := make([]string, 0)
	for _, id := range tasks {
		if _, ok := rank[id]; ok {
			known = append(known, id)
		} else {
			unknown = append(unknown, id)
		}
	}
	for i := 0; i < len(known); i++ {
		for j := i + 1; j < len(known); j++ {
			if rank[known[j]] < rank[known[i]] {
				known[i], known[j] = known[j], known[i]
			}
		}
	}
	return append(known, unknown...)
}

func copyTasks(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	return out
}
