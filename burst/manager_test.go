package burst

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagebionetworks/burstd/config"
	"github.com/sagebionetworks/burstd/notify"
	"github.com/sagebionetworks/burstd/schedule"
	"github.com/sagebionetworks/burstd/taskgroup"
)

type fakeScheduleStore struct {
	mu          sync.Mutex
	snapshot    []schedule.Activity
	snapshotErr error
	future      []schedule.Activity
	sent        [][]schedule.Activity
}

func (s *fakeScheduleStore) Snapshot(context.Context) ([]schedule.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshotErr != nil {
		return nil, s.snapshotErr
	}
	return append([]schedule.Activity(nil), s.snapshot...), nil
}

func (s *fakeScheduleStore) FutureMarkers(_ context.Context, identifier string, from time.Time, limit int) ([]schedule.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schedule.Activity
	for _, a := range s.future {
		if a.Identifier != identifier || a.ScheduledOn.Before(from) {
			continue
		}
		out = append(out, a)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeScheduleStore) SendUpdated(_ context.Context, activities []schedule.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, append([]schedule.Activity(nil), activities...))
	return nil
}

func (s *fakeScheduleStore) sentBatches() [][]schedule.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]schedule.Activity(nil), s.sent...)
}

type fakeReportStore struct {
	mu       sync.Mutex
	reports  []schedule.Report
	fetchErr error
	saveErr  error
	saved    []schedule.Report
	queries  [][]schedule.ReportQuery
}

func (s *fakeReportStore) FetchReports(_ context.Context, queries []schedule.ReportQuery) ([]schedule.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, queries)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return append([]schedule.Report(nil), s.reports...), nil
}

func (s *fakeReportStore) SaveReport(_ context.Context, report schedule.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, report)
	return nil
}

type archiveCall struct {
	schemaID  string
	payload   []byte
	createdOn time.Time
}

type fakeArchiver struct {
	mu    sync.Mutex
	calls []archiveCall
}

func (a *fakeArchiver) ArchiveAndUpload(_ context.Context, schemaID string, payload []byte, createdOn time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, archiveCall{schemaID: schemaID, payload: payload, createdOn: createdOn})
	return nil
}

func (a *fakeArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *fakeArchiver) call(i int) archiveCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[i]
}

type stubCenter struct {
	mu      sync.Mutex
	pending map[string]notify.Request
}

func newStubCenter() *stubCenter {
	return &stubCenter{pending: make(map[string]notify.Request)}
}

func (c *stubCenter) PendingRequests(context.Context) ([]notify.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Request, 0, len(c.pending))
	for _, req := range c.pending {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (c *stubCenter) Add(_ context.Context, req notify.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[req.Identifier] = req
	return nil
}

func (c *stubCenter) RemovePending(_ context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.pending, id)
	}
	return nil
}

func (c *stubCenter) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

type memOrderStore struct {
	order   []string
	savedAt time.Time
	ok      bool
}

func (s *memOrderStore) StoredOrder() ([]string, time.Time, bool) {
	return s.order, s.savedAt, s.ok
}

func (s *memOrderStore) SaveOrder(order []string, savedAt time.Time) error {
	s.order = append([]string(nil), order...)
	s.savedAt = savedAt
	s.ok = true
	return nil
}

type managerEnv struct {
	clock    *schedule.FixedClock
	store    *fakeScheduleStore
	reports  *fakeReportStore
	archiver *fakeArchiver
	center   *stubCenter
	m        *Manager
}

func newManagerEnv(t *testing.T, opts ...Option) *managerEnv {
	t.Helper()
	cfg := studyConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &managerEnv{
		clock:    &schedule.FixedClock{Time: testNow},
		store:    &fakeScheduleStore{},
		reports:  &fakeReportStore{},
		archiver: &fakeArchiver{},
		center:   newStubCenter(),
	}
	tasks := taskgroup.New(cfg.TaskGroup, cfg.Tasks, time.UTC, &memOrderStore{}, logger,
		taskgroup.WithClock(env.clock),
		taskgroup.WithRand(rand.New(rand.NewSource(1))),
	)
	env.m = New(cfg, time.UTC, env.store, env.reports, env.archiver, env.center, tasks, logger,
		append([]Option{WithClock(env.clock)}, opts...)...)
	return env
}

func unfinishedTasks() []schedule.Activity {
	return []schedule.Activity{
		taskActivity("Tapping", "tap-1", 0),
		taskActivity("Tremor", "tre-1", 0),
		taskActivity("WalkAndBalance", "wab-1", 0),
	}
}

func TestManager_RefreshDayOne(t *testing.T) {
	env := newManagerEnv(t)
	env.store.snapshot = append(markerHistory(19, 1), unfinishedTasks()...)

	require.NoError(t, env.m.Refresh(context.Background()))

	assert.True(t, env.m.HasStudyBurst())
	day, ok := env.m.DayCount()
	require.True(t, ok)
	assert.Equal(t, 1, day)
	assert.False(t, env.m.IsCompletedForToday())
	assert.False(t, env.m.IsLastDay())
	assert.Equal(t, 1, env.m.CalculateThisDay())
	assert.Nil(t, env.m.ExpiresOn())
	assert.Len(t, env.m.OrderedTasks(), 3)

	// One fetch with the declared queries.
	require.Len(t, env.reports.queries, 1)
	ids := make([]string, 0, len(env.reports.queries[0]))
	for _, q := range env.reports.queries[0] {
		assert.Equal(t, schedule.QueryMostRecent, q.Type)
		ids = append(ids, q.Identifier)
	}
	assert.ElementsMatch(t, []string{
		config.ActivityStudyBurstSurvey,
		config.ActivityDemographics,
		config.ActivityEngagement,
		config.ReportTaskReminder,
	}, ids)
}

func TestManager_RefreshErrorKeepsState(t *testing.T) {
	env := newManagerEnv(t)
	env.store.snapshot = append(markerHistory(19, 1), unfinishedTasks()...)
	require.NoError(t, env.m.Refresh(context.Background()))

	env.store.snapshotErr = errors.New("bridge down")
	err := env.m.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "bridge down")

	// Previous state survives untouched.
	assert.True(t, env.m.HasStudyBurst())
	day, _ := env.m.DayCount()
	assert.Equal(t, 1, day)

	env.store.snapshotErr = nil
	env.reports.fetchErr = errors.New("reports down")
	require.Error(t, env.m.Refresh(context.Background()))
	assert.True(t, env.m.HasStudyBurst())
}

func TestManager_ArchivesCompletedDayExactlyOnce(t *testing.T) {
	env := newManagerEnv(t)
	snapshot := append(markerHistory(19, 3),
		taskActivity("Tapping", "tap-1", 30*time.Minute),
		taskActivity("Tremor", "tre-1", 20*time.Minute),
		taskActivity("WalkAndBalance", "wab-1", 10*time.Minute),
	)

	env.m.ApplySnapshot(context.Background(), snapshot, nil)

	assert.True(t, env.m.IsCompletedForToday())
	assert.Nil(t, env.m.ExpiresOn())

	s := env.m.State()
	require.NotNil(t, s.Marker)
	assert.True(t, s.Marker.IsFinished())
	require.NotNil(t, s.Marker.StartedOn)
	assert.Equal(t, testNow.Add(-30*time.Minute), *s.Marker.StartedOn, "earliest finish")
	assert.Equal(t, testNow.Add(-10*time.Minute), *s.Marker.FinishedOn, "latest finish")

	require.Eventually(t, func() bool { return env.archiver.count() == 1 }, time.Second, 10*time.Millisecond)
	call := env.archiver.call(0)
	assert.Equal(t, testNow.Add(-10*time.Minute), call.createdOn)

	var record completionRecord
	require.NoError(t, json.Unmarshal(call.payload, &record))
	assert.Len(t, record.Tasks, 3)
	assert.Len(t, record.TaskOrder, 3)

	// The stamped marker goes back to the sync layer once.
	require.Eventually(t, func() bool { return len(env.store.sentBatches()) == 1 }, time.Second, 10*time.Millisecond)
	batch := env.store.sentBatches()[0]
	require.Len(t, batch, 1)
	assert.True(t, batch[0].IsFinished())

	// Re-applying a stale snapshot with the marker still unfinished must
	// not archive again.
	env.m.ApplySnapshot(context.Background(), snapshot, nil)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, env.archiver.count())
	assert.Len(t, env.store.sentBatches(), 1)
}

func TestManager_RecordTaskResultSpeculativeMerge(t *testing.T) {
	env := newManagerEnv(t)
	env.m.ApplySnapshot(context.Background(), append(markerHistory(19, 1), unfinishedTasks()...), nil)
	require.False(t, env.m.IsCompletedForToday())

	record := func(identifier, guid string) {
		require.NoError(t, env.m.RecordTaskResult(context.Background(), TaskResult{
			Identifier:   identifier,
			ScheduleGUID: guid,
			StartedOn:    testNow.Add(-10 * time.Minute),
			FinishedOn:   testNow.Add(-5 * time.Minute),
		}))
	}

	record("Tapping", "tap-1")
	assert.Len(t, env.m.State().Finished, 1)
	assert.False(t, env.m.IsCompletedForToday())
	require.NotNil(t, env.m.ExpiresOn())

	// Re-recording the same task changes nothing.
	record("Tapping", "tap-1")
	assert.Len(t, env.m.State().Finished, 1)

	record("Tremor", "tre-1")
	// Lookup by identifier when no GUID is supplied.
	require.NoError(t, env.m.RecordTaskResult(context.Background(), TaskResult{
		Identifier: "WalkAndBalance",
		StartedOn:  testNow.Add(-4 * time.Minute),
		FinishedOn: testNow.Add(-time.Minute),
	}))

	assert.True(t, env.m.IsCompletedForToday())
	require.Eventually(t, func() bool { return env.archiver.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestManager_RecordTaskResultNoSchedule(t *testing.T) {
	env := newManagerEnv(t)
	env.m.ApplySnapshot(context.Background(), append(markerHistory(19, 1), unfinishedTasks()...), nil)

	err := env.m.RecordTaskResult(context.Background(), TaskResult{
		Identifier: "Tapping",
		// Unknown GUID; resolution falls back to today's occurrence of
		// the identifier.
		ScheduleGUID: "tap-unknown",
		FinishedOn:   testNow,
	})
	require.NoError(t, err)

	err = env.m.RecordTaskResult(context.Background(), TaskResult{
		Identifier: "Cycling",
		FinishedOn: testNow,
	})
	require.ErrorIs(t, err, ErrNoSchedule)
}

func TestManager_RecordSurveyResult(t *testing.T) {
	env := newManagerEnv(t)
	env.m.ApplySnapshot(context.Background(), append(markerHistory(19, 1), unfinishedTasks()...), []schedule.Report{})

	todo, ok := env.m.UnfinishedSchedule()
	require.True(t, ok)
	assert.Equal(t, config.ActivityDemographics, todo.Identifier)
	assert.Equal(t, "Health Survey", todo.Title)
	assert.True(t, env.m.ShouldShowActionBar())

	require.NoError(t, env.m.RecordTaskResult(context.Background(), TaskResult{
		Identifier: config.ActivityDemographics,
		FinishedOn: testNow,
	}))

	require.Len(t, env.reports.saved, 1)
	assert.Equal(t, config.ActivityDemographics, env.reports.saved[0].Identifier)

	// The cached report suppresses the survey immediately, without a
	// refresh round-trip.
	_, ok = env.m.UnfinishedSchedule()
	assert.False(t, ok)
	assert.True(t, env.m.ShouldShowActionBar(), "tasks still unfinished")
}

func TestManager_RecordSurveyResultSaveError(t *testing.T) {
	env := newManagerEnv(t)
	env.reports.saveErr = errors.New("disk full")

	err := env.m.RecordTaskResult(context.Background(), TaskResult{
		Identifier: config.ActivityEngagement,
		FinishedOn: testNow,
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")
}

func TestManager_PastSurveys(t *testing.T) {
	env := newManagerEnv(t)
	snapshot := append(markerHistory(19, 3), unfinishedTasks()...)

	env.m.ApplySnapshot(context.Background(), snapshot, nil)
	assert.Equal(t, []string{config.ActivityStudyBurstSurvey, config.ActivityDemographics}, env.m.PastSurveys())

	todo, ok := env.m.UnfinishedSchedule()
	require.True(t, ok)
	assert.Equal(t, config.ActivityStudyBurstSurvey, todo.Identifier)
	assert.Equal(t, "Study Burst Survey", todo.Title)

	env.m.ApplySnapshot(context.Background(), snapshot, []schedule.Report{
		{Identifier: config.ActivityStudyBurstSurvey, Date: testNow.AddDate(0, 0, -2)},
		{Identifier: config.ActivityDemographics, Date: testNow.AddDate(0, 0, -2)},
	})
	assert.Empty(t, env.m.PastSurveys())
	_, ok = env.m.UnfinishedSchedule()
	assert.False(t, ok, "day 3 has no completion task of its own")
}

func TestManager_ExpiresOnSchedulesRecompute(t *testing.T) {
	env := newManagerEnv(t)
	env.m.ApplySnapshot(context.Background(), append(markerHistory(19, 3),
		taskActivity("Tapping", "tap-1", 10*time.Minute),
		taskActivity("Tremor", "tre-1", 5*time.Minute),
		taskActivity("WalkAndBalance", "wab-1", 0),
	), nil)

	exp := env.m.ExpiresOn()
	require.NotNil(t, exp)
	assert.Equal(t, testNow.Add(-10*time.Minute).Add(time.Hour), *exp)

	env.clock.Advance(2 * time.Hour)
	env.m.ExpiresOn()

	require.Eventually(t, func() bool {
		s := env.m.State()
		return len(s.Finished) == 0 && s.ExpiresOn == nil
	}, time.Second, 10*time.Millisecond, "expired partial progress is dropped")
}

func TestManager_ReconcileReminders(t *testing.T) {
	env := newManagerEnv(t)
	markers := markerHistory(19, 1)
	env.store.snapshot = append(markers, unfinishedTasks()...)
	env.reports.reports = []schedule.Report{{
		Identifier: config.ReportTaskReminder,
		Date:       testNow.AddDate(0, 0, -1),
		ClientData: notify.EncodeReminder(notify.TimeOfDay{Hour: 9}, false),
	}}

	require.NoError(t, env.m.Refresh(context.Background()))

	// 09:00 already passed today, so reminders cover days 2 through 19.
	assert.Equal(t, 18, env.center.size())

	// Idempotent on a second pass.
	require.NoError(t, env.m.ReconcileReminders(context.Background()))
	assert.Equal(t, 18, env.center.size())

	// The no-reminder flag clears everything pending.
	env.m.ApplySnapshot(context.Background(), env.store.snapshot, []schedule.Report{{
		Identifier: config.ReportTaskReminder,
		Date:       testNow,
		ClientData: notify.EncodeReminder(notify.TimeOfDay{}, true),
	}})
	require.NoError(t, env.m.ReconcileReminders(context.Background()))
	assert.Zero(t, env.center.size())
}

func TestManager_ReconcileRemindersTimeChange(t *testing.T) {
	env := newManagerEnv(t)
	env.store.snapshot = append(markerHistory(19, 1), unfinishedTasks()...)
	env.reports.reports = []schedule.Report{{
		Identifier: config.ReportTaskReminder,
		Date:       testNow.AddDate(0, 0, -1),
		ClientData: notify.EncodeReminder(notify.TimeOfDay{Hour: 9}, false),
	}}
	require.NoError(t, env.m.Refresh(context.Background()))
	require.Equal(t, 18, env.center.size())

	env.m.ApplySnapshot(context.Background(), env.store.snapshot, []schedule.Report{{
		Identifier: config.ReportTaskReminder,
		Date:       testNow,
		ClientData: notify.EncodeReminder(notify.TimeOfDay{Hour: 19}, false),
	}})
	require.NoError(t, env.m.ReconcileReminders(context.Background()))

	// The 19:00 schedule replaces the 09:00 one wholesale, and 19:00 is
	// still ahead today so day 1 gains a reminder.
	assert.Equal(t, 19, env.center.size())
	pending, err := env.center.PendingRequests(context.Background())
	require.NoError(t, err)
	for _, req := range pending {
		assert.Equal(t, 19, req.FireAt.Hour())
	}
}

type fakeParticipantSource struct {
	participant taskgroup.Participant
	err         error
}

func (s *fakeParticipantSource) Participant(context.Context) (taskgroup.Participant, error) {
	return s.participant, s.err
}

func TestManager_RefreshAppliesParticipant(t *testing.T) {
	src := &fakeParticipantSource{participant: taskgroup.Participant{DataGroups: []string{"parkinsons"}}}
	env := newManagerEnv(t, WithParticipantSource(src))
	env.store.snapshot = append(markerHistory(19, 1), unfinishedTasks()...)

	require.NoError(t, env.m.Refresh(context.Background()))

	for _, task := range env.m.OrderedTasks() {
		assert.Equal(t, []string{taskgroup.StepMedicationTiming, taskgroup.StepPassiveDataPermission}, task.Steps)
	}

	// Finishing a task answers the medication timing question for the day;
	// the passive permission prompt stays until resolved.
	require.NoError(t, env.m.RecordTaskResult(context.Background(), TaskResult{
		Identifier:   "Tapping",
		ScheduleGUID: "tap-1",
		StartedOn:    testNow.Add(-10 * time.Minute),
		FinishedOn:   testNow.Add(-5 * time.Minute),
	}))
	for _, task := range env.m.OrderedTasks() {
		assert.NotContains(t, task.Steps, taskgroup.StepMedicationTiming)
		assert.Contains(t, task.Steps, taskgroup.StepPassiveDataPermission)
	}
}

func TestManager_RefreshParticipantErrorKeepsPrevious(t *testing.T) {
	src := &fakeParticipantSource{participant: taskgroup.Participant{DataGroups: []string{"parkinsons"}}}
	env := newManagerEnv(t, WithParticipantSource(src))
	env.store.snapshot = append(markerHistory(19, 1), unfinishedTasks()...)
	require.NoError(t, env.m.Refresh(context.Background()))

	src.err = errors.New("participant endpoint down")
	require.NoError(t, env.m.Refresh(context.Background()))

	for _, task := range env.m.OrderedTasks() {
		assert.Contains(t, task.Steps, taskgroup.StepMedicationTiming,
			"last known participant state survives a fetch failure")
	}
}

func TestManager_RefreshSavesTaskOrderReport(t *testing.T) {
	env := newManagerEnv(t)
	env.store.snapshot = append(markerHistory(19, 1), unfinishedTasks()...)

	require.NoError(t, env.m.Refresh(context.Background()))

	require.Len(t, env.reports.saved, 1)
	saved := env.reports.saved[0]
	assert.Equal(t, config.ReportOrderedTasks, saved.Identifier)
	assert.Equal(t, time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC), saved.Date, "keyed by calendar day")

	var record orderedTasksReport
	require.NoError(t, json.Unmarshal(saved.ClientData, &record))
	assert.ElementsMatch(t, []string{"Tapping", "Tremor", "WalkAndBalance"}, strings.Split(record.TaskOrder, ","))
	assert.Equal(t, testNow, record.Timestamp)

	// A second refresh on the same day writes the same day key again.
	require.NoError(t, env.m.Refresh(context.Background()))
	require.Len(t, env.reports.saved, 2)
	assert.Equal(t, saved.Date, env.reports.saved[1].Date)
}

func TestManager_MotivationTitleFromConfig(t *testing.T) {
	cfg := studyConfig()
	cfg.Motivation = "MotivationCheck"
	cfg.CompletionTasks = []config.CompletionTask{{Day: 1, Activities: []string{cfg.Motivation}}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &schedule.FixedClock{Time: testNow}
	tasks := taskgroup.New(cfg.TaskGroup, cfg.Tasks, time.UTC, &memOrderStore{}, logger,
		taskgroup.WithClock(clock))
	m := New(cfg, time.UTC, &fakeScheduleStore{}, &fakeReportStore{}, &fakeArchiver{},
		newStubCenter(), tasks, logger, WithClock(clock))

	m.ApplySnapshot(context.Background(), append(markerHistory(19, 1), unfinishedTasks()...), nil)

	todo, ok := m.UnfinishedSchedule()
	require.True(t, ok)
	assert.Equal(t, "MotivationCheck", todo.Identifier)
	assert.Equal(t, "Motivation Survey", todo.Title)
}
