package burst

import (
	"context"
	"time"

	"github.com/sagebionetworks/burstd/schedule"
	"github.com/sagebionetworks/burstd/taskgroup"
)

// ScheduleStore supplies scheduled-activity snapshots and accepts local
// mutations for push-back to the sync layer. The sqlite cache provides the
// real implementation.
type ScheduleStore interface {
	// Snapshot returns every activity record relevant to the burst window:
	// the current cycle's marker occurrences, the task group's occurrences,
	// and the completion surveys.
	Snapshot(ctx context.Context) ([]schedule.Activity, error)

	// FutureMarkers returns up to limit not-yet-started marker occurrences
	// with the given identifier scheduled at or after from, ascending.
	FutureMarkers(ctx context.Context, identifier string, from time.Time, limit int) ([]schedule.Activity, error)

	// SendUpdated pushes locally mutated schedules back to the sync layer.
	// It must not trigger a snapshot refresh of its own.
	SendUpdated(ctx context.Context, activities []schedule.Activity) error
}

// ReportStore supplies and persists participant reports.
type ReportStore interface {
	FetchReports(ctx context.Context, queries []schedule.ReportQuery) ([]schedule.Report, error)
	SaveReport(ctx context.Context, report schedule.Report) error
}

// Archiver uploads the immutable completion archive. Fire-and-forget: the
// engine does not await or retry uploads.
type Archiver interface {
	ArchiveAndUpload(ctx context.Context, schemaIdentifier string, payload []byte, createdOn time.Time) error
}

// ParticipantSource supplies the participant record backing task variants.
type ParticipantSource interface {
	Participant(ctx context.Context) (taskgroup.Participant, error)
}

// TaskResult carries the timestamps of a just-completed task, ahead of the
// sync layer confirming the write.
type TaskResult struct {
	Identifier   string
	ScheduleGUID string
	StartedOn    time.Time
	FinishedOn   time.Time
}

// Observer receives engine events for metrics. All methods must be cheap and
// non-blocking.
type Observer interface {
	RefreshCompleted(err error)
	StateUpdated(s State)
	ArchiveUploaded(err error)
	RemindersReconciled(added, removed int)
}

type noopObserver struct{}

func (noopObserver) RefreshCompleted(error)       {}
func (noopObserver) StateUpdated(State)           {}
func (noopObserver) ArchiveUploaded(error)        {}
func (noopObserver) RemindersReconciled(int, int) {}
