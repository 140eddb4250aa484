package burst

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sagebionetworks/burstd/schedule"
)

// completedTask is one finished activity in the completion archive.
type completedTask struct {
	Identifier   string    `json:"identifier"`
	ScheduleGUID string    `json:"scheduleGuid"`
	StartedOn    time.Time `json:"startedOn"`
	FinishedOn   time.Time `json:"finishedOn"`
}

// completionRecord is the immutable archive payload for a finished burst
// day. The same JSON is stored on the marker's clientData.
type completionRecord struct {
	Tasks     []completedTask `json:"tasks"`
	TaskOrder []string        `json:"taskOrder"`
}

// maybeArchiveLocked archives a just-completed burst day exactly once: when
// every group task is finished and the marker is not already recorded
// complete. The marker is stamped and pushed back to the sync layer; the
// archive upload is fire-and-forget and its failure never rolls back the
// local completion.
func (m *Manager) maybeArchiveLocked(ctx context.Context) {
	s := m.state
	if !s.HasStudyBurst || s.Marker == nil || len(s.Finished) != m.tasks.Count() {
		return
	}
	marker := *s.Marker
	if marker.IsFinished() || m.archived[marker.GUID] {
		return
	}

	now := m.clock.Now()
	earliest, latest := now, now
	tasks := make([]completedTask, 0, len(s.Finished))
	for i, a := range s.Finished {
		if i == 0 || a.FinishedOn.Before(earliest) {
			earliest = *a.FinishedOn
		}
		if i == 0 || a.FinishedOn.After(latest) {
			latest = *a.FinishedOn
		}
		tasks = append(tasks, completedTask{
			Identifier:   a.Identifier,
			ScheduleGUID: a.GUID,
			StartedOn:    startedOrFinished(a),
			FinishedOn:   *a.FinishedOn,
		})
	}

	order := make([]string, 0, m.tasks.Count())
	for _, task := range m.tasks.OrderedTasks() {
		order = append(order, task.Identifier)
	}

	marker = marker.WithCompletion(earliest, latest)
	m.archived[marker.GUID] = true

	payload, err := json.Marshal(completionRecord{Tasks: tasks, TaskOrder: order})
	if err != nil {
		// Archival failure must not block marking the day finished.
		m.logger.Error("failed to encode completion archive", "guid", marker.GUID, "error", err)
	} else {
		marker.ClientData = payload
		schemaID := marker.SchemaIdentifier
		if schemaID == "" {
			schemaID = m.cfg.Identifier
		}
		go m.uploadArchive(schemaID, payload, latest)
	}

	// Reflect the completed marker in the local view so a re-applied stale
	// snapshot cannot re-trigger archival.
	for i := range m.snapshot {
		if m.snapshot[i].GUID == marker.GUID {
			m.snapshot[i] = marker
			break
		}
	}
	m.state.Marker = &marker
	m.state.ExpiresOn = nil

	m.logger.Info("study burst day completed",
		"guid", marker.GUID, "day_count", s.DayCount, "finished_on", latest)

	go func() {
		if err := m.schedules.SendUpdated(context.WithoutCancel(ctx), []schedule.Activity{marker}); err != nil {
			m.logger.Warn("failed to send completed marker", "guid", marker.GUID, "error", err)
		}
	}()
}

// uploadArchive hands the payload to the archival collaborator. Failures are
// logged and swallowed; retry policy lives outside the engine.
func (m *Manager) uploadArchive(schemaID string, payload []byte, createdOn time.Time) {
	err := m.archiver.ArchiveAndUpload(context.Background(), schemaID, payload, createdOn)
	m.observer.ArchiveUploaded(err)
	if err != nil {
		m.logger.Error("completion archive upload failed", "schema", schemaID, "error", err)
	}
}

func startedOrFinished(a schedule.Activity) time.Time {
	if a.StartedOn != nil && !a.StartedOn.IsZero() {
		return *a.StartedOn
	}
	return *a.FinishedOn
}
