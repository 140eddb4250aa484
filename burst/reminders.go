package burst

import (
	"context"
	"fmt"
	"time"

	"github.com/sagebionetworks/burstd/config"
	"github.com/sagebionetworks/burstd/notify"
	"github.com/sagebionetworks/burstd/schedule"
)

// ReconcileReminders recomputes the desired reminder schedule and applies
// the minimal add/remove diff to the notification center. No reminder
// preference, or an explicit no-reminder flag, clears every pending request.
//
// The pending-set read and the add/remove writes are not transactional; a
// concurrent modification between them is an accepted race, self-correcting
// on the next reconciliation because identifiers are deterministic.
func (m *Manager) ReconcileReminders(ctx context.Context) error {
	pending, err := m.center.PendingRequests(ctx)
	if err != nil {
		return fmt.Errorf("reading pending reminders: %w", err)
	}

	m.mu.Lock()
	var reminderData []byte
	if rep, ok := schedule.MostRecentReport(m.reportCache, config.ReportTaskReminder); ok {
		reminderData = rep.ClientData
	}
	markers := schedule.WithIdentifier(m.snapshot, m.cfg.Identifier)
	s := m.state
	m.mu.Unlock()

	timeOfDay, enabled := notify.DecodeReminder(reminderData)
	if !enabled {
		if len(pending) == 0 {
			return nil
		}
		ids := make([]string, len(pending))
		for i, p := range pending {
			ids[i] = p.Identifier
		}
		m.observer.RemindersReconciled(0, len(ids))
		return m.center.RemovePending(ctx, ids)
	}

	diff := notify.Plan(notify.PlanInput{
		Now:                 m.clock.Now(),
		Location:            m.loc,
		Reminder:            timeOfDay,
		Markers:             markers,
		NumberOfDays:        m.cfg.NumberOfDays,
		MinimumRequiredDays: m.cfg.MinimumRequiredDays,
		MaxDaysCount:        s.MaxDaysCount,
		PastDaysCount:       s.PastDaysCount,
		MissedDaysCount:     s.MissedDaysCount,
		Pending:             pending,
		Body:                m.reminderBody,
		FetchNextCycle: func(from time.Time, limit int) ([]schedule.Activity, error) {
			return m.schedules.FutureMarkers(ctx, m.cfg.Identifier, from, limit)
		},
	})

	if diff.Empty() {
		return nil
	}

	if len(diff.RemoveIDs) > 0 {
		if err := m.center.RemovePending(ctx, diff.RemoveIDs); err != nil {
			return fmt.Errorf("removing stale reminders: %w", err)
		}
	}
	for _, req := range diff.Add {
		if err := m.center.Add(ctx, req); err != nil {
			return fmt.Errorf("scheduling reminder %s: %w", req.Identifier, err)
		}
	}

	m.observer.RemindersReconciled(len(diff.Add), len(diff.RemoveIDs))
	m.logger.Info("reminders reconciled", "added", len(diff.Add), "removed", len(diff.RemoveIDs))
	return nil
}
