package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sagebionetworks/burstd/burst"
)

// BurstObserver translates engine events into metrics. Implements the
// engine's observer port.
type BurstObserver struct {
	refreshes   CounterVec
	archives    CounterVec
	hasBurst    Gauge
	dayCount    Gauge
	missedDays  Gauge
	finished    Gauge
	reminderOps CounterVec
}

// NewBurstObserver registers the engine metrics with the given registry.
func NewBurstObserver(reg Registry) (*BurstObserver, error) {
	o := &BurstObserver{}
	var err error

	if o.refreshes, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "refresh_total",
		Help: "Snapshot refresh attempts by result.",
	}, []string{"result"}); err != nil {
		return nil, err
	}
	if o.archives, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_uploads_total",
		Help: "Completion archive uploads by result.",
	}, []string{"result"}); err != nil {
		return nil, err
	}
	if o.hasBurst, err = reg.NewGauge(prometheus.GaugeOpts{
		Name: "study_burst_active",
		Help: "Whether a study burst is active today (0 or 1).",
	}); err != nil {
		return nil, err
	}
	if o.dayCount, err = reg.NewGauge(prometheus.GaugeOpts{
		Name: "study_burst_day",
		Help: "Current 1-based study burst day; 0 when no burst is active.",
	}); err != nil {
		return nil, err
	}
	if o.missedDays, err = reg.NewGauge(prometheus.GaugeOpts{
		Name: "study_burst_missed_days",
		Help: "Missed days in the current study burst.",
	}); err != nil {
		return nil, err
	}
	if o.finished, err = reg.NewGauge(prometheus.GaugeOpts{
		Name: "tasks_finished_today",
		Help: "Burst tasks finished and still counting toward today.",
	}); err != nil {
		return nil, err
	}
	if o.reminderOps, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "reminder_operations_total",
		Help: "Reminder requests scheduled and removed during reconciliation.",
	}, []string{"op"}); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *BurstObserver) RefreshCompleted(err error) {
	o.refreshes.With(prometheus.Labels{"result": resultLabel(err)}).Inc()
}

func (o *BurstObserver) StateUpdated(s burst.State) {
	o.hasBurst.Set(boolValue(s.HasStudyBurst))
	o.dayCount.Set(float64(s.DayCount))
	o.missedDays.Set(float64(s.MissedDaysCount))
	o.finished.Set(float64(len(s.Finished)))
}

func (o *BurstObserver) ArchiveUploaded(err error) {
	o.archives.With(prometheus.Labels{"result": resultLabel(err)}).Inc()
}

func (o *BurstObserver) RemindersReconciled(added, removed int) {
	if added > 0 {
		o.reminderOps.With(prometheus.Labels{"op": "add"}).Add(float64(added))
	}
	if removed > 0 {
		o.reminderOps.With(prometheus.Labels{"op": "remove"}).Add(float64(removed))
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
