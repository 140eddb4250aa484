package burst

import (
	"github.com/sagebionetworks/burstd/config"
	"github.com/sagebionetworks/burstd/schedule"
)

// Todo is the display form of one outstanding follow-up item.
type Todo struct {
	Identifier string
	Title      string
	Detail     string
}

// surveyTitles builds the display metadata for the follow-up surveys. The
// motivation survey identifier comes from configuration.
func surveyTitles(cfg config.StudyBurstConfig) map[string]Todo {
	return map[string]Todo{
		config.ActivityDemographics:     {Title: "Health Survey", Detail: "4 Minutes"},
		config.ActivityEngagement:       {Title: "Engagement Survey", Detail: "4 Minutes"},
		cfg.Motivation:                  {Title: "Motivation Survey", Detail: "2 Minutes"},
		config.ActivityStudyBurstSurvey: {Title: "Study Burst Survey", Detail: "3 Minutes"},
	}
}

func (m *Manager) todoFor(identifier string) Todo {
	todo, ok := m.todos[identifier]
	if !ok {
		todo = Todo{Title: identifier}
	}
	todo.Identifier = identifier
	return todo
}

// ReportQueries declares the report fetches the engine needs: the most
// recent completion marker for every configured follow-up survey and the
// reminder preference.
func (m *Manager) ReportQueries() []schedule.ReportQuery {
	seen := make(map[string]bool)
	var queries []schedule.ReportQuery
	for _, ct := range m.cfg.CompletionTasks {
		for _, id := range ct.Activities {
			if seen[id] {
				continue
			}
			seen[id] = true
			queries = append(queries, schedule.ReportQuery{Identifier: id, Type: schedule.QueryMostRecent})
		}
	}
	queries = append(queries, schedule.ReportQuery{
		Identifier: config.ReportTaskReminder,
		Type:       schedule.QueryMostRecent,
	})
	return queries
}

// PastSurveys returns the follow-up surveys from earlier burst days that
// still have no report, in configured order. These must be surfaced ahead of
// any new content.
func (m *Manager) PastSurveys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pastSurveysLocked(thisDay(m.state, m.cfg, m.shouldContinue))
}

func (m *Manager) pastSurveysLocked(day int) []string {
	var out []string
	for _, ct := range m.cfg.CompletionTasks {
		if ct.Day >= day {
			continue
		}
		for _, id := range ct.Activities {
			if !m.hasReportLocked(id) {
				out = append(out, id)
			}
		}
	}
	return out
}

// UnfinishedSchedule returns the single most relevant outstanding item: the
// first past-due survey if any exist, else today's completion task's
// preferred survey, preferring demographics and engagement over other
// configured identifiers. Returns false when nothing is outstanding.
func (m *Manager) UnfinishedSchedule() (Todo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := thisDay(m.state, m.cfg, m.shouldContinue)
	if past := m.pastSurveysLocked(day); len(past) > 0 {
		return m.todoFor(past[0]), true
	}

	ct, ok := m.cfg.CompletionTaskForDay(day)
	if !ok {
		return Todo{}, false
	}
	id := preferredIdentifier(ct.Activities)
	if id == "" || m.hasReportLocked(id) {
		return Todo{}, false
	}
	return m.todoFor(id), true
}

// ShouldShowActionBar reports whether the participant has anything left to
// act on today.
func (m *Manager) ShouldShowActionBar() bool {
	if _, ok := m.UnfinishedSchedule(); ok {
		return true
	}
	return !m.IsCompletedForToday()
}

func (m *Manager) hasReportLocked(identifier string) bool {
	for _, r := range m.reportCache {
		if r.Identifier == identifier {
			return true
		}
	}
	return false
}

// preferredIdentifier picks which of a completion task's surveys to surface.
func preferredIdentifier(activities []string) string {
	for _, want := range []string{config.ActivityDemographics, config.ActivityEngagement} {
		for _, id := range activities {
			if id == want {
				return id
			}
		}
	}
	if len(activities) == 0 {
		return ""
	}
	return activities[0]
}
