package handlers

import (
	"net/http"
	"time"
)

// TaskStatus is one burst task in presentation order, with the extra steps
// this participant should see around it.
type TaskStatus struct {
	Identifier string   `json:"identifier"`
	Finished   bool     `json:"finished"`
	Steps      []string `json:"steps,omitempty"`
}

// OutstandingItem is a follow-up survey awaiting completion.
type OutstandingItem struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Detail     string `json:"detail,omitempty"`
}

// NextRefreshResponse reports the next scheduled snapshot refresh.
type NextRefreshResponse struct {
	Scheduled bool       `json:"scheduled"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

// StatusResponse is the consolidated response for /api/status.
type StatusResponse struct {
	HasStudyBurst       bool                `json:"has_study_burst"`
	DayCount            int                 `json:"day_count"`
	ThisDay             int                 `json:"this_day"`
	MissedDays          int                 `json:"missed_days"`
	MaxDays             int                 `json:"max_days"`
	IsCompletedForToday bool                `json:"is_completed_for_today"`
	IsLastDay           bool                `json:"is_last_day"`
	ExpiresOn           *time.Time          `json:"expires_on,omitempty"`
	Tasks               []TaskStatus        `json:"tasks"`
	EngagementVariant   string              `json:"engagement_variant,omitempty"`
	PastSurveys         []string            `json:"past_surveys,omitempty"`
	Unfinished          *OutstandingItem    `json:"unfinished,omitempty"`
	ShowActionBar       bool                `json:"show_action_bar"`
	NextRefresh         NextRefreshResponse `json:"next_refresh"`
}

// StatusHandler serves the consolidated engine state.
type StatusHandler struct {
	provider BurstProvider
	nextRun  NextRunFunc
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(provider BurstProvider, nextRun NextRunFunc) *StatusHandler {
	return &StatusHandler{
		provider: provider,
		nextRun:  nextRun,
	}
}

// ServeHTTP implements http.Handler.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	state := h.provider.State()

	tasks := make([]TaskStatus, 0)
	for _, task := range h.provider.OrderedTasks() {
		tasks = append(tasks, TaskStatus{
			Identifier: task.Identifier,
			Finished:   task.IsFinished(),
			Steps:      task.Steps,
		})
	}

	resp := StatusResponse{
		HasStudyBurst:       state.HasStudyBurst,
		DayCount:            state.DayCount,
		ThisDay:             h.provider.CalculateThisDay(),
		MissedDays:          state.MissedDaysCount,
		MaxDays:             state.MaxDaysCount,
		IsCompletedForToday: h.provider.IsCompletedForToday(),
		IsLastDay:           h.provider.IsLastDay(),
		ExpiresOn:           state.ExpiresOn,
		Tasks:               tasks,
		PastSurveys:         h.provider.PastSurveys(),
		ShowActionBar:       h.provider.ShouldShowActionBar(),
	}

	if variant, ok := h.provider.EngagementVariant(); ok {
		resp.EngagementVariant = variant
	}

	if todo, ok := h.provider.UnfinishedSchedule(); ok {
		resp.Unfinished = &OutstandingItem{
			Identifier: todo.Identifier,
			Title:      todo.Title,
			Detail:     todo.Detail,
		}
	}

	if h.nextRun != nil {
		next := h.nextRun()
		resp.NextRefresh = NextRefreshResponse{
			Scheduled: next != nil,
			NextRun:   next,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
