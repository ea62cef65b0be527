// This file implements schedule management endpoints: listing, adding and
// removing cron-driven probes, toggling them and triggering a run.
package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/anstrom/portprobe/internal/api/middleware"
	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/scheduler"
)

// ScheduleManager is the scheduler surface the API needs, normally a
// *scheduler.Scheduler.
type ScheduleManager interface {
	GetJobs() []scheduler.JobInfo
	AddJob(cfg config.ScheduleConfig) error
	RemoveJob(name string) error
	EnableJob(name string) error
	DisableJob(name string) error
	RunNow(name string) error
}

// ScheduleHandler handles schedule endpoints.
type ScheduleHandler struct {
	scheduler ScheduleManager
	logger    *logging.Logger
}

// NewScheduleHandler creates a new schedule handler.
func NewScheduleHandler(s ScheduleManager, logger *logging.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		scheduler: s,
		logger:    logger.WithFields("handler", "schedule"),
	}
}

// ScheduleRequest is the body of POST /schedules.
type ScheduleRequest struct {
	Name         string `json:"name"`
	Cron         string `json:"cron"`
	Target       string `json:"target"`
	Ports        string `json:"ports"`
	Concurrency  int    `json:"concurrency,omitempty"`
	TimeoutMS    int    `json:"timeout_ms,omitempty"`
	MaxRetries   int    `json:"max_retries,omitempty"`
	RetryDelayMS int    `json:"retry_delay_ms,omitempty"`
	Disabled     bool   `json:"disabled,omitempty"`
}

func (req *ScheduleRequest) toConfig() config.ScheduleConfig {
	return config.ScheduleConfig{
		Name:        req.Name,
		Cron:        req.Cron,
		Target:      req.Target,
		Ports:       req.Ports,
		Concurrency: req.Concurrency,
		Timeout:     time.Duration(req.TimeoutMS) * time.Millisecond,
		MaxRetries:  req.MaxRetries,
		RetryDelay:  time.Duration(req.RetryDelayMS) * time.Millisecond,
		Disabled:    req.Disabled,
	}
}

// ListSchedules godoc
// @Summary List schedules
// @Tags Schedules
// @Produce json
// @Success 200 {array} scheduler.JobInfo
// @Security ApiKeyAuth
// @Router /schedules [get]
func (h *ScheduleHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.scheduler.GetJobs())
}

// CreateSchedule godoc
// @Summary Add a schedule
// @Description Registers a cron-driven probe. Schedules added here are not written back to the config file.
// @Tags Schedules
// @Accept json
// @Produce json
// @Param request body handlers.ScheduleRequest true "Schedule"
// @Success 201 {object} scheduler.JobInfo
// @Failure 400 {object} handlers.ErrorResponse
// @Failure 409 {object} handlers.ErrorResponse
// @Security ApiKeyAuth
// @Router /schedules [post]
func (h *ScheduleHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := h.scheduler.AddJob(req.toConfig()); err != nil {
		handleError(w, r, h.logger, "add schedule", err)
		return
	}

	h.logger.Info("Schedule added via API",
		"request_id", middleware.GetRequestID(r),
		"name", req.Name)

	for _, job := range h.scheduler.GetJobs() {
		if job.Name == req.Name {
			writeJSON(w, r, http.StatusCreated, job)
			return
		}
	}
	w.WriteHeader(http.StatusCreated)
}

// DeleteSchedule godoc
// @Summary Remove a schedule
// @Tags Schedules
// @Param name path string true "Schedule name"
// @Success 204
// @Failure 404 {object} handlers.ErrorResponse
// @Security ApiKeyAuth
// @Router /schedules/{name} [delete]
func (h *ScheduleHandler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "remove schedule", h.scheduler.RemoveJob, http.StatusNoContent)
}

// EnableSchedule godoc
// @Summary Enable a schedule
// @Tags Schedules
// @Param name path string true "Schedule name"
// @Success 204
// @Failure 404 {object} handlers.ErrorResponse
// @Security ApiKeyAuth
// @Router /schedules/{name}/enable [post]
func (h *ScheduleHandler) EnableSchedule(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "enable schedule", h.scheduler.EnableJob, http.StatusNoContent)
}

// DisableSchedule godoc
// @Summary Disable a schedule
// @Tags Schedules
// @Param name path string true "Schedule name"
// @Success 204
// @Failure 404 {object} handlers.ErrorResponse
// @Security ApiKeyAuth
// @Router /schedules/{name}/disable [post]
func (h *ScheduleHandler) DisableSchedule(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "disable schedule", h.scheduler.DisableJob, http.StatusNoContent)
}

// RunSchedule godoc
// @Summary Run a schedule now
// @Description Queues an immediate run, even for a disabled schedule
// @Tags Schedules
// @Param name path string true "Schedule name"
// @Success 202
// @Failure 404 {object} handlers.ErrorResponse
// @Security ApiKeyAuth
// @Router /schedules/{name}/run [post]
func (h *ScheduleHandler) RunSchedule(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "run schedule", h.scheduler.RunNow, http.StatusAccepted)
}

func (h *ScheduleHandler) act(w http.ResponseWriter, r *http.Request, operation string, fn func(string) error, status int) {
	name := mux.Vars(r)["name"]
	if err := fn(name); err != nil {
		handleError(w, r, h.logger, operation, err)
		return
	}

	h.logger.Info("Schedule action applied",
		"request_id", middleware.GetRequestID(r),
		"action", operation,
		"name", name)
	w.WriteHeader(status)
}
