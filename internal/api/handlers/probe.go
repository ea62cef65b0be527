// This file implements probe endpoints: running a scan and managing stored
// reports.
package handlers

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/anstrom/portprobe/internal/api/middleware"
	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/ports"
	"github.com/anstrom/portprobe/internal/probe"
)

const saveTimeout = 10 * time.Second

// Prober runs scans, normally a *probe.Engine.
type Prober interface {
	Probe(ctx context.Context, req probe.Request) (*probe.Report, error)
	Stream(ctx context.Context, req probe.Request) (*probe.OutcomeStream, error)
}

// ReportStore persists reports, normally a *db.ReportRepository.
type ReportStore interface {
	Save(ctx context.Context, report *probe.Report) error
	Get(ctx context.Context, id string) (*probe.Report, error)
	List(ctx context.Context, limit, offset int) ([]*probe.Report, error)
	Delete(ctx context.Context, id string) error
}

// Admission caps concurrent scans, normally a *probe.Limiter.
type Admission interface {
	Acquire(ctx context.Context, scanID string) error
	Release(scanID string)
}

// ProbeHandler handles probe endpoints.
type ProbeHandler struct {
	prober   Prober
	store    ReportStore
	limiter  Admission
	logger   *logging.Logger
	validate *validator.Validate
}

// NewProbeHandler creates a probe handler. store and limiter may be nil.
func NewProbeHandler(prober Prober, store ReportStore, limiter Admission, logger *logging.Logger) *ProbeHandler {
	return &ProbeHandler{
		prober:   prober,
		store:    store,
		limiter:  limiter,
		logger:   logger.WithFields("handler", "probe"),
		validate: validator.New(),
	}
}

// ProbeRequest is the body of POST /probes. Either Ports or Start and End
// must be given.
type ProbeRequest struct {
	Target      string `json:"target" validate:"required"`
	Ports       string `json:"ports,omitempty"`
	Start       int    `json:"start,omitempty" validate:"gte=0"`
	End         int    `json:"end,omitempty" validate:"gte=0"`
	Concurrency int    `json:"concurrency,omitempty" validate:"gte=0,lte=10000"`
	TimeoutMS   int    `json:"timeout_ms,omitempty" validate:"gte=0,lte=60000"`
	Diagnostics bool   `json:"diagnostics,omitempty"`
}

// ReportListResponse is a page of stored reports.
type ReportListResponse struct {
	Data       []*probe.Report  `json:"data"`
	Pagination PaginationParams `json:"pagination"`
}

// toRequest validates r and converts it into an engine request.
func (h *ProbeHandler) toRequest(r *ProbeRequest) (probe.Request, error) {
	if err := h.validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return probe.Request{}, errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("invalid request value (rule: %s)", fe.Tag()), strings.ToLower(fe.Field()), fe.Value())
		}
		return probe.Request{}, errors.WrapConfigError(errors.CodeValidation, "invalid request", err)
	}

	spec, err := requestPorts(r.Ports, r.Start, r.End)
	if err != nil {
		return probe.Request{}, err
	}

	return probe.Request{
		Target:      strings.TrimSpace(r.Target),
		Ports:       spec,
		Concurrency: r.Concurrency,
		Timeout:     time.Duration(r.TimeoutMS) * time.Millisecond,
	}, nil
}

func requestPorts(raw string, start, end int) (ports.Spec, error) {
	hasRange := start != 0 || end != 0
	switch {
	case raw != "" && hasRange:
		return ports.Spec{}, errors.NewInvalidPortSpec(raw, "give either ports or start/end, not both")
	case raw != "":
		return ports.Parse(raw)
	case hasRange:
		spec := ports.Range(start, end)
		if err := spec.Validate(); err != nil {
			return ports.Spec{}, err
		}
		return spec, nil
	default:
		return ports.Spec{}, errors.NewInvalidPortSpec("", "no ports given")
	}
}

// CreateProbe godoc
// @Summary Run a probe
// @Description Runs a TCP connect scan and returns the report. Without diagnostics only open ports and the summary are returned.
// @Tags Probes
// @Accept json
// @Produce json
// @Param request body handlers.ProbeRequest true "Probe request"
// @Success 200 {object} probe.Report
// @Failure 400 {object} handlers.ErrorResponse
// @Failure 409 {object} handlers.ErrorResponse
// @Failure 503 {object} handlers.ErrorResponse
// @Security ApiKeyAuth
// @Router /probes [post]
func (h *ProbeHandler) CreateProbe(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	var body ProbeRequest
	if err := parseJSON(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	req, err := h.toRequest(&body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	release, err := h.admit(r.Context(), req)
	if err != nil {
		handleError(w, r, h.logger, "admit probe", err)
		return
	}
	defer release()

	report, err := h.prober.Probe(r.Context(), req)
	if err != nil {
		if errors.IsCancelled(err) {
			h.logger.Info("Probe cancelled by client",
				"request_id", requestID,
				"target", req.Target)
		}
		handleError(w, r, h.logger, "run probe", err)
		return
	}

	h.logger.InfoProbe("Probe completed", report.Target,
		"request_id", requestID,
		"scan_id", report.ID,
		"open", len(report.Open),
		"duration_ms", report.DurationMS)

	if h.store != nil {
		h.save(r, report)
	}

	if !body.Diagnostics {
		report.Outcomes = nil
	}
	writeJSON(w, r, http.StatusOK, report)
}

// admit acquires a limiter slot for the scan and returns its release func.
func (h *ProbeHandler) admit(ctx context.Context, req probe.Request) (func(), error) {
	if h.limiter == nil {
		return func() {}, nil
	}
	slot := uuid.NewString()
	if err := h.limiter.Acquire(ctx, slot); err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled(req.Target, 0, req.Ports.Len(), ctx.Err())
		}
		return nil, errors.WrapStoreError(errors.CodeServiceUnavailable, "Scan capacity unavailable", "acquire scan slot", err)
	}
	return func() { h.limiter.Release(slot) }, nil
}

// save persists the report. Failures are logged and do not fail the request.
func (h *ProbeHandler) save(r *http.Request, report *probe.Report) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), saveTimeout)
	defer cancel()

	if err := h.store.Save(ctx, report); err != nil {
		h.logger.ErrorProbe("Failed to save report", report.Target, err,
			"request_id", middleware.GetRequestID(r),
			"scan_id", report.ID)
	}
}

// ListProbes godoc
// @Summary List stored reports
// @Description Lists stored reports, newest first, without outcomes
// @Tags Probes
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Page size" default(50)
// @Success 200 {object} handlers.ReportListResponse
// @Failure 400 {object} handlers.ErrorResponse
// @Failure 503 {object} handlers.ErrorResponse
// @Security ApiKeyAuth
// @Router /probes [get]
func (h *ProbeHandler) ListProbes(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, errNoStore)
		return
	}

	params, err := getPaginationParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	reports, err := h.store.List(r.Context(), params.PageSize, params.Offset)
	if err != nil {
		handleError(w, r, h.logger, "list reports", err)
		return
	}

	writeJSON(w, r, http.StatusOK, ReportListResponse{Data: reports, Pagination: params})
}

// GetProbe godoc
// @Summary Get a stored report
// @Description Returns a stored report with every outcome
// @Tags Probes
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} probe.Report
// @Failure 404 {object} handlers.ErrorResponse
// @Failure 503 {object} handlers.ErrorResponse
// @Security ApiKeyAuth
// @Router /probes/{id} [get]
func (h *ProbeHandler) GetProbe(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, errNoStore)
		return
	}

	report, err := h.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		handleError(w, r, h.logger, "get report", err)
		return
	}

	writeJSON(w, r, http.StatusOK, report)
}

// DeleteProbe godoc
// @Summary Delete a stored report
// @Tags Probes
// @Param id path string true "Report ID"
// @Success 204
// @Failure 404 {object} handlers.ErrorResponse
// @Failure 503 {object} handlers.ErrorResponse
// @Security ApiKeyAuth
// @Router /probes/{id} [delete]
func (h *ProbeHandler) DeleteProbe(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, errNoStore)
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.store.Delete(r.Context(), id); err != nil {
		handleError(w, r, h.logger, "delete report", err)
		return
	}

	h.logger.Info("Report deleted", "request_id", middleware.GetRequestID(r), "scan_id", id)
	w.WriteHeader(http.StatusNoContent)
}
