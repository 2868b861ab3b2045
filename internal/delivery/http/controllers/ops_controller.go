package controllers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	h "vaccinealert/internal/delivery/http/helpers"
	"vaccinealert/internal/domain"
)

// HealthResponse is the response body for GET /health
type HealthResponse struct {
	Status string `json:"status"`
}

type OpsController struct {
	Logger *slog.Logger
	Cycles domain.CycleRunner
}

func NewOpsController(logger *slog.Logger, cycles domain.CycleRunner) *OpsController {
	return &OpsController{
		Logger: logger,
		Cycles: cycles,
	}
}

// Health godoc
// @Summary Liveness probe
// @Tags ops
// @Produce json
// @Success 200 {object} helpers.APIResponse "data.status is ok"
// @Router /health [get]
func (c *OpsController) Health(w http.ResponseWriter, r *http.Request) {
	h.WriteJSONSuccess(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// RunCycle godoc
// @Summary Run an alert cycle now
// @Description Runs one full alert cycle synchronously and returns its report. Responds 409 when another instance holds the cycle lock.
// @Tags cycles
// @Produce json
// @Security BearerAuth
// @Success 200 {object} helpers.APIResponse "data contains the cycle report"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized"
// @Failure 409 {object} helpers.APIResponse "error.code: cycle_in_progress"
// @Router /cycles [post]
func (c *OpsController) RunCycle(w http.ResponseWriter, r *http.Request) {
	// The cycle keeps running if the caller disconnects.
	report := c.Cycles.RunNow(context.WithoutCancel(r.Context()))
	if report.Skipped {
		h.WriteJSONError(w, http.StatusConflict, h.ErrCodeCycleInProgress, domain.ErrCycleInProgress.Error())
		return
	}
	h.WriteJSONSuccess(w, http.StatusOK, report)
}

// LatestCycle godoc
// @Summary Latest cycle report
// @Tags cycles
// @Produce json
// @Security BearerAuth
// @Success 200 {object} helpers.APIResponse "data contains the cycle report"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Failure 500 {object} helpers.APIResponse "error.code: internal_error"
// @Router /cycles/latest [get]
func (c *OpsController) LatestCycle(w http.ResponseWriter, r *http.Request) {
	report, err := c.Cycles.Latest(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNoCycleReport) {
			h.WriteJSONError(w, http.StatusNotFound, h.ErrCodeNotFound, "no cycle has completed yet")
			return
		}
		c.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		h.WriteJSONError(w, http.StatusInternalServerError, h.ErrCodeInternalError, "could not load cycle report")
		return
	}
	h.WriteJSONSuccess(w, http.StatusOK, report)
}

// ListCycles godoc
// @Summary Cycle report history
// @Description Persisted cycle reports, newest first.
// @Tags cycles
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number (default 1)"
// @Param page_size query int false "Page size (default 20, max 50)"
// @Success 200 {object} helpers.APIResponse "data contains items and pagination"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized"
// @Failure 500 {object} helpers.APIResponse "error.code: internal_error"
// @Router /cycles [get]
func (c *OpsController) ListCycles(w http.ResponseWriter, r *http.Request) {
	params := h.ParsePagination(r)
	page, err := c.Cycles.History(r.Context(), params)
	if err != nil {
		c.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		h.WriteJSONError(w, http.StatusInternalServerError, h.ErrCodeInternalError, "could not list cycle reports")
		return
	}
	h.WriteJSONSuccess(w, http.StatusOK, h.NewPaginated(page.Reports, params, page.Total))
}
