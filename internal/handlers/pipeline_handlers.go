package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"

	"field-weather-pipeline/internal/services"
	"field-weather-pipeline/internal/validation"
	"field-weather-pipeline/pkg/logging"
	"field-weather-pipeline/pkg/metrics"
)

// PipelineRunner triggers pipeline runs and serves their results.
type PipelineRunner interface {
	Run(ctx context.Context) (*services.RunSummary, error)
	Latest() (*services.RunResult, error)
	GetFields(ctx context.Context, limit, offset int) ([]map[string]interface{}, int, error)
	GetValidation(ctx context.Context) (*validation.Report, error)
}

// PipelineHandler handles run, field and validation endpoints
type PipelineHandler struct {
	responder
	pipeline PipelineRunner
	logger   logging.EventSink
	clock    clockwork.Clock
}

// NewPipelineHandler creates a new pipeline handler
func NewPipelineHandler(pipeline PipelineRunner, logger logging.EventSink, metricsCollector *metrics.Collector) *PipelineHandler {
	return &PipelineHandler{
		responder: responder{metrics: metricsCollector},
		pipeline:  pipeline,
		logger:    logger,
		clock:     clockwork.NewRealClock(),
	}
}

// TriggerRun handles POST /api/runs
func (h *PipelineHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/runs"
	defer h.observe(endpoint)()
	ctx := r.Context()

	summary, err := h.pipeline.Run(ctx)
	if err != nil {
		if !errors.Is(err, services.ErrRunInProgress) {
			h.logger.Error(ctx, "[API_RUN_ERROR] Pipeline run failed", logging.Fields{}, err)
		}
		h.sendError(w, r, endpoint, err.Error(), statusFor(err), err)
		return
	}

	h.sendJSON(w, r, endpoint, summary, http.StatusCreated)
}

// GetLatestRun handles GET /api/runs/latest
func (h *PipelineHandler) GetLatestRun(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/runs/latest"
	defer h.observe(endpoint)()

	result, err := h.pipeline.Latest()
	if err != nil {
		h.sendError(w, r, endpoint, "no pipeline run has completed", statusFor(err), err)
		return
	}

	h.sendJSON(w, r, endpoint, result.Summary(), http.StatusOK)
}

// GetFields handles GET /api/fields
func (h *PipelineHandler) GetFields(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/fields"
	defer h.observe(endpoint)()
	ctx := r.Context()

	p := parsePagination(r)
	rows, total, err := h.pipeline.GetFields(ctx, p.limit, p.offset())
	if err != nil {
		h.logger.Error(ctx, "[API_GET_FIELDS_ERROR] Failed to get field data", logging.Fields{
			"page":  p.page,
			"limit": p.limit,
		}, err)
		h.sendError(w, r, endpoint, "failed to retrieve field data", statusFor(err), err)
		return
	}

	h.sendJSON(w, r, endpoint, p.response(rows, total), http.StatusOK)
}

// GetValidation handles GET /api/validation
func (h *PipelineHandler) GetValidation(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/validation"
	defer h.observe(endpoint)()
	ctx := r.Context()

	report, err := h.pipeline.GetValidation(ctx)
	if err != nil {
		h.sendError(w, r, endpoint, "failed to retrieve validation report", statusFor(err), err)
		return
	}

	h.sendJSON(w, r, endpoint, report, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *PipelineHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
	}
	if result, err := h.pipeline.Latest(); err == nil {
		status["last_run_id"] = result.RunID
		status["last_run_finished_at"] = result.FinishedAt.Format(time.RFC3339)
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, r, "/health", status, http.StatusOK)
}

// RegisterRoutes registers the pipeline routes
func (h *PipelineHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/runs", h.TriggerRun).Methods("POST")
	router.HandleFunc("/api/runs/latest", h.GetLatestRun).Methods("GET")
	router.HandleFunc("/api/fields", h.GetFields).Methods("GET")
	router.HandleFunc("/api/validation", h.GetValidation).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
