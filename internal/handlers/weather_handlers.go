package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"field-weather-pipeline/internal/models"
	"field-weather-pipeline/internal/services"
	"field-weather-pipeline/pkg/logging"
	"field-weather-pipeline/pkg/metrics"
)

// ReadingQuerier serves extracted weather readings.
type ReadingQuerier interface {
	GetReadings(ctx context.Context, filter services.ReadingFilter) ([]models.WeatherReading, int, error)
	GetStations(ctx context.Context) ([]string, error)
}

// StatisticsQuerier serves per-station measurement summaries.
type StatisticsQuerier interface {
	GetStatistics(ctx context.Context, filter services.ReadingFilter) ([]*models.WeatherStatistics, int, error)
}

// WeatherHandler handles weather API endpoints
type WeatherHandler struct {
	responder
	weatherService ReadingQuerier
	statsService   StatisticsQuerier
	logger         logging.EventSink
}

// NewWeatherHandler creates a new weather handler
func NewWeatherHandler(
	weatherService ReadingQuerier,
	statsService StatisticsQuerier,
	logger logging.EventSink,
	metricsCollector *metrics.Collector,
) *WeatherHandler {
	return &WeatherHandler{
		responder:      responder{metrics: metricsCollector},
		weatherService: weatherService,
		statsService:   statsService,
		logger:         logger,
	}
}

func readingFilter(r *http.Request, p pagination) services.ReadingFilter {
	return services.ReadingFilter{
		Measurement: r.URL.Query().Get("measurement"),
		StationID:   r.URL.Query().Get("station_id"),
		Limit:       p.limit,
		Offset:      p.offset(),
	}
}

// GetReadings handles GET /api/weather
func (h *WeatherHandler) GetReadings(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/weather"
	defer h.observe(endpoint)()
	ctx := r.Context()

	p := parsePagination(r)
	filter := readingFilter(r, p)

	readings, total, err := h.weatherService.GetReadings(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_READINGS_ERROR] Failed to get weather readings", logging.Fields{
			"measurement": filter.Measurement,
			"station_id":  filter.StationID,
		}, err)
		h.sendError(w, r, endpoint, "failed to retrieve weather readings", statusFor(err), err)
		return
	}

	h.sendJSON(w, r, endpoint, p.response(readings, total), http.StatusOK)
}

// GetStations handles GET /api/weather/stations
func (h *WeatherHandler) GetStations(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/weather/stations"
	defer h.observe(endpoint)()
	ctx := r.Context()

	stations, err := h.weatherService.GetStations(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_STATIONS_ERROR] Failed to get stations", logging.Fields{}, err)
		h.sendError(w, r, endpoint, "failed to retrieve stations", statusFor(err), err)
		return
	}

	h.sendJSON(w, r, endpoint, map[string]interface{}{
		"data":  stations,
		"total": len(stations),
	}, http.StatusOK)
}

// GetStatistics handles GET /api/weather/statistics
func (h *WeatherHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/weather/statistics"
	defer h.observe(endpoint)()
	ctx := r.Context()

	p := parsePagination(r)
	filter := readingFilter(r, p)

	statistics, total, err := h.statsService.GetStatistics(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_STATISTICS_ERROR] Failed to get statistics", logging.Fields{
			"measurement": filter.Measurement,
			"station_id":  filter.StationID,
		}, err)
		h.sendError(w, r, endpoint, "failed to retrieve statistics", statusFor(err), err)
		return
	}

	h.sendJSON(w, r, endpoint, p.response(statistics, total), http.StatusOK)
}

// RegisterRoutes registers all weather API routes
func (h *WeatherHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/weather", h.GetReadings).Methods("GET")
	router.HandleFunc("/api/weather/stations", h.GetStations).Methods("GET")
	router.HandleFunc("/api/weather/statistics", h.GetStatistics).Methods("GET")
}
