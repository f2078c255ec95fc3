package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"field-weather-pipeline/internal/models"
	"field-weather-pipeline/internal/services"
	"field-weather-pipeline/pkg/metrics"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

type pagination struct {
	page  int
	limit int
}

func (p pagination) offset() int {
	return (p.page - 1) * p.limit
}

func (p pagination) response(data interface{}, total int) PaginatedResponse {
	return PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       p.page,
		Limit:      p.limit,
		TotalPages: (total + p.limit - 1) / p.limit,
	}
}

// parsePagination reads page and limit, falling back to defaults on bad input.
// A page whose offset would overflow is clamped to the last addressable page.
func parsePagination(r *http.Request) pagination {
	p := pagination{page: 1, limit: defaultLimit}

	if s := r.URL.Query().Get("page"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			p.page = v
		}
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v <= maxLimit {
			p.limit = v
		}
	}
	if maxPage := math.MaxInt/p.limit + 1; p.page > maxPage {
		p.page = maxPage
	}
	return p
}

// responder writes JSON bodies and counts every response it sends.
type responder struct {
	metrics *metrics.Collector
}

// observe starts the duration timer for endpoint; call the result when done.
func (rs responder) observe(endpoint string) func() {
	start := time.Now()
	return func() {
		rs.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func (rs responder) sendJSON(w http.ResponseWriter, r *http.Request, endpoint string, data interface{}, statusCode int) {
	rs.metrics.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(statusCode))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (rs responder) sendError(w http.ResponseWriter, r *http.Request, endpoint, message string, statusCode int, err error) {
	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}
	if err != nil {
		if kind := models.KindName(err); kind != "unknown" {
			response.Kind = kind
		}
		rs.metrics.RecordAPIError(errorType(err), endpoint)
	}

	rs.sendJSON(w, r, endpoint, response, statusCode)
}

// statusFor maps service and pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNoResults):
		return http.StatusNotFound
	case errors.Is(err, services.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, models.ErrTransport), errors.Is(err, models.ErrFormat):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, services.ErrNoResults):
		return "no_results"
	case errors.Is(err, services.ErrRunInProgress):
		return "conflict"
	}
	if kind := models.KindName(err); kind != "unknown" {
		return kind
	}
	return "internal_error"
}
