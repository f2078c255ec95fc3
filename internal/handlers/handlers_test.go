package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"field-weather-pipeline/internal/models"
	"field-weather-pipeline/internal/services"
	"field-weather-pipeline/internal/validation"
	"field-weather-pipeline/pkg/logging"
	"field-weather-pipeline/pkg/metrics"
)

type stubPipeline struct {
	summary *services.RunSummary
	runErr  error
	latest  *services.RunResult
	rows    []map[string]interface{}

	gotLimit, gotOffset int
}

func (s *stubPipeline) Run(ctx context.Context) (*services.RunSummary, error) {
	return s.summary, s.runErr
}

func (s *stubPipeline) Latest() (*services.RunResult, error) {
	if s.latest == nil {
		return nil, services.ErrNoResults
	}
	return s.latest, nil
}

func (s *stubPipeline) GetFields(ctx context.Context, limit, offset int) ([]map[string]interface{}, int, error) {
	s.gotLimit, s.gotOffset = limit, offset
	if s.latest == nil {
		return nil, 0, services.ErrNoResults
	}
	return s.rows, 250, nil
}

func (s *stubPipeline) GetValidation(ctx context.Context) (*validation.Report, error) {
	if s.latest == nil {
		return nil, services.ErrNoResults
	}
	return s.latest.Report, nil
}

type stubWeather struct {
	filter services.ReadingFilter
	err    error
}

func (s *stubWeather) GetReadings(ctx context.Context, filter services.ReadingFilter) ([]models.WeatherReading, int, error) {
	s.filter = filter
	if s.err != nil {
		return nil, 0, s.err
	}
	v := 12.5
	return []models.WeatherReading{{StationID: "1", Message: "Rain 12.5 mm", Measurement: "Rainfall", Value: &v}}, 1, nil
}

func (s *stubWeather) GetStations(ctx context.Context) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []string{"0", "1"}, nil
}

func (s *stubWeather) GetStatistics(ctx context.Context, filter services.ReadingFilter) ([]*models.WeatherStatistics, int, error) {
	s.filter = filter
	if s.err != nil {
		return nil, 0, s.err
	}
	return []*models.WeatherStatistics{{StationID: "1", Measurement: "Rainfall", ReadingCount: 1}}, 1, nil
}

type testAPI struct {
	router    *mux.Router
	pipeline  *stubPipeline
	weather   *stubWeather
	collector *metrics.Collector
}

func newTestAPI() *testAPI {
	api := &testAPI{
		router:    mux.NewRouter(),
		pipeline:  &stubPipeline{},
		weather:   &stubWeather{},
		collector: metrics.NewCollector("test", prometheus.NewRegistry()),
	}
	logger := logging.NewDiscardLogger()

	NewPipelineHandler(api.pipeline, logger, api.collector).RegisterRoutes(api.router)
	NewWeatherHandler(api.weather, api.weather, logger, api.collector).RegisterRoutes(api.router)
	RegisterDocsRoutes(api.router)
	return api
}

func (api *testAPI) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func completedRun() *services.RunResult {
	started := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	return &services.RunResult{
		RunID:      "3f0c9a6e-run",
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Report: &validation.Report{
			Passed: true,
			Checks: []validation.Check{{Name: "weather_shape", Passed: true, Detail: "1843 x 4"}},
		},
	}
}

func TestTriggerRun(t *testing.T) {
	api := newTestAPI()
	api.pipeline.summary = &services.RunSummary{RunID: "abc", FieldRows: 564, ValidationPassed: true}

	rec := api.do(t, http.MethodPost, "/api/runs")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got services.RunSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "abc", got.RunID)
	assert.Equal(t, 564, got.FieldRows)
	assert.Equal(t, float64(1), testutil.ToFloat64(api.collector.APIRequestsTotal.WithLabelValues("/api/runs", "POST", "201")))
}

func TestTriggerRun_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"in progress", services.ErrRunInProgress, http.StatusConflict, ""},
		{"transport", models.NewError(models.ErrTransport, "fetch_remote_table", errors.New("status 503")), http.StatusBadGateway, "transport"},
		{"format", models.NewError(models.ErrFormat, "fetch_remote_table", nil), http.StatusBadGateway, "format"},
		{"empty result", models.NewError(models.ErrEmptyResult, "run_query", nil), http.StatusInternalServerError, "empty_result"},
		{"connection", models.NewError(models.ErrConnection, "open_connection", nil), http.StatusInternalServerError, "connection"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI()
			api.pipeline.runErr = tt.err

			rec := api.do(t, http.MethodPost, "/api/runs")
			assert.Equal(t, tt.status, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.status, body.Code)
			assert.Equal(t, tt.kind, body.Kind)
			assert.Equal(t, tt.err.Error(), body.Message)
		})
	}
}

func TestEndpointsBeforeFirstRun(t *testing.T) {
	api := newTestAPI()
	api.weather.err = services.ErrNoResults

	for _, target := range []string{
		"/api/runs/latest",
		"/api/fields",
		"/api/validation",
		"/api/weather",
		"/api/weather/stations",
		"/api/weather/statistics",
	} {
		t.Run(target, func(t *testing.T) {
			rec := api.do(t, http.MethodGet, target)
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(api.collector.APIErrorsTotal.WithLabelValues("no_results", "/api/fields")))
}

func TestGetLatestRun(t *testing.T) {
	api := newTestAPI()
	api.pipeline.latest = completedRun()

	rec := api.do(t, http.MethodGet, "/api/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)

	var got services.RunSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "3f0c9a6e-run", got.RunID)
	assert.Equal(t, int64(1500), got.DurationMS)
	assert.True(t, got.ValidationPassed)
}

func TestGetFields_Pagination(t *testing.T) {
	tests := []struct {
		query         string
		limit, offset int
		page, pages   int
		responseLimit int
	}{
		{"", 100, 0, 1, 3, 100},
		{"?page=2&limit=50", 50, 50, 2, 5, 50},
		{"?page=0&limit=5000", 100, 0, 1, 3, 100},
		{"?page=abc&limit=-1", 100, 0, 1, 3, 100},
		{"?page=9223372036854775807&limit=100", 100, math.MaxInt / 100 * 100, math.MaxInt/100 + 1, 3, 100},
		{"?page=99999999999999999999&limit=10", 10, 0, 1, 25, 10},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			api := newTestAPI()
			api.pipeline.latest = completedRun()
			api.pipeline.rows = []map[string]interface{}{{"Field_ID": 1, "Crop_type": "tea", "Weather_station": nil}}

			rec := api.do(t, http.MethodGet, "/api/fields"+tt.query)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.limit, api.pipeline.gotLimit)
			assert.Equal(t, tt.offset, api.pipeline.gotOffset)

			var got PaginatedResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			assert.Equal(t, 250, got.Total)
			assert.Equal(t, tt.page, got.Page)
			assert.Equal(t, tt.responseLimit, got.Limit)
			assert.Equal(t, tt.pages, got.TotalPages)
		})
	}
}

func TestGetValidation(t *testing.T) {
	api := newTestAPI()
	api.pipeline.latest = completedRun()

	rec := api.do(t, http.MethodGet, "/api/validation")
	require.Equal(t, http.StatusOK, rec.Code)

	var got validation.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.True(t, got.Passed)
	require.Len(t, got.Checks, 1)
	assert.Equal(t, "weather_shape", got.Checks[0].Name)
}

func TestGetReadings_Filter(t *testing.T) {
	api := newTestAPI()

	rec := api.do(t, http.MethodGet, "/api/weather?measurement=Rainfall&station_id=1&page=3&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, services.ReadingFilter{Measurement: "Rainfall", StationID: "1", Limit: 10, Offset: 20}, api.weather.filter)

	var got struct {
		Data  []models.WeatherReading `json:"data"`
		Total int                     `json:"total"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got.Data, 1)
	assert.Equal(t, 12.5, *got.Data[0].Value)
}

func TestGetStationsAndStatistics(t *testing.T) {
	api := newTestAPI()

	rec := api.do(t, http.MethodGet, "/api/weather/stations")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":["0","1"],"total":2}`, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/api/weather/statistics?measurement=Rainfall")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Rainfall", api.weather.filter.Measurement)
	assert.Contains(t, rec.Body.String(), `"reading_count":1`)
}

func TestHealthCheck(t *testing.T) {
	api := newTestAPI()

	rec := api.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "last_run_id")

	api.pipeline.latest = completedRun()
	rec = api.do(t, http.MethodGet, "/health")
	var got map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "healthy", got["status"])
	assert.Equal(t, "3f0c9a6e-run", got["last_run_id"])
}

func TestMethodNotAllowed(t *testing.T) {
	api := newTestAPI()
	rec := api.do(t, http.MethodGet, "/api/runs")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDocs(t *testing.T) {
	api := newTestAPI()

	rec := api.do(t, http.MethodGet, "/api/docs/openapi.json")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&doc))
	paths := doc["paths"].(map[string]interface{})
	for _, route := range []string{"/api/runs", "/api/fields", "/api/weather", "/api/weather/statistics", "/api/validation"} {
		assert.Contains(t, paths, route)
	}

	rec = api.do(t, http.MethodGet, "/api/docs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "Field Weather Pipeline API Documentation"))
	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))
}
