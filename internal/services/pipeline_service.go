package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"field-weather-pipeline/internal/config"
	"field-weather-pipeline/internal/models"
	"field-weather-pipeline/internal/validation"
	"field-weather-pipeline/pkg/logging"
	"field-weather-pipeline/pkg/metrics"
)

var (
	// ErrNotProcessed is set on a processor table until its first successful run.
	ErrNotProcessed = errors.New("processor has not completed a run")
	// ErrNoResults is returned by queries before any pipeline run has completed.
	ErrNoResults = errors.New("no completed pipeline run")
	// ErrRunInProgress is returned when Run is called while another run is active.
	ErrRunInProgress = errors.New("pipeline run already in progress")
)

// Pipeline steps reported to a progress callback.
const (
	StepField      = "field"
	StepWeather    = "weather"
	StepValidation = "validation"
)

// PipelineSteps lists the steps of a run in order.
var PipelineSteps = []string{StepField, StepWeather, StepValidation}

// RunResult holds the output of one completed pipeline run.
type RunResult struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Field      dataframe.DataFrame
	Weather    dataframe.DataFrame
	Readings   []models.WeatherReading
	Report     *validation.Report
}

// RunSummary describes a completed run
type RunSummary struct {
	RunID            string    `json:"run_id"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	DurationMS       int64     `json:"duration_ms"`
	FieldRows        int       `json:"field_rows"`
	FieldColumns     int       `json:"field_columns"`
	WeatherRows      int       `json:"weather_rows"`
	ValidationPassed bool      `json:"validation_passed"`
}

// Summary returns the run summary
func (r *RunResult) Summary() *RunSummary {
	return &RunSummary{
		RunID:            r.RunID,
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
		DurationMS:       r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
		FieldRows:        r.Field.Nrow(),
		FieldColumns:     r.Field.Ncol(),
		WeatherRows:      r.Weather.Nrow(),
		ValidationPassed: r.Report.Passed,
	}
}

// PipelineService runs both processors and keeps the last successful result
// for readers. Runs are serialized; readers never see a partial run.
type PipelineService struct {
	cfg          *config.Config
	source       SurveySource
	logger       *logging.StructuredLogger
	metrics      *metrics.Collector
	clock        clockwork.Clock
	expectations validation.Expectations
	progress     func(step string)

	runMu  sync.Mutex
	mu     sync.RWMutex
	latest *RunResult
}

// NewPipelineService creates a new pipeline service
func NewPipelineService(cfg *config.Config, source SurveySource, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *PipelineService {
	return &PipelineService{
		cfg:          cfg,
		source:       source,
		logger:       logger,
		metrics:      metricsCollector,
		clock:        clockwork.NewRealClock(),
		expectations: validation.DefaultExpectations(),
	}
}

// SetClock replaces the clock used for run timestamps
func (s *PipelineService) SetClock(c clockwork.Clock) {
	s.clock = c
}

// SetExpectations replaces the acceptance criteria applied after each run
func (s *PipelineService) SetExpectations(exp validation.Expectations) {
	s.expectations = exp
}

// SetProgress registers a callback invoked after each step completes
func (s *PipelineService) SetProgress(fn func(step string)) {
	s.progress = fn
}

// Run processes the field and weather data once under a new run id. On
// failure the previous result is kept and the error is returned unchanged.
func (s *PipelineService) Run(ctx context.Context) (*RunSummary, error) {
	if !s.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.runMu.Unlock()

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	started := s.clock.Now().UTC()

	s.logger.Info(ctx, "[PIPELINE_START] Pipeline run started", logging.Fields{
		"stage": "INITIALIZATION",
	})

	field := NewFieldDataProcessor(s.source, s.logger.WithFields(logging.Fields{"processor": fieldProcessorName}), s.metrics)
	if err := field.Process(ctx, s.cfg); err != nil {
		return nil, err
	}
	s.step(StepField)

	weather := NewWeatherDataProcessor(s.source, s.logger.WithFields(logging.Fields{"processor": weatherProcessorName}), s.metrics)
	if err := weather.Process(ctx, s.cfg); err != nil {
		return nil, err
	}
	s.step(StepWeather)

	weatherTable := weather.Table()
	names := weatherTable.Names()
	readings, err := models.ReadingsFromTable(weatherTable, names[0], names[1])
	if err != nil {
		s.logger.Error(ctx, "[PIPELINE_ERROR] Weather table unreadable", logging.Fields{}, err)
		return nil, err
	}

	report := validation.Run(field.Table(), weatherTable, s.expectations)
	if !report.Passed {
		failed := make([]string, 0)
		for _, c := range report.Failed() {
			failed = append(failed, c.Name)
		}
		s.logger.Warn(ctx, "[PIPELINE_VALIDATION] Acceptance checks failed", logging.Fields{
			"failed_checks": failed,
		})
	}
	s.step(StepValidation)

	result := &RunResult{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: s.clock.Now().UTC(),
		Field:      field.Table(),
		Weather:    weatherTable,
		Readings:   readings,
		Report:     report,
	}

	s.mu.Lock()
	s.latest = result
	s.mu.Unlock()

	summary := result.Summary()
	s.logger.Info(ctx, "[PIPELINE_COMPLETE] Pipeline run completed", logging.Fields{
		"field_rows":        summary.FieldRows,
		"weather_rows":      summary.WeatherRows,
		"validation_passed": summary.ValidationPassed,
		"duration_ms":       summary.DurationMS,
		"stage":             "COMPLETE",
	})

	return summary, nil
}

func (s *PipelineService) step(name string) {
	if s.progress != nil {
		s.progress(name)
	}
}

// Latest returns the last completed run
func (s *PipelineService) Latest() (*RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.latest == nil {
		return nil, ErrNoResults
	}
	return s.latest, nil
}

// GetFields returns a page of field table rows and the total row count
func (s *PipelineService) GetFields(ctx context.Context, limit, offset int) ([]map[string]interface{}, int, error) {
	result, err := s.Latest()
	if err != nil {
		return nil, 0, err
	}

	rows := models.RowsFromTable(result.Field)
	return page(rows, limit, offset), len(rows), nil
}

// GetValidation returns the acceptance report of the last completed run
func (s *PipelineService) GetValidation(ctx context.Context) (*validation.Report, error) {
	result, err := s.Latest()
	if err != nil {
		return nil, err
	}
	return result.Report, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 || offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && limit < end-offset {
		end = offset + limit
	}
	return items[offset:end]
}
