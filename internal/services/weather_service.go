package services

import (
	"context"
	"sort"

	"field-weather-pipeline/internal/models"
	"field-weather-pipeline/pkg/logging"
	"field-weather-pipeline/pkg/metrics"
)

// ResultStore exposes the last completed pipeline run.
type ResultStore interface {
	Latest() (*RunResult, error)
}

// ReadingFilter selects weather readings. Empty fields match everything.
type ReadingFilter struct {
	Measurement string
	StationID   string
	Limit       int
	Offset      int
}

func (f ReadingFilter) matches(r models.WeatherReading) bool {
	if f.Measurement != "" && r.Measurement != f.Measurement {
		return false
	}
	if f.StationID != "" && r.StationID != f.StationID {
		return false
	}
	return true
}

// WeatherService handles weather reading queries
type WeatherService struct {
	store   ResultStore
	logger  logging.EventSink
	metrics *metrics.Collector
}

// NewWeatherService creates a new weather service
func NewWeatherService(store ResultStore, logger logging.EventSink, metricsCollector *metrics.Collector) *WeatherService {
	return &WeatherService{
		store:   store,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// GetReadings returns a page of matching readings and the total match count
func (s *WeatherService) GetReadings(ctx context.Context, filter ReadingFilter) ([]models.WeatherReading, int, error) {
	result, err := s.store.Latest()
	if err != nil {
		return nil, 0, err
	}

	matched := make([]models.WeatherReading, 0, len(result.Readings))
	for _, r := range result.Readings {
		if filter.matches(r) {
			matched = append(matched, r)
		}
	}
	return page(matched, filter.Limit, filter.Offset), len(matched), nil
}

// GetStations returns the sorted station ids that have at least one reading
func (s *WeatherService) GetStations(ctx context.Context) ([]string, error) {
	result, err := s.store.Latest()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	stations := make([]string, 0)
	for _, r := range result.Readings {
		if !seen[r.StationID] {
			seen[r.StationID] = true
			stations = append(stations, r.StationID)
		}
	}
	sort.Strings(stations)
	return stations, nil
}
