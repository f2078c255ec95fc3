package services

import (
	"context"
	"sort"

	"field-weather-pipeline/internal/models"
	"field-weather-pipeline/pkg/logging"
	"field-weather-pipeline/pkg/metrics"
)

// StatisticsService handles weather statistics calculations
type StatisticsService struct {
	store   ResultStore
	logger  logging.EventSink
	metrics *metrics.Collector
}

// NewStatisticsService creates a new statistics service
func NewStatisticsService(store ResultStore, logger logging.EventSink, metricsCollector *metrics.Collector) *StatisticsService {
	return &StatisticsService{
		store:   store,
		logger:  logger,
		metrics: metricsCollector,
	}
}

type statsKey struct {
	station     string
	measurement string
}

// GetStatistics summarizes matching readings per station and measurement,
// sorted by station then measurement. Limit and Offset page the summaries.
func (s *StatisticsService) GetStatistics(ctx context.Context, filter ReadingFilter) ([]*models.WeatherStatistics, int, error) {
	result, err := s.store.Latest()
	if err != nil {
		return nil, 0, err
	}

	groups := make(map[statsKey]*models.WeatherStatistics)
	sums := make(map[statsKey]float64)
	for _, r := range result.Readings {
		if !filter.matches(r) {
			continue
		}
		key := statsKey{r.StationID, r.Measurement}
		st, ok := groups[key]
		if !ok {
			st = &models.WeatherStatistics{StationID: r.StationID, Measurement: r.Measurement}
			groups[key] = st
		}
		st.ReadingCount++

		if r.Value == nil {
			st.MissingCount++
			continue
		}
		v := *r.Value
		sums[key] += v
		if st.Min == nil || v < *st.Min {
			st.Min = floatPtr(v)
		}
		if st.Max == nil || v > *st.Max {
			st.Max = floatPtr(v)
		}
	}

	stats := make([]*models.WeatherStatistics, 0, len(groups))
	for key, st := range groups {
		if n := st.ReadingCount - st.MissingCount; n > 0 {
			st.Mean = floatPtr(sums[key] / float64(n))
		}
		stats = append(stats, st)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].StationID != stats[j].StationID {
			return stats[i].StationID < stats[j].StationID
		}
		return stats[i].Measurement < stats[j].Measurement
	})

	s.logger.Debug(ctx, "[STATS_CALC_COMPLETE] Statistics calculated", logging.Fields{
		"groups": len(stats),
		"run_id": result.RunID,
	})

	return page(stats, filter.Limit, filter.Offset), len(stats), nil
}

func floatPtr(v float64) *float64 {
	return &v
}
