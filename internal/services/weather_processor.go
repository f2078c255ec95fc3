package services

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"field-weather-pipeline/internal/config"
	"field-weather-pipeline/internal/models"
	"field-weather-pipeline/pkg/logging"
	"field-weather-pipeline/pkg/metrics"
)

const weatherProcessorName = "weather"

// Measurement pairs a measurement name with its compiled extraction pattern.
type Measurement struct {
	Name    string
	Pattern *regexp.Regexp
}

// MeasurementsFromConfig returns the configured patterns in configuration order.
func MeasurementsFromConfig(cfg *config.Config) []Measurement {
	compiled := cfg.CompiledPatterns()
	out := make([]Measurement, len(compiled))
	for i, re := range compiled {
		out[i] = Measurement{Name: cfg.RegexPatterns[i].Name, Pattern: re}
	}
	return out
}

// Extraction is the long-form result of scanning messages: parallel columns
// with one entry per match.
type Extraction struct {
	Stations     []string
	Messages     []string
	Measurements []string
	Values       []float64
}

// Len returns the number of extracted rows
func (e *Extraction) Len() int {
	return len(e.Measurements)
}

// Extract scans every message with every measurement pattern. Rows are
// ordered by pattern, then by input position. A message matching several
// patterns yields several rows; unmatched pairs yield none. The value is the
// first capture group that took part in the match, NaN if it is not numeric.
func Extract(stations, messages []string, measurements []Measurement) *Extraction {
	out := &Extraction{}
	for _, m := range measurements {
		for i, msg := range messages {
			loc := m.Pattern.FindStringSubmatchIndex(msg)
			if loc == nil {
				continue
			}
			out.Stations = append(out.Stations, stations[i])
			out.Messages = append(out.Messages, msg)
			out.Measurements = append(out.Measurements, m.Name)
			out.Values = append(out.Values, firstGroupValue(msg, loc))
		}
	}
	return out
}

func firstGroupValue(s string, loc []int) float64 {
	for g := 1; 2*g+1 < len(loc); g++ {
		if loc[2*g] >= 0 {
			return models.ParseMeasurement(s[loc[2*g]:loc[2*g+1]])
		}
	}
	return math.NaN()
}

// WeatherDataProcessor turns the raw weather feed into a long-form table of
// station, message, measurement and value. It is not safe for concurrent use.
type WeatherDataProcessor struct {
	source  TableFetcher
	logger  logging.EventSink
	metrics *metrics.Collector

	table dataframe.DataFrame
}

// NewWeatherDataProcessor creates a new weather data processor
func NewWeatherDataProcessor(source TableFetcher, logger logging.EventSink, metricsCollector *metrics.Collector) *WeatherDataProcessor {
	return &WeatherDataProcessor{
		source:  source,
		logger:  logger,
		metrics: metricsCollector,
		table:   dataframe.DataFrame{Err: ErrNotProcessed},
	}
}

// Table returns the long-form weather table. Its Err is set until Process succeeds.
func (p *WeatherDataProcessor) Table() dataframe.DataFrame {
	return p.table
}

// Process fetches the weather feed and extracts every configured measurement.
func (p *WeatherDataProcessor) Process(ctx context.Context, cfg *config.Config) (err error) {
	defer func() { p.metrics.RecordRun(weatherProcessorName, err) }()

	p.table = dataframe.DataFrame{Err: ErrNotProcessed}

	ingestTimer := p.metrics.StageTimer(weatherProcessorName, "ingest")
	raw, err := p.source.FetchRemoteTable(ctx, cfg.WeatherCSV)
	ingestTimer.ObserveDuration()
	if err != nil {
		return err
	}

	stationCol, ok := resolveColumn(raw, cfg.StationIDColumn)
	if !ok {
		return p.fail(ctx, models.NewError(models.ErrFormat, "weather_ingest",
			fmt.Errorf("weather feed has no %q column", cfg.StationIDColumn)))
	}
	messageCol, ok := resolveColumn(raw, cfg.MessageColumn)
	if !ok {
		return p.fail(ctx, models.NewError(models.ErrFormat, "weather_ingest",
			fmt.Errorf("weather feed has no %q column", cfg.MessageColumn)))
	}

	extractTimer := p.metrics.StageTimer(weatherProcessorName, "extract")
	stations := raw.Col(stationCol)
	messages := messageTexts(raw.Col(messageCol))

	extraction := Extract(stations.Records(), messages, MeasurementsFromConfig(cfg))
	table, err := extraction.Table(stationCol, stations.Type(), messageCol)
	extractTimer.ObserveDuration()
	if err != nil {
		return p.fail(ctx, models.NewError(models.ErrFormat, "weather_extract", err))
	}
	p.table = table

	counts := make(map[string]int)
	for _, name := range extraction.Measurements {
		counts[name]++
	}
	for name, n := range counts {
		p.metrics.ExtractionMatches.WithLabelValues(name).Add(float64(n))
	}
	p.metrics.TableRows.WithLabelValues(weatherProcessorName).Set(float64(table.Nrow()))

	p.logger.Info(ctx, "[WEATHER_COMPLETE] Weather table ready", logging.Fields{
		"messages":     len(messages),
		"rows":         table.Nrow(),
		"measurements": counts,
	})

	return nil
}

func (p *WeatherDataProcessor) fail(ctx context.Context, err error) error {
	p.logger.Error(ctx, "[WEATHER_ERROR] Weather processing failed", logging.Fields{
		"kind": models.KindName(err),
	}, err)
	return err
}

// Table builds the long-form weather table. The station column keeps the
// type it had in the feed.
func (e *Extraction) Table(stationCol string, stationType series.Type, messageCol string) (dataframe.DataFrame, error) {
	df := dataframe.New(
		series.New(e.Stations, stationType, stationCol),
		series.New(e.Messages, series.String, messageCol),
		series.New(e.Measurements, series.String, models.MeasurementColumn),
		series.New(e.Values, series.Float, models.ValueColumn),
	)
	return df, df.Err
}

// resolveColumn finds name in df, falling back to a case-insensitive match.
func resolveColumn(df dataframe.DataFrame, name string) (string, bool) {
	names := df.Names()
	for _, n := range names {
		if n == name {
			return n, true
		}
	}
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return n, true
		}
	}
	return "", false
}

// messageTexts returns the message column with missing entries blanked so
// they never match.
func messageTexts(col series.Series) []string {
	out := make([]string, col.Len())
	for i := range out {
		if elem := col.Elem(i); !elem.IsNA() {
			out[i] = elem.String()
		}
	}
	return out
}
