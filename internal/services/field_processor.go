package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"field-weather-pipeline/internal/config"
	"field-weather-pipeline/internal/ingestion"
	"field-weather-pipeline/internal/models"
	"field-weather-pipeline/pkg/logging"
	"field-weather-pipeline/pkg/metrics"
)

// TableFetcher downloads remote CSV tables.
type TableFetcher interface {
	FetchRemoteTable(ctx context.Context, url string) (dataframe.DataFrame, error)
}

// SurveySource is the data access needed to build the field table.
type SurveySource interface {
	TableFetcher
	OpenConnection(ctx context.Context, connectionString string) (*ingestion.Handle, error)
	RunQuery(ctx context.Context, handle *ingestion.Handle, query string) (dataframe.DataFrame, error)
}

// Stage is the last field processing step that completed.
type Stage int

const (
	StageNone Stage = iota
	StageIngest
	StageRename
	StageCorrect
)

func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageIngest:
		return "ingest"
	case StageRename:
		return "rename"
	case StageCorrect:
		return "correct"
	default:
		return "unknown"
	}
}

const fieldProcessorName = "field"

// FieldDataProcessor builds the field table: ingest from the survey database,
// rename columns and values, then correct negatives and join weather stations.
// A processor is not safe for concurrent use.
type FieldDataProcessor struct {
	source  SurveySource
	logger  logging.EventSink
	metrics *metrics.Collector

	stage Stage
	table dataframe.DataFrame
}

// NewFieldDataProcessor creates a new field data processor
func NewFieldDataProcessor(source SurveySource, logger logging.EventSink, metricsCollector *metrics.Collector) *FieldDataProcessor {
	return &FieldDataProcessor{
		source:  source,
		logger:  logger,
		metrics: metricsCollector,
		table:   dataframe.DataFrame{Err: ErrNotProcessed},
	}
}

// Stage returns the last completed step of the current or most recent run.
func (p *FieldDataProcessor) Stage() Stage {
	return p.stage
}

// Table returns the finished field table. Its Err is set until Process succeeds.
func (p *FieldDataProcessor) Table() dataframe.DataFrame {
	return p.table
}

// Process runs ingest, rename and correct in order. The first failure aborts
// the run and is returned unchanged; the previous table is discarded.
func (p *FieldDataProcessor) Process(ctx context.Context, cfg *config.Config) (err error) {
	defer func() { p.metrics.RecordRun(fieldProcessorName, err) }()

	p.stage = StageNone
	p.table = dataframe.DataFrame{Err: ErrNotProcessed}

	p.logger.Info(ctx, "[FIELD_START] Field processing started", logging.Fields{
		"stage": StageIngest.String(),
	})

	df, err := p.ingest(ctx, cfg)
	if err != nil {
		return err
	}
	p.stage = StageIngest

	df, err = p.rename(ctx, cfg, df)
	if err != nil {
		return err
	}
	p.stage = StageRename

	df, err = p.correct(ctx, cfg, df)
	if err != nil {
		return err
	}
	p.stage = StageCorrect
	p.table = df

	p.metrics.TableRows.WithLabelValues(fieldProcessorName).Set(float64(df.Nrow()))
	p.logger.Info(ctx, "[FIELD_COMPLETE] Field table ready", logging.Fields{
		"rows":    df.Nrow(),
		"columns": df.Ncol(),
		"stage":   StageCorrect.String(),
	})

	return nil
}

func (p *FieldDataProcessor) ingest(ctx context.Context, cfg *config.Config) (dataframe.DataFrame, error) {
	timer := p.metrics.StageTimer(fieldProcessorName, StageIngest.String())
	defer timer.ObserveDuration()

	handle, err := p.source.OpenConnection(ctx, cfg.ConnectionString)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	return p.source.RunQuery(ctx, handle, cfg.SQLQuery)
}

func (p *FieldDataProcessor) rename(ctx context.Context, cfg *config.Config, df dataframe.DataFrame) (dataframe.DataFrame, error) {
	timer := p.metrics.StageTimer(fieldProcessorName, StageRename.String())
	defer timer.ObserveDuration()

	df, err := RenameColumns(df, cfg.ColumnsToRename)
	if err != nil {
		return dataframe.DataFrame{}, p.fail(ctx, StageRename, err)
	}

	df, err = RenameValues(df, cfg.ValueRenameColumn, cfg.ValuesToRename)
	if err != nil {
		return dataframe.DataFrame{}, p.fail(ctx, StageRename, err)
	}

	p.logger.Debug(ctx, "[FIELD_RENAME] Columns and values renamed", logging.Fields{
		"columns_renamed": len(cfg.ColumnsToRename),
		"value_column":    cfg.ValueRenameColumn,
	})
	return df, nil
}

func (p *FieldDataProcessor) correct(ctx context.Context, cfg *config.Config, df dataframe.DataFrame) (dataframe.DataFrame, error) {
	timer := p.metrics.StageTimer(fieldProcessorName, StageCorrect.String())
	defer timer.ObserveDuration()

	for _, col := range cfg.AbsoluteColumns {
		var fixed int
		var err error
		df, fixed, err = AbsoluteValues(df, col)
		if err != nil {
			return dataframe.DataFrame{}, p.fail(ctx, StageCorrect, err)
		}
		if fixed > 0 {
			p.metrics.NegativeValuesFixed.WithLabelValues(col).Add(float64(fixed))
			p.logger.Warn(ctx, "[FIELD_NEGATIVE_VALUES] Negative values replaced by their absolute value", logging.Fields{
				"column": col,
				"count":  fixed,
			})
		}
	}

	mapping, err := p.source.FetchRemoteTable(ctx, cfg.WeatherMappingCSV)
	if err != nil {
		return dataframe.DataFrame{}, err
	}

	joined, err := JoinStations(df, mapping, cfg.MappingKey, cfg.WeatherStationColumn)
	if err != nil {
		return dataframe.DataFrame{}, p.fail(ctx, StageCorrect, err)
	}
	return joined, nil
}

func (p *FieldDataProcessor) fail(ctx context.Context, stage Stage, err error) error {
	p.logger.Error(ctx, "[FIELD_ERROR] Field processing failed", logging.Fields{
		"stage": stage.String(),
		"kind":  models.KindName(err),
	}, err)
	return err
}

// RenameColumns applies an old to new column mapping simultaneously, so a
// mapping may swap two names. Names absent from df are ignored.
func RenameColumns(df dataframe.DataFrame, mapping map[string]string) (dataframe.DataFrame, error) {
	if df.Err != nil {
		return df, df.Err
	}

	names := df.Names()
	renamed := make([]string, len(names))
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		renamed[i] = name
		if to, ok := mapping[name]; ok {
			renamed[i] = to
		}
		if seen[renamed[i]] {
			return df, models.NewError(models.ErrConfiguration, "rename_columns",
				fmt.Errorf("rename produces duplicate column %q", renamed[i]))
		}
		seen[renamed[i]] = true
	}

	// SetNames writes through to shared series, so rename a copy.
	out := df.Copy()
	if err := out.SetNames(renamed...); err != nil {
		return df, models.NewError(models.ErrConfiguration, "rename_columns", err)
	}
	return out, nil
}

// RenameValues trims every value in column and replaces those found in mapping.
// Missing values stay missing.
func RenameValues(df dataframe.DataFrame, column string, mapping map[string]string) (dataframe.DataFrame, error) {
	if df.Err != nil {
		return df, df.Err
	}
	if !models.HasColumn(df, column) {
		return df, models.NewError(models.ErrConfiguration, "rename_values",
			fmt.Errorf("column %q not found", column))
	}

	col := df.Col(column)
	values := make([]string, col.Len())
	for i := range values {
		elem := col.Elem(i)
		if elem.IsNA() {
			values[i] = "NaN"
			continue
		}
		v := strings.TrimSpace(elem.String())
		if to, ok := mapping[v]; ok {
			v = to
		}
		values[i] = v
	}

	out := df.Mutate(series.New(values, series.String, column))
	if out.Err != nil {
		return df, models.NewError(models.ErrConfiguration, "rename_values", out.Err)
	}
	return out, nil
}

// AbsoluteValues replaces negative numbers in column with their absolute value
// and reports how many were replaced.
func AbsoluteValues(df dataframe.DataFrame, column string) (dataframe.DataFrame, int, error) {
	if df.Err != nil {
		return df, 0, df.Err
	}
	if !models.HasColumn(df, column) {
		return df, 0, models.NewError(models.ErrConfiguration, "absolute_values",
			fmt.Errorf("column %q not found", column))
	}

	col := df.Col(column)
	if col.Type() != series.Float && col.Type() != series.Int {
		return df, 0, models.NewError(models.ErrConfiguration, "absolute_values",
			fmt.Errorf("column %q is %s, not numeric", column, col.Type()))
	}

	fixed := 0
	values := make([]string, col.Len())
	for i := range values {
		elem := col.Elem(i)
		if elem.IsNA() {
			values[i] = "NaN"
			continue
		}
		v := elem.Float()
		if v < 0 {
			v = -v
			fixed++
		}
		if col.Type() == series.Int {
			values[i] = strconv.FormatInt(int64(v), 10)
		} else {
			values[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
	}
	if fixed == 0 {
		return df, 0, nil
	}

	out := df.Mutate(series.New(values, col.Type(), column))
	if out.Err != nil {
		return df, 0, out.Err
	}
	return out, fixed, nil
}

// JoinStations left joins the station column of mapping onto df by key. Rows
// of df without a mapping keep a missing station.
func JoinStations(df, mapping dataframe.DataFrame, key, stationColumn string) (dataframe.DataFrame, error) {
	if mapping.Err != nil {
		return df, models.NewError(models.ErrFormat, "join_stations", mapping.Err)
	}
	for _, col := range []string{key, stationColumn} {
		if !models.HasColumn(mapping, col) {
			return df, models.NewError(models.ErrFormat, "join_stations",
				fmt.Errorf("mapping table has no %q column", col))
		}
	}
	if !models.HasColumn(df, key) {
		return df, models.NewError(models.ErrConfiguration, "join_stations",
			fmt.Errorf("field table has no %q column", key))
	}

	joined := df.LeftJoin(mapping.Select([]string{key, stationColumn}), key)
	if joined.Err != nil {
		return df, models.NewError(models.ErrFormat, "join_stations", joined.Err)
	}
	return joined, nil
}
