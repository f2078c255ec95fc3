package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"field-weather-pipeline/internal/models"
	"field-weather-pipeline/pkg/database"
	"field-weather-pipeline/pkg/logging"
	"field-weather-pipeline/pkg/metrics"
)

// maxBodyBytes caps a remote CSV download. Larger bodies are rejected, not truncated.
const maxBodyBytes = 64 << 20

// Handle identifies a validated database. It holds no open connection;
// every query opens and releases its own.
type Handle struct {
	config *database.Config
}

// Driver returns the database driver name
func (h *Handle) Driver() string {
	return h.config.Driver
}

// Loader is the data access layer: it runs SQL against the survey database and
// downloads CSV tables over HTTP.
type Loader struct {
	logger  logging.EventSink
	metrics *metrics.Collector
	client  *http.Client
	maxBody int64
}

// NewLoader creates a new loader. A nil client gets a 30 second timeout.
func NewLoader(logger logging.EventSink, metricsCollector *metrics.Collector, client *http.Client) *Loader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Loader{
		logger:  logger,
		metrics: metricsCollector,
		client:  client,
		maxBody: maxBodyBytes,
	}
}

// OpenConnection checks that a database can be reached by opening and
// immediately releasing a connection.
func (l *Loader) OpenConnection(ctx context.Context, connectionString string) (*Handle, error) {
	cfg, err := database.ParseConnectionString(connectionString)
	if err != nil {
		return nil, l.fail(ctx, "open_connection", classifyOpenError("open_connection", err), logging.Fields{})
	}

	db, err := database.Open(ctx, cfg, l.logger, l.metrics)
	if err != nil {
		return nil, l.fail(ctx, "open_connection", classifyOpenError("open_connection", err), logging.Fields{
			"driver": cfg.Driver,
			"path":   cfg.Path,
		})
	}
	db.Close()

	l.logger.Info(ctx, "[DB_CONNECT] Database connection verified", logging.Fields{
		"driver": cfg.Driver,
		"path":   cfg.Path,
	})

	return &Handle{config: cfg}, nil
}

// RunQuery executes query on a fresh connection and returns every row as a table.
// SQL NULL becomes a missing value.
func (l *Loader) RunQuery(ctx context.Context, handle *Handle, query string) (dataframe.DataFrame, error) {
	if handle == nil || handle.config == nil {
		return dataframe.DataFrame{}, l.fail(ctx, "run_query",
			models.NewError(models.ErrConfiguration, "run_query", errors.New("no connection handle")), logging.Fields{})
	}
	fields := logging.Fields{"driver": handle.config.Driver}

	db, err := database.Open(ctx, handle.config, l.logger, l.metrics)
	if err != nil {
		return dataframe.DataFrame{}, l.fail(ctx, "run_query", classifyOpenError("run_query", err), fields)
	}
	defer db.Close()

	result, err := db.QueryRecords(ctx, "survey", query)
	if err != nil {
		return dataframe.DataFrame{}, l.fail(ctx, "run_query", models.NewError(models.ErrQuery, "run_query", err), fields)
	}
	if len(result.Records) == 0 {
		fields["columns"] = len(result.Columns)
		return dataframe.DataFrame{}, l.fail(ctx, "run_query",
			models.NewError(models.ErrEmptyResult, "run_query", errors.New("query returned no rows")), fields)
	}

	records := make([][]string, 0, len(result.Records)+1)
	records = append(records, result.Columns)
	records = append(records, result.Records...)

	df := dataframe.LoadRecords(records,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(true),
		dataframe.WithTypes(columnTypes(result)),
	)
	if df.Err != nil {
		return dataframe.DataFrame{}, l.fail(ctx, "run_query", models.NewError(models.ErrQuery, "run_query", df.Err), fields)
	}

	l.logger.Info(ctx, "[DB_QUERY_RESULT] Query returned rows", logging.Fields{
		"driver":  handle.config.Driver,
		"rows":    df.Nrow(),
		"columns": df.Ncol(),
	})

	return df, nil
}

// FetchRemoteTable downloads a CSV resource with a plain GET and parses it.
func (l *Loader) FetchRemoteTable(ctx context.Context, url string) (dataframe.DataFrame, error) {
	timer := l.metrics.NewTimer(l.metrics.RemoteFetchDuration)
	defer timer.ObserveDuration()
	fields := logging.Fields{"url": url}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return dataframe.DataFrame{}, l.fail(ctx, "fetch_remote_table", models.NewError(models.ErrTransport, "fetch_remote_table", err), fields)
	}
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9, */*;q=0.5")

	resp, err := l.client.Do(req)
	if err != nil {
		return dataframe.DataFrame{}, l.fail(ctx, "fetch_remote_table", models.NewError(models.ErrTransport, "fetch_remote_table", err), fields)
	}
	defer resp.Body.Close()

	fields["status"] = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return dataframe.DataFrame{}, l.fail(ctx, "fetch_remote_table",
			models.NewError(models.ErrTransport, "fetch_remote_table", fmt.Errorf("unexpected status %s", resp.Status)), fields)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBody+1))
	if err != nil {
		return dataframe.DataFrame{}, l.fail(ctx, "fetch_remote_table", models.NewError(models.ErrTransport, "fetch_remote_table", err), fields)
	}
	if int64(len(body)) > l.maxBody {
		return dataframe.DataFrame{}, l.fail(ctx, "fetch_remote_table",
			models.NewError(models.ErrFormat, "fetch_remote_table", fmt.Errorf("body exceeds %d bytes", l.maxBody)), fields)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return dataframe.DataFrame{}, l.fail(ctx, "fetch_remote_table",
			models.NewError(models.ErrFormat, "fetch_remote_table", errors.New("empty body")), fields)
	}

	df := dataframe.ReadCSV(bytes.NewReader(body))
	if df.Err != nil {
		return dataframe.DataFrame{}, l.fail(ctx, "fetch_remote_table", models.NewError(models.ErrFormat, "fetch_remote_table", df.Err), fields)
	}

	l.metrics.RemoteRowsFetched.Observe(float64(df.Nrow()))

	l.logger.Info(ctx, "[REMOTE_FETCH] Remote table downloaded", logging.Fields{
		"url":     url,
		"rows":    df.Nrow(),
		"columns": df.Ncol(),
		"bytes":   len(body),
	})

	return df, nil
}

// fail emits the single error event for a failed call and counts it.
func (l *Loader) fail(ctx context.Context, op string, err error, fields logging.Fields) error {
	kind := models.KindName(err)
	fields["operation"] = op
	fields["kind"] = kind

	l.metrics.RecordSourceError(kind)
	l.logger.Error(ctx, "[DATA_ACCESS_ERROR] Data access failed", fields, err)
	return err
}

// classifyOpenError maps a connection failure onto the error taxonomy:
// a missing driver is a connection error, anything else is configuration.
func classifyOpenError(op string, err error) error {
	if errors.Is(err, database.ErrUnsupportedDriver) || strings.Contains(err.Error(), "unknown driver") {
		return models.NewError(models.ErrConnection, op, err)
	}
	return models.NewError(models.ErrConfiguration, op, err)
}

// columnTypes pins numeric SQL columns to numeric series so an all-NULL or
// integral-looking REAL column keeps its type.
func columnTypes(result *database.ResultSet) map[string]series.Type {
	types := make(map[string]series.Type)
	for i, name := range result.Columns {
		dbType := result.DatabaseTypes[i]
		switch {
		case strings.Contains(dbType, "INT"):
			if !hasNull(result.Records, i) {
				types[name] = series.Int
			} else {
				types[name] = series.Float
			}
		case strings.Contains(dbType, "REAL"), strings.Contains(dbType, "FLOA"),
			strings.Contains(dbType, "DOUB"), strings.Contains(dbType, "NUMERIC"),
			strings.Contains(dbType, "DECIMAL"):
			types[name] = series.Float
		}
	}
	return types
}

func hasNull(records [][]string, col int) bool {
	for _, r := range records {
		if r[col] == database.NullValue {
			return true
		}
	}
	return false
}
