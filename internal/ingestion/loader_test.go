package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gota/gota/series"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"field-weather-pipeline/internal/models"
	"field-weather-pipeline/pkg/database"
	"field-weather-pipeline/pkg/logging"
	"field-weather-pipeline/pkg/metrics"
)

type testEnv struct {
	loader    *Loader
	logs      *bytes.Buffer
	collector *metrics.Collector
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	var buf bytes.Buffer
	logger := logging.NewStructuredLogger("ingestion-test", "test", logging.InfoLevel)
	logger.SetOutput(&buf)

	collector := metrics.NewCollector("test", prometheus.NewRegistry())
	return &testEnv{
		loader:    NewLoader(logger, collector, nil),
		logs:      &buf,
		collector: collector,
	}
}

// events returns the decoded log lines written so far and resets the buffer.
func (e *testEnv) events(t *testing.T) []logging.LogEntry {
	t.Helper()
	var entries []logging.LogEntry
	scanner := bufio.NewScanner(e.logs)
	for scanner.Scan() {
		var entry logging.LogEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	e.logs.Reset()
	return entries
}

func createSurveyDB(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "survey.db")
	db, err := sqlx.Open(database.DriverSQLite, path)
	require.NoError(t, err)
	defer db.Close()

	db.MustExec(`CREATE TABLE geographic_features (Field_ID INTEGER, Elevation REAL, Location TEXT)`)
	db.MustExec(`CREATE TABLE soil_and_crop_features (Field_ID INTEGER, Crop_type TEXT, pH REAL)`)
	db.MustExec(`INSERT INTO geographic_features VALUES (1, 120.0, 'Rural_Akatsi'), (2, -3.5, 'Rural_Sokoto'), (3, 40.25, NULL)`)
	db.MustExec(`INSERT INTO soil_and_crop_features VALUES (1, 'cassava', 6.1), (2, 'tea ', 5.2)`)
	return path
}

func TestOpenConnection(t *testing.T) {
	env := newTestEnv(t)
	path := createSurveyDB(t)

	handle, err := env.loader.OpenConnection(context.Background(), "sqlite:///"+path)
	require.NoError(t, err)
	assert.Equal(t, database.DriverSQLite, handle.Driver())

	events := env.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, "INFO", events[0].Level)
}

func TestOpenConnection_Errors(t *testing.T) {
	garbage := filepath.Join(t.TempDir(), "not-a-dir", "survey.db")

	tests := []struct {
		name string
		conn string
		kind error
	}{
		{"unsupported scheme", "oracle://db/survey", models.ErrConnection},
		{"missing file", "sqlite:///" + garbage, models.ErrConfiguration},
		{"malformed", "Maji_Ndogo_farm_survey_small.db", models.ErrConfiguration},
		{"empty sqlite path", "sqlite:///", models.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			_, err := env.loader.OpenConnection(context.Background(), tt.conn)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			events := env.events(t)
			require.Len(t, events, 1)
			assert.Equal(t, "ERROR", events[0].Level)
			assert.Equal(t, "open_connection", events[0].Fields["operation"])
		})
	}
}

func TestRunQuery(t *testing.T) {
	env := newTestEnv(t)
	path := createSurveyDB(t)

	handle, err := env.loader.OpenConnection(context.Background(), "sqlite:///"+path)
	require.NoError(t, err)
	env.events(t)

	df, err := env.loader.RunQuery(context.Background(), handle,
		`SELECT * FROM geographic_features LEFT JOIN soil_and_crop_features USING (Field_ID) ORDER BY Field_ID`)
	require.NoError(t, err)

	assert.Equal(t, []string{"Field_ID", "Elevation", "Location", "Crop_type", "pH"}, df.Names())
	assert.Equal(t, 3, df.Nrow())
	assert.Equal(t, series.Int, df.Col("Field_ID").Type())
	assert.Equal(t, series.Float, df.Col("Elevation").Type())
	assert.Equal(t, series.Float, df.Col("pH").Type())
	assert.Equal(t, []float64{120, -3.5, 40.25}, df.Col("Elevation").Float())
	assert.True(t, df.Col("Location").Elem(2).IsNA())
	assert.True(t, df.Col("Crop_type").Elem(2).IsNA())
	assert.Equal(t, "tea ", df.Col("Crop_type").Elem(1).String())

	events := env.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, "INFO", events[0].Level)
}

func TestRunQuery_EmptyResult(t *testing.T) {
	env := newTestEnv(t)
	handle, err := env.loader.OpenConnection(context.Background(), "sqlite:///"+createSurveyDB(t))
	require.NoError(t, err)
	env.events(t)

	_, err = env.loader.RunQuery(context.Background(), handle, `SELECT * FROM geographic_features WHERE Field_ID < 0`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrEmptyResult))
	assert.False(t, errors.Is(err, models.ErrQuery))

	events := env.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, "empty_result", events[0].Fields["kind"])
	assert.Equal(t, float64(1), testutil.ToFloat64(env.collector.SourceErrorsTotal.WithLabelValues("empty_result")))
}

func TestRunQuery_BadSQL(t *testing.T) {
	env := newTestEnv(t)
	handle, err := env.loader.OpenConnection(context.Background(), "sqlite:///"+createSurveyDB(t))
	require.NoError(t, err)
	env.events(t)

	_, err = env.loader.RunQuery(context.Background(), handle, `SELECT * FROM no_such_table`)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrQuery)
	assert.Len(t, env.events(t), 1)
}

func TestRunQuery_DatabaseRemovedAfterOpen(t *testing.T) {
	env := newTestEnv(t)
	path := createSurveyDB(t)
	handle, err := env.loader.OpenConnection(context.Background(), "sqlite:///"+path)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))

	_, err = env.loader.RunQuery(context.Background(), handle, `SELECT 1`)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestRunQuery_SameInputSameTable(t *testing.T) {
	env := newTestEnv(t)
	handle, err := env.loader.OpenConnection(context.Background(), "sqlite:///"+createSurveyDB(t))
	require.NoError(t, err)

	query := `SELECT * FROM geographic_features ORDER BY Field_ID`
	first, err := env.loader.RunQuery(context.Background(), handle, query)
	require.NoError(t, err)
	second, err := env.loader.RunQuery(context.Background(), handle, query)
	require.NoError(t, err)

	assert.Equal(t, first.Records(), second.Records())
}

const mappingCSV = "Field_ID,Weather_station,Notes\n1,0,a\n2,1,b\n3,0,c\n"

func TestFetchRemoteTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(mappingCSV))
	}))
	defer server.Close()

	env := newTestEnv(t)
	df, err := env.loader.FetchRemoteTable(context.Background(), server.URL+"/mapping.csv")
	require.NoError(t, err)

	assert.Equal(t, []string{"Field_ID", "Weather_station", "Notes"}, df.Names())
	assert.Equal(t, 3, df.Nrow())
	assert.Equal(t, series.Int, df.Col("Weather_station").Type())

	events := env.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, "INFO", events[0].Level)
	assert.Equal(t, 1, testutil.CollectAndCount(env.collector.RemoteRowsFetched))
}

func TestFetchRemoteTable_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    error
		kindTag string
	}{
		{"not found", http.StatusNotFound, "missing", models.ErrTransport, "transport"},
		{"server error", http.StatusInternalServerError, "", models.ErrTransport, "transport"},
		{"empty body", http.StatusOK, "  \n", models.ErrFormat, "format"},
		{"header only", http.StatusOK, "Field_ID,Weather_station\n", models.ErrFormat, "format"},
		{"ragged rows", http.StatusOK, "a,b\n1,2,3\n", models.ErrFormat, "format"},
		{"bare quote", http.StatusOK, "a,b\n\"1,2\n", models.ErrFormat, "format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			env := newTestEnv(t)
			_, err := env.loader.FetchRemoteTable(context.Background(), server.URL)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			events := env.events(t)
			require.Len(t, events, 1)
			assert.Equal(t, "ERROR", events[0].Level)
			assert.Equal(t, tt.kindTag, events[0].Fields["kind"])
		})
	}
}

func TestFetchRemoteTable_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	env := newTestEnv(t)
	_, err := env.loader.FetchRemoteTable(context.Background(), url)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransport)

	var pe *models.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.IsTransient())
}

func TestFetchRemoteTable_BadURL(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.loader.FetchRemoteTable(context.Background(), "://no-scheme")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransport)
}

func TestFetchRemoteTable_BodyOverLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(mappingCSV))
	}))
	defer server.Close()

	env := newTestEnv(t)
	env.loader.maxBody = int64(len(mappingCSV)) - 1

	_, err := env.loader.FetchRemoteTable(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrFormat)
	assert.Contains(t, err.Error(), "exceeds")

	events := env.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, "format", events[0].Fields["kind"])

	// a body exactly at the limit is accepted whole
	env.loader.maxBody = int64(len(mappingCSV))
	df, err := env.loader.FetchRemoteTable(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, 3, df.Nrow())
	assert.Equal(t, []string{"a", "b", "c"}, df.Col("Notes").Records())
}

func TestFetchRemoteTable_DurationObservedOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	env := newTestEnv(t)
	_, err := env.loader.FetchRemoteTable(context.Background(), server.URL)
	require.Error(t, err)

	assert.Equal(t, uint64(1), sampleCount(t, env.collector.RemoteFetchDuration))
	assert.Equal(t, uint64(0), sampleCount(t, env.collector.RemoteRowsFetched))
}

func sampleCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, h.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestRunQuery_NilHandle(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.loader.RunQuery(context.Background(), nil, "SELECT 1")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConfiguration)

	_, err = env.loader.RunQuery(context.Background(), &Handle{}, "SELECT 1")
	assert.ErrorIs(t, err, models.ErrConfiguration)

	events := env.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, "configuration", events[0].Fields["kind"])
}
