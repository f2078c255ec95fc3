//go:build fixtures

package services

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"field-weather-pipeline/internal/config"
	"field-weather-pipeline/internal/ingestion"
	"field-weather-pipeline/internal/validation"
	"field-weather-pipeline/pkg/logging"
)

// Runs against the real survey database and the public CSVs:
//
//	PIPELINE_FIXTURE_DB=/path/to/Maji_Ndogo_farm_survey_small.db go test -tags fixtures ./internal/services/
func TestSurveyFixtures(t *testing.T) {
	path := os.Getenv("PIPELINE_FIXTURE_DB")
	if path == "" {
		t.Skip("PIPELINE_FIXTURE_DB not set")
	}

	cfg := config.Default()
	cfg.ConnectionString = "sqlite:///" + path
	require.NoError(t, cfg.Validate())

	logger := logging.NewDiscardLogger()
	collector := newTestCollector()
	svc := NewPipelineService(cfg, ingestion.NewLoader(logger, collector, nil), logger, collector)
	svc.SetExpectations(validation.DefaultExpectations())

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 564, summary.FieldRows)
	assert.Equal(t, 19, summary.FieldColumns)
	assert.Equal(t, 1843, summary.WeatherRows)

	report, err := svc.GetValidation(context.Background())
	require.NoError(t, err)
	for _, c := range report.Checks {
		assert.True(t, c.Passed, "%s: %s", c.Name, c.Detail)
	}
}
