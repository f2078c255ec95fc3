package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Data access metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBRowsReturned      prometheus.Histogram
	RemoteFetchDuration prometheus.Histogram
	RemoteRowsFetched   prometheus.Histogram
	SourceErrorsTotal   *prometheus.CounterVec

	// Processing metrics
	StageDuration       *prometheus.HistogramVec
	PipelineRunsTotal   *prometheus.CounterVec
	NegativeValuesFixed *prometheus.CounterVec
	ExtractionMatches   *prometheus.CounterVec
	TableRows           *prometheus.GaugeVec
}

// NewCollector creates a metrics collector registered on reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"endpoint"},
		),

		APIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 5},
			},
			[]string{"query_type"},
		),

		DBRowsReturned: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_rows_returned",
				Help:      "Number of rows materialized per query",
				Buckets:   []float64{1, 10, 100, 500, 1000, 5000, 10000},
			},
		),

		RemoteFetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_fetch_duration_seconds",
				Help:      "Duration of remote CSV downloads in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),

		RemoteRowsFetched: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_rows_fetched",
				Help:      "Number of rows parsed per remote CSV",
				Buckets:   []float64{1, 10, 100, 500, 1000, 5000, 10000},
			},
		),

		SourceErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_errors_total",
				Help:      "Total number of data access errors by kind",
			},
			[]string{"kind"},
		),

		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of processor stages in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"processor", "stage"},
		),

		PipelineRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Total number of processor runs by processor and outcome",
			},
			[]string{"processor", "outcome"},
		),

		NegativeValuesFixed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "negative_values_corrected_total",
				Help:      "Negative values replaced by their absolute value, by column",
			},
			[]string{"column"},
		),

		ExtractionMatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extraction_matches_total",
				Help:      "Weather messages matched per measurement",
			},
			[]string{"measurement"},
		),

		TableRows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "table_rows",
				Help:      "Row count of the last finished table",
			},
			[]string{"table"},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordSourceError increments the data access error counter
func (c *Collector) RecordSourceError(kind string) {
	c.SourceErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordRun increments the processor run counter
func (c *Collector) RecordRun(processor string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.PipelineRunsTotal.WithLabelValues(processor, outcome).Inc()
}

// StageTimer starts a timer for one processor stage
func (c *Collector) StageTimer(processor, stage string) *Timer {
	return c.NewTimer(c.StageDuration.WithLabelValues(processor, stage))
}
