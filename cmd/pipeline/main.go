package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/schollz/progressbar/v3"

	"field-weather-pipeline/internal/config"
	"field-weather-pipeline/internal/ingestion"
	"field-weather-pipeline/internal/models"
	"field-weather-pipeline/internal/services"
	"field-weather-pipeline/pkg/logging"
	"field-weather-pipeline/pkg/metrics"
)

const version = "1.0.0"

type args struct {
	Config   string `arg:"-c,--config" help:"Dataset configuration YAML. Overrides PIPELINE_CONFIG_FILE; the built-in default is used when neither is set"`
	OutDir   string `arg:"-o,--out-dir" default:"./output" help:"Directory the field and weather tables are written to"`
	Validate bool   `arg:"--validate" help:"Write validation_report.csv and exit non-zero when a check fails"`
	Progress bool   `arg:"-p,--progress" help:"Show a progress bar over the pipeline steps"`
}

func (args) Description() string {
	return "Runs the field and weather processors once and writes their tables as CSV"
}

func (args) Version() string {
	return "field-weather-pipeline " + version
}

func newBar(size int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(size,
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func main() {
	var cli args
	arg.MustParse(&cli)

	_ = godotenv.Load()

	rt, err := config.LoadRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load runtime configuration: %v\n", err)
		os.Exit(1)
	}
	if cli.Config != "" {
		rt.ConfigFile = cli.Config
	}

	cfg, err := rt.Dataset()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid dataset configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("field-weather-pipeline", version, logging.ParseLevel(rt.LogLevel))
	if cli.Progress {
		// keep stdout free of log lines while the bar is drawn
		logger.SetOutput(os.Stderr)
	}
	metricsCollector := metrics.NewCollector("field_weather", prometheus.NewRegistry())

	loader := ingestion.NewLoader(logger, metricsCollector, &http.Client{Timeout: rt.HTTPTimeout})
	pipeline := services.NewPipelineService(cfg, loader, logger, metricsCollector)

	if cli.Progress {
		bar := newBar(len(services.PipelineSteps), "processing")
		pipeline.SetProgress(func(step string) {
			bar.Describe(step)
			bar.Add(1)
		})
	}

	ctx := context.Background()
	summary, err := pipeline.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Pipeline failed (%s): %v\n", models.KindName(err), err)
		os.Exit(1)
	}

	result, err := pipeline.Latest()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Pipeline produced no result: %v\n", err)
		os.Exit(1)
	}

	files, err := writeOutputs(cli.OutDir, result, cli.Validate)
	if err != nil {
		logger.Error(ctx, "[OUTPUT_ERROR] Failed to write pipeline output", logging.Fields{
			"out_dir": cli.OutDir,
		}, err)
		os.Exit(1)
	}

	fmt.Printf("Run %s\n", summary.RunID)
	fmt.Printf("Field table:   %d x %d\n", summary.FieldRows, summary.FieldColumns)
	fmt.Printf("Weather table: %d rows\n", summary.WeatherRows)
	for _, f := range files {
		fmt.Printf("Wrote %s\n", f)
	}

	if cli.Validate {
		for _, c := range result.Report.Checks {
			status := "ok"
			if !c.Passed {
				status = "FAILED"
			}
			fmt.Printf("  %-24s %-6s %s\n", c.Name, status, c.Detail)
		}
		if !result.Report.Passed {
			os.Exit(2)
		}
	}
}
