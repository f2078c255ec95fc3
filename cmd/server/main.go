package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"field-weather-pipeline/internal/config"
	"field-weather-pipeline/internal/handlers"
	"field-weather-pipeline/internal/ingestion"
	"field-weather-pipeline/internal/models"
	"field-weather-pipeline/internal/services"
	"field-weather-pipeline/pkg/logging"
	"field-weather-pipeline/pkg/metrics"
)

const version = "1.0.0"

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	rt, err := config.LoadRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load runtime configuration: %v\n", err)
		os.Exit(1)
	}

	cfg, err := rt.Dataset()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid dataset configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("field-weather-api", version, logging.ParseLevel(rt.LogLevel))

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting field weather pipeline API server", logging.Fields{
		"version":      version,
		"server_addr":  rt.ServerAddr,
		"config_file":  rt.ConfigFile,
		"run_on_start": rt.RunOnStart,
	})

	metricsCollector := metrics.NewCollector("field_weather", prometheus.DefaultRegisterer)

	loader := ingestion.NewLoader(logger, metricsCollector, &http.Client{Timeout: rt.HTTPTimeout})
	pipeline := services.NewPipelineService(cfg, loader, logger, metricsCollector)
	weatherService := services.NewWeatherService(pipeline, logger, metricsCollector)
	statsService := services.NewStatisticsService(pipeline, logger, metricsCollector)

	router := mux.NewRouter()
	handlers.NewPipelineHandler(pipeline, logger, metricsCollector).RegisterRoutes(router)
	handlers.NewWeatherHandler(weatherService, statsService, logger, metricsCollector).RegisterRoutes(router)
	handlers.RegisterDocsRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         rt.ServerAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: rt.HTTPTimeout * 3,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	// Failures are already logged by the pipeline; the API keeps serving 404s
	// until a POST /api/runs succeeds.
	if rt.RunOnStart {
		go func() {
			if _, err := pipeline.Run(ctx); err != nil {
				logger.Warn(ctx, "[STARTUP_RUN_FAILED] Initial pipeline run failed", logging.Fields{
					"kind": models.KindName(err),
				})
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
