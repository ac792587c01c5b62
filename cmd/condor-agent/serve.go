package main

import (
	"condoragent/internal/api"
	"condoragent/internal/config"
	"condoragent/internal/health"
	"condoragent/internal/observability"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newServeCmd(cfg *config.ServiceConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and metrics servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Port, "port", cfg.Port, "API port")
	flags.StringVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "Metrics port")
	flags.Int64Var(&cfg.MaxUploadSize, "max-upload-size", cfg.MaxUploadSize, "Maximum submission archive size in bytes")
	flags.DurationVar(&cfg.ShutdownDrainWait, "drain-wait", cfg.ShutdownDrainWait, "Time to wait for load balancers to drain (0 to skip)")

	return cmd
}

func serve(cfg *config.ServiceConfig) error {
	ctx := context.Background()

	// Setup tracing
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: serviceName,
		Exporter:    cfg.TracesExporter,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.TraceSampling,
	})
	if err != nil {
		return err
	}
	defer func() {
		tracingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tracingCtx); err != nil {
			slog.Warn("Tracer shutdown error", "error", err)
		}
	}()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	slog.Info("Scheduler services ready",
		"submitDir", a.submitDir,
		"binDir", cfg.CondorBinDir,
		"commandTimeout", cfg.CommandTimeout,
	)

	// Create health checker
	healthChecker := health.NewChecker(map[string]health.ReadinessChecker{
		"staging":   health.Optional(a.ingester),
		"scheduler": a.schedulerCheck(),
	})

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Submitter:     a.submit,
		Querier:       a.history,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        cfg.APIKey,
		MaxUploadSize: cfg.MaxUploadSize,
		DefaultSchedd: cfg.ScheddName,
	})

	if cfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY configured")
	}

	// WriteTimeout must outlast the longest scheduler command.
	writeTimeout := 30 * time.Second
	if cfg.CommandTimeout == 0 {
		writeTimeout = 0
	} else if cfg.CommandTimeout+30*time.Second > writeTimeout {
		writeTimeout = cfg.CommandTimeout + 30*time.Second
	}

	// Create API server
	apiServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 2)

	// Start API server
	go func() {
		slog.Info("Starting API server", "port", cfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Start metrics server
	go func() {
		slog.Info("Starting metrics server", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	// Wait for load balancers to stop sending traffic
	if cfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", cfg.ShutdownDrainWait)
		time.Sleep(cfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests.
	// Submitted clusters are owned by the scheduler and outlive the agent.
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	slog.Info("Shutdown complete")
	return nil
}
