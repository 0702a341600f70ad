package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/interview-orchestrator/internal/app"
	"github.com/lexiqai/interview-orchestrator/internal/config"
	"github.com/lexiqai/interview-orchestrator/internal/gateway"
	"github.com/lexiqai/interview-orchestrator/internal/observability"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty, os.Stdout)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("coach_backend", cfg.CoachBackend).
		Strs("stt_providers", cfg.STTProviders).
		Str("tts_primary", cfg.TTSPrimary).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Interview orchestrator starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Endpoint: cfg.OTLPEndpoint,
		Insecure: cfg.OTLPInsecure,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	orchestrator, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize interview services")
	}

	mux := http.NewServeMux()

	// Browser sessions
	sessions := gateway.NewHandler(orchestrator, cfg.WSAllowedOrigins, logger)
	mux.Handle("/sessions/ws", sessions)

	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(5*time.Second, orchestrator.Checks()...))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Websocket sessions outlive any request timeout, so only headers are bounded.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/sessions/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Sessions did not close in time")
	}
	if err := orchestrator.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close interview services")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to flush traces")
	}

	logger.Info().Msg("Server exited gracefully")
}
