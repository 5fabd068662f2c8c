// Package main is the entry point for the recompute worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/onnwee/podrollup/internal/api"
	"github.com/onnwee/podrollup/internal/auth"
	"github.com/onnwee/podrollup/internal/blob"
	"github.com/onnwee/podrollup/internal/config"
	"github.com/onnwee/podrollup/internal/health"
	"github.com/onnwee/podrollup/internal/jobs"
	"github.com/onnwee/podrollup/internal/middleware"
	"github.com/onnwee/podrollup/internal/recompute"
	"github.com/onnwee/podrollup/internal/tracing"
	"github.com/onnwee/podrollup/internal/worklock"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Podrollup Recompute Worker")
		fmt.Println()
		fmt.Println("Usage: worker [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	ctx := context.Background()

	tracer, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName:  "podrollup-worker",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSampling,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	store, err := blob.NewS3Store(blob.S3Config{
		BucketName:      cfg.BlobBucket,
		AccessKeyID:     cfg.BlobAccessKeyID,
		SecretAccessKey: cfg.BlobSecretAccessKey,
		Endpoint:        cfg.BlobEndpoint,
		Region:          cfg.BlobRegion,
	})
	if err != nil {
		logger.Error("failed to initialize blob store", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	jobMetrics := jobs.NewMetrics()
	httpMetrics := middleware.NewMetrics()
	if err := jobMetrics.Register(registry); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}

	var lock *worklock.Lock
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid redis URL", "error", err)
			os.Exit(1)
		}
		lock = worklock.New(redis.NewClient(opts), time.Duration(cfg.WorkLockTTLMins)*time.Minute)
		logger.Info("work lock enabled", "ttl_mins", cfg.WorkLockTTLMins)
	}

	var verifier *auth.Verifier
	if cfg.AuthSecret != "" {
		verifier = auth.NewVerifier(cfg.AuthSecret)
	}

	coordinator := recompute.NewCoordinator(store, logger, jobMetrics)
	workHandler := api.NewWorkHandler(coordinator, lock, logger)

	rejectAuth := func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeAuthFailed)
		api.WriteError(w, ctx, http.StatusUnauthorized, api.ErrCodeAuthFailed, "valid bearer token required")
	}

	mux := http.NewServeMux()
	mux.Handle(recompute.TargetPath, auth.Require(verifier, rejectAuth)(workHandler))
	mux.Handle("/health", api.HealthHandler(map[string]api.Checker{
		"blob": health.NewBlobChecker(store),
	}))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Middleware: RequestID -> Logging -> Metrics -> otel.
	handler := middleware.RequestID(middleware.Logging(logger)(httpMetrics.Instrument(mux)))
	handler = otelhttp.NewHandler(handler, "worker")

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// Recompute jobs run synchronously; give writes a long leash.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting worker", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", "error", err)
	}

	logger.Info("worker stopped")
}
