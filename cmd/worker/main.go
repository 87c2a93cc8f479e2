// Package main is the entry point for the analysisweb worker.
// The worker pulls dispatch tasks from the Postgres queue, runs the analysis
// executable and posts the execution log back to the controller.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"analysisweb/internal/artifacts"
	"analysisweb/internal/config"
	"analysisweb/internal/logger"
	"analysisweb/internal/observability"
	"analysisweb/internal/store/postgres"
	"analysisweb/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: analysisweb.yaml in current directory)")
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Store != config.StorePostgres {
		log.Error("the worker needs the postgres store, the memory store runs analyses in the controller")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "analysisweb-worker", cfg.OTELEndpoint)
	if err != nil {
		log.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	pg, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	layout, err := artifacts.NewLayout(cfg.UploadFolder)
	if err != nil {
		log.Error("invalid upload folder", "error", err)
		os.Exit(1)
	}

	rt, err := worker.NewRuntime(cfg, log)
	if err != nil {
		log.Error("failed to create runtime", "error", err)
		os.Exit(1)
	}
	runner := worker.NewRunner(rt, worker.RunnerConfigFrom(cfg, layout.Root), log)

	hostname, _ := os.Hostname()
	agent := worker.New(pg, runner, worker.AgentConfig{
		ID:                  hostname,
		Concurrency:         cfg.WorkerConcurrency,
		PollInterval:        cfg.WorkerPollInterval,
		MaxBackoff:          cfg.WorkerMaxBackoff,
		HeartbeatInterval:   cfg.WorkerHeartbeatInterval,
		VisibilityExtension: cfg.WorkerVisibilityExtension,
	}, log)

	log.Info("worker started", "concurrency", cfg.WorkerConcurrency)
	go agent.Run(ctx)

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics("analysisweb-worker")
	if err != nil {
		log.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Error("failed to shutdown metrics", "error", err)
		}
	}()

	// Start a dedicated metrics server on port 6162
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		log.Info("worker metrics listening", "addr", ":6162")
		if err := http.ListenAndServe(":6162", mux); err != nil {
			log.Error("metrics server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker")
	cancel()

	<-agent.Done()
}
