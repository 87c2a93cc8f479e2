// Package main is the entry point for the analysisweb controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"analysisweb/internal/artifacts"
	"analysisweb/internal/config"
	"analysisweb/internal/controller"
	"analysisweb/internal/controller/handlers"
	"analysisweb/internal/dispatch"
	"analysisweb/internal/logger"
	"analysisweb/internal/metadata"
	"analysisweb/internal/observability"
	"analysisweb/internal/service"
	"analysisweb/internal/store"
	"analysisweb/internal/store/memory"
	"analysisweb/internal/store/postgres"
	"analysisweb/internal/worker"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: analysisweb.yaml in current directory)")
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	layout, err := artifacts.NewLayout(cfg.UploadFolder)
	if err != nil {
		log.Error("invalid upload folder", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(layout.Root, 0o755); err != nil {
		log.Error("failed to create upload folder", "path", layout.Root, "error", err)
		os.Exit(1)
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "analysisweb-controller", cfg.OTELEndpoint)
	if err != nil {
		log.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics("analysisweb-controller")
	if err != nil {
		log.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Error("failed to shutdown metrics", "error", err)
		}
	}()
	instruments, err := observability.NewInstruments()
	if err != nil {
		log.Error("failed to create instruments", "error", err)
		os.Exit(1)
	}

	measurementSchema, err := loadSchema(cfg.MeasurementMetaSchema, "measurement")
	if err != nil {
		log.Error("failed to load measurement metadata schema", "error", err)
		os.Exit(1)
	}
	analysisSchema, err := loadSchema(cfg.AnalysisMetaSchema, "analysis")
	if err != nil {
		log.Error("failed to load analysis metadata schema", "error", err)
		os.Exit(1)
	}

	// Store and dispatch. Postgres hands tasks to worker processes through
	// the dispatch queue; the memory store runs them in-process.
	var (
		st        store.Store
		dlq       store.DeadLetters
		submitter dispatch.TaskSubmitter
		pool      *dispatch.PoolSubmitter
	)
	switch cfg.Store {
	case config.StorePostgres:
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pg.Close()

		if *migrateFlag {
			log.Info("running database migrations")
			if err := postgres.Migrate(pg.DB()); err != nil {
				log.Error("migration failed", "error", err)
				os.Exit(1)
			}
			log.Info("migrations completed")
		}

		if err := observability.RegisterQueueDepth(pg.Count, log); err != nil {
			log.Warn("failed to register queue depth metric", "error", err)
		}
		st, dlq, submitter = pg, pg, dispatch.NewQueueSubmitter(pg)

	case config.StoreMemory:
		mem, err := memory.New()
		if err != nil {
			log.Error("failed to create memory store", "error", err)
			os.Exit(1)
		}
		rt, err := worker.NewRuntime(cfg, log)
		if err != nil {
			log.Error("failed to create runtime", "error", err)
			os.Exit(1)
		}
		runner := worker.NewRunner(rt, worker.RunnerConfigFrom(cfg, layout.Root), log)
		pool = dispatch.NewPoolSubmitter(runner, dispatch.PoolConfig{
			Concurrency: cfg.WorkerConcurrency,
			Rate:        cfg.DispatchRate,
		}, log)
		st, submitter = mem, pool
		log.Warn("using the in-memory store, data is lost on restart")
	}

	svc := service.New(st, submitter, service.Config{
		Layout:            layout,
		Callbacks:         dispatch.Callbacks{BaseURL: cfg.ControllerURL},
		BundleExtensions:  cfg.BundleExtensions,
		MeasurementSchema: measurementSchema,
		AnalysisSchema:    analysisSchema,
	}, instruments, log)

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(handlers.New(svc, st, dlq, log), controller.Options{
		Addr:           addr,
		InternalSecret: cfg.InternalSecret,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
		Metrics:        metricsHandler,
	})

	go func() {
		log.Info("analysisweb controller starting", "addr", addr, "store", cfg.Store, "upload_folder", layout.Root)
		if err := srv.Run(ctx); err != nil {
			log.Error("server stopped", "error", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down controller")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	if pool != nil {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.AnalysisTimeout)
		defer drainCancel()
		if err := pool.Close(drainCtx); err != nil {
			log.Warn("running analyses cancelled", "error", err)
		}
	}
	log.Info("server exited properly")
}

// loadSchema returns the schema in path, or the base schema without
// metadata when path is empty.
func loadSchema(path, entity string) (metadata.Schema, error) {
	if path == "" {
		return metadata.Base{Entity: entity}, nil
	}
	return metadata.LoadSchema(path, entity)
}
