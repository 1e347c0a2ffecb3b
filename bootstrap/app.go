package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"procwatch/baseline"
	"procwatch/config"
	"procwatch/ingest"
	"procwatch/runner"
	"procwatch/scoring"
	"procwatch/service"
	"procwatch/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// App holds the composed application.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	DB *storage.SQLite

	Batches *storage.BatchStorage
	Scores  *storage.ScoreStorage
	Runs    *storage.RunStorage

	BaselineEngine *baseline.Engine
	Scorer         *scoring.Engine
	Coordinator    *runner.Coordinator
	Pipeline       *service.PipelineService

	metricsServer *http.Server
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{}

	logger, sugar, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	if err := EnsureDataDirectories(cfg); err != nil {
		return nil, err
	}

	db, err := storage.NewSQLite(cfg.DataPaths.SQLitePath, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.DB = db

	app.Batches = storage.NewBatchStorage(db, sugar)
	app.Scores = storage.NewScoreStorage(db, sugar)
	app.Runs = storage.NewRunStorage(db, sugar)
	baselineStore := storage.NewBaselineStorage(db, sugar)

	app.BaselineEngine, err = baseline.NewEngine(baselineStore, &baseline.Config{
		Sigma:      cfg.Detection.Sigma,
		MinSamples: cfg.Detection.MinSamples,
		CacheSize:  cfg.Detection.SnapshotCacheSize,
		Logger:     sugar,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize baseline engine: %w", err)
	}

	app.Scorer = scoring.NewEngine(&scoring.Config{Logger: sugar})

	app.Coordinator = runner.NewCoordinator(db, app.Batches, app.Runs,
		app.BaselineEngine, app.Scorer, &runner.Config{
			SweepParallelism: cfg.Backfill.Parallelism,
			Logger:           sugar,
		})

	var hints *ingest.SchemaHints
	if cfg.DataPaths.SchemaHintsPath != "" {
		hints, err = ingest.LoadSchemaHints(cfg.DataPaths.SchemaHintsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load schema hints: %w", err)
		}
	}

	app.Pipeline = service.NewPipelineService(app.Batches, app.Scores, app.Coordinator, hints, sugar)

	return app, nil
}

// StartMetrics exposes the Prometheus endpoint when enabled.
func (a *App) StartMetrics() {
	if !a.Config.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metricsServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Sugar.Errorw("Metrics server stopped", "error", err)
		}
	}()
	a.Sugar.Infow("Metrics endpoint started", "port", a.Config.Metrics.Port)
}

// Shutdown releases all resources.
func (a *App) Shutdown() {
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.metricsServer.Shutdown(ctx)
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Sugar.Errorw("Failed to close database", "error", err)
		}
	}
	_ = a.Logger.Sync()
}
