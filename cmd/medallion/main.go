package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	corecfg "github.com/preethamsamatham/medallion/internal/core/config"
	"github.com/preethamsamatham/medallion/internal/core/storage/postgres"
	"github.com/preethamsamatham/medallion/internal/gold"
	"github.com/preethamsamatham/medallion/internal/ingestion"
	"github.com/preethamsamatham/medallion/internal/migrations"
	"github.com/preethamsamatham/medallion/internal/pipeline"
	"github.com/preethamsamatham/medallion/internal/quality"
	"github.com/preethamsamatham/medallion/internal/server"
	"github.com/preethamsamatham/medallion/internal/silver"
)

func main() {
	configPath := flag.String("config", "medallion.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	pollInterval, err := cfg.Pipeline.PollIntervalDuration()
	if err != nil {
		slog.Error("Invalid pipeline poll interval", "value", cfg.Pipeline.PollInterval, "error", err)
		os.Exit(1)
	}
	targetLag, err := cfg.Pipeline.TargetLagDuration()
	if err != nil {
		slog.Error("Invalid pipeline target lag", "value", cfg.Pipeline.TargetLag, "error", err)
		os.Exit(1)
	}

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	if err := dbAdapter.ValidateSchema(); err != nil {
		slog.Error("Schema validation failed", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Layer Stores
	bronzeStore := postgres.NewBronzeAdapter(dbAdapter.DB())
	silverStore := postgres.NewSilverAdapter(dbAdapter.DB())
	goldStore := postgres.NewGoldAdapter(dbAdapter.DB())
	auditStore := postgres.NewAuditAdapter(dbAdapter.DB())
	checkStore := postgres.NewQualityAdapter(dbAdapter.DB())

	// 4. Initialize Pipeline Stages
	loader := silver.NewLoader(
		bronzeStore,
		silverStore,
		cfg.Pipeline.Consumer,
		cfg.Pipeline.SourceObject,
		cfg.Pipeline.BatchSize,
	)
	materializer := gold.NewMaterializer(silverStore, goldStore)

	rules, err := quality.LoadRules(cfg.Quality.RuleDir)
	if err != nil {
		slog.Error("Failed to load quality rules", "error", err)
		os.Exit(1)
	}
	checker := quality.NewChecker(checkStore, auditStore, rules, cfg.Quality.SampleLimit)
	slog.Info("Quality rules loaded", "rule_count", len(rules), "rule_dir", cfg.Quality.RuleDir)

	runner := pipeline.NewRunner(loader, materializer, checker, auditStore, cfg.Pipeline.SourceObject)

	scheduler := pipeline.NewScheduler(
		runner,
		bronzeStore,
		goldStore,
		cfg.Pipeline.Consumer,
		pollInterval,
		targetLag,
		cfg.Pipeline.BatchSize,
	)

	// 5. Initialize HTTP Services
	ingestionSvc := ingestion.NewService(bronzeStore, cfg.Server.MaxBodySizeMB)
	pipelineAPI := pipeline.NewAPI(runner, goldStore, auditStore)

	// 6. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter, cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	pipelineAPI.RegisterRoutes(srv.Engine)

	// 7. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Pipeline.Enabled {
		go func() {
			if err := scheduler.Start(ctx); err != nil {
				slog.Error("Scheduler stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Pipeline scheduler disabled by config; stages run on demand only")
	}

	// Signal handler → triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
