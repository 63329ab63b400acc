package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"mlops-pipeline/cmd"
	"mlops-pipeline/internal/database"
	"mlops-pipeline/internal/messaging"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL" envDefault:"artifacts/pipeline.db"`

	cmd.PipelineFiles
	cmd.StorageConfig
	cmd.TrackingConfig
	cmd.LogConfig
}

// Runs every stage once in this process and exits non-zero if any stage
// fails.
func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}
	logger := cfg.Logger()

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	ctx := context.Background()
	queue := messaging.NewInMemoryQueue()
	run, err := messaging.SubmitRun(ctx, db, queue, "cli")
	if err != nil {
		log.Fatalf("Failed to create pipeline run: %v", err)
	}
	queue.Close()

	// The provider also serves s3:// sources, so it is set even when no
	// artifact bucket is.
	worker := messaging.NewWorker(db, queue, cfg.Paths()).
		WithStorage(cfg.StorageConfig.Provider(), cfg.ArtifactBucket).
		WithSink(cfg.TrackingConfig.Sink()).
		WithLogger(logger)

	slog.Info("starting pipeline run", "run_id", run.Id)
	worker.Start()

	result, err := database.GetPipelineRun(ctx, db, run.Id)
	if err != nil {
		log.Fatalf("Failed to load pipeline run: %v", err)
	}
	if result.Status != database.JobCompleted {
		slog.Error("pipeline run failed", "run_id", run.Id, "status", result.Status, "error", result.Error.String)
		os.Exit(1)
	}
	slog.Info("pipeline run completed", "run_id", run.Id)
}
