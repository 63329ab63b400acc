package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"mlops-pipeline/cmd"
	"mlops-pipeline/internal/database"
	"mlops-pipeline/internal/messaging"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

type WorkerConfig struct {
	DatabaseURL string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL string `env:"RABBITMQ_URL,notEmpty,required"`
	// PipelineSchedule is a standard cron expression. Runs are submitted with
	// the "cron" trigger on every tick.
	PipelineSchedule string `env:"PIPELINE_SCHEDULE"`

	cmd.PipelineFiles
	cmd.StorageConfig
	cmd.TrackingConfig
	cmd.LogConfig
}

func startScheduler(schedule string, db *gorm.DB, publisher messaging.Publisher) *cron.Cron {
	scheduler := cron.New()
	_, err := scheduler.AddFunc(schedule, func() {
		run, err := messaging.SubmitRun(context.Background(), db, publisher, "cron")
		if err != nil {
			slog.Error("error submitting scheduled pipeline run", "error", err)
			return
		}
		slog.Info("submitted scheduled pipeline run", "run_id", run.Id)
	})
	if err != nil {
		log.Fatalf("invalid PIPELINE_SCHEDULE '%s': %v", schedule, err)
	}
	scheduler.Start()
	slog.Info("pipeline schedule started", "schedule", schedule)
	return scheduler
}

func main() {
	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}
	logger := cfg.Logger()

	slog.Info("starting worker", "config", cfg.ConfigPath, "params", cfg.ParamsPath, "schema", cfg.SchemaPath)

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	worker := messaging.NewWorker(db, receiver, cfg.Paths()).
		WithStorage(cfg.StorageConfig.Provider(), cfg.ArtifactBucket).
		WithSink(cfg.TrackingConfig.Sink()).
		WithLogger(logger)

	var scheduler *cron.Cron
	if cfg.PipelineSchedule != "" {
		scheduler = startScheduler(cfg.PipelineSchedule, db, publisher)
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutdown signal received")

		if scheduler != nil {
			<-scheduler.Stop().Done()
		}
		worker.Stop()
	}()

	worker.Start()

	slog.Info("worker stopped")
}
