package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"mlops-pipeline/cmd"
	"mlops-pipeline/internal/api"
	"mlops-pipeline/internal/database"
	"mlops-pipeline/internal/messaging"
	"mlops-pipeline/internal/storage"

	"github.com/caarlos0/env/v11"
	"gorm.io/gorm"
)

// Config for running the API and a worker in one process with sqlite, local
// disk storage and an in-memory queue.
type Config struct {
	Root string `env:"ROOT" envDefault:"./mlops-pipeline"`
	Port int    `env:"PORT" envDefault:"3001"`

	cmd.PipelineFiles
	cmd.TrackingConfig
}

const artifactBucket = "artifacts"

// openLogFile tees the standard logger, and with it the default slog
// handler, into ROOT/backend.log.
func openLogFile(root string) *os.File {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	f, err := os.OpenFile(filepath.Join(root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	log.SetOutput(io.MultiWriter(f, os.Stderr))
	return f
}

// createQueue refills the in-memory queue with runs that were still queued
// when the previous process exited.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	queue := messaging.NewInMemoryQueue()

	n, err := messaging.RequeuePending(context.Background(), db, queue)
	if err != nil {
		log.Fatalf("failed to requeue pending runs: %v", err)
	}
	if n > 0 {
		slog.Info("requeued pending pipeline runs", "count", n)
	}
	return queue
}

func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating root directory %s: %v", cfg.Root, err)
	}
	logFile := openLogFile(cfg.Root)
	defer logFile.Close()

	slog.Info("starting local backend", "root", cfg.Root, "port", cfg.Port)

	db, err := database.NewDatabase(filepath.Join(cfg.Root, "db", "pipeline.db"))
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	provider := storage.NewLocalProvider(filepath.Join(cfg.Root, "storage"))
	queue := createQueue(db)

	worker := messaging.NewWorker(db, queue, cfg.Paths()).
		WithStorage(provider, artifactBucket).
		WithSink(cfg.TrackingConfig.Sink())
	go worker.Start()

	service := api.NewBackendService(db, provider, queue, artifactBucket)
	cmd.Serve(cmd.NewRouter(service, []string{"*"}), cfg.Port, worker.Stop, queue.Close)
}
