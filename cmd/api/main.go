package main

import (
	"log"
	"log/slog"

	"mlops-pipeline/cmd"
	"mlops-pipeline/internal/api"
	"mlops-pipeline/internal/database"
	"mlops-pipeline/internal/messaging"
	"mlops-pipeline/internal/storage"

	"github.com/caarlos0/env/v11"
)

type APIConfig struct {
	DatabaseURL    string   `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL    string   `env:"RABBITMQ_URL,notEmpty,required"`
	APIPort        int      `env:"API_PORT" envDefault:"8001"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	cmd.StorageConfig
	cmd.LogConfig
}

func main() {
	cmd.LoadEnvFile()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}
	cfg.Logger()

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}

	// Artifact listing is only served when runs are published somewhere.
	var provider storage.Provider
	if cfg.ArtifactBucket != "" {
		provider = cfg.StorageConfig.Provider()
	} else {
		slog.Info("ARTIFACT_BUCKET not set, artifact listing disabled")
	}

	service := api.NewBackendService(db, provider, publisher, cfg.ArtifactBucket)
	cmd.Serve(cmd.NewRouter(service, cfg.AllowedOrigins), cfg.APIPort, publisher.Close)
}
