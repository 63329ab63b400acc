package cmd

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"mlops-pipeline/internal/messaging"
	"mlops-pipeline/internal/storage"
	"mlops-pipeline/internal/tracking"

	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// PipelineFiles locates the configuration documents every run reads.
type PipelineFiles struct {
	ConfigPath string `env:"CONFIG_PATH" envDefault:"config/config.yaml"`
	ParamsPath string `env:"PARAMS_PATH" envDefault:"params.yaml"`
	SchemaPath string `env:"SCHEMA_PATH" envDefault:"schema.yaml"`
}

func (f PipelineFiles) Paths() messaging.ConfigPaths {
	return messaging.ConfigPaths{Config: f.ConfigPath, Params: f.ParamsPath, Schema: f.SchemaPath}
}

// StorageConfig selects the object store. LOCAL_STORAGE_DIR takes precedence
// over S3.
type StorageConfig struct {
	LocalStorageDir   string `env:"LOCAL_STORAGE_DIR"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	ArtifactBucket    string `env:"ARTIFACT_BUCKET"`
}

func (c StorageConfig) Provider() storage.Provider {
	if c.LocalStorageDir != "" {
		slog.Info("using local storage", "dir", c.LocalStorageDir)
		return storage.NewLocalProvider(c.LocalStorageDir)
	}

	provider, err := storage.NewS3Provider(&storage.S3ProviderConfig{
		S3EndpointURL:     c.S3EndpointURL,
		S3AccessKeyID:     c.S3AccessKeyID,
		S3SecretAccessKey: c.S3SecretAccessKey,
		S3Region:          c.S3Region,
	})
	if err != nil {
		log.Fatalf("Failed to create S3 client: %v", err)
	}
	slog.Info("using s3 storage", "endpoint", c.S3EndpointURL, "region", c.S3Region)
	return provider
}

type TrackingConfig struct {
	MLflowTrackingURI string        `env:"MLFLOW_TRACKING_URI"`
	MLflowUsername    string        `env:"MLFLOW_TRACKING_USERNAME"`
	MLflowPassword    string        `env:"MLFLOW_TRACKING_PASSWORD"`
	MLflowTimeout     time.Duration `env:"MLFLOW_TIMEOUT" envDefault:"30s"`
}

// Sink returns the MLflow sink, or nil when no tracking server is set.
func (c TrackingConfig) Sink() tracking.Sink {
	if c.MLflowTrackingURI == "" {
		return nil
	}
	slog.Info("logging runs to mlflow", "tracking_uri", c.MLflowTrackingURI)
	return tracking.NewMLflowSink(c.MLflowTrackingURI,
		tracking.WithBasicAuth(c.MLflowUsername, c.MLflowPassword),
		tracking.WithTimeout(c.MLflowTimeout),
	)
}

type LogConfig struct {
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
}

// Logger installs a text handler at the configured level as the default
// logger.
func (c LogConfig) Logger() *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: c.LogLevel}))
	slog.SetDefault(logger)
	return logger
}
