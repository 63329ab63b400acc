package integrationtests

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mlops-pipeline/internal/storage"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
)

func skipShort(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

func setupRabbitMQContainer(t *testing.T, ctx context.Context) string {
	container, err := rabbitmq.Run(ctx, "rabbitmq:3.12.11-management-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "failed to start rabbitmq container")

	url, err := container.AmqpURL(ctx)
	require.NoError(t, err, "failed to get rabbitmq amqp url")
	return url
}

const (
	minioUsername = "admin"
	minioPassword = "password"
)

// setupS3Provider starts MinIO and returns a provider pointed at it.
func setupS3Provider(t *testing.T, ctx context.Context) *storage.S3Provider {
	container, err := minio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z",
		minio.WithUsername(minioUsername),
		minio.WithPassword(minioPassword),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "failed to start minio container")

	endpoint, err := container.ConnectionString(ctx)
	require.NoError(t, err, "failed to get minio endpoint")

	provider, err := storage.NewS3Provider(&storage.S3ProviderConfig{
		S3EndpointURL:     "http://" + endpoint,
		S3AccessKeyID:     minioUsername,
		S3SecretAccessKey: minioPassword,
		S3Region:          "us-east-1",
	})
	require.NoError(t, err)
	return provider
}

// setupPostgresContainer returns a connection string accepted by
// database.NewDatabase.
func setupPostgresContainer(t *testing.T, ctx context.Context) string {
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("pipeline"),
		postgres.WithUsername("pipeline"),
		postgres.WithPassword("pipeline"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "failed to start postgres container")

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get postgres connection string")
	return url
}

func zipArchive(t *testing.T, name, content string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create(name)
	require.NoError(t, err)
	_, err = f.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func httpRequest(api http.Handler, method, endpoint string, payload any, dest any) error {
	var body io.Reader
	if payload != nil {
		requestBody, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(requestBody)
	}

	req := httptest.NewRequest(method, endpoint, body)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		return fmt.Errorf("expected status code 200, got %d: %v", rr.Code, rr.Body.String())
	}

	if dest != nil {
		if err := json.Unmarshal(rr.Body.Bytes(), dest); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
