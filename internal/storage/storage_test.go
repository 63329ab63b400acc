package storage_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"mlops-pipeline/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseS3URI(t *testing.T) {
	bucket, key, ok := storage.ParseS3URI("s3://datasets/housing/data.zip")
	require.True(t, ok)
	assert.Equal(t, "datasets", bucket)
	assert.Equal(t, "housing/data.zip", key)

	for _, uri := range []string{"https://example.com/data.zip", "s3://bucket", "s3:///key", "data.zip"} {
		_, _, ok := storage.ParseS3URI(uri)
		assert.False(t, ok, uri)
	}
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	provider := storage.NewLocalProvider(t.TempDir())

	require.NoError(t, provider.CreateBucket(ctx, "artifacts"))
	require.NoError(t, provider.PutObject(ctx, "artifacts", "run/a.txt", bytes.NewReader([]byte("a"))))
	require.NoError(t, provider.PutObject(ctx, "artifacts", "run/nested/b.txt", bytes.NewReader([]byte("bb"))))
	require.NoError(t, provider.PutObject(ctx, "artifacts", "other/c.txt", bytes.NewReader([]byte("c"))))

	data, err := provider.GetObject(ctx, "artifacts", "run/nested/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "bb", string(data))

	objects, err := provider.ListObjects(ctx, "artifacts", "run/")
	require.NoError(t, err)
	assert.Equal(t, []storage.Object{{Name: "run/a.txt", Size: 1}, {Name: "run/nested/b.txt", Size: 2}}, objects)

	dest := filepath.Join(t.TempDir(), "out", "a.txt")
	require.NoError(t, provider.DownloadObject(ctx, "artifacts", "run/a.txt", dest))
	data, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))

	assert.ErrorIs(t, provider.DownloadObject(ctx, "artifacts", "missing.txt", dest), storage.ErrObjectNotFound)
	_, err = provider.GetObject(ctx, "artifacts", "missing.txt")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	objects, err = provider.ListObjects(ctx, "no-such-bucket", "")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestLocalProviderRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	provider := storage.NewLocalProvider(filepath.Join(dir, "store"))

	for _, key := range []string{"../outside.txt", "a/../../outside.txt", "/etc/passwd", ""} {
		err := provider.PutObject(ctx, "artifacts", key, bytes.NewReader([]byte("x")))
		assert.ErrorIs(t, err, storage.ErrInvalidKey, key)
	}
	assert.NoFileExists(t, filepath.Join(dir, "store", "outside.txt"))
}

func TestLocalProviderOverwrite(t *testing.T) {
	ctx := context.Background()
	provider := storage.NewLocalProvider(t.TempDir())

	require.NoError(t, provider.PutObject(ctx, "artifacts", "metrics.json", bytes.NewReader([]byte("old content"))))
	require.NoError(t, provider.PutObject(ctx, "artifacts", "metrics.json", bytes.NewReader([]byte("new"))))

	data, err := provider.GetObject(ctx, "artifacts", "metrics.json")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	objects, err := provider.ListObjects(ctx, "artifacts", "")
	require.NoError(t, err)
	assert.Equal(t, []storage.Object{{Name: "metrics.json", Size: 3}}, objects)
}

func TestUploadDir(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "model_trainer"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "status.txt"), []byte("success"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "model_trainer", "best_model.json"), []byte("{}"), 0644))

	provider := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, storage.UploadDir(ctx, provider, "artifacts", "run-1/", src))

	objects, err := provider.ListObjects(ctx, "artifacts", "run-1")
	require.NoError(t, err)
	assert.Equal(t, []storage.Object{
		{Name: "run-1/model_trainer/best_model.json", Size: 2},
		{Name: "run-1/status.txt", Size: 7},
	}, objects)
}
