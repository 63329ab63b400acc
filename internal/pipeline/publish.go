package pipeline

import (
	"context"
	"log/slog"

	"mlops-pipeline/internal/storage"
)

// PublishArtifacts uploads the artifact root of a finished run under
// bucket/prefix.
func PublishArtifacts(ctx context.Context, provider storage.Provider, bucket, prefix, root string) error {
	if err := provider.CreateBucket(ctx, bucket); err != nil {
		return err
	}
	if err := storage.UploadDir(ctx, provider, bucket, prefix, root); err != nil {
		return err
	}
	slog.Info("published run artifacts", "bucket", bucket, "prefix", prefix, "root", root)
	return nil
}
