package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidKey     = errors.New("invalid object key")
)

// Files are written under this suffix and renamed into place once complete.
const partialSuffix = ".part"

type Object struct {
	Name string
	Size int64
}

// Provider is the object store used for remote datasets and published
// run artifacts.
type Provider interface {
	CreateBucket(ctx context.Context, bucket string) error

	GetObject(ctx context.Context, bucket, key string) ([]byte, error)

	DownloadObject(ctx context.Context, bucket, key, filename string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)
}

// ParseS3URI splits s3://bucket/key into its bucket and key.
func ParseS3URI(uri string) (string, string, bool) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", false
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// UploadDir copies every file under src to bucket, keyed by prefix joined
// with its slash separated path relative to src.
func UploadDir(ctx context.Context, provider Provider, bucket, prefix, src string) error {
	prefix = strings.TrimSuffix(prefix, "/")

	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk directory %s: %w", src, err)
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" {
			key = prefix + "/" + key
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		return provider.PutObject(ctx, bucket, key, file)
	})
	if err != nil {
		return fmt.Errorf("error uploading directory %s to %s/%s: %w", src, bucket, prefix, err)
	}
	return nil
}

func writeAtomic(filename string, data io.Reader) (err error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("error creating directory for %s: %w", filename, err)
	}

	tmp := filename + partialSuffix
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", tmp, err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp) //nolint:errcheck
		}
	}()

	_, copyErr := io.Copy(file, data)
	if err := errors.Join(copyErr, file.Close()); err != nil {
		return fmt.Errorf("error writing %s: %w", filename, err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("error moving %s into place: %w", filename, err)
	}
	return nil
}
