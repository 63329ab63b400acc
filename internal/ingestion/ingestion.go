package ingestion

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"mlops-pipeline/internal/config"
	"mlops-pipeline/internal/storage"

	"github.com/go-resty/resty/v2"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
)

var (
	ErrUnsupportedSource = errors.New("unsupported dataset source")
	ErrUnsafeArchive     = errors.New("archive entry escapes destination")
)

// Ingestor fetches the raw dataset and unpacks it for validation.
type Ingestor struct {
	config   config.DataIngestionConfig
	client   *resty.Client
	storage  storage.Provider
	progress io.Writer
	logger   *slog.Logger
}

func NewIngestor(cfg config.DataIngestionConfig, provider storage.Provider) *Ingestor {
	return &Ingestor{
		config:   cfg,
		client:   resty.New(),
		storage:  provider,
		progress: os.Stderr,
		logger:   slog.Default(),
	}
}

func (i *Ingestor) WithLogger(logger *slog.Logger) *Ingestor {
	i.logger = logger
	return i
}

// WithProgressWriter sets where the download progress bar is drawn.
func (i *Ingestor) WithProgressWriter(w io.Writer) *Ingestor {
	i.progress = w
	return i
}

func (i *Ingestor) Run(ctx context.Context) error {
	if err := i.Download(ctx); err != nil {
		return err
	}
	return i.Extract()
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Download fetches the source into the local data file unless it is
// already present.
func (i *Ingestor) Download(ctx context.Context) error {
	dest := i.config.LocalDataFile
	if _, err := os.Stat(dest); err == nil {
		i.logger.Info("file already exists", "path", dest, "size", fileSize(dest))
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("error creating %s: %w", filepath.Dir(dest), err)
	}

	i.logger.Info("downloading file", "source", i.config.SourceURL, "path", dest)

	var err error
	source := i.config.SourceURL
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		err = i.downloadHTTP(ctx, source, dest)
	case strings.HasPrefix(source, "s3://"):
		err = i.downloadS3(ctx, source, dest)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedSource, source)
	}
	if err != nil {
		i.logger.Error("failed to download file", "source", source, "error", err)
		return err
	}

	i.logger.Info("file downloaded", "path", dest, "size", fileSize(dest))
	return nil
}

func (i *Ingestor) downloadHTTP(ctx context.Context, url, dest string) error {
	res, err := i.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return fmt.Errorf("error requesting %s: %w", url, err)
	}
	body := res.RawBody()
	defer body.Close()

	if !res.IsSuccess() {
		return fmt.Errorf("error downloading %s: status %d", url, res.StatusCode())
	}

	// Write to a temporary file first so an interrupted download is not
	// mistaken for a complete one on the next run.
	tmp := dest + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", tmp, err)
	}

	bar := progressbar.NewOptions64(res.RawResponse.ContentLength,
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionSetWriter(i.progress),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
	)

	_, copyErr := io.Copy(io.MultiWriter(file, bar), body)
	closeErr := file.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("error writing %s: %w", dest, err)
	}
	bar.Finish() //nolint:errcheck

	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("error moving download into place: %w", err)
	}
	return nil
}

func (i *Ingestor) downloadS3(ctx context.Context, uri, dest string) error {
	if i.storage == nil {
		return fmt.Errorf("%w: %s requires an object store", ErrUnsupportedSource, uri)
	}
	bucket, key, ok := storage.ParseS3URI(uri)
	if !ok {
		return fmt.Errorf("%w: malformed uri %s", ErrUnsupportedSource, uri)
	}
	return i.storage.DownloadObject(ctx, bucket, key, dest)
}

// Extract unpacks the local data file into the unzip directory. Archives
// are deleted once extraction succeeds; plain files are copied as is.
func (i *Ingestor) Extract() error {
	src, dir := i.config.LocalDataFile, i.config.UnzipDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating %s: %w", dir, err)
	}

	i.logger.Info("extracting file", "path", src, "dir", dir)

	archive := true
	var err error
	switch strings.ToLower(filepath.Ext(src)) {
	case ".zip":
		err = extractZip(src, dir)
	case ".xz":
		err = extractXz(src, filepath.Join(dir, strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))))
	default:
		archive = false
		err = copyFile(src, filepath.Join(dir, filepath.Base(src)))
	}
	if err != nil {
		i.logger.Error("error extracting file", "path", src, "error", err)
		return err
	}

	if archive {
		if err := os.Remove(src); err != nil {
			i.logger.Warn("could not delete archive", "path", src, "error", err)
		} else {
			i.logger.Info("deleted archive", "path", src)
		}
	}

	i.logger.Info("data ingestion completed", "dir", dir)
	return nil
}

func extractZip(src, dir string) error {
	reader, err := zip.OpenReader(src)
	if errors.Is(err, zip.ErrInsecurePath) {
		reader.Close()
		return fmt.Errorf("%w: %s: %w", ErrUnsafeArchive, src, err)
	}
	if err != nil {
		return fmt.Errorf("invalid zip file %s: %w", src, err)
	}
	defer reader.Close()

	root := filepath.Clean(dir) + string(os.PathSeparator)
	for _, f := range reader.File {
		target := filepath.Join(dir, f.Name)
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("%w: %s", ErrUnsafeArchive, f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}

		if err := extractZipEntry(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("error opening %s in archive: %w", f.Name, err)
	}
	defer rc.Close()

	return writeFile(target, rc)
}

func extractXz(src, target string) error {
	file, err := os.Open(src)
	if err != nil {
		return err
	}
	defer file.Close()

	reader, err := xz.NewReader(file)
	if err != nil {
		return fmt.Errorf("invalid xz file %s: %w", src, err)
	}
	return writeFile(target, reader)
}

func copyFile(src, target string) error {
	if filepath.Clean(src) == filepath.Clean(target) {
		return nil
	}
	file, err := os.Open(src)
	if err != nil {
		return err
	}
	defer file.Close()
	return writeFile(target, file)
}

func writeFile(target string, r io.Reader) error {
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("error writing %s: %w", target, err)
	}
	return out.Close()
}
