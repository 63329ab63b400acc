package transform

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"mlops-pipeline/internal/config"
	"mlops-pipeline/internal/dataset"
	"mlops-pipeline/internal/validation"
)

var ErrValidationFailed = errors.New("data validation did not succeed")

const (
	TrainFile = "train.csv"
	TestFile  = "test.csv"
)

type Transformer struct {
	config config.DataTransformationConfig
	logger *slog.Logger
}

func NewTransformer(cfg config.DataTransformationConfig) *Transformer {
	return &Transformer{config: cfg, logger: slog.Default()}
}

func (t *Transformer) WithLogger(logger *slog.Logger) *Transformer {
	t.logger = logger
	return t
}

// Run splits the validated data into train and test partitions and returns
// their paths. It refuses to run unless the last validation succeeded.
func (t *Transformer) Run() (string, string, error) {
	status, err := validation.ReadStatus(t.config.StatusFile)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if strings.TrimSpace(status) != validation.StatusSuccess {
		return "", "", fmt.Errorf("%w: status is '%s'", ErrValidationFailed, status)
	}

	t.logger.Info("data transformation started", "data", t.config.DataPath)

	frame, err := dataset.ReadCSV(t.config.DataPath)
	if err != nil {
		return "", "", err
	}

	train, test, err := frame.Split(t.config.TestSize, t.config.RandomState)
	if err != nil {
		return "", "", err
	}
	t.logger.Info("split data", "train_rows", train.Len(), "test_rows", test.Len(), "columns", len(frame.Columns()))

	if err := os.MkdirAll(t.config.RootDir, 0755); err != nil {
		return "", "", fmt.Errorf("error creating %s: %w", t.config.RootDir, err)
	}

	trainPath := filepath.Join(t.config.RootDir, TrainFile)
	testPath := filepath.Join(t.config.RootDir, TestFile)
	if err := train.WriteCSV(trainPath); err != nil {
		return "", "", err
	}
	if err := test.WriteCSV(testPath); err != nil {
		return "", "", err
	}

	t.logger.Info("transformed data saved", "dir", t.config.RootDir)
	return trainPath, testPath, nil
}
