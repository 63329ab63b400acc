package training

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"mlops-pipeline/internal/config"
	"mlops-pipeline/internal/dataset"
)

const SelectionFile = "selection.json"

// Trainer loads the train and test partitions and runs model selection on
// them.
type Trainer struct {
	config   config.ModelTrainerConfig
	selector *Selector
	logger   *slog.Logger
}

func NewTrainer(cfg config.ModelTrainerConfig, selector *Selector) *Trainer {
	return &Trainer{config: cfg, selector: selector.WithBestModelName(cfg.ModelName), logger: slog.Default()}
}

func (t *Trainer) WithLogger(logger *slog.Logger) *Trainer {
	t.logger = logger
	return t
}

func loadXY(path, target string) ([][]float64, []float64, error) {
	frame, err := dataset.ReadCSV(path)
	if err != nil {
		return nil, nil, err
	}
	X, y, _, err := frame.FeaturesTarget(target)
	if err != nil {
		return nil, nil, fmt.Errorf("error splitting %s into features and target: %w", path, err)
	}
	return X, y, nil
}

func (t *Trainer) Run(ctx context.Context) (Selection, error) {
	t.logger.Info("loading training and test data", "train", t.config.TrainDataPath, "test", t.config.TestDataPath)

	xTrain, yTrain, err := loadXY(t.config.TrainDataPath, t.config.TargetColumn)
	if err != nil {
		return Selection{}, err
	}
	xTest, yTest, err := loadXY(t.config.TestDataPath, t.config.TargetColumn)
	if err != nil {
		return Selection{}, err
	}

	if err := os.MkdirAll(t.config.RootDir, 0755); err != nil {
		return Selection{}, fmt.Errorf("error creating %s: %w", t.config.RootDir, err)
	}

	selection, err := t.selector.Select(ctx, xTrain, yTrain, xTest, yTest)
	if err != nil {
		return Selection{}, err
	}

	if err := SaveSelection(filepath.Join(t.config.RootDir, SelectionFile), selection); err != nil {
		return Selection{}, err
	}

	if best, ok := selection.Best(); ok {
		t.logger.Info("model training completed", "best_model", best.ID, "score", best.Score)
	}
	return selection, nil
}
