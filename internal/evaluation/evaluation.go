package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"mlops-pipeline/internal/config"
	"mlops-pipeline/internal/dataset"
	"mlops-pipeline/internal/estimator"
	"mlops-pipeline/internal/tracking"
)

var (
	ErrMissingColumn = errors.New("target column not found in test data")
	ErrModelNotFound = errors.New("model file not found")
)

const (
	RunName          = "model_evaluation"
	ArtifactsDir     = "model_artifacts"
	ArtifactFileName = "model.json"
)

type Metrics struct {
	MAE     float64 `json:"MAE"`
	MSE     float64 `json:"MSE"`
	RMSE    float64 `json:"RMSE"`
	R2Score float64 `json:"R2_Score"`
}

// Compute scores predictions against the true target. RMSE is always
// derived from MSE rather than from the residuals.
func Compute(yTrue, yPred []float64) Metrics {
	m := Metrics{
		MAE:     estimator.MeanAbsoluteError(yTrue, yPred),
		MSE:     estimator.MeanSquaredError(yTrue, yPred),
		R2Score: estimator.R2Score(yTrue, yPred),
	}
	m.RMSE = math.Sqrt(m.MSE)
	return m
}

func (m Metrics) Map() map[string]float64 {
	return map[string]float64{"MAE": m.MAE, "MSE": m.MSE, "RMSE": m.RMSE, "R2_Score": m.R2Score}
}

type Evaluator struct {
	config     config.ModelEvaluationConfig
	sink       tracking.Sink
	experiment string
	logger     *slog.Logger
}

func NewEvaluator(cfg config.ModelEvaluationConfig, sink tracking.Sink) *Evaluator {
	if sink == nil {
		sink = tracking.NopSink{}
	}
	return &Evaluator{
		config:     cfg,
		sink:       sink,
		experiment: tracking.ExperimentName(RunName),
		logger:     slog.Default(),
	}
}

func (e *Evaluator) WithLogger(logger *slog.Logger) *Evaluator {
	e.logger = logger
	return e
}

func (e *Evaluator) WithExperiment(name string) *Evaluator {
	e.experiment = name
	return e
}

func (e *Evaluator) Experiment() string {
	return e.experiment
}

// Evaluate scores the trained model on the test partition, writes the
// metrics file and a copy of the model, and only then reports to the
// tracking sink.
func (e *Evaluator) Evaluate(ctx context.Context) (Metrics, error) {
	test, err := dataset.ReadCSV(e.config.TestDataPath)
	if err != nil {
		return Metrics{}, err
	}
	if _, ok := test.Column(e.config.TargetColumn); !ok {
		return Metrics{}, fmt.Errorf("%w: '%s'", ErrMissingColumn, e.config.TargetColumn)
	}
	if test.Len() == 0 {
		return Metrics{}, fmt.Errorf("%w: test data %s has no rows", dataset.ErrDataAccess, e.config.TestDataPath)
	}

	if _, err := os.Stat(e.config.ModelPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Metrics{}, fmt.Errorf("%w: %s", ErrModelNotFound, e.config.ModelPath)
		}
		return Metrics{}, fmt.Errorf("error accessing model %s: %w", e.config.ModelPath, err)
	}
	model, err := estimator.Load(e.config.ModelPath)
	if err != nil {
		return Metrics{}, err
	}

	X, y, _, err := test.FeaturesTarget(e.config.TargetColumn)
	if err != nil {
		return Metrics{}, err
	}
	pred, err := model.Estimator.Predict(X)
	if err != nil {
		return Metrics{}, fmt.Errorf("error predicting test data with %s: %w", model.Name, err)
	}

	metrics := Compute(y, pred)

	if err := e.writeMetrics(metrics); err != nil {
		return Metrics{}, err
	}
	artifact, err := e.copyModel()
	if err != nil {
		return Metrics{}, err
	}

	e.logger.Info("model evaluation metrics saved", "file", e.config.MetricFileName, "mae", metrics.MAE, "mse", metrics.MSE, "rmse", metrics.RMSE, "r2", metrics.R2Score)
	e.logger.Info("model saved locally", "path", artifact)

	tracking.Report(ctx, e.logger, e.sink, tracking.Run{
		Experiment: e.experiment,
		Name:       RunName,
		Params:     e.runParams(model),
		Metrics:    metrics.Map(),
	})

	return metrics, nil
}

func (e *Evaluator) writeMetrics(metrics Metrics) error {
	for name, v := range metrics.Map() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("metric %s is not finite", name)
		}
	}

	data, err := json.MarshalIndent(metrics, "", "    ")
	if err != nil {
		return fmt.Errorf("error encoding metrics: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(e.config.MetricFileName), 0755); err != nil {
		return fmt.Errorf("error creating metrics directory: %w", err)
	}
	if err := os.WriteFile(e.config.MetricFileName, data, 0644); err != nil {
		return fmt.Errorf("error writing metrics to %s: %w", e.config.MetricFileName, err)
	}
	return nil
}

func (e *Evaluator) copyModel() (string, error) {
	dir := filepath.Join(e.config.RootDir, ArtifactsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating %s: %w", dir, err)
	}

	data, err := os.ReadFile(e.config.ModelPath)
	if err != nil {
		return "", fmt.Errorf("error reading model %s: %w", e.config.ModelPath, err)
	}
	path := filepath.Join(dir, ArtifactFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("error writing model artifact %s: %w", path, err)
	}
	return path, nil
}

// runParams merges the search settings with the hyperparameters of the
// evaluated model, the latter under a "model." prefix.
func (e *Evaluator) runParams(model estimator.Model) map[string]string {
	params := make(map[string]string, len(e.config.Params)+1)
	for k, v := range e.config.Params {
		params[k] = v
	}
	for k, v := range model.Estimator.Params() {
		params["model."+k] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	params["model_name"] = model.Name
	return params
}
