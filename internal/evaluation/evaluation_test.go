package evaluation_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mlops-pipeline/internal/config"
	"mlops-pipeline/internal/estimator"
	"mlops-pipeline/internal/evaluation"
	"mlops-pipeline/internal/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	runs []tracking.Run
	err  error
	// metricsOnDisk records whether the metrics file existed when the sink
	// was called.
	metricsOnDisk bool
	metricsPath   string
}

func (m *memorySink) LogRun(_ context.Context, run tracking.Run) error {
	_, err := os.Stat(m.metricsPath)
	m.metricsOnDisk = err == nil
	m.runs = append(m.runs, run)
	return m.err
}

// writeLinear writes rows of y = 2a - 3b + 1 and a model that predicts it
// exactly.
func writeLinear(t *testing.T, dir string) config.ModelEvaluationConfig {
	var sb strings.Builder
	sb.WriteString("a,b,y\n")
	for i := range 10 {
		a, b := i, (i*7)%5
		fmt.Fprintf(&sb, "%d,%d,%d\n", a, b, 2*a-3*b+1)
	}
	testPath := filepath.Join(dir, "test.csv")
	require.NoError(t, os.WriteFile(testPath, []byte(sb.String()), 0644))

	modelPath := filepath.Join(dir, "best_model.json")
	model := &estimator.ElasticNet{Coef: []float64{2, -3}, Intercept: 1}
	require.NoError(t, estimator.Save(modelPath, "elasticnet", model))

	return config.ModelEvaluationConfig{
		RootDir:        filepath.Join(dir, "model_evaluation"),
		TestDataPath:   testPath,
		ModelPath:      modelPath,
		MetricFileName: filepath.Join(dir, "model_evaluation", "metrics.json"),
		TargetColumn:   "y",
		Params:         map[string]string{"n_iter": "10", "scoring": "r2", "random_state": "42"},
	}
}

func TestEvaluatePerfectPredictions(t *testing.T) {
	dir := t.TempDir()
	cfg := writeLinear(t, dir)
	sink := &memorySink{metricsPath: cfg.MetricFileName}

	evaluator := evaluation.NewEvaluator(cfg, sink).WithExperiment("model_evaluation_abc123")
	metrics, err := evaluator.Evaluate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0.0, metrics.MAE)
	assert.Equal(t, 0.0, metrics.MSE)
	assert.Equal(t, 0.0, metrics.RMSE)
	assert.Equal(t, 1.0, metrics.R2Score)

	data, err := os.ReadFile(cfg.MetricFileName)
	require.NoError(t, err)
	assert.Equal(t, "{\n    \"MAE\": 0,\n    \"MSE\": 0,\n    \"RMSE\": 0,\n    \"R2_Score\": 1\n}", string(data))

	original, err := os.ReadFile(cfg.ModelPath)
	require.NoError(t, err)
	copied, err := os.ReadFile(filepath.Join(cfg.RootDir, "model_artifacts", "model.json"))
	require.NoError(t, err)
	assert.Equal(t, original, copied)

	require.Len(t, sink.runs, 1)
	assert.True(t, sink.metricsOnDisk)
	run := sink.runs[0]
	assert.Equal(t, "model_evaluation_abc123", run.Experiment)
	assert.Equal(t, "model_evaluation", run.Name)
	assert.Equal(t, "10", run.Params["n_iter"])
	assert.Equal(t, "elasticnet", run.Params["model_name"])
	assert.Equal(t, "1", run.Params["model.alpha"])
	assert.Equal(t, map[string]float64{"MAE": 0, "MSE": 0, "RMSE": 0, "R2_Score": 1}, run.Metrics)
}

func TestEvaluateSinkFailureIsWarning(t *testing.T) {
	dir := t.TempDir()
	cfg := writeLinear(t, dir)
	sink := &memorySink{metricsPath: cfg.MetricFileName, err: tracking.ErrSinkUnavailable}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	metrics, err := evaluation.NewEvaluator(cfg, sink).WithLogger(logger).Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, metrics.R2Score)
	assert.FileExists(t, cfg.MetricFileName)
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestEvaluateMissingTarget(t *testing.T) {
	dir := t.TempDir()
	cfg := writeLinear(t, dir)
	cfg.TargetColumn = "price"

	_, err := evaluation.NewEvaluator(cfg, nil).Evaluate(context.Background())
	assert.ErrorIs(t, err, evaluation.ErrMissingColumn)
	assert.NoFileExists(t, cfg.MetricFileName)
}

func TestEvaluateMissingModel(t *testing.T) {
	dir := t.TempDir()
	cfg := writeLinear(t, dir)
	cfg.ModelPath = filepath.Join(dir, "absent.json")

	sink := &memorySink{metricsPath: cfg.MetricFileName}
	_, err := evaluation.NewEvaluator(cfg, sink).Evaluate(context.Background())
	assert.ErrorIs(t, err, evaluation.ErrModelNotFound)
	assert.Empty(t, sink.runs)
}

func TestComputeDerivesRMSE(t *testing.T) {
	m := evaluation.Compute([]float64{1, 2, 3, 4}, []float64{2, 2, 3, 6})
	assert.InDelta(t, 0.75, m.MAE, 1e-12)
	assert.InDelta(t, 1.25, m.MSE, 1e-12)
	assert.InDelta(t, 1.118033988749895, m.RMSE, 1e-12)
	assert.InDelta(t, 0.0, m.R2Score, 1e-12)
}

func TestComputeConstantTarget(t *testing.T) {
	assert.Equal(t, 1.0, evaluation.Compute([]float64{3, 3}, []float64{3, 3}).R2Score)
	assert.Equal(t, 0.0, evaluation.Compute([]float64{3, 3}, []float64{3, 4}).R2Score)
}
