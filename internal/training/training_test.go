package training_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"mlops-pipeline/internal/config"
	"mlops-pipeline/internal/estimator"
	"mlops-pipeline/internal/training"
	"mlops-pipeline/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// meanModel predicts the training mean and records every parameter set it
// was built with.
type meanModel struct {
	params estimator.Params
	Mean   float64 `json:"mean"`
}

func (m *meanModel) Kind() string { return "mean" }

func (m *meanModel) Fit(X [][]float64, y []float64) error {
	var sum float64
	for _, v := range y {
		sum += v
	}
	m.Mean = sum / float64(len(y))
	return nil
}

func (m *meanModel) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i := range out {
		out[i] = m.Mean
	}
	return out, nil
}

func (m *meanModel) Params() estimator.Params { return m.params }

type paramLog struct {
	mu   sync.Mutex
	seen map[string]int
}

func (l *paramLog) factory() estimator.Factory {
	return func(p estimator.Params) estimator.Estimator {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.seen == nil {
			l.seen = map[string]int{}
		}
		l.seen[fmt.Sprint(p)]++
		return &meanModel{params: p}
	}
}

type failing struct{ meanModel }

func (f *failing) Fit(X [][]float64, y []float64) error {
	return errors.New("singular matrix")
}

func failingFactory(p estimator.Params) estimator.Estimator { return &failing{} }

type panicking struct{ meanModel }

func (p *panicking) Fit(X [][]float64, y []float64) error {
	panic("index out of range")
}

func panickingFactory(p estimator.Params) estimator.Estimator { return &panicking{} }

func linear(n int) ([][]float64, []float64) {
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := range X {
		a, b := float64(i), float64((i*5)%7)
		X[i] = []float64{a, b}
		y[i] = 3*a + b
	}
	return X, y
}

var grid = estimator.Space{
	{Name: "p", Values: []float64{1, 2}},
	{Name: "q", Values: []float64{10, 20}},
}

func quietTuner() *training.Tuner {
	return training.NewTuner(42).WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
}

func TestTuneClampsIterations(t *testing.T) {
	X, y := linear(12)
	log := &paramLog{}
	candidate := training.Candidate{ID: "mean", Factory: log.factory(), Space: grid}

	result, err := quietTuner().Tune(context.Background(), candidate, grid, X, y, "r2", 50)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Explored)
	assert.Len(t, log.seen, 4)

	total := 0
	for _, n := range log.seen {
		total += n
	}
	assert.Equal(t, 4*training.Folds+1, total)
}

func TestTuneSamplesRequestedIterations(t *testing.T) {
	X, y := linear(12)
	log := &paramLog{}
	candidate := training.Candidate{ID: "mean", Factory: log.factory(), Space: grid}

	result, err := quietTuner().Tune(context.Background(), candidate, grid, X, y, "mse", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Explored)
	assert.LessOrEqual(t, len(log.seen), 2)
	assert.Contains(t, []float64{1, 2}, result.Params["p"])
}

func TestTuneEmptySpace(t *testing.T) {
	X, y := linear(9)
	log := &paramLog{}
	candidate := training.Candidate{ID: "mean", Factory: log.factory()}

	result, err := quietTuner().Tune(context.Background(), candidate, nil, X, y, "mae", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Explored)
	assert.Empty(t, result.Params)
}

func TestTunePicksBestCombination(t *testing.T) {
	X, y := linear(30)
	space := estimator.Space{{Name: "alpha", Values: []float64{1000, 0.0001}}}
	candidate := training.Candidate{ID: "elasticnet", Factory: estimator.NewElasticNet, Space: space}

	result, err := quietTuner().Tune(context.Background(), candidate, space, X, y, "r2", 10)
	require.NoError(t, err)
	assert.Equal(t, 0.0001, result.Params["alpha"])
	assert.Greater(t, result.CVScore, 0.9)
}

func TestTuneFitFailureAborts(t *testing.T) {
	X, y := linear(12)
	candidate := training.Candidate{ID: "broken", Factory: failingFactory, Space: grid}

	_, err := quietTuner().Tune(context.Background(), candidate, grid, X, y, "r2", 3)
	assert.ErrorIs(t, err, training.ErrSearchFailure)
	assert.ErrorContains(t, err, "singular matrix")
}

func TestTunePanickingFitAborts(t *testing.T) {
	X, y := linear(12)
	candidate := training.Candidate{ID: "broken", Factory: panickingFactory, Space: grid}

	_, err := quietTuner().Tune(context.Background(), candidate, grid, X, y, "r2", 3)
	assert.ErrorIs(t, err, training.ErrSearchFailure)
	assert.ErrorIs(t, err, utils.ErrTaskPanicked)
	assert.ErrorContains(t, err, "index out of range")
}

func TestTuneInvalidParamAborts(t *testing.T) {
	X, y := linear(12)
	space := estimator.Space{{Name: "l1_ratio", Values: []float64{0.5, 7}}}
	candidate := training.Candidate{ID: "elasticnet", Factory: estimator.NewElasticNet, Space: space}

	_, err := quietTuner().Tune(context.Background(), candidate, space, X, y, "r2", 2)
	assert.ErrorIs(t, err, training.ErrSearchFailure)
	assert.ErrorIs(t, err, estimator.ErrInvalidParam)
}

func TestTuneUnknownScorer(t *testing.T) {
	X, y := linear(12)
	candidate := training.Candidate{ID: "mean", Factory: (&paramLog{}).factory()}
	_, err := quietTuner().Tune(context.Background(), candidate, nil, X, y, "accuracy", 1)
	assert.ErrorIs(t, err, training.ErrUnknownScorer)
}

func TestTuneTooFewRows(t *testing.T) {
	X, y := linear(2)
	candidate := training.Candidate{ID: "mean", Factory: (&paramLog{}).factory()}
	_, err := quietTuner().Tune(context.Background(), candidate, nil, X, y, "r2", 1)
	assert.ErrorIs(t, err, training.ErrSearchFailure)
}

func TestRegistry(t *testing.T) {
	registry := training.DefaultRegistry()

	var ids []string
	for _, c := range registry.Candidates() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"elasticnet", "randomforest", "xgbregressor"}, ids)

	_, err := registry.Lookup("svm")
	assert.ErrorIs(t, err, training.ErrUnknownModel)

	_, err = training.LookupScorer("accuracy")
	assert.ErrorIs(t, err, training.ErrUnknownScorer)

	overridden, err := registry.WithSpaces([]config.ModelSpace{{Name: "randomforest", Space: estimator.Space{{Name: "n_estimators", Values: []float64{5}}}}})
	require.NoError(t, err)
	rf, err := overridden.Lookup("randomforest")
	require.NoError(t, err)
	assert.Equal(t, 1, rf.Space.Combinations())

	original, err := registry.Lookup("randomforest")
	require.NoError(t, err)
	assert.Equal(t, 36, original.Space.Combinations())

	_, err = registry.WithSpaces([]config.ModelSpace{{Name: "svm"}})
	assert.ErrorIs(t, err, training.ErrUnknownModel)

	_, err = training.NewRegistry(training.Candidate{ID: "a", Factory: failingFactory}, training.Candidate{ID: "a", Factory: failingFactory})
	assert.Error(t, err)
}

func TestScorerRanking(t *testing.T) {
	mse, err := training.LookupScorer("mse")
	require.NoError(t, err)
	assert.Equal(t, -4.0, mse.Rank(4))

	r2, err := training.LookupScorer("r2")
	require.NoError(t, err)
	assert.Equal(t, 0.5, r2.Rank(0.5))
}

func TestSelectorTieGoesToFirst(t *testing.T) {
	X, y := linear(12)
	registry, err := training.NewRegistry(
		training.Candidate{ID: "first", Factory: (&paramLog{}).factory(), Space: grid},
		training.Candidate{ID: "second", Factory: (&paramLog{}).factory(), Space: grid},
	)
	require.NoError(t, err)

	dir := t.TempDir()
	selector := training.NewSelector(registry, quietTuner(), "r2", 2, dir).WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	assert.Equal(t, training.StatePending, selector.State())

	selection, err := selector.Select(context.Background(), X, y, X, y)
	require.NoError(t, err)
	assert.Equal(t, training.StateDone, selector.State())

	scores := selection.Scores()
	require.Len(t, scores, 2)
	assert.Equal(t, scores[0].Score, scores[1].Score)

	best, ok := selection.Best()
	require.True(t, ok)
	assert.Equal(t, "first", best.ID)
}

func TestSelectorScenarioC(t *testing.T) {
	X, y := linear(30)
	xTest, yTest := X[:10], y[:10]

	registry, err := training.NewRegistry(
		training.Candidate{ID: "elasticnet", Factory: failingFactory, Space: estimator.Space{{Name: "alpha", Values: []float64{1}}}},
		training.Candidate{ID: "randomforest", Factory: estimator.NewRandomForest, Space: estimator.Space{
			{Name: "n_estimators", Values: []float64{5, 10}},
			{Name: "max_depth", Values: []float64{0, 3}},
		}},
		training.Candidate{ID: "xgbregressor", Factory: estimator.NewGradientBoosting, Space: estimator.Space{
			{Name: "n_estimators", Values: []float64{10, 20}},
			{Name: "learning_rate", Values: []float64{0.1, 0.3}},
		}},
	)
	require.NoError(t, err)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	dir := t.TempDir()

	selection, err := training.NewSelector(registry, quietTuner(), "r2", 3, dir).WithLogger(logger).Select(context.Background(), X, y, xTest, yTest)
	require.NoError(t, err)

	scores := selection.Scores()
	require.Len(t, scores, 2)
	assert.Equal(t, "randomforest", scores[0].ID)
	assert.Equal(t, "xgbregressor", scores[1].ID)

	assert.Equal(t, training.StateSkipped, selection.Outcomes[0].State)
	assert.Equal(t, 1, strings.Count(logs.String(), "level=WARN"))
	assert.Contains(t, logs.String(), "skipping model")

	expected := scores[0]
	if scores[1].Score > scores[0].Score {
		expected = scores[1]
	}
	best, ok := selection.Best()
	require.True(t, ok)
	assert.Equal(t, expected.ID, best.ID)

	assert.FileExists(t, filepath.Join(dir, "randomforest_model.json"))
	assert.FileExists(t, filepath.Join(dir, "xgbregressor_model.json"))
	assert.NoFileExists(t, filepath.Join(dir, "elasticnet_model.json"))
	assert.NoFileExists(t, filepath.Join(dir, "elasticnet_params.json"))

	name, params, err := training.LoadParams(filepath.Join(dir, "best_params.json"))
	require.NoError(t, err)
	assert.Equal(t, best.ID, name)
	assert.Equal(t, best.Params, params)

	loaded, err := estimator.Load(filepath.Join(dir, "best_model.json"))
	require.NoError(t, err)
	assert.Equal(t, best.ID, loaded.Name)
}

func TestParamsFileKeyOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.json")
	outcome := training.Outcome{ID: "elasticnet", Params: estimator.Params{"l1_ratio": 0.5, "alpha": 0.1}}
	require.NoError(t, training.SaveParams(path, outcome))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n    \"model_name\": \"elasticnet\",\n    \"alpha\": 0.1,\n    \"l1_ratio\": 0.5\n}", string(data))
}

func TestSelectorNoModelsTrained(t *testing.T) {
	X, y := linear(12)
	registry, err := training.NewRegistry(
		training.Candidate{ID: "a", Factory: failingFactory},
		training.Candidate{ID: "b", Factory: failingFactory},
	)
	require.NoError(t, err)

	var logs bytes.Buffer
	dir := t.TempDir()
	selection, err := training.NewSelector(registry, quietTuner(), "r2", 1, dir).
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))).
		Select(context.Background(), X, y, X, y)
	require.NoError(t, err)

	_, ok := selection.Best()
	assert.False(t, ok)
	assert.Empty(t, selection.Scores())
	assert.Contains(t, logs.String(), "no models trained")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSelectorSkipsPanickingCandidate(t *testing.T) {
	X, y := linear(12)
	registry, err := training.NewRegistry(
		training.Candidate{ID: "broken", Factory: panickingFactory, Space: grid},
		training.Candidate{ID: "mean", Factory: (&paramLog{}).factory(), Space: grid},
	)
	require.NoError(t, err)

	selection, err := training.NewSelector(registry, quietTuner(), "r2", 2, t.TempDir()).
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))).
		Select(context.Background(), X, y, X, y)
	require.NoError(t, err)

	assert.Equal(t, training.StateSkipped, selection.Outcomes[0].State)
	assert.ErrorIs(t, selection.Outcomes[0].Err, utils.ErrTaskPanicked)
	best, ok := selection.Best()
	require.True(t, ok)
	assert.Equal(t, "mean", best.ID)
}

func TestSelectorRemovesStaleArtifacts(t *testing.T) {
	X, y := linear(12)
	dir := t.TempDir()
	run := func(a, b estimator.Factory) training.Selection {
		registry, err := training.NewRegistry(
			training.Candidate{ID: "a", Factory: a, Space: grid},
			training.Candidate{ID: "b", Factory: b, Space: grid},
		)
		require.NoError(t, err)
		selection, err := training.NewSelector(registry, quietTuner(), "r2", 1, dir).
			WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))).
			Select(context.Background(), X, y, X, y)
		require.NoError(t, err)
		return selection
	}

	run((&paramLog{}).factory(), (&paramLog{}).factory())
	for _, name := range []string{"a_model.json", "a_params.json", "b_model.json", "b_params.json"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	selection := run((&paramLog{}).factory(), failingFactory)
	assert.Equal(t, training.StateSkipped, selection.Outcomes[1].State)
	assert.FileExists(t, filepath.Join(dir, "a_model.json"))
	assert.NoFileExists(t, filepath.Join(dir, "b_model.json"))
	assert.NoFileExists(t, filepath.Join(dir, "b_params.json"))

	run(failingFactory, failingFactory)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTrainerWritesSelection(t *testing.T) {
	dir := t.TempDir()
	var sb strings.Builder
	sb.WriteString("a,b,target\n")
	for i := range 15 {
		fmt.Fprintf(&sb, "%d,%d,%d\n", i, (i*3)%5, 2*i)
	}
	train := filepath.Join(dir, "train.csv")
	test := filepath.Join(dir, "test.csv")
	require.NoError(t, os.WriteFile(train, []byte(sb.String()), 0644))
	require.NoError(t, os.WriteFile(test, []byte(sb.String()), 0644))

	registry, err := training.NewRegistry(training.Candidate{ID: "mean", Factory: (&paramLog{}).factory(), Space: grid})
	require.NoError(t, err)

	cfg := config.ModelTrainerConfig{
		RootDir:       filepath.Join(dir, "model_trainer"),
		TrainDataPath: train,
		TestDataPath:  test,
		ModelName:     "model.json",
		TargetColumn:  "target",
	}
	selector := training.NewSelector(registry, quietTuner(), "mae", 2, cfg.RootDir)
	selection, err := training.NewTrainer(cfg, selector).Run(context.Background())
	require.NoError(t, err)

	best, ok := selection.Best()
	require.True(t, ok)
	assert.Equal(t, "mean", best.ID)
	assert.FileExists(t, filepath.Join(cfg.RootDir, training.SelectionFile))
	assert.FileExists(t, filepath.Join(cfg.RootDir, "model.json"))

	cfg.TargetColumn = "missing"
	_, err = training.NewTrainer(cfg, selector).Run(context.Background())
	assert.Error(t, err)
}
