package estimator

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/stat"
)

const KindGradientBoosting = "xgbregressor"

// GradientBoosting is a second order boosted tree ensemble for squared
// error, following the xgboost split gain and leaf weight formulas.
type GradientBoosting struct {
	params Params

	BaseScore    float64           `json:"base_score"`
	LearningRate float64           `json:"learning_rate"`
	Trees        []*regressionTree `json:"trees"`
	Width        int               `json:"width"`
}

func NewGradientBoosting(params Params) Estimator {
	return &GradientBoosting{params: params}
}

func (m *GradientBoosting) Kind() string { return KindGradientBoosting }

func (m *GradientBoosting) Params() Params {
	return Params{
		"n_estimators":     m.params.Get("n_estimators", 100),
		"learning_rate":    m.params.Get("learning_rate", 0.3),
		"max_depth":        m.params.Get("max_depth", 6),
		"reg_lambda":       m.params.Get("reg_lambda", 1),
		"gamma":            m.params.Get("gamma", 0),
		"min_child_weight": m.params.Get("min_child_weight", 1),
		"subsample":        m.params.Get("subsample", 1),
		"random_state":     m.params.Get("random_state", 42),
	}
}

func (m *GradientBoosting) Fit(X [][]float64, y []float64) error {
	p := m.Params()
	if !(p["n_estimators"] >= 1) {
		return fmt.Errorf("%w: n_estimators must be positive, got %v", ErrInvalidParam, p["n_estimators"])
	}
	if !(p["learning_rate"] > 0) {
		return fmt.Errorf("%w: learning_rate must be positive, got %v", ErrInvalidParam, p["learning_rate"])
	}
	if !(p["max_depth"] >= 0) {
		return fmt.Errorf("%w: max_depth must be non-negative, got %v", ErrInvalidParam, p["max_depth"])
	}
	if !(p["reg_lambda"] >= 0 && p["gamma"] >= 0 && p["min_child_weight"] >= 0) {
		return fmt.Errorf("%w: reg_lambda, gamma and min_child_weight must be non-negative", ErrInvalidParam)
	}
	if !(p["subsample"] > 0 && p["subsample"] <= 1) {
		return fmt.Errorf("%w: subsample must be in (0, 1], got %v", ErrInvalidParam, p["subsample"])
	}

	width, err := checkShape(X, y)
	if err != nil {
		return err
	}
	n, rounds := len(X), int(p["n_estimators"])

	base := stat.Mean(y, nil)
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = base
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	for i := range hess {
		hess[i] = 1
	}

	rng := rand.New(rand.NewSource(int64(p["random_state"])))
	cfg := treeConfig{
		maxDepth:        int(p["max_depth"]),
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		minChildWeight:  p["min_child_weight"],
		lambda:          p["reg_lambda"],
		gamma:           p["gamma"],
	}
	lr := p["learning_rate"]

	trees := make([]*regressionTree, 0, rounds)
	for range rounds {
		for i := range grad {
			grad[i] = pred[i] - y[i]
		}
		rows := m.sampleRows(rng, n, p["subsample"])
		tree := growTree(X, grad, hess, rows, cfg)
		for i, row := range X {
			pred[i] += lr * tree.predict(row)
		}
		trees = append(trees, tree)
	}

	m.BaseScore = base
	m.LearningRate = lr
	m.Trees = trees
	m.Width = width
	return nil
}

func (m *GradientBoosting) sampleRows(rng *rand.Rand, n int, ratio float64) []int {
	if ratio >= 1 {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}
		return rows
	}
	rows := make([]int, 0, int(ratio*float64(n))+1)
	for i := range n {
		if rng.Float64() < ratio {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		rows = append(rows, rng.Intn(n))
	}
	return rows
}

func (m *GradientBoosting) Predict(X [][]float64) ([]float64, error) {
	if m.Trees == nil {
		return nil, ErrNotFitted
	}
	if err := checkFeatures(X, m.Width); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		v := m.BaseScore
		for _, t := range m.Trees {
			v += m.LearningRate * t.predict(row)
		}
		out[i] = v
	}
	return out, nil
}
