package estimator

import (
	"fmt"
	"math"
	"math/rand"
)

const KindRandomForest = "randomforest"

// RandomForest averages CART regression trees, each grown on a bootstrap
// sample with a random feature subset considered at every split.
type RandomForest struct {
	params Params

	Trees []*regressionTree `json:"trees"`
	Width int               `json:"width"`
}

func NewRandomForest(params Params) Estimator {
	return &RandomForest{params: params}
}

func (m *RandomForest) Kind() string { return KindRandomForest }

func (m *RandomForest) Params() Params {
	return Params{
		"n_estimators":      m.params.Get("n_estimators", 100),
		"max_depth":         m.params.Get("max_depth", 0),
		"min_samples_split": m.params.Get("min_samples_split", 2),
		"min_samples_leaf":  m.params.Get("min_samples_leaf", 1),
		"max_features":      m.params.Get("max_features", 1.0),
		"bootstrap":         m.params.Get("bootstrap", 1),
		"random_state":      m.params.Get("random_state", 42),
	}
}

func (m *RandomForest) Fit(X [][]float64, y []float64) error {
	p := m.Params()
	if !(p["n_estimators"] >= 1) {
		return fmt.Errorf("%w: n_estimators must be positive, got %v", ErrInvalidParam, p["n_estimators"])
	}
	if !(p["max_depth"] >= 0) {
		return fmt.Errorf("%w: max_depth must be non-negative, got %v", ErrInvalidParam, p["max_depth"])
	}
	if !(p["min_samples_split"] >= 2) {
		return fmt.Errorf("%w: min_samples_split must be at least 2, got %v", ErrInvalidParam, p["min_samples_split"])
	}
	if !(p["min_samples_leaf"] >= 1) {
		return fmt.Errorf("%w: min_samples_leaf must be at least 1, got %v", ErrInvalidParam, p["min_samples_leaf"])
	}
	if !(p["max_features"] > 0 && p["max_features"] <= 1) {
		return fmt.Errorf("%w: max_features must be in (0, 1], got %v", ErrInvalidParam, p["max_features"])
	}

	width, err := checkShape(X, y)
	if err != nil {
		return err
	}
	n, nTrees := len(X), int(p["n_estimators"])

	grad := make([]float64, n)
	hess := make([]float64, n)
	for i, v := range y {
		grad[i] = -v
		hess[i] = 1
	}

	rng := rand.New(rand.NewSource(int64(p["random_state"])))
	cfg := treeConfig{
		maxDepth:        int(p["max_depth"]),
		minSamplesSplit: int(p["min_samples_split"]),
		minSamplesLeaf:  int(p["min_samples_leaf"]),
		maxFeatures:     max(1, int(math.Round(p["max_features"]*float64(width)))),
		rng:             rng,
	}

	trees := make([]*regressionTree, 0, nTrees)
	for range nTrees {
		rows := make([]int, n)
		for i := range rows {
			if p["bootstrap"] != 0 {
				rows[i] = rng.Intn(n)
			} else {
				rows[i] = i
			}
		}
		trees = append(trees, growTree(X, grad, hess, rows, cfg))
	}

	m.Trees = trees
	m.Width = width
	return nil
}

func (m *RandomForest) Predict(X [][]float64) ([]float64, error) {
	if len(m.Trees) == 0 {
		return nil, ErrNotFitted
	}
	if err := checkFeatures(X, m.Width); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		var sum float64
		for _, t := range m.Trees {
			sum += t.predict(row)
		}
		out[i] = sum / float64(len(m.Trees))
	}
	return out, nil
}
