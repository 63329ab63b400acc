package training

import (
	"errors"
	"fmt"
	"slices"

	"mlops-pipeline/internal/config"
	"mlops-pipeline/internal/estimator"
)

var (
	ErrUnknownModel  = errors.New("unknown model")
	ErrUnknownScorer = errors.New("unknown scorer")
	ErrSearchFailure = errors.New("hyperparameter search failed")
)

type Candidate struct {
	ID      string
	Factory estimator.Factory
	Space   estimator.Space
}

// Registry is the ordered, read-only set of candidate models. Iteration
// order decides selection ties.
type Registry struct {
	candidates []Candidate
}

func NewRegistry(candidates ...Candidate) (*Registry, error) {
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if c.ID == "" || c.Factory == nil {
			return nil, fmt.Errorf("candidate %q needs an id and a factory", c.ID)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate candidate %q", c.ID)
		}
		if err := c.Space.Validate(); err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.ID, err)
		}
		seen[c.ID] = true
	}
	return &Registry{candidates: slices.Clone(candidates)}, nil
}

func DefaultCandidates() []Candidate {
	return []Candidate{
		{
			ID:      estimator.KindElasticNet,
			Factory: estimator.NewElasticNet,
			Space: estimator.Space{
				{Name: "alpha", Values: []float64{0.001, 0.01, 0.1, 1, 10}},
				{Name: "l1_ratio", Values: []float64{0.1, 0.3, 0.5, 0.7, 0.9}},
			},
		},
		{
			ID:      estimator.KindRandomForest,
			Factory: estimator.NewRandomForest,
			Space: estimator.Space{
				{Name: "n_estimators", Values: []float64{50, 100, 200}},
				{Name: "max_depth", Values: []float64{0, 5, 10, 20}},
				{Name: "min_samples_split", Values: []float64{2, 5, 10}},
			},
		},
		{
			ID:      estimator.KindGradientBoosting,
			Factory: estimator.NewGradientBoosting,
			Space: estimator.Space{
				{Name: "n_estimators", Values: []float64{50, 100, 200}},
				{Name: "learning_rate", Values: []float64{0.01, 0.05, 0.1, 0.2}},
				{Name: "max_depth", Values: []float64{3, 5, 7}},
				{Name: "subsample", Values: []float64{0.8, 1}},
			},
		},
	}
}

func DefaultRegistry() *Registry {
	return &Registry{candidates: DefaultCandidates()}
}

// WithSpaces returns a registry whose spaces are replaced by the configured
// ones. Candidates without an override keep their space.
func (r *Registry) WithSpaces(overrides []config.ModelSpace) (*Registry, error) {
	candidates := r.Candidates()
	for _, o := range overrides {
		idx := slices.IndexFunc(candidates, func(c Candidate) bool { return c.ID == o.Name })
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownModel, o.Name)
		}
		candidates[idx].Space = o.Space
	}
	return NewRegistry(candidates...)
}

func (r *Registry) Candidates() []Candidate {
	return slices.Clone(r.candidates)
}

func (r *Registry) Lookup(id string) (Candidate, error) {
	for _, c := range r.candidates {
		if c.ID == id {
			return c, nil
		}
	}
	return Candidate{}, fmt.Errorf("%w: %s", ErrUnknownModel, id)
}

type Scorer struct {
	Name            string
	Score           func(yTrue, yPred []float64) float64
	GreaterIsBetter bool
}

// Rank maps a score onto a scale where larger is always better.
func (s Scorer) Rank(score float64) float64 {
	if s.GreaterIsBetter {
		return score
	}
	return -score
}

var scorers = map[string]Scorer{
	"r2":  {Name: "r2", Score: estimator.R2Score, GreaterIsBetter: true},
	"mse": {Name: "mse", Score: estimator.MeanSquaredError},
	"mae": {Name: "mae", Score: estimator.MeanAbsoluteError},
}

func LookupScorer(name string) (Scorer, error) {
	s, ok := scorers[name]
	if !ok {
		return Scorer{}, fmt.Errorf("%w: %s", ErrUnknownScorer, name)
	}
	return s, nil
}
