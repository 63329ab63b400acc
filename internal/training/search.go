package training

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime"

	"mlops-pipeline/internal/estimator"
	"mlops-pipeline/internal/utils"
)

const Folds = 3

type SearchResult struct {
	Estimator estimator.Estimator
	Params    estimator.Params
	// CVScore is the mean cross-validated score on the ranking scale.
	CVScore  float64
	Explored int
}

// Tuner runs a bounded random search with k-fold cross validation.
type Tuner struct {
	RandomState int64
	Workers     int
	logger      *slog.Logger
}

func NewTuner(randomState int64) *Tuner {
	return &Tuner{RandomState: randomState, Workers: min(Folds, runtime.NumCPU()), logger: slog.Default()}
}

func (t *Tuner) WithLogger(logger *slog.Logger) *Tuner {
	t.logger = logger
	return t
}

type fold struct {
	train []int
	test  []int
}

// kFold splits n rows into k contiguous folds, the first n%k of them one
// row larger.
func kFold(n, k int) ([]fold, error) {
	if n < k {
		return nil, fmt.Errorf("cannot split %d rows into %d folds", n, k)
	}
	folds := make([]fold, 0, k)
	start := 0
	for i := range k {
		size := n / k
		if i < n%k {
			size++
		}
		var f fold
		for r := range n {
			if r >= start && r < start+size {
				f.test = append(f.test, r)
			} else {
				f.train = append(f.train, r)
			}
		}
		folds = append(folds, f)
		start += size
	}
	return folds, nil
}

// sampleWithoutReplacement draws k distinct values from [0, total) with a
// lazy Fisher-Yates shuffle, so total may exceed what fits in memory.
func sampleWithoutReplacement(rng *rand.Rand, total, k int) []int {
	swapped := make(map[int]int)
	at := func(i int) int {
		if v, ok := swapped[i]; ok {
			return v
		}
		return i
	}

	out := make([]int, k)
	for i := range k {
		j := i + rng.Intn(total-i)
		out[i] = at(j)
		swapped[j] = at(i)
	}
	return out
}

func rows[T any](src []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, r := range idx {
		out[i] = src[r]
	}
	return out
}

func fitScore(factory estimator.Factory, params estimator.Params, scorer Scorer, X [][]float64, y []float64, f fold) (float64, error) {
	model := factory(params)
	if err := model.Fit(rows(X, f.train), rows(y, f.train)); err != nil {
		return 0, err
	}
	pred, err := model.Predict(rows(X, f.test))
	if err != nil {
		return 0, err
	}
	return scorer.Rank(scorer.Score(rows(y, f.test), pred)), nil
}

// Tune samples min(nIter, total combinations) distinct combinations of space,
// scores each by mean cross-validated score and refits the best one on all
// of X. A fit failure for any combination aborts the search.
func (t *Tuner) Tune(ctx context.Context, candidate Candidate, space estimator.Space, X [][]float64, y []float64, scoring string, nIter int) (SearchResult, error) {
	scorer, err := LookupScorer(scoring)
	if err != nil {
		return SearchResult{}, err
	}
	if err := space.Validate(); err != nil {
		return SearchResult{}, err
	}
	if nIter < 1 {
		return SearchResult{}, fmt.Errorf("n_iter must be positive, got %d", nIter)
	}

	folds, err := kFold(len(X), Folds)
	if err != nil {
		return SearchResult{}, fmt.Errorf("%w: %s: %w", ErrSearchFailure, candidate.ID, err)
	}

	sorted := space.Sorted()
	total := sorted.Combinations()
	iterations := min(nIter, total)

	rng := rand.New(rand.NewSource(t.RandomState))
	order := sampleWithoutReplacement(rng, total, iterations)

	t.logger.Info("starting hyperparameter search", "model", candidate.ID, "combinations", total, "iterations", iterations)

	var bestParams estimator.Params
	bestScore := math.Inf(-1)

	for _, idx := range order {
		if err := ctx.Err(); err != nil {
			return SearchResult{}, err
		}

		params := sorted.At(idx)
		completed := utils.RunInPool(ctx, func(f fold) (float64, error) {
			return fitScore(candidate.Factory, params, scorer, X, y, f)
		}, folds, t.Workers)

		if err := utils.FirstError(completed); err != nil {
			return SearchResult{}, fmt.Errorf("%w: %s with params %v: %w", ErrSearchFailure, candidate.ID, params, err)
		}

		var sum float64
		for _, c := range completed {
			sum += c.Result
		}
		mean := sum / float64(len(completed))
		if math.IsNaN(mean) {
			mean = math.Inf(-1)
		}

		t.logger.Debug("scored combination", "model", candidate.ID, "params", params, "score", mean)

		if bestParams == nil || mean > bestScore {
			bestScore = mean
			bestParams = params
		}
	}

	best := candidate.Factory(bestParams)
	if err := best.Fit(X, y); err != nil {
		return SearchResult{}, fmt.Errorf("%w: %s refit with params %v: %w", ErrSearchFailure, candidate.ID, bestParams, err)
	}

	t.logger.Info("hyperparameter search completed", "model", candidate.ID, "best_params", bestParams, "cv_score", bestScore)

	return SearchResult{Estimator: best, Params: bestParams, CVScore: bestScore, Explored: iterations}, nil
}
