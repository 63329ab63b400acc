package training

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"mlops-pipeline/internal/estimator"
)

type State string

const (
	StatePending    State = "PENDING"
	StateRunning    State = "RUNNING"
	StateSucceeded  State = "SUCCEEDED"
	StateSkipped    State = "SKIPPED"
	StateAggregated State = "AGGREGATED"
	StateDone       State = "DONE"
)

// Outcome is the result of one candidate's search and held-out scoring.
type Outcome struct {
	ID        string
	State     State
	Params    estimator.Params
	CVScore   float64
	Score     float64
	Rank      float64
	Explored  int
	Estimator estimator.Estimator
	Err       error
}

// Selection holds the outcome of every candidate in registry order.
type Selection struct {
	Scoring  string
	Outcomes []Outcome
	best     int
}

func (s Selection) Succeeded() []Outcome {
	var out []Outcome
	for _, o := range s.Outcomes {
		if o.State == StateSucceeded {
			out = append(out, o)
		}
	}
	return out
}

type ScoredModel struct {
	ID    string
	Score float64
}

// Scores lists the held-out score of every successful candidate in
// registry order.
func (s Selection) Scores() []ScoredModel {
	var out []ScoredModel
	for _, o := range s.Succeeded() {
		out = append(out, ScoredModel{ID: o.ID, Score: o.Score})
	}
	return out
}

func (s Selection) Best() (Outcome, bool) {
	if s.best < 0 || s.best >= len(s.Outcomes) {
		return Outcome{}, false
	}
	return s.Outcomes[s.best], true
}

type CandidateRecorder interface {
	RecordCandidate(ctx context.Context, outcome Outcome) error
}

type Selector struct {
	registry  *Registry
	tuner     *Tuner
	scoring   string
	nIter     int
	outputDir string
	bestModel string
	recorder  CandidateRecorder
	logger    *slog.Logger
	state     State
}

func NewSelector(registry *Registry, tuner *Tuner, scoring string, nIter int, outputDir string) *Selector {
	return &Selector{
		registry:  registry,
		tuner:     tuner,
		scoring:   scoring,
		nIter:     nIter,
		outputDir: outputDir,
		bestModel: "best_model.json",
		logger:    slog.Default(),
		state:     StatePending,
	}
}

func (s *Selector) WithLogger(logger *slog.Logger) *Selector {
	s.logger = logger
	return s
}

func (s *Selector) WithRecorder(recorder CandidateRecorder) *Selector {
	s.recorder = recorder
	return s
}

// WithBestModelName sets the file name of the winning model artifact.
func (s *Selector) WithBestModelName(name string) *Selector {
	s.bestModel = name
	return s
}

func (s *Selector) State() State {
	return s.state
}

// Select tunes every candidate, scores it on the test data and persists the
// successful ones. Candidates that fail are skipped. When none succeeds the
// returned selection has no best entry and the error is nil.
func (s *Selector) Select(ctx context.Context, xTrain [][]float64, yTrain []float64, xTest [][]float64, yTest []float64) (Selection, error) {
	scorer, err := LookupScorer(s.scoring)
	if err != nil {
		return Selection{}, err
	}

	selection := Selection{Scoring: s.scoring, best: -1}

	for _, c := range s.registry.Candidates() {
		if err := ctx.Err(); err != nil {
			return Selection{}, err
		}

		s.state = StateRunning
		outcome := s.evaluate(ctx, c, scorer, xTrain, yTrain, xTest, yTest)
		if outcome.Err != nil {
			s.logger.Warn("skipping model", "model", c.ID, "error", outcome.Err)
		} else {
			s.logger.Info("model trained", "model", c.ID, "score", outcome.Score, "params", outcome.Params)
		}

		if s.recorder != nil {
			if err := s.recorder.RecordCandidate(ctx, outcome); err != nil {
				s.logger.Warn("error recording candidate", "model", c.ID, "error", err)
			}
		}
		selection.Outcomes = append(selection.Outcomes, outcome)
	}

	s.state = StateAggregated
	for i, o := range selection.Outcomes {
		if o.State != StateSucceeded {
			continue
		}
		if selection.best < 0 || o.Rank > selection.Outcomes[selection.best].Rank {
			selection.best = i
		}
	}

	if err := s.removeStale(selection); err != nil {
		return Selection{}, err
	}

	best, ok := selection.Best()
	if !ok {
		s.logger.Warn("no models trained")
		s.state = StateDone
		return selection, nil
	}

	if err := s.persist(selection, best); err != nil {
		return Selection{}, err
	}

	s.logger.Info("best model selected", "model", best.ID, "score", best.Score, "scoring", s.scoring)
	s.state = StateDone
	return selection, nil
}

func (s *Selector) evaluate(ctx context.Context, c Candidate, scorer Scorer, xTrain [][]float64, yTrain []float64, xTest [][]float64, yTest []float64) (outcome Outcome) {
	outcome = Outcome{ID: c.ID, State: StateSkipped}
	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{ID: c.ID, State: StateSkipped, Err: fmt.Errorf("panic while training %s: %v", c.ID, r)}
		}
	}()

	result, err := s.tuner.Tune(ctx, c, c.Space, xTrain, yTrain, s.scoring, s.nIter)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	pred, err := result.Estimator.Predict(xTest)
	if err != nil {
		outcome.Err = fmt.Errorf("error scoring %s on test data: %w", c.ID, err)
		return outcome
	}
	score := scorer.Score(yTest, pred)
	rank := scorer.Rank(score)
	if math.IsNaN(rank) {
		rank = math.Inf(-1)
	}

	return Outcome{
		ID:        c.ID,
		State:     StateSucceeded,
		Params:    result.Params,
		CVScore:   result.CVScore,
		Score:     score,
		Rank:      rank,
		Explored:  result.Explored,
		Estimator: result.Estimator,
	}
}

// removeStale deletes artifacts left by an earlier run for candidates that
// were skipped in this one, and the best-model files when nothing succeeded.
func (s *Selector) removeStale(selection Selection) error {
	var stale []string
	for _, o := range selection.Outcomes {
		if o.State != StateSucceeded {
			stale = append(stale, o.ID+"_model.json", o.ID+"_params.json")
		}
	}
	if _, ok := selection.Best(); !ok {
		stale = append(stale, s.bestModel, "best_params.json")
	}
	for _, name := range stale {
		if err := os.Remove(filepath.Join(s.outputDir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error removing stale artifact %s: %w", name, err)
		}
	}
	return nil
}

func (s *Selector) persist(selection Selection, best Outcome) error {
	for _, o := range selection.Succeeded() {
		if err := SaveModel(filepath.Join(s.outputDir, o.ID+"_model.json"), o); err != nil {
			return err
		}
		if err := SaveParams(filepath.Join(s.outputDir, o.ID+"_params.json"), o); err != nil {
			return err
		}
	}

	if err := SaveModel(filepath.Join(s.outputDir, s.bestModel), best); err != nil {
		return err
	}
	return SaveParams(filepath.Join(s.outputDir, "best_params.json"), best)
}
