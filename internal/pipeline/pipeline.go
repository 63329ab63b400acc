package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"mlops-pipeline/internal/config"
	"mlops-pipeline/internal/evaluation"
	"mlops-pipeline/internal/ingestion"
	"mlops-pipeline/internal/storage"
	"mlops-pipeline/internal/tracking"
	"mlops-pipeline/internal/training"
	"mlops-pipeline/internal/transform"
	"mlops-pipeline/internal/validation"
)

var (
	ErrValidationFailed = errors.New("data validation failed")
	ErrNoModelTrained   = errors.New("no candidate model could be trained")
)

const (
	IngestionStage      = "Data Ingestion Stage"
	ValidationStage     = "Data Validation Stage"
	TransformationStage = "Data Transformation Stage"
	TrainerStage        = "Model Trainer Stage"
	EvaluationStage     = "Model Evaluation Stage"
)

// Deps are the optional collaborators of a pipeline run. Nil fields are
// skipped.
type Deps struct {
	Storage    storage.Provider
	Sink       tracking.Sink
	Validation validation.ReportRecorder
	Candidates training.CandidateRecorder
	Stages     StageRecorder
	Logger     *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Build wires the five stages from the resolved configuration.
func Build(m *config.Manager, deps Deps) (*Runner, error) {
	logger := deps.logger()

	registry, err := training.DefaultRegistry().WithSpaces(m.Models())
	if err != nil {
		return nil, err
	}
	if _, err := training.LookupScorer(m.Search().Scoring); err != nil {
		return nil, err
	}

	ingest := func(ctx context.Context) error {
		return ingestion.NewIngestor(m.DataIngestion(), deps.Storage).WithLogger(logger).Run(ctx)
	}

	validate := func(ctx context.Context) error {
		cfg := m.DataValidation()
		validator := validation.NewValidator(cfg, m.Schema()).WithLogger(logger)
		if deps.Validation != nil {
			validator = validator.WithRecorder(deps.Validation)
		}
		if !validator.RunContext(ctx, cfg.RemoveOutliers) {
			return ErrValidationFailed
		}
		return nil
	}

	split := func(ctx context.Context) error {
		_, _, err := transform.NewTransformer(m.DataTransformation()).WithLogger(logger).Run()
		return err
	}

	train := func(ctx context.Context) error {
		cfg, search := m.ModelTrainer(), m.Search()
		tuner := training.NewTuner(search.RandomState).WithLogger(logger)
		selector := training.NewSelector(registry, tuner, search.Scoring, search.NIter, cfg.RootDir).WithLogger(logger)
		if deps.Candidates != nil {
			selector = selector.WithRecorder(deps.Candidates)
		}

		selection, err := training.NewTrainer(cfg, selector).WithLogger(logger).Run(ctx)
		if err != nil {
			return err
		}
		if _, ok := selection.Best(); !ok {
			return ErrNoModelTrained
		}
		return nil
	}

	evaluate := func(ctx context.Context) error {
		_, err := evaluation.NewEvaluator(m.ModelEvaluation(), deps.Sink).WithLogger(logger).Evaluate(ctx)
		return err
	}

	runner := NewRunner(
		NewStage(IngestionStage, ingest),
		NewStage(ValidationStage, validate),
		NewStage(TransformationStage, split),
		NewStage(TrainerStage, train),
		NewStage(EvaluationStage, evaluate),
	).WithLogger(logger)
	if deps.Stages != nil {
		runner = runner.WithRecorder(deps.Stages)
	}
	return runner, nil
}
