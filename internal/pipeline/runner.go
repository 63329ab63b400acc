package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

type Stage interface {
	Name() string
	Run(ctx context.Context) error
}

// StageRecorder is notified around every stage. Recording is best effort.
type StageRecorder interface {
	StageStarted(ctx context.Context, stage string, position int) error
	StageFinished(ctx context.Context, stage string, err error) error
}

type stageFunc struct {
	name string
	run  func(ctx context.Context) error
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Run(ctx context.Context) error { return s.run(ctx) }

func NewStage(name string, run func(ctx context.Context) error) Stage {
	return stageFunc{name: name, run: run}
}

// Runner executes stages in order and stops at the first failure.
type Runner struct {
	stages   []Stage
	recorder StageRecorder
	logger   *slog.Logger
}

func NewRunner(stages ...Stage) *Runner {
	return &Runner{stages: stages, logger: slog.Default()}
}

func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

func (r *Runner) WithRecorder(recorder StageRecorder) *Runner {
	r.recorder = recorder
	return r
}

func (r *Runner) Stages() []string {
	names := make([]string, len(r.stages))
	for i, s := range r.stages {
		names[i] = s.Name()
	}
	return names
}

func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("starting pipeline", "stages", len(r.stages))

	for i, stage := range r.stages {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := stage.Name()
		r.logger.Info(fmt.Sprintf("===== Stage %s started =====", name))
		if r.recorder != nil {
			if err := r.recorder.StageStarted(ctx, name, i); err != nil {
				r.logger.Warn("error recording stage start", "stage", name, "error", err)
			}
		}

		err := r.runStage(ctx, stage)

		if r.recorder != nil {
			if recErr := r.recorder.StageFinished(ctx, name, err); recErr != nil {
				r.logger.Warn("error recording stage completion", "stage", name, "error", recErr)
			}
		}
		if err != nil {
			r.logger.Error("error in stage", "stage", name, "error", err)
			return fmt.Errorf("stage %s: %w", name, err)
		}

		r.logger.Info(fmt.Sprintf("===== Stage %s completed =====", name))
	}

	r.logger.Info("all pipeline stages completed successfully")
	return nil
}

func (r *Runner) runStage(ctx context.Context, stage Stage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in stage %s: %v", stage.Name(), p)
		}
	}()
	return stage.Run(ctx)
}
