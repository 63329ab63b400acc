package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"

	"mlops-pipeline/internal/config"
	"mlops-pipeline/internal/database"
	"mlops-pipeline/internal/pipeline"
	"mlops-pipeline/internal/storage"
	"mlops-pipeline/internal/tracking"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConfigPaths locate the three configuration documents a run is built from.
// They are re-read for every run.
type ConfigPaths struct {
	Config string
	Params string
	Schema string
}

// Worker consumes pipeline run tasks and executes them one at a time.
type Worker struct {
	db       *gorm.DB
	receiver Receiver
	paths    ConfigPaths

	storage        storage.Provider
	artifactBucket string
	sink           tracking.Sink
	logger         *slog.Logger

	done    chan struct{}
	stopped sync.Once
}

func NewWorker(db *gorm.DB, receiver Receiver, paths ConfigPaths) *Worker {
	return &Worker{db: db, receiver: receiver, paths: paths, logger: slog.Default(), done: make(chan struct{})}
}

// WithStorage sets the provider used for s3:// sources. When bucket is not
// empty the artifacts of completed runs are uploaded to it.
func (w *Worker) WithStorage(provider storage.Provider, bucket string) *Worker {
	w.storage = provider
	w.artifactBucket = bucket
	return w
}

// WithSink adds a tracking sink next to the database sink every run uses.
func (w *Worker) WithSink(sink tracking.Sink) *Worker {
	w.sink = sink
	return w
}

func (w *Worker) WithLogger(logger *slog.Logger) *Worker {
	w.logger = logger
	return w
}

// Start processes tasks until the receiver's channel is closed or Stop is
// called. A task in progress is finished first.
func (w *Worker) Start() {
	w.logger.Info("starting pipeline worker")

	tasks := w.receiver.Tasks()
	for {
		select {
		case <-w.done:
			return
		case task, ok := <-tasks:
			if !ok {
				return
			}
			w.ProcessTask(task)
		}
	}
}

func (w *Worker) Stop() {
	w.stopped.Do(func() {
		w.logger.Info("stopping pipeline worker")
		close(w.done)
		w.receiver.Close()
	})
}

func (w *Worker) ProcessTask(task Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {
	case PipelineQueue:
		var payload PipelineRunPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			w.logger.Error("error unmarshalling pipeline run task", "error", err)
			if err := task.Reject(); err != nil {
				w.logger.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = w.processPipelineRun(ctx, payload)

	default:
		w.logger.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			w.logger.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		w.logger.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			w.logger.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		w.logger.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			w.logger.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (w *Worker) sinkFor(runId uuid.UUID) tracking.Sink {
	sinks := tracking.MultiSink{tracking.NewDatabaseSink(w.db).ForPipelineRun(runId)}
	if w.sink != nil {
		sinks = append(sinks, w.sink)
	}
	return sinks
}

func (w *Worker) processPipelineRun(ctx context.Context, payload PipelineRunPayload) error {
	runId := payload.RunId
	logger := w.logger.With("run_id", runId)

	run, err := database.GetPipelineRun(ctx, w.db, runId)
	if err != nil {
		return err
	}
	if run.Status != database.JobQueued {
		logger.Info("pipeline run is not queued, skipping", "status", run.Status)
		return nil
	}

	if err := database.UpdatePipelineRunStatus(ctx, w.db, runId, database.JobRunning, nil); err != nil {
		return fmt.Errorf("error marking run as running: %w", err)
	}

	runErr := w.execute(ctx, runId, logger)

	status := database.JobCompleted
	if runErr != nil {
		status = database.JobFailed
		logger.Error("pipeline run failed", "error", runErr)
	} else {
		logger.Info("pipeline run completed")
	}

	if err := database.UpdatePipelineRunStatus(ctx, w.db, runId, status, runErr); err != nil {
		return errors.Join(runErr, fmt.Errorf("error marking run as %s: %w", status, err))
	}
	return runErr
}

func (w *Worker) execute(ctx context.Context, runId uuid.UUID, logger *slog.Logger) error {
	m, err := config.NewManager(w.paths.Config, w.paths.Params, w.paths.Schema)
	if err != nil {
		return err
	}

	recorder := database.NewRunRecorder(w.db, runId)
	runner, err := pipeline.Build(m, pipeline.Deps{
		Storage:    w.storage,
		Sink:       w.sinkFor(runId),
		Validation: recorder,
		Candidates: recorder,
		Stages:     recorder,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	if err := runner.Run(ctx); err != nil {
		return err
	}

	if w.storage == nil || w.artifactBucket == "" {
		return nil
	}

	prefix := path.Join("runs", runId.String())
	if err := pipeline.PublishArtifacts(ctx, w.storage, w.artifactBucket, prefix, m.ArtifactsRoot()); err != nil {
		return fmt.Errorf("error publishing artifacts: %w", err)
	}
	return database.SetArtifactPrefix(ctx, w.db, runId, prefix)
}
