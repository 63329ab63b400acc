package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"mlops-pipeline/internal/database"
	"mlops-pipeline/internal/messaging"
	"mlops-pipeline/internal/pipeline"
	"mlops-pipeline/internal/pipeline/pipelinetest"
	"mlops-pipeline/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	return db
}

func configPaths(files pipelinetest.Files) messaging.ConfigPaths {
	return messaging.ConfigPaths{Config: files.Config, Params: files.Params, Schema: files.Schema}
}

type recordingTask struct {
	queue   string
	payload []byte
	result  string
}

func (t *recordingTask) Type() string    { return t.queue }
func (t *recordingTask) Payload() []byte { return t.payload }
func (t *recordingTask) Ack() error      { t.result = "ack"; return nil }
func (t *recordingTask) Nack() error     { t.result = "nack"; return nil }
func (t *recordingTask) Reject() error   { t.result = "reject"; return nil }

func runTask(t *testing.T, runId uuid.UUID) *recordingTask {
	payload, err := json.Marshal(messaging.PipelineRunPayload{RunId: runId})
	require.NoError(t, err)
	return &recordingTask{queue: messaging.PipelineQueue, payload: payload}
}

func TestWorkerCompletesRun(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	files := pipelinetest.Setup(t, pipelinetest.Schema)
	provider := storage.NewLocalProvider(t.TempDir())

	queue := messaging.NewInMemoryQueue()
	run, err := messaging.SubmitRun(ctx, db, queue, "api")
	require.NoError(t, err)
	queue.Close()

	worker := messaging.NewWorker(db, queue, configPaths(files)).WithStorage(provider, "artifacts")
	worker.Start()

	stored, err := database.GetPipelineRun(ctx, db, run.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, stored.Status)
	assert.True(t, stored.StartTime.Valid)
	assert.True(t, stored.CompletionTime.Valid)
	assert.False(t, stored.Error.Valid)

	require.Len(t, stored.Stages, 5)
	assert.Equal(t, pipeline.IngestionStage, stored.Stages[0].Stage)
	assert.Equal(t, pipeline.EvaluationStage, stored.Stages[4].Stage)
	for _, stage := range stored.Stages {
		assert.Equal(t, database.JobCompleted, stage.Status, stage.Stage)
	}

	require.Len(t, stored.Candidates, 3)
	assert.Equal(t, "elasticnet", stored.Candidates[0].ModelName)
	require.NotNil(t, stored.Validation)
	assert.Equal(t, "success", stored.Validation.Status)

	tracked, err := database.GetTrackedRuns(ctx, db, run.Id)
	require.NoError(t, err)
	require.Len(t, tracked, 1)
	metrics := map[string]float64{}
	for _, m := range tracked[0].Metrics {
		metrics[m.Key] = m.Value
	}
	assert.Contains(t, metrics, "R2_Score")
	assert.Contains(t, metrics, "RMSE")

	require.True(t, stored.ArtifactPrefix.Valid)
	assert.Equal(t, "runs/"+run.Id.String(), stored.ArtifactPrefix.String)
	objects, err := provider.ListObjects(ctx, "artifacts", stored.ArtifactPrefix.String+"/model_evaluation/")
	require.NoError(t, err)
	assert.NotEmpty(t, objects)
}

func TestWorkerFailsRun(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	files := pipelinetest.Setup(t, pipelinetest.MismatchedSchema)

	run, err := database.CreatePipelineRun(ctx, db, "api")
	require.NoError(t, err)

	task := runTask(t, run.Id)
	messaging.NewWorker(db, messaging.NewInMemoryQueue(), configPaths(files)).ProcessTask(task)
	assert.Equal(t, "nack", task.result)

	stored, err := database.GetPipelineRun(ctx, db, run.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobFailed, stored.Status)
	assert.Contains(t, stored.Error.String, "data validation failed")

	require.Len(t, stored.Stages, 2)
	assert.Equal(t, database.JobFailed, stored.Stages[1].Status)
	require.NotNil(t, stored.Validation)
	assert.Equal(t, "failed", stored.Validation.Status)
	assert.Positive(t, stored.Validation.ErrorCount)
}

func TestWorkerSkipsRunThatIsNotQueued(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)

	run, err := database.CreatePipelineRun(ctx, db, "api")
	require.NoError(t, err)
	require.NoError(t, database.UpdatePipelineRunStatus(ctx, db, run.Id, database.JobCompleted, nil))

	task := runTask(t, run.Id)
	messaging.NewWorker(db, messaging.NewInMemoryQueue(), messaging.ConfigPaths{}).ProcessTask(task)
	assert.Equal(t, "ack", task.result)

	stored, err := database.GetPipelineRun(ctx, db, run.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, stored.Status)
	assert.Empty(t, stored.Stages)
}

func TestWorkerRejectsBadTasks(t *testing.T) {
	db := setupDB(t)
	worker := messaging.NewWorker(db, messaging.NewInMemoryQueue(), messaging.ConfigPaths{})

	malformed := &recordingTask{queue: messaging.PipelineQueue, payload: []byte("{")}
	worker.ProcessTask(malformed)
	assert.Equal(t, "reject", malformed.result)

	unknown := &recordingTask{queue: "other_queue", payload: []byte("{}")}
	worker.ProcessTask(unknown)
	assert.Equal(t, "reject", unknown.result)

	missing := runTask(t, uuid.New())
	worker.ProcessTask(missing)
	assert.Equal(t, "nack", missing.result)
}

type failingPublisher struct{}

func (failingPublisher) PublishPipelineRun(context.Context, messaging.PipelineRunPayload) error {
	return errors.New("broker down")
}

func (failingPublisher) Close() {}

func TestSubmitRunPublishFailure(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)

	_, err := messaging.SubmitRun(ctx, db, failingPublisher{}, "api")
	assert.ErrorContains(t, err, "broker down")

	runs, err := database.ListPipelineRuns(ctx, db, database.JobFailed, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Contains(t, runs[0].Error.String, "broker down")
}

func TestRequeuePending(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)

	first, err := database.CreatePipelineRun(ctx, db, "api")
	require.NoError(t, err)
	done, err := database.CreatePipelineRun(ctx, db, "api")
	require.NoError(t, err)
	require.NoError(t, database.UpdatePipelineRunStatus(ctx, db, done.Id, database.JobCompleted, nil))

	queue := messaging.NewInMemoryQueue()
	n, err := messaging.RequeuePending(ctx, db, queue)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	queue.Close()

	var payloads []messaging.PipelineRunPayload
	for task := range queue.Tasks() {
		var payload messaging.PipelineRunPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		payloads = append(payloads, payload)
	}
	assert.Equal(t, []messaging.PipelineRunPayload{{RunId: first.Id, Trigger: "api"}}, payloads)
}

func TestInMemoryQueueClosed(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	queue.Close()
	queue.Close()
	err := queue.PublishPipelineRun(context.Background(), messaging.PipelineRunPayload{RunId: uuid.New()})
	assert.ErrorIs(t, err, messaging.ErrQueueClosed)
}
