//go:build integration

package integrationtests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"mlops-pipeline/internal/messaging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRabbitMQ(t *testing.T) {
	skipShort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	url := setupRabbitMQContainer(t, ctx)

	publisher, err := messaging.NewRabbitMQPublisher(url)
	require.NoError(t, err)
	t.Cleanup(publisher.Close)

	receiver, err := messaging.NewRabbitMQReceiver(url)
	require.NoError(t, err)
	t.Cleanup(receiver.Close)

	receive := func(t *testing.T) messaging.Task {
		select {
		case task := <-receiver.Tasks():
			return task
		case <-time.After(10 * time.Second):
			t.Fatal("Timed out waiting for task")
			return nil
		}
	}

	t.Run("Publish and Receive PipelineRun", func(t *testing.T) {
		payload := messaging.PipelineRunPayload{RunId: uuid.New()}
		require.NoError(t, publisher.PublishPipelineRun(ctx, payload))

		task := receive(t)
		assert.Equal(t, messaging.PipelineQueue, task.Type())

		var received messaging.PipelineRunPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &received))
		assert.Equal(t, payload, received)
		require.NoError(t, task.Ack())
	})

	t.Run("Tasks Are Delivered In Order", func(t *testing.T) {
		first := messaging.PipelineRunPayload{RunId: uuid.New()}
		second := messaging.PipelineRunPayload{RunId: uuid.New()}
		require.NoError(t, publisher.PublishPipelineRun(ctx, first))
		require.NoError(t, publisher.PublishPipelineRun(ctx, second))

		for _, want := range []messaging.PipelineRunPayload{first, second} {
			task := receive(t)
			var received messaging.PipelineRunPayload
			require.NoError(t, json.Unmarshal(task.Payload(), &received))
			assert.Equal(t, want, received)
			require.NoError(t, task.Ack())
		}
	})

	t.Run("Rejected Task Is Not Redelivered", func(t *testing.T) {
		require.NoError(t, publisher.PublishPipelineRun(ctx, messaging.PipelineRunPayload{RunId: uuid.New()}))
		require.NoError(t, receive(t).Reject())

		select {
		case task := <-receiver.Tasks():
			t.Fatalf("unexpected redelivery of %s", task.Payload())
		case <-time.After(2 * time.Second):
		}

		assert.Eventually(t, func() bool {
			n, err := publisher.FailedRuns()
			return err == nil && n == 1
		}, 10*time.Second, 200*time.Millisecond)
	})

	t.Run("Failed Run Is Dead Lettered", func(t *testing.T) {
		payload := messaging.PipelineRunPayload{RunId: uuid.New(), Trigger: "cron"}
		require.NoError(t, publisher.PublishPipelineRun(ctx, payload))

		task := receive(t)
		var received messaging.PipelineRunPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &received))
		assert.Equal(t, payload, received)
		require.NoError(t, task.Nack())

		assert.Eventually(t, func() bool {
			n, err := publisher.FailedRuns()
			return err == nil && n == 2
		}, 10*time.Second, 200*time.Millisecond)
	})

	t.Run("Publish After Close", func(t *testing.T) {
		closed, err := messaging.NewRabbitMQPublisher(url)
		require.NoError(t, err)
		closed.Close()
		assert.ErrorIs(t, closed.PublishPipelineRun(ctx, messaging.PipelineRunPayload{RunId: uuid.New()}), messaging.ErrQueueClosed)
	})
}
