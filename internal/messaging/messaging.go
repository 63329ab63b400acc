package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	PipelineQueue       = "pipeline_queue"
	FailedPipelineQueue = "pipeline_queue.failed"

	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

var ErrQueueClosed = errors.New("queue is closed")

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type PipelineRunPayload struct {
	RunId   uuid.UUID
	Trigger string `json:",omitempty"`
}

type Publisher interface {
	PublishPipelineRun(ctx context.Context, payload PipelineRunPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
