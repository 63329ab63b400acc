package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Runs that are nacked or rejected are routed through this exchange into
// FailedPipelineQueue.
const deadLetterExchange = "pipeline.dlx"

func dialWithRetry(url string) (*amqp.Connection, error) {
	var err error
	for attempt := 1; attempt <= MaxConnectRetry; attempt++ {
		var conn *amqp.Connection
		if conn, err = amqp.Dial(url); err == nil {
			slog.Info("connected to rabbitmq")
			return conn, nil
		}
		slog.Warn("failed to connect to rabbitmq", "attempt", attempt, "max_attempts", MaxConnectRetry, "error", err)
		time.Sleep(RetryDelay)
	}
	return nil, fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", MaxConnectRetry, err)
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(deadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", deadLetterExchange, err)
	}
	if _, err := ch.QueueDeclare(FailedPipelineQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", FailedPipelineQueue, err)
	}
	if err := ch.QueueBind(FailedPipelineQueue, PipelineQueue, deadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", FailedPipelineQueue, err)
	}
	_, err := ch.QueueDeclare(PipelineQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": deadLetterExchange,
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", PipelineQueue, err)
	}
	return nil
}

// openChannel dials the broker and declares the pipeline queue along with its
// dead letter queue.
func openChannel(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := dialWithRetry(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

type RabbitMQPublisher struct {
	url string

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	closed    atomic.Bool
	closeOnce sync.Once
}

func NewRabbitMQPublisher(rabbitMQURL string) (*RabbitMQPublisher, error) {
	p := &RabbitMQPublisher{url: rabbitMQURL}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RabbitMQPublisher) connect() error {
	conn, ch, err := openChannel(p.url)
	if err != nil {
		return err
	}
	p.conn, p.channel = conn, ch
	slog.Info("rabbitmq publisher ready", "queue", PipelineQueue)

	go p.watch(ch)
	return nil
}

// watch reconnects when the broker drops the channel. A graceful close
// closes the notification channel without an error.
func (p *RabbitMQPublisher) watch(ch *amqp.Channel) {
	amqpErr, ok := <-ch.NotifyClose(make(chan *amqp.Error, 1))
	if !ok {
		slog.Info("rabbitmq publisher channel closed")
		return
	}
	slog.Warn("rabbitmq publisher channel lost, reconnecting", "error", amqpErr)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.conn, p.channel = nil, nil
	for !p.closed.Load() {
		if p.connect() == nil {
			slog.Info("rabbitmq publisher reconnected")
			return
		}
		time.Sleep(RetryDelay * 10)
	}
}

func (p *RabbitMQPublisher) PublishPipelineRun(ctx context.Context, payload PipelineRunPayload) error {
	if p.closed.Load() {
		return ErrQueueClosed
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline run payload: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.channel == nil || p.channel.IsClosed() {
		return fmt.Errorf("rabbitmq channel is not open")
	}

	err = p.channel.PublishWithContext(ctx, "", PipelineQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    payload.RunId.String(),
		Timestamp:    time.Now().UTC(),
		Type:         PipelineQueue,
		AppId:        "mlops-pipeline",
		Body:         body,
	})
	if err != nil {
		slog.Error("failed to publish pipeline run", "run_id", payload.RunId, "error", err)
		return fmt.Errorf("failed to publish pipeline run %s: %w", payload.RunId, err)
	}

	slog.Info("published pipeline run", "run_id", payload.RunId, "trigger", payload.Trigger)
	return nil
}

// FailedRuns returns the number of dead lettered runs waiting in
// FailedPipelineQueue.
func (p *RabbitMQPublisher) FailedRuns() (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.channel == nil || p.channel.IsClosed() {
		return 0, fmt.Errorf("rabbitmq channel is not open")
	}
	q, err := p.channel.QueueDeclarePassive(FailedPipelineQueue, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue %s: %w", FailedPipelineQueue, err)
	}
	return q.Messages, nil
}

func (p *RabbitMQPublisher) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)

		p.mu.RLock()
		defer p.mu.RUnlock()
		if p.conn == nil {
			return
		}
		if err := p.conn.Close(); err != nil {
			slog.Error("error closing rabbitmq connection", "error", err)
		}
	})
}

type RabbitMQTask struct {
	d amqp.Delivery
}

func (t *RabbitMQTask) Type() string {
	return t.d.RoutingKey
}

func (t *RabbitMQTask) Payload() []byte {
	return t.d.Body
}

func (t *RabbitMQTask) Ack() error {
	return t.d.Ack(false)
}

// Nack dead letters the run instead of requeueing it. A failed run is
// terminal; retrying means submitting a new run.
func (t *RabbitMQTask) Nack() error {
	return t.d.Nack(false, false)
}

func (t *RabbitMQTask) Reject() error {
	return t.d.Reject(false)
}

type RabbitMQReceiver struct {
	url   string
	tasks chan Task

	stop     chan struct{}
	stopOnce sync.Once
}

func NewRabbitMQReceiver(rabbitMQURL string) (*RabbitMQReceiver, error) {
	r := &RabbitMQReceiver{
		url:   rabbitMQURL,
		tasks: make(chan Task),
		stop:  make(chan struct{}),
	}
	if err := r.subscribe(); err != nil {
		return nil, err
	}
	return r, nil
}

// subscribe starts a consumer with a prefetch of one, so a worker holds at
// most one pipeline run at a time.
func (r *RabbitMQReceiver) subscribe() error {
	conn, ch, err := openChannel(r.url)
	if err != nil {
		return err
	}

	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set channel qos: %w", err)
	}

	deliveries, err := ch.Consume(PipelineQueue, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to consume from queue %s: %w", PipelineQueue, err)
	}

	go r.forward(deliveries)
	go r.watch(conn, ch)
	return nil
}

func (r *RabbitMQReceiver) forward(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		select {
		case r.tasks <- &RabbitMQTask{d: d}:
		case <-r.stop:
			return
		}
	}
}

func (r *RabbitMQReceiver) watch(conn *amqp.Connection, ch *amqp.Channel) {
	select {
	case amqpErr, ok := <-ch.NotifyClose(make(chan *amqp.Error, 1)):
		if !ok {
			slog.Info("rabbitmq consumer channel closed")
			return
		}
		slog.Warn("rabbitmq consumer channel lost, resubscribing", "error", amqpErr)

		for {
			select {
			case <-r.stop:
				return
			default:
			}
			if r.subscribe() == nil {
				slog.Info("rabbitmq consumer resubscribed")
				return
			}
			time.Sleep(RetryDelay * 10)
		}
	case <-r.stop:
		slog.Info("stopping rabbitmq consumer")
		if err := conn.Close(); err != nil {
			slog.Error("error closing rabbitmq connection", "error", err)
		}
	}
}

func (r *RabbitMQReceiver) Tasks() <-chan Task {
	return r.tasks
}

func (r *RabbitMQReceiver) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}
