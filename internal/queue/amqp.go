package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/phishsim-backend/internal/logging"
)

// AMQPQueue publishes and consumes jobs on durable RabbitMQ queues named
// after the topic. Deliveries are acked after one attempt whatever the
// outcome.
type AMQPQueue struct {
	Logger *zap.Logger

	conn *amqp.Connection
	mu   sync.Mutex
	ch   *amqp.Channel
	wg   sync.WaitGroup
	tags []string
}

func DialAMQP(url string, logger *zap.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return &AMQPQueue{Logger: logging.OrNop(logger), conn: conn, ch: ch}, nil
}

func (q *AMQPQueue) declare(topic string) error {
	_, err := q.ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", topic, err)
	}
	return nil
}

func (q *AMQPQueue) Publish(_ context.Context, topic string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.declare(topic); err != nil {
		return err
	}
	err := q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a consumer goroutine for topic. It returns once the
// consumer is registered.
func (q *AMQPQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.declare(topic); err != nil {
		return err
	}
	if err := q.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}
	tag := "phishsim-" + topic + "-" + uuid.NewString()
	deliveries, err := q.ch.Consume(
		topic,
		tag,
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}
	q.tags = append(q.tags, tag)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for d := range deliveries {
			if err := handler(context.Background(), d.Body); err != nil {
				q.Logger.Error("job failed", zap.String("topic", topic), zap.Error(err))
			}
			if err := d.Ack(false); err != nil {
				q.Logger.Warn("ack failed", zap.String("topic", topic), zap.Error(err))
			}
		}
	}()
	return nil
}

// Wait blocks until every consumer has stopped, which happens when the
// connection closes.
func (q *AMQPQueue) Wait() {
	q.wg.Wait()
}

// Drain cancels every consumer so no new deliveries arrive, then waits for
// the jobs already handed out to finish, or returns ctx.Err() if ctx ends
// first. Unacked deliveries go back to the broker when the queue is closed.
func (q *AMQPQueue) Drain(ctx context.Context) error {
	q.mu.Lock()
	var errs []error
	for _, tag := range q.tags {
		if err := q.ch.Cancel(tag, false); err != nil {
			errs = append(errs, fmt.Errorf("cancel consumer %s: %w", tag, err))
		}
	}
	q.tags = nil
	q.mu.Unlock()

	if err := waitContext(ctx, &q.wg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NotifyClose reports connection loss.
func (q *AMQPQueue) NotifyClose() <-chan *amqp.Error {
	return q.conn.NotifyClose(make(chan *amqp.Error, 1))
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.ch.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
