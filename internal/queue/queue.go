package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/unclebandit/phishsim-backend/internal/logging"
)

// DispatchTopic carries campaign dispatch jobs.
const DispatchTopic = "campaign_dispatch"

var ErrClosed = errors.New("queue closed")

// Handler processes one job payload. Jobs are attempted once; a returned
// error is logged and the job dropped.
type Handler func(ctx context.Context, payload []byte) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler Handler) error
}

// InMemoryQueue runs every published job on its own goroutine. Wait blocks
// until all of them have returned.
type InMemoryQueue struct {
	Logger *zap.Logger

	mu       sync.Mutex
	closed   bool
	handlers map[string][]Handler
	wg       sync.WaitGroup
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(logger *zap.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		Logger:   logging.OrNop(logger),
		handlers: make(map[string][]Handler),
	}
}

// Publish hands the payload to every subscriber of topic and returns
// without waiting for them.
func (q *InMemoryQueue) Publish(_ context.Context, topic string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	handlers := q.handlers[topic]
	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go q.processJob(topic, handler, payload)
	}
	return nil
}

func (q *InMemoryQueue) processJob(topic string, handler Handler, payload []byte) {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			q.Logger.Error("job panicked", zap.String("topic", topic), zap.Any("panic", r))
		}
	}()

	// Jobs outlive the request that published them.
	if err := handler(context.Background(), payload); err != nil {
		q.Logger.Error("job failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	q.Logger.Debug("job processed", zap.String("topic", topic))
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every job published so far has finished.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

// Drain waits for running jobs, or returns ctx.Err() if ctx ends first.
func (q *InMemoryQueue) Drain(ctx context.Context) error {
	return waitContext(ctx, &q.wg)
}

// Close rejects further publishes and drains the running jobs.
func (q *InMemoryQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.Drain(ctx)
}

func waitContext(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
