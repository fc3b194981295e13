// cmd/worker/main.go consumes dispatch jobs from RabbitMQ. The server must
// run with DISPATCH_MODE=amqp for jobs to arrive here.
package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/phishsim-backend/internal/app"
	"github.com/unclebandit/phishsim-backend/internal/config"
	"github.com/unclebandit/phishsim-backend/internal/logging"
	"github.com/unclebandit/phishsim-backend/internal/queue"
)

// shutdownTimeout bounds how long a stopping worker waits for the job in
// flight before closing the broker connection.
const shutdownTimeout = 30 * time.Second

type drainer interface {
	Drain(ctx context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer func() { _ = logging.Sync() }()
	log := logging.L()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal("invalid config", zap.Error(err))
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		logging.Fatal("open store", zap.Error(err))
	}
	defer func() { _ = a.Close() }()

	q, err := queue.DialAMQP(cfg.AMQPURL, log)
	if err != nil {
		logging.Fatal("connect rabbitmq", zap.Error(err))
	}
	defer func() { _ = q.Close() }()

	log.Info("worker running, waiting for jobs", zap.String("queue", cfg.DispatchQueue))
	if err := run(ctx, q, a.NewWorker().HandleJob, cfg.DispatchQueue, q.NotifyClose()); err != nil {
		logging.Fatal("worker stopped", zap.Error(err))
	}
	log.Info("shutting down, waiting for the current job")
	if err := shutdown(q, shutdownTimeout); err != nil {
		log.Error("drain dispatch queue", zap.Error(err))
	}
	log.Info("worker stopped")
}

// shutdown stops consuming and waits up to timeout for running jobs, so a
// claimed target is either sent or released before the connection closes.
func shutdown(q drainer, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return q.Drain(ctx)
}

// run subscribes handler to topic and blocks until ctx ends or the broker
// connection is lost.
func run(ctx context.Context, q queue.Queue, handler queue.Handler, topic string, lost <-chan *amqp.Error) error {
	if err := q.Subscribe(topic, handler); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return nil
	case amqpErr, ok := <-lost:
		if !ok || amqpErr == nil {
			return errors.New("rabbitmq connection closed")
		}
		return fmt.Errorf("rabbitmq connection lost: %w", amqpErr)
	}
}
