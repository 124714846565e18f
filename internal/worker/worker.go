// Package worker runs the asynq side of the service: queued webhook
// deliveries and, in asynq sweep mode, the periodic sweeps.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/briefcast/api/internal/sweeper"
)

// Deliverer posts an encoded webhook body.
type Deliverer interface {
	Deliver(ctx context.Context, url string, body []byte) error
}

// Options configures the worker server.
type Options struct {
	Concurrency int
	// Sweeps are registered as task handlers when set.
	Sweeps      []Sweep
	Locker      sweeper.Locker
	SweepBudget time.Duration
}

// Sweep binds a sweeper to its periodic task.
type Sweep struct {
	TaskType string
	Interval time.Duration
	Sweeper  sweeper.Sweeper
}

// Start starts the asynq worker in non-blocking mode and returns a stop function.
func Start(redisOpt asynq.RedisConnOpt, deliverer Deliverer, opts Options, log *logrus.Logger) (stop func(), err error) {
	srv, mux := newServer(redisOpt, deliverer, opts, log)
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return func() { srv.Shutdown() }, nil
}

func newServer(redisOpt asynq.RedisConnOpt, deliverer Deliverer, opts Options, log *logrus.Logger) (*asynq.Server, *asynq.ServeMux) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:     opts.Concurrency,
			ShutdownTimeout: 30 * time.Second,
			Queues:          map[string]int{QueueDefault: 1},
			ErrorHandler:    asynq.ErrorHandlerFunc(makeErrorHandler(log)),
			Logger:          newAsynqLogger(log),
			LogLevel:        asynqLogLevel(log.GetLevel()),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskDeliverWebhook, handleDeliverWebhook(log, deliverer))
	for _, s := range opts.Sweeps {
		mux.HandleFunc(s.TaskType, handleSweep(log, s, opts.Locker))
	}

	log.WithFields(logrus.Fields{
		"concurrency": opts.Concurrency,
		"sweeps":      len(opts.Sweeps),
	}).Info("Worker starting")
	return srv, mux
}

// handleDeliverWebhook posts one queued webhook. Deliveries are never retried.
func handleDeliverWebhook(log *logrus.Logger, deliverer Deliverer) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload webhookTask
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
		}
		if payload.URL == "" {
			return fmt.Errorf("webhook url missing: %w", asynq.SkipRetry)
		}

		logger := log.WithFields(logrus.Fields{"job_id": payload.JobID, "webhook_url": payload.URL})
		if err := deliverer.Deliver(ctx, payload.URL, payload.Payload); err != nil {
			logger.WithError(err).Warn("Webhook delivery failed")
			return fmt.Errorf("webhook delivery failed: %v: %w", err, asynq.SkipRetry)
		}
		logger.Debug("Webhook delivered")
		return nil
	}
}

// handleSweep runs one pass of a sweeper under its lease.
func handleSweep(log *logrus.Logger, s Sweep, locker sweeper.Locker) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, _ *asynq.Task) error {
		sweeper.RunGuarded(ctx, s.Sweeper, locker, s.Interval, log)
		return nil
	}
}

// makeErrorHandler creates an error handler function with logger closure.
func makeErrorHandler(log *logrus.Logger) func(context.Context, *asynq.Task, error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)

		log.WithFields(logrus.Fields{
			"task_type":   task.Type(),
			"retry_count": retried,
			"max_retry":   maxRetry,
		}).WithError(err).Error("Task execution failed")
	}
}
