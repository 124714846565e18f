package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/briefcast/api/internal/model"
)

// Task type constants
const (
	TaskDeliverWebhook  = "webhook:deliver"
	TaskSweepRecurrence = "sweep:recurrence"
	TaskSweepRetry      = "sweep:retry"
	TaskSweepCleanup    = "sweep:cleanup"
)

// QueueDefault is the asynq queue every task goes to.
const QueueDefault = "default"

type webhookTask struct {
	URL     string          `json:"url"`
	JobID   string          `json:"job_id"`
	Payload json.RawMessage `json:"payload"`
}

// Enqueuer is the part of *asynq.Client the notifier needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsyncNotifier hands webhook deliveries to the asynq worker instead of
// posting them from the job goroutine. Deliveries are attempted once.
type AsyncNotifier struct {
	client Enqueuer
}

// NewAsyncNotifier creates a notifier that enqueues through client.
func NewAsyncNotifier(client Enqueuer) *AsyncNotifier {
	return &AsyncNotifier{client: client}
}

// Notify enqueues one webhook delivery.
func (n *AsyncNotifier) Notify(ctx context.Context, url string, payload model.WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	data, err := json.Marshal(webhookTask{URL: url, JobID: payload.Job.ID, Payload: body})
	if err != nil {
		return err
	}

	task := asynq.NewTask(
		TaskDeliverWebhook,
		data,
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Second),
		asynq.Retention(time.Hour),
		asynq.Queue(QueueDefault),
	)
	if _, err := n.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue webhook: %w", err)
	}
	return nil
}

// newSweepTask builds the periodic task for a sweep.
func newSweepTask(taskType string, timeout time.Duration) *asynq.Task {
	return asynq.NewTask(
		taskType,
		nil,
		asynq.MaxRetry(0),
		asynq.Timeout(timeout),
		asynq.Queue(QueueDefault),
		// Two replicas running the scheduler enqueue the same tick only once.
		asynq.Unique(timeout),
	)
}
