// Package pipeline runs narration jobs: a priority queue behind a concurrency
// gate, a runner per admitted job and the in-memory job registry that status
// queries read from.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/briefcast/api/internal/model"
	"github.com/briefcast/api/internal/narration"
)

// SubmitOptions are the caller-controlled parameters of a job.
type SubmitOptions struct {
	Priority           model.Priority
	WebhookURL         string
	PublishImmediately bool
	// RetryCount is informational; it is copied from the brief by the retry sweep.
	RetryCount int
}

// Dispatcher owns the queue and the registry of jobs. It admits queued jobs
// whenever one is enqueued or an active job terminates.
type Dispatcher struct {
	queue      *JobQueue
	runner     *Runner
	store      BriefStore
	observers  []Observer
	maxRetries int
	log        *logrus.Logger

	mu      sync.Mutex
	jobs    map[string]*Job
	closed  bool
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	newID func() string
}

// NewDispatcher wires a dispatcher. Every job snapshot is fanned out to the
// observers in order.
func NewDispatcher(queue *JobQueue, runner *Runner, store BriefStore, maxRetries int, log *logrus.Logger, observers ...Observer) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Dispatcher{
		queue:      queue,
		runner:     runner,
		store:      store,
		observers:  observers,
		maxRetries: maxRetries,
		log:        log,
		jobs:       make(map[string]*Job),
		baseCtx:    ctx,
		stop:       stop,
		newID:      func() string { return uuid.New().String() },
	}
}

// Submit validates the brief and queues a job for it. If the brief is
// already queued or running, the existing job is returned with duplicate set
// and nothing new is queued.
func (d *Dispatcher) Submit(ctx context.Context, briefID string, opts SubmitOptions) (snap model.JobSnapshot, duplicate bool, err error) {
	if err := d.validate(ctx, briefID); err != nil {
		return model.JobSnapshot{}, false, err
	}

	if opts.Priority == "" {
		opts.Priority = model.PriorityNormal
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return model.JobSnapshot{}, false, ErrShuttingDown
	}
	if existing, ok := d.liveJobLocked(briefID); ok {
		d.mu.Unlock()
		return existing.Snapshot(), true, nil
	}

	job := newJob(d.baseCtx, model.JobSnapshot{
		ID:                 d.newID(),
		BriefID:            briefID,
		Priority:           opts.Priority,
		RetryCount:         opts.RetryCount,
		MaxRetries:         d.maxRetries,
		WebhookURL:         opts.WebhookURL,
		PublishImmediately: opts.PublishImmediately,
		CreatedAt:          time.Now().UTC(),
		CurrentStep:        "Queued",
	}, d.publish)

	if !d.queue.Enqueue(briefID, job.ID(), opts.Priority) {
		// Admitted elsewhere between the lookup and now.
		d.mu.Unlock()
		job.release()
		if existing, ok := d.liveJob(briefID); ok {
			return existing.Snapshot(), true, nil
		}
		return model.JobSnapshot{}, false, errors.New("brief is already queued")
	}
	d.jobs[job.ID()] = job
	job.announce()
	snap = job.Snapshot()
	d.mu.Unlock()

	d.log.WithFields(logrus.Fields{
		"job_id":   snap.ID,
		"brief_id": briefID,
		"priority": opts.Priority,
	}).Info("Narration job queued")

	d.drain()
	return snap, false, nil
}

// validate rejects briefs that can never produce narration.
func (d *Dispatcher) validate(ctx context.Context, briefID string) error {
	brief, err := d.store.GetBrief(ctx, briefID)
	if err != nil {
		return err
	}
	if brief.HasOverride() {
		if narration.Normalize(brief.OverrideText) == "" {
			return &ValidationError{BriefID: briefID, Reason: "override text is empty after normalization"}
		}
		return nil
	}
	if _, err := narration.Lookup(brief.TemplateKind); err != nil {
		return &ValidationError{BriefID: briefID, Reason: err.Error()}
	}
	items, err := d.store.GetItems(ctx, briefID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return &ValidationError{BriefID: briefID, Reason: "brief has no items and no override text"}
	}
	return nil
}

// drain admits queued jobs until the gate is full or the queue is empty.
func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return
		}

		entry, ok := d.queue.TryAdmitNext()
		if !ok {
			return
		}

		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			d.queue.Release(entry.BriefID)
			return
		}
		job := d.jobs[entry.JobID]
		if job != nil {
			d.wg.Add(1)
		}
		d.mu.Unlock()

		if job == nil {
			d.queue.Release(entry.BriefID)
			continue
		}
		go d.execute(job)
	}
}

func (d *Dispatcher) execute(job *Job) {
	defer d.wg.Done()
	defer func() {
		d.queue.Release(job.BriefID())
		d.drain()
	}()
	d.runner.Run(job)
}

// Cancel requests cancellation of a job. It returns false if the job is
// unknown or already terminal.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) bool {
	d.mu.Lock()
	job, ok := d.jobs[jobID]
	d.mu.Unlock()
	if !ok {
		return false
	}

	if !job.requestCancel() {
		return false
	}
	// A job admitted in the meantime is finished by its runner instead.
	queued := d.queue.RemoveJob(job.BriefID(), jobID)

	logger := d.log.WithFields(logrus.Fields{"job_id": jobID, "brief_id": job.BriefID()})
	if queued {
		// Never reached a runner, so the brief is updated here.
		persistCancelled(ctx, d.store, job, logger)
		logger.Info("Queued narration job cancelled")
	} else {
		logger.Info("Cancellation requested for running narration job")
	}
	return true
}

// Status returns the latest snapshot of a job.
func (d *Dispatcher) Status(jobID string) (model.JobSnapshot, bool) {
	d.mu.Lock()
	job, ok := d.jobs[jobID]
	d.mu.Unlock()
	if !ok {
		return model.JobSnapshot{}, false
	}
	return job.Snapshot(), true
}

// IsActive reports whether a job for briefID is queued or running.
func (d *Dispatcher) IsActive(briefID string) bool {
	_, ok := d.liveJob(briefID)
	return ok
}

// QueueStatus describes the admission queue.
func (d *Dispatcher) QueueStatus() model.QueueStatus {
	return d.queue.Status()
}

// PruneFinished forgets terminal jobs that ended before now minus retention
// and returns how many were removed.
func (d *Dispatcher) PruneFinished(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for id, job := range d.jobs {
		snap := job.Snapshot()
		if snap.Terminal() && snap.EndedAt != nil && snap.EndedAt.Before(cutoff) {
			delete(d.jobs, id)
			removed++
		}
	}
	return removed
}

// Shutdown stops accepting jobs and waits for running ones. When ctx expires
// first, running jobs are interrupted and fail.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.stop()
		return nil
	case <-ctx.Done():
		d.stop()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) liveJob(briefID string) (*Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveJobLocked(briefID)
}

func (d *Dispatcher) liveJobLocked(briefID string) (*Job, bool) {
	jobID, ok := d.queue.Lookup(briefID)
	if !ok {
		return nil, false
	}
	job, ok := d.jobs[jobID]
	return job, ok
}

func (d *Dispatcher) publish(snap model.JobSnapshot) {
	for _, o := range d.observers {
		o.Publish(snap)
	}
}
