package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/briefcast/api/internal/model"
)

// Job is the in-memory execution handle for one generation attempt. All
// mutations go through its methods, which enforce the state machine and emit
// a snapshot for every accepted change.
type Job struct {
	mu     sync.Mutex
	snap   model.JobSnapshot
	notify func(model.JobSnapshot)
	// committing is set once the result is being persisted; cancel is refused after.
	committing bool

	ctx    context.Context
	cancel context.CancelFunc
}

func newJob(parent context.Context, snap model.JobSnapshot, notify func(model.JobSnapshot)) *Job {
	if notify == nil {
		notify = func(model.JobSnapshot) {}
	}
	ctx, cancel := context.WithCancel(parent)
	snap.State = model.JobStatePending
	return &Job{snap: snap, notify: notify, ctx: ctx, cancel: cancel}
}

// ID returns the job identifier.
func (j *Job) ID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap.ID
}

// BriefID returns the brief the job generates.
func (j *Job) BriefID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap.BriefID
}

// Snapshot returns a copy of the job's current state.
func (j *Job) Snapshot() model.JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.copyLocked()
}

// Cancelled reports whether cancellation was requested.
func (j *Job) Cancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap.State == model.JobStateCancelled
}

// Context is cancelled when the job is cancelled or the dispatcher stops.
func (j *Job) Context() context.Context {
	return j.ctx
}

func (j *Job) copyLocked() model.JobSnapshot {
	s := j.snap
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		s.EndedAt = &t
	}
	return s
}

// emitLocked publishes under the lock so a job's events are observed in the
// order they were applied.
func (j *Job) emitLocked() {
	j.notify(j.copyLocked())
}

// announce emits the current snapshot without changing it.
func (j *Job) announce() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.emitLocked()
}

// transition moves the job to state to. It returns false when the state
// machine forbids the move, typically because the job was cancelled.
func (j *Job) transition(to model.JobState, progress int, step string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(to, progress, step, nil)
}

func (j *Job) transitionLocked(to model.JobState, progress int, step string, mutate func(*model.JobSnapshot)) bool {
	if !j.snap.State.CanTransition(to) {
		return false
	}
	now := time.Now().UTC()
	if to == model.JobStateProcessing && j.snap.StartedAt == nil {
		j.snap.StartedAt = &now
	}
	if to.Terminal() {
		j.snap.EndedAt = &now
	}
	j.snap.State = to
	if progress > j.snap.Progress {
		j.snap.Progress = progress
	}
	if step != "" {
		j.snap.CurrentStep = step
	}
	if mutate != nil {
		mutate(&j.snap)
	}
	j.emitLocked()
	return true
}

// advance raises progress within the current state. Progress never goes
// backwards and is frozen once the job is terminal.
func (j *Job) advance(progress int, step string, mutate func(*model.JobSnapshot)) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.snap.State.Terminal() {
		return false
	}
	if progress > j.snap.Progress {
		j.snap.Progress = progress
	}
	if step != "" {
		j.snap.CurrentStep = step
	}
	if mutate != nil {
		mutate(&j.snap)
	}
	j.emitLocked()
	return true
}

func (j *Job) complete(audioURL string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(model.JobStateCompleted, 100, "Completed", func(s *model.JobSnapshot) {
		s.AudioURL = audioURL
	})
}

func (j *Job) fail(msg string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(model.JobStateFailed, 0, "Failed", func(s *model.JobSnapshot) {
		s.Error = msg
	})
}

// requestCancel flips the job to cancelled and signals its context. The
// runner notices at its next checkpoint.
func (j *Job) requestCancel() bool {
	j.mu.Lock()
	if j.committing || !j.transitionLocked(model.JobStateCancelled, 0, "Cancelled", nil) {
		j.mu.Unlock()
		return false
	}
	j.mu.Unlock()
	j.cancel()
	return true
}

// commit closes the cancellation window before the result is persisted. It
// returns false if the job was cancelled first.
func (j *Job) commit() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snap.State.Terminal() {
		return false
	}
	j.committing = true
	return true
}

// release frees the job's context once it is finished.
func (j *Job) release() {
	j.cancel()
}
