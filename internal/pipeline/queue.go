package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/briefcast/api/internal/model"
)

// JobQueue is the priority-ordered holding area in front of the concurrency
// gate. Entries are ordered by (priority rank, enqueue sequence) and at most
// one entry or active job exists per brief.
type JobQueue struct {
	mu            sync.Mutex
	maxConcurrent int
	seq           uint64
	entries       []model.QueueEntry
	queued        map[string]string // briefID -> jobID
	active        map[string]string // briefID -> jobID
	now           func() time.Time
}

// NewJobQueue creates a queue admitting at most maxConcurrent jobs at once.
func NewJobQueue(maxConcurrent int) *JobQueue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &JobQueue{
		maxConcurrent: maxConcurrent,
		queued:        make(map[string]string),
		active:        make(map[string]string),
		now:           time.Now,
	}
}

// Enqueue adds an entry for briefID. It returns false, leaving the queue
// untouched, if the brief is already queued or running.
func (q *JobQueue) Enqueue(briefID, jobID string, priority model.Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queued[briefID]; ok {
		return false
	}
	if _, ok := q.active[briefID]; ok {
		return false
	}

	q.seq++
	entry := model.QueueEntry{
		BriefID:    briefID,
		JobID:      jobID,
		Priority:   priority,
		EnqueuedAt: q.now().UTC(),
		Seq:        q.seq,
	}

	// Insert after every entry of equal or better rank.
	rank := priority.Rank()
	i := sort.Search(len(q.entries), func(i int) bool {
		return q.entries[i].Priority.Rank() > rank
	})
	q.entries = append(q.entries, model.QueueEntry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = entry

	q.queued[briefID] = jobID
	return true
}

// TryAdmitNext pops the head entry if a concurrency slot is free and marks
// its brief active.
func (q *JobQueue) TryAdmitNext() (model.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 || len(q.active) >= q.maxConcurrent {
		return model.QueueEntry{}, false
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	delete(q.queued, head.BriefID)
	q.active[head.BriefID] = head.JobID
	return head, true
}

// Release frees the slot held by briefID.
func (q *JobQueue) Release(briefID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, briefID)
}

// RemoveJob drops briefID's waiting entry only while it belongs to jobID. It
// reports false if the brief is not queued or is queued under another job.
func (q *JobQueue) RemoveJob(briefID, jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if queued, ok := q.queued[briefID]; !ok || queued != jobID {
		return false
	}
	for i, e := range q.entries {
		if e.BriefID == briefID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	delete(q.queued, briefID)
	return true
}

// Lookup returns the job holding briefID's queue entry or slot.
func (q *JobQueue) Lookup(briefID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if id, ok := q.queued[briefID]; ok {
		return id, true
	}
	id, ok := q.active[briefID]
	return id, ok
}

// IsActive reports whether briefID currently holds a slot.
func (q *JobQueue) IsActive(briefID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.active[briefID]
	return ok
}

// ActiveCount returns the number of occupied slots.
func (q *JobQueue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// Status returns a copy of the queue's state.
func (q *JobQueue) Status() model.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	briefs := make([]string, 0, len(q.active))
	for id := range q.active {
		briefs = append(briefs, id)
	}
	sort.Strings(briefs)

	entries := make([]model.QueueEntry, len(q.entries))
	copy(entries, q.entries)

	return model.QueueStatus{
		MaxConcurrent: q.maxConcurrent,
		Active:        len(q.active),
		Queued:        len(q.entries),
		ActiveBriefs:  briefs,
		Entries:       entries,
	}
}
