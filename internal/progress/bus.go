// Package progress fans job snapshots out to per-job subscribers.
package progress

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/briefcast/api/internal/model"
)

const defaultBuffer = 32

// Subscription receives the snapshots of one job. C is closed after the
// job's terminal snapshot or when Close is called.
type Subscription struct {
	C <-chan model.JobSnapshot

	ch    chan model.JobSnapshot
	jobID string
	bus   *Bus
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus is a registry of subscriptions keyed by job ID. Publish never blocks:
// a subscriber that falls behind loses its oldest undelivered snapshot.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	log    *logrus.Logger
}

// NewBus creates a bus whose subscriptions buffer up to buffer snapshots.
func NewBus(buffer int, log *logrus.Logger) *Bus {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Bus{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		log:    log,
	}
}

// Subscribe registers interest in jobID.
func (b *Bus) Subscribe(jobID string) *Subscription {
	ch := make(chan model.JobSnapshot, b.buffer)
	sub := &Subscription{C: ch, ch: ch, jobID: jobID, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[*Subscription]struct{})
	}
	b.subs[jobID][sub] = struct{}{}
	return sub
}

// Publish delivers snap to every subscriber of its job. A terminal snapshot
// also closes those subscriptions.
func (b *Bus) Publish(snap model.JobSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[snap.ID]
	for sub := range subs {
		deliver(sub.ch, snap, b.log)
	}

	if snap.Terminal() {
		for sub := range subs {
			close(sub.ch)
		}
		delete(b.subs, snap.ID)
	}
}

// deliver sends without blocking, evicting the oldest buffered snapshot when
// the subscriber is full. Later snapshots supersede earlier ones.
func deliver(ch chan model.JobSnapshot, snap model.JobSnapshot, log *logrus.Logger) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
		log.WithField("job_id", snap.ID).Debug("Slow progress subscriber, dropped oldest event")
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// SubscriberCount returns the number of live subscriptions for jobID.
func (b *Bus) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subs[sub.jobID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(b.subs, sub.jobID)
	}
}
