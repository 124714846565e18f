package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/briefcast/api/internal/model"
	"github.com/briefcast/api/internal/pipeline"
)

// SnapshotCache mirrors job snapshots into Redis so status survives the
// in-memory registry being pruned and is visible to other instances.
// Writes happen on a background goroutine; Publish never blocks. Pending
// writes coalesce per job, keeping only the newest snapshot, so a terminal
// snapshot is never lost to a burst of updates.
type SnapshotCache struct {
	redis *redis.Client
	ttl   time.Duration
	log   *logrus.Logger

	mu      sync.Mutex
	pending map[string]model.JobSnapshot
	wake    chan struct{}
}

// NewSnapshotCache creates the cache. Call Run to start writing.
func NewSnapshotCache(client *redis.Client, ttl time.Duration, log *logrus.Logger) *SnapshotCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SnapshotCache{
		redis:   client,
		ttl:     ttl,
		log:     log,
		pending: make(map[string]model.JobSnapshot),
		wake:    make(chan struct{}, 1),
	}
}

func snapshotKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// Publish queues snap for writing. It replaces any unwritten snapshot of the
// same job unless that one is already terminal.
func (c *SnapshotCache) Publish(snap model.JobSnapshot) {
	c.mu.Lock()
	if prev, ok := c.pending[snap.ID]; !ok || !prev.Terminal() {
		c.pending[snap.ID] = snap
	}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// take removes and returns every pending snapshot.
func (c *SnapshotCache) take() []model.JobSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.JobSnapshot, 0, len(c.pending))
	for id, snap := range c.pending {
		out = append(out, snap)
		delete(c.pending, id)
	}
	return out
}

// Run writes queued snapshots until ctx is done, then flushes what is left.
// Writes are not tied to ctx so a write in flight at shutdown completes.
func (c *SnapshotCache) Run(ctx context.Context) {
	for {
		select {
		case <-c.wake:
			c.flush()
		case <-ctx.Done():
			c.flush()
			return
		}
	}
}

func (c *SnapshotCache) flush() {
	for _, snap := range c.take() {
		c.write(snap)
	}
}

func (c *SnapshotCache) write(snap model.JobSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Save(ctx, snap); err != nil {
		c.log.WithError(err).WithField("job_id", snap.ID).Warn("Failed to mirror job snapshot")
	}
}

// Save writes one snapshot synchronously.
func (c *SnapshotCache) Save(ctx context.Context, snap model.JobSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, snapshotKey(snap.ID), data, c.ttl).Err()
}

// Get returns the mirrored snapshot for jobID.
func (c *SnapshotCache) Get(ctx context.Context, jobID string) (model.JobSnapshot, error) {
	data, err := c.redis.Get(ctx, snapshotKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.JobSnapshot{}, pipeline.ErrJobNotFound
		}
		return model.JobSnapshot{}, err
	}

	var snap model.JobSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.JobSnapshot{}, err
	}
	return snap, nil
}
