package sweeper

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// InterruptedReason is recorded on briefs whose job vanished mid-flight,
// typically because the process restarted.
const InterruptedReason = "interrupted: job was lost before it finished"

// Pruner forgets finished jobs from the in-memory registry.
type Pruner interface {
	PruneFinished(retention time.Duration) int
	IsActive(briefID string) bool
}

// CleanupSweeper prunes finished jobs and fails briefs left in processing
// with no job behind them, which makes them eligible for the retry sweeper.
type CleanupSweeper struct {
	store      CleanupStore
	jobs       Pruner
	retention  time.Duration
	staleAfter time.Duration
	log        *logrus.Logger
	now        func() time.Time
}

// NewCleanupSweeper creates the cleanup sweeper.
func NewCleanupSweeper(store CleanupStore, jobs Pruner, retention, staleAfter time.Duration, log *logrus.Logger) *CleanupSweeper {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Hour
	}
	return &CleanupSweeper{
		store:      store,
		jobs:       jobs,
		retention:  retention,
		staleAfter: staleAfter,
		log:        log,
		now:        time.Now,
	}
}

func (s *CleanupSweeper) Name() string { return "cleanup" }

func (s *CleanupSweeper) SweepOnce(ctx context.Context) error {
	pruned := s.jobs.PruneFinished(s.retention)

	cutoff := s.now().Add(-s.staleAfter)
	stale, err := s.store.ListStale(ctx, cutoff, batchSize)
	if err != nil {
		return err
	}

	failed := 0
	for i := range stale {
		brief := &stale[i]
		if s.jobs.IsActive(brief.ID) {
			continue
		}
		if err := markFailed(ctx, s.store, brief, InterruptedReason); err != nil {
			s.log.WithError(err).WithField("brief_id", brief.ID).Error("Failed to mark stale brief")
			continue
		}
		failed++
	}

	s.log.WithFields(logrus.Fields{
		"pruned_jobs":   pruned,
		"stale_briefs":  len(stale),
		"failed_briefs": failed,
	}).Info("Cleanup sweep finished")
	return nil
}
