// Package sweeper holds the periodic maintenance passes over stored briefs:
// firing due recurrences, re-admitting failed briefs and cleaning up after
// finished or interrupted jobs.
package sweeper

import (
	"context"
	"time"

	"github.com/briefcast/api/internal/model"
	"github.com/briefcast/api/internal/pipeline"
)

// batchSize bounds how many briefs one pass touches.
const batchSize = 100

// Sweeper is one maintenance pass.
type Sweeper interface {
	Name() string
	SweepOnce(ctx context.Context) error
}

// Submitter is the part of the dispatcher sweepers drive.
type Submitter interface {
	Submit(ctx context.Context, briefID string, opts pipeline.SubmitOptions) (model.JobSnapshot, bool, error)
	IsActive(briefID string) bool
}

// Locker hands out cross-instance leases so only one replica runs a pass.
type Locker interface {
	TryLock(ctx context.Context, name string) (release func(), ok bool, err error)
}

// RecurrenceStore is the record store view the recurrence sweeper needs.
type RecurrenceStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.ContentBrief, error)
	ClaimScheduled(ctx context.Context, id string) (bool, error)
	GetItems(ctx context.Context, briefID string) ([]model.ContentItem, error)
	CreateBrief(ctx context.Context, brief *model.ContentBrief, items []model.ContentItem) error
	UpdateBrief(ctx context.Context, id string, update model.BriefUpdate) error
}

// RetryStore is the record store view the retry sweeper needs.
type RetryStore interface {
	ListFailedForRetry(ctx context.Context, ceiling, limit int) ([]model.ContentBrief, error)
	MarkRetry(ctx context.Context, id string, ceiling int, now time.Time) (*model.ContentBrief, bool, error)
	UpdateBrief(ctx context.Context, id string, update model.BriefUpdate) error
}

// CleanupStore is the record store view the cleanup sweeper needs.
type CleanupStore interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]model.ContentBrief, error)
	UpdateBrief(ctx context.Context, id string, update model.BriefUpdate) error
}

// markFailed records a failure reason on a brief that never reached a runner.
func markFailed(ctx context.Context, store interface {
	UpdateBrief(ctx context.Context, id string, update model.BriefUpdate) error
}, brief *model.ContentBrief, reason string) error {
	status := model.BriefStatusFailed
	meta := brief.Metadata.Data()
	meta.LastJobState = model.JobStateFailed
	return store.UpdateBrief(ctx, brief.ID, model.BriefUpdate{
		Status:    &status,
		LastError: &reason,
		Metadata:  &meta,
	})
}
