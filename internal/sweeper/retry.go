package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/briefcast/api/internal/model"
	"github.com/briefcast/api/internal/pipeline"
)

// RetrySweeper re-admits failed briefs at low priority until their retry
// counter reaches the ceiling.
type RetrySweeper struct {
	store     RetryStore
	submitter Submitter
	ceiling   int
	log       *logrus.Logger
	now       func() time.Time
}

// NewRetrySweeper creates the retry sweeper.
func NewRetrySweeper(store RetryStore, submitter Submitter, ceiling int, log *logrus.Logger) *RetrySweeper {
	if ceiling <= 0 {
		ceiling = 3
	}
	return &RetrySweeper{store: store, submitter: submitter, ceiling: ceiling, log: log, now: time.Now}
}

func (s *RetrySweeper) Name() string { return "retry" }

func (s *RetrySweeper) SweepOnce(ctx context.Context) error {
	failed, err := s.store.ListFailedForRetry(ctx, s.ceiling, batchSize)
	if err != nil {
		return err
	}

	retried := 0
	for i := range failed {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.retry(ctx, failed[i].ID) {
			retried++
		}
	}

	if retried > 0 {
		s.log.WithFields(logrus.Fields{"candidates": len(failed), "retried": retried}).Info("Retry sweep re-queued briefs")
	}
	return nil
}

func (s *RetrySweeper) retry(ctx context.Context, briefID string) bool {
	logger := s.log.WithField("brief_id", briefID)
	if s.submitter.IsActive(briefID) {
		return false
	}

	brief, ok, err := s.store.MarkRetry(ctx, briefID, s.ceiling, s.now())
	if err != nil {
		logger.WithError(err).Error("Failed to mark brief for retry")
		return false
	}
	if !ok {
		return false
	}

	meta := brief.Metadata.Data()
	logger = logger.WithField("retry_count", meta.RetryCount)

	snap, _, err := s.submitter.Submit(ctx, briefID, pipeline.SubmitOptions{
		Priority:           model.PriorityLow,
		WebhookURL:         meta.WebhookURL,
		PublishImmediately: meta.PublishImmediately,
		RetryCount:         meta.RetryCount,
	})
	if err != nil {
		reason := brief.LastError
		var verr *pipeline.ValidationError
		if errors.As(err, &verr) || reason == "" {
			reason = err.Error()
		}
		// The attempt is spent either way; the brief goes back to failed.
		if uerr := markFailed(ctx, s.store, brief, reason); uerr != nil {
			logger.WithError(uerr).Error("Failed to return brief to failed")
		}
		logger.WithError(err).Warn("Retry submission rejected")
		return false
	}

	logger.WithField("job_id", snap.ID).Info("Failed brief re-queued")
	return true
}
