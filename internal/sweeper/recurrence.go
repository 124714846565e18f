package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/briefcast/api/internal/model"
	"github.com/briefcast/api/internal/pipeline"
	"github.com/briefcast/api/internal/schedule"
)

// RecurrenceSweeper fires scheduled briefs whose trigger instant has passed.
// A fired brief with an enabled recurrence gets a sibling brief scheduled at
// its next occurrence; the fired brief itself is never rescheduled.
type RecurrenceSweeper struct {
	store     RecurrenceStore
	submitter Submitter
	log       *logrus.Logger
	now       func() time.Time
}

// NewRecurrenceSweeper creates the recurrence sweeper.
func NewRecurrenceSweeper(store RecurrenceStore, submitter Submitter, log *logrus.Logger) *RecurrenceSweeper {
	return &RecurrenceSweeper{store: store, submitter: submitter, log: log, now: time.Now}
}

func (s *RecurrenceSweeper) Name() string { return "recurrence" }

// SweepOnce fires every due brief. A failure on one brief is logged and the
// pass moves on.
func (s *RecurrenceSweeper) SweepOnce(ctx context.Context) error {
	now := s.now().UTC()
	due, err := s.store.ListDue(ctx, now, batchSize)
	if err != nil {
		return err
	}

	fired := 0
	for i := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := s.fire(ctx, &due[i], now)
		if err != nil {
			s.log.WithError(err).WithField("brief_id", due[i].ID).Error("Failed to fire scheduled brief")
			continue
		}
		if ok {
			fired++
		}
	}

	if fired > 0 {
		s.log.WithFields(logrus.Fields{"due": len(due), "fired": fired}).Info("Recurrence sweep fired briefs")
	}
	return nil
}

func (s *RecurrenceSweeper) fire(ctx context.Context, brief *model.ContentBrief, now time.Time) (bool, error) {
	claimed, err := s.store.ClaimScheduled(ctx, brief.ID)
	if err != nil || !claimed {
		return false, err
	}

	logger := s.log.WithField("brief_id", brief.ID)
	meta := brief.Metadata.Data()
	meta.RecurrenceFiredAt = &now

	desc := brief.Recurrence.Data()
	if desc.Active() && meta.NextBriefID == "" {
		next, sibling, err := s.scheduleNext(ctx, brief, desc, now)
		if err != nil {
			logger.WithError(err).Warn("Could not schedule next occurrence")
		} else {
			meta.NextOccurrence = &next
			meta.NextBriefID = sibling
			logger.WithFields(logrus.Fields{
				"next_brief_id":   sibling,
				"next_occurrence": next.Format(time.RFC3339),
			}).Info("Scheduled next occurrence")
		}
	}

	// Bookkeeping is written before the job starts so the runner's own
	// metadata writes build on it.
	if err := s.store.UpdateBrief(ctx, brief.ID, model.BriefUpdate{Metadata: &meta}); err != nil {
		return false, fmt.Errorf("failed to record firing: %w", err)
	}
	brief.Metadata = datatypes.NewJSONType(meta)

	_, _, err = s.submitter.Submit(ctx, brief.ID, pipeline.SubmitOptions{
		Priority:           model.PriorityNormal,
		WebhookURL:         meta.WebhookURL,
		PublishImmediately: meta.PublishImmediately,
	})
	if err == nil {
		return true, nil
	}

	var verr *pipeline.ValidationError
	if errors.As(err, &verr) {
		logger.WithField("reason", verr.Reason).Warn("Scheduled brief is not valid")
		return false, markFailed(ctx, s.store, brief, verr.Error())
	}

	// Put it back so the next pass tries again.
	scheduled := model.BriefStatusScheduled
	if uerr := s.store.UpdateBrief(ctx, brief.ID, model.BriefUpdate{Status: &scheduled}); uerr != nil {
		logger.WithError(uerr).Error("Failed to return brief to scheduled")
	}
	return false, fmt.Errorf("failed to submit: %w", err)
}

// scheduleNext creates the sibling brief for the next occurrence and returns
// its trigger instant and id.
func (s *RecurrenceSweeper) scheduleNext(ctx context.Context, brief *model.ContentBrief, desc model.RecurrenceDescriptor, now time.Time) (time.Time, string, error) {
	next, err := schedule.NextOccurrence(desc, now)
	if err != nil {
		return time.Time{}, "", err
	}
	next = next.UTC()

	items, err := s.store.GetItems(ctx, brief.ID)
	if err != nil {
		return time.Time{}, "", err
	}
	copies := make([]model.ContentItem, len(items))
	for i, item := range items {
		copies[i] = model.ContentItem{
			Topic:      item.Topic,
			Title:      item.Title,
			Summary:    item.Summary,
			SourceName: item.SourceName,
		}
	}

	parent := brief.Metadata.Data()
	sibling := &model.ContentBrief{
		Title:        brief.Title,
		OverrideText: brief.OverrideText,
		TemplateKind: brief.TemplateKind,
		Voice:        brief.Voice,
		Recurrence:   brief.Recurrence,
		Status:       model.BriefStatusScheduled,
		ScheduledAt:  &next,
		Metadata: datatypes.NewJSONType(model.BriefMetadata{
			RecurrenceParentID: brief.ID,
			PublishImmediately: parent.PublishImmediately,
			WebhookURL:         parent.WebhookURL,
		}),
	}
	if err := s.store.CreateBrief(ctx, sibling, copies); err != nil {
		return time.Time{}, "", err
	}
	return next, sibling.ID, nil
}
