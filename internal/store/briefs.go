// Package store persists briefs in Postgres and mirrors job state in Redis.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/briefcast/api/internal/model"
	"github.com/briefcast/api/internal/pipeline"
)

// BriefStore is the Postgres-backed record store for briefs and items.
type BriefStore struct {
	db *gorm.DB
}

// NewBriefStore creates a brief store.
func NewBriefStore(db *gorm.DB) *BriefStore {
	return &BriefStore{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pipeline.ErrBriefNotFound
	}
	return err
}

// GetBrief loads a brief without its items.
func (s *BriefStore) GetBrief(ctx context.Context, id string) (*model.ContentBrief, error) {
	var brief model.ContentBrief
	if err := s.db.WithContext(ctx).First(&brief, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &brief, nil
}

// GetItems returns a brief's items in their stored order.
func (s *BriefStore) GetItems(ctx context.Context, briefID string) ([]model.ContentItem, error) {
	var items []model.ContentItem
	err := s.db.WithContext(ctx).
		Where("brief_id = ?", briefID).
		Order("position ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}
	return items, nil
}

// UpdateBrief applies a partial update in a single statement.
func (s *BriefStore) UpdateBrief(ctx context.Context, id string, update model.BriefUpdate) error {
	cols := update.Columns()
	if len(cols) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&model.ContentBrief{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("failed to update brief: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return pipeline.ErrBriefNotFound
	}
	return nil
}

// CreateBrief inserts a brief and its items in one transaction. Item IDs are
// regenerated and positions follow slice order.
func (s *BriefStore) CreateBrief(ctx context.Context, brief *model.ContentBrief, items []model.ContentItem) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		brief.Items = nil
		if err := tx.Create(brief).Error; err != nil {
			return fmt.Errorf("failed to create brief: %w", err)
		}
		if len(items) == 0 {
			return nil
		}
		rows := make([]model.ContentItem, len(items))
		for i, item := range items {
			item.ID = ""
			item.BriefID = brief.ID
			item.Position = i
			rows[i] = item
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to create items: %w", err)
		}
		return nil
	})
}

// ListDue returns scheduled briefs whose trigger instant is at or before now,
// oldest first.
func (s *BriefStore) ListDue(ctx context.Context, now time.Time, limit int) ([]model.ContentBrief, error) {
	var briefs []model.ContentBrief
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", model.BriefStatusScheduled, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&briefs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due briefs: %w", err)
	}
	return briefs, nil
}

// ClaimScheduled moves a brief from scheduled to processing. It reports
// false if another sweeper got there first.
func (s *BriefStore) ClaimScheduled(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.ContentBrief{}).
		Where("id = ? AND status = ?", id, model.BriefStatusScheduled).
		Update("status", model.BriefStatusProcessing)
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim brief: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ListFailedForRetry returns failed briefs whose retry counter is below
// ceiling.
func (s *BriefStore) ListFailedForRetry(ctx context.Context, ceiling, limit int) ([]model.ContentBrief, error) {
	var briefs []model.ContentBrief
	err := s.db.WithContext(ctx).
		Where("status = ?", model.BriefStatusFailed).
		Where("COALESCE((metadata->>'retry_count')::int, 0) < ?", ceiling).
		Order("updated_at ASC").
		Limit(limit).
		Find(&briefs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list failed briefs: %w", err)
	}
	return briefs, nil
}

// MarkRetry increments a failed brief's retry counter, stamps the retry time
// and moves it to processing, all under a row lock. It reports false when the
// brief is no longer failed or has reached the ceiling.
func (s *BriefStore) MarkRetry(ctx context.Context, id string, ceiling int, now time.Time) (*model.ContentBrief, bool, error) {
	var (
		brief   model.ContentBrief
		claimed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&brief, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		meta := brief.Metadata.Data()
		if brief.Status != model.BriefStatusFailed || meta.RetryCount >= ceiling {
			return nil
		}

		meta.RetryCount++
		at := now.UTC()
		meta.LastRetryAt = &at
		status := model.BriefStatusProcessing
		update := model.BriefUpdate{Status: &status, Metadata: &meta}
		if err := tx.Model(&model.ContentBrief{}).Where("id = ?", id).Updates(update.Columns()).Error; err != nil {
			return fmt.Errorf("failed to mark retry: %w", err)
		}
		update.Apply(&brief)
		claimed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &brief, claimed, nil
}

// ListStale returns briefs stuck in processing since before cutoff.
func (s *BriefStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]model.ContentBrief, error) {
	var briefs []model.ContentBrief
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.BriefStatusProcessing, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&briefs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale briefs: %w", err)
	}
	return briefs, nil
}

// Ping checks connectivity for health reporting.
func (s *BriefStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
