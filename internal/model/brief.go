package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ContentBrief is the durable description of a narration artifact.
type ContentBrief struct {
	ID           string                                   `gorm:"type:uuid;primaryKey" json:"id"`
	Title        string                                   `gorm:"not null" json:"title"`
	OverrideText string                                   `gorm:"type:text" json:"overrideText,omitempty"`
	TemplateKind TemplateKind                             `gorm:"not null;default:'news_digest'" json:"templateKind"`
	Voice        datatypes.JSONType[VoiceConfig]          `gorm:"type:jsonb" json:"voice"`
	Recurrence   datatypes.JSONType[RecurrenceDescriptor] `gorm:"type:jsonb" json:"recurrence"`
	Status       BriefStatus                              `gorm:"not null;default:'draft';index" json:"status"`
	ScheduledAt  *time.Time                               `gorm:"index" json:"scheduledAt,omitempty"`
	AudioURL     string                                   `json:"audioUrl,omitempty"`
	Duration     float64                                  `json:"duration"`
	ByteSize     int64                                    `json:"byteSize"`
	LastError    string                                   `gorm:"type:text" json:"lastError,omitempty"`
	Metadata     datatypes.JSONType[BriefMetadata]        `gorm:"type:jsonb" json:"metadata"`
	Items        []ContentItem                            `gorm:"foreignKey:BriefID;constraint:OnDelete:CASCADE;" json:"items,omitempty"`
	CreatedAt    time.Time                                `json:"createdAt"`
	UpdatedAt    time.Time                                `json:"updatedAt"`
}

func (b *ContentBrief) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}

// HasOverride reports whether the brief supplies its own script.
func (b *ContentBrief) HasOverride() bool {
	return len(b.OverrideText) > 0
}

// ContentItem is one source item of a brief. Topic is the grouping key used
// when compiling the narration.
type ContentItem struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	BriefID    string    `gorm:"type:uuid;not null;index" json:"briefId"`
	Position   int       `gorm:"not null" json:"position"`
	Topic      string    `json:"topic"`
	Title      string    `gorm:"not null" json:"title"`
	Summary    string    `gorm:"type:text" json:"summary"`
	SourceName string    `json:"sourceName,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (i *ContentItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	return nil
}

// VoiceConfig holds the provider voice and its tuning.
type VoiceConfig struct {
	VoiceID         string  `json:"voiceId" validate:"required,max=64"`
	Model           string  `json:"model,omitempty" validate:"max=64"`
	Stability       float64 `json:"stability" validate:"min=0,max=1"`
	SimilarityBoost float64 `json:"similarityBoost" validate:"min=0,max=1"`
	Style           float64 `json:"style,omitempty" validate:"min=0,max=1"`
	SpeakerBoost    bool    `json:"speakerBoost,omitempty"`
}

// BriefMetadata is the bookkeeping the pipeline and sweepers keep on a brief.
type BriefMetadata struct {
	RetryCount         int        `json:"retry_count"`
	LastRetryAt        *time.Time `json:"last_retry_at,omitempty"`
	LastJobID          string     `json:"last_job_id,omitempty"`
	LastJobState       JobState   `json:"last_job_state,omitempty"`
	PublishImmediately bool       `json:"publish_immediately,omitempty"`
	WebhookURL         string     `json:"webhook_url,omitempty"`
	RecurrenceParentID string     `json:"recurrence_parent_id,omitempty"`
	RecurrenceFiredAt  *time.Time `json:"recurrence_fired_at,omitempty"`
	NextOccurrence     *time.Time `json:"next_occurrence,omitempty"`
	NextBriefID        string     `json:"next_brief_id,omitempty"`
}

// BriefUpdate is a partial update of a brief. Nil fields are left untouched.
type BriefUpdate struct {
	Status    *BriefStatus
	AudioURL  *string
	Duration  *float64
	ByteSize  *int64
	LastError *string
	Metadata  *BriefMetadata
}

// Columns flattens the update into a column map for the record store.
func (u BriefUpdate) Columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if u.Status != nil {
		cols["status"] = *u.Status
	}
	if u.AudioURL != nil {
		cols["audio_url"] = *u.AudioURL
	}
	if u.Duration != nil {
		cols["duration"] = *u.Duration
	}
	if u.ByteSize != nil {
		cols["byte_size"] = *u.ByteSize
	}
	if u.LastError != nil {
		cols["last_error"] = *u.LastError
	}
	if u.Metadata != nil {
		cols["metadata"] = datatypes.NewJSONType(*u.Metadata)
	}
	return cols
}

// Apply mutates b in place with the non-nil fields of u.
func (u BriefUpdate) Apply(b *ContentBrief) {
	if u.Status != nil {
		b.Status = *u.Status
	}
	if u.AudioURL != nil {
		b.AudioURL = *u.AudioURL
	}
	if u.Duration != nil {
		b.Duration = *u.Duration
	}
	if u.ByteSize != nil {
		b.ByteSize = *u.ByteSize
	}
	if u.LastError != nil {
		b.LastError = *u.LastError
	}
	if u.Metadata != nil {
		b.Metadata = datatypes.NewJSONType(*u.Metadata)
	}
}
