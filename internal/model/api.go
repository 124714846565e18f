package model

import "time"

// GenerateRequest represents the body of POST /api/briefs/:briefId/generate
type GenerateRequest struct {
	Priority           Priority `json:"priority" validate:"omitempty,oneof=high normal low"`
	WebhookURL         string   `json:"webhookUrl" validate:"omitempty,url,max=2048"`
	PublishImmediately bool     `json:"publishImmediately"`
}

// GenerateResponse is returned when a generation job is accepted
type GenerateResponse struct {
	JobID     string    `json:"jobId"`
	BriefID   string    `json:"briefId"`
	State     JobState  `json:"state"`
	Priority  Priority  `json:"priority"`
	Duplicate bool      `json:"duplicate"`
	CreatedAt time.Time `json:"createdAt"`
}

// CancelResponse represents the response for a cancel request
type CancelResponse struct {
	Success bool     `json:"success"`
	JobID   string   `json:"jobId"`
	State   JobState `json:"state"`
}

// QueueStatus summarises the admission queue
type QueueStatus struct {
	MaxConcurrent int          `json:"maxConcurrent"`
	Active        int          `json:"active"`
	Queued        int          `json:"queued"`
	ActiveBriefs  []string     `json:"activeBriefs"`
	Entries       []QueueEntry `json:"entries"`
}

// QueueEntry is one waiting brief in the admission queue
type QueueEntry struct {
	BriefID    string    `json:"briefId"`
	JobID      string    `json:"jobId"`
	Priority   Priority  `json:"priority"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Seq        uint64    `json:"-"`
}

// SchedulePreviewRequest represents the body of POST /api/schedule/preview
type SchedulePreviewRequest struct {
	Recurrence RecurrenceDescriptor `json:"recurrence" validate:"required"`
	Count      int                  `json:"count" validate:"omitempty,min=1,max=30"`
}

// SchedulePreviewResponse lists upcoming trigger instants
type SchedulePreviewResponse struct {
	Timezone    string      `json:"timezone"`
	Occurrences []time.Time `json:"occurrences"`
}

// CreateBriefRequest represents the body of POST /api/briefs
type CreateBriefRequest struct {
	Title              string                `json:"title" validate:"required,max=200"`
	OverrideText       string                `json:"overrideText" validate:"max=100000"`
	TemplateKind       TemplateKind          `json:"templateKind" validate:"omitempty,oneof=news_digest daily_briefing weekly_roundup deep_dive"`
	Voice              VoiceConfig           `json:"voice" validate:"required"`
	Items              []ItemInput           `json:"items" validate:"max=200,dive"`
	Recurrence         *RecurrenceDescriptor `json:"recurrence" validate:"omitempty"`
	ScheduledAt        *time.Time            `json:"scheduledAt"`
	PublishImmediately bool                  `json:"publishImmediately"`
	WebhookURL         string                `json:"webhookUrl" validate:"omitempty,url,max=2048"`
}

// ItemInput is one source item in a CreateBriefRequest
type ItemInput struct {
	Topic      string `json:"topic" validate:"max=100"`
	Title      string `json:"title" validate:"required,max=300"`
	Summary    string `json:"summary" validate:"max=5000"`
	SourceName string `json:"sourceName" validate:"max=200"`
}
