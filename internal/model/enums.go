package model

// Brief lifecycle status
type BriefStatus string

const (
	BriefStatusDraft      BriefStatus = "draft"
	BriefStatusScheduled  BriefStatus = "scheduled"
	BriefStatusProcessing BriefStatus = "processing"
	BriefStatusPublished  BriefStatus = "published"
	BriefStatusFailed     BriefStatus = "failed"
	BriefStatusCancelled  BriefStatus = "cancelled"
)

// Narration templates
type TemplateKind string

const (
	TemplateNewsDigest    TemplateKind = "news_digest"
	TemplateDailyBriefing TemplateKind = "daily_briefing"
	TemplateWeeklyRoundup TemplateKind = "weekly_roundup"
	TemplateDeepDive      TemplateKind = "deep_dive"
)

var ValidTemplateKinds = []TemplateKind{
	TemplateNewsDigest, TemplateDailyBriefing, TemplateWeeklyRoundup, TemplateDeepDive,
}

// Job state
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateGenerating JobState = "generating"
	JobStateUploading  JobState = "uploading"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
	JobStateCancelled  JobState = "cancelled"
)

// Priority tags
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank orders priorities for the queue; lower ranks are admitted first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Recurrence types
type RecurrenceType string

const (
	RecurrenceDaily  RecurrenceType = "daily"
	RecurrenceWeekly RecurrenceType = "weekly"
	RecurrenceCustom RecurrenceType = "custom"
)

// Object visibility
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)
