package model

import "time"

// JobSnapshot is an immutable copy of a job's observable state. It is what
// the progress bus fans out and what status queries return.
type JobSnapshot struct {
	ID                 string     `json:"id"`
	BriefID            string     `json:"briefId"`
	State              JobState   `json:"state"`
	Progress           int        `json:"progress"`
	CurrentStep        string     `json:"currentStep,omitempty"`
	Priority           Priority   `json:"priority"`
	RetryCount         int        `json:"retryCount"`
	MaxRetries         int        `json:"maxRetries"`
	ChunkCount         int        `json:"chunkCount,omitempty"`
	ChunksDone         int        `json:"chunksDone,omitempty"`
	WebhookURL         string     `json:"webhookUrl,omitempty"`
	PublishImmediately bool       `json:"publishImmediately"`
	AudioURL           string     `json:"audioUrl,omitempty"`
	Error              string     `json:"error,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	StartedAt          *time.Time `json:"startedAt,omitempty"`
	EndedAt            *time.Time `json:"endedAt,omitempty"`
}

// Terminal reports whether the snapshot is in a final state.
func (s JobSnapshot) Terminal() bool {
	return s.State.Terminal()
}

// Terminal reports whether no further transitions are possible from s.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// stateOrder is the position of each success-path state.
var stateOrder = map[JobState]int{
	JobStatePending:    0,
	JobStateProcessing: 1,
	JobStateGenerating: 2,
	JobStateUploading:  3,
	JobStateCompleted:  4,
}

// CanTransition enforces the forward-only state machine: success-path states
// only move forward, failed and cancelled are reachable from any
// non-terminal state, and terminal states never change.
func (s JobState) CanTransition(to JobState) bool {
	if s.Terminal() {
		return false
	}
	if to == JobStateFailed || to == JobStateCancelled {
		return true
	}
	from, ok := stateOrder[s]
	if !ok {
		return false
	}
	next, ok := stateOrder[to]
	return ok && next > from
}

// WebhookPayload is the body posted to a job's webhook URL.
type WebhookPayload struct {
	Event    string      `json:"event"`
	Job      JobSnapshot `json:"job"`
	AudioURL string      `json:"audioUrl,omitempty"`
	Duration float64     `json:"duration,omitempty"`
	SentAt   time.Time   `json:"sentAt"`
}

// Webhook event names
const (
	WebhookEventCompleted = "job.completed"
	WebhookEventFailed    = "job.failed"
)

// SynthesisRequest is one provider call for one chunk of narration.
type SynthesisRequest struct {
	Text  string
	Voice VoiceConfig
	Model string
}
