package pipeline

import (
	"context"

	"github.com/briefcast/api/internal/model"
)

// BriefStore is the record store the pipeline reads briefs from and writes
// outcomes back to.
type BriefStore interface {
	GetBrief(ctx context.Context, id string) (*model.ContentBrief, error)
	GetItems(ctx context.Context, briefID string) ([]model.ContentItem, error)
	UpdateBrief(ctx context.Context, id string, update model.BriefUpdate) error
}

// Synthesizer turns one chunk of text into audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, req model.SynthesisRequest) ([]byte, error)
	// MaxChars is the largest text the provider accepts in one call.
	MaxChars() int
}

// ObjectStore persists the assembled artifact and returns its URL.
type ObjectStore interface {
	Store(ctx context.Context, key string, body []byte, contentType string, visibility model.Visibility) (string, error)
}

// Notifier delivers webhook payloads. Delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, url string, payload model.WebhookPayload) error
}

// Observer receives every job snapshot as it is produced. Publish must not
// block.
type Observer interface {
	Publish(snap model.JobSnapshot)
}
