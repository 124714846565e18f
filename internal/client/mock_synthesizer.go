package client

import (
	"context"
	"fmt"
	"time"

	"github.com/briefcast/api/internal/model"
)

// MockSynthesizer produces placeholder audio without calling a provider. It
// is used when no synthesis API key is configured.
type MockSynthesizer struct {
	maxChars int
	delay    time.Duration
}

// NewMockSynthesizer creates a mock that takes delay per chunk.
func NewMockSynthesizer(maxChars int, delay time.Duration) *MockSynthesizer {
	if maxChars <= 0 {
		maxChars = 2500
	}
	return &MockSynthesizer{maxChars: maxChars, delay: delay}
}

func (m *MockSynthesizer) MaxChars() int {
	return m.maxChars
}

// Synthesize returns a fake MP3 frame sequence sized roughly like real audio
// for the text: about 1KB per 15 characters.
func (m *MockSynthesizer) Synthesize(ctx context.Context, req model.SynthesisRequest) ([]byte, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
	}

	size := len(req.Text)/15*1024 + 1024
	header := []byte(fmt.Sprintf("ID3mock:%s:", req.Voice.VoiceID))
	out := make([]byte, size)
	copy(out, header)
	return out, nil
}
