package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/briefcast/api/internal/config"
	"github.com/briefcast/api/internal/model"
)

// ErrSynthesisTimeout is returned when a provider call exceeds its deadline.
var ErrSynthesisTimeout = errors.New("synthesis request timed out")

// ProviderError is a non-2xx answer from the synthesis API.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("synthesis API error (status %d): %s", e.StatusCode, e.Body)
}

// Temporary reports whether the same request may succeed later: rate limits,
// request timeouts and server errors.
func (e *ProviderError) Temporary() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// timeoutError marks ErrSynthesisTimeout as a timeout for callers that
// classify by behaviour.
type timeoutError struct{ err error }

func (e *timeoutError) Error() string   { return ErrSynthesisTimeout.Error() + ": " + e.err.Error() }
func (e *timeoutError) Unwrap() []error { return []error{ErrSynthesisTimeout, e.err} }
func (e *timeoutError) Timeout() bool   { return true }

// transportError is a failure to reach the provider or read its answer.
// It is always worth retrying.
type transportError struct{ err error }

func (e *transportError) Error() string   { return "synthesis transport error: " + e.err.Error() }
func (e *transportError) Unwrap() error   { return e.err }
func (e *transportError) Temporary() bool { return true }

// SynthesisClient talks to an ElevenLabs-compatible text-to-speech API
type SynthesisClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	model        string
	outputFormat string
	maxChars     int
	log          *logrus.Logger
}

// NewSynthesisClient creates a new synthesis client
func NewSynthesisClient(cfg *config.SynthesisConfig, log *logrus.Logger) *SynthesisClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = 2500
	}
	return &SynthesisClient{
		// The per-call deadline comes from the caller's context; this is a backstop.
		httpClient:   &http.Client{Timeout: 2 * timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		outputFormat: cfg.OutputFormat,
		maxChars:     maxChars,
		log:          log,
	}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// MaxChars is the largest chunk the provider accepts in one request.
func (c *SynthesisClient) MaxChars() int {
	return c.maxChars
}

// Synthesize converts one chunk of text into audio bytes.
func (c *SynthesisClient) Synthesize(ctx context.Context, req model.SynthesisRequest) ([]byte, error) {
	if req.Voice.VoiceID == "" {
		return nil, &ProviderError{StatusCode: http.StatusBadRequest, Body: "voice id is required"}
	}

	modelID := req.Model
	if req.Voice.Model != "" {
		modelID = req.Voice.Model
	}
	if modelID == "" {
		modelID = c.model
	}

	endpoint := fmt.Sprintf("/v1/text-to-speech/%s", url.PathEscape(req.Voice.VoiceID))
	if c.outputFormat != "" {
		endpoint += "?output_format=" + url.QueryEscape(c.outputFormat)
	}

	body := ttsRequest{
		Text:    req.Text,
		ModelID: modelID,
		VoiceSettings: voiceSettings{
			Stability:       req.Voice.Stability,
			SimilarityBoost: req.Voice.SimilarityBoost,
			Style:           req.Voice.Style,
			UseSpeakerBoost: req.Voice.SpeakerBoost,
		},
	}
	return c.post(ctx, endpoint, body)
}

// post sends a POST request with JSON body and returns the raw response
func (c *SynthesisClient) post(ctx context.Context, endpoint string, body interface{}) ([]byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.apiKey)

	logger := c.log.WithFields(logrus.Fields{"method": req.Method, "path": req.URL.Path})
	logger.Debug("Synthesis request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			logger.WithError(err).Warn("Synthesis request timed out")
			return nil, &timeoutError{err: err}
		}
		logger.WithError(err).Warn("Synthesis request failed")
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, &timeoutError{err: err}
		}
		return nil, &transportError{err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.WithFields(logrus.Fields{"status": resp.StatusCode}).Warn("Synthesis API returned an error")
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	logger.WithFields(logrus.Fields{"status": resp.StatusCode, "bytes": len(respBody)}).Debug("Synthesis response")
	return respBody, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *SynthesisClient) IsConfigured() bool {
	return c.apiKey != ""
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var to interface{ Timeout() bool }
	return errors.As(err, &to) && to.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
