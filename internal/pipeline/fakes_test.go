package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/briefcast/api/internal/model"
)

type fakeStore struct {
	mu      sync.Mutex
	briefs  map[string]model.ContentBrief
	items   map[string][]model.ContentItem
	updates []model.BriefUpdate
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		briefs: make(map[string]model.ContentBrief),
		items:  make(map[string][]model.ContentItem),
	}
}

func (s *fakeStore) put(b model.ContentBrief, items ...model.ContentItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.briefs[b.ID] = b
	s.items[b.ID] = items
}

func (s *fakeStore) brief(id string) model.ContentBrief {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.briefs[id]
}

func (s *fakeStore) GetBrief(_ context.Context, id string) (*model.ContentBrief, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.briefs[id]
	if !ok {
		return nil, ErrBriefNotFound
	}
	return &b, nil
}

func (s *fakeStore) GetItems(_ context.Context, briefID string) ([]model.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ContentItem(nil), s.items[briefID]...), nil
}

func (s *fakeStore) UpdateBrief(_ context.Context, id string, u model.BriefUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.briefs[id]
	if !ok {
		return ErrBriefNotFound
	}
	u.Apply(&b)
	s.briefs[id] = b
	s.updates = append(s.updates, u)
	return nil
}

// fakeSynth echoes the chunk text as audio. hook runs before every call and
// may return an error to fail it.
type fakeSynth struct {
	mu    sync.Mutex
	calls []string
	max   int
	hook  func(n int, req model.SynthesisRequest) error
}

func (f *fakeSynth) Synthesize(ctx context.Context, req model.SynthesisRequest) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Text)
	n := len(f.calls)
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(n, req); err != nil {
			return nil, err
		}
	}
	return []byte("[" + req.Text + "]"), nil
}

func (f *fakeSynth) MaxChars() int {
	if f.max == 0 {
		return 5000
	}
	return f.max
}

func (f *fakeSynth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSynth) callTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeObjects struct {
	mu    sync.Mutex
	keys  []string
	body  []byte
	fails int
}

func (f *fakeObjects) Store(_ context.Context, key string, body []byte, _ string, _ model.Visibility) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	if f.fails > 0 {
		f.fails--
		return "", errors.New("bucket unavailable")
	}
	f.body = append([]byte(nil), body...)
	return "https://cdn.example.com/" + key, nil
}

func (f *fakeObjects) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

type fakeNotifier struct {
	mu       sync.Mutex
	payloads []model.WebhookPayload
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, _ string, p model.WebhookPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	return f.err
}

func (f *fakeNotifier) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.payloads {
		out = append(out, p.Event)
	}
	return out
}

// recorder collects every snapshot a job emits.
type recorder struct {
	mu    sync.Mutex
	snaps []model.JobSnapshot
}

func (r *recorder) Publish(s model.JobSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) states() []model.JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.JobState
	for _, s := range r.snaps {
		if len(out) == 0 || out[len(out)-1] != s.State {
			out = append(out, s.State)
		}
	}
	return out
}

func (r *recorder) progress() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.snaps))
	for i, s := range r.snaps {
		out[i] = s.Progress
	}
	return out
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// overrideBrief builds a brief whose script is n sentences of ten characters,
// so a chunk bound of ten yields exactly n chunks.
func overrideBrief(id string, n int) model.ContentBrief {
	sentences := make([]string, n)
	for i := range sentences {
		sentences[i] = fmt.Sprintf("Part%05d.", i)
	}
	return model.ContentBrief{
		ID:           id,
		Title:        "Brief " + id,
		OverrideText: strings.Join(sentences, " "),
		Status:       model.BriefStatusDraft,
		Voice:        datatypes.NewJSONType(model.VoiceConfig{VoiceID: "voice-1"}),
	}
}

func newTestRunner(store BriefStore, synth Synthesizer, objects ObjectStore, notifier Notifier) *Runner {
	r := NewRunner(store, synth, objects, notifier, RunnerConfig{
		MaxChars:       10,
		RetryBaseDelay: 10 * time.Millisecond,
		CallTimeout:    time.Second,
		UploadAttempts: 2,
		BitrateKbps:    128,
	}, quietLogger())
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func newTestJob(briefID string, maxRetries int, rec *recorder, opts SubmitOptions) *Job {
	return newJob(context.Background(), model.JobSnapshot{
		ID:                 "job-" + briefID,
		BriefID:            briefID,
		Priority:           model.PriorityNormal,
		MaxRetries:         maxRetries,
		WebhookURL:         opts.WebhookURL,
		PublishImmediately: opts.PublishImmediately,
		CreatedAt:          time.Now(),
	}, rec.Publish)
}

// waitTerminal polls until the job reaches a terminal state.
func waitTerminal(t *testing.T, d *Dispatcher, jobID string) model.JobSnapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := d.Status(jobID); ok && snap.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := d.Status(jobID)
	t.Fatalf("job %s did not finish, last state %s", jobID, snap.State)
	return snap
}
