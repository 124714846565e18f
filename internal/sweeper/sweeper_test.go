package sweeper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/briefcast/api/internal/model"
	"github.com/briefcast/api/internal/pipeline"
)

// memStore is an in-memory record store covering every sweeper view.
type memStore struct {
	mu     sync.Mutex
	briefs map[string]*model.ContentBrief
	items  map[string][]model.ContentItem
	seq    int
}

func newMemStore() *memStore {
	return &memStore{briefs: make(map[string]*model.ContentBrief), items: make(map[string][]model.ContentItem)}
}

func (s *memStore) put(b model.ContentBrief, items ...model.ContentItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.briefs[b.ID] = &b
	s.items[b.ID] = items
}

func (s *memStore) get(id string) model.ContentBrief {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.briefs[id]
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.briefs)
}

func (s *memStore) ListDue(_ context.Context, now time.Time, limit int) ([]model.ContentBrief, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ContentBrief
	for _, b := range s.briefs {
		if b.Status == model.BriefStatusScheduled && b.ScheduledAt != nil && !b.ScheduledAt.After(now) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *memStore) ClaimScheduled(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.briefs[id]
	if !ok || b.Status != model.BriefStatusScheduled {
		return false, nil
	}
	b.Status = model.BriefStatusProcessing
	return true, nil
}

func (s *memStore) GetItems(_ context.Context, briefID string) ([]model.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ContentItem(nil), s.items[briefID]...), nil
}

func (s *memStore) CreateBrief(_ context.Context, brief *model.ContentBrief, items []model.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	brief.ID = fmt.Sprintf("sibling-%d", s.seq)
	b := *brief
	s.briefs[b.ID] = &b
	s.items[b.ID] = items
	return nil
}

func (s *memStore) UpdateBrief(_ context.Context, id string, u model.BriefUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.briefs[id]
	if !ok {
		return pipeline.ErrBriefNotFound
	}
	u.Apply(b)
	return nil
}

func (s *memStore) ListFailedForRetry(_ context.Context, ceiling, limit int) ([]model.ContentBrief, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ContentBrief
	for _, b := range s.briefs {
		if b.Status == model.BriefStatusFailed && b.Metadata.Data().RetryCount < ceiling {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *memStore) MarkRetry(_ context.Context, id string, ceiling int, now time.Time) (*model.ContentBrief, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.briefs[id]
	if !ok {
		return nil, false, pipeline.ErrBriefNotFound
	}
	meta := b.Metadata.Data()
	if b.Status != model.BriefStatusFailed || meta.RetryCount >= ceiling {
		return nil, false, nil
	}
	meta.RetryCount++
	meta.LastRetryAt = &now
	b.Metadata = datatypes.NewJSONType(meta)
	b.Status = model.BriefStatusProcessing
	out := *b
	return &out, true, nil
}

func (s *memStore) ListStale(_ context.Context, cutoff time.Time, limit int) ([]model.ContentBrief, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ContentBrief
	for _, b := range s.briefs {
		if b.Status == model.BriefStatusProcessing && b.UpdatedAt.Before(cutoff) {
			out = append(out, *b)
		}
	}
	return out, nil
}

type submission struct {
	briefID string
	opts    pipeline.SubmitOptions
}

type fakeSubmitter struct {
	mu      sync.Mutex
	calls   []submission
	err     error
	active  map[string]bool
	pruned  int
	pruneAt time.Duration
}

func (f *fakeSubmitter) Submit(_ context.Context, briefID string, opts pipeline.SubmitOptions) (model.JobSnapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, submission{briefID, opts})
	if f.err != nil {
		return model.JobSnapshot{}, false, f.err
	}
	return model.JobSnapshot{ID: "job-" + briefID, BriefID: briefID, State: model.JobStatePending}, false, nil
}

func (f *fakeSubmitter) IsActive(briefID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[briefID]
}

func (f *fakeSubmitter) PruneFinished(retention time.Duration) int {
	f.pruneAt = retention
	return f.pruned
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRecurrenceSweeper_FiresAndSchedulesSibling(t *testing.T) {
	store := newMemStore()
	now := time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC) // 06:00 in Riyadh
	due := now.Add(-time.Minute)
	store.put(model.ContentBrief{
		ID:           "b1",
		Title:        "Morning Wire",
		TemplateKind: model.TemplateNewsDigest,
		Status:       model.BriefStatusScheduled,
		ScheduledAt:  &due,
		Voice:        datatypes.NewJSONType(model.VoiceConfig{VoiceID: "v1"}),
		Recurrence: datatypes.NewJSONType(model.RecurrenceDescriptor{
			Type: model.RecurrenceDaily, TimeOfDay: "06:00", Timezone: "Asia/Riyadh", Enabled: true,
		}),
		Metadata: datatypes.NewJSONType(model.BriefMetadata{WebhookURL: "https://hook", PublishImmediately: true}),
	}, model.ContentItem{ID: "i1", BriefID: "b1", Topic: "tech", Title: "Chips"})

	sub := &fakeSubmitter{}
	s := NewRecurrenceSweeper(store, sub, quietLogger())
	s.now = fixedNow(now)

	if err := s.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}

	if len(sub.calls) != 1 || sub.calls[0].briefID != "b1" {
		t.Fatalf("submissions = %+v", sub.calls)
	}
	opts := sub.calls[0].opts
	if opts.Priority != model.PriorityNormal || opts.WebhookURL != "https://hook" || !opts.PublishImmediately {
		t.Errorf("submit options = %+v", opts)
	}

	fired := store.get("b1")
	meta := fired.Metadata.Data()
	if fired.Status != model.BriefStatusProcessing {
		t.Errorf("fired status = %s", fired.Status)
	}
	if fired.ScheduledAt == nil || !fired.ScheduledAt.Equal(due) {
		t.Error("fired brief was rescheduled")
	}
	if meta.RecurrenceFiredAt == nil || meta.NextBriefID == "" || meta.NextOccurrence == nil {
		t.Fatalf("fired metadata = %+v", meta)
	}

	// 06:00 Riyadh exactly is not still in the future, so tomorrow.
	want := time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC)
	if !meta.NextOccurrence.Equal(want) {
		t.Errorf("next occurrence = %v, want %v", meta.NextOccurrence, want)
	}

	sibling := store.get(meta.NextBriefID)
	smeta := sibling.Metadata.Data()
	if sibling.Status != model.BriefStatusScheduled || sibling.ScheduledAt == nil || !sibling.ScheduledAt.Equal(want) {
		t.Errorf("sibling = %s at %v", sibling.Status, sibling.ScheduledAt)
	}
	if smeta.RecurrenceParentID != "b1" || smeta.WebhookURL != "https://hook" || smeta.RetryCount != 0 {
		t.Errorf("sibling metadata = %+v", smeta)
	}
	if sibling.Title != "Morning Wire" || sibling.Voice.Data().VoiceID != "v1" {
		t.Errorf("sibling fields not copied: %+v", sibling)
	}
	items, _ := store.GetItems(context.Background(), sibling.ID)
	if len(items) != 1 || items[0].Title != "Chips" || items[0].ID != "" {
		t.Errorf("sibling items = %+v", items)
	}

	// A second pass finds nothing due: the sibling is tomorrow and b1 is claimed.
	if err := s.SweepOnce(context.Background()); err != nil {
		t.Fatalf("second SweepOnce: %v", err)
	}
	if len(sub.calls) != 1 {
		t.Errorf("second pass submitted again: %+v", sub.calls)
	}
}

func TestRecurrenceSweeper_NoRecurrenceNoSibling(t *testing.T) {
	store := newMemStore()
	now := time.Now().UTC()
	due := now.Add(-time.Second)
	store.put(model.ContentBrief{ID: "once", Status: model.BriefStatusScheduled, ScheduledAt: &due})

	sub := &fakeSubmitter{}
	s := NewRecurrenceSweeper(store, sub, quietLogger())
	s.now = fixedNow(now)

	if err := s.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if store.count() != 1 {
		t.Errorf("briefs = %d, want no sibling", store.count())
	}
	if meta := store.get("once").Metadata.Data(); meta.RecurrenceFiredAt == nil || meta.NextBriefID != "" {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestRecurrenceSweeper_ValidationFailureMarksFailed(t *testing.T) {
	store := newMemStore()
	now := time.Now().UTC()
	due := now.Add(-time.Second)
	store.put(model.ContentBrief{ID: "empty", Status: model.BriefStatusScheduled, ScheduledAt: &due})

	sub := &fakeSubmitter{err: &pipeline.ValidationError{BriefID: "empty", Reason: "no items"}}
	s := NewRecurrenceSweeper(store, sub, quietLogger())
	s.now = fixedNow(now)

	if err := s.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	b := store.get("empty")
	if b.Status != model.BriefStatusFailed || b.LastError == "" {
		t.Errorf("brief = %s %q, want failed with reason", b.Status, b.LastError)
	}
}

func TestRecurrenceSweeper_SubmitErrorReschedules(t *testing.T) {
	store := newMemStore()
	now := time.Now().UTC()
	due := now.Add(-time.Second)
	store.put(model.ContentBrief{ID: "b", Status: model.BriefStatusScheduled, ScheduledAt: &due})

	sub := &fakeSubmitter{err: pipeline.ErrShuttingDown}
	s := NewRecurrenceSweeper(store, sub, quietLogger())
	s.now = fixedNow(now)

	if err := s.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if got := store.get("b").Status; got != model.BriefStatusScheduled {
		t.Errorf("status = %s, want scheduled", got)
	}
}

func TestRetrySweeper_RequeuesAtLowPriority(t *testing.T) {
	store := newMemStore()
	store.put(model.ContentBrief{
		ID:        "f1",
		Status:    model.BriefStatusFailed,
		LastError: "chunk 2 failed after 4 attempts",
		Metadata:  datatypes.NewJSONType(model.BriefMetadata{RetryCount: 1, WebhookURL: "https://hook", PublishImmediately: true}),
	})
	store.put(model.ContentBrief{
		ID:       "spent",
		Status:   model.BriefStatusFailed,
		Metadata: datatypes.NewJSONType(model.BriefMetadata{RetryCount: 3}),
	})

	sub := &fakeSubmitter{}
	s := NewRetrySweeper(store, sub, 3, quietLogger())
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = fixedNow(now)

	if err := s.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if len(sub.calls) != 1 || sub.calls[0].briefID != "f1" {
		t.Fatalf("submissions = %+v", sub.calls)
	}
	opts := sub.calls[0].opts
	if opts.Priority != model.PriorityLow || opts.WebhookURL != "https://hook" || !opts.PublishImmediately || opts.RetryCount != 2 {
		t.Errorf("submit options = %+v", opts)
	}

	b := store.get("f1")
	meta := b.Metadata.Data()
	if b.Status != model.BriefStatusProcessing || meta.RetryCount != 2 || meta.LastRetryAt == nil || !meta.LastRetryAt.Equal(now) {
		t.Errorf("after retry: %s %+v", b.Status, meta)
	}
	if store.get("spent").Status != model.BriefStatusFailed {
		t.Error("brief at the ceiling was touched")
	}
}

func TestRetrySweeper_CeilingBoundsAttempts(t *testing.T) {
	store := newMemStore()
	store.put(model.ContentBrief{ID: "f", Status: model.BriefStatusFailed})

	sub := &fakeSubmitter{err: &pipeline.ValidationError{BriefID: "f", Reason: "no items"}}
	s := NewRetrySweeper(store, sub, 3, quietLogger())

	for i := 0; i < 5; i++ {
		if err := s.SweepOnce(context.Background()); err != nil {
			t.Fatalf("SweepOnce %d: %v", i, err)
		}
	}
	if len(sub.calls) != 3 {
		t.Errorf("submissions = %d, want 3", len(sub.calls))
	}
	b := store.get("f")
	if b.Status != model.BriefStatusFailed || b.Metadata.Data().RetryCount != 3 {
		t.Errorf("brief = %s retry %d", b.Status, b.Metadata.Data().RetryCount)
	}
}

func TestRetrySweeper_SkipsActiveBrief(t *testing.T) {
	store := newMemStore()
	store.put(model.ContentBrief{ID: "f", Status: model.BriefStatusFailed})

	sub := &fakeSubmitter{active: map[string]bool{"f": true}}
	s := NewRetrySweeper(store, sub, 3, quietLogger())
	if err := s.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if len(sub.calls) != 0 || store.get("f").Metadata.Data().RetryCount != 0 {
		t.Error("active brief was retried")
	}
}

func TestCleanupSweeper(t *testing.T) {
	store := newMemStore()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.put(model.ContentBrief{ID: "orphan", Status: model.BriefStatusProcessing, UpdatedAt: now.Add(-3 * time.Hour)})
	store.put(model.ContentBrief{ID: "running", Status: model.BriefStatusProcessing, UpdatedAt: now.Add(-3 * time.Hour)})
	store.put(model.ContentBrief{ID: "fresh", Status: model.BriefStatusProcessing, UpdatedAt: now.Add(-time.Minute)})

	jobs := &fakeSubmitter{active: map[string]bool{"running": true}, pruned: 4}
	s := NewCleanupSweeper(store, jobs, 12*time.Hour, 2*time.Hour, quietLogger())
	s.now = fixedNow(now)

	if err := s.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if jobs.pruneAt != 12*time.Hour {
		t.Errorf("pruned with retention %v", jobs.pruneAt)
	}
	orphan := store.get("orphan")
	if orphan.Status != model.BriefStatusFailed || orphan.LastError != InterruptedReason {
		t.Errorf("orphan = %s %q", orphan.Status, orphan.LastError)
	}
	if store.get("running").Status != model.BriefStatusProcessing {
		t.Error("brief with an active job was failed")
	}
	if store.get("fresh").Status != model.BriefStatusProcessing {
		t.Error("fresh brief was failed")
	}
}

type countingSweeper struct {
	mu    sync.Mutex
	runs  int
	err   error
	panic bool
}

func (c *countingSweeper) Name() string { return "counting" }

func (c *countingSweeper) SweepOnce(ctx context.Context) error {
	c.mu.Lock()
	c.runs++
	c.mu.Unlock()
	if c.panic {
		panic("boom")
	}
	return c.err
}

func (c *countingSweeper) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

type fakeLocker struct {
	held     bool
	err      error
	released int
}

func (l *fakeLocker) TryLock(_ context.Context, _ string) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	return func() { l.released++ }, true, nil
}

func TestRunGuarded(t *testing.T) {
	log := quietLogger()

	s := &countingSweeper{}
	lock := &fakeLocker{}
	RunGuarded(context.Background(), s, lock, time.Second, log)
	if s.count() != 1 || lock.released != 1 {
		t.Errorf("runs=%d released=%d", s.count(), lock.released)
	}

	RunGuarded(context.Background(), s, &fakeLocker{held: true}, time.Second, log)
	RunGuarded(context.Background(), s, &fakeLocker{err: errors.New("redis down")}, time.Second, log)
	if s.count() != 1 {
		t.Errorf("ran without the lease: runs=%d", s.count())
	}

	RunGuarded(context.Background(), s, nil, time.Second, log)
	if s.count() != 2 {
		t.Errorf("nil locker did not run: runs=%d", s.count())
	}

	// Failures and panics stay inside the pass.
	RunGuarded(context.Background(), &countingSweeper{err: errors.New("db down")}, nil, time.Second, log)
	RunGuarded(context.Background(), &countingSweeper{panic: true}, nil, time.Second, log)
}

func TestLoop_StartStop(t *testing.T) {
	s := &countingSweeper{}
	l := NewLoop(s, 10*time.Millisecond, nil, quietLogger())

	l.Start()
	l.Start()
	deadline := time.Now().Add(2 * time.Second)
	for s.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	l.Stop()
	if s.count() < 2 {
		t.Fatalf("loop ran %d times", s.count())
	}

	after := s.count()
	time.Sleep(50 * time.Millisecond)
	if s.count() != after {
		t.Error("loop kept running after Stop")
	}
	l.Stop()
}
