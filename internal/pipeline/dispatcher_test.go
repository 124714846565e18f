package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/briefcast/api/internal/model"
)

// gatedSynth blocks the first provider call until release is closed.
func gatedSynth() (*fakeSynth, chan struct{}, chan struct{}) {
	started := make(chan struct{})
	release := make(chan struct{})
	synth := &fakeSynth{hook: func(n int, _ model.SynthesisRequest) error {
		if n == 1 {
			close(started)
			<-release
		}
		return nil
	}}
	return synth, started, release
}

func newTestDispatcher(store *fakeStore, synth Synthesizer, maxConcurrent int, observers ...Observer) *Dispatcher {
	runner := newTestRunner(store, synth, &fakeObjects{}, nil)
	return NewDispatcher(NewJobQueue(maxConcurrent), runner, store, 3, quietLogger(), observers...)
}

func TestDispatcher_SubmitRunsToCompletion(t *testing.T) {
	store := newFakeStore()
	store.put(overrideBrief("b1", 2))
	rec := &recorder{}
	d := newTestDispatcher(store, &fakeSynth{}, 3, rec)

	snap, dup, err := d.Submit(context.Background(), "b1", SubmitOptions{})
	if err != nil || dup {
		t.Fatalf("Submit = %v, duplicate %v", err, dup)
	}
	if snap.State != model.JobStatePending || snap.Priority != model.PriorityNormal || snap.MaxRetries != 3 {
		t.Errorf("initial snapshot = %+v", snap)
	}

	final := waitTerminal(t, d, snap.ID)
	if final.State != model.JobStateCompleted {
		t.Fatalf("final state = %s (%s)", final.State, final.Error)
	}
	if states := rec.states(); states[0] != model.JobStatePending || !isOrderedPath(states) {
		t.Errorf("observed states %v", states)
	}
	if d.IsActive("b1") {
		t.Error("brief still active after completion")
	}
}

func TestDispatcher_ValidationError(t *testing.T) {
	store := newFakeStore()
	store.put(model.ContentBrief{ID: "empty", Title: "Nothing", TemplateKind: model.TemplateNewsDigest})
	store.put(model.ContentBrief{ID: "odd", Title: "Odd", TemplateKind: "karaoke"}, model.ContentItem{Title: "x"})
	d := newTestDispatcher(store, &fakeSynth{}, 1)

	for _, id := range []string{"empty", "odd"} {
		_, _, err := d.Submit(context.Background(), id, SubmitOptions{})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Submit(%s) err = %v, want ValidationError", id, err)
		}
	}
	if st := d.QueueStatus(); st.Queued != 0 || st.Active != 0 {
		t.Errorf("invalid briefs reached the queue: %+v", st)
	}

	if _, _, err := d.Submit(context.Background(), "missing", SubmitOptions{}); !errors.Is(err, ErrBriefNotFound) {
		t.Errorf("Submit(missing) err = %v", err)
	}
}

func TestDispatcher_DuplicateSubmit(t *testing.T) {
	store := newFakeStore()
	store.put(overrideBrief("b1", 1))
	synth, started, release := gatedSynth()
	d := newTestDispatcher(store, synth, 1)

	first, _, err := d.Submit(context.Background(), "b1", SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	second, dup, err := d.Submit(context.Background(), "b1", SubmitOptions{Priority: model.PriorityHigh})
	if err != nil || !dup || second.ID != first.ID {
		t.Fatalf("second Submit = %+v, dup %v, err %v", second, dup, err)
	}
	if st := d.QueueStatus(); st.Active != 1 || st.Queued != 0 {
		t.Errorf("queue = %+v", st)
	}

	close(release)
	waitTerminal(t, d, first.ID)
	if n := synth.callCount(); n != 1 {
		t.Errorf("provider calls = %d, want 1", n)
	}
}

func TestDispatcher_AdmissionOrder(t *testing.T) {
	store := newFakeStore()
	for _, id := range []string{"X", "A", "B", "C", "D"} {
		b := overrideBrief(id, 1)
		b.OverrideText = "Brief" + id + "."
		store.put(b)
	}
	synth, started, release := gatedSynth()
	d := newTestDispatcher(store, synth, 1)

	ctx := context.Background()
	blocker, _, _ := d.Submit(ctx, "X", SubmitOptions{})
	<-started

	var ids []string
	for _, s := range []struct {
		brief string
		p     model.Priority
	}{
		{"D", model.PriorityLow},
		{"B", model.PriorityNormal},
		{"C", model.PriorityNormal},
		{"A", model.PriorityHigh},
	} {
		snap, _, err := d.Submit(ctx, s.brief, SubmitOptions{Priority: s.p})
		if err != nil {
			t.Fatalf("Submit(%s): %v", s.brief, err)
		}
		ids = append(ids, snap.ID)
	}

	close(release)
	waitTerminal(t, d, blocker.ID)
	for _, id := range ids {
		waitTerminal(t, d, id)
	}

	got := synth.callTexts()
	want := []string{"BriefX.", "BriefA.", "BriefB.", "BriefC.", "BriefD."}
	if len(got) != len(want) {
		t.Fatalf("calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("admission order = %v, want %v", got, want)
		}
	}
}

func TestDispatcher_CancelQueuedJob(t *testing.T) {
	store := newFakeStore()
	store.put(overrideBrief("busy", 1))
	store.put(overrideBrief("waiting", 1))
	synth, started, release := gatedSynth()
	d := newTestDispatcher(store, synth, 1)

	ctx := context.Background()
	busy, _, _ := d.Submit(ctx, "busy", SubmitOptions{})
	<-started
	waiting, _, _ := d.Submit(ctx, "waiting", SubmitOptions{})

	if !d.Cancel(ctx, waiting.ID) {
		t.Fatal("Cancel(waiting) = false")
	}
	if d.Cancel(ctx, waiting.ID) {
		t.Error("second Cancel accepted")
	}
	if snap, _ := d.Status(waiting.ID); snap.State != model.JobStateCancelled {
		t.Errorf("state = %s", snap.State)
	}
	if st := store.brief("waiting").Status; st != model.BriefStatusCancelled {
		t.Errorf("brief status = %s", st)
	}

	close(release)
	waitTerminal(t, d, busy.ID)
	if n := synth.callCount(); n != 1 {
		t.Errorf("cancelled job reached the provider; calls = %d", n)
	}
	if d.Cancel(ctx, busy.ID) {
		t.Error("Cancel of a completed job accepted")
	}
	if d.Cancel(ctx, "nope") {
		t.Error("Cancel of an unknown job accepted")
	}
}

func TestDispatcher_CancelRunningJob(t *testing.T) {
	store := newFakeStore()
	store.put(overrideBrief("b1", 3))
	synth, started, release := gatedSynth()
	objects := &fakeObjects{}
	runner := newTestRunner(store, synth, objects, nil)
	d := NewDispatcher(NewJobQueue(1), runner, store, 3, quietLogger())

	snap, _, _ := d.Submit(context.Background(), "b1", SubmitOptions{})
	<-started
	if !d.Cancel(context.Background(), snap.ID) {
		t.Fatal("Cancel = false")
	}
	close(release)

	final := waitTerminal(t, d, snap.ID)
	if final.State != model.JobStateCancelled {
		t.Fatalf("state = %s", final.State)
	}
	// The slot is released once the runner has wound down.
	deadline := time.Now().Add(time.Second)
	for d.QueueStatus().Active != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := synth.callCount(); n != 1 {
		t.Errorf("provider calls = %d, want 1", n)
	}
	if objects.callCount() != 0 {
		t.Error("cancelled job uploaded audio")
	}
}

func TestDispatcher_PruneFinished(t *testing.T) {
	store := newFakeStore()
	store.put(overrideBrief("b1", 1))
	d := newTestDispatcher(store, &fakeSynth{}, 1)

	snap, _, _ := d.Submit(context.Background(), "b1", SubmitOptions{})
	waitTerminal(t, d, snap.ID)

	if n := d.PruneFinished(time.Hour); n != 0 {
		t.Errorf("pruned %d fresh jobs", n)
	}
	if n := d.PruneFinished(-time.Second); n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if _, ok := d.Status(snap.ID); ok {
		t.Error("pruned job still visible")
	}
}

func TestDispatcher_Shutdown(t *testing.T) {
	store := newFakeStore()
	store.put(overrideBrief("b1", 1))
	store.put(overrideBrief("b2", 1))
	synth, started, release := gatedSynth()
	d := newTestDispatcher(store, synth, 1)

	snap, _, _ := d.Submit(context.Background(), "b1", SubmitOptions{})
	<-started

	done := make(chan error, 1)
	go func() { done <- d.Shutdown(context.Background()) }()

	// Shutdown refuses new work while it waits.
	deadline := time.Now().Add(time.Second)
	for {
		_, _, err := d.Submit(context.Background(), "b2", SubmitOptions{})
		if errors.Is(err, ErrShuttingDown) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Submit during shutdown err = %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if s, _ := d.Status(snap.ID); s.State != model.JobStateCompleted {
		t.Errorf("in-flight job state = %s", s.State)
	}
}

func TestDispatcher_StaleCancelKeepsNewerJob(t *testing.T) {
	store := newFakeStore()
	first := overrideBrief("b1", 1)
	store.put(first)
	blocker := overrideBrief("b2", 1)
	blocker.OverrideText = "Blocking."
	store.put(blocker)

	started := make(chan struct{})
	release := make(chan struct{})
	synth := &fakeSynth{hook: func(_ int, req model.SynthesisRequest) error {
		if req.Text == "Blocking." {
			close(started)
			<-release
		}
		return nil
	}}
	d := newTestDispatcher(store, synth, 1)
	ctx := context.Background()

	old, _, _ := d.Submit(ctx, "b1", SubmitOptions{})
	waitTerminal(t, d, old.ID)

	// Hold the only slot so the resubmitted brief waits in the queue.
	busy, _, _ := d.Submit(ctx, "b2", SubmitOptions{})
	<-started
	store.put(first)
	newer, dup, err := d.Submit(ctx, "b1", SubmitOptions{})
	if err != nil || dup || newer.ID == old.ID {
		t.Fatalf("resubmit = %+v, dup %v, err %v", newer, dup, err)
	}

	if d.Cancel(ctx, old.ID) {
		t.Fatal("Cancel of a finished job accepted")
	}
	if st := d.QueueStatus(); st.Queued != 1 {
		t.Fatalf("queued = %d after stale cancel, want 1", st.Queued)
	}

	close(release)
	waitTerminal(t, d, busy.ID)
	if final := waitTerminal(t, d, newer.ID); final.State != model.JobStateCompleted {
		t.Errorf("newer job state = %s (%s)", final.State, final.Error)
	}
}

func TestDispatcher_OverrideEmptyAfterNormalization(t *testing.T) {
	tests := []struct {
		name     string
		override string
	}{
		{"bare url", "   https://example.com/x  "},
		{"empty markup", "<b></b>"},
		{"heading marks only", "## \n# "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			b := overrideBrief("b1", 1)
			b.OverrideText = tt.override
			store.put(b)
			d := newTestDispatcher(store, &fakeSynth{}, 1)

			_, _, err := d.Submit(context.Background(), "b1", SubmitOptions{})
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Submit err = %v, want ValidationError", err)
			}
			if st := d.QueueStatus(); st.Queued != 0 || st.Active != 0 {
				t.Errorf("empty override reached the queue: %+v", st)
			}
		})
	}
}
