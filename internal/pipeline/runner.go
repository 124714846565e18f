package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/briefcast/api/internal/model"
	"github.com/briefcast/api/internal/narration"
)

// Progress checkpoints. Generation spreads linearly between
// progressChunked and progressGenerated.
const (
	progressStarted   = 5
	progressChunked   = 10
	progressGenerated = 85
	progressUploading = 90
)

// RunnerConfig tunes a Runner.
type RunnerConfig struct {
	MaxChars       int
	RetryBaseDelay time.Duration
	CallTimeout    time.Duration
	UploadAttempts int
	BitrateKbps    int
	Visibility     model.Visibility
	Model          string
	ContentType    string
}

func (c *RunnerConfig) setDefaults() {
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.UploadAttempts < 1 {
		c.UploadAttempts = 2
	}
	if c.BitrateKbps <= 0 {
		c.BitrateKbps = 128
	}
	if c.Visibility == "" {
		c.Visibility = model.VisibilityPublic
	}
	if c.ContentType == "" {
		c.ContentType = "audio/mpeg"
	}
}

// Runner drives a single job from brief to published artifact. Run never
// returns an error; every outcome is recorded on the job and the brief.
type Runner struct {
	store    BriefStore
	synth    Synthesizer
	objects  ObjectStore
	notifier Notifier
	cfg      RunnerConfig
	log      *logrus.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner. notifier may be nil.
func NewRunner(store BriefStore, synth Synthesizer, objects ObjectStore, notifier Notifier, cfg RunnerConfig, log *logrus.Logger) *Runner {
	cfg.setDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{
		store:    store,
		synth:    synth,
		objects:  objects,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes job to a terminal state.
func (r *Runner) Run(job *Job) {
	defer job.release()

	logger := r.log.WithFields(logrus.Fields{"job_id": job.ID(), "brief_id": job.BriefID()})

	defer func() {
		if rec := recover(); rec != nil {
			logger.WithField("panic", rec).Error("Narration job panicked")
			r.finishFailed(job, fmt.Sprintf("internal error: %v", rec), logger)
		}
	}()

	err := r.run(job, logger)
	switch {
	case err == nil:
	case job.Cancelled():
		r.finishCancelled(job, logger)
	default:
		r.finishFailed(job, err.Error(), logger)
	}
}

func (r *Runner) run(job *Job, logger *logrus.Entry) error {
	ctx := job.Context()
	briefID := job.BriefID()

	if !job.transition(model.JobStateProcessing, progressStarted, "Compiling narration script") {
		return errCancelled
	}

	brief, err := r.store.GetBrief(ctx, briefID)
	if err != nil {
		return fmt.Errorf("load brief: %w", err)
	}
	items, err := r.store.GetItems(ctx, briefID)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}

	snap := job.Snapshot()
	meta := brief.Metadata.Data()
	meta.LastJobID = snap.ID
	meta.LastJobState = model.JobStateProcessing
	meta.WebhookURL = snap.WebhookURL
	meta.PublishImmediately = snap.PublishImmediately
	processing := model.BriefStatusProcessing
	if err := r.store.UpdateBrief(ctx, briefID, model.BriefUpdate{Status: &processing, Metadata: &meta}); err != nil {
		return fmt.Errorf("mark brief processing: %w", err)
	}

	script, err := narration.Compile(brief, items)
	if err != nil {
		return &ValidationError{BriefID: briefID, Reason: err.Error()}
	}
	chunks := narration.Chunk(script, r.maxChars())
	if len(chunks) == 0 {
		return &ValidationError{BriefID: briefID, Reason: "narration script is empty"}
	}

	job.advance(progressChunked, fmt.Sprintf("Split into %d chunks", len(chunks)), func(s *model.JobSnapshot) {
		s.ChunkCount = len(chunks)
	})
	logger.WithField("chunks", len(chunks)).Info("Narration script compiled")

	if !job.transition(model.JobStateGenerating, progressChunked, "Generating audio") {
		return errCancelled
	}

	voice := brief.Voice.Data()
	synthModel := voice.Model
	if synthModel == "" {
		synthModel = r.cfg.Model
	}

	var audio bytes.Buffer
	for i, text := range chunks {
		if err := checkpoint(ctx, job); err != nil {
			return err
		}
		part, err := r.synthesizeChunk(ctx, job, i, model.SynthesisRequest{Text: text, Voice: voice, Model: synthModel}, logger)
		if err != nil {
			return err
		}
		audio.Write(part)

		done := i + 1
		progress := progressChunked + (progressGenerated-progressChunked)*done/len(chunks)
		job.advance(progress, fmt.Sprintf("Generated chunk %d of %d", done, len(chunks)), func(s *model.JobSnapshot) {
			s.ChunksDone = done
		})
	}

	if err := checkpoint(ctx, job); err != nil {
		return err
	}
	if !job.transition(model.JobStateUploading, progressUploading, "Uploading audio") {
		return errCancelled
	}

	body := audio.Bytes()
	key := fmt.Sprintf("narrations/%s/%d.mp3", briefID, r.now().Unix())
	url, err := r.upload(ctx, job, key, body, logger)
	if err != nil {
		return err
	}

	// Cancellation may land while the upload is in flight; nothing is persisted then.
	if err := checkpoint(ctx, job); err != nil {
		return err
	}
	if !job.commit() {
		return errCancelled
	}

	duration := r.estimateDuration(len(body))
	size := int64(len(body))
	status := model.BriefStatusDraft
	if snap.PublishImmediately {
		status = model.BriefStatusPublished
	}
	noError := ""
	meta.LastJobState = model.JobStateCompleted
	update := model.BriefUpdate{
		Status:    &status,
		AudioURL:  &url,
		Duration:  &duration,
		ByteSize:  &size,
		LastError: &noError,
		Metadata:  &meta,
	}
	if err := r.store.UpdateBrief(ctx, briefID, update); err != nil {
		return fmt.Errorf("persist result: %w", err)
	}

	if !job.complete(url) {
		return errCancelled
	}
	logger.WithFields(logrus.Fields{
		"audio_url": url,
		"bytes":     size,
		"duration":  duration,
	}).Info("Narration job completed")

	r.notify(job, model.WebhookEventCompleted, url, duration, logger)
	return nil
}

// synthesizeChunk calls the provider for one chunk, retrying the same chunk
// on transient errors up to the job's retry ceiling.
func (r *Runner) synthesizeChunk(ctx context.Context, job *Job, index int, req model.SynthesisRequest, logger *logrus.Entry) ([]byte, error) {
	maxRetries := job.Snapshot().MaxRetries

	for attempt := 0; ; attempt++ {
		if err := checkpoint(ctx, job); err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		audio, err := r.synth.Synthesize(callCtx, req)
		cancel()
		if err == nil {
			return audio, nil
		}
		if cerr := checkpoint(ctx, job); cerr != nil {
			return nil, cerr
		}

		classified := classifyProviderError(err)
		var permanent *PermanentProviderError
		if errors.As(classified, &permanent) {
			return nil, fmt.Errorf("chunk %d: %w", index, classified)
		}
		if attempt >= maxRetries {
			return nil, fmt.Errorf("chunk %d failed after %d attempts: %w", index, attempt+1, classified)
		}

		delay := r.cfg.RetryBaseDelay << attempt
		logger.WithFields(logrus.Fields{
			"chunk":   index,
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).WithError(classified).Warn("Synthesis failed, retrying chunk")

		if err := r.sleep(ctx, delay); err != nil {
			if cerr := checkpoint(ctx, job); cerr != nil {
				return nil, cerr
			}
			return nil, err
		}
	}
}

// upload writes the artifact, retrying once more on storage failure.
func (r *Runner) upload(ctx context.Context, job *Job, key string, body []byte, logger *logrus.Entry) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.UploadAttempts; attempt++ {
		if err := checkpoint(ctx, job); err != nil {
			return "", err
		}
		url, err := r.objects.Store(ctx, key, body, r.cfg.ContentType, r.cfg.Visibility)
		if err == nil {
			return url, nil
		}
		lastErr = &StorageError{Err: err}
		logger.WithField("attempt", attempt).WithError(err).Warn("Upload failed")

		if attempt < r.cfg.UploadAttempts {
			if err := r.sleep(ctx, r.cfg.RetryBaseDelay); err != nil {
				if cerr := checkpoint(ctx, job); cerr != nil {
					return "", cerr
				}
				return "", err
			}
		}
	}
	return "", lastErr
}

func (r *Runner) finishFailed(job *Job, msg string, logger *logrus.Entry) {
	if !job.fail(msg) {
		// Already terminal; a cancel raced the failure.
		if job.Cancelled() {
			r.finishCancelled(job, logger)
		}
		return
	}
	logger.WithField("error", msg).Error("Narration job failed")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	update := model.BriefUpdate{LastError: &msg}
	failed := model.BriefStatusFailed
	update.Status = &failed
	if brief, err := r.store.GetBrief(ctx, job.BriefID()); err == nil {
		meta := brief.Metadata.Data()
		meta.LastJobID = job.ID()
		meta.LastJobState = model.JobStateFailed
		update.Metadata = &meta
	}
	if err := r.store.UpdateBrief(ctx, job.BriefID(), update); err != nil {
		logger.WithError(err).Error("Failed to record job failure on brief")
	}

	r.notify(job, model.WebhookEventFailed, "", 0, logger)
}

func (r *Runner) finishCancelled(job *Job, logger *logrus.Entry) {
	logger.Info("Narration job cancelled")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	persistCancelled(ctx, r.store, job, logger)
}

// persistCancelled mirrors a cancelled job onto its brief.
func persistCancelled(ctx context.Context, store BriefStore, job *Job, logger *logrus.Entry) {
	status := model.BriefStatusCancelled
	update := model.BriefUpdate{Status: &status}
	if brief, err := store.GetBrief(ctx, job.BriefID()); err == nil {
		meta := brief.Metadata.Data()
		meta.LastJobID = job.ID()
		meta.LastJobState = model.JobStateCancelled
		update.Metadata = &meta
	}
	if err := store.UpdateBrief(ctx, job.BriefID(), update); err != nil {
		logger.WithError(err).Error("Failed to record cancellation on brief")
	}
}

func (r *Runner) notify(job *Job, event, audioURL string, duration float64, logger *logrus.Entry) {
	snap := job.Snapshot()
	if r.notifier == nil || snap.WebhookURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	payload := model.WebhookPayload{
		Event:    event,
		Job:      snap,
		AudioURL: audioURL,
		Duration: duration,
		SentAt:   r.now().UTC(),
	}
	if err := r.notifier.Notify(ctx, snap.WebhookURL, payload); err != nil {
		logger.WithError(err).WithField("webhook_url", snap.WebhookURL).Warn("Webhook delivery failed")
	}
}

// maxChars is the tighter of the configured and provider bounds.
func (r *Runner) maxChars() int {
	limit := r.synth.MaxChars()
	if r.cfg.MaxChars > 0 && (limit <= 0 || r.cfg.MaxChars < limit) {
		limit = r.cfg.MaxChars
	}
	return limit
}

// estimateDuration assumes a constant bitrate.
func (r *Runner) estimateDuration(size int) float64 {
	return float64(size) * 8 / float64(r.cfg.BitrateKbps*1000)
}

// checkpoint returns an error once the job is cancelled or its context is done.
func checkpoint(ctx context.Context, job *Job) error {
	if job.Cancelled() {
		return errCancelled
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	return nil
}
