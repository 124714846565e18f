package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/briefcast/api/internal/model"
	"github.com/briefcast/api/internal/pipeline"
	"github.com/briefcast/api/pkg/response"
)

// JobService is the dispatcher surface the HTTP layer drives.
type JobService interface {
	Submit(ctx context.Context, briefID string, opts pipeline.SubmitOptions) (model.JobSnapshot, bool, error)
	Cancel(ctx context.Context, jobID string) bool
	Status(jobID string) (model.JobSnapshot, bool)
	QueueStatus() model.QueueStatus
}

// SnapshotReader looks up mirrored job snapshots that have left memory.
type SnapshotReader interface {
	Get(ctx context.Context, jobID string) (model.JobSnapshot, error)
}

type JobHandler struct {
	jobs      JobService
	snapshots SnapshotReader
	validator *validator.Validate
}

// NewJobHandler creates the job handler. snapshots may be nil.
func NewJobHandler(jobs JobService, snapshots SnapshotReader, v *validator.Validate) *JobHandler {
	return &JobHandler{
		jobs:      jobs,
		snapshots: snapshots,
		validator: v,
	}
}

// Generate handles POST /api/briefs/:briefId/generate
func (h *JobHandler) Generate(c *fiber.Ctx) error {
	briefID := c.Params("briefId")
	if briefID == "" {
		return response.ValidationError(c, "Brief ID is required", nil)
	}

	var req model.GenerateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	snap, duplicate, err := h.jobs.Submit(c.Context(), briefID, pipeline.SubmitOptions{
		Priority:           req.Priority,
		WebhookURL:         req.WebhookURL,
		PublishImmediately: req.PublishImmediately,
	})
	if err != nil {
		var verr *pipeline.ValidationError
		switch {
		case errors.As(err, &verr):
			return response.ValidationError(c, verr.Reason, fiber.Map{"briefId": briefID})
		case errors.Is(err, pipeline.ErrBriefNotFound):
			return response.NotFound(c, "Brief not found")
		case errors.Is(err, pipeline.ErrShuttingDown):
			return response.Unavailable(c, "Server is shutting down")
		}
		return response.ServiceError(c, err.Error())
	}

	result := model.GenerateResponse{
		JobID:     snap.ID,
		BriefID:   snap.BriefID,
		State:     snap.State,
		Priority:  snap.Priority,
		Duplicate: duplicate,
		CreatedAt: snap.CreatedAt,
	}
	if duplicate {
		return response.OK(c, result)
	}
	return response.Accepted(c, result)
}

// Status handles GET /api/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	snap, err := h.lookup(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, pipeline.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, snap)
}

// lookup reads the in-memory registry first and falls back to the mirror.
func (h *JobHandler) lookup(ctx context.Context, jobID string) (model.JobSnapshot, error) {
	if snap, ok := h.jobs.Status(jobID); ok {
		return snap, nil
	}
	if h.snapshots == nil {
		return model.JobSnapshot{}, pipeline.ErrJobNotFound
	}
	return h.snapshots.Get(ctx, jobID)
}

// Cancel handles POST /api/jobs/:jobId/cancel
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	snap, ok := h.jobs.Status(jobID)
	if !ok {
		return response.NotFound(c, "Job not found")
	}
	if snap.Terminal() {
		return response.Conflict(c, "Job already finished", fiber.Map{"state": snap.State})
	}

	if !h.jobs.Cancel(c.Context(), jobID) {
		// Finished between the check and the cancel.
		snap, _ = h.jobs.Status(jobID)
		return response.Conflict(c, "Job already finished", fiber.Map{"state": snap.State})
	}

	snap, _ = h.jobs.Status(jobID)
	return response.OK(c, model.CancelResponse{
		Success: true,
		JobID:   jobID,
		State:   snap.State,
	})
}

// Queue handles GET /api/queue
func (h *JobHandler) Queue(c *fiber.Ctx) error {
	return response.OK(c, h.jobs.QueueStatus())
}
