package handler

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"

	"github.com/briefcast/api/internal/model"
	"github.com/briefcast/api/internal/pipeline"
	"github.com/briefcast/api/internal/schedule"
	"github.com/briefcast/api/pkg/response"
)

// BriefRepository is the record store surface for brief CRUD.
type BriefRepository interface {
	CreateBrief(ctx context.Context, brief *model.ContentBrief, items []model.ContentItem) error
	GetBrief(ctx context.Context, id string) (*model.ContentBrief, error)
	GetItems(ctx context.Context, briefID string) ([]model.ContentItem, error)
}

type BriefHandler struct {
	briefs          BriefRepository
	validator       *validator.Validate
	defaultTemplate model.TemplateKind
	now             func() time.Time
}

func NewBriefHandler(briefs BriefRepository, v *validator.Validate, defaultTemplate model.TemplateKind) *BriefHandler {
	if defaultTemplate == "" {
		defaultTemplate = model.TemplateNewsDigest
	}
	return &BriefHandler{
		briefs:          briefs,
		validator:       v,
		defaultTemplate: defaultTemplate,
		now:             time.Now,
	}
}

// Create handles POST /api/briefs. A brief with a recurrence and no explicit
// scheduledAt is scheduled at its first occurrence.
func (h *BriefHandler) Create(c *fiber.Ctx) error {
	var req model.CreateBriefRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if req.OverrideText == "" && len(req.Items) == 0 {
		return response.ValidationError(c, "A brief needs items or override text", nil)
	}

	kind := req.TemplateKind
	if kind == "" {
		kind = h.defaultTemplate
	}

	brief := &model.ContentBrief{
		Title:        req.Title,
		OverrideText: req.OverrideText,
		TemplateKind: kind,
		Voice:        datatypes.NewJSONType(req.Voice),
		Status:       model.BriefStatusDraft,
		Metadata: datatypes.NewJSONType(model.BriefMetadata{
			PublishImmediately: req.PublishImmediately,
			WebhookURL:         req.WebhookURL,
		}),
	}

	if req.Recurrence != nil {
		if err := schedule.Validate(*req.Recurrence); err != nil {
			return response.ValidationError(c, err.Error(), fiber.Map{"field": "recurrence"})
		}
		brief.Recurrence = datatypes.NewJSONType(*req.Recurrence)
	}

	switch {
	case req.ScheduledAt != nil:
		at := req.ScheduledAt.UTC()
		brief.ScheduledAt = &at
		brief.Status = model.BriefStatusScheduled
	case req.Recurrence != nil && req.Recurrence.Active():
		next, err := schedule.NextOccurrence(*req.Recurrence, h.now())
		if err != nil {
			return response.ValidationError(c, err.Error(), fiber.Map{"field": "recurrence"})
		}
		next = next.UTC()
		brief.ScheduledAt = &next
		brief.Status = model.BriefStatusScheduled
	}

	items := make([]model.ContentItem, len(req.Items))
	for i, in := range req.Items {
		items[i] = model.ContentItem{
			Topic:      in.Topic,
			Title:      in.Title,
			Summary:    in.Summary,
			SourceName: in.SourceName,
		}
	}

	if err := h.briefs.CreateBrief(c.Context(), brief, items); err != nil {
		return response.ServiceError(c, err.Error())
	}
	stored, err := h.briefs.GetItems(c.Context(), brief.ID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	brief.Items = stored
	return response.Created(c, brief)
}

// Get handles GET /api/briefs/:briefId
func (h *BriefHandler) Get(c *fiber.Ctx) error {
	briefID := c.Params("briefId")
	brief, err := h.briefs.GetBrief(c.Context(), briefID)
	if err != nil {
		if errors.Is(err, pipeline.ErrBriefNotFound) {
			return response.NotFound(c, "Brief not found")
		}
		return response.ServiceError(c, err.Error())
	}
	items, err := h.briefs.GetItems(c.Context(), briefID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	brief.Items = items
	return response.OK(c, brief)
}
