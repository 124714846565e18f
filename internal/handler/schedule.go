package handler

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/briefcast/api/internal/model"
	"github.com/briefcast/api/internal/schedule"
	"github.com/briefcast/api/pkg/response"
)

const defaultPreviewCount = 5

type ScheduleHandler struct {
	validator *validator.Validate
	now       func() time.Time
}

func NewScheduleHandler(v *validator.Validate) *ScheduleHandler {
	return &ScheduleHandler{validator: v, now: time.Now}
}

// Preview handles POST /api/schedule/preview
func (h *ScheduleHandler) Preview(c *fiber.Ctx) error {
	var req model.SchedulePreviewRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	count := req.Count
	if count == 0 {
		count = defaultPreviewCount
	}

	occurrences, err := schedule.Occurrences(req.Recurrence, h.now(), count)
	if err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	tz := req.Recurrence.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return response.OK(c, model.SchedulePreviewResponse{
		Timezone:    tz,
		Occurrences: occurrences,
	})
}
