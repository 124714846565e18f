package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pinger is a dependency that can report its reachability.
type Pinger func(ctx context.Context) error

type HealthHandler struct {
	checks   map[string]Pinger
	services fiber.Map
}

// NewHealthHandler creates the health handler. services lists which external
// clients are live rather than mocked.
func NewHealthHandler(checks map[string]Pinger, services fiber.Map) *HealthHandler {
	return &HealthHandler{checks: checks, services: services}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	deps := fiber.Map{}
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":       status,
		"dependencies": deps,
		"services":     h.services,
	})
}
