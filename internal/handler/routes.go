package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	ws "github.com/briefcast/api/internal/websocket"
	"github.com/briefcast/api/pkg/response"
)

// Routes groups the handlers mounted by Register.
type Routes struct {
	Health   *HealthHandler
	Briefs   *BriefHandler
	Jobs     *JobHandler
	Events   *EventsHandler
	Schedule *ScheduleHandler
	Hub      *ws.Hub
	// SubmitLimit guards generation submissions; nil disables it.
	SubmitLimit fiber.Handler
}

// Register mounts every route on app.
func Register(app *fiber.App, r Routes) {
	app.Get("/health", r.Health.Health)

	api := app.Group("/api")

	submit := []fiber.Handler{}
	if r.SubmitLimit != nil {
		submit = append(submit, r.SubmitLimit)
	}

	briefs := api.Group("/briefs")
	briefs.Post("/", r.Briefs.Create)
	briefs.Get("/:briefId", r.Briefs.Get)
	briefs.Post("/:briefId/generate", append(submit, r.Jobs.Generate)...)

	jobs := api.Group("/jobs")
	jobs.Get("/:jobId", r.Jobs.Status)
	jobs.Post("/:jobId/cancel", r.Jobs.Cancel)
	jobs.Get("/:jobId/events", r.Events.Stream)

	api.Get("/queue", r.Jobs.Queue)
	api.Post("/schedule/preview", r.Schedule.Preview)

	if r.Hub == nil {
		return
	}

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		r.Hub.HandleConnection(c, c.Params("jobId"))
	}))
}

// ErrorHandler renders unhandled errors in the API error shape.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := response.CodeServiceError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		status = e.Code
		message = e.Message
		if status == fiber.StatusNotFound {
			code = response.CodeNotFound
		}
	}

	return response.Error(c, status, code, message, nil)
}
