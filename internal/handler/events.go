package handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/briefcast/api/internal/model"
	"github.com/briefcast/api/internal/progress"
	"github.com/briefcast/api/pkg/response"
)

const keepAliveInterval = 15 * time.Second

type EventsHandler struct {
	bus    *progress.Bus
	status JobService
	log    *logrus.Logger
}

func NewEventsHandler(bus *progress.Bus, status JobService, log *logrus.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, status: status, log: log}
}

// Stream handles GET /api/jobs/:jobId/events as server-sent events. The
// stream ends after the job's terminal event.
func (h *EventsHandler) Stream(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	current, ok := h.status.Status(jobID)
	if !ok {
		return response.NotFound(c, "Job not found")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	// Subscribe before the handler returns so no transition is missed between
	// the status read and the first write.
	sub := h.bus.Subscribe(jobID)
	if !current.Terminal() {
		// The job may have moved on between the two reads.
		if latest, ok := h.status.Status(jobID); ok {
			current = latest
		}
	}
	logger := h.log.WithField("job_id", jobID)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer sub.Close()

		if err := writeEvent(w, current); err != nil || current.Terminal() {
			return
		}

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case snap, ok := <-sub.C:
				if !ok {
					return
				}
				if snap.Progress < current.Progress && !snap.Terminal() {
					// Already sent a newer snapshot.
					continue
				}
				current = snap
				if err := writeEvent(w, snap); err != nil {
					logger.WithError(err).Debug("Event stream closed by client")
					return
				}
				if snap.Terminal() {
					return
				}
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}

// writeEvent writes one SSE frame named after the message type.
func writeEvent(w *bufio.Writer, snap model.JobSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	event := model.WSMessageTypeProgress
	switch snap.State {
	case model.JobStateCompleted:
		event = model.WSMessageTypeComplete
	case model.JobStateFailed:
		event = model.WSMessageTypeError
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return w.Flush()
}
