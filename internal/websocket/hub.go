package websocket

import (
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/sirupsen/logrus"

	"github.com/briefcast/api/internal/model"
	"github.com/briefcast/api/internal/progress"
	"github.com/briefcast/api/pkg/response"
)

const pingInterval = 30 * time.Second

// StatusSource returns the latest snapshot of a job.
type StatusSource interface {
	Status(jobID string) (model.JobSnapshot, bool)
}

// Hub streams job progress to WebSocket clients. Each connection holds one
// progress bus subscription for the lifetime of the socket.
type Hub struct {
	bus    *progress.Bus
	status StatusSource
	log    *logrus.Logger
}

// NewHub creates a new Hub
func NewHub(bus *progress.Bus, status StatusSource, log *logrus.Logger) *Hub {
	return &Hub{bus: bus, status: status, log: log}
}

// Encode renders a snapshot as the message a client receives.
func Encode(snap model.JobSnapshot) ([]byte, error) {
	switch snap.State {
	case model.JobStateCompleted:
		return json.Marshal(model.WSProgressMessage{Type: model.WSMessageTypeComplete, Job: snap})
	case model.JobStateFailed:
		return json.Marshal(model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			Job:   snap,
			Error: model.WSError{Code: response.CodeJobFailed, Message: snap.Error},
		})
	default:
		return json.Marshal(model.WSProgressMessage{Type: model.WSMessageTypeProgress, Job: snap})
	}
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	logger := h.log.WithField("job_id", jobID)

	// Subscribe before reading the current state so no transition is missed.
	sub := h.bus.Subscribe(jobID)
	defer sub.Close()

	control := make(chan []byte, 8)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		write := func(snap model.JobSnapshot) bool {
			data, err := Encode(snap)
			if err != nil {
				logger.WithError(err).Error("Failed to encode progress message")
				return true
			}
			return c.WriteMessage(websocket.TextMessage, data) == nil
		}

		if snap, ok := h.status.Status(jobID); ok {
			if !write(snap) {
				return
			}
			if snap.Terminal() {
				c.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
		}

		for {
			select {
			case snap, ok := <-sub.C:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if !write(snap) {
					return
				}

			case data := <-control:
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.WithError(err).Warn("WebSocket error")
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			select {
			case control <- pong:
			case <-done:
			}
		}
	}

	sub.Close()
	<-done
}
