package handler

import (
	"io"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-kiosk/internal/kiosk"
)

const eventBuffer = 32

type EventsHandler struct {
	kiosk *kiosk.Kiosk
}

func NewEventsHandler(k *kiosk.Kiosk) *EventsHandler {
	return &EventsHandler{kiosk: k}
}

// Stream pushes kiosk events to the UI as server-sent events. The first
// event is a status snapshot. A client that falls behind loses events
// rather than stalling the publisher.
// GET /api/v1/events
func (h *EventsHandler) Stream(c *gin.Context) {
	events := make(chan kiosk.Event, eventBuffer)
	unsubscribe := h.kiosk.Subscribe(func(e kiosk.Event) {
		select {
		case events <- e:
		default:
			slog.Debug("Dropping event for slow subscriber", "type", e.Type)
		}
	})
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("status", h.kiosk.Status())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case e := <-events:
			c.SSEvent(e.Type, e)
			return true
		case <-ctx.Done():
			return false
		}
	})
}
