package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-kiosk/internal/api/http/dto"
	"github.com/EternisAI/silo-kiosk/internal/kiosk"
	"github.com/EternisAI/silo-kiosk/internal/queue"
)

type TicketHandler struct {
	kiosk *kiosk.Kiosk
}

func NewTicketHandler(k *kiosk.Kiosk) *TicketHandler {
	return &TicketHandler{kiosk: k}
}

// Submit queues the JSON body as a ticket. Delivery happens in the
// background, so success means the ticket is durably queued.
// POST /api/v1/tickets
func (h *TicketHandler) Submit(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON object"})
		return
	}
	if len(payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ticket payload is empty"})
		return
	}

	s, err := h.kiosk.SubmitTicket(c.Request.Context(), payload)
	if err != nil {
		switch {
		case errors.Is(err, kiosk.ErrNotOperational):
			c.JSON(http.StatusForbidden, gin.H{"error": "kiosk is not activated"})
		case errors.Is(err, queue.ErrQueueFull):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "submission queue is full"})
		default:
			slog.Error("Failed to queue ticket", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue ticket"})
		}
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitTicketResponse{
		ID:         s.ID,
		EnqueuedAt: s.EnqueuedAt,
		Pending:    h.kiosk.Queue.Len(),
	})
}
