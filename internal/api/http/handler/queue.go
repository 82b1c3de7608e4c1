package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-kiosk/internal/api/http/dto"
	"github.com/EternisAI/silo-kiosk/internal/kiosk"
)

type QueueHandler struct {
	kiosk *kiosk.Kiosk
}

func NewQueueHandler(k *kiosk.Kiosk) *QueueHandler {
	return &QueueHandler{kiosk: k}
}

// List returns the pending submissions in enqueue order.
// GET /api/v1/queue
func (h *QueueHandler) List(c *gin.Context) {
	pending := h.kiosk.Queue.ListPending()

	items := make([]dto.QueueItem, len(pending))
	for i, s := range pending {
		items[i] = dto.QueueItem{
			ID:         s.ID,
			Payload:    s.Payload,
			EnqueuedAt: s.EnqueuedAt,
			Attempts:   s.Attempts,
			LastError:  s.LastError,
		}
	}

	c.JSON(http.StatusOK, dto.QueueResponse{
		Items:       items,
		Count:       len(items),
		Corruptions: h.kiosk.Queue.Diagnostics().Corruptions,
	})
}

// Retry runs a delivery sweep now and reports what happened.
// POST /api/v1/queue/retry
func (h *QueueHandler) Retry(c *gin.Context) {
	result := h.kiosk.RetryNow(c.Request.Context())

	c.JSON(http.StatusOK, dto.RetryResponse{
		Attempted: result.Attempted,
		Delivered: result.Delivered,
		Failed:    result.Failed,
		Skipped:   result.Skipped,
		Pending:   h.kiosk.Queue.Len(),
	})
}
