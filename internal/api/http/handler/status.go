package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-kiosk/internal/kiosk"
)

type StatusHandler struct {
	kiosk *kiosk.Kiosk
}

func NewStatusHandler(k *kiosk.Kiosk) *StatusHandler {
	return &StatusHandler{kiosk: k}
}

// GET /api/v1/status
func (h *StatusHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.kiosk.Status())
}
