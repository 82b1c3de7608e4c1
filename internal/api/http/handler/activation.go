package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-kiosk/internal/activation"
)

type ActivationHandler struct {
	machine *activation.Machine
}

func NewActivationHandler(machine *activation.Machine) *ActivationHandler {
	return &ActivationHandler{machine: machine}
}

// Check asks the backend for the device status. When the backend is
// unreachable the cached state comes back with offline set.
// POST /api/v1/activation/check
func (h *ActivationHandler) Check(c *gin.Context) {
	status, err := h.machine.CheckStatus(c.Request.Context())
	if err != nil {
		slog.Error("Activation check failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "activation check failed"})
		return
	}
	c.JSON(http.StatusOK, status)
}
