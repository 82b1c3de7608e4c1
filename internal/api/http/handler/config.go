package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-kiosk/internal/api/http/dto"
	"github.com/EternisAI/silo-kiosk/internal/configsync"
	"github.com/EternisAI/silo-kiosk/internal/kiosk"
)

type ConfigHandler struct {
	kiosk *kiosk.Kiosk
}

func NewConfigHandler(k *kiosk.Kiosk) *ConfigHandler {
	return &ConfigHandler{kiosk: k}
}

func (h *ConfigHandler) response() dto.ConfigResponse {
	sync := h.kiosk.Sync
	local := sync.Local()

	resp := dto.ConfigResponse{
		Version:       local.Version,
		CurrentStatus: local.CurrentStatus,
		Schedule:      local.Schedule,
		Branding:      local.Branding,
		Features:      local.Features,
		SyncStatus:    string(sync.Status()),
	}
	if last := sync.LastSync(); !last.IsZero() {
		resp.LastSync = &last
	}
	return resp
}

// Get returns the effective local config, including unpushed edits.
// GET /api/v1/config
func (h *ConfigHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.response())
}

// Edit applies a partial update locally and pushes it in the background.
// PATCH /api/v1/config
func (h *ConfigHandler) Edit(c *gin.Context) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil || len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a non-empty JSON object"})
		return
	}

	err := h.kiosk.Sync.ApplyLocalEdit(c.Request.Context(), fields)
	if err != nil {
		switch {
		case errors.Is(err, configsync.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "config changed on the server, reload before editing"})
		case errors.Is(err, configsync.ErrUnknownField):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			slog.Error("Failed to apply config edit", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply config edit"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.ConfigEditResponse{SyncStatus: string(h.kiosk.Sync.Status())})
}

// Reload fetches the server copy, which also clears a conflict.
// POST /api/v1/config/reload
func (h *ConfigHandler) Reload(c *gin.Context) {
	if err := h.kiosk.Sync.LoadRemote(c.Request.Context()); err != nil {
		if errors.Is(err, configsync.ErrOffline) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend unreachable", "config": h.response()})
			return
		}
		slog.Error("Failed to reload config", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reload config"})
		return
	}

	c.JSON(http.StatusOK, h.response())
}
