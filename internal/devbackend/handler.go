package devbackend

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-kiosk/internal/backend"
)

const (
	deviceKey      = "device"
	adminKeyHeader = "X-API-Key"
)

type Handler struct {
	store       *Store
	adminAPIKey string
}

func NewHandler(store *Store, adminAPIKey string) *Handler {
	return &Handler{store: store, adminAPIKey: adminAPIKey}
}

func SetupRoute(engine *gin.Engine, h *Handler) {
	engine.GET("/health", h.Health)

	kiosk := engine.Group("/api/v1/kiosk")
	kiosk.GET("/activation", h.Activation)

	authed := kiosk.Group("", h.DeviceAuth())
	authed.POST("/tickets", h.SubmitTicket)
	authed.GET("/config", h.GetConfig)
	authed.PUT("/config", h.PushConfig)
	authed.POST("/admin/validate-pin", h.ValidatePIN)

	admin := engine.Group("/admin", h.AdminAuth())
	admin.GET("/tickets", h.ListTickets)
	admin.PUT("/devices/:id/status", h.SetDeviceStatus)
	admin.PUT("/config", h.AdminUpdateConfig)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// DeviceAuth admits activated devices only.
func (h *Handler) DeviceAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		device, err := h.store.Authenticate(c.GetHeader(backend.HeaderDeviceID), bearerToken(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid device credentials"})
			return
		}
		if device.Status != DeviceStatusActivated {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "device " + device.Status})
			return
		}
		c.Set(deviceKey, device)
		c.Next()
	}
}

func (h *Handler) AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.adminAPIKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Admin API is not configured"})
			return
		}
		provided := c.GetHeader(adminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.adminAPIKey)) != 1 {
			slog.Warn("Invalid API key attempt", "path", c.Request.URL.Path, "client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		c.Next()
	}
}

func (h *Handler) Activation(c *gin.Context) {
	device, err := h.store.Authenticate(c.GetHeader(backend.HeaderDeviceID), bearerToken(c))
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "device not registered"})
		return
	case err != nil:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid device credentials"})
		return
	}

	c.JSON(http.StatusOK, backend.ActivationResponse{Status: device.Status})
}

func (h *Handler) SubmitTicket(c *gin.Context) {
	key := c.GetHeader(backend.HeaderIdempotencyKey)
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Idempotency-Key header is required"})
		return
	}

	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device := c.MustGet(deviceKey).(Device)
	ticket, created := h.store.AddTicket(device.ID, key, payload)
	if !created {
		slog.Info("Duplicate ticket delivery", "ticket_id", ticket.ID, "deliveries", ticket.Deliveries)
		c.JSON(http.StatusOK, ticket)
		return
	}

	slog.Info("Ticket received", "ticket_id", ticket.ID, "device_id", device.ID)
	c.JSON(http.StatusCreated, ticket)
}

func (h *Handler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Config())
}

func (h *Handler) PushConfig(c *gin.Context) {
	var req backend.ConfigPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.updateConfig(c, req)
}

func (h *Handler) AdminUpdateConfig(c *gin.Context) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.updateConfig(c, backend.ConfigPushRequest{BaseVersion: h.store.Config().Version, Fields: fields})
}

func (h *Handler) updateConfig(c *gin.Context, req backend.ConfigPushRequest) {
	version, err := h.store.UpdateConfig(req.BaseVersion, req.Fields)
	switch {
	case errors.Is(err, ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "config version conflict"})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, backend.ConfigPushResponse{Version: version})
}

func (h *Handler) ValidatePIN(c *gin.Context) {
	var req backend.PINValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device := c.MustGet(deviceKey).(Device)
	result, err := h.store.ValidatePIN(device.ID, req.PIN)
	if err != nil {
		if errors.Is(err, ErrInvalidPIN) {
			c.JSON(http.StatusUnauthorized, backend.PINValidation{Valid: false})
			return
		}
		slog.Error("Failed to validate pin", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) ListTickets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tickets": h.store.Tickets()})
}

type setStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=activated revoked expired"`
}

func (h *Handler) SetDeviceStatus(c *gin.Context) {
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.SetDeviceStatus(c.Param("id"), req.Status); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
