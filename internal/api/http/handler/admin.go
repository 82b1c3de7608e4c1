package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-kiosk/internal/api/http/dto"
	"github.com/EternisAI/silo-kiosk/internal/offlineauth"
)

type AdminHandler struct {
	validator *offlineauth.Validator
}

func NewAdminHandler(validator *offlineauth.Validator) *AdminHandler {
	return &AdminHandler{validator: validator}
}

func toLoginResponse(s offlineauth.Session) dto.LoginResponse {
	return dto.LoginResponse{
		Token:       s.Token,
		ExpiresAt:   s.ExpiresAt,
		Permissions: s.Permissions,
		PinType:     s.PinType,
		Offline:     s.Offline,
	}
}

// Login exchanges an admin PIN for a session token.
// POST /api/v1/admin/login
func (h *AdminHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.validator.Validate(c.Request.Context(), req.PIN)
	if err != nil {
		if errors.Is(err, offlineauth.ErrInvalidPIN) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid PIN"})
			return
		}
		slog.Error("Admin login failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.JSON(http.StatusOK, toLoginResponse(session))
}

// Session returns the active session without its token.
// GET /api/v1/admin/session
func (h *AdminHandler) Session(c *gin.Context) {
	session, ok := h.validator.Current()
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no active session"})
		return
	}
	resp := toLoginResponse(session)
	resp.Token = ""
	c.JSON(http.StatusOK, resp)
}

// POST /api/v1/admin/logout
func (h *AdminHandler) Logout(c *gin.Context) {
	if err := h.validator.Logout(c.Request.Context()); err != nil {
		slog.Error("Failed to clear admin session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear session"})
		return
	}
	c.Status(http.StatusNoContent)
}
