package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-kiosk/internal/offlineauth"
)

const SessionTokenKey = "session_token"

type Authorizer interface {
	Authorize(token, permission string) error
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// SessionAuth requires the admin session token as a bearer token. A
// non-empty permission must also be granted by the session.
func SessionAuth(authorizer Authorizer, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})
			return
		}

		err := authorizer.Authorize(token, permission)
		switch {
		case err == nil:
		case errors.Is(err, offlineauth.ErrPermissionDenied):
			slog.Warn("Admin permission denied",
				"path", c.Request.URL.Path,
				"permission", permission)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		case errors.Is(err, offlineauth.ErrSessionExpired):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		c.Set(SessionTokenKey, token)
		c.Next()
	}
}
