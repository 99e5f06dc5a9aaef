package middleware

import (
	"net/http"

	"github.com/GoPolymarket/polyguard/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

// EmergencyStopRoute is writable even in read-only mode.
const EmergencyStopRoute = "/v1/admin/emergency/stop"

func ReadOnlyMiddleware(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		if c.Request.Method == http.MethodPost && c.FullPath() == EmergencyStopRoute {
			c.Next()
			return
		}

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
		default:
			c.Error(apperrors.New(apperrors.ErrReadOnly, "read-only mode enabled", nil))
			c.Abort()
		}
	}
}
