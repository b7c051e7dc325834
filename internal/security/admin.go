package security

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SentinelX-Auth/SentinelX/internal/logging"
	"github.com/SentinelX-Auth/SentinelX/internal/metrics"
)

// AdminHeader carries the admin secret.
const AdminHeader = "X-Admin-Secret"

// RequireAdmin guards admin routes with a shared secret compared in
// constant time. With an empty secret every request is refused.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "admin_disabled",
				"message": "Admin API is not configured",
			})
			return
		}

		got := c.GetHeader(AdminHeader)
		if got == "" {
			metrics.AdminAuthFailures.Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Admin secret required",
			})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			metrics.AdminAuthFailures.Inc()
			logging.L(c.Request.Context()).Warn("admin secret mismatch", "path", c.FullPath(), "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret",
			})
			return
		}

		c.Next()
	}
}
