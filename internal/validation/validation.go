// Package validation provides input validation middleware for the SentinelX API.
// Per-request field rules live with the request types; this package guards the
// transport boundary.
package validation

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/SentinelX-Auth/SentinelX/internal/accounts"
)

// MaxRequestSize is the maximum request body size. Enrollment uploads carry
// several full behavioral samples, so this is larger than a login needs.
const MaxRequestSize = 4 << 20 // 4MB

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "request_too_large",
				"message": "Request body exceeds the size limit",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// SanitizeString trims whitespace, strips null bytes and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// UsernameParamMiddleware rejects malformed :username URL parameters early.
func UsernameParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("username")
		if name != "" && !accounts.ValidUsername(accounts.NormalizeUsername(name)) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_username",
				"message": "username must be 2-64 characters of letters, digits, '.', '_' or '-'",
			})
			return
		}
		c.Next()
	}
}
