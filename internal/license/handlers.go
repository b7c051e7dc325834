package license

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides admin HTTP endpoints for license management.
type Handler struct {
	registry *Registry
}

// NewHandler creates a new license handler.
func NewHandler(r *Registry) *Handler {
	return &Handler{registry: r}
}

// RegisterRoutes sets up license routes. The group is expected to be
// guarded by admin middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/licenses", h.IssueLicense)
	r.GET("/licenses", h.ListLicenses)
	r.GET("/licenses/:token", h.GetLicense)
	r.POST("/licenses/:token/users", h.AuthorizeUser)
	r.DELETE("/licenses/:token/users/:user", h.RemoveUser)
	r.POST("/licenses/:token/revoke", h.RevokeLicense)
	r.POST("/licenses/:token/reactivate", h.ReactivateLicense)
	r.DELETE("/licenses/:token", h.DeleteLicense)
}

// IssueLicense handles POST /licenses
func (h *Handler) IssueLicense(c *gin.Context) {
	var req IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	l, err := h.registry.Issue(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"license": l})
}

// ListLicenses handles GET /licenses?owner=
func (h *Handler) ListLicenses(c *gin.Context) {
	list, err := h.registry.List(c.Request.Context(), c.Query("owner"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"licenses": list, "count": len(list)})
}

// GetLicense handles GET /licenses/:token
func (h *Handler) GetLicense(c *gin.Context) {
	info, err := h.registry.Info(c.Request.Context(), c.Param("token"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"license": info})
}

type authorizeRequest struct {
	User string `json:"user" binding:"required"`
}

// AuthorizeUser handles POST /licenses/:token/users
func (h *Handler) AuthorizeUser(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "user is required",
		})
		return
	}
	if err := h.registry.Authorize(c.Request.Context(), c.Param("token"), req.User); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "authorized", "user": req.User})
}

// RemoveUser handles DELETE /licenses/:token/users/:user
func (h *Handler) RemoveUser(c *gin.Context) {
	if err := h.registry.RemoveUser(c.Request.Context(), c.Param("token"), c.Param("user")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// RevokeLicense handles POST /licenses/:token/revoke
func (h *Handler) RevokeLicense(c *gin.Context) {
	if err := h.registry.Revoke(c.Request.Context(), c.Param("token")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// ReactivateLicense handles POST /licenses/:token/reactivate
func (h *Handler) ReactivateLicense(c *gin.Context) {
	if err := h.registry.Reactivate(c.Request.Context(), c.Param("token")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

// DeleteLicense handles DELETE /licenses/:token
func (h *Handler) DeleteLicense(c *gin.Context) {
	if err := h.registry.Delete(c.Request.Context(), c.Param("token")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "License not found"})
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, ErrCapacityExceeded):
		c.JSON(http.StatusConflict, gin.H{"error": "capacity_exceeded", "message": "License has reached its maximum users"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "License operation failed"})
	}
}
