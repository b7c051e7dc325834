package fraud

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// Handler exposes the blocked-request audit trail and the active policy to
// operators. The group is expected to be guarded by admin middleware.
type Handler struct {
	evaluator *Evaluator
	store     Store
}

// NewHandler creates a fraud admin handler.
func NewHandler(e *Evaluator, store Store) *Handler {
	return &Handler{evaluator: e, store: store}
}

// RegisterRoutes sets up fraud routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/fraud/policy", h.GetPolicy)
	r.GET("/fraud/assessments", h.ListAssessments)
}

// GetPolicy handles GET /fraud/policy
func (h *Handler) GetPolicy(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"policy": h.evaluator.Policy()})
}

// ListAssessments handles GET /fraud/assessments?origin=&limit=
func (h *Handler) ListAssessments(c *gin.Context) {
	origin := strings.TrimSpace(c.Query("origin"))
	if origin == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "origin is required",
		})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be between 1 and 500",
			})
			return
		}
		limit = n
	}

	list, err := h.store.ListByOrigin(c.Request.Context(), origin, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list assessments",
		})
		return
	}
	if list == nil {
		list = []*Assessment{}
	}
	c.JSON(http.StatusOK, gin.H{"assessments": list, "count": len(list)})
}
