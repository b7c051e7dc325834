package access

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SentinelX-Auth/SentinelX/internal/accounts"
	"github.com/SentinelX-Auth/SentinelX/internal/anomaly"
	"github.com/SentinelX-Auth/SentinelX/internal/behavior"
)

// Handler exposes the engine over HTTP.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new access handler.
func NewHandler(e *Engine) *Handler {
	return &Handler{engine: e}
}

// RegisterRoutes sets up the public access routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/login", h.Login)
	r.POST("/reauth", h.Reauthenticate)
	r.POST("/register", h.Register)
	r.POST("/enroll", h.Enroll)
	r.GET("/enroll/jobs/:id", h.EnrollmentStatus)
}

// RegisterAdminRoutes sets up identity management routes. The group is
// expected to be guarded by admin middleware.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/identities/:username/activity", h.Activity)
	r.DELETE("/identities/:username", h.DeleteIdentity)
}

// loginBody is the wire form of a login. Exactly one of Password and
// LicenseKey selects the credential.
type loginBody struct {
	Username   string            `json:"username"`
	Password   string            `json:"password"`
	LicenseKey string            `json:"license_key"`
	DeviceID   string            `json:"device_id"`
	Sample     *behavior.Sample  `json:"sample"`
	Metrics    *behavior.Metrics `json:"metrics"`
}

// Login handles POST /login
func (h *Handler) Login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if body.Password != "" && body.LicenseKey != "" {
		badRequest(c, "Provide either password or license_key, not both")
		return
	}

	req := LoginRequest{
		Origin:    c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Username:  body.Username,
		DeviceID:  body.DeviceID,
		Sample:    body.Sample,
		Metrics:   body.Metrics,
	}
	switch {
	case body.LicenseKey != "":
		req.Credential = LicenseCredential{Token: body.LicenseKey}
	case body.Password != "":
		req.Credential = PasswordCredential{Secret: body.Password}
	}

	d := h.engine.Login(c.Request.Context(), req)
	c.JSON(d.Status(), gin.H{"decision": d})
}

// Reauthenticate handles POST /reauth
func (h *Handler) Reauthenticate(c *gin.Context) {
	var req ReauthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	req.Origin = c.ClientIP()
	req.UserAgent = c.Request.UserAgent()

	d := h.engine.Reauthenticate(c.Request.Context(), req)
	c.JSON(d.Status(), gin.H{"decision": d})
}

// Register handles POST /register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	req.Origin = c.ClientIP()
	req.UserAgent = c.Request.UserAgent()

	reg, err := h.engine.Register(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reg)
}

// Enroll handles POST /enroll
func (h *Handler) Enroll(c *gin.Context) {
	var req EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	job, err := h.engine.Enroll(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

// EnrollmentStatus handles GET /enroll/jobs/:id
func (h *Handler) EnrollmentStatus(c *gin.Context) {
	job, err := h.engine.EnrollmentStatus(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// Activity handles GET /identities/:username/activity?limit=
func (h *Handler) Activity(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			badRequest(c, "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	act, err := h.engine.Activity(c.Request.Context(), c.Param("username"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, act)
}

// DeleteIdentity handles DELETE /identities/:username
func (h *Handler) DeleteIdentity(c *gin.Context) {
	if err := h.engine.DeleteIdentity(c.Request.Context(), c.Param("username")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": msg})
}

func writeError(c *gin.Context, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": verr.Field + " " + verr.Message})
	case errors.Is(err, accounts.ErrInvalidUsername), errors.Is(err, accounts.ErrInvalidPassword),
		errors.Is(err, anomaly.ErrInsufficientSamples), errors.Is(err, anomaly.ErrInvalidSample):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, accounts.ErrExists):
		c.JSON(http.StatusConflict, gin.H{"error": "already_exists", "message": "Username is already registered"})
	case errors.Is(err, ErrNotFound), errors.Is(err, accounts.ErrNotFound), errors.Is(err, anomaly.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Not found"})
	case errors.Is(err, ErrBlocked):
		c.JSON(http.StatusForbidden, gin.H{"error": "blocked", "message": "Request blocked due to suspicious activity"})
	case errors.Is(err, anomaly.ErrQueueFull), errors.Is(err, anomaly.ErrEnrollerClosed), errors.Is(err, ErrEnrollUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": "Enrollment is temporarily unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Operation failed"})
	}
}
