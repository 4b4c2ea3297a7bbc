package threats

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for threat detection and lifecycle.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new threats handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up threat routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/threats", h.Detect)
	r.GET("/threats", h.List)
	r.GET("/threats/:id", h.Get)
	r.POST("/threats/:id/status", h.Transition)
	r.GET("/threats/summary", h.Summary)
}

// Detect handles POST /threats
func (h *Handler) Detect(c *gin.Context) {
	var in DetectInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	t, err := h.engine.Detect(c.Request.Context(), in)
	if err != nil {
		if errors.Is(err, ErrInvalidThreat) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_threat",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "threat_error",
			"message": "Failed to record threat",
		})
		return
	}
	c.JSON(http.StatusCreated, t)
}

// List handles GET /threats
func (h *Handler) List(c *gin.Context) {
	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	list, err := h.engine.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "threat_error",
			"message": "Failed to list threats",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"threats": list, "count": len(list)})
}

// Get handles GET /threats/:id
func (h *Handler) Get(c *gin.Context) {
	t, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrThreatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "threat_not_found",
				"message": "Threat not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "threat_error",
			"message": "Failed to load threat",
		})
		return
	}
	c.JSON(http.StatusOK, t)
}

// TransitionRequest is the body for POST /threats/:id/status.
type TransitionRequest struct {
	Status  string `json:"status" binding:"required"`
	Handler string `json:"handler"`
}

// Transition handles POST /threats/:id/status
func (h *Handler) Transition(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "status is required",
		})
		return
	}

	t, err := h.engine.Transition(c.Request.Context(), c.Param("id"), Status(req.Status), req.Handler)
	if err != nil {
		switch {
		case errors.Is(err, ErrThreatNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "threat_not_found",
				"message": "Threat not found",
			})
		case errors.Is(err, ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "invalid_transition",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "threat_error",
				"message": "Failed to update threat",
			})
		}
		return
	}
	c.JSON(http.StatusOK, t)
}

// Summary handles GET /threats/summary
func (h *Handler) Summary(c *gin.Context) {
	s, err := h.engine.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "threat_error",
			"message": "Failed to aggregate threats",
		})
		return
	}
	c.JSON(http.StatusOK, s)
}
