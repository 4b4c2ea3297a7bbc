package policy

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/scrollverse/sentinel/internal/validation"
)

// Handler provides HTTP endpoints for policy management and access checks.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new policy handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up policy routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/access/validate", h.ValidateAccess)
	r.POST("/policies", h.CreatePolicy)
	r.GET("/policies", h.ListPolicies)
	r.GET("/policies/:id", h.GetPolicy)
	r.POST("/policies/:id/enable", h.enableHandler(true))
	r.POST("/policies/:id/disable", h.enableHandler(false))
}

// ValidateAccess handles POST /access/validate
func (h *Handler) ValidateAccess(c *gin.Context) {
	var req AccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if req.UserID == "" || req.Resource == "" || req.Action == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "userId, resource, and action are required",
		})
		return
	}
	if !validation.IsValidUserID(req.UserID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_user_id",
			"message": "User IDs must be 1-64 alphanumeric characters",
		})
		return
	}

	c.JSON(http.StatusOK, h.engine.Evaluate(c.Request.Context(), &req))
}

// CreatePolicy handles POST /policies
func (h *Handler) CreatePolicy(c *gin.Context) {
	var p SecurityPolicy
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	created, err := h.engine.Create(c.Request.Context(), &p)
	if err != nil {
		if errors.Is(err, ErrInvalidPolicy) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_policy",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "policy_error",
			"message": "Failed to create policy",
		})
		return
	}
	c.JSON(http.StatusCreated, created)
}

// ListPolicies handles GET /policies
func (h *Handler) ListPolicies(c *gin.Context) {
	policies, err := h.engine.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "policy_error",
			"message": "Failed to list policies",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies, "count": len(policies)})
}

// GetPolicy handles GET /policies/:id
func (h *Handler) GetPolicy(c *gin.Context) {
	p, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "policy_not_found",
				"message": "Policy not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "policy_error",
			"message": "Failed to load policy",
		})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) enableHandler(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := h.engine.SetEnabled(c.Request.Context(), c.Param("id"), enabled)
		if err != nil {
			if errors.Is(err, ErrPolicyNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error":   "policy_not_found",
					"message": "Policy not found",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "policy_error",
				"message": "Failed to update policy",
			})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}
