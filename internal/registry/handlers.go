package registry

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/scrollverse/sentinel/internal/validation"
)

// Handler provides HTTP endpoints for managing the suspicious entity registry.
type Handler struct {
	registry *Registry
}

// NewHandler creates a new registry handler.
func NewHandler(r *Registry) *Handler {
	return &Handler{registry: r}
}

// RegisterRoutes sets up registry routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/registry/entries", h.List)
	r.POST("/registry/entries", h.Add)
	r.DELETE("/registry/entries/:identifier", h.Remove)
}

// List handles GET /registry/entries
func (h *Handler) List(c *gin.Context) {
	entries := h.registry.List()
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// AddRequest is the body for POST /registry/entries.
type AddRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Kind       string `json:"kind" binding:"required"`
	Source     string `json:"source"`
}

// Add handles POST /registry/entries
func (h *Handler) Add(c *gin.Context) {
	var req AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "identifier and kind are required",
		})
		return
	}
	if Kind(req.Kind) == KindIP && !validation.IsValidIP(req.Identifier) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_identifier",
			"message": "identifier must be a valid IP address",
		})
		return
	}
	if Kind(req.Kind) == KindDevice && !validation.IsValidDeviceID(req.Identifier) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_identifier",
			"message": "identifier must be a valid device ID",
		})
		return
	}
	source := req.Source
	if source == "" {
		source = "manual"
	}

	e, err := h.registry.Add(c.Request.Context(), req.Identifier, Kind(req.Kind), source)
	if err != nil {
		if errors.Is(err, ErrInvalidEntry) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_entry",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "registry_error",
			"message": "Failed to add entry",
		})
		return
	}
	c.JSON(http.StatusCreated, e)
}

// Remove handles DELETE /registry/entries/:identifier
func (h *Handler) Remove(c *gin.Context) {
	err := h.registry.Remove(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "entry_not_found",
				"message": "Entry not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "registry_error",
			"message": "Failed to remove entry",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}
