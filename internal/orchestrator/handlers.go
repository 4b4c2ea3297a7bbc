package orchestrator

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the security orchestrator.
type Handler struct {
	orch *Orchestrator
}

// NewHandler creates a new orchestrator handler.
func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// RegisterRoutes sets up orchestrator routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/security/status", h.GetStatus)
	r.GET("/security/dashboard", h.GetDashboard)
	r.POST("/security/scan", h.RunScan)
	r.POST("/security/incidents", h.CreateIncident)
	r.GET("/security/incidents", h.ListIncidents)
	r.GET("/security/incidents/:id", h.GetIncident)
	r.PATCH("/security/incidents/:id", h.UpdateIncident)
	r.GET("/security/audit-report", h.GetAuditReport)
}

// GetStatus handles GET /security/status
func (h *Handler) GetStatus(c *gin.Context) {
	s, err := h.orch.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "status_error",
			"message": "Failed to compute security status",
		})
		return
	}
	c.JSON(http.StatusOK, s)
}

// GetDashboard handles GET /security/dashboard?window=24h
func (h *Handler) GetDashboard(c *gin.Context) {
	window, ok := parseWindow(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.orch.Dashboard(c.Request.Context(), window))
}

// RunScan handles POST /security/scan
func (h *Handler) RunScan(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.Scan(c.Request.Context()))
}

// CreateIncident handles POST /security/incidents
func (h *Handler) CreateIncident(c *gin.Context) {
	var in CreateIncidentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	inc, err := h.orch.CreateIncident(c.Request.Context(), in)
	if err != nil {
		if errors.Is(err, ErrInvalidIncident) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_incident",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "incident_error",
			"message": "Failed to create incident",
		})
		return
	}
	c.JSON(http.StatusCreated, inc)
}

// ListIncidents handles GET /security/incidents
func (h *Handler) ListIncidents(c *gin.Context) {
	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	incidents, err := h.orch.ListIncidents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "incident_error",
			"message": "Failed to list incidents",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents, "count": len(incidents)})
}

// GetIncident handles GET /security/incidents/:id
func (h *Handler) GetIncident(c *gin.Context) {
	inc, err := h.orch.GetIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrIncidentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "incident_not_found",
				"message": "Incident not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "incident_error",
			"message": "Failed to load incident",
		})
		return
	}
	c.JSON(http.StatusOK, inc)
}

// UpdateIncidentRequest is the body for PATCH /security/incidents/:id.
type UpdateIncidentRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateIncident handles PATCH /security/incidents/:id
func (h *Handler) UpdateIncident(c *gin.Context) {
	var req UpdateIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "status is required",
		})
		return
	}

	inc, err := h.orch.UpdateIncidentStatus(c.Request.Context(), c.Param("id"), IncidentStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, ErrIncidentNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "incident_not_found",
				"message": "Incident not found",
			})
		case errors.Is(err, ErrInvalidIncidentMove):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "invalid_transition",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "incident_error",
				"message": "Failed to update incident",
			})
		}
		return
	}
	c.JSON(http.StatusOK, inc)
}

// GetAuditReport handles GET /security/audit-report?window=168h
func (h *Handler) GetAuditReport(c *gin.Context) {
	window := 7 * 24 * time.Hour
	if windowStr := c.Query("window"); windowStr != "" {
		d, err := time.ParseDuration(windowStr)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_window",
				"message": "window must be a positive duration like 168h",
			})
			return
		}
		window = d
	}

	report, err := h.orch.Audit(c.Request.Context(), window)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "audit_error",
			"message": "Failed to build audit report",
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

func parseWindow(c *gin.Context) (time.Duration, bool) {
	window := 24 * time.Hour
	if windowStr := c.Query("window"); windowStr != "" {
		d, err := time.ParseDuration(windowStr)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_window",
				"message": "window must be a positive duration like 24h",
			})
			return 0, false
		}
		window = d
	}
	return window, true
}
