package fraud

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/scrollverse/sentinel/internal/pagination"
	"github.com/scrollverse/sentinel/internal/profile"
	"github.com/scrollverse/sentinel/internal/validation"
)

// Handler provides HTTP endpoints for transaction validation and the fraud
// alert workflow.
type Handler struct {
	engine    *Engine
	alerts    *AlertManager
	analytics *Analytics
	profiles  *profile.Manager
}

// NewHandler creates a new fraud handler.
func NewHandler(engine *Engine, alerts *AlertManager, analytics *Analytics, profiles *profile.Manager) *Handler {
	return &Handler{engine: engine, alerts: alerts, analytics: analytics, profiles: profiles}
}

// RegisterRoutes sets up fraud routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transactions/validate", h.ValidateTransaction)
	r.GET("/transactions/:id/decision", h.GetDecision)
	r.GET("/users/:id/risk-profile", h.GetRiskProfile)
	r.GET("/fraud/alerts", h.ListAlerts)
	r.GET("/fraud/alerts/:id", h.GetAlert)
	r.POST("/fraud/alerts/:id/investigate", h.StartInvestigation)
	r.POST("/fraud/alerts/:id/resolve", h.ResolveAlert)
	r.GET("/fraud/analytics", h.GetAnalytics)
}

// ValidateRequest is the body for POST /transactions/validate.
type ValidateRequest struct {
	ID       string   `json:"id" binding:"required"`
	FromUser string   `json:"fromUser" binding:"required"`
	ToUser   string   `json:"toUser" binding:"required"`
	Amount   float64  `json:"amount" binding:"required"`
	Type     string   `json:"type" binding:"required"`
	Metadata Metadata `json:"metadata"`
}

// ValidateTransaction handles POST /transactions/validate
func (h *Handler) ValidateTransaction(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if !validation.IsValidUserID(req.FromUser) || !validation.IsValidUserID(req.ToUser) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_user_id",
			"message": "User IDs must be 1-64 alphanumeric characters",
		})
		return
	}
	if req.Metadata.IP != "" && !validation.IsValidIP(req.Metadata.IP) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_ip",
			"message": "metadata.ip must be a valid IP address",
		})
		return
	}

	tx := &Transaction{
		ID:        req.ID,
		FromUser:  req.FromUser,
		ToUser:    req.ToUser,
		Amount:    req.Amount,
		Type:      TxType(req.Type),
		Timestamp: time.Now(),
		Metadata:  req.Metadata,
	}
	d, err := h.engine.ValidateTransaction(c.Request.Context(), tx)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_transaction",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, d)
}

// GetDecision handles GET /transactions/:id/decision
func (h *Handler) GetDecision(c *gin.Context) {
	d, err := h.engine.DecisionFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrDecisionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "decision_not_found",
				"message": "No decision recorded for this transaction",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "decision_error",
			"message": "Failed to load decision",
		})
		return
	}
	c.JSON(http.StatusOK, d)
}

// GetRiskProfile handles GET /users/:id/risk-profile
func (h *Handler) GetRiskProfile(c *gin.Context) {
	userID := c.Param("id")
	if !validation.IsValidUserID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_user_id",
			"message": "User IDs must be 1-64 alphanumeric characters",
		})
		return
	}

	p, err := h.profiles.Get(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "profile_error",
			"message": "Failed to load risk profile",
		})
		return
	}
	c.JSON(http.StatusOK, p)
}

// ListAlerts handles GET /fraud/alerts
func (h *Handler) ListAlerts(c *gin.Context) {
	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	var opts []ListOption
	if cursor := c.Query("cursor"); cursor != "" {
		opts = append(opts, WithCursor(cursor))
	}

	// Fetch one extra row to detect whether another page exists.
	alerts, err := h.alerts.List(c.Request.Context(), limit+1, opts...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "alert_error",
			"message": "Failed to list alerts",
		})
		return
	}

	page, nextCursor, hasMore := pagination.ComputePage(alerts, limit, func(a *FraudAlert) (time.Time, string) {
		return a.CreatedAt, a.ID
	})
	resp := gin.H{"alerts": page, "count": len(page), "hasMore": hasMore}
	if nextCursor != "" {
		resp["nextCursor"] = nextCursor
	}
	c.JSON(http.StatusOK, resp)
}

// GetAlert handles GET /fraud/alerts/:id
func (h *Handler) GetAlert(c *gin.Context) {
	a, err := h.alerts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrAlertNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "alert_not_found",
				"message": "Alert not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "alert_error",
			"message": "Failed to load alert",
		})
		return
	}
	c.JSON(http.StatusOK, a)
}

// InvestigateRequest is the body for alert workflow endpoints.
type InvestigateRequest struct {
	InvestigatorID string `json:"investigatorId" binding:"required"`
	Resolution     string `json:"resolution"`
}

// StartInvestigation handles POST /fraud/alerts/:id/investigate
func (h *Handler) StartInvestigation(c *gin.Context) {
	var req InvestigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "investigatorId is required",
		})
		return
	}

	a, err := h.alerts.StartInvestigation(c.Request.Context(), c.Param("id"), req.InvestigatorID)
	if err != nil {
		h.alertError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// ResolveAlert handles POST /fraud/alerts/:id/resolve
func (h *Handler) ResolveAlert(c *gin.Context) {
	var req InvestigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "investigatorId is required",
		})
		return
	}

	a, err := h.alerts.Resolve(c.Request.Context(), c.Param("id"), req.InvestigatorID, Resolution(req.Resolution))
	if err != nil {
		h.alertError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// GetAnalytics handles GET /fraud/analytics?window=24h
func (h *Handler) GetAnalytics(c *gin.Context) {
	window := 24 * time.Hour
	if windowStr := c.Query("window"); windowStr != "" {
		d, err := time.ParseDuration(windowStr)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_window",
				"message": "window must be a positive duration like 24h",
			})
			return
		}
		window = d
	}

	report, err := h.analytics.Report(c.Request.Context(), window)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "analytics_error",
			"message": "Failed to build analytics report",
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

// alertError maps alert workflow errors to HTTP statuses.
func (h *Handler) alertError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	errCode := "alert_error"

	switch {
	case errors.Is(err, ErrAlertNotFound):
		status = http.StatusNotFound
		errCode = "alert_not_found"
	case errors.Is(err, ErrAlertResolved):
		status = http.StatusConflict
		errCode = "alert_resolved"
	case errors.Is(err, ErrInvalidTransition):
		status = http.StatusConflict
		errCode = "invalid_transition"
	case errors.Is(err, ErrInvalidResolution), errors.Is(err, ErrMissingInvestigator):
		status = http.StatusBadRequest
		errCode = "invalid_request"
	}

	c.JSON(status, gin.H{
		"error":   errCode,
		"message": err.Error(),
	})
}
