// Package server wires the security engines into an HTTP API.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/scrollverse/sentinel/internal/config"
	"github.com/scrollverse/sentinel/internal/fraud"
	"github.com/scrollverse/sentinel/internal/health"
	"github.com/scrollverse/sentinel/internal/idgen"
	"github.com/scrollverse/sentinel/internal/logging"
	"github.com/scrollverse/sentinel/internal/metrics"
	"github.com/scrollverse/sentinel/internal/orchestrator"
	"github.com/scrollverse/sentinel/internal/policy"
	"github.com/scrollverse/sentinel/internal/profile"
	"github.com/scrollverse/sentinel/internal/ratelimit"
	"github.com/scrollverse/sentinel/internal/realtime"
	"github.com/scrollverse/sentinel/internal/registry"
	"github.com/scrollverse/sentinel/internal/retry"
	"github.com/scrollverse/sentinel/internal/security"
	"github.com/scrollverse/sentinel/internal/threats"
	"github.com/scrollverse/sentinel/internal/traces"
	"github.com/scrollverse/sentinel/internal/validation"
)

// Server is the main application server.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db *sql.DB // nil in memory mode

	profiles    *profile.Manager
	registry    *registry.Registry
	fraudEngine *fraud.Engine
	alerts      *fraud.AlertManager
	analytics   *fraud.Analytics
	publisher   *threats.Publisher
	threats     *threats.Engine
	policies    *policy.Engine
	orch        *orchestrator.Orchestrator
	directory   orchestrator.Directory
	hub         *realtime.Hub

	rateLimiter *ratelimit.Limiter
	checks      *health.Registry

	router  *gin.Engine
	httpSrv *http.Server

	ready        atomic.Bool
	healthy      atomic.Bool
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	shutdownOTel func(context.Context) error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithDirectory attaches an identity directory so reports show display
// names instead of raw user IDs. Never consulted for risk decisions.
func WithDirectory(d orchestrator.Directory) Option {
	return func(s *Server) {
		s.directory = d
	}
}

// New creates a fully wired server. With DatabaseURL set, state is persisted
// in PostgreSQL; without it, everything runs on in-memory stores (demo mode).
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: slog.Default(),
		checks: health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var (
		profileStore  profile.Store
		registryStore registry.Store
		decisionStore fraud.DecisionStore
		alertStore    fraud.AlertStore
		threatStore   threats.Store
		policyStore   policy.Store
		incidentStore orchestrator.IncidentStore
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Postgres may still be coming up when we are; retry the first contact.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := retry.Do(ctx, 5, time.Second, func() error {
			return db.PingContext(ctx)
		}); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s.db = db
		s.logger.Info("connected to PostgreSQL", "dsn", maskDSN(cfg.DatabaseURL))

		profileStore = profile.NewPostgresStore(db)
		registryStore = registry.NewPostgresStore(db)
		decisionStore = fraud.NewPostgresDecisionStore(db)
		alertStore = fraud.NewPostgresAlertStore(db)
		threatStore = threats.NewPostgresStore(db)
		policyStore = policy.NewPostgresStore(db)
		incidentStore = orchestrator.NewPostgresIncidentStore(db)

		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.logger.Warn("DATABASE_URL not set, using in-memory stores")
		profileStore = profile.NewMemoryStore()
		registryStore = registry.NewMemoryStore()
		decisionStore = fraud.NewMemoryDecisionStore()
		alertStore = fraud.NewMemoryAlertStore()
		threatStore = threats.NewMemoryStore()
		policyStore = policy.NewMemoryStore()
		incidentStore = orchestrator.NewMemoryIncidentStore()
	}

	// Risk profiles
	s.profiles = profile.NewManager(profileStore).
		WithBands(profile.Bands{Low: cfg.BandLow, Medium: cfg.BandMedium, High: cfg.BandHigh}).
		WithDecay(cfg.DecayWindow, cfg.DecayHalfLife)

	// Suspicious entity registry. The hot set is kept in memory; warm it
	// from the store so hard blocks work from the first transaction.
	s.registry = registry.New(registryStore)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.registry.Load(ctx); err != nil {
			return nil, fmt.Errorf("failed to load suspicious entity registry: %w", err)
		}
	}
	s.logger.Info("suspicious entity registry loaded", "entries", s.registry.Len())

	// Realtime hub for WebSocket streaming
	s.hub = realtime.NewHub(s.logger)
	bridge := orchestrator.NewBridge(s.hub)

	// Fraud detection
	alertCfg := fraud.DefaultAlertManagerConfig()
	alertCfg.ConfirmedFraudWeight = cfg.FraudFactorScore
	alertCfg.DownweightRatio = cfg.DownweightRatio
	alertCfg.Bands = profile.Bands{Low: cfg.BandLow, Medium: cfg.BandMedium, High: cfg.BandHigh}
	s.alerts = fraud.NewAlertManager(alertCfg, alertStore, s.profiles, s.registry).
		WithNotifier(bridge)

	engineCfg := fraud.EngineConfig{
		DenyThreshold:  cfg.DenyThreshold,
		AlertThreshold: cfg.AlertThreshold,
		AmountWeight:   cfg.AmountWeight,
		VelocityWeight: cfg.VelocityWeight,
		ProfileWeight:  cfg.ProfileWeight,
		VelocityWindow: cfg.VelocityWindow,
		VelocityCap:    cfg.VelocityCap,
	}
	s.fraudEngine = fraud.NewEngine(engineCfg, s.profiles, s.registry, decisionStore, s.alerts)
	s.analytics = fraud.NewAnalytics(decisionStore, alertStore, s.profiles)

	// Threat detection
	s.publisher = threats.NewPublisher(threats.DefaultQueueSize)
	s.publisher.Subscribe(bridge.ThreatEvent)
	s.threats = threats.NewEngine(threatStore, s.publisher).
		WithVolumetricThreshold(cfg.VolumetricThreshold)

	// Policy engine
	s.policies = policy.NewEngine(policyStore, policy.Action(cfg.PolicyDefaultAction))

	// Orchestrator
	s.orch = orchestrator.New(s.analytics, decisionStore, alertStore,
		s.threats, s.policies, s.profiles, s.registry, incidentStore).
		WithNotifier(bridge)
	if s.directory != nil {
		s.orch.WithDirectory(s.directory)
	}

	s.logger.Info("security engines wired",
		"denyThreshold", cfg.DenyThreshold,
		"velocityCap", cfg.VelocityCap,
		"policyDefault", cfg.PolicyDefaultAction,
	)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// WebSocket for real-time security event streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// V1 API group
	v1 := s.router.Group("/v1")

	fraud.NewHandler(s.fraudEngine, s.alerts, s.analytics, s.profiles).RegisterRoutes(v1)
	threats.NewHandler(s.threats).RegisterRoutes(v1)
	policy.NewHandler(s.policies).RegisterRoutes(v1)
	registry.NewHandler(s.registry).RegisterRoutes(v1)
	orchestrator.NewHandler(s.orch).RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Sentinel",
		"description": "Transaction risk and security policy engine",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when OTLP endpoint is unset)
	shutdownOTel, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownOTel = shutdownOTel
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Export connection pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down server")
	s.ready.Store(false)

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http shutdown error", "error", err)
		}
	}

	// Drain queued threat events before closing stores.
	if s.publisher != nil {
		s.publisher.Close()
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.shutdownOTel != nil {
		if err := s.shutdownOTel(shutdownCtx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}

	s.healthy.Store(false)
	s.logger.Info("server stopped")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
