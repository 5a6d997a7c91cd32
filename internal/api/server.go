package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"market-signal-bot/config"
	"market-signal-bot/internal/assets"
	"market-signal-bot/internal/audit"
	"market-signal-bot/internal/automation"
	"market-signal-bot/internal/cache"
	"market-signal-bot/internal/database"
	"market-signal-bot/internal/events"
	"market-signal-bot/internal/logging"
	"market-signal-bot/internal/marketdata"
	"market-signal-bot/internal/ratelimit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RateLimiter provides simple in-memory rate limiting per client and route
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	windowStart := now.Add(-r.window)

	// Filter out old requests
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// AssetAPI is the market data surface the server exposes
type AssetAPI interface {
	SearchAssets(ctx context.Context, query string) ([]marketdata.Quote, error)
	GetAssetDetails(ctx context.Context, symbol string) (*marketdata.Quote, error)
	GetPriceHistory(ctx context.Context, symbol string, interval marketdata.Interval) (*marketdata.PriceSeries, error)
	GetEnhancedAssetData(ctx context.Context, symbol string) (*marketdata.EnhancedAsset, error)
	Stats() assets.Stats
}

// AutomationAPI is the automation surface the server exposes
type AutomationAPI interface {
	GenerateAutomatedAnalysis(ctx context.Context, symbol, userID, trigger string) (*automation.Result, error)
	Settings(ctx context.Context, userID string) (database.AutomationSettings, error)
	UpdateSettings(ctx context.Context, s database.AutomationSettings) (database.AutomationSettings, error)
}

// AuditStream is the durable audit trail
type AuditStream interface {
	Stats() audit.StreamStats
	Recent(ctx context.Context, n int64) ([]events.Event, error)
}

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// Deps groups what the server serves. Collector, Cache, Limiter, Stream and
// Bus may be nil.
type Deps struct {
	Assets     AssetAPI
	Automation AutomationAPI
	Bus        *events.EventBus
	Collector  *audit.Collector
	Cache      *cache.Store
	Limiter    *ratelimit.RateLimiter
	Stream     AuditStream
	Health     map[string]HealthCheck
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      config.ServerConfig
	deps        Deps
	rateLimiter *RateLimiter
	hub         *WSHub
	startedAt   time.Time
	logger      *logging.Logger
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.GinMiddleware())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins(cfg.AllowedOrigins)
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-User-ID", "X-Trace-ID"}
	corsConfig.ExposeHeaders = []string{"Content-Length", "X-Trace-ID"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		config:      cfg,
		deps:        deps,
		rateLimiter: NewRateLimiter(120, time.Minute),
		hub:         NewWSHub(),
		startedAt:   time.Now(),
		logger:      logging.WithComponent("api"),
	}

	if deps.Bus != nil {
		server.hub.Attach(deps.Bus)
	}
	go server.hub.Run()

	server.setupRoutes()
	return server
}

func allowedOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"http://localhost:5173"}
	}
	return origins
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub
func (s *Server) Hub() *WSHub {
	return s.hub
}

// rateLimitMiddleware limits each client per route
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		if !s.rateLimiter.Allow(c.ClientIP() + "|" + path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   true,
				"message": "Too many requests, please slow down",
				"path":    path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/ws/automation", s.handleWebSocket)

	api := s.router.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/metrics", s.handleMetrics)
	api.GET("/audit/recent", s.handleRecentAudit)

	limited := api.Group("")
	limited.Use(s.rateLimitMiddleware())
	{
		a := limited.Group("/assets")
		a.GET("/search", s.handleSearchAssets)
		a.GET("/:symbol", s.handleAssetDetails)
		a.GET("/:symbol/history", s.handlePriceHistory)
		a.GET("/:symbol/enhanced", s.handleEnhancedAsset)

		auto := limited.Group("/automation")
		auto.GET("/settings", s.handleGetSettings)
		auto.PUT("/settings", s.handleUpdateSettings)
		auto.POST("/:symbol/analyze", s.handleAnalyze)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  seconds(s.config.ReadTimeout, 15),
		WriteTimeout: seconds(s.config.WriteTimeout, 30),
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server and closes websocket clients
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	s.hub.Stop()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

// handleHealth reports the status of every registered dependency
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.deps.Health))
	healthy := true
	for name, check := range s.deps.Health {
		if err := check(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		checks[name] = "healthy"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"checks":    checks,
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"wsClients": s.hub.GetClientCount(),
	})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// userID returns the caller identity set by the gateway
func userID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader("X-User-ID")); id != "" {
		return id
	}
	return strings.TrimSpace(c.Query("user_id"))
}

// getUserIDRequired returns the user ID and sends 401 when it is missing
func getUserIDRequired(c *gin.Context) (string, bool) {
	id := userID(c)
	if id == "" {
		errorResponse(c, http.StatusUnauthorized, "X-User-ID header required")
		return "", false
	}
	return id, true
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	var verr *automation.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, automation.ErrEvaluationInProgress):
		return http.StatusConflict
	case errors.Is(err, marketdata.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, marketdata.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, marketdata.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error, msg string) {
	code := statusFor(err)
	l := logging.FromContext(c.Request.Context()).WithComponent("api")
	if code >= http.StatusInternalServerError {
		l.Error(msg, "error", err, "status", code)
	} else {
		l.Debug(msg, "error", err, "status", code)
	}
	errorResponse(c, code, err.Error())
}
