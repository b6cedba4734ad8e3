// Package http implements the admin REST API of the wager hub on gin.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vip-wager/wager-hub/internal/application/command"
	"github.com/vip-wager/wager-hub/internal/application/query"
	"github.com/vip-wager/wager-hub/internal/infrastructure/scheduler"
	"github.com/vip-wager/wager-hub/internal/interface/http/handlers"
	"github.com/vip-wager/wager-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Addr is the listen address (default ":8080").
	Addr string

	// ReadTimeout - maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout - maximum duration for writing the response. A full sync
	// runs inside the request, so keep this generous.
	WriteTimeout time.Duration

	// IdleTimeout - maximum duration for idle connections.
	IdleTimeout time.Duration

	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64

	// AdminHeader carries the acting admin's id on write routes.
	AdminHeader string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
		MaxBodyBytes: 2 << 20,
		AdminHeader:  "X-Admin-ID",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// JobRunner lists, inspects and triggers scheduled jobs.
type JobRunner interface {
	ListJobs() []scheduler.JobInfo
	GetJobInfo(jobName string) (*scheduler.JobInfo, error)
	GetHistory(limit int) []scheduler.JobResult
	GetMetrics() *scheduler.SchedulerMetrics
	RunNow(ctx context.Context, jobName string) (*scheduler.JobResult, error)
}

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Command side
	Ledger   *command.AdjustmentLedger
	Sync     *command.SyncOrchestrator
	Rankings *command.RankingEngine

	// Query side
	ComputedStats        *query.GetComputedStatsHandler
	Leaderboard          *query.GetLeaderboardHandler
	SearchAdjustments    *query.SearchAdjustmentsHandler
	UserAdjustments      *query.GetUserAdjustmentsHandler
	AdjustmentStatistics *query.GetAdjustmentStatisticsHandler
	SyncLogs             *query.ListSyncLogsHandler

	// Jobs is optional; job routes are not mounted without it.
	Jobs JobRunner

	// Health is optional; without it /health always reports ok.
	Health *handlers.HealthChecker

	Logger *zap.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

const requestIDKey = "request_id"

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if config.AdminHeader == "" {
		config.AdminHeader = defaults.AdminHeader
	}

	s := &Server{
		config: config,
		deps:   deps,
		logger: logger.OrNop(deps.Logger).With(logger.Component("http")),
	}

	engine := gin.New()
	engine.Use(s.requestIDMiddleware(), s.loggingMiddleware(), s.recoveryMiddleware(), s.bodyLimitMiddleware())
	s.engine = engine
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      engine,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api/v1")

	// Reads
	api.GET("/adjustments", s.handleSearchAdjustments)
	api.GET("/users/:externalId/adjustments", s.handleUserAdjustments)
	api.GET("/users/:externalId/stats", s.handleComputedStats)
	api.GET("/leaderboard/:timeframe", s.handleLeaderboard)
	api.GET("/statistics", s.handleStatistics)
	api.GET("/sync/logs", s.handleSyncLogs)

	// Writes require an acting admin.
	admin := api.Group("", s.requireAdmin())
	admin.POST("/adjustments", s.handleCreateAdjustment)
	admin.POST("/adjustments/bulk", s.handleBulkAdjustments)
	admin.POST("/adjustments/:id/revert", s.handleRevertAdjustment)
	admin.POST("/sync", s.handleSyncAll)
	admin.POST("/sync/users/:externalId", s.handleSyncUser)
	admin.POST("/rankings/recalculate", s.handleRecalculateRankings)

	if s.deps.Jobs != nil {
		api.GET("/jobs", s.handleListJobs)
		api.GET("/jobs/:name", s.handleGetJob)
		admin.POST("/jobs/:name/run", s.handleRunJob)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

const adminIDKey = "admin_id"

// requestIDMiddleware tags each request and stores a request-scoped logger
// in its context.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		reqLog := s.logger.With(logger.RequestID(requestID))
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), reqLog))
		c.Next()
	}
}

// loggingMiddleware logs all HTTP requests.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.FromContext(c.Request.Context()).Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			logger.Latency(time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

// recoveryMiddleware recovers from panics and returns 500.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.FromContext(c.Request.Context()).Error("panic recovered",
			zap.Any("error", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.Stack("stack"),
		)
		writeJSONError(c, http.StatusInternalServerError, "INTERNAL", "an unexpected error occurred")
	})
}

func (s *Server) bodyLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxBodyBytes)
		}
		c.Next()
	}
}

// requireAdmin rejects write requests without an admin id header.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := c.GetHeader(s.config.AdminHeader)
		if adminID == "" {
			writeJSONError(c, http.StatusUnauthorized, "UNAUTHORIZED", s.config.AdminHeader+" header is required")
			return
		}
		c.Set(adminIDKey, adminID)
		c.Next()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", zap.String("address", s.config.Addr))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}
