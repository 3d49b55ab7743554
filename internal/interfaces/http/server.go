// Package http provides the HTTP adapter for the stage workflow.
// It only translates requests into normalized service calls.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/garyjia/shipment-workflow/internal/application/service"
)

// RequestIDHeader carries the request id in and out
const RequestIDHeader = "X-Request-ID"

const defaultMaxBodyBytes = 1 << 20

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// HealthFunc reports overall health and a component breakdown
type HealthFunc func(ctx context.Context) (bool, interface{})

// ServerConfig holds HTTP server configuration. Zero values fall back to
// DefaultServerConfig.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxBodyBytes:    defaultMaxBodyBytes,
	}
}

func (c ServerConfig) withDefaults() ServerConfig {
	d := DefaultServerConfig()
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	return c
}

// Server serves the stage API over gin
type Server struct {
	config     ServerConfig
	router     *gin.Engine
	logger     Logger
	httpServer *http.Server
}

// NewServer creates a new HTTP server over the stage transition service
func NewServer(
	config ServerConfig,
	transitions service.StageTransitionService,
	health HealthFunc,
	logger Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config: config.withDefaults(),
		router: gin.New(),
		logger: logger,
	}

	s.router.Use(gin.Recovery(), requestID(), s.accessLog(), limitBody(s.config.MaxBodyBytes))
	registerRoutes(s.router, NewHandlers(transitions, health, logger))

	return s
}

func registerRoutes(r *gin.Engine, h *Handlers) {
	r.GET("/health", h.HealthCheck)

	purchases := r.Group("/api/purchases/:purchase_id")
	purchases.POST("/stages/:stage_key", h.RecordStage)
	purchases.GET("/history", h.GetHistory)

	records := r.Group("/api/stages/:stage_key/records")
	records.PUT("/:status_node_id", h.EditStage)
	records.GET("/:status_node_id", h.GetStageRecord)
}

// requestID echoes the caller's X-Request-ID or assigns a fresh one
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func limitBody(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info("HTTP request",
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// Start serves until ctx is cancelled or the listener fails
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.Address(),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "address", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop drains in-flight requests within ShutdownTimeout
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
