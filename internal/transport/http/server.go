package http

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"brokle/internal/config"
	"brokle/internal/transport/http/handlers/batch"
	"brokle/internal/transport/http/handlers/health"
	"brokle/internal/transport/http/handlers/instance"
	"brokle/internal/transport/http/handlers/metrics"
	"brokle/internal/transport/http/handlers/websocket"
	"brokle/internal/transport/http/middleware"
)

// Handlers bundles every HTTP handler the server wires into its route table.
type Handlers struct {
	Health    *health.Handler
	Metrics   *metrics.Handler
	Batch     *batch.Handler
	Instance  *instance.Handler
	WebSocket *websocket.Handler
}

// Server is the FAT rig controller's HTTP API server.
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	handlers *Handlers
	engine   *gin.Engine
	server   *http.Server
	serveErr chan error
}

// NewServer creates a new HTTP server instance.
func NewServer(cfg *config.Config, logger *slog.Logger, handlers *Handlers) *Server {
	return &Server{
		config:   cfg,
		logger:   logger,
		handlers: handlers,
		serveErr: make(chan error, 1),
	}
}

// Start builds the route table and begins serving HTTP traffic in the
// background. It returns as soon as the listener is up; failures reaching
// the listener are returned directly, failures afterward arrive on ServeErr.
func (s *Server) Start() error {
	if s.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	s.engine = gin.New()

	corsConfig := cors.DefaultConfig()
	origins := s.config.Server.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsConfig.AllowOrigins = origins
	corsConfig.AllowMethods = s.config.Server.CORSAllowedMethods
	corsConfig.AllowHeaders = s.config.Server.CORSAllowedHeaders
	corsConfig.AllowCredentials = len(origins) != 1 || origins[0] != "*"
	corsConfig.MaxAge = 5 * time.Minute
	s.engine.Use(cors.New(corsConfig))

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.GetServerAddress(),
		Handler:      s.engine,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}

	s.logger.Info("starting http server", "address", s.server.Addr)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.serveErr <- err
			return
		}
		s.serveErr <- nil
	}()

	return nil
}

// ServeErr reports an error surfacing after Start returns, or nil once the
// server shuts down cleanly.
func (s *Server) ServeErr() <-chan error {
	return s.serveErr
}

// setupRoutes configures every HTTP route the rig controller exposes.
func (s *Server) setupRoutes() {
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger(s.logger))
	s.engine.Use(middleware.Recovery(s.logger))
	s.engine.Use(middleware.Metrics())

	s.engine.GET("/healthz", s.handlers.Health.Check)
	s.engine.HEAD("/healthz", s.handlers.Health.Check)
	s.engine.GET("/healthz/ready", s.handlers.Health.Ready)
	s.engine.GET("/healthz/live", s.handlers.Health.Live)

	if s.config.Monitoring.Enabled {
		s.engine.GET(s.config.Monitoring.MetricsPath, s.handlers.Metrics.Handle)
	}

	s.engine.GET("/ws/events", s.handlers.WebSocket.Handle)

	api := s.engine.Group("/api/v1")
	s.setupBatchRoutes(api)
	s.setupInstanceRoutes(api)
}

func (s *Server) setupBatchRoutes(router *gin.RouterGroup) {
	batches := router.Group("/batches")
	{
		batches.POST("", s.handlers.Batch.Create)
		batches.POST("/:id/start", s.handlers.Batch.Start)
		batches.POST("/:id/pause", s.handlers.Batch.Pause)
		batches.POST("/:id/resume", s.handlers.Batch.Resume)
		batches.POST("/:id/stop", s.handlers.Batch.Stop)
		batches.GET("/:id/progress", s.handlers.Batch.Progress)
	}
}

func (s *Server) setupInstanceRoutes(router *gin.RouterGroup) {
	instances := router.Group("/instances")
	{
		instances.POST("/:id/manual-test", s.handlers.Instance.ManualTest)
		instances.GET("/:id", s.handlers.Instance.Status)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
