package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vigil-go/internal/config"
)

// PipelineHealth reports whether the evaluation pipeline is keeping up.
type PipelineHealth interface {
	// Lag returns the delay of the most recently processed message.
	Lag() time.Duration

	// Healthy reports whether the lag is within the given bound.
	Healthy(bound time.Duration) bool
}

// Server represents the HTTP server with all configured routes and middleware.
type Server struct {
	app      *fiber.App
	config   *config.ServerConfig
	logger   *slog.Logger
	health   PipelineHealth
	lagBound time.Duration

	// Handlers
	ingestHandler   *IngestHandler
	alertHandler    *AlertHandler
	auditHandler    *AuditHandler
	resourceHandler *ResourceHandler
}

// ServerDeps contains all dependencies required to create a new Server.
type ServerDeps struct {
	Config          *config.ServerConfig
	Logger          *slog.Logger
	Health          PipelineHealth
	LagBound        time.Duration
	IngestHandler   *IngestHandler
	AlertHandler    *AlertHandler
	AuditHandler    *AuditHandler
	ResourceHandler *ResourceHandler
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(deps ServerDeps) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           deps.Config.ReadTimeout,
		WriteTimeout:          deps.Config.WriteTimeout,
		IdleTimeout:           deps.Config.IdleTimeout,
		ErrorHandler:          customErrorHandler,
	})

	s := &Server{
		app:             app,
		config:          deps.Config,
		logger:          deps.Logger,
		health:          deps.Health,
		lagBound:        deps.LagBound,
		ingestHandler:   deps.IngestHandler,
		alertHandler:    deps.AlertHandler,
		auditHandler:    deps.AuditHandler,
		resourceHandler: deps.ResourceHandler,
	}

	s.registerMiddleware()
	s.registerRoutes()

	return s
}

// registerMiddleware sets up all middleware for the server.
func (s *Server) registerMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(requestid.New())

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} | ${path} | ${error}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))
}

// registerRoutes sets up all API routes.
func (s *Server) registerRoutes() {
	// Health check endpoint (outside versioned API)
	s.app.Get("/healthz", s.healthCheck)

	// Prometheus metrics endpoint
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API v1 routes
	v1 := s.app.Group("/v1")

	// Ingestion
	v1.Post("/samples", s.ingestHandler.IngestSample)
	v1.Post("/security-records", s.ingestHandler.IngestSecurityRecord)

	// Alert queries and lifecycle operations
	v1.Get("/alerts", s.alertHandler.List)
	v1.Get("/alerts/:id", s.alertHandler.GetByID)
	v1.Get("/alerts/:id/attempts", s.alertHandler.Attempts)
	v1.Post("/alerts/:id/acknowledge", s.alertHandler.Acknowledge)
	v1.Post("/alerts/:id/resolve", s.alertHandler.Resolve)
	v1.Post("/alerts/:id/redeliver", s.alertHandler.Redeliver)

	// Audit log
	v1.Get("/audit", s.auditHandler.Range)
	v1.Get("/audit/verify", s.auditHandler.Verify)

	// Resources and detector metadata
	v1.Post("/resources/:id/deboard", s.resourceHandler.Deboard)
	v1.Get("/security-event-types", s.resourceHandler.SecurityEventTypes)
}

// healthCheck reports liveness, including whether the evaluation pipeline is
// processing within its lag bound.
func (s *Server) healthCheck(c *fiber.Ctx) error {
	status := "healthy"
	lag := time.Duration(0)
	healthy := true

	if s.health != nil {
		lag = s.health.Lag()
		healthy = s.health.Healthy(s.lagBound)
		if !healthy {
			status = "degraded"
		}
	}

	body := map[string]interface{}{
		"status":      status,
		"lag_seconds": lag.Seconds(),
	}
	if !healthy {
		return SuccessWithStatus(c, fiber.StatusServiceUnavailable, body)
	}
	return Success(c, body)
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.logger.Info("starting HTTP server", "address", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app for in-process testing.
func (s *Server) App() *fiber.App {
	return s.app
}

// customErrorHandler handles errors returned from handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	if e, ok := err.(*fiber.Error); ok {
		return Error(c, e.Code, ErrCodeInternalError, e.Message)
	}

	return InternalError(c, fmt.Sprintf("unexpected error: %v", err))
}
