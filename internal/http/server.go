// Package http exposes the daemon's status API: session and gate state,
// on-demand validation, health, and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/gated/internal/config"
	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/logging"
	"github.com/fyrsmithlabs/gated/internal/session"
	"github.com/fyrsmithlabs/gated/internal/trace"
)

// Server provides the HTTP endpoints for gated.
type Server struct {
	echo       *echo.Echo
	controller *session.Controller
	gates      *gate.Manager
	logger     *logging.Logger
	config     *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// RateLimit is the sustained request rate per client IP. Zero
	// disables rate limiting.
	RateLimit float64
}

// FromAppConfig converts the application server configuration.
func FromAppConfig(cfg config.ServerConfig) *Config {
	return &Config{
		Host:      cfg.Host,
		Port:      cfg.Port,
		RateLimit: cfg.RateLimit,
	}
}

// NewServer creates the HTTP server over a session controller and gate
// manager.
func NewServer(controller *session.Controller, gates *gate.Manager, logger *logging.Logger, cfg *Config) (*Server, error) {
	if controller == nil {
		return nil, fmt.Errorf("session controller is required")
	}
	if gates == nil {
		return nil, fmt.Errorf("gate manager is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9090}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimit))))
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	s := &Server{
		echo:       e,
		controller: controller,
		gates:      gates,
		logger:     logger,
		config:     cfg,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/session", s.handleSession)
	v1.GET("/gates", s.handleGates)
	v1.POST("/validate", s.handleValidate)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// GatesResponse is the response body for GET /api/v1/gates.
type GatesResponse struct {
	Gates []GateStatus `json:"gates"`
}

// GateStatus is one gate's row in GatesResponse.
type GateStatus struct {
	ID                       gate.ID               `json:"id"`
	Status                   gate.Status           `json:"status"`
	Prerequisites            []gate.ID             `json:"prerequisites"`
	RequiresCustomerApproval bool                  `json:"requires_customer_approval"`
	Approvals                []gate.ApprovalRecord `json:"approvals,omitempty"`
}

// ValidateResponse is the response body for POST /api/v1/validate.
type ValidateResponse struct {
	*trace.Match
	Timeout bool `json:"timeout,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleSession returns the current session snapshot, 404 when none
// exists.
func (s *Server) handleSession(c echo.Context) error {
	sess, err := s.controller.Status(c.Request().Context())
	if err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			return echo.NewHTTPError(http.StatusNotFound, "no session for this project root")
		}
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

// handleGates returns every gate's status, prerequisites, and approvals
// in canonical order.
func (s *Server) handleGates(c echo.Context) error {
	records := s.gates.Records()
	graph := s.gates.Graph()

	resp := GatesResponse{Gates: make([]GateStatus, 0, len(gate.AllIDs()))}
	for _, id := range gate.AllIDs() {
		record := records[id]
		resp.Gates = append(resp.Gates, GateStatus{
			ID:                       id,
			Status:                   record.Status,
			Prerequisites:            graph.PrerequisitesOf(id),
			RequiresCustomerApproval: graph.RequiresCustomerApproval(id),
			Approvals:                record.Approvals,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// handleValidate runs a traceability scan. A scan that hits its deadline
// still returns the partial match, flagged as a timeout. Transition
// rejections map to 409.
func (s *Server) handleValidate(c echo.Context) error {
	match, err := s.controller.Validate(c.Request().Context())
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, ValidateResponse{Match: match})
	case errors.Is(err, trace.ErrScanTimeout):
		return c.JSON(http.StatusOK, ValidateResponse{Match: match, Timeout: true})
	case errors.Is(err, session.ErrNoActiveSession):
		return echo.NewHTTPError(http.StatusNotFound, "no session for this project root")
	case errors.Is(err, session.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return err
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
