// Package http exposes the llmgw gateway over a JSON HTTP API.
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
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/llmgw/internal/gateway"
	"github.com/fyrsmithlabs/llmgw/internal/logging"
	"github.com/fyrsmithlabs/llmgw/internal/pipeline"
	"github.com/fyrsmithlabs/llmgw/internal/provider"
	"github.com/fyrsmithlabs/llmgw/internal/session"
	"github.com/fyrsmithlabs/llmgw/internal/telemetry"
)

// Gateway is the subset of *gateway.Gateway the server needs.
type Gateway interface {
	Providers() []gateway.ProviderInfo
	CreateSession(ctx context.Context, provider, model, systemPrompt string) (session.Info, error)
	Session(ctx context.Context, id string) (session.Snapshot, error)
	CloseSession(ctx context.Context, id string) error
	Send(ctx context.Context, sessionID, content string) (*provider.Response, error)
	ParallelDispatch(ctx context.Context, providers []string, msgs []provider.Message) (map[string]gateway.DispatchResult, error)
	Enhance(ctx context.Context, req gateway.EnhanceRequest) (*pipeline.Result, error)
}

// Server provides HTTP endpoints for llmgw.
type Server struct {
	echo      *echo.Echo
	gateway   Gateway
	telemetry *telemetry.Telemetry
	logger    *zap.Logger
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// MaxBodyBytes limits request bodies. Default: 4MB
	MaxBodyBytes string
}

// Option configures a Server.
type Option func(*options)

type options struct {
	telemetry *telemetry.Telemetry
	meter     metric.Meter
}

// WithTelemetry reports telemetry health on /health and records HTTP
// metrics on its meter.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *options) { o.telemetry = t }
}

// WithMeter overrides the meter used for HTTP metrics.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// NewServer creates a new HTTP server.
func NewServer(gw Gateway, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if gw == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 8088,
		}
	}
	if cfg.MaxBodyBytes == "" {
		cfg.MaxBodyBytes = "4M"
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.meter == nil && o.telemetry != nil {
		o.meter = o.telemetry.Meter(httpInstrumentationName)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	e.Use(NewHTTPMetrics(o.meter, logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return nil
		}
	})

	s := &Server{
		echo:      e,
		gateway:   gw,
		telemetry: o.telemetry,
		logger:    logger,
		config:    cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/providers", s.handleProviders)
	v1.POST("/sessions", s.handleCreateSession)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.POST("/sessions/:id/messages", s.handleSend)
	v1.DELETE("/sessions/:id", s.handleCloseSession)
	v1.POST("/dispatch", s.handleDispatch)
	v1.POST("/enhance", s.handleEnhance)
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
