// Package server exposes the gateway over HTTP: chat completion (single-shot
// and SSE streaming), image generation, model listings, and per-user key
// management.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelgate/internal/core"
	"modelgate/internal/credentials"
	"modelgate/internal/dispatch"
	"modelgate/internal/metrics"
	"modelgate/internal/registry"
	"modelgate/internal/storage"
)

// DefaultBodySizeLimit bounds request bodies. Attachments arrive inline as
// base64, so the limit is generous.
const DefaultBodySizeLimit int64 = 25 << 20

// Config holds server options.
type Config struct {
	// MasterKey gates every API route when set. Health and metrics stay
	// public.
	MasterKey string
	// BodySizeLimit caps request body size in bytes.
	BodySizeLimit int64
	// ImagePendingTimeout bounds a generation with no terminal event.
	ImagePendingTimeout time.Duration
	// ImagePartials is the default partial snapshot count per generation.
	ImagePartials int
	// ReadTimeout and WriteTimeout bound the underlying HTTP server.
	// WriteTimeout must cover the longest expected stream.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server wraps the Echo server and the gateway collaborators.
type Server struct {
	echo       *echo.Echo
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
	creds      *credentials.Resolver
	store      storage.Store
	cfg        Config
}

// New builds the HTTP server and registers all routes.
func New(d *dispatch.Dispatcher, reg *registry.Registry, creds *credentials.Resolver, store storage.Store, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if cfg.ReadTimeout > 0 {
		e.Server.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		e.Server.WriteTimeout = cfg.WriteTimeout
	}

	s := &Server{
		echo:       e,
		dispatcher: d,
		registry:   reg,
		creds:      creds,
		store:      store,
		cfg:        cfg,
	}

	if cfg.ImagePendingTimeout <= 0 {
		s.cfg.ImagePendingTimeout = 5 * time.Minute
	}
	bodyLimit := cfg.BodySizeLimit
	if bodyLimit <= 0 {
		bodyLimit = DefaultBodySizeLimit
	}

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodyLimit, 10)))
	e.Use(requestIDMiddleware())
	e.Use(metricsMiddleware())

	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("", authMiddleware(cfg.MasterKey))
	api.GET("/v1/models", s.listModels)
	api.POST("/v1/chat", s.chat)
	api.POST("/v1/images", s.generateImage)
	api.GET("/v1/messages/:id", s.getMessage)
	api.PUT("/v1/keys/:provider", s.putKey)
	api.DELETE("/v1/keys/:provider", s.deleteKey)
	api.POST("/v1/keys/:provider/validate", s.validateKey)
	api.GET("/v1/instructions", s.getInstructions)
	api.PUT("/v1/instructions", s.putInstructions)

	return s
}

// Start listens on the given address until Shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets the server run under httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// requestIDMiddleware tags every request with an id, honoring one supplied by
// the caller, and threads it through the context for upstream calls.
func requestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get("X-Request-Id")
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set("X-Request-Id", id)
			ctx := core.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// metricsMiddleware records per-route counters and latency.
func metricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(c.Response().Status)).Inc()
			return err
		}
	}
}
