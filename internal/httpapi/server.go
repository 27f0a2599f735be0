// Package httpapi exposes the memory core over HTTP.
//
// Every /api/v1/mem route runs behind the auth middleware; the resolved
// tenancy pair drives all core calls. Search results are additionally
// available as NDJSON and server-sent events for streaming consumers.
package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/auth"
	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Server is the HTTP gateway over the memory core.
type Server struct {
	cfg    *config.Config
	core   *memory.Core
	echo   *echo.Echo
	logger *zap.Logger
}

// HealthResponse is the JSON response for the /health endpoint.
type HealthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Environment string `json:"environment"`
}

// NewServer wires routes, middleware, and the auth layer.
func NewServer(cfg *config.Config, core *memory.Core, authSvc *auth.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{cfg: cfg, core: core, echo: e, logger: logger.Named("http")}

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	mem := e.Group("/api/v1/mem", auth.Middleware(authSvc))
	mem.POST("/add", s.handleAdd)
	mem.GET("/search", s.handleSearch)
	mem.GET("/search/ndjson", s.handleSearchNDJSON)
	mem.GET("/search/stream", s.handleSearchStream)
	mem.GET("/search/text", s.handleSearchText)
	mem.GET("/list", s.handleList)
	mem.POST("/open", s.handleOpen)
	mem.PATCH("/:id", s.handleUpdate)
	mem.DELETE("/:id", s.handleDelete)
	mem.POST("/delete/batch", s.handleDeleteBatch)

	return s
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start runs the server until the context is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	s.logger.Info("http gateway listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		Service:     "memoryd",
		Environment: s.cfg.Environment,
	})
}
