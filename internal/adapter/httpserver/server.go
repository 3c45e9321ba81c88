// Package httpserver exposes the push endpoint, the save notification hook,
// health probes and metrics over HTTP.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/flowcollab/internal/adapter/metrics"
	"github.com/pscheid92/flowcollab/internal/domain"
	"github.com/pscheid92/flowcollab/internal/platform/config"
)

// PushHandler serves one push connection for the lifetime of the request.
type PushHandler interface {
	Handle(c echo.Context) error
}

type SavedNotifier interface {
	Saved(ctx context.Context, saved domain.WorkflowSaved) error
}

type Dependencies struct {
	Push         PushHandler
	Saved        SavedNotifier
	Metrics      http.Handler
	HTTPMetrics  *metrics.HTTPMetrics
	PushMetrics  *metrics.PushMetrics
	HealthChecks []HealthCheck
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	push           PushHandler
	saved          SavedNotifier
	metricsHandler http.Handler
	httpMetrics    *metrics.HTTPMetrics
	pushMetrics    *metrics.PushMetrics
	healthChecks   []HealthCheck
	startTime      time.Time
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:           e,
		config:         cfg,
		push:           deps.Push,
		saved:          deps.Saved,
		metricsHandler: deps.Metrics,
		httpMetrics:    deps.HTTPMetrics,
		pushMetrics:    deps.PushMetrics,
		healthChecks:   deps.HealthChecks,
		startTime:      time.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones. Hijacked
// websocket connections are not tracked by the server; the hub closes them.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
