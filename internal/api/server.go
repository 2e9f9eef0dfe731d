// Package api is the HTTP surface: it validates report requests, queues
// them as background tasks and reports task status.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/slackreports/pkg/models"
)

// Enqueuer creates background tasks and returns their ids
type Enqueuer interface {
	EnqueueFetchMessages(ctx context.Context, channel, start, end string) (string, error)
	EnqueueTopRepliers(ctx context.Context, channel, start, end string, topN int) (string, error)
	EnqueueSummarizeThread(ctx context.Context, channel, threadTS, provider string) (string, error)
}

// StatusReader looks up task state; unknown ids yield taskstore.ErrNotFound
type StatusReader interface {
	Get(ctx context.Context, id string) (models.TaskStatus, error)
}

// Server represents the API server
type Server struct {
	echo     *echo.Echo
	port     int
	queue    Enqueuer
	statuses StatusReader
}

// NewServer creates a new API server
func NewServer(port int, queue Enqueuer, statuses StatusReader) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("Request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:     e,
		port:     port,
		queue:    queue,
		statuses: statuses,
	}

	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/", s.home)
	s.echo.POST("/fetch-messages", s.fetchMessages)
	s.echo.POST("/top-repliers", s.topRepliers)
	s.echo.POST("/summarize-thread", s.summarizeThread)
	s.echo.GET("/task-status/:id", s.taskStatus)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.port).Msg("API server listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(shutdownCtx)
}
