// Package http exposes the tutoring pipeline over HTTP: a JSON API for
// session lifecycle, an SSE stream and a WebSocket binding for live
// pipeline events.
package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/domain"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/service"
)

// Server is the HTTP front end.
type Server struct {
	echo *echo.Echo
	svc  *service.Service
}

// NewServer builds the echo server and registers all routes.
func NewServer(svc *service.Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{echo: e, svc: svc}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.POST("/v1/sessions", s.createSession)
	s.echo.POST("/v1/sessions/:id/image", s.uploadImage)
	s.echo.POST("/v1/sessions/:id/message", s.sendMessage)
	s.echo.POST("/v1/sessions/:id/guide", s.startGuide)
	s.echo.GET("/v1/sessions/:id/events", s.streamEvents)
	s.echo.GET("/v1/sessions/:id/ws", s.handleWebSocket)
	s.echo.GET("/v1/sessions/:id/status", s.getStatus)
	s.echo.GET("/v1/sessions/:id/messages", s.getMessages)
	s.echo.DELETE("/v1/sessions/:id", s.deleteSession)
	s.echo.GET("/health", s.health)
}

// Echo returns the underlying echo instance, for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start begins serving on addr, blocking until shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// errorResponse maps service errors onto HTTP status codes.
func errorResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	case errors.Is(err, domain.ErrSessionClosed):
		return c.JSON(http.StatusConflict, map[string]string{"error": "session closed"})
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return c.JSON(http.StatusConflict, map[string]string{"error": "invalid state for this operation"})
	case errors.Is(err, domain.ErrUnsupportedMedia):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unsupported media type"})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
