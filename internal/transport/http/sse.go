package http

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/domain"
)

// keepAliveInterval is how often an SSE comment is written to keep
// intermediaries from timing out an idle stream.
const keepAliveInterval = 30 * time.Second

// streamEvents streams session events via SSE. The first event is
// always a SESSION_STATUS snapshot so a client that connected late
// (or reconnected) knows the current state before live events resume.
func (s *Server) streamEvents(c echo.Context) error {
	sub, err := s.svc.Subscribe(c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	defer sub.Close()

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	flush(c)

	ctx := c.Request().Context()
	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-keepAlive.C:
			if _, err := fmt.Fprint(c.Response().Writer, ": keep-alive\n\n"); err != nil {
				return nil
			}
			flush(c)

		case ev, ok := <-sub.Events():
			if !ok {
				// Session closed or this subscriber was dropped for
				// falling behind.
				return nil
			}
			if err := writeSSE(c, ev); err != nil {
				log.Printf("ERROR: failed to send SSE event: %v", err)
				return nil
			}
		}
	}
}

func writeSSE(c echo.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(c.Response().Writer, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
		return err
	}
	flush(c)
	return nil
}

func flush(c echo.Context) {
	if flusher, ok := c.Response().Writer.(http.Flusher); ok {
		flusher.Flush()
	}
}
