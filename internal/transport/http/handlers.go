package http

import (
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/domain"
)

// maxImageSize bounds uploaded problem photos.
const maxImageSize = 10 << 20 // 10 MiB

type overridePayload struct {
	Model  string `json:"model"`
	APIKey string `json:"api_key"`
}

// createSessionRequest optionally replaces the configured models for
// this session. Keys are the model roles: vision, deep, quick.
type createSessionRequest struct {
	ModelOverrides map[string]overridePayload `json:"model_overrides"`
}

func (r createSessionRequest) overrides() map[domain.Role]domain.ModelOverride {
	if len(r.ModelOverrides) == 0 {
		return nil
	}
	roles := map[string]domain.Role{
		"vision": domain.RoleVision,
		"deep":   domain.RoleDeepReasoning,
		"quick":  domain.RoleQuickSummary,
	}
	out := make(map[domain.Role]domain.ModelOverride, len(r.ModelOverrides))
	for key, ov := range r.ModelOverrides {
		role, ok := roles[key]
		if !ok {
			log.Printf("WARN: ignoring model override for unknown role %q", key)
			continue
		}
		out[role] = domain.ModelOverride{Model: ov.Model, APIKey: ov.APIKey}
	}
	return out
}

func (s *Server) createSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	info := s.svc.CreateSession(c.Request().Context(), req.overrides())
	return c.JSON(http.StatusCreated, info)
}

// uploadImage accepts the photographed problem either as a multipart
// form field named "image" or as a raw request body with an image
// Content-Type.
func (s *Server) uploadImage(c echo.Context) error {
	id := c.Param("id")

	data, mime, err := readImage(c)
	if err != nil {
		return errorResponse(c, err)
	}

	if err := s.svc.UploadImage(id, data, mime); err != nil {
		return errorResponse(c, err)
	}

	snapshot, err := s.svc.Status(id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusAccepted, snapshot)
}

func readImage(c echo.Context) ([]byte, string, error) {
	if fh, err := c.FormFile("image"); err == nil {
		if fh.Size > maxImageSize {
			return nil, "", echo.NewHTTPError(http.StatusRequestEntityTooLarge, "image too large")
		}
		f, err := fh.Open()
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxImageSize+1))
		if err != nil {
			return nil, "", err
		}
		return data, fh.Header.Get("Content-Type"), nil
	}

	mime := c.Request().Header.Get("Content-Type")
	if !strings.HasPrefix(mime, "image/") {
		return nil, mime, nil // service rejects with UnsupportedMedia
	}
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxImageSize+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxImageSize {
		return nil, "", echo.NewHTTPError(http.StatusRequestEntityTooLarge, "image too large")
	}
	return data, mime, nil
}

type messageRequest struct {
	Content string `json:"content"`
}

func (s *Server) sendMessage(c echo.Context) error {
	id := c.Param("id")

	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Content) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "content is required"})
	}

	if err := s.svc.SendMessage(id, req.Content); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

type guideRequest struct {
	Choice string `json:"choice"`
}

// startGuide picks the tutoring mode once the analysis has finished.
// Guided mode kicks off an asynchronous tutoring turn, direct mode
// returns the stored solution immediately.
func (s *Server) startGuide(c echo.Context) error {
	var req guideRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	info, err := s.svc.StartGuide(c.Param("id"), req.Choice)
	if err != nil {
		return errorResponse(c, err)
	}
	if len(info.Steps) == 0 {
		return c.JSON(http.StatusOK, info)
	}
	return c.JSON(http.StatusAccepted, info)
}

func (s *Server) getStatus(c echo.Context) error {
	snapshot, err := s.svc.Status(c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (s *Server) getMessages(c echo.Context) error {
	turns, err := s.svc.Messages(c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": turns})
}

func (s *Server) deleteSession(c echo.Context) error {
	id := c.Param("id")
	if err := s.svc.CloseSession(id); err != nil {
		return errorResponse(c, err)
	}
	log.Printf("INFO: session deleted via API: %s", id)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
