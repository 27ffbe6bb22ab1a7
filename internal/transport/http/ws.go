package http

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/pubsub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsMaxMessage   = 64 << 10
)

// wsInbound is a client-to-server frame. Only chat messages come in
// over the socket; images go through the HTTP upload endpoint.
type wsInbound struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// handleWebSocket upgrades the connection and bridges it to the
// session's event stream: pipeline events flow out as JSON text
// frames, chat messages flow in.
func (s *Server) handleWebSocket(c echo.Context) error {
	id := c.Param("id")
	sub, err := s.svc.Subscribe(id)
	if err != nil {
		return errorResponse(c, err)
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		sub.Close()
		log.Printf("ERROR: failed to upgrade WebSocket: %v", err)
		return err
	}

	go s.writePump(ws, sub)
	go s.readPump(ws, id)
	return nil
}

// writePump pushes session events and periodic pings. It owns all
// writes to the connection.
func (s *Server) writePump(ws *websocket.Conn, sub *pubsub.Subscriber) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		sub.Close()
		ws.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("ERROR: failed to marshal event: %v", err)
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles inbound chat frames until the client disconnects.
func (s *Server) readPump(ws *websocket.Conn, sessionID string) {
	defer ws.Close()

	ws.SetReadLimit(wsMaxMessage)
	ws.SetReadDeadline(time.Now().Add(wsPongTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WARN: websocket read error: %v", err)
			}
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("WARN: dropping malformed websocket frame: %v", err)
			continue
		}
		if msg.Type != "message" || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		if err := s.svc.SendMessage(sessionID, msg.Content); err != nil {
			log.Printf("WARN: websocket message rejected: %v", err)
		}
	}
}
