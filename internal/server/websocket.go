package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"apphost/internal/logger"
	"apphost/internal/runstate"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// Allow connections without origin header (e.g., CLI tools)
		if origin == "" {
			return true
		}

		allowedOrigins := []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
			"http://[::1]",
			"https://[::1]",
		}
		for _, allowed := range allowedOrigins {
			if strings.HasPrefix(origin, allowed) {
				return true
			}
		}

		logger.WithFields(logger.Fields{
			"origin": origin,
			"remote": r.RemoteAddr,
		}).Warn("WebSocket connection rejected - invalid origin")

		return false
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServerMessage is one frame of the event stream
type ServerMessage struct {
	Type  string          `json:"type"` // 'transition', 'replay_end'
	Event *runstate.Event `json:"event,omitempty"`
}

// handleEvents streams state transitions: the replay buffer first, then a
// replay_end marker, then live events until the client disconnects
func (s *Server) handleEvents(c echo.Context) error {
	if s.broker == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream is disabled")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return nil
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	replay, live := s.broker.Subscribe(ctx)
	go discardReads(ws, cancel)

	for i := range replay {
		if err := writeMessage(ws, ServerMessage{Type: "transition", Event: &replay[i]}); err != nil {
			return nil
		}
	}
	if err := writeMessage(ws, ServerMessage{Type: "replay_end"}); err != nil {
		return nil
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return nil
		case e, ok := <-live:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "run finished"), time.Now().Add(writeWait))
				return nil
			}
			if err := writeMessage(ws, ServerMessage{Type: "transition", Event: &e}); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		}
	}
}

func writeMessage(ws *websocket.Conn, msg ServerMessage) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			logger.WithError(err).Debug("WebSocket write failed")
		}
		return err
	}
	return nil
}

// discardReads consumes client frames so control messages are processed and
// cancels once the client goes away
func discardReads(ws *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := ws.NextReader(); err != nil {
			return
		}
	}
}
