package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsReadLimit         = 64 << 10
	notificationBacklog = 16
)

// Frame is the envelope for every websocket message in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(typ string, data any) error {
	frame := Frame{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		frame.Data = raw
	}
	return c.write(frame)
}

func (c *wsConn) sendError(message string) error {
	return c.write(Frame{Type: "error", Message: message})
}

func (c *wsConn) write(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(frame)
}

// handleWebsocket processes one frame at a time, so a user's chat turns on a
// connection never interleave. Notifications are pushed as they arrive.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		badRequest(w, "userId parameter is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err), zap.String("user_id", userID))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	ws := &wsConn{conn: conn}
	logger := s.logger.With(zap.String("user_id", userID))
	logger.Info("Websocket connected")

	var pushers sync.WaitGroup
	if s.broadcaster != nil {
		subID, notifications := s.broadcaster.Subscribe(userID, notificationBacklog)
		pushers.Add(1)
		go func() {
			defer pushers.Done()
			for n := range notifications {
				if err := ws.send("notification", n); err != nil {
					logger.Debug("Failed to push notification", zap.Error(err))
				}
			}
		}()
		defer func() {
			s.broadcaster.Unsubscribe(userID, subID)
			pushers.Wait()
		}()
	}

	ctx := r.Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Websocket closed unexpectedly", zap.Error(err))
			}
			logger.Info("Websocket disconnected")
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			err = ws.sendError("Invalid message format")
		} else {
			err = s.handleFrame(r, ws, userID, frame)
		}
		if err != nil {
			logger.Warn("Failed to write websocket frame", zap.Error(err))
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Server) handleFrame(r *http.Request, ws *wsConn, userID string, frame Frame) error {
	switch frame.Type {
	case "chat":
		if strings.TrimSpace(frame.Content) == "" {
			return ws.sendError("content is required")
		}
		return ws.send("chat_response", s.session.HandleChat(r.Context(), userID, frame.Content))
	case "ping":
		return ws.write(Frame{Type: "pong"})
	case "get_tasks":
		tasks, err := s.session.ListTasks(r.Context(), userID)
		if err != nil {
			s.logger.Error("Failed to list tasks", zap.Error(err), zap.String("user_id", userID))
			return ws.sendError("Error processing message")
		}
		return ws.send("tasks", tasks)
	default:
		return ws.sendError("Unknown message type")
	}
}
