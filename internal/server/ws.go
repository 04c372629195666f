package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/cadre-oss/memchat/internal/agent"
	memErrors "github.com/cadre-oss/memchat/internal/errors"
)

// wsError is written back when a frame cannot be served.
type wsError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// handleWebSocket serves one chat turn per inbound frame. Frames on a
// single connection are answered in order.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return s.allowOrigin(r.Header.Get("Origin"))
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		var req agent.ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("WebSocket read failed", "error", err)
			}
			if _, ok := err.(*websocket.CloseError); ok {
				return
			}
			// A frame that is not a ChatRequest keeps the connection open.
			if werr := conn.WriteJSON(wsError{Error: "invalid JSON: " + err.Error(), Code: memErrors.CodeUsage}); werr != nil {
				return
			}
			continue
		}

		res, err := s.chat.Chat(ctx, req)
		if err != nil {
			if werr := conn.WriteJSON(wsError{Error: err.Error(), Code: memErrors.AsCode(err)}); werr != nil {
				return
			}
			continue
		}
		if err := conn.WriteJSON(res); err != nil {
			return
		}
	}
}
