// ABOUTME: Realtime change feed endpoints over WebSocket and Server-Sent Events
// ABOUTME: Each connection holds one bus subscription filtered to the caller's messages

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/lectern/internal/auth"
	"github.com/2389/lectern/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	maxFrameBytes  = 4 << 10 // clients only send control frames
	pongWaitFactor = 2
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Feed auth is a bearer token, never a cookie
	CheckOrigin: func(r *http.Request) bool { return true },
}

// pingInterval returns the keepalive period for feed connections.
func (s *Server) pingInterval() time.Duration {
	if s.config.Realtime.PingInterval > 0 {
		return s.config.Realtime.PingInterval
	}
	return 30 * time.Second
}

// handleRealtimeWebSocket handles GET /api/realtime.
// Each change event involving the caller is written as one JSON text frame.
func (s *Server) handleRealtimeWebSocket(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// Subscribe before the handshake completes so nothing published after
	// the client sees the upgrade can be missed.
	events, subID := s.bus.Subscribe(ctx, realtime.ForUser(authCtx.UserID))

	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	logger := s.logger.With("user_id", authCtx.UserID, "sub_id", subID, "transport", "websocket")
	logger.Debug("feed connected")

	ping := s.pingInterval()
	pongWait := pongWaitFactor * ping

	// Read loop: only control frames are expected. Its exit means the peer
	// went away.
	go func() {
		defer cancel()
		ws.SetReadLimit(maxFrameBytes)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(ping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("feed disconnected")
			return

		case event, ok := <-events:
			if !ok {
				// Bus closed: the gateway is shutting down
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(event); err != nil {
				logger.Debug("feed write failed", "error", err)
				return
			}

		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug("feed ping failed", "error", err)
				return
			}
		}
	}
}

// handleRealtimeSSE handles GET /api/realtime/sse.
// Events are written as "event: <insert|update>" with the change as JSON data.
func (s *Server) handleRealtimeSSE(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, subID := s.bus.Subscribe(r.Context(), realtime.ForUser(authCtx.UserID))
	logger := s.logger.With("user_id", authCtx.UserID, "sub_id", subID, "transport", "sse")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Initial comment so clients know the subscription is live
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()
	logger.Debug("feed connected")

	ticker := time.NewTicker(s.pingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("feed disconnected")
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if err := s.writeSSEEvent(w, string(event.Type), event); err != nil {
				logger.Debug("feed write failed", "error", err)
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return nil
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, dataJSON)
	return err
}
