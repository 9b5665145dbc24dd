package bridge

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades incoming requests to WebSocket sessions for one upstream
// variant (openai-realtime or gemini-realtime).
type Handler struct {
	deps Deps
}

// NewHandler creates a Handler bound to a given variant's Deps.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// ServeHTTP upgrades the connection and runs the session to completion.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	slog.Info("bridge session started", "session_id", sessionID)

	sess := NewSession(sessionID, conn, h.deps)
	sess.Serve(context.Background())

	slog.Info("bridge session ended", "session_id", sessionID)
}
