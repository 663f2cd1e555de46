package hubapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/caphub/mcp-hub-go/pkg/mcphub"
)

const wsWriteTimeout = 10 * time.Second

// statePayload is the frame pushed to every WebSocket client: the initial
// snapshot on connect, then one frame per hub publish.
type statePayload struct {
	Type    string          `json:"type"`
	Servers mcphub.Snapshot `json:"servers"`
}

type wsHandler struct {
	hub      *mcphub.Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func newWSHandler(hub *mcphub.Hub, logger *slog.Logger, allowedOrigins []string) *wsHandler {
	h := &wsHandler{hub: hub, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// originChecker admits requests without an Origin header so non-browser
// clients can connect.
func originChecker(allowedOrigins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		return false
	}
}

// ServeHTTP pushes state only. Inbound frames are drained and discarded; the
// read loop exists to notice the peer going away.
func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(8)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.writeSnapshot(conn, h.hub.Snapshot()); err != nil {
		h.logger.Debug("ws initial write failed", "error", err)
		return
	}

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case snap, ok := <-sub.Updates():
			if !ok {
				return
			}
			if err := h.writeSnapshot(conn, snap); err != nil {
				h.logger.Debug("ws write failed", "error", err)
				return
			}
		}
	}
}

func (h *wsHandler) writeSnapshot(conn *websocket.Conn, snap mcphub.Snapshot) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(statePayload{Type: "servers", Servers: snap})
}
