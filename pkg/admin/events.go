package admin

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The control API is bound to an operator-facing port; origin checks
	// would only block local tooling.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	eventWriteTimeout = 5 * time.Second
	pingInterval      = 30 * time.Second
)

// handleEventStream upgrades to a WebSocket and forwards the event bus.
// Each connection gets its own subscription; a slow consumer only loses
// its own events.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("event stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, cancel := s.mgr.Bus().Subscribe()
	defer cancel()

	// Drain client frames so close and pong handling work; we never expect
	// meaningful input on this socket.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout)) //nolint:errcheck
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
