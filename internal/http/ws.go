package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleWS upgrades the connection and streams machine snapshots and toast
// queue updates to the dashboard. The initial frames carry the current state
// of every mounted machine plus the toast queue, so a reconnecting client
// never has to diff.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ch := d.addWatcher()
	defer d.removeWatcher(ch)

	d.mu.Lock()
	initial := make([]wsEvent, 0, len(d.machines)+1)
	for _, m := range d.machines {
		snap := m.Snapshot()
		initial = append(initial, wsEvent{Type: "state", Snapshot: &snap})
	}
	d.mu.Unlock()
	initial = append(initial, wsEvent{Type: "toasts", Toasts: d.toasts.Snapshot()})

	for _, ev := range initial {
		if err := writeEvent(conn, ev); err != nil {
			_ = conn.Close()
			return
		}
	}

	// reader only detects disconnect; the dashboard never sends data frames
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	defer conn.Close()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, open := <-ch:
			if !open {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "signed out"))
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev wsEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(ev)
}
