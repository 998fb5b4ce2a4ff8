package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"respawnbot/internal/eventbus"
	logx "respawnbot/pkg/logx"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from a different origin; auth is the bearer
	// token, not the Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// handleWS streams bus events (settings.changed, timer.fired, sync.completed)
// so the dashboard can live-preview state without polling.
func (s *Service) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}
	defer conn.Close()

	events, unsub := s.bus.Subscribe(64)
	defer unsub()

	// Initial snapshot so a fresh client doesn't wait for the next change.
	now := time.Now()
	snap := map[string]any{"settings": s.state.ToPersisted()}
	if next10, next2h, err := s.sched.ComputeNext(now); err == nil {
		snap["next"] = nextResponse{Now: now, Next10: next10, Next2h: next2h}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(eventbus.Event{Type: "snapshot", Time: now, Data: snap}); err != nil {
		return
	}

	// Reader: we never expect client messages, but reading drives close and
	// pong handling.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
