package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chriscow/voiceagent-server/pkg/eventbus"
)

// mutexWriter serializes writes to a websocket connection: gorilla's Conn
// forbids concurrent writers, but event bus subscriber callbacks for
// overlapping Publish calls can run concurrently.
type mutexWriter struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (m *mutexWriter) write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ws.WriteMessage(websocket.TextMessage, data)
}

type dashboardEvent struct {
	Type      string         `json:"type"`
	EventType string         `json:"event_type,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// handleDashboardWS subscribes a second, read-only channel to the event bus:
// on connect it sends an initial_state snapshot, then streams every
// published event until the client disconnects.
func (s *Server) handleDashboardWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("dashboard websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	var writeMu mutexWriter
	writeMu.ws = ws

	initial, _ := json.Marshal(map[string]any{
		"type":    "initial_state",
		"metrics": s.metrics.Snapshot(),
	})
	if err := writeMu.write(initial); err != nil {
		return
	}

	sub := s.bus.Subscribe(func(ev eventbus.Event) {
		payload, err := json.Marshal(dashboardEvent{
			Type:      "event",
			EventType: ev.Type,
			SessionID: ev.SessionID,
			Timestamp: ev.Timestamp,
			Data:      ev.Data,
		})
		if err != nil {
			return
		}
		_ = writeMu.write(payload)
	})
	defer sub.Unsubscribe()

	// Block until the client disconnects; dashboard connections are
	// receive-only from the client's perspective.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
