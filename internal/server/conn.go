package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chriscow/voiceagent-server/internal/domainerr"
	"github.com/chriscow/voiceagent-server/pkg/ai/vad"
	"github.com/chriscow/voiceagent-server/pkg/eventbus"
	"github.com/chriscow/voiceagent-server/pkg/protocol"
	"github.com/chriscow/voiceagent-server/pkg/recognition"
	"github.com/chriscow/voiceagent-server/pkg/rtc"
	"github.com/chriscow/voiceagent-server/pkg/session"
)

// keepaliveThreshold is how long a connection may go without outbound
// activity before the handler sends a heartbeat to prevent idle timeouts.
const keepaliveThreshold = 20 * time.Second

// sessionState is the per-session audio pipeline multiplexed onto one
// connection: each session_id a client drives over the socket gets its own
// Recognition coordinator and VAD instance, independent of any other
// session sharing the connection.
type sessionState struct {
	sess *session.Session

	recog   *recognition.Recognition
	vadInst vad.VAD
	vadIn   chan rtc.AudioFrame
	vadStop context.CancelFunc
}

// conn is the per-connection state closed over by one handleWS goroutine. A
// connection resolves a Session for every inbound envelope from its
// session_id, so one socket can drive several concurrent sessions.
type conn struct {
	ws    *websocket.Conn
	appID string
	s     *Server

	ctx    context.Context
	cancel context.CancelFunc

	writeMu  sync.Mutex
	lastSend time.Time

	mu       sync.Mutex
	sessions map[string]*sessionState
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("x-api-key")
	appID := r.Header.Get("x-app-id")

	if s.cfg.RequireAPIKey || appID != "" {
		if !s.validator(apiKey, appID) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}
	if appID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		ws:       ws,
		appID:    appID,
		s:        s,
		ctx:      ctx,
		cancel:   cancel,
		lastSend: time.Now(),
		sessions: make(map[string]*sessionState),
	}
	s.metrics.ConnectionOpened()

	initial := c.getOrCreateSession(uuid.NewString())
	c.sendEnvelope(initial.sess.ID, protocol.TypeServerConnected, protocol.ServerConnected{
		SessionID: initial.sess.ID,
		Metadata:  map[string]any{"app_id": appID, "connection_id": uuid.NewString()},
	})

	go c.keepaliveLoop()
	c.readLoop()
}

// getOrCreateSession resolves the sessionState for id, allocating a new
// Session in the store (and a fresh id, if id is empty) on first use. This
// mirrors the store's own idempotent creation: the first client_* message
// carrying a given session id creates it, every later one reuses it.
func (c *conn) getOrCreateSession(id string) *sessionState {
	if id == "" {
		id = uuid.NewString()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.sessions[id]; ok {
		return st
	}

	sess := c.s.store.GetOrCreate(id, c.appID)
	c.s.metrics.SessionCreated()
	st := &sessionState{sess: sess}
	c.sessions[id] = st
	return st
}

func (c *conn) readLoop() {
	defer c.teardown()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		env, err := decodeEnvelope(data)
		if err != nil {
			c.sendError("", domainerr.New(domainerr.Validation, err))
			continue
		}

		st := c.getOrCreateSession(env.SessionID)
		st.sess.Touch()
		st.sess.Metrics.IncMessagesReceived()
		c.s.metrics.MessageReceived()
		c.s.publish(eventbus.MessageReceived, st.sess.ID, map[string]any{"type": env.Type})

		c.dispatch(st, env)
	}
}

// teardown tears down every session this connection accumulated, not just
// the one allocated at accept time.
func (c *conn) teardown() {
	c.mu.Lock()
	states := make([]*sessionState, 0, len(c.sessions))
	for _, st := range c.sessions {
		states = append(states, st)
	}
	c.mu.Unlock()

	for _, st := range states {
		if st.recog != nil {
			st.recog.Stop()
		}
		if st.vadStop != nil {
			st.vadStop()
		}
		c.s.store.Remove(st.sess.ID)
	}

	c.cancel()
	c.s.metrics.ConnectionClosed()
	_ = c.ws.Close()
}

func (c *conn) keepaliveLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			idle := time.Since(c.lastSend)
			c.writeMu.Unlock()
			if idle >= keepaliveThreshold {
				c.sendRaw([]byte(`{"type":"heartbeat"}`))
			}
		}
	}
}
