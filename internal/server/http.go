package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chriscow/voiceagent-server/pkg/session"
)

// sessionSummary is the read-model row returned by GET /api/sessions.
type sessionSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Preview  string `json:"preview"`
	Messages int    `json:"messages"`
}

// sessionDetail is the read-model returned by GET /api/sessions/{id}.
type sessionDetail struct {
	sessionSummary
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	AudioActive  bool      `json:"audio_active"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func summarize(sess *session.Session) sessionSummary {
	history := sess.History()
	title := "(empty)"
	preview := ""
	for _, m := range history {
		if m.Role == session.RoleUser {
			title = truncate(m.Content, 60)
			preview = truncate(m.Content, 140)
			break
		}
	}
	return sessionSummary{ID: sess.ID, Title: title, Preview: preview, Messages: len(history)}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// routes builds the HTTP control surface described for this server.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /api/sessions/{id}/history", s.handleGetSessionHistory)
	mux.HandleFunc("GET /api/dashboard/metrics", s.handleDashboardMetrics)
	mux.HandleFunc("GET /api/config", s.handleConfig)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/ws/dashboard", s.handleDashboardWS)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"timestamp":          time.Now().UTC(),
		"active_connections": snap.ActiveConnections,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.store.List()
	out := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, summarize(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, sessionDetail{
		sessionSummary: summarize(sess),
		CreatedAt:      sess.CreatedAt,
		LastActivity:   sess.LastActivity,
		AudioActive:    sess.AudioActive,
	})
}

func (s *Server) handleGetSessionHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, sess.History())
}

func (s *Server) handleDashboardMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"require_api_key":         s.cfg.RequireAPIKey,
		"endpointing_min_delay_ms": s.cfg.EndpointingMinDelayMs,
		"endpointing_max_delay_ms": s.cfg.EndpointingMaxDelayMs,
		"max_connections":         s.cfg.MaxConnections,
	})
}
