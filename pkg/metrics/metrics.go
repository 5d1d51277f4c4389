// Package metrics aggregates per-session and per-server counters and
// latencies, and exposes both an expvar snapshot (for the HTTP control
// surface) and a Prometheus registry (for /metrics scraping).
package metrics

import (
	"expvar"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionMetrics holds the counters for one conversation.
type SessionMetrics struct {
	mu sync.Mutex

	MessagesReceived   int64
	AudioChunks        int64
	STTTranscriptions  int64
	AgentResponses     int64
	ToolCalls          int64
	Errors             int64
	avgSTTLatencyMs    float64
	avgAgentLatencyMs  float64
	sttSamples         int64
	agentSamples       int64
}

// NewSessionMetrics creates a zeroed per-session counter set.
func NewSessionMetrics() *SessionMetrics {
	return &SessionMetrics{}
}

func (s *SessionMetrics) IncMessagesReceived() { s.mu.Lock(); s.MessagesReceived++; s.mu.Unlock() }
func (s *SessionMetrics) IncAudioChunks()      { s.mu.Lock(); s.AudioChunks++; s.mu.Unlock() }
func (s *SessionMetrics) IncTranscriptions()   { s.mu.Lock(); s.STTTranscriptions++; s.mu.Unlock() }
func (s *SessionMetrics) IncAgentResponses()   { s.mu.Lock(); s.AgentResponses++; s.mu.Unlock() }
func (s *SessionMetrics) IncToolCalls()        { s.mu.Lock(); s.ToolCalls++; s.mu.Unlock() }
func (s *SessionMetrics) IncErrors()           { s.mu.Lock(); s.Errors++; s.mu.Unlock() }

// ObserveSTTLatency folds one STT round-trip latency into the moving average.
func (s *SessionMetrics) ObserveSTTLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sttSamples++
	s.avgSTTLatencyMs += (float64(d.Milliseconds()) - s.avgSTTLatencyMs) / float64(s.sttSamples)
}

// ObserveAgentLatency folds one agent-turn latency into the moving average.
func (s *SessionMetrics) ObserveAgentLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentSamples++
	s.avgAgentLatencyMs += (float64(d.Milliseconds()) - s.avgAgentLatencyMs) / float64(s.agentSamples)
}

// Snapshot is a point-in-time read of a SessionMetrics's counters, safe to encode.
type Snapshot struct {
	MessagesReceived  int64   `json:"messages_received"`
	AudioChunks       int64   `json:"audio_chunks"`
	STTTranscriptions int64   `json:"stt_transcriptions"`
	AgentResponses    int64   `json:"agent_responses"`
	ToolCalls         int64   `json:"tool_calls"`
	Errors            int64   `json:"errors"`
	AvgSTTLatencyMs   float64 `json:"avg_stt_latency_ms"`
	AvgAgentLatencyMs float64 `json:"avg_agent_latency_ms"`
}

// Snapshot returns a copy of the session's current counters.
func (s *SessionMetrics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		MessagesReceived:  s.MessagesReceived,
		AudioChunks:       s.AudioChunks,
		STTTranscriptions: s.STTTranscriptions,
		AgentResponses:    s.AgentResponses,
		ToolCalls:         s.ToolCalls,
		Errors:            s.Errors,
		AvgSTTLatencyMs:   s.avgSTTLatencyMs,
		AvgAgentLatencyMs: s.avgAgentLatencyMs,
	}
}

// Server aggregates process-wide counters, exposed both via expvar (for the
// lightweight /api/dashboard/metrics JSON surface) and Prometheus (for
// /metrics scraping).
type Server struct {
	startedAt time.Time

	activeConnections expvar.Int
	totalSessions      expvar.Int
	totalErrors        expvar.Int

	promMessages  prometheus.Counter
	promToolCalls prometheus.Counter
	promErrors    prometheus.Counter
	promActive    prometheus.Gauge
}

// NewServer creates process-wide metrics and registers the Prometheus
// collectors with reg.
func NewServer(reg prometheus.Registerer) *Server {
	s := &Server{
		startedAt: time.Now(),
		promMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_messages_received_total",
			Help: "Total client messages received across all sessions.",
		}),
		promToolCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_tool_calls_total",
			Help: "Total tool invocations executed by the agent loop.",
		}),
		promErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_errors_total",
			Help: "Total errors surfaced to clients.",
		}),
		promActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voiceagent_active_connections",
			Help: "Current number of open client connections.",
		}),
	}

	reg.MustRegister(s.promMessages, s.promToolCalls, s.promErrors, s.promActive)
	return s
}

func (s *Server) ConnectionOpened() {
	s.activeConnections.Add(1)
	s.promActive.Inc()
}

func (s *Server) ConnectionClosed() {
	s.activeConnections.Add(-1)
	s.promActive.Dec()
}

func (s *Server) SessionCreated() { s.totalSessions.Add(1) }

func (s *Server) MessageReceived() { s.promMessages.Inc() }

func (s *Server) ToolCallExecuted() { s.promToolCalls.Inc() }

func (s *Server) ErrorOccurred() {
	s.totalErrors.Add(1)
	s.promErrors.Inc()
}

// ServerSnapshot is a point-in-time read of process-wide metrics.
type ServerSnapshot struct {
	ActiveConnections int64   `json:"active_connections"`
	TotalSessions     int64   `json:"total_sessions"`
	TotalErrors       int64   `json:"total_errors"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// Snapshot returns the current process-wide metrics.
func (s *Server) Snapshot() ServerSnapshot {
	return ServerSnapshot{
		ActiveConnections: s.activeConnections.Value(),
		TotalSessions:     s.totalSessions.Value(),
		TotalErrors:       s.totalErrors.Value(),
		UptimeSeconds:     time.Since(s.startedAt).Seconds(),
	}
}
