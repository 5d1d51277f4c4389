// Package server implements the WebSocket connection handler and HTTP
// control surface: per-connection auth, session allocation, message
// dispatch, and the read-only dashboard/session inspection endpoints.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chriscow/voiceagent-server/internal/config"
	"github.com/chriscow/voiceagent-server/pkg/agentloop"
	"github.com/chriscow/voiceagent-server/pkg/ai/llm"
	"github.com/chriscow/voiceagent-server/pkg/ai/stt"
	"github.com/chriscow/voiceagent-server/pkg/ai/vad"
	"github.com/chriscow/voiceagent-server/pkg/eventbus"
	"github.com/chriscow/voiceagent-server/pkg/metrics"
	"github.com/chriscow/voiceagent-server/pkg/session"
	"github.com/chriscow/voiceagent-server/pkg/tools"
	"github.com/chriscow/voiceagent-server/pkg/turn"
)

// Validator authenticates a connection from its request headers. The server
// calls it whenever x-app-id is present, and for every connection when
// RequireAPIKey is set; a connection without x-app-id is rejected either
// way. Whether apiKey is checked is up to the Validator.
type Validator func(apiKey, appID string) bool

// Deps bundles the providers and shared infrastructure a Server wires into
// every connection it accepts.
type Deps struct {
	Store     *session.Store
	Bus       *eventbus.Bus
	Metrics   *metrics.Server
	PromReg   *prometheus.Registry
	Config    *config.Config
	Validator Validator

	STT         stt.STT
	NewVAD      func() (vad.VAD, error) // nil disables VAD-driven endpointing
	Detector    turn.Detector            // nil means "not configured"
	LLM         llm.StreamingLLM
	Tools       *tools.Registry
	Instructions string
}

// Server owns the HTTP mux, the upgrader, and the shared dependencies every
// connection handler closes over.
type Server struct {
	cfg          *config.Config
	store        *session.Store
	bus          *eventbus.Bus
	metrics      *metrics.Server
	promRegistry *prometheus.Registry
	validator    Validator

	sttProvider  stt.STT
	newVAD       func() (vad.VAD, error)
	detector     turn.Detector
	agentLoop    *agentloop.Loop

	upgrader websocket.Upgrader

	mux *http.ServeMux
}

// New builds a Server from deps. Any nil Validator accepts every connection
// that presents a non-empty x-app-id.
func New(deps Deps) *Server {
	validator := deps.Validator
	if validator == nil {
		validator = func(apiKey, appID string) bool { return appID != "" }
	}

	s := &Server{
		cfg:          deps.Config,
		store:        deps.Store,
		bus:          deps.Bus,
		metrics:      deps.Metrics,
		promRegistry: deps.PromReg,
		validator:    validator,
		sttProvider:  deps.STT,
		newVAD:       deps.NewVAD,
		detector:     deps.Detector,
		agentLoop: agentloop.New(agentloop.Config{
			LLM:          deps.LLM,
			Tools:        deps.Tools,
			Bus:          deps.Bus,
			Metrics:      deps.Metrics,
			Instructions: deps.Instructions,
			Temperature:  deps.Config.LLMTemperature,
			MaxTokens:    deps.Config.LLMMaxTokens,
		}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.mux = s.routes()
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// RunIdleSweep starts the background goroutine that expires idle sessions.
// It returns once stop is closed.
func (s *Server) RunIdleSweep(stop <-chan struct{}) {
	idle := time.Duration(s.cfg.SessionIdleTimeoutSeconds) * time.Second
	s.store.RunIdleSweep(stop, idle, idle/10)
}

func (s *Server) logger() *slog.Logger {
	return slog.Default()
}

func (s *Server) publish(eventType, sessionID string, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventType, SessionID: sessionID, Data: data})
}
