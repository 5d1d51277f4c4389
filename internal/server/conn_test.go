package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chriscow/voiceagent-server/internal/config"
	"github.com/chriscow/voiceagent-server/pkg/ai/llm"
	"github.com/chriscow/voiceagent-server/pkg/eventbus"
	"github.com/chriscow/voiceagent-server/pkg/metrics"
	"github.com/chriscow/voiceagent-server/pkg/protocol"
	"github.com/chriscow/voiceagent-server/pkg/session"
	"github.com/chriscow/voiceagent-server/pkg/tools"
)

// fakeStreamingLLM streams a fixed sequence of turns, one per call to
// ChatStream, mirroring the agent loop's own test fake.
type fakeStreamingLLM struct {
	turns [][]llm.ChatCompletionChunk
	call  int
}

func (f *fakeStreamingLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	return llm.ChatResponse{}, errors.New("not used")
}

func (f *fakeStreamingLLM) Capabilities() llm.LLMCapabilities {
	return llm.LLMCapabilities{SupportsStreaming: true, SupportsFunctions: true}
}

func (f *fakeStreamingLLM) ChatStream(ctx context.Context, req llm.ChatRequest) (llm.ChatStream, error) {
	if f.call >= len(f.turns) {
		return nil, errors.New("no more turns configured")
	}
	chunks := f.turns[f.call]
	f.call++
	return &fakeStream{chunks: chunks}, nil
}

type fakeStream struct {
	chunks []llm.ChatCompletionChunk
	idx    int
}

func (s *fakeStream) Recv() (llm.ChatCompletionChunk, error) {
	if s.idx >= len(s.chunks) {
		return llm.ChatCompletionChunk{}, io.EOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}

func (s *fakeStream) Close() error { return nil }

// newTestServer builds a Server wired to fake, in-process dependencies and
// returns it alongside the httptest server exposing it.
func newTestServer(t *testing.T, fake *fakeStreamingLLM, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()

	if cfg == nil {
		cfg = &config.Config{
			EndpointingMinDelayMs:     500,
			EndpointingMaxDelayMs:     3000,
			AudioBufferLimit:          100,
			SessionIdleTimeoutSeconds: 300,
		}
	}

	bus := eventbus.New()
	store := session.NewStore(bus)
	promReg := prometheus.NewRegistry()

	srv := New(Deps{
		Store:        store,
		Bus:          bus,
		Metrics:      metrics.NewServer(promReg),
		PromReg:      promReg,
		Config:       cfg,
		LLM:          fake,
		Tools:        tools.NewRegistry(),
		Instructions: "be helpful",
	})

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

// dialWS opens a websocket connection to ts, authenticated with a fixed
// app id, and returns it alongside the server_connected envelope.
func dialWS(t *testing.T, ts *httptest.Server) (*websocket.Conn, protocol.Envelope) {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"x-app-id": []string{"test-app"}}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })

	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("reading server_connected: %v", err)
	}
	env := decodeEnvelopeT(t, data)
	if env.Type != protocol.TypeServerConnected {
		t.Fatalf("expected server_connected, got %q", env.Type)
	}
	return ws, env
}

func decodeEnvelopeT(t *testing.T, data []byte) protocol.Envelope {
	t.Helper()
	env, err := decodeEnvelope(data)
	if err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	return env
}

// readUntil reads envelopes off ws until one of msgType arrives, failing the
// test if none shows up before the deadline.
func readUntil(t *testing.T, ws *websocket.Conn, msgType string) protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := ws.SetReadDeadline(deadline); err != nil {
			t.Fatalf("SetReadDeadline: %v", err)
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		env := decodeEnvelopeT(t, data)
		if env.Type == msgType {
			return env
		}
	}
}

// Scenario 1: a client_text message round-trips through the agent loop and
// the server answers with a server_text carrying the assembled reply.
func TestConn_TextRoundTrip(t *testing.T) {
	fake := &fakeStreamingLLM{turns: [][]llm.ChatCompletionChunk{
		{
			{Delta: llm.MessageDelta{Content: "Hello"}},
			{Delta: llm.MessageDelta{Content: ", world"}},
		},
	}}
	_, ts := newTestServer(t, fake, nil)
	ws, connected := dialWS(t, ts)

	data, err := protocol.Encode(protocol.TypeClientText, connected.SessionID, protocol.ClientText{Text: "hi there"})
	if err != nil {
		t.Fatalf("encoding client_text: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	env := readUntil(t, ws, protocol.TypeServerText)
	if env.SessionID != connected.SessionID {
		t.Errorf("expected session id %q, got %q", connected.SessionID, env.SessionID)
	}

	var payload protocol.ServerText
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decoding server_text: %v", err)
	}
	if payload.Text != "Hello, world" {
		t.Errorf("expected %q, got %q", "Hello, world", payload.Text)
	}
}

// Scenario 1, multi-session variant: one connection can carry two distinct
// session ids, each resolving to its own Session and its own turn.
func TestConn_MultipleSessionsOnOneConnection(t *testing.T) {
	fake := &fakeStreamingLLM{turns: [][]llm.ChatCompletionChunk{
		{{Delta: llm.MessageDelta{Content: "first"}}},
		{{Delta: llm.MessageDelta{Content: "second"}}},
	}}
	srv, ts := newTestServer(t, fake, nil)
	ws, connected := dialWS(t, ts)

	secondSessionID := "another-session"

	for _, sid := range []string{connected.SessionID, secondSessionID} {
		data, err := protocol.Encode(protocol.TypeClientText, sid, protocol.ClientText{Text: "hi"})
		if err != nil {
			t.Fatalf("encoding client_text: %v", err)
		}
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("write: %v", err)
		}
		readUntil(t, ws, protocol.TypeServerText)
	}

	if _, ok := srv.store.Get(connected.SessionID); !ok {
		t.Error("expected the initial session to exist in the store")
	}
	if _, ok := srv.store.Get(secondSessionID); !ok {
		t.Error("expected the second session id to have been allocated as its own session")
	}
}

// Scenario 6: a session idle past the configured timeout is swept from the
// store by the background sweep.
func TestConn_IdleExpiry(t *testing.T) {
	fake := &fakeStreamingLLM{}
	cfg := &config.Config{
		EndpointingMinDelayMs:     500,
		EndpointingMaxDelayMs:     3000,
		AudioBufferLimit:          100,
		SessionIdleTimeoutSeconds: 1,
	}
	srv, ts := newTestServer(t, fake, cfg)
	_, connected := dialWS(t, ts)

	if _, ok := srv.store.Get(connected.SessionID); !ok {
		t.Fatal("expected session to exist right after connecting")
	}

	stop := make(chan struct{})
	defer close(stop)
	go srv.store.RunIdleSweep(stop, 1*time.Second, 50*time.Millisecond)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := srv.store.Get(connected.SessionID); !ok {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expected idle session to be swept from the store")
}
