// Package deepgram provides a streaming speech-to-text provider backed by
// Deepgram's real-time WebSocket API.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/chriscow/voiceagent-server/pkg/ai/stt"
	"github.com/chriscow/voiceagent-server/pkg/rtc"
	"github.com/gorilla/websocket"
)

const (
	defaultEndpoint    = "wss://api.deepgram.com/v1/listen"
	defaultModel       = "nova-2"
	keepaliveInterval  = 5 * time.Second
	connectTimeout     = 10 * time.Second
)

// Config holds configuration for the Deepgram STT provider.
type Config struct {
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	Endpoint string `json:"endpoint"` // override, mainly for tests
}

// DeepgramSTT implements stt.STT using Deepgram's streaming API.
type DeepgramSTT struct {
	apiKey   string
	model    string
	endpoint string
}

// NewDeepgramSTT creates a new Deepgram STT provider.
func NewDeepgramSTT(cfg Config) (*DeepgramSTT, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &DeepgramSTT{apiKey: cfg.APIKey, model: model, endpoint: endpoint}, nil
}

// Capabilities returns the provider's capabilities.
func (d *DeepgramSTT) Capabilities() stt.STTCapabilities {
	return stt.STTCapabilities{
		Streaming:          true,
		InterimResults:     true,
		SupportedLanguages: []string{"en", "en-US", "en-GB", "es", "fr", "de", "pt", "ja", "nl"},
		SampleRates:        []int{8000, 16000, 48000},
	}
}

// NewStream opens a new Deepgram streaming recognition session.
func (d *DeepgramSTT) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.STTStream, error) {
	u, err := d.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("building deepgram url: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	header := http.Header{}
	header.Set("Authorization", "Token "+d.apiKey)

	conn, _, err := dialer.DialContext(ctx, u, header)
	if err != nil {
		return nil, fmt.Errorf("%w: deepgram connect failed: %v", stt.ErrRecoverable, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &deepgramStream{
		conn:      conn,
		ctx:       streamCtx,
		cancel:    cancel,
		eventChan: make(chan stt.SpeechEvent, 32),
	}

	s.wg.Add(2)
	go s.receiveMessages()
	go s.keepalive()

	return s, nil
}

func (d *DeepgramSTT) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", d.model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", strconv.Itoa(max(cfg.NumChannels, 1)))
	q.Set("interim_results", "true")
	q.Set("endpointing", "false") // endpointing is owned by the recognition coordinator
	if cfg.Lang != "" {
		q.Set("language", cfg.Lang)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// deepgramStream implements stt.STTStream over one Deepgram WebSocket
// connection with a one-forward (via Push)/one-receive/one-keepalive
// goroutine split.
type deepgramStream struct {
	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	eventChan chan stt.SpeechEvent

	writeMu sync.Mutex
	wg      sync.WaitGroup
	closed  bool
	closeMu sync.Mutex
}

// Push forwards one audio frame to the upstream connection.
func (s *deepgramStream) Push(frame rtc.AudioFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.ctx.Err() != nil {
		return fmt.Errorf("stream is closed")
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, frame.Data)
}

// Events returns the channel of speech recognition events.
func (s *deepgramStream) Events() <-chan stt.SpeechEvent {
	return s.eventChan
}

// CloseSend signals end of audio and tears down the connection.
func (s *deepgramStream) CloseSend() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	s.writeMu.Unlock()

	s.cancel()
	_ = s.conn.Close()
	s.wg.Wait()
	return nil
}

// keepalive sends a periodic Deepgram KeepAlive message so the upstream
// connection does not idle out while the user is silent.
func (s *deepgramStream) keepalive() {
	defer s.wg.Done()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// deepgramMessage is the shape common to all upstream message types we care
// about; fields that don't apply to a given type are left zero.
type deepgramMessage struct {
	Type    string `json:"type"`
	Channel *struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal bool `json:"is_final"`
}

func (s *deepgramStream) receiveMessages() {
	defer s.wg.Done()
	defer close(s.eventChan)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return // expected: CloseSend already cancelled the context
			}
			s.emit(stt.SpeechEvent{
				Type:      stt.SpeechEventError,
				Error:     fmt.Errorf("%w: deepgram read failed: %v", stt.ErrRecoverable, err),
				Timestamp: time.Now().UnixMilli(),
			})
			return
		}

		s.handleMessage(data)
	}
}

func (s *deepgramStream) handleMessage(data []byte) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return // ignore malformed frames rather than tearing down the stream
	}

	switch msg.Type {
	case "Results":
		if msg.Channel == nil || len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" && !msg.IsFinal {
			return
		}

		event := stt.SpeechEvent{
			Text:      alt.Transcript,
			IsFinal:   msg.IsFinal,
			Timestamp: time.Now().UnixMilli(),
		}
		if msg.IsFinal {
			event.Type = stt.SpeechEventFinal
		} else {
			event.Type = stt.SpeechEventInterim
		}
		s.emit(event)

	case "Error":
		s.emit(stt.SpeechEvent{
			Type:      stt.SpeechEventError,
			Error:     fmt.Errorf("%w: deepgram reported an error", stt.ErrFatal),
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

func (s *deepgramStream) emit(event stt.SpeechEvent) {
	select {
	case s.eventChan <- event:
	case <-s.ctx.Done():
	}
}

// newDeepgramSTT is the factory function for the plugin registry.
func newDeepgramSTT(cfg map[string]any) (any, error) {
	config := Config{}

	if apiKey, ok := cfg["api_key"].(string); ok {
		config.APIKey = apiKey
	} else {
		config.APIKey = os.Getenv("DEEPGRAM_API_KEY")
	}
	if model, ok := cfg["model"].(string); ok {
		config.Model = model
	}

	return NewDeepgramSTT(config)
}
