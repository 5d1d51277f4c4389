// Package protocol defines the JSON wire codec for the bidirectional
// client↔server channel: message envelopes, per-type payloads, and size
// validation.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Size limits enforced on decode.
const (
	MaxTextBytes       = 4 * 1024  // client_text.text
	MaxAudioChunkBytes = 16 * 1024 // decoded client_audio_chunk.chunk
)

// Client message types.
const (
	TypeClientText       = "client_text"
	TypeClientAudioStart = "client_audio_start"
	TypeClientAudioChunk = "client_audio_chunk"
	TypeClientAudioEnd   = "client_audio_end"
)

// Server message types.
const (
	TypeServerConnected  = "server_connected"
	TypeServerSTT        = "server_stt"
	TypeServerPartial    = "server_partial"
	TypeServerText       = "server_text"
	TypeServerToolCall   = "server_tool_call"
	TypeServerToolResult = "server_tool_result"
	TypeServerError      = "server_error"
)

// Encoding names accepted by client_audio_start.
const (
	EncodingPCM16 = "PCM16"
	EncodingPCM8  = "PCM8"
)

// Envelope is the outer shape every message shares: a type tag, the owning
// session, and a type-specific payload decoded in a second pass.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Data      json.RawMessage `json:"data"`
}

// ValidationError names the offending field and reason. The codec never
// partially emits a message: it either returns a fully validated value or
// this error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("protocol: invalid field %q: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// --- client payloads ---

// ClientText carries a text turn from the user.
type ClientText struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ClientAudioStart opens an audio stream for the session.
type ClientAudioStart struct {
	SampleRate int            `json:"sample_rate"`
	Encoding   string         `json:"encoding"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ClientAudioChunk carries one base64-encoded slice of PCM audio.
type ClientAudioChunk struct {
	Chunk     string  `json:"chunk"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// ClientAudioEnd closes the active audio stream, optionally with one last chunk.
type ClientAudioEnd struct {
	FinalChunk string `json:"final_chunk,omitempty"`
}

// --- server payloads ---

// ServerConnected acknowledges a successful connection + auth handshake.
type ServerConnected struct {
	SessionID string         `json:"session_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ServerSTT carries a speech recognition hypothesis.
type ServerSTT struct {
	Text       string   `json:"text"`
	IsFinal    bool     `json:"is_final"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ServerPartial carries an incremental agent text chunk.
type ServerPartial struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// ServerText carries the final assistant message for one turn.
type ServerText struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ServerToolCall announces a tool invocation requested by the model.
type ServerToolCall struct {
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Status     string         `json:"status"`
}

// ServerToolResult reports the outcome of a tool invocation.
type ServerToolResult struct {
	ToolName   string `json:"tool_name"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Status     string `json:"status"` // "completed" or "failed"
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ServerError reports a domain error to the client.
type ServerError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
}

// DecodeClientText validates and decodes a client_text payload.
func DecodeClientText(data json.RawMessage) (ClientText, error) {
	var msg ClientText
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientText{}, invalid("data", "malformed client_text payload: "+err.Error())
	}
	if len(msg.Text) > MaxTextBytes {
		return ClientText{}, invalid("text", fmt.Sprintf("exceeds %d bytes", MaxTextBytes))
	}
	return msg, nil
}

var validSampleRates = map[int]bool{8000: true, 16000: true, 44100: true, 48000: true}
var validEncodings = map[string]bool{EncodingPCM16: true, EncodingPCM8: true}

// DecodeClientAudioStart validates and decodes a client_audio_start payload.
func DecodeClientAudioStart(data json.RawMessage) (ClientAudioStart, error) {
	var msg ClientAudioStart
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientAudioStart{}, invalid("data", "malformed client_audio_start payload: "+err.Error())
	}
	if !validSampleRates[msg.SampleRate] {
		return ClientAudioStart{}, invalid("sample_rate", fmt.Sprintf("unsupported rate %d", msg.SampleRate))
	}
	if !validEncodings[msg.Encoding] {
		return ClientAudioStart{}, invalid("encoding", fmt.Sprintf("unsupported encoding %q", msg.Encoding))
	}
	return msg, nil
}

// DecodeClientAudioChunk validates and decodes a client_audio_chunk payload,
// returning the decoded PCM bytes.
func DecodeClientAudioChunk(data json.RawMessage) (ClientAudioChunk, []byte, error) {
	var msg ClientAudioChunk
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientAudioChunk{}, nil, invalid("data", "malformed client_audio_chunk payload: "+err.Error())
	}

	pcm, err := base64.StdEncoding.DecodeString(msg.Chunk)
	if err != nil {
		return ClientAudioChunk{}, nil, invalid("chunk", "not valid base64: "+err.Error())
	}
	if len(pcm) > MaxAudioChunkBytes {
		return ClientAudioChunk{}, nil, invalid("chunk", fmt.Sprintf("decoded chunk exceeds %d bytes", MaxAudioChunkBytes))
	}

	return msg, pcm, nil
}

// DecodeClientAudioEnd validates and decodes a client_audio_end payload,
// returning any final chunk's decoded PCM bytes (nil if none was sent).
func DecodeClientAudioEnd(data json.RawMessage) (ClientAudioEnd, []byte, error) {
	var msg ClientAudioEnd
	if len(data) > 0 {
		if err := json.Unmarshal(data, &msg); err != nil {
			return ClientAudioEnd{}, nil, invalid("data", "malformed client_audio_end payload: "+err.Error())
		}
	}
	if msg.FinalChunk == "" {
		return msg, nil, nil
	}

	pcm, err := base64.StdEncoding.DecodeString(msg.FinalChunk)
	if err != nil {
		return ClientAudioEnd{}, nil, invalid("final_chunk", "not valid base64: "+err.Error())
	}
	if len(pcm) > MaxAudioChunkBytes {
		return ClientAudioEnd{}, nil, invalid("final_chunk", fmt.Sprintf("decoded chunk exceeds %d bytes", MaxAudioChunkBytes))
	}

	return msg, pcm, nil
}

// Encode wraps a server payload in an envelope and marshals it to JSON.
func Encode(msgType, sessionID string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshaling %s payload: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, SessionID: sessionID, Data: data})
}

// EncodeAudioChunk base64-encodes raw PCM bytes for client_audio_chunk/
// client_audio_end payloads.
func EncodeAudioChunk(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}
