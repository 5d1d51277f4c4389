package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeClientText_RejectsOversized(t *testing.T) {
	payload, _ := json.Marshal(ClientText{Text: strings.Repeat("a", MaxTextBytes+1)})
	_, err := DecodeClientText(payload)
	if err == nil {
		t.Fatal("expected error for oversized text")
	}
	var ve *ValidationError
	if !asValidationError(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if ve.Field != "text" {
		t.Errorf("expected field 'text', got %q", ve.Field)
	}
}

func TestDecodeClientText_Accepts(t *testing.T) {
	payload, _ := json.Marshal(ClientText{Text: "hello"})
	msg, err := DecodeClientText(payload)
	if err != nil {
		t.Fatalf("DecodeClientText: %v", err)
	}
	if msg.Text != "hello" {
		t.Errorf("expected 'hello', got %q", msg.Text)
	}
}

func TestDecodeClientAudioStart_ValidatesSampleRateAndEncoding(t *testing.T) {
	cases := []struct {
		name    string
		msg     ClientAudioStart
		wantErr bool
	}{
		{"valid", ClientAudioStart{SampleRate: 16000, Encoding: EncodingPCM16}, false},
		{"bad rate", ClientAudioStart{SampleRate: 22050, Encoding: EncodingPCM16}, true},
		{"bad encoding", ClientAudioStart{SampleRate: 16000, Encoding: "PCM32"}, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			payload, _ := json.Marshal(c.msg)
			_, err := DecodeClientAudioStart(payload)
			if c.wantErr && err == nil {
				t.Error("expected error")
			}
			if !c.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDecodeClientAudioChunk_RoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	payload, _ := json.Marshal(ClientAudioChunk{Chunk: EncodeAudioChunk(pcm)})

	_, decoded, err := DecodeClientAudioChunk(payload)
	if err != nil {
		t.Fatalf("DecodeClientAudioChunk: %v", err)
	}
	if string(decoded) != string(pcm) {
		t.Errorf("expected %v, got %v", pcm, decoded)
	}
}

func TestDecodeClientAudioChunk_RejectsOversized(t *testing.T) {
	oversized := make([]byte, MaxAudioChunkBytes+1)
	payload, _ := json.Marshal(ClientAudioChunk{Chunk: EncodeAudioChunk(oversized)})

	_, _, err := DecodeClientAudioChunk(payload)
	if err == nil {
		t.Fatal("expected error for oversized chunk")
	}
}

func TestDecodeClientAudioEnd_EmptyIsValid(t *testing.T) {
	_, pcm, err := DecodeClientAudioEnd(json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pcm != nil {
		t.Errorf("expected nil pcm, got %v", pcm)
	}
}

func TestEncode_WrapsEnvelope(t *testing.T) {
	raw, err := Encode(TypeServerText, "sess-1", ServerText{Text: "hi"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshaling envelope: %v", err)
	}
	if env.Type != TypeServerText || env.SessionID != "sess-1" {
		t.Errorf("unexpected envelope: %+v", env)
	}

	var payload ServerText
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("unmarshaling payload: %v", err)
	}
	if payload.Text != "hi" {
		t.Errorf("expected text 'hi', got %q", payload.Text)
	}
}

func asValidationError(err error, target **ValidationError) bool {
	ve, ok := err.(*ValidationError)
	if ok {
		*target = ve
	}
	return ok
}
