package deepgram

import (
	"context"
	"net/url"
	"testing"

	"github.com/chriscow/voiceagent-server/pkg/ai/stt"
)

func TestNewDeepgramSTT_RequiresAPIKey(t *testing.T) {
	_, err := NewDeepgramSTT(Config{})
	if err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestNewDeepgramSTT_Defaults(t *testing.T) {
	d, err := NewDeepgramSTT(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewDeepgramSTT: %v", err)
	}
	if d.model != defaultModel {
		t.Errorf("expected default model %s, got %s", defaultModel, d.model)
	}
	if d.endpoint != defaultEndpoint {
		t.Errorf("expected default endpoint %s, got %s", defaultEndpoint, d.endpoint)
	}
}

func TestDeepgramSTT_Capabilities(t *testing.T) {
	d, err := NewDeepgramSTT(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewDeepgramSTT: %v", err)
	}

	caps := d.Capabilities()
	if !caps.Streaming || !caps.InterimResults {
		t.Error("expected streaming and interim results to be supported")
	}
	if len(caps.SampleRates) == 0 {
		t.Error("expected sample rates to be populated")
	}
}

func TestBuildURL(t *testing.T) {
	d, err := NewDeepgramSTT(Config{APIKey: "test-key", Model: "nova-2"})
	if err != nil {
		t.Fatalf("NewDeepgramSTT: %v", err)
	}

	raw, err := d.buildURL(stt.StreamConfig{SampleRate: 16000, NumChannels: 1, Lang: "en-US"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing built url: %v", err)
	}

	q := u.Query()
	if q.Get("model") != "nova-2" {
		t.Errorf("expected model=nova-2, got %s", q.Get("model"))
	}
	if q.Get("sample_rate") != "16000" {
		t.Errorf("expected sample_rate=16000, got %s", q.Get("sample_rate"))
	}
	if q.Get("language") != "en-US" {
		t.Errorf("expected language=en-US, got %s", q.Get("language"))
	}
	if q.Get("interim_results") != "true" {
		t.Error("expected interim_results=true")
	}
}

func TestHandleMessage_InterimAndFinal(t *testing.T) {
	s := &deepgramStream{eventChan: make(chan stt.SpeechEvent, 4)}
	s.ctx = context.Background()

	s.handleMessage([]byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`))
	s.handleMessage([]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello"}]}}`))
	close(s.eventChan)

	var events []stt.SpeechEvent
	for e := range s.eventChan {
		events = append(events, e)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].IsFinal || events[0].Type != stt.SpeechEventInterim {
		t.Errorf("expected first event to be interim, got %+v", events[0])
	}
	if !events[1].IsFinal || events[1].Type != stt.SpeechEventFinal || events[1].Text != "hello" {
		t.Errorf("expected final event with text 'hello', got %+v", events[1])
	}
}

func TestHandleMessage_IgnoresMalformed(t *testing.T) {
	s := &deepgramStream{eventChan: make(chan stt.SpeechEvent, 1)}
	s.ctx = context.Background()

	s.handleMessage([]byte(`not json`))

	select {
	case e := <-s.eventChan:
		t.Errorf("expected no event for malformed message, got %+v", e)
	default:
	}
}
