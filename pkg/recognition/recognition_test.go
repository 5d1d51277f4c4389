package recognition

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chriscow/voiceagent-server/pkg/ai/stt"
	"github.com/chriscow/voiceagent-server/pkg/ai/vad"
	"github.com/chriscow/voiceagent-server/pkg/rtc"
)

// testSTT is a hand-driven fake: the test pushes events directly onto its
// stream's channel rather than deriving them from pushed audio.
type testSTT struct {
	stream *testStream
}

func (t *testSTT) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.STTStream, error) {
	t.stream = &testStream{events: make(chan stt.SpeechEvent, 16)}
	return t.stream, nil
}

func (t *testSTT) Capabilities() stt.STTCapabilities { return stt.STTCapabilities{Streaming: true} }

type testStream struct {
	mu     sync.Mutex
	closed bool
	events chan stt.SpeechEvent
}

func (s *testStream) Push(frame rtc.AudioFrame) error { return nil }
func (s *testStream) Events() <-chan stt.SpeechEvent  { return s.events }
func (s *testStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *testStream) emit(ev stt.SpeechEvent) {
	s.events <- ev
}

func newTestRecognition(t *testing.T, onTurnEnd func(transcript string)) (*Recognition, *testSTT) {
	t.Helper()
	fake := &testSTT{}
	r := New(Config{
		STT:      fake,
		MinDelay: 20 * time.Millisecond,
		MaxDelay: 200 * time.Millisecond,
		OnTurnEnd: func(ctx context.Context, transcript string) {
			onTurnEnd(transcript)
		},
	})
	if err := r.Start(context.Background(), 16000, "PCM16"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return r, fake
}

func TestFinalTranscriptCommitsAfterMinDelay(t *testing.T) {
	done := make(chan string, 1)
	r, fake := newTestRecognition(t, func(transcript string) { done <- transcript })
	defer r.Stop()

	fake.stream.emit(stt.SpeechEvent{Type: stt.SpeechEventFinal, Text: "hello there"})

	select {
	case got := <-done:
		if got != "hello there" {
			t.Errorf("expected %q, got %q", "hello there", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for turn end")
	}
}

func TestNewFinalDuringDelayReArmsWithAccumulatedTranscript(t *testing.T) {
	done := make(chan string, 1)
	r, fake := newTestRecognition(t, func(transcript string) { done <- transcript })
	defer r.Stop()

	fake.stream.emit(stt.SpeechEvent{Type: stt.SpeechEventFinal, Text: "hello"})
	time.Sleep(10 * time.Millisecond) // less than MinDelay: re-arm before commit
	fake.stream.emit(stt.SpeechEvent{Type: stt.SpeechEventFinal, Text: "world"})

	select {
	case got := <-done:
		if got != "hello world" {
			t.Errorf("expected accumulated transcript %q, got %q", "hello world", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for turn end")
	}
}

func TestSpeechStartCancelsPendingEOU(t *testing.T) {
	done := make(chan string, 1)
	r, fake := newTestRecognition(t, func(transcript string) { done <- transcript })
	defer r.Stop()

	fake.stream.emit(stt.SpeechEvent{Type: stt.SpeechEventFinal, Text: "hello"})
	r.HandleVADEvent(vad.VADEventSpeechStart, 0.9)

	select {
	case got := <-done:
		t.Fatalf("expected EOU to be cancelled, but turn ended with %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClearUserTurnResetsState(t *testing.T) {
	done := make(chan string, 1)
	r, fake := newTestRecognition(t, func(transcript string) { done <- transcript })
	defer r.Stop()

	fake.stream.emit(stt.SpeechEvent{Type: stt.SpeechEventFinal, Text: "hello"})
	time.Sleep(5 * time.Millisecond)
	r.ClearUserTurn()

	select {
	case got := <-done:
		t.Fatalf("expected no turn end after clear, got %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}
