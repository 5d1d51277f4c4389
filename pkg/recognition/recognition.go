// Package recognition owns the per-session audio pipeline: it consumes raw
// PCM frames, drives a streaming STT provider, and applies an adaptive
// endpointing delay to decide when a user's turn is complete. All mutable
// state is confined to a single run loop goroutine so the coordinator
// behaves like a cooperative single-threaded actor even though its STT
// stream, VAD events and EOU timers all arrive concurrently.
package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chriscow/voiceagent-server/pkg/ai/llm"
	"github.com/chriscow/voiceagent-server/pkg/ai/stt"
	"github.com/chriscow/voiceagent-server/pkg/ai/vad"
	"github.com/chriscow/voiceagent-server/pkg/rtc"
	"github.com/chriscow/voiceagent-server/pkg/turn"
)

// Defaults for the adaptive endpointing delay, used when Config leaves the
// corresponding field zero.
const (
	DefaultMinDelay = 500 * time.Millisecond
	DefaultMaxDelay = 3000 * time.Millisecond
)

// Config wires a Recognition coordinator to its STT provider, optional turn
// detector, and the callbacks that carry results back out to the session.
type Config struct {
	STT      stt.STT
	Detector turn.Detector // nil means "not configured": every EOU uses MinDelay.
	Language string

	Threshold float64 // turn-detector probability threshold; default 0.6.
	MinDelay  time.Duration
	MaxDelay  time.Duration

	// History returns the conversation so far, used as context for the
	// turn detector's prediction. May be nil.
	History func() []llm.Message

	// OnSTT is invoked for every interim and final transcript update.
	OnSTT func(text string, isFinal bool)

	// OnTurnEnd is invoked once per committed user turn with the final
	// accumulated transcript.
	OnTurnEnd func(ctx context.Context, transcript string)

	// OnError is invoked for STT stream failures. Retriable classification
	// is the caller's responsibility (provider-specific).
	OnError func(err error)

	BufferLimit int // bounded audio queue depth; default 100.
}

// Recognition is the audio recognition coordinator for one session.
type Recognition struct {
	cfg Config

	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	frames chan rtc.AudioFrame
	cmds   chan func()

	sttStream stt.STTStream

	sampleRate int
	encoding   string

	// State below is mutated exclusively inside run(); never touch it
	// from any other goroutine.
	audioTranscript   string
	interimTranscript string
	speaking          bool
	lastFinalAt       time.Time
	eouCancel         context.CancelFunc
}

// New creates a Recognition coordinator. Start must be called before audio
// is pushed.
func New(cfg Config) *Recognition {
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = DefaultMinDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.6
	}
	if cfg.BufferLimit <= 0 {
		cfg.BufferLimit = 100
	}
	return &Recognition{
		cfg:    cfg,
		done:   make(chan struct{}),
		frames: make(chan rtc.AudioFrame, cfg.BufferLimit),
		cmds:   make(chan func(), 64),
	}
}

// Start allocates the STT stream and begins the run loop. Idempotent: calls
// after the first are no-ops.
func (r *Recognition) Start(ctx context.Context, sampleRate int, encoding string) error {
	var startErr error
	r.startOnce.Do(func() {
		r.ctx, r.cancel = context.WithCancel(ctx)
		r.sampleRate = sampleRate
		r.encoding = encoding

		stream, err := r.cfg.STT.NewStream(r.ctx, stt.StreamConfig{
			SampleRate:  sampleRate,
			NumChannels: 1,
			Lang:        r.cfg.Language,
		})
		if err != nil {
			startErr = fmt.Errorf("opening stt stream: %w", err)
			return
		}
		r.sttStream = stream

		go r.run()
	})
	return startErr
}

// PushAudioFrame enqueues bytes for the STT stream. Non-blocking: if the
// bounded queue is full the frame is dropped and logged, per the
// "never blocks beyond the queue's backpressure bound" contract.
func (r *Recognition) PushAudioFrame(data []byte) {
	frame := rtc.AudioFrame{
		Data:              data,
		SampleRate:        r.sampleRate,
		SamplesPerChannel: len(data) / 2,
		NumChannels:       1,
	}
	select {
	case r.frames <- frame:
	default:
		slog.Warn("recognition audio queue full, dropping frame", "sample_rate", r.sampleRate)
	}
}

// HandleVADEvent is called by the connection handler after it runs the VAD
// frame processor on an incoming chunk. probability is informational and
// may be zero if the VAD provider doesn't expose one.
func (r *Recognition) HandleVADEvent(eventType vad.VADEventType, probability float64) {
	r.submit(func() {
		switch eventType {
		case vad.VADEventSpeechStart:
			r.speaking = true
			r.cancelEOU()
		case vad.VADEventSpeechEnd:
			r.speaking = false
			if r.audioTranscript != "" {
				r.runEOU()
			}
		}
	})
}

// ClearUserTurn zeroes the accumulated transcript state, e.g. after the
// client explicitly interrupts or resets.
func (r *Recognition) ClearUserTurn() {
	r.submit(func() {
		r.cancelEOU()
		r.audioTranscript = ""
		r.interimTranscript = ""
		r.lastFinalAt = time.Time{}
	})
}

// Stop drains the queue, cancels workers and closes the STT stream. Bounded
// by a short timeout before forced cancellation.
func (r *Recognition) Stop() {
	r.stopOnce.Do(func() {
		close(r.frames) // sentinel: run() exits its frame loop on close.
		if r.sttStream != nil {
			_ = r.sttStream.CloseSend()
		}

		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			slog.Warn("recognition stop timed out, forcing cancellation")
		}
		if r.cancel != nil {
			r.cancel()
		}
	})
}

func (r *Recognition) submit(fn func()) {
	select {
	case r.cmds <- fn:
	case <-r.ctx.Done():
	}
}

// run is the coordinator's single event-loop goroutine. All reads and
// writes of audioTranscript, interimTranscript, speaking, lastFinalAt and
// eouCancel happen here, serialized by this one goroutine.
func (r *Recognition) run() {
	defer close(r.done)

	var sttEvents <-chan stt.SpeechEvent
	if r.sttStream != nil {
		sttEvents = r.sttStream.Events()
	}

	framesOpen := true
	for {
		select {
		case <-r.ctx.Done():
			return

		case frame, ok := <-r.frames:
			if !ok {
				framesOpen = false
				r.frames = nil // disable this case permanently
				continue
			}
			if r.sttStream != nil {
				if err := r.sttStream.Push(frame); err != nil {
					r.handleError(err)
				}
			}

		case ev, ok := <-sttEvents:
			if !ok {
				sttEvents = nil
				if !framesOpen {
					return
				}
				continue
			}
			r.handleSTTEvent(ev)

		case fn := <-r.cmds:
			fn()
		}
	}
}

func (r *Recognition) handleSTTEvent(ev stt.SpeechEvent) {
	switch ev.Type {
	case stt.SpeechEventFinal:
		text := strings.TrimSpace(ev.Text)
		if text != "" {
			if r.audioTranscript == "" {
				r.audioTranscript = text
			} else {
				r.audioTranscript = r.audioTranscript + " " + text
			}
		}
		r.interimTranscript = ""
		r.lastFinalAt = time.Now()
		if r.cfg.OnSTT != nil {
			r.cfg.OnSTT(text, true)
		}
		r.runEOU()

	case stt.SpeechEventInterim:
		r.interimTranscript = ev.Text
		if r.cfg.OnSTT != nil {
			r.cfg.OnSTT(ev.Text, false)
		}

	case stt.SpeechEventError:
		r.handleError(ev.Error)
	}
}

func (r *Recognition) handleError(err error) {
	if err == nil {
		return
	}
	slog.Error("recognition stt stream error", "error", err)
	if r.cfg.OnError != nil {
		r.cfg.OnError(err)
	}
}

// cancelEOU cancels any in-flight EOU task. Must be called from run().
func (r *Recognition) cancelEOU() {
	if r.eouCancel != nil {
		r.eouCancel()
		r.eouCancel = nil
	}
}

// runEOU cancels any prior EOU task and spawns a fresh one. Must be called
// from run().
func (r *Recognition) runEOU() {
	r.cancelEOU()

	eouCtx, cancel := context.WithCancel(r.ctx)
	r.eouCancel = cancel

	var history []llm.Message
	if r.cfg.History != nil {
		history = r.cfg.History()
	}
	transcriptAtSpawn := r.audioTranscript

	go r.eouWorker(eouCtx, history, transcriptAtSpawn)
}

// eouWorker computes the endpointing delay, sleeps it off (cancellably),
// then hands control back to the run loop to commit or discard the turn.
func (r *Recognition) eouWorker(ctx context.Context, history []llm.Message, transcriptAtSpawn string) {
	delay := r.cfg.MinDelay

	if r.cfg.Detector != nil {
		chatCtx := turn.ChatContext{
			Messages: append(append([]llm.Message{}, history...), llm.Message{
				Role:    llm.RoleUser,
				Content: transcriptAtSpawn,
			}),
			Language: r.cfg.Language,
		}
		p, err := r.cfg.Detector.PredictEndOfTurn(ctx, chatCtx)
		if err != nil {
			slog.Warn("turn detector prediction failed, maximizing delay", "error", err)
			p = 0.0
		}
		if p >= r.cfg.Threshold {
			delay = r.cfg.MinDelay
		} else {
			delay = r.cfg.MaxDelay
		}
	}

	select {
	case <-ctx.Done():
		return // cancelled: superseded by a new final transcript or speech start.
	case <-time.After(delay):
	}

	r.submit(func() {
		if r.eouCancel != nil {
			r.eouCancel = nil
		}
		if r.audioTranscript == "" {
			return
		}
		transcript := r.audioTranscript
		r.audioTranscript = ""
		r.interimTranscript = ""
		r.lastFinalAt = time.Time{}
		if r.cfg.OnTurnEnd != nil {
			r.cfg.OnTurnEnd(r.ctx, transcript)
		}
	})
}
