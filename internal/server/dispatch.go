package server

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/chriscow/voiceagent-server/internal/domainerr"
	"github.com/chriscow/voiceagent-server/pkg/agentloop"
	"github.com/chriscow/voiceagent-server/pkg/ai/llm"
	"github.com/chriscow/voiceagent-server/pkg/protocol"
	"github.com/chriscow/voiceagent-server/pkg/recognition"
	"github.com/chriscow/voiceagent-server/pkg/rtc"
	"github.com/chriscow/voiceagent-server/pkg/session"
)

// dispatch routes one inbound envelope to the session it names. st has
// already been resolved (and created, if new) by the caller from
// env.SessionID.
func (c *conn) dispatch(st *sessionState, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeClientText:
		msg, err := protocol.DecodeClientText(env.Data)
		if err != nil {
			c.sendError(st.sess.ID, domainerr.New(domainerr.Validation, err))
			return
		}
		go c.runAgentTurn(st, msg.Text, msg.Metadata)

	case protocol.TypeClientAudioStart:
		msg, err := protocol.DecodeClientAudioStart(env.Data)
		if err != nil {
			c.sendError(st.sess.ID, domainerr.New(domainerr.Validation, err))
			return
		}
		c.startAudio(st, msg.SampleRate, msg.Encoding)

	case protocol.TypeClientAudioChunk:
		_, pcm, err := protocol.DecodeClientAudioChunk(env.Data)
		if err != nil {
			c.sendError(st.sess.ID, domainerr.New(domainerr.Validation, err))
			return
		}
		c.pushAudio(st, pcm)

	case protocol.TypeClientAudioEnd:
		_, pcm, err := protocol.DecodeClientAudioEnd(env.Data)
		if err != nil {
			c.sendError(st.sess.ID, domainerr.New(domainerr.Validation, err))
			return
		}
		if len(pcm) > 0 {
			c.pushAudio(st, pcm)
		}
		c.stopAudio(st)

	default:
		c.sendError(st.sess.ID, domainerr.New(domainerr.Validation, errUnknownType(env.Type)))
	}
}

type unknownTypeErr string

func (e unknownTypeErr) Error() string { return "unknown message type " + string(e) }

func errUnknownType(t string) error { return unknownTypeErr(t) }

// startAudio opens a fresh Recognition coordinator (and VAD instance, if
// configured) for one audio stream on st's session.
func (c *conn) startAudio(st *sessionState, sampleRate int, encoding string) {
	c.mu.Lock()
	if st.recog != nil {
		c.mu.Unlock()
		return // idempotent: a stream is already active.
	}
	c.mu.Unlock()

	recog := recognition.New(recognition.Config{
		STT:       c.s.sttProvider,
		Detector:  c.s.detector,
		Threshold: c.s.cfg.TurnDetectorThreshold,
		MinDelay:  msDuration(c.s.cfg.EndpointingMinDelayMs),
		MaxDelay:  msDuration(c.s.cfg.EndpointingMaxDelayMs),
		History:   func() []llm.Message { return sessionHistoryToLLM(st.sess.History()) },
		OnSTT: func(text string, isFinal bool) {
			c.sendEnvelope(st.sess.ID, protocol.TypeServerSTT, protocol.ServerSTT{Text: text, IsFinal: isFinal})
			if isFinal {
				st.sess.Metrics.IncTranscriptions()
				c.s.publish("stt_final", st.sess.ID, map[string]any{"text": text})
			}
		},
		OnTurnEnd: func(ctx context.Context, transcript string) {
			go c.runAgentTurn(st, transcript, nil)
		},
		OnError: func(err error) {
			c.sendError(st.sess.ID, domainerr.New(domainerr.STT, err))
			c.stopAudio(st)
		},
		BufferLimit: c.s.cfg.AudioBufferLimit,
	})

	if err := recog.Start(c.ctx, sampleRate, encoding); err != nil {
		c.sendError(st.sess.ID, domainerr.New(domainerr.AudioProcessing, err))
		return
	}

	c.mu.Lock()
	st.recog = recog
	c.mu.Unlock()

	st.sess.AudioActive = true
	st.sess.AudioSampleRate = sampleRate
	st.sess.AudioEncoding = encoding

	if c.s.newVAD != nil {
		vadInst, err := c.s.newVAD()
		if err != nil {
			slog.Warn("vad unavailable, endpointing relies on STT finals only", "error", err)
			return
		}
		vadIn := make(chan rtc.AudioFrame, c.s.cfg.AudioBufferLimit)
		vadCtx, cancel := context.WithCancel(c.ctx)

		c.mu.Lock()
		st.vadInst = vadInst
		st.vadIn = vadIn
		st.vadStop = cancel
		c.mu.Unlock()

		events, err := vadInst.Detect(vadCtx, vadIn)
		if err != nil {
			slog.Warn("vad detect failed to start", "error", err)
			return
		}
		go func() {
			for ev := range events {
				recog.HandleVADEvent(ev.Type, 0)
			}
		}()
	}
}

func (c *conn) pushAudio(st *sessionState, pcm []byte) {
	c.mu.Lock()
	recog := st.recog
	vadIn := st.vadIn
	c.mu.Unlock()

	if recog == nil {
		c.sendError(st.sess.ID, domainerr.New(domainerr.Validation, errNoActiveStream))
		return
	}
	recog.PushAudioFrame(pcm)
	st.sess.Metrics.IncAudioChunks()
	c.s.metrics.MessageReceived()

	if vadIn != nil {
		frame := rtc.AudioFrame{Data: pcm, SampleRate: st.sess.AudioSampleRate, SamplesPerChannel: len(pcm) / 2, NumChannels: 1}
		select {
		case vadIn <- frame:
		default:
			slog.Warn("vad input queue full, dropping frame")
		}
	}
}

var errNoActiveStream = unknownTypeErr("no active audio stream")

func (c *conn) stopAudio(st *sessionState) {
	c.mu.Lock()
	recog := st.recog
	vadStop := st.vadStop
	vadIn := st.vadIn
	st.recog = nil
	st.vadStop = nil
	st.vadIn = nil
	c.mu.Unlock()

	if recog != nil {
		recog.Stop()
	}
	if vadStop != nil {
		vadStop()
	}
	if vadIn != nil {
		close(vadIn)
	}
	st.sess.AudioActive = false
}

// runAgentTurn drives one agent loop turn and forwards its events to the
// client as the corresponding protocol messages.
func (c *conn) runAgentTurn(st *sessionState, text string, metadata map[string]any) {
	if strings.TrimSpace(text) == "" {
		return
	}
	c.s.publish("agent_response_start", st.sess.ID, nil)

	for ev := range c.s.agentLoop.ProcessText(c.ctx, st.sess, text, metadata) {
		switch ev.Kind {
		case agentloop.EventPartial:
			c.sendEnvelope(st.sess.ID, protocol.TypeServerPartial, protocol.ServerPartial{Text: ev.Partial.Text, IsFinal: false})
		case agentloop.EventText:
			c.sendEnvelope(st.sess.ID, protocol.TypeServerText, protocol.ServerText{Text: ev.Text.Text, Metadata: ev.Text.Metadata})
		case agentloop.EventToolCall:
			c.sendEnvelope(st.sess.ID, protocol.TypeServerToolCall, protocol.ServerToolCall{
				ToolName: ev.ToolCall.Name, Arguments: ev.ToolCall.Arguments, ToolCallID: ev.ToolCall.ID, Status: "calling",
			})
		case agentloop.EventToolResult:
			c.sendEnvelope(st.sess.ID, protocol.TypeServerToolResult, protocol.ServerToolResult{
				ToolName: ev.ToolResult.ToolName, ToolCallID: ev.ToolResult.ID,
				Status: ev.ToolResult.Status, Result: ev.ToolResult.Result, Error: ev.ToolResult.Error,
			})
		case agentloop.EventError:
			c.sendError(st.sess.ID, domainerr.New(domainerr.Agent, unknownTypeErr(ev.Error.Message)).WithRetriable(ev.Error.Retriable))
		}
	}

	c.s.publish("agent_response_complete", st.sess.ID, nil)
}

func sessionHistoryToLLM(history []session.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		if m.Role == session.RoleTool {
			continue // turn detection only needs the conversational text.
		}
		out = append(out, llm.Message{Role: llm.MessageRole(m.Role), Content: m.Content})
	}
	return out
}

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
