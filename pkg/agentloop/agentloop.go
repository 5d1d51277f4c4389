// Package agentloop drives one streaming, tool-aware conversation turn: it
// feeds the session history to a StreamingLLM, forwards partial text to the
// caller as it arrives, executes any requested tool calls off the stream,
// and loops until the model produces a plain final answer.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/chriscow/voiceagent-server/pkg/ai/llm"
	"github.com/chriscow/voiceagent-server/pkg/eventbus"
	"github.com/chriscow/voiceagent-server/pkg/metrics"
	"github.com/chriscow/voiceagent-server/pkg/session"
	"github.com/chriscow/voiceagent-server/pkg/tools"
)

// ToolCallTimeout bounds a single tool invocation, per turn.
const ToolCallTimeout = 30 * time.Second

const toolResultReminder = "Tool results have been provided above. Convert them into a natural-language response for the user."

// EventKind discriminates the union type Event carries.
type EventKind string

const (
	EventPartial    EventKind = "partial"
	EventText       EventKind = "text"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventError      EventKind = "error"
)

// Event is one message the loop emits while driving a turn. Exactly one of
// the payload fields is set, matching Kind.
type Event struct {
	Kind EventKind

	Partial struct {
		Text    string
		IsFinal bool
	}
	Text struct {
		Text     string
		Metadata map[string]any
	}
	ToolCall struct {
		Name      string
		Arguments map[string]any
		ID        string
	}
	ToolResult struct {
		ToolName string
		ID       string
		Status   string // "completed" or "failed"
		Result   string
		Error    string
	}
	Error struct {
		Code      string
		Message   string
		Retriable bool
	}
}

// Config wires a Loop to the model, tool registry and event bus it reports
// tool-call lifecycle events to.
type Config struct {
	LLM           llm.StreamingLLM
	Tools         *tools.Registry
	Bus           *eventbus.Bus
	Metrics       *metrics.Server // nil disables process-wide counters
	Instructions  string
	Temperature   float32
	MaxTokens     int
	ToolCallLimit int // 0 means unlimited
}

// Loop drives turns for a single configured agent (model + toolset).
type Loop struct {
	cfg Config
}

// New creates a Loop from cfg.
func New(cfg Config) *Loop {
	return &Loop{cfg: cfg}
}

// ProcessText drives one turn for text (typed or transcribed) and returns a
// channel of Events. The channel closes after emitting exactly one
// EventText, which is also the final assistant message appended to sess.
func (l *Loop) ProcessText(ctx context.Context, sess *session.Session, text string, metadata map[string]any) <-chan Event {
	out := make(chan Event, 16)

	sess.AppendUser(text)

	go func() {
		defer close(out)
		l.runTurn(ctx, sess, metadata, out)
	}()

	return out
}

func (l *Loop) runTurn(ctx context.Context, sess *session.Session, metadata map[string]any, out chan<- Event) {
	turnStart := time.Now()
	history := sess.History()
	hasSystem := false
	hasToolMessages := false
	for _, m := range history {
		if m.Role == session.RoleSystem {
			hasSystem = true
		}
		if m.Role == session.RoleTool {
			hasToolMessages = true
		}
	}

	instructions := l.cfg.Instructions
	if hasToolMessages {
		instructions = instructions + "\n\n" + toolResultReminder
	}

	functions := toolFunctions(l.cfg.Tools)

	calls := 0
	for {
		if l.cfg.ToolCallLimit > 0 && calls >= l.cfg.ToolCallLimit {
			l.emitFallbackText(sess, out, "", turnStart)
			return
		}

		messages := toLLMMessages(history)
		if !hasSystem {
			messages = append([]llm.Message{{Role: llm.RoleSystem, Content: instructions}}, messages...)
		}

		text, toolCalls, streamErr := l.streamTurn(ctx, messages, functions, out)
		if streamErr != nil {
			l.emitError(out, streamErr)
			l.emitFallbackText(sess, out, text, turnStart)
			return
		}

		if len(toolCalls) == 0 {
			if err := sess.AppendAssistantText(text); err != nil {
				slog.Error("agentloop: failed to append final assistant message", "error", err)
			}
			l.publish(sess.ID, eventbus.AgentResponseComplete, map[string]any{"text": text})
			l.finishTurn(sess, turnStart)
			out <- textEvent(text, metadata)
			return
		}

		sessionCalls := make([]session.ToolCall, len(toolCalls))
		for i, tc := range toolCalls {
			sessionCalls[i] = session.ToolCall{ID: tc.ID, Name: tc.Name, ArgumentsJSON: tc.Arguments}
		}
		if err := sess.AppendAssistantWithToolCalls(text, sessionCalls); err != nil {
			slog.Error("agentloop: failed to append assistant tool-call message", "error", err)
		}

		for _, tc := range toolCalls {
			l.executeToolCall(ctx, sess, tc, out)
			calls++
		}

		history = sess.History()
		hasToolMessages = true
	}
}

// streamTurn streams one model turn: it forwards partial text as Events and
// accumulates tool-call deltas by index. Returns the accumulated text and
// any tool calls requested.
func (l *Loop) streamTurn(ctx context.Context, messages []llm.Message, functions []llm.FunctionDefinition, out chan<- Event) (string, []llm.ToolCall, error) {
	stream, err := l.cfg.LLM.ChatStream(ctx, llm.ChatRequest{
		Messages:    messages,
		MaxTokens:   l.cfg.MaxTokens,
		Temperature: l.cfg.Temperature,
		Functions:   functions,
	})
	if err != nil {
		return "", nil, fmt.Errorf("starting chat stream: %w", err)
	}
	defer stream.Close()

	var text string
	pending := map[int]*llm.ToolCall{}
	var order []int

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return text, nil, fmt.Errorf("chat stream: %w", err)
		}

		if chunk.Delta.Content != "" {
			text += chunk.Delta.Content
			out <- partialEvent(chunk.Delta.Content)
		}

		for _, delta := range chunk.Delta.ToolCalls {
			tc, seen := pending[delta.Index]
			if !seen {
				tc = &llm.ToolCall{Index: delta.Index}
				pending[delta.Index] = tc
				order = append(order, delta.Index)
			}
			if delta.ID != "" {
				tc.ID = delta.ID
			}
			if delta.Name != "" {
				tc.Name += delta.Name
			}
			tc.Arguments += delta.Arguments
		}
	}

	calls := make([]llm.ToolCall, 0, len(order))
	for _, idx := range order {
		calls = append(calls, *pending[idx])
	}
	return text, calls, nil
}

func (l *Loop) executeToolCall(ctx context.Context, sess *session.Session, tc llm.ToolCall, out chan<- Event) {
	args, err := parseArguments(tc.Arguments)
	if err != nil {
		slog.Warn("agentloop: tool call arguments failed to parse, falling back to empty args", "tool", tc.Name, "error", err)
		args = map[string]any{}
	}

	out <- toolCallEvent(tc.Name, args, tc.ID)
	l.publish(sess.ID, eventbus.ToolCallStart, map[string]any{"tool_name": tc.Name, "tool_call_id": tc.ID})

	tool, ok := l.cfg.Tools.Lookup(tc.Name)
	if !ok {
		l.recordToolFailure(sess, out, tc, fmt.Sprintf("unknown tool %q", tc.Name))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, ToolCallTimeout)
	defer cancel()

	resultCh := make(chan struct {
		val any
		err error
	}, 1)
	go func() {
		val, err := tool.Invoke(callCtx, args)
		resultCh <- struct {
			val any
			err error
		}{val, err}
	}()

	select {
	case <-callCtx.Done():
		l.recordToolFailure(sess, out, tc, "tool call timed out")
		l.publish(sess.ID, eventbus.ToolCallError, map[string]any{"tool_name": tc.Name, "tool_call_id": tc.ID, "error": "timeout"})
	case r := <-resultCh:
		if r.err != nil {
			l.recordToolFailure(sess, out, tc, r.err.Error())
			l.publish(sess.ID, eventbus.ToolCallError, map[string]any{"tool_name": tc.Name, "tool_call_id": tc.ID, "error": r.err.Error()})
			return
		}
		normalized := normalizeResult(r.val)
		if err := sess.AppendToolResult(tc.Name, normalized); err != nil {
			slog.Error("agentloop: failed to append tool result", "error", err)
		}
		sess.Metrics.IncToolCalls()
		if l.cfg.Metrics != nil {
			l.cfg.Metrics.ToolCallExecuted()
		}
		out <- toolResultEvent(tc.Name, tc.ID, "completed", normalized, "")
		l.publish(sess.ID, eventbus.ToolCallComplete, map[string]any{"tool_name": tc.Name, "tool_call_id": tc.ID})
	}
}

func (l *Loop) recordToolFailure(sess *session.Session, out chan<- Event, tc llm.ToolCall, reason string) {
	if err := sess.AppendToolResult(tc.Name, "error: "+reason); err != nil {
		slog.Error("agentloop: failed to append tool failure result", "error", err)
	}
	out <- toolResultEvent(tc.Name, tc.ID, "failed", "", reason)
}

func (l *Loop) emitFallbackText(sess *session.Session, out chan<- Event, text string, turnStart time.Time) {
	if err := sess.AppendAssistantText(text); err != nil {
		slog.Error("agentloop: failed to append fallback assistant message", "error", err)
	}
	l.finishTurn(sess, turnStart)
	out <- textEvent(text, nil)
}

// finishTurn records the agent-response counters for one completed turn and
// broadcasts the updated session snapshot on the bus.
func (l *Loop) finishTurn(sess *session.Session, turnStart time.Time) {
	sess.Metrics.IncAgentResponses()
	sess.Metrics.ObserveAgentLatency(time.Since(turnStart))
	l.publish(sess.ID, eventbus.MetricsUpdated, map[string]any{"snapshot": sess.Metrics.Snapshot()})
}

func (l *Loop) emitError(out chan<- Event, err error) {
	out <- Event{Kind: EventError, Error: struct {
		Code      string
		Message   string
		Retriable bool
	}{Code: "agent", Message: err.Error(), Retriable: true}}
}

func (l *Loop) publish(sessionID, eventType string, data map[string]any) {
	if l.cfg.Bus == nil {
		return
	}
	l.cfg.Bus.Publish(eventbus.Event{Type: eventType, SessionID: sessionID, Data: data})
}

func partialEvent(text string) Event {
	var e Event
	e.Kind = EventPartial
	e.Partial.Text = text
	e.Partial.IsFinal = false
	return e
}

func textEvent(text string, metadata map[string]any) Event {
	var e Event
	e.Kind = EventText
	e.Text.Text = text
	e.Text.Metadata = metadata
	return e
}

func toolCallEvent(name string, args map[string]any, id string) Event {
	var e Event
	e.Kind = EventToolCall
	e.ToolCall.Name = name
	e.ToolCall.Arguments = args
	e.ToolCall.ID = id
	return e
}

func toolResultEvent(name, id, status, result, errMsg string) Event {
	var e Event
	e.Kind = EventToolResult
	e.ToolResult.ToolName = name
	e.ToolResult.ID = id
	e.ToolResult.Status = status
	e.ToolResult.Result = result
	e.ToolResult.Error = errMsg
	return e
}

func toLLMMessages(history []session.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case session.RoleTool:
			name := ""
			content := m.Content
			if len(m.ToolCalls) > 0 {
				name = m.ToolCalls[0].ToolName
				content = m.ToolCalls[0].Content
			}
			out = append(out, llm.Message{Role: llm.RoleFunction, Name: name, Content: content})
		default:
			out = append(out, llm.Message{Role: llm.MessageRole(m.Role), Content: m.Content})
		}
	}
	return out
}

func toolFunctions(reg *tools.Registry) []llm.FunctionDefinition {
	if reg == nil {
		return nil
	}
	list := reg.List()
	out := make([]llm.FunctionDefinition, len(list))
	for i, t := range list {
		out[i] = llm.FunctionDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
	}
	return out
}

// parseArguments decodes a tool call's accumulated JSON argument string. An
// empty string is valid (a tool with no parameters).
func parseArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// normalizeResult stringifies a tool's return value: JSON strings are
// re-serialized to canonical form, structured values are marshaled, and
// everything else is stringified directly.
func normalizeResult(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		var probe any
		if json.Unmarshal([]byte(val), &probe) == nil {
			if canon, err := json.Marshal(probe); err == nil {
				return string(canon)
			}
		}
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
