// Package session implements the per-connection conversation state: the
// Session/Message/ToolCall data model and a keyed Store with idle expiry.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/chriscow/voiceagent-server/pkg/eventbus"
	"github.com/chriscow/voiceagent-server/pkg/metrics"
	"github.com/google/uuid"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tagged record: either a model-produced call request
// ({ID, Name, ArgumentsJSON}) or a recorded result ({ToolName, Content}).
type ToolCall struct {
	ID            string
	Name          string
	ArgumentsJSON string

	ToolName string
	Content  string
}

// Message is one turn in the conversation, append-only from the outside.
type Message struct {
	Role      Role
	Content   string
	ToolCalls []ToolCall
	CreatedAt time.Time
}

// ErrCausalOrder is returned when a mutation would violate the causal-order
// invariant: an assistant message with k tool calls must be followed by
// exactly k tool-result messages, in order, before the next assistant
// message.
var ErrCausalOrder = errors.New("session: causal order violation")

// Session is the per-conversation state owned by the Store.
type Session struct {
	ID               string
	AppID            string
	AudioActive      bool
	AudioSampleRate  int
	AudioEncoding    string
	CreatedAt        time.Time
	LastActivity     time.Time
	Metrics          *metrics.SessionMetrics

	mu           sync.Mutex
	conversation []Message
	pendingCalls int // tool-result messages still owed before the next assistant turn
}

// New creates a session with a fresh id.
func New(appID string) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		AppID:        appID,
		CreatedAt:    now,
		LastActivity: now,
		Metrics:      metrics.NewSessionMetrics(),
	}
}

// Touch refreshes LastActivity; callers should call this on any inbound
// message for the session.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = time.Now()
}

// Idle reports whether the session has been inactive for at least d.
func (s *Session) Idle(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.LastActivity) >= d
}

// History returns a snapshot of the conversation so far.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.conversation))
	copy(out, s.conversation)
	return out
}

// AppendUser appends a plain user message.
func (s *Session) AppendUser(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation = append(s.conversation, Message{Role: RoleUser, Content: content, CreatedAt: time.Now()})
}

// AppendSystem appends the system instructions message. Callers are
// responsible for only doing this once per session.
func (s *Session) AppendSystem(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation = append(s.conversation, Message{Role: RoleSystem, Content: content, CreatedAt: time.Now()})
}

// AppendAssistantText appends a plain final assistant message. Fails with
// ErrCausalOrder if tool-result messages are still owed from a prior
// assistant turn.
func (s *Session) AppendAssistantText(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingCalls > 0 {
		return ErrCausalOrder
	}
	s.conversation = append(s.conversation, Message{Role: RoleAssistant, Content: content, CreatedAt: time.Now()})
	return nil
}

// AppendAssistantWithToolCalls appends an assistant message carrying one or
// more tool call requests, arming the causal-order check for the k
// tool-result messages that must follow before the next assistant message.
func (s *Session) AppendAssistantWithToolCalls(content string, calls []ToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingCalls > 0 {
		return ErrCausalOrder
	}
	if len(calls) == 0 {
		return errors.New("session: AppendAssistantWithToolCalls requires at least one tool call")
	}

	s.conversation = append(s.conversation, Message{Role: RoleAssistant, Content: content, ToolCalls: calls, CreatedAt: time.Now()})
	s.pendingCalls = len(calls)
	return nil
}

// AppendToolResult appends one tool-result message. Fails with
// ErrCausalOrder if no tool call is currently owed.
func (s *Session) AppendToolResult(toolName, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingCalls == 0 {
		return ErrCausalOrder
	}

	s.conversation = append(s.conversation, Message{
		Role:      RoleTool,
		Content:   content,
		ToolCalls: []ToolCall{{ToolName: toolName, Content: content}},
		CreatedAt: time.Now(),
	})
	s.pendingCalls--
	return nil
}

// Store maps session id to Session, with idempotent creation, O(1) lookup,
// and a background idle sweep.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	bus      *eventbus.Bus
}

// NewStore creates an empty session store. bus may be nil, in which case
// expiry events are not published.
func NewStore(bus *eventbus.Bus) *Store {
	return &Store{sessions: make(map[string]*Session), bus: bus}
}

// GetOrCreate returns the existing session for id, or creates one if absent.
// Creation is idempotent: concurrent calls for the same new id never create
// two sessions.
func (s *Store) GetOrCreate(id, appID string) *Session {
	s.mu.RLock()
	if existing, ok := s.sessions[id]; ok {
		s.mu.RUnlock()
		return existing
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[id]; ok {
		return existing
	}

	sess := New(appID)
	sess.ID = id
	s.sessions[id] = sess

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type:      eventbus.SessionCreated,
			SessionID: id,
			Data:      map[string]any{"app_id": appID},
		})
	}

	return sess
}

// Get looks up a session by id.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// List returns all current sessions.
func (s *Store) List() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Remove deletes a session from the store and publishes SessionDestroyed.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if existed && s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.SessionDestroyed, SessionID: id})
	}
}

// SweepIdle removes and publishes SessionDestroyed for every session whose
// last activity is at least maxIdle in the past. Intended to run
// periodically from a background goroutine.
func (s *Store) SweepIdle(maxIdle time.Duration) {
	s.mu.RLock()
	var expired []string
	for id, sess := range s.sessions {
		if sess.Idle(maxIdle) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		s.Remove(id)
	}
}

// RunIdleSweep runs SweepIdle on interval until ctx-like stop channel closes.
// Callers typically launch this with `go store.RunIdleSweep(stop, maxIdle, interval)`.
func (s *Store) RunIdleSweep(stop <-chan struct{}, maxIdle, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.SweepIdle(maxIdle)
		}
	}
}
