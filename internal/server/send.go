package server

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chriscow/voiceagent-server/internal/domainerr"
	"github.com/chriscow/voiceagent-server/pkg/protocol"
)

func decodeEnvelope(data []byte) (protocol.Envelope, error) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return protocol.Envelope{}, err
	}
	return env, nil
}

// sendEnvelope encodes and writes a server_* message tagged with sessionID.
// Failures are logged; the write lock also guards lastSend, which the
// keepalive loop reads.
func (c *conn) sendEnvelope(sessionID, msgType string, payload any) {
	data, err := protocol.Encode(msgType, sessionID, payload)
	if err != nil {
		slog.Error("encoding outbound message", "type", msgType, "error", err)
		return
	}
	c.sendRaw(data)
}

func (c *conn) sendRaw(data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Warn("write failed, closing connection", "error", err)
		c.cancel()
		return
	}
	c.lastSend = time.Now()
}

// sendError reports a domain error to the client. sessionID may be empty
// (e.g. before any session has been resolved, such as a malformed envelope).
func (c *conn) sendError(sessionID string, err *domainerr.Error) {
	c.sendEnvelope(sessionID, protocol.TypeServerError, protocol.ServerError{
		ErrorCode: err.ErrorCode(),
		Message:   err.Error(),
		Retriable: err.Retriable,
	})
	c.s.metrics.ErrorOccurred()
	if st, ok := c.lookupSession(sessionID); ok {
		st.sess.Metrics.IncErrors()
	}
	c.s.publish("error", sessionID, map[string]any{"error_code": err.ErrorCode(), "message": err.Error()})
}

// lookupSession returns the sessionState already resolved for id on this
// connection, without creating one. Used for error accounting where
// allocating a session purely to record a failure would be wrong.
func (c *conn) lookupSession(id string) (*sessionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.sessions[id]
	return st, ok
}
