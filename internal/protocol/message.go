package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeSessionCreated      = "session_created"
	TypeSessionKilled       = "session_killed"
	TypeSessionStateChanged = "session_state_changed"
	TypeTerminalOutput      = "terminal_output"
	TypeSessionBuffer       = "session_buffer"
	TypeWorkspaceActivity   = "workspace_activity"
	TypeError               = "error"
)

// Client → Server message types.
const (
	TypeCreateSession = "create_session"
	TypeKillSession   = "kill_session"
	TypeWriteInput    = "write_input"
	TypeResize        = "resize"
	TypeRenameSession = "rename_session"
	TypeSubscribe     = "subscribe"
	TypeUnsubscribe   = "unsubscribe"
)

// Error codes.
const (
	ErrSessionNotFound = "SESSION_NOT_FOUND"
	ErrInvalidMessage  = "INVALID_MESSAGE"
	ErrMaxSessions     = "MAX_SESSIONS"
	ErrSpawnFailed     = "SPAWN_FAILED"
)

// SessionInfo is the metadata view of a session sent to clients.
type SessionInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	Icon       string `json:"icon"`
	Color      string `json:"color"`
	Label      string `json:"label"`
	Command    string `json:"command"`
	LaunchKind string `json:"launchKind"`
	Dangerous  bool   `json:"dangerous"`
	State      string `json:"state"`
	CreatedAt  string `json:"createdAt"`
}

// Server → Client payloads.

type SessionCreatedPayload struct {
	Session SessionInfo `json:"session"`
}

type SessionKilledPayload struct {
	SessionID string `json:"sessionId"`
}

type SessionStateChangedPayload struct {
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
}

type TerminalOutputPayload struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

type SessionBufferPayload struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

type WorkspaceActivityPayload struct {
	SessionID string `json:"sessionId"`
	FileCount int    `json:"fileCount"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type CreateSessionPayload struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Icon       string `json:"icon"`
	Color      string `json:"color"`
	Label      string `json:"label"`
	LaunchKind string `json:"launchKind"`
	Dangerous  bool   `json:"dangerous"`
}

type WriteInputPayload struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

type ResizePayload struct {
	SessionID string `json:"sessionId"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

type RenameSessionPayload struct {
	SessionID string `json:"sessionId"`
	Label     string `json:"label"`
}

// SessionIDPayload covers kill, subscribe, and unsubscribe requests.
type SessionIDPayload struct {
	SessionID string `json:"sessionId"`
}
