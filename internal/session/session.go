package session

import (
	"time"

	"agentpunk/internal/detect"
	"agentpunk/internal/protocol"
	"agentpunk/internal/snapshot"
)

// LaunchKind selects the shell invocation line for a new session. Immutable
// after creation.
type LaunchKind string

const (
	LaunchAgent        LaunchKind = "fresh-agent"
	LaunchResumedAgent LaunchKind = "resumed-agent"
	LaunchShell        LaunchKind = "plain-shell"
)

// Descriptor is the display metadata of a session. Label is mutable via
// rename; everything else is set at creation.
type Descriptor struct {
	Name  string
	Path  string
	Icon  string
	Color string
	Label string
}

// Session holds metadata and inferred lifecycle state for a single
// pseudo-terminal-backed process.
type Session struct {
	ID         string
	Descriptor Descriptor
	LaunchKind LaunchKind
	Dangerous  bool
	Command    string
	State      detect.State
	CreatedAt  time.Time
}

// Info is the client-facing metadata view.
func (s Session) Info() protocol.SessionInfo {
	return protocol.SessionInfo{
		ID:         s.ID,
		Name:       s.Descriptor.Name,
		Path:       s.Descriptor.Path,
		Icon:       s.Descriptor.Icon,
		Color:      s.Descriptor.Color,
		Label:      s.Descriptor.Label,
		Command:    s.Command,
		LaunchKind: string(s.LaunchKind),
		Dangerous:  s.Dangerous,
		State:      string(s.State),
		CreatedAt:  s.CreatedAt.Format(time.RFC3339Nano),
	}
}

// Record is the persisted metadata view.
func (s Session) Record() snapshot.Record {
	return snapshot.Record{
		ID:         s.ID,
		Name:       s.Descriptor.Name,
		Path:       s.Descriptor.Path,
		Icon:       s.Descriptor.Icon,
		Color:      s.Descriptor.Color,
		Label:      s.Descriptor.Label,
		Command:    s.Command,
		LaunchKind: string(s.LaunchKind),
		Dangerous:  s.Dangerous,
		CreatedAt:  s.CreatedAt,
		State:      string(s.State),
	}
}
