package watcher

import (
	"encoding/json"

	"agentpunk/internal/protocol"
)

// HubBridge adapts the watcher into a lifecycle-event observer: sessions
// start being watched when created and stop when killed, regardless of
// whether the kill came over the transport or from the process exiting.
type HubBridge struct {
	watcher *Watcher
}

func NewHubBridge(w *Watcher) *HubBridge {
	return &HubBridge{watcher: w}
}

func (b *HubBridge) ObserverID() string { return "workspace-watcher" }

func (b *HubBridge) Send(msg *protocol.Message) error {
	switch msg.Type {
	case protocol.TypeSessionCreated:
		var p protocol.SessionCreatedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		return b.watcher.Watch(p.Session.ID, p.Session.Path)

	case protocol.TypeSessionKilled:
		var p protocol.SessionKilledPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		b.watcher.Unwatch(p.SessionID)
	}
	return nil
}
