package hub

import (
	"sync"

	"go.uber.org/zap"

	"agentpunk/internal/protocol"
)

// Observer is an opaque delivery handle owned by the transport layer. The
// hub never closes or otherwise manages an observer's lifetime; the
// transport unregisters it when the underlying connection goes away.
type Observer interface {
	ObserverID() string
	Send(msg *protocol.Message) error
}

// Hub fans session output out to per-session subscribers and lifecycle
// events out to every registered observer. Delivery is fire-and-forget:
// a failing observer is logged and skipped, never allowed to block the
// publisher or starve its peers.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]Observer
	subs      map[string]map[string]Observer // sessionID → observerID → observer
	log       *zap.Logger
}

func New(log *zap.Logger) *Hub {
	return &Hub{
		observers: make(map[string]Observer),
		subs:      make(map[string]map[string]Observer),
		log:       log,
	}
}

// Register adds an observer to the global set. Lifecycle events reach every
// registered observer whether or not it subscribes to any session's output.
func (h *Hub) Register(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers[o.ObserverID()] = o
}

// Unregister removes an observer and all of its session subscriptions.
func (h *Hub) Unregister(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.observers, o.ObserverID())
	for sessionID, subscribers := range h.subs {
		delete(subscribers, o.ObserverID())
		if len(subscribers) == 0 {
			delete(h.subs, sessionID)
		}
	}
}

// Subscribe adds an observer to a session's output subscriber set. The
// observer must already be registered.
func (h *Hub) Subscribe(sessionID string, o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.observers[o.ObserverID()]; !ok {
		return
	}
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[string]Observer)
	}
	h.subs[sessionID][o.ObserverID()] = o
}

// Unsubscribe removes an observer from one session's subscriber set.
func (h *Hub) Unsubscribe(sessionID string, o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subscribers, ok := h.subs[sessionID]; ok {
		delete(subscribers, o.ObserverID())
		if len(subscribers) == 0 {
			delete(h.subs, sessionID)
		}
	}
}

// DropSession discards a terminated session's subscriber set.
func (h *Hub) DropSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sessionID)
}

// PublishOutput delivers an output chunk to the session's subscribers only.
func (h *Hub) PublishOutput(sessionID string, data []byte) {
	msg, err := protocol.NewMessage(protocol.TypeTerminalOutput, protocol.TerminalOutputPayload{
		SessionID: sessionID,
		Data:      string(data),
	})
	if err != nil {
		h.log.Warn("encode output message", zap.Error(err))
		return
	}

	h.mu.RLock()
	subscribers := make([]Observer, 0, len(h.subs[sessionID]))
	for _, o := range h.subs[sessionID] {
		subscribers = append(subscribers, o)
	}
	h.mu.RUnlock()

	for _, o := range subscribers {
		h.deliver(o, msg)
	}
}

// PublishEvent delivers a lifecycle event to every registered observer.
func (h *Hub) PublishEvent(msg *protocol.Message) {
	h.mu.RLock()
	observers := make([]Observer, 0, len(h.observers))
	for _, o := range h.observers {
		observers = append(observers, o)
	}
	h.mu.RUnlock()

	for _, o := range observers {
		h.deliver(o, msg)
	}
}

func (h *Hub) deliver(o Observer, msg *protocol.Message) {
	if err := o.Send(msg); err != nil {
		h.log.Warn("observer delivery failed",
			zap.String("observer_id", o.ObserverID()),
			zap.String("type", msg.Type),
			zap.Error(err))
	}
}
