package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"agentpunk/internal/hub"
	"agentpunk/internal/protocol"
	"agentpunk/internal/session"
	"agentpunk/internal/snapshot"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second

	clientSendBufCap = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow localhost origins for dev.
	},
}

// Server terminates WebSocket connections and REST requests, translating
// them into session manager calls and hub registrations. Clients are hub
// observers; all event routing happens in the hub.
type Server struct {
	manager   *session.Manager
	hub       *hub.Hub
	recovered []snapshot.Record
	staticDir string
	log       *zap.Logger
}

// client is one WebSocket connection. It implements hub.Observer: delivery
// is a non-blocking push into the send buffer, and a full buffer counts as
// a delivery failure rather than blocking the publisher.
type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	server *Server
}

func (c *client) ObserverID() string { return c.id }

func (c *client) Send(msg *protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	select {
	case <-c.done:
		return errors.New("connection closed")
	case c.send <- data:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// New creates a realtime server.
func New(manager *session.Manager, h *hub.Hub, recovered []snapshot.Record, staticDir string, log *zap.Logger) *Server {
	return &Server{
		manager:   manager,
		hub:       h,
		recovered: recovered,
		staticDir: staticDir,
		log:       log,
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API endpoints.
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/recoverable", s.handleRecoverable)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /sessions/{id}/input", s.handleWriteInput)
	mux.HandleFunc("POST /sessions/{id}/resize", s.handleResize)
	mux.HandleFunc("PATCH /sessions/{id}", s.handleRenameSession)

	// Static file serving.
	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection and registers the client as
// a hub observer.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, clientSendBufCap),
		done:   make(chan struct{}),
		server: s,
	}

	s.hub.Register(c)

	// Catch the new client up on current sessions.
	s.sendSessionList(c)

	go c.writePump()
	go c.readPump()
}

// sendSessionList replays the session registry to a newly connected client.
func (s *Server) sendSessionList(c *client) {
	for _, sess := range s.manager.List() {
		msg, err := protocol.NewMessage(protocol.TypeSessionCreated, protocol.SessionCreatedPayload{
			Session: sess.Info(),
		})
		if err != nil {
			continue
		}
		if err := c.Send(msg); err != nil {
			return
		}
	}
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeClient drops a disconnected client from the hub.
func (s *Server) removeClient(c *client) {
	s.hub.Unregister(c)
	close(c.done)
}

// handleMessage processes a validated client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeCreateSession:
		s.handleWSCreate(c, msg)
	case protocol.TypeKillSession:
		s.handleWSKill(c, msg)
	case protocol.TypeWriteInput:
		s.handleWSInput(msg)
	case protocol.TypeResize:
		s.handleWSResize(msg)
	case protocol.TypeRenameSession:
		s.handleWSRename(c, msg)
	case protocol.TypeSubscribe:
		s.handleWSSubscribe(c, msg)
	case protocol.TypeUnsubscribe:
		s.handleWSUnsubscribe(c, msg)
	}
}

func (s *Server) handleWSCreate(c *client, msg *protocol.Message) {
	var p protocol.CreateSessionPayload
	json.Unmarshal(msg.Payload, &p)

	_, err := s.manager.Create(session.Descriptor{
		Name:  p.Name,
		Path:  p.Path,
		Icon:  p.Icon,
		Color: p.Color,
		Label: p.Label,
	}, session.LaunchKind(p.LaunchKind), p.Dangerous)
	if err != nil {
		code := protocol.ErrSpawnFailed
		if errors.Is(err, session.ErrMaxSessions) {
			code = protocol.ErrMaxSessions
		}
		s.sendError(c, code, err.Error())
	}
	// The session_created event reaches this client through the hub.
}

func (s *Server) handleWSKill(c *client, msg *protocol.Message) {
	var p protocol.SessionIDPayload
	json.Unmarshal(msg.Payload, &p)

	if err := s.manager.Kill(p.SessionID); err != nil {
		s.sendError(c, protocol.ErrSessionNotFound, err.Error())
	}
}

func (s *Server) handleWSInput(msg *protocol.Message) {
	var p protocol.WriteInputPayload
	json.Unmarshal(msg.Payload, &p)
	s.manager.WriteInput(p.SessionID, []byte(p.Data))
}

func (s *Server) handleWSResize(msg *protocol.Message) {
	var p protocol.ResizePayload
	json.Unmarshal(msg.Payload, &p)
	s.manager.Resize(p.SessionID, p.Cols, p.Rows)
}

func (s *Server) handleWSRename(c *client, msg *protocol.Message) {
	var p protocol.RenameSessionPayload
	json.Unmarshal(msg.Payload, &p)

	if err := s.manager.Rename(p.SessionID, p.Label); err != nil {
		s.sendError(c, protocol.ErrSessionNotFound, err.Error())
	}
}

// handleWSSubscribe sends the full buffer once, then adds the client to the
// session's output subscribers.
func (s *Server) handleWSSubscribe(c *client, msg *protocol.Message) {
	var p protocol.SessionIDPayload
	json.Unmarshal(msg.Payload, &p)

	buf, err := s.manager.BufferSnapshot(p.SessionID)
	if err != nil {
		s.sendError(c, protocol.ErrSessionNotFound, err.Error())
		return
	}

	reply, err := protocol.NewMessage(protocol.TypeSessionBuffer, protocol.SessionBufferPayload{
		SessionID: p.SessionID,
		Data:      string(buf),
	})
	if err == nil {
		if err := c.Send(reply); err != nil {
			s.log.Warn("buffer replay delivery failed",
				zap.String("observer_id", c.id),
				zap.Error(err))
		}
	}

	s.hub.Subscribe(p.SessionID, c)
}

func (s *Server) handleWSUnsubscribe(c *client, msg *protocol.Message) {
	var p protocol.SessionIDPayload
	json.Unmarshal(msg.Payload, &p)
	s.hub.Unsubscribe(p.SessionID, c)
}

func (s *Server) sendError(c *client, code, message string) {
	msg, err := protocol.NewErrorMessage(code, message)
	if err != nil {
		return
	}
	if err := c.Send(msg); err != nil {
		s.log.Warn("error delivery failed", zap.String("observer_id", c.id), zap.Error(err))
	}
}
