package session

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentpunk/internal/detect"
	"agentpunk/internal/hub"
	"agentpunk/internal/protocol"
	"agentpunk/internal/snapshot"
)

const (
	defaultRingBufCapacity = 5000
	defaultMaxSessions     = 10
	readBufSize            = 32 * 1024

	// The hosted CLI's text UI renders correctly only at this geometry;
	// other sizes are documented to corrupt it. Sessions start here and
	// clients may resize explicitly afterwards.
	termCols = 120
	termRows = 40
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMaxSessions     = errors.New("maximum session limit reached")
)

// Config holds manager tunables.
type Config struct {
	MaxSessions    int
	BufferCapacity int
	Detector       detect.Config
}

// Manager owns the registry of pseudo-terminal-backed sessions and wires
// process output into each session's ring buffer, broadcast fan-out, and
// state detector.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*managedSession

	cfg        Config
	hub        *hub.Hub
	snap       *snapshot.Snapshotter
	classifier detect.Classifier
	log        *zap.Logger
}

type managedSession struct {
	mu       sync.Mutex
	sess     Session
	cmd      *exec.Cmd
	ptmx     *os.File // nil exactly when the session is dead
	ring     *RingBuffer
	detector *detect.Detector
}

// NewManager creates a session manager and installs itself as the
// snapshotter's record source.
func NewManager(cfg Config, h *hub.Hub, snap *snapshot.Snapshotter, classifier detect.Classifier, log *zap.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = defaultRingBufCapacity
	}
	m := &Manager{
		sessions:   make(map[string]*managedSession),
		cfg:        cfg,
		hub:        h,
		snap:       snap,
		classifier: classifier,
		log:        log,
	}
	snap.SetSource(m.Records)
	return m
}

// Create spawns a new session. An invalid working directory falls back to
// the user's home directory; a spawn failure is returned to the caller and
// the session is never registered.
func (m *Manager) Create(desc Descriptor, kind LaunchKind, dangerous bool) (Session, error) {
	if info, err := os.Stat(desc.Path); err != nil || !info.IsDir() {
		home, herr := os.UserHomeDir()
		if herr != nil {
			home = "/"
		}
		m.log.Warn("invalid working directory, falling back to home",
			zap.String("path", desc.Path),
			zap.String("fallback", home))
		desc.Path = home
	}

	argv, err := commandFor(kind, dangerous)
	if err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	for _, ms := range m.sessions {
		if ms.state() != detect.StateDead {
			active++
		}
	}
	if active >= m.cfg.MaxSessions {
		return Session{}, fmt.Errorf("%w (%d)", ErrMaxSessions, m.cfg.MaxSessions)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = desc.Path
	cmd.Env = sanitizedEnv(os.Environ())

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: termCols, Rows: termRows})
	if err != nil {
		return Session{}, fmt.Errorf("spawn %s: %w", argv[0], err)
	}

	sess := Session{
		ID:         uuid.New().String(),
		Descriptor: desc,
		LaunchKind: kind,
		Dangerous:  dangerous,
		Command:    strings.Join(argv, " "),
		State:      detect.StateReady,
		CreatedAt:  time.Now().UTC(),
	}

	ms := &managedSession{
		sess: sess,
		cmd:  cmd,
		ptmx: ptmx,
		ring: NewRingBuffer(m.cfg.BufferCapacity),
	}
	ms.detector = detect.New(m.classifier, m.cfg.Detector, func(from, to detect.State) {
		m.onTransition(ms, to)
	}, m.log.With(zap.String("session_id", sess.ID)))

	m.sessions[sess.ID] = ms

	m.log.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("launch_kind", string(kind)),
		zap.String("command", sess.Command),
		zap.String("workdir", desc.Path),
		zap.Int("pid", cmd.Process.Pid))

	if msg, err := protocol.NewMessage(protocol.TypeSessionCreated, protocol.SessionCreatedPayload{
		Session: sess.Info(),
	}); err == nil {
		m.hub.PublishEvent(msg)
	}
	m.snap.Schedule()

	go m.readLoop(ms, ptmx)
	go m.waitForExit(ms)

	return sess, nil
}

// readLoop pumps PTY output chunks through the buffer, the fan-out, and
// the detector, in arrival order.
func (m *Manager) readLoop(ms *managedSession, ptmx *os.File) {
	buf := make([]byte, readBufSize)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			ms.ring.Append(chunk)
			m.hub.PublishOutput(ms.id(), chunk)
			ms.detector.HandleChunk(chunk)
		}
		if err != nil {
			// EOF or closed PTY; waitForExit owns the terminal transition.
			return
		}
	}
}

// waitForExit reaps the child and terminates the session when it exits on
// its own.
func (m *Manager) waitForExit(ms *managedSession) {
	err := ms.cmd.Wait()
	if err != nil {
		m.log.Debug("process exited", zap.String("session_id", ms.id()), zap.Error(err))
	}
	m.terminate(ms)
}

// onTransition is the detector's commit callback. It never fires for the
// dead transition; terminate handles that path.
func (m *Manager) onTransition(ms *managedSession, to detect.State) {
	ms.mu.Lock()
	ms.sess.State = to
	id := ms.sess.ID
	ms.mu.Unlock()

	if msg, err := protocol.NewMessage(protocol.TypeSessionStateChanged, protocol.SessionStateChangedPayload{
		SessionID: id,
		State:     string(to),
	}); err == nil {
		m.hub.PublishEvent(msg)
	}
	m.snap.Schedule()
}

// terminate moves a session into the dead state exactly once: it cancels
// any pending detector transition, releases the process and PTY, emits a
// single terminating event, and forces an immediate snapshot.
func (m *Manager) terminate(ms *managedSession) {
	if !ms.detector.Kill() {
		return // already dead
	}

	ms.mu.Lock()
	ms.sess.State = detect.StateDead
	id := ms.sess.ID
	ptmx := ms.ptmx
	ms.ptmx = nil
	proc := ms.cmd.Process
	ms.mu.Unlock()

	if ptmx != nil {
		ptmx.Close()
	}
	if proc != nil {
		// No-op if the process already exited.
		_ = proc.Kill()
	}

	m.log.Info("session terminated", zap.String("session_id", id))

	if msg, err := protocol.NewMessage(protocol.TypeSessionKilled, protocol.SessionKilledPayload{
		SessionID: id,
	}); err == nil {
		m.hub.PublishEvent(msg)
	}
	m.hub.DropSession(id)
	m.snap.SaveNow()
}

// Kill terminates a session. Killing an already-dead session is a no-op.
func (m *Manager) Kill(id string) error {
	ms, ok := m.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	m.terminate(ms)
	return nil
}

// WriteInput writes raw bytes to a session's terminal. Writes against a
// missing or dead session are logged no-ops.
func (m *Manager) WriteInput(id string, data []byte) {
	ms, ok := m.lookup(id)
	if !ok {
		m.log.Info("input for unknown session dropped", zap.String("session_id", id))
		return
	}

	ms.mu.Lock()
	ptmx := ms.ptmx
	ms.mu.Unlock()
	if ptmx == nil {
		m.log.Info("input for dead session dropped", zap.String("session_id", id))
		return
	}

	if _, err := ptmx.Write(data); err != nil {
		m.log.Warn("write to session failed", zap.String("session_id", id), zap.Error(err))
	}
}

// Resize changes a session's terminal geometry. Resizes against a missing
// or dead session are logged no-ops.
func (m *Manager) Resize(id string, cols, rows int) {
	ms, ok := m.lookup(id)
	if !ok {
		m.log.Info("resize for unknown session dropped", zap.String("session_id", id))
		return
	}

	ms.mu.Lock()
	ptmx := ms.ptmx
	ms.mu.Unlock()
	if ptmx == nil {
		m.log.Info("resize for dead session dropped", zap.String("session_id", id))
		return
	}

	if err := pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		m.log.Warn("resize failed", zap.String("session_id", id), zap.Error(err))
	}
}

// Rename updates a session's label and schedules a snapshot.
func (m *Manager) Rename(id, label string) error {
	ms, ok := m.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	ms.mu.Lock()
	ms.sess.Descriptor.Label = label
	ms.mu.Unlock()

	m.snap.Schedule()
	return nil
}

// Get returns a copy of a session's metadata.
func (m *Manager) Get(id string) (Session, error) {
	ms, ok := m.lookup(id)
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return ms.snapshot(), nil
}

// List returns copies of all sessions, oldest first.
func (m *Manager) List() []Session {
	m.mu.RLock()
	all := make([]*managedSession, 0, len(m.sessions))
	for _, ms := range m.sessions {
		all = append(all, ms)
	}
	m.mu.RUnlock()

	result := make([]Session, 0, len(all))
	for _, ms := range all {
		result = append(result, ms.snapshot())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// BufferSnapshot returns the concatenated retained output of a session.
func (m *Manager) BufferSnapshot(id string) ([]byte, error) {
	ms, ok := m.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return ms.ring.Bytes(), nil
}

// Records returns the persisted metadata view of all sessions.
func (m *Manager) Records() []snapshot.Record {
	sessions := m.List()
	records := make([]snapshot.Record, 0, len(sessions))
	for _, s := range sessions {
		records = append(records, s.Record())
	}
	return records
}

// Shutdown terminates every live session.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	all := make([]*managedSession, 0, len(m.sessions))
	for _, ms := range m.sessions {
		all = append(all, ms)
	}
	m.mu.RUnlock()

	for _, ms := range all {
		m.terminate(ms)
	}
}

func (m *Manager) lookup(id string) (*managedSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.sessions[id]
	return ms, ok
}

func (ms *managedSession) id() string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.sess.ID
}

func (ms *managedSession) state() detect.State {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.sess.State
}

func (ms *managedSession) snapshot() Session {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.sess
}
