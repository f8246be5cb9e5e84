package session

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"agentpunk/internal/detect"
	"agentpunk/internal/hub"
	"agentpunk/internal/protocol"
	"agentpunk/internal/snapshot"
)

// countingObserver tallies events by message type.
type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{counts: make(map[string]int)}
}

func (c *countingObserver) ObserverID() string { return "counter" }

func (c *countingObserver) Send(msg *protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[msg.Type]++
	return nil
}

func (c *countingObserver) count(msgType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[msgType]
}

func newTestManager(t *testing.T, maxSessions int) (*Manager, *hub.Hub) {
	t.Helper()
	log := zap.NewNop()
	h := hub.New(log)
	snap := snapshot.New(filepath.Join(t.TempDir(), "sessions.json"), time.Hour, log)
	m := NewManager(Config{MaxSessions: maxSessions}, h, snap, detect.ClaudeClassifier{}, log)
	return m, h
}

// spawnShell creates a plain-shell session, skipping the test when the
// environment cannot allocate a PTY.
func spawnShell(t *testing.T, m *Manager, desc Descriptor) Session {
	t.Helper()
	sess, err := m.Create(desc, LaunchShell, false)
	if err != nil && strings.Contains(err.Error(), "spawn") {
		t.Skipf("cannot spawn pty shell: %v", err)
	}
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return sess
}

func TestManager_GetNotFound(t *testing.T) {
	m, _ := newTestManager(t, 4)
	_, err := m.Get("nonexistent")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_ListEmpty(t *testing.T) {
	m, _ := newTestManager(t, 4)
	if sessions := m.List(); len(sessions) != 0 {
		t.Errorf("expected empty list, got %d sessions", len(sessions))
	}
}

func TestManager_KillNotFound(t *testing.T) {
	m, _ := newTestManager(t, 4)
	if err := m.Kill("nonexistent"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_RenameNotFound(t *testing.T) {
	m, _ := newTestManager(t, 4)
	if err := m.Rename("nonexistent", "new label"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_WriteInputMissingSessionIsNoOp(t *testing.T) {
	m, _ := newTestManager(t, 4)
	// Must not panic or surface an error.
	m.WriteInput("nonexistent", []byte("hello\n"))
	m.Resize("nonexistent", 80, 24)
}

func TestManager_BufferSnapshotNotFound(t *testing.T) {
	m, _ := newTestManager(t, 4)
	if _, err := m.BufferSnapshot("nonexistent"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_CreateShellSession(t *testing.T) {
	m, _ := newTestManager(t, 4)
	t.Setenv("SHELL", "/bin/sh")
	defer m.Shutdown()

	sess := spawnShell(t, m, Descriptor{Name: "shell", Path: t.TempDir()})

	if sess.ID == "" {
		t.Error("expected non-empty session ID")
	}
	if sess.State != detect.StateReady {
		t.Errorf("expected initial state ready, got %s", sess.State)
	}
	if sess.Command != "/bin/sh" {
		t.Errorf("expected command /bin/sh, got %s", sess.Command)
	}

	got, err := m.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != sess.ID {
		t.Errorf("expected ID %s, got %s", sess.ID, got.ID)
	}

	if sessions := m.List(); len(sessions) != 1 {
		t.Errorf("expected 1 session, got %d", len(sessions))
	}
}

func TestManager_InvalidWorkDirFallsBackToHome(t *testing.T) {
	m, _ := newTestManager(t, 4)
	t.Setenv("SHELL", "/bin/sh")
	defer m.Shutdown()

	sess := spawnShell(t, m, Descriptor{Name: "shell", Path: "/nonexistent/path/xyz"})

	if sess.Descriptor.Path == "/nonexistent/path/xyz" {
		t.Error("expected working directory to fall back, path unchanged")
	}
}

func TestManager_MaxSessionsLimit(t *testing.T) {
	m, _ := newTestManager(t, 1)
	t.Setenv("SHELL", "/bin/sh")
	defer m.Shutdown()

	spawnShell(t, m, Descriptor{Name: "first", Path: t.TempDir()})

	_, err := m.Create(Descriptor{Name: "second", Path: t.TempDir()}, LaunchShell, false)
	if !errors.Is(err, ErrMaxSessions) {
		t.Errorf("expected ErrMaxSessions, got %v", err)
	}
}

func TestManager_KillEmitsExactlyOneTerminatingEvent(t *testing.T) {
	m, h := newTestManager(t, 4)
	t.Setenv("SHELL", "/bin/sh")

	obs := newCountingObserver()
	h.Register(obs)

	sess := spawnShell(t, m, Descriptor{Name: "shell", Path: t.TempDir()})

	if err := m.Kill(sess.ID); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}

	got, _ := m.Get(sess.ID)
	if got.State != detect.StateDead {
		t.Errorf("expected dead immediately after kill, got %s", got.State)
	}

	// Killing again is a no-op; the reaper goroutine must not emit a
	// second terminating event either.
	if err := m.Kill(sess.ID); err != nil {
		t.Errorf("second kill should succeed as no-op, got %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if n := obs.count(protocol.TypeSessionKilled); n != 1 {
		t.Errorf("expected exactly one session_killed event, got %d", n)
	}
}

func TestManager_WriteAfterKillIsNoOp(t *testing.T) {
	m, _ := newTestManager(t, 4)
	t.Setenv("SHELL", "/bin/sh")

	sess := spawnShell(t, m, Descriptor{Name: "shell", Path: t.TempDir()})
	if err := m.Kill(sess.ID); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}

	// Must not panic or error.
	m.WriteInput(sess.ID, []byte("echo hi\n"))
	m.Resize(sess.ID, 80, 24)
}

func TestManager_OutputReachesBufferAndSubscribers(t *testing.T) {
	m, h := newTestManager(t, 4)
	t.Setenv("SHELL", "/bin/sh")
	defer m.Shutdown()

	obs := newCountingObserver()
	h.Register(obs)

	sess := spawnShell(t, m, Descriptor{Name: "shell", Path: t.TempDir()})
	h.Subscribe(sess.ID, obs)

	m.WriteInput(sess.ID, []byte("echo agentpunk-marker\n"))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		buf, err := m.BufferSnapshot(sess.ID)
		if err != nil {
			t.Fatalf("BufferSnapshot failed: %v", err)
		}
		if strings.Contains(string(buf), "agentpunk-marker") {
			if obs.count(protocol.TypeTerminalOutput) == 0 {
				t.Error("expected subscriber to receive terminal_output")
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("shell output never reached the ring buffer")
}

func TestManager_Rename(t *testing.T) {
	m, _ := newTestManager(t, 4)
	t.Setenv("SHELL", "/bin/sh")
	defer m.Shutdown()

	sess := spawnShell(t, m, Descriptor{Name: "shell", Path: t.TempDir(), Label: "old"})

	if err := m.Rename(sess.ID, "new label"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	got, _ := m.Get(sess.ID)
	if got.Descriptor.Label != "new label" {
		t.Errorf("expected renamed label, got %q", got.Descriptor.Label)
	}
}

func TestManager_RecordsExcludeRuntimeState(t *testing.T) {
	m, _ := newTestManager(t, 4)
	t.Setenv("SHELL", "/bin/sh")
	defer m.Shutdown()

	sess := spawnShell(t, m, Descriptor{Name: "shell", Path: t.TempDir(), Label: "lbl"})

	records := m.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.ID != sess.ID || r.Label != "lbl" || r.LaunchKind != string(LaunchShell) {
		t.Errorf("record metadata mismatch: %+v", r)
	}
	// The shell's prompt may already have flipped the detector to working.
	if r.State != string(detect.StateReady) && r.State != string(detect.StateWorking) {
		t.Errorf("expected a live state in the record, got %s", r.State)
	}
}
