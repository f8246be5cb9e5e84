package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultDebounce = 1000 * time.Millisecond

// Record is the persisted metadata view of one session. Process handles,
// output buffers, and subscriber sets are never persisted.
type Record struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Icon       string    `json:"icon"`
	Color      string    `json:"color"`
	Label      string    `json:"label"`
	Command    string    `json:"command"`
	LaunchKind string    `json:"launchKind"`
	Dangerous  bool      `json:"dangerous"`
	CreatedAt  time.Time `json:"createdAt"`
	State      string    `json:"state"`
}

// Source provides the current metadata view of all sessions.
type Source func() []Record

// Snapshotter persists session metadata on a debounce schedule. Saves are
// crash-safe: the snapshot is written to a temporary file in the target
// directory and atomically renamed over the previous one.
type Snapshotter struct {
	path     string
	debounce time.Duration
	source   Source
	log      *zap.Logger

	mu    sync.Mutex
	timer *time.Timer

	// saveMu serializes whole saves: a debounced save that already read
	// its records must not rename over a newer synchronous one.
	saveMu sync.Mutex
}

// New creates a snapshotter writing to path. A non-positive debounce falls
// back to the default.
func New(path string, debounce time.Duration, log *zap.Logger) *Snapshotter {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Snapshotter{
		path:     path,
		debounce: debounce,
		log:      log,
	}
}

// SetSource installs the record provider. Must be called before the first
// Schedule or SaveNow.
func (s *Snapshotter) SetSource(source Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = source
}

// Schedule arms (or re-arms) a debounced save.
func (s *Snapshotter) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.save(); err != nil {
			s.log.Warn("snapshot save failed", zap.Error(err))
		}
	})
}

// SaveNow cancels any pending debounce and saves synchronously. Used on
// terminating transitions so a crash right after never loses them.
func (s *Snapshotter) SaveNow() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if err := s.save(); err != nil {
		s.log.Warn("snapshot save failed", zap.Error(err))
	}
}

// Close flushes a pending save, if any.
func (s *Snapshotter) Close() {
	s.mu.Lock()
	pending := s.timer != nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if pending {
		if err := s.save(); err != nil {
			s.log.Warn("snapshot save on close failed", zap.Error(err))
		}
	}
}

func (s *Snapshotter) save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	source := s.source
	s.mu.Unlock()
	if source == nil {
		return fmt.Errorf("no record source installed")
	}

	records := source()
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	// Write-then-rename keeps a half-written file from ever being visible
	// under the snapshot path.
	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}

	s.log.Debug("snapshot saved", zap.Int("records", len(records)))
	return nil
}

// Load reads the last snapshot. Missing or malformed files degrade to an
// empty result; startup never fails on recovery data.
func Load(path string, log *zap.Logger) []Record {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("snapshot unreadable", zap.String("path", path), zap.Error(err))
		}
		return nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		log.Warn("snapshot malformed, ignoring", zap.String("path", path), zap.Error(err))
		return nil
	}
	return records
}
