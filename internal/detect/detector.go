package detect

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// State is the inferred lifecycle state of a hosted process.
type State string

const (
	StateReady        State = "ready"
	StateWorking      State = "working"
	StateWaitingInput State = "waiting_input"
	StateDead         State = "dead"
)

const (
	// DefaultSilenceWindow is how long output must stay quiet before a
	// predicted ready/waiting transition is committed.
	DefaultSilenceWindow = 2000 * time.Millisecond
	// DefaultFragmentLimit is the length below which unclassified output is
	// treated as animation debris while a prediction is pending.
	DefaultFragmentLimit = 15
)

// Config holds the detector tunables. Both values are empirically tuned
// for Claude Code's output cadence and adjustable per hosted CLI.
type Config struct {
	SilenceWindow time.Duration
	FragmentLimit int
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		SilenceWindow: DefaultSilenceWindow,
		FragmentLimit: DefaultFragmentLimit,
	}
}

// TransitionFunc is invoked for every committed state change, in the order
// the changes occur. It must not call back into the Detector.
type TransitionFunc func(from, to State)

// Detector converts one session's raw output stream into lifecycle
// transitions. Decisive classifications (Waiting, Ready) arm a single
// deferred transition that commits only if the silence window elapses
// without a superseding signal; indeterminate output while idle flips the
// state to working immediately.
type Detector struct {
	mu         sync.Mutex
	state      State
	classifier Classifier
	cfg        Config
	onChange   TransitionFunc
	log        *zap.Logger

	timer  *time.Timer
	target State
	gen    uint64 // invalidates in-flight timer callbacks
}

// New creates a detector in the ready state.
func New(classifier Classifier, cfg Config, onChange TransitionFunc, log *zap.Logger) *Detector {
	if cfg.SilenceWindow <= 0 {
		cfg.SilenceWindow = DefaultSilenceWindow
	}
	if cfg.FragmentLimit <= 0 {
		cfg.FragmentLimit = DefaultFragmentLimit
	}
	return &Detector{
		state:      StateReady,
		classifier: classifier,
		cfg:        cfg,
		onChange:   onChange,
		log:        log,
	}
}

// State returns the current lifecycle state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// HandleChunk processes one raw output chunk in arrival order.
func (d *Detector) HandleChunk(raw []byte) {
	text := strings.TrimSpace(StripEscape(raw))

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateDead {
		return
	}
	if text == "" {
		return
	}

	switch d.classifier.Classify(text) {
	case ClassNoise:
		// Animation debris: no state change, and crucially no timer reset.
		return

	case ClassWaiting:
		d.armLocked(StateWaitingInput)

	case ClassReady:
		d.armLocked(StateReady)

	default: // indeterminate
		if d.state == StateReady || d.state == StateWaitingInput {
			// Real output while idle proves the process resumed.
			d.cancelTimerLocked()
			d.setStateLocked(StateWorking)
			return
		}
		if d.timer != nil && utf8.RuneCountInString(text) < d.cfg.FragmentLimit {
			// Short fragments straddling a completion signal must not
			// invalidate the pending idle prediction.
			return
		}
		// Substantial unclassified output invalidates any stale prediction.
		d.cancelTimerLocked()
	}
}

// Kill cancels any pending transition and pins the terminal state.
// It reports whether this call performed the transition into dead, so the
// caller can emit a terminating event exactly once.
func (d *Detector) Kill() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelTimerLocked()
	if d.state == StateDead {
		return false
	}
	d.state = StateDead
	return true
}

// armLocked replaces any pending transition with a fresh one targeting the
// given state after the silence window.
func (d *Detector) armLocked(target State) {
	d.cancelTimerLocked()
	d.target = target
	gen := d.gen
	d.timer = time.AfterFunc(d.cfg.SilenceWindow, func() {
		d.fire(gen)
	})
}

func (d *Detector) fire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if gen != d.gen || d.state == StateDead {
		return // superseded or terminated before firing
	}
	d.timer = nil
	d.setStateLocked(d.target)
}

func (d *Detector) cancelTimerLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Detector) setStateLocked(to State) {
	if to == d.state {
		return // same-state commits emit nothing
	}
	from := d.state
	d.state = to
	if d.log != nil {
		d.log.Debug("state transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)))
	}
	if d.onChange != nil {
		d.onChange(from, to)
	}
}
