// Package mapsync keeps an interactive map widget and the rest of the
// application in agreement about the map center. It owns the gesture
// state machine that decides which raw widget events are meaningful,
// and the adapter that bridges widget-native events to the
// application's coordinate listeners.
package mapsync

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roadwatch/roadwatch/internal/geo"
)

// Phase classifies a raw widget event.
type Phase int

const (
	// PhaseMove is a center change outside any drag gesture, such as
	// an inertia settle or a programmatic animation step.
	PhaseMove Phase = iota
	// PhaseDragStart marks the beginning of a user drag gesture.
	PhaseDragStart
	// PhaseDragMove is an intermediate center change during a drag.
	PhaseDragMove
	// PhaseDragEnd marks the user releasing the drag.
	PhaseDragEnd
)

// String returns the wire name of the phase as sent by the widget.
func (p Phase) String() string {
	switch p {
	case PhaseDragStart:
		return "dragstart"
	case PhaseDragMove:
		return "drag"
	case PhaseDragEnd:
		return "dragend"
	default:
		return "move"
	}
}

// ParsePhase maps a widget event name to a Phase. Unknown names are
// treated as plain moves, so a widget emitting extra event types
// degrades to the conservative path instead of failing.
func ParsePhase(s string) Phase {
	switch s {
	case "dragstart":
		return PhaseDragStart
	case "drag", "dragmove":
		return PhaseDragMove
	case "dragend":
		return PhaseDragEnd
	default:
		return PhaseMove
	}
}

// Listener receives filtered, meaningful center changes.
type Listener func(c geo.Coordinate)

// Filter is the gesture state machine between raw widget events and
// center listeners. It is either idle or inside a drag gesture:
//
//   - Idle: center changes are forwarded only when they travel farther
//     than the configured epsilon from the last forwarded position.
//   - Dragging: changes are forwarded at most once per interval, with
//     the most recent suppressed position flushed when the interval
//     elapses, so listeners never end a burst holding a stale center.
//
// Only a drag-end event leaves the dragging state. Timers never do,
// which keeps a slow drag from being mistaken for two gestures.
type Filter struct {
	mu       sync.Mutex
	emit     Listener
	epsilonM float64
	interval time.Duration

	dragging  bool
	hasLast   bool
	last      geo.Coordinate
	lastAt    time.Time
	pending   *geo.Coordinate
	trailing  *time.Timer
	stopped   bool

	log *zap.Logger
}

// NewFilter returns a filter forwarding to emit. epsilonMeters gates
// idle moves; interval rate-limits drag moves.
func NewFilter(epsilonMeters float64, interval time.Duration, emit Listener, log *zap.Logger) *Filter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Filter{
		emit:     emit,
		epsilonM: epsilonMeters,
		interval: interval,
		log:      log.Named("filter"),
	}
}

// Dragging reports whether a drag gesture is in progress.
func (f *Filter) Dragging() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dragging
}

// Handle feeds one raw widget event through the state machine.
func (f *Filter) Handle(phase Phase, c geo.Coordinate) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}

	switch phase {
	case PhaseDragStart:
		f.dragging = true
		// Each gesture gets a fresh rate-limit window so its first
		// move is never deferred behind the previous gesture.
		f.lastAt = time.Time{}
		f.mu.Unlock()

	case PhaseDragMove:
		if !f.dragging {
			// Widget skipped the dragstart. Adopt the gesture rather
			// than misclassifying its moves as idle jitter.
			f.dragging = true
		}
		now := time.Now()
		if !f.hasLast || now.Sub(f.lastAt) >= f.interval {
			f.markEmitted(c, now)
			f.mu.Unlock()
			f.emit(c)
			return
		}
		// Too soon: remember only the most recent position and make
		// sure a trailing flush is scheduled.
		cc := c
		f.pending = &cc
		if f.trailing == nil {
			wait := f.interval - now.Sub(f.lastAt)
			f.trailing = time.AfterFunc(wait, f.flushTrailing)
		}
		f.mu.Unlock()

	case PhaseDragEnd:
		f.dragging = false
		f.cancelTrailingLocked()
		f.markEmitted(c, time.Now())
		f.mu.Unlock()
		// The final position always goes out, even if an identical
		// one was just emitted: listeners key their settle logic off
		// the gesture ending.
		f.emit(c)

	default: // PhaseMove
		if f.dragging {
			// Some widgets report moves alongside drags. The drag
			// events carry the same positions, so these are noise.
			f.mu.Unlock()
			return
		}
		if f.hasLast && f.last.DistanceMeters(c) < f.epsilonM {
			f.log.Debug("move under epsilon suppressed",
				zap.Float64("lon", c.Lon), zap.Float64("lat", c.Lat))
			f.mu.Unlock()
			return
		}
		f.markEmitted(c, time.Now())
		f.mu.Unlock()
		f.emit(c)
	}
}

// Stop cancels any scheduled trailing flush. Further events are
// ignored. Safe to call more than once.
func (f *Filter) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.cancelTrailingLocked()
	f.mu.Unlock()
}

func (f *Filter) markEmitted(c geo.Coordinate, at time.Time) {
	f.hasLast = true
	f.last = c
	f.lastAt = at
	f.pending = nil
}

func (f *Filter) cancelTrailingLocked() {
	if f.trailing != nil {
		f.trailing.Stop()
		f.trailing = nil
	}
	f.pending = nil
}

// flushTrailing delivers the newest suppressed drag position once the
// rate-limit window closes.
func (f *Filter) flushTrailing() {
	f.mu.Lock()
	f.trailing = nil
	if f.stopped || !f.dragging || f.pending == nil {
		f.pending = nil
		f.mu.Unlock()
		return
	}
	c := *f.pending
	f.markEmitted(c, time.Now())
	f.mu.Unlock()
	f.emit(c)
}
