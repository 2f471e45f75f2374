package mapsync

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roadwatch/roadwatch/internal/geo"
)

var (
	// ErrAlreadyInitialized is returned by Init after a successful
	// first call. The widget must not be loaded twice.
	ErrAlreadyInitialized = errors.New("mapsync: adapter already initialized")
	// ErrNotInitialized is returned when the widget has not been
	// loaded yet.
	ErrNotInitialized = errors.New("mapsync: adapter not initialized")
)

// Marker is a point of interest rendered on the map.
type Marker struct {
	ID    string
	At    geo.Coordinate
	Label string
}

// Widget is the minimal surface the adapter needs from a concrete map
// implementation. Implementations must tolerate being called from
// multiple goroutines in sequence but never concurrently; the adapter
// serializes all calls.
type Widget interface {
	// Load initializes the widget at a center and zoom.
	Load(center geo.Coordinate, zoom float64) error
	// JumpTo moves the camera. The widget must not report the
	// resulting center change back as a user event.
	JumpTo(center geo.Coordinate, zoom float64)
	// ReplaceMarkers swaps the full marker set.
	ReplaceMarkers(markers []Marker)
}

// Config configures an Adapter.
type Config struct {
	Widget Widget
	// EpsilonMeters gates idle center changes. Zero forwards
	// everything.
	EpsilonMeters float64
	// MinEmitInterval rate-limits center changes during a drag.
	MinEmitInterval time.Duration
	// OnCenter receives meaningful center changes. Required.
	OnCenter Listener
	Logger   *zap.Logger
}

// Adapter wraps a map widget behind a uniform lifecycle. It keeps the
// authoritative copy of the current center, pushes programmatic camera
// moves down to the widget without echoing them back as events, and
// runs every widget-native event through the gesture filter before any
// listener sees it.
type Adapter struct {
	mu          sync.Mutex
	widget      Widget
	filter      *Filter
	initialized bool
	center      geo.Coordinate
	zoom        float64
	markers     []Marker
	log         *zap.Logger
}

// New creates an adapter around a widget.
func New(cfg Config) *Adapter {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	a := &Adapter{
		widget: cfg.Widget,
		log:    log,
	}
	a.filter = NewFilter(cfg.EpsilonMeters, cfg.MinEmitInterval, func(c geo.Coordinate) {
		if cfg.OnCenter != nil {
			cfg.OnCenter(c)
		}
	}, log)
	return a
}

// Init loads the widget at the given center and zoom. The first call
// wins; later calls return ErrAlreadyInitialized without touching the
// widget.
func (a *Adapter) Init(center geo.Coordinate, zoom float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return ErrAlreadyInitialized
	}
	if !center.Valid() {
		return fmt.Errorf("mapsync: invalid initial center %s", center)
	}
	if err := a.widget.Load(center, zoom); err != nil {
		return fmt.Errorf("loading map widget: %w", err)
	}
	a.initialized = true
	a.center = center
	a.zoom = zoom
	return nil
}

// Initialized reports whether Init has succeeded.
func (a *Adapter) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized
}

// Center returns the current authoritative center.
func (a *Adapter) Center() geo.Coordinate {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.center
}

// Zoom returns the current zoom level.
func (a *Adapter) Zoom() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.zoom
}

// Dragging reports whether the user is mid-gesture.
func (a *Adapter) Dragging() bool {
	return a.filter.Dragging()
}

// SetCenter updates the stored center. With recenter true the widget
// camera jumps as well; the jump never reaches listeners, since it is
// not a user action. A recentering call during a drag is dropped
// entirely: the gesture in progress owns the camera, and the caller is
// not told (fire-and-forget).
func (a *Adapter) SetCenter(c geo.Coordinate, recenter bool) {
	if !c.Valid() {
		a.log.Warn("ignoring invalid center", zap.Float64("lon", c.Lon), zap.Float64("lat", c.Lat))
		return
	}
	if recenter && a.filter.Dragging() {
		a.log.Debug("recenter dropped during drag",
			zap.Float64("lon", c.Lon), zap.Float64("lat", c.Lat))
		return
	}

	a.mu.Lock()
	a.center = c
	doJump := recenter && a.initialized
	zoom := a.zoom
	a.mu.Unlock()

	if doJump {
		a.widget.JumpTo(c, zoom)
	}
}

// SetMarkers replaces the marker set. Passing the same markers again
// is a no-op, so callers may re-send their current state freely.
func (a *Adapter) SetMarkers(markers []Marker) {
	a.mu.Lock()
	if markersEqual(a.markers, markers) {
		a.mu.Unlock()
		return
	}
	a.markers = append([]Marker(nil), markers...)
	snapshot := append([]Marker(nil), markers...)
	a.mu.Unlock()

	a.widget.ReplaceMarkers(snapshot)
}

// Markers returns the current marker set.
func (a *Adapter) Markers() []Marker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Marker(nil), a.markers...)
}

// NativeEvent feeds a raw widget event into the gesture filter. The
// stored center tracks the widget immediately; listeners only hear
// about it if the filter lets the event through.
func (a *Adapter) NativeEvent(phase Phase, c geo.Coordinate) {
	if !c.Valid() {
		a.log.Warn("ignoring invalid native event",
			zap.String("phase", phase.String()),
			zap.Float64("lon", c.Lon), zap.Float64("lat", c.Lat))
		return
	}

	a.mu.Lock()
	a.center = c
	a.mu.Unlock()

	a.filter.Handle(phase, c)
}

// Close releases filter timers. The adapter must not be used after.
func (a *Adapter) Close() {
	a.filter.Stop()
}

func markersEqual(a, b []Marker) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
