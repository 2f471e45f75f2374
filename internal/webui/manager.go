package webui

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roadwatch/roadwatch/internal/backend"
	"github.com/roadwatch/roadwatch/internal/geo"
	"github.com/roadwatch/roadwatch/internal/geocode"
	"github.com/roadwatch/roadwatch/internal/mapsync"
	"github.com/roadwatch/roadwatch/internal/report"
	"github.com/roadwatch/roadwatch/internal/service"
)

const defaultSessionTTL = 30 * time.Minute

// ErrSessionNotFound is returned for unknown or expired session IDs.
var ErrSessionNotFound = errors.New("webui: session not found")

// EntrySource yields the cached entries used for map markers.
type EntrySource interface {
	List(f backend.EntryFilter) []backend.Entry
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Geocoder backs every session's resolver and search. Required.
	Geocoder geocode.Geocoder
	// Entries supplies map markers. Optional.
	Entries EntrySource
	// Bus carries entry-change events that refresh session markers.
	// Optional.
	Bus *service.EventBus

	// Center and Zoom position new sessions' maps.
	Center geo.Coordinate
	Zoom   float64

	// EpsilonMeters and MinEmitInterval tune the gesture filter.
	EpsilonMeters   float64
	MinEmitInterval time.Duration
	// ReverseQuiet and SearchQuiet are the geocoding debounce windows.
	ReverseQuiet time.Duration
	SearchQuiet  time.Duration

	// TTL expires idle sessions. Defaults to 30 minutes.
	TTL time.Duration

	Logger *zap.Logger
}

// Manager owns the UI sessions: creation, lookup, idle expiry, and the
// marker refresh loop that follows entry changes.
type Manager struct {
	cfg      ManagerConfig
	ttl      time.Duration
	log      *zap.Logger
	registry *mapsync.Registry

	mu       sync.Mutex
	sessions map[string]*Session

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Geocoder == nil {
		return nil, fmt.Errorf("webui: geocoder is required")
	}
	if !cfg.Center.Valid() {
		return nil, fmt.Errorf("webui: invalid default center %s", cfg.Center)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}

	m := &Manager{
		cfg:      cfg,
		ttl:      ttl,
		log:      log.Named("webui"),
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	m.registry = mapsync.NewRegistry(m.buildAdapter, log)
	return m, nil
}

// Start launches the marker refresh and expiry sweep loop.
func (m *Manager) Start(ctx context.Context) error {
	var ch chan service.Event
	if m.cfg.Bus != nil {
		ch = m.cfg.Bus.Subscribe()
	}
	m.started = true
	go m.run(ctx, ch)
	return nil
}

// Stop shuts the loop down and closes every live session. Safe to call
// more than once.
func (m *Manager) Stop() {
	if m.started {
		m.stopOnce.Do(func() { close(m.stopCh) })
		<-m.doneCh
	}
	m.CloseAll()
}

func (m *Manager) run(ctx context.Context, ch chan service.Event) {
	defer close(m.doneCh)
	if ch != nil {
		defer m.cfg.Bus.Unsubscribe(ch)
	}

	sweep := m.ttl
	if sweep > time.Minute {
		sweep = time.Minute
	}
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case ev := <-ch:
			if ev.Resource == "entries" {
				m.refreshMarkers()
			}
		case <-ticker.C:
			m.closeExpired()
		}
	}
}

// Create builds a new session with a fresh adapter, resolver, search,
// and wizard, positioned at the default center.
func (m *Manager) Create() (*Session, error) {
	m.closeExpired()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		updates:   make(chan update, 32),
	}
	s.log = m.log.With(zap.String("session", s.ID))
	s.lastSeen = s.CreatedAt

	s.resolver = geocode.NewResolver(geocode.ResolverConfig{
		Geocoder: m.cfg.Geocoder,
		Quiet:    m.cfg.ReverseQuiet,
		Deliver:  s.deliverAddress,
		Context:  ctx,
		Logger:   s.log,
	})
	s.search = geocode.NewSearch(geocode.SearchConfig{
		Geocoder: m.cfg.Geocoder,
		Quiet:    m.cfg.SearchQuiet,
		Deliver:  s.deliverResults,
		Context:  ctx,
		Logger:   s.log,
	})
	s.wizard = report.NewWizard(s.log)

	// The registry factory looks the session up by key, so it must be
	// registered before Acquire.
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	adapter, release, err := m.registry.Acquire(s.ID)
	if err != nil {
		m.discard(s)
		return nil, err
	}
	s.adapter = adapter
	s.release = release

	if err := adapter.Init(m.cfg.Center, m.cfg.Zoom); err != nil && !errors.Is(err, mapsync.ErrAlreadyInitialized) {
		m.discard(s)
		return nil, err
	}
	adapter.SetMarkers(m.currentMarkers())

	m.log.Info("session created", zap.String("session", s.ID))
	return s, nil
}

// Get returns a live session by ID and marks it used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok && s.expired(time.Now(), m.ttl) {
		delete(m.sessions, id)
		m.mu.Unlock()
		s.Close()
		return nil, ErrSessionNotFound
	}
	m.mu.Unlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	s.Touch()
	return s, nil
}

// Close removes and closes one session.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.Close()
	}
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

// Len reports how many live sessions exist.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// buildAdapter is the registry factory: it wires a server-side widget
// into the session the key names.
func (m *Manager) buildAdapter(key string) (*mapsync.Adapter, error) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("webui: no session %q for adapter", key)
	}

	return mapsync.New(mapsync.Config{
		Widget:          newDatastarWidget(s.push),
		EpsilonMeters:   m.cfg.EpsilonMeters,
		MinEmitInterval: m.cfg.MinEmitInterval,
		OnCenter:        s.onCenter,
		Logger:          s.log,
	}), nil
}

// discard removes a half-built session after a creation failure.
func (m *Manager) discard(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()
	s.Close()
}

func (m *Manager) closeExpired() {
	now := time.Now()

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.expired(now, m.ttl) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	if len(expired) > 0 {
		m.log.Debug("expired sessions closed", zap.Int("count", len(expired)))
	}
}

// refreshMarkers pushes the current entry markers to every session.
func (m *Manager) refreshMarkers() {
	markers := m.currentMarkers()

	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.adapter.SetMarkers(markers)
	}
}

func (m *Manager) currentMarkers() []mapsync.Marker {
	if m.cfg.Entries == nil {
		return nil
	}
	entries := m.cfg.Entries.List(backend.EntryFilter{})
	markers := make([]mapsync.Marker, 0, len(entries))
	for _, e := range entries {
		if !e.Coordinates.Valid() {
			continue
		}
		markers = append(markers, mapsync.Marker{
			ID:    e.ID,
			At:    e.Coordinates,
			Label: e.Title,
		})
	}
	return markers
}
