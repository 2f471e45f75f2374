package mapsync

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Factory builds an adapter for a registry key.
type Factory func(key string) (*Adapter, error)

// Registry hands out shared adapters keyed by an opaque string, one
// adapter per key no matter how many callers hold it. Each Acquire is
// paired with the returned release function; when the last holder
// releases, the adapter is closed and evicted so a later Acquire gets
// a fresh one.
type Registry struct {
	mu      sync.Mutex
	factory Factory
	slots   map[string]*slot
	log     *zap.Logger
}

type slot struct {
	adapter *Adapter
	refs    int
}

// NewRegistry creates a registry using factory for cache misses.
func NewRegistry(factory Factory, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		factory: factory,
		slots:   make(map[string]*slot),
		log:     log.Named("registry"),
	}
}

// Acquire returns the adapter for key, creating it on first use. The
// release function is idempotent; calling it more than once only
// decrements the reference count the first time.
func (r *Registry) Acquire(key string) (*Adapter, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[key]
	if !ok {
		adapter, err := r.factory(key)
		if err != nil {
			return nil, nil, fmt.Errorf("creating adapter for %q: %w", key, err)
		}
		s = &slot{adapter: adapter}
		r.slots[key] = s
	}
	s.refs++

	var once sync.Once
	release := func() {
		once.Do(func() { r.release(key) })
	}
	return s.adapter, release, nil
}

// Len returns the number of live adapters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

func (r *Registry) release(key string) {
	r.mu.Lock()
	s, ok := r.slots[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	s.refs--
	if s.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.slots, key)
	r.mu.Unlock()

	s.adapter.Close()
	r.log.Debug("adapter evicted", zap.String("key", key))
}
