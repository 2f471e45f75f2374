package geocode

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roadwatch/roadwatch/internal/geo"
)

const (
	defaultQuiet         = 600 * time.Millisecond
	defaultLookupTimeout = 8 * time.Second
)

// Address is a settled reverse-geocode result. Label is always
// populated: when the lookup failed or found nothing it carries the
// coordinate's fallback label and Err records why, so callers can
// always show something sensible and never a raw error string.
type Address struct {
	Seq   uint64
	At    geo.Coordinate
	Label string
	Err   error
}

// AddressFunc receives settled addresses. It is called from resolver
// goroutines while the resolver lock is held, so it must be quick and
// must not call back into the resolver.
type AddressFunc func(a Address)

// Resolver debounces reverse-geocode requests. Each Request restarts
// a quiet-period timer; only the newest coordinate is ever looked up.
// Every request takes a sequence token, and a completion whose token
// is no longer the newest is discarded, so a slow response for an old
// position can never overwrite the address of a newer one, no matter
// the arrival order.
type Resolver struct {
	geocoder Geocoder
	quiet    time.Duration
	timeout  time.Duration
	deliver  AddressFunc
	ctx      context.Context
	log      *zap.Logger

	mu      sync.Mutex
	seq     uint64
	timer   *time.Timer
	stopped bool
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Geocoder Geocoder
	// Quiet is the debounce window after the last Request. Defaults
	// to 600ms.
	Quiet time.Duration
	// LookupTimeout bounds each provider call. Defaults to 8s.
	LookupTimeout time.Duration
	// Deliver receives settled addresses. Required.
	Deliver AddressFunc
	// Context is the lifetime of the resolver, typically the owning
	// session. Cancelling it aborts in-flight lookups.
	Context context.Context
	Logger  *zap.Logger
}

// NewResolver creates a resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	quiet := cfg.Quiet
	if quiet <= 0 {
		quiet = defaultQuiet
	}
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		geocoder: cfg.Geocoder,
		quiet:    quiet,
		timeout:  timeout,
		deliver:  cfg.Deliver,
		ctx:      ctx,
		log:      log.Named("resolver"),
	}
}

// Request schedules a reverse lookup for c after the quiet period.
// Any previously pending or in-flight lookup becomes stale.
func (r *Resolver) Request(c geo.Coordinate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	r.seq++
	token := r.seq

	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.quiet, func() {
		r.lookup(token, c)
	})
}

// Cancel invalidates any pending or in-flight lookup without
// scheduling a new one. Their results will be discarded.
func (r *Resolver) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Stop cancels and prevents further requests.
func (r *Resolver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	r.seq++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// lookup runs on the debounce timer goroutine.
func (r *Resolver) lookup(token uint64, c geo.Coordinate) {
	r.mu.Lock()
	if r.stopped || token != r.seq {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	place, err := r.geocoder.Reverse(ctx, c)

	a := Address{Seq: token, At: c}
	if err != nil {
		a.Label = c.FallbackLabel()
		a.Err = err
	} else {
		a.Label = place.Label
	}

	// The token check and the delivery happen under one lock so a
	// result that was current when checked cannot be overtaken by a
	// newer delivery in between.
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || token != r.seq {
		// A newer request or a cancel happened while this lookup was
		// in flight. Whatever it found is about the wrong position.
		r.log.Debug("discarding stale reverse geocode",
			zap.Uint64("token", token))
		return
	}
	if a.Err != nil {
		r.log.Debug("reverse geocode failed, using fallback label",
			zap.String("label", a.Label), zap.Error(a.Err))
	}
	r.deliver(a)
}
