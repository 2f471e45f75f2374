package geocode

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultSearchQuiet = 400 * time.Millisecond
	defaultSearchLimit = 5
)

// Results is a settled search outcome. An empty Places with a
// zero-value Query means the input was cleared; an empty Places with
// a non-empty Query means nothing matched or the provider failed,
// with Err recording the cause for the latter.
type Results struct {
	Seq    uint64
	Query  string
	Places []Place
	Err    error
}

// ResultsFunc receives settled search results. Like AddressFunc it
// runs under the search lock and must not call back in.
type ResultsFunc func(r Results)

// Search debounces free-text place queries. Keystrokes arrive as
// Request calls; only a query that survives the quiet period reaches
// the provider, and stale completions are discarded by sequence token
// exactly as the Resolver does. Clearing the input short-circuits: it
// empties the result list immediately without any network traffic.
type Search struct {
	geocoder Geocoder
	quiet    time.Duration
	timeout  time.Duration
	limit    int
	deliver  ResultsFunc
	ctx      context.Context
	log      *zap.Logger

	mu      sync.Mutex
	seq     uint64
	timer   *time.Timer
	stopped bool
}

// SearchConfig configures a Search.
type SearchConfig struct {
	Geocoder Geocoder
	// Quiet is the debounce window. Defaults to 400ms.
	Quiet time.Duration
	// LookupTimeout bounds each provider call. Defaults to 8s.
	LookupTimeout time.Duration
	// Limit caps the number of results. Defaults to 5.
	Limit int
	// Deliver receives settled results. Required.
	Deliver ResultsFunc
	// Context is the lifetime of the search, typically the owning
	// session.
	Context context.Context
	Logger  *zap.Logger
}

// NewSearch creates a debounced search.
func NewSearch(cfg SearchConfig) *Search {
	quiet := cfg.Quiet
	if quiet <= 0 {
		quiet = defaultSearchQuiet
	}
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Search{
		geocoder: cfg.Geocoder,
		quiet:    quiet,
		timeout:  timeout,
		limit:    limit,
		deliver:  cfg.Deliver,
		ctx:      ctx,
		log:      log.Named("search"),
	}
}

// Request schedules a lookup for query after the quiet period. An
// empty or whitespace query cancels pending work and clears results
// immediately.
func (s *Search) Request(query string) {
	query = strings.TrimSpace(query)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.seq++
	token := s.seq

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if query == "" {
		s.deliver(Results{Seq: token})
		return
	}

	s.timer = time.AfterFunc(s.quiet, func() {
		s.lookup(token, query)
	})
}

// Stop cancels pending work and prevents further requests.
func (s *Search) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.seq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Search) lookup(token uint64, query string) {
	s.mu.Lock()
	if s.stopped || token != s.seq {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	places, err := s.geocoder.Search(ctx, query, s.limit)

	r := Results{Seq: token, Query: query, Places: places}
	if err != nil {
		r.Places = nil
		if !errors.Is(err, ErrNoResult) {
			// Transient provider trouble degrades to an empty list;
			// the UI shows nothing rather than an error page.
			r.Err = err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || token != s.seq {
		s.log.Debug("discarding stale search results",
			zap.Uint64("token", token), zap.String("query", query))
		return
	}
	if r.Err != nil {
		s.log.Warn("place search failed", zap.String("query", query), zap.Error(r.Err))
	}
	s.deliver(r)
}
