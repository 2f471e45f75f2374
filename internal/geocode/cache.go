package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roadwatch/roadwatch/internal/geo"
)

const (
	defaultHitTTL  = 15 * time.Minute
	defaultMissTTL = time.Minute
)

// Cache wraps a Geocoder with an in-memory TTL cache. Reverse lookups
// are keyed on the coordinate quantized to five decimal places (about
// a meter), so the jitter left over after the map filter still lands
// on the same entry. Misses are cached briefly too, which keeps a
// dead spot from hammering the provider. Concurrent lookups for one
// key collapse into a single upstream call.
type Cache struct {
	next    Geocoder
	hitTTL  time.Duration
	missTTL time.Duration

	mu       sync.RWMutex
	reverses map[string]reverseEntry
	searches map[string]searchEntry

	group singleflight.Group
	now   func() time.Time
}

type reverseEntry struct {
	place   Place
	miss    bool
	expires time.Time
}

type searchEntry struct {
	places  []Place
	miss    bool
	expires time.Time
}

// CacheOption tweaks cache behavior.
type CacheOption func(*Cache)

// WithHitTTL sets how long successful lookups are kept.
func WithHitTTL(d time.Duration) CacheOption {
	return func(c *Cache) { c.hitTTL = d }
}

// WithMissTTL sets how long empty results are kept.
func WithMissTTL(d time.Duration) CacheOption {
	return func(c *Cache) { c.missTTL = d }
}

// NewCache wraps next with caching.
func NewCache(next Geocoder, opts ...CacheOption) *Cache {
	c := &Cache{
		next:     next,
		hitTTL:   defaultHitTTL,
		missTTL:  defaultMissTTL,
		reverses: make(map[string]reverseEntry),
		searches: make(map[string]searchEntry),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func reverseKey(c geo.Coordinate) string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lon)
}

func searchKey(query string, limit int) string {
	return fmt.Sprintf("%s|%d", strings.ToLower(strings.TrimSpace(query)), limit)
}

// Reverse implements Geocoder.
func (c *Cache) Reverse(ctx context.Context, coord geo.Coordinate) (Place, error) {
	key := reverseKey(coord)

	c.mu.RLock()
	entry, ok := c.reverses[key]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expires) {
		if entry.miss {
			return Place{}, ErrNoResult
		}
		return entry.place, nil
	}

	v, err, _ := c.group.Do("rev:"+key, func() (any, error) {
		place, err := c.next.Reverse(ctx, coord)
		if err != nil {
			if errors.Is(err, ErrNoResult) {
				c.storeReverse(key, reverseEntry{miss: true, expires: c.now().Add(c.missTTL)})
			}
			return Place{}, err
		}
		c.storeReverse(key, reverseEntry{place: place, expires: c.now().Add(c.hitTTL)})
		return place, nil
	})
	if err != nil {
		return Place{}, err
	}
	return v.(Place), nil
}

// Search implements Geocoder.
func (c *Cache) Search(ctx context.Context, query string, limit int) ([]Place, error) {
	key := searchKey(query, limit)

	c.mu.RLock()
	entry, ok := c.searches[key]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expires) {
		if entry.miss {
			return nil, ErrNoResult
		}
		return append([]Place(nil), entry.places...), nil
	}

	v, err, _ := c.group.Do("q:"+key, func() (any, error) {
		places, err := c.next.Search(ctx, query, limit)
		if err != nil {
			if errors.Is(err, ErrNoResult) {
				c.storeSearch(key, searchEntry{miss: true, expires: c.now().Add(c.missTTL)})
			}
			return nil, err
		}
		c.storeSearch(key, searchEntry{places: places, expires: c.now().Add(c.hitTTL)})
		return places, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]Place(nil), v.([]Place)...), nil
}

func (c *Cache) storeReverse(key string, e reverseEntry) {
	c.mu.Lock()
	c.reverses[key] = e
	c.mu.Unlock()
}

func (c *Cache) storeSearch(key string, e searchEntry) {
	c.mu.Lock()
	c.searches[key] = e
	c.mu.Unlock()
}
