package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/roadwatch/roadwatch/internal/backend"
)

// EntryLister is the slice of the backend client the cache needs.
type EntryLister interface {
	ListEntries(ctx context.Context, f backend.EntryFilter, token string) ([]backend.Entry, error)
}

// EntrySink receives the full entry set after each refresh. The local
// analytics store implements it; a nil sink is fine.
type EntrySink interface {
	ReplaceEntries(ctx context.Context, entries []backend.Entry) error
}

// EntryCache keeps the community entry list warm so pages and tiles
// render without a backend round trip. It refreshes on a schedule,
// persists a snapshot to disk so a restart serves data before the
// first fetch, and publishes a bus event whenever the set changes.
type EntryCache struct {
	source   EntryLister
	sink     EntrySink
	bus      *EventBus
	log      *zap.Logger
	path     string
	interval time.Duration

	mu        sync.RWMutex
	entries   []backend.Entry
	byID      map[string]int
	fetchedAt time.Time

	scheduler gocron.Scheduler
}

// EntryCacheConfig configures an EntryCache.
type EntryCacheConfig struct {
	Source EntryLister
	// Sink optionally mirrors refreshed entries, e.g. into DuckDB.
	Sink EntrySink
	Bus  *EventBus
	// DataDir is where the snapshot file lives.
	DataDir string
	// RefreshInterval drives the background job. Defaults to 1m.
	RefreshInterval time.Duration
	Logger          *zap.Logger
}

// NewEntryCache creates the cache and loads any snapshot left by a
// previous run. It does not start the refresh job; call Start.
func NewEntryCache(cfg EntryCacheConfig) *EntryCache {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = time.Minute
	}
	c := &EntryCache{
		source:   cfg.Source,
		sink:     cfg.Sink,
		bus:      cfg.Bus,
		log:      log.Named("entrycache"),
		path:     filepath.Join(cfg.DataDir, "entries.json"),
		interval: interval,
		byID:     make(map[string]int),
	}
	c.loadSnapshot()
	return c
}

// Start performs an initial refresh and schedules the periodic one.
// A failing initial refresh is logged, not fatal: the snapshot (or an
// empty list) serves until the backend comes back.
func (c *EntryCache) Start(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		c.log.Warn("initial entries refresh failed", zap.Error(err))
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(c.interval),
		gocron.NewTask(c.refreshJob),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("entries-refresh"),
	)
	if err != nil {
		return fmt.Errorf("failed to create entries-refresh job: %w", err)
	}
	scheduler.Start()
	c.scheduler = scheduler
	return nil
}

// Stop shuts the refresh job down.
func (c *EntryCache) Stop() error {
	if c.scheduler == nil {
		return nil
	}
	if err := c.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	return nil
}

func (c *EntryCache) refreshJob(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.log.Warn("scheduled entries refresh failed", zap.Error(err))
	}
}

// Refresh fetches the full entry set from the backend and swaps it
// in. On any change a "refreshed" event goes out on the bus.
func (c *EntryCache) Refresh(ctx context.Context) error {
	entries, err := c.source.ListEntries(ctx, backend.EntryFilter{}, "")
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}

	// Newest first, matching how every view presents them.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	changed := c.swap(entries)
	c.saveSnapshot()

	if c.sink != nil {
		if err := c.sink.ReplaceEntries(ctx, entries); err != nil {
			c.log.Warn("mirroring entries failed", zap.Error(err))
		}
	}
	if changed && c.bus != nil {
		c.bus.Publish(Event{Resource: "entries", Action: ActionRefreshed})
	}
	return nil
}

// Invalidate refreshes in the background after a mutation and then
// publishes the mutation event so connected pages re-render with the
// new data already in the cache.
func (c *EntryCache) Invalidate(ctx context.Context, action, id string) {
	go func() {
		if err := c.Refresh(ctx); err != nil {
			c.log.Warn("post-mutation refresh failed",
				zap.String("action", action), zap.Error(err))
		}
		if c.bus != nil {
			c.bus.Publish(Event{Resource: "entries", Action: action, ID: id})
		}
	}()
}

// List returns entries matching the filter, newest first.
func (c *EntryCache) List(f backend.EntryFilter) []backend.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]backend.Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if f.UserID != "" && e.User.ID != f.UserID {
			continue
		}
		if f.Severity != "" && e.Severity != f.Severity {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		result = append(result, e)
	}
	return result
}

// Get returns one entry by ID.
func (c *EntryCache) Get(id string) (backend.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.byID[id]
	if !ok {
		return backend.Entry{}, false
	}
	return c.entries[i], true
}

// Len returns the number of cached entries.
func (c *EntryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// FetchedAt returns when the cache last refreshed successfully. Zero
// means the data came from a snapshot or is empty.
func (c *EntryCache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

// swap installs a new entry set and reports whether it differs from
// the previous one.
func (c *EntryCache) swap(entries []backend.Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := !entriesEqual(c.entries, entries)
	c.entries = entries
	c.byID = make(map[string]int, len(entries))
	for i, e := range entries {
		c.byID[e.ID] = i
	}
	c.fetchedAt = time.Now()
	return changed
}

// entriesEqual compares the fields that matter for rendered views.
func entriesEqual(a, b []backend.Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Title != b[i].Title || a[i].Severity != b[i].Severity {
			return false
		}
		au, bu := a[i].UpdatedAt, b[i].UpdatedAt
		if (au == nil) != (bu == nil) || (au != nil && !au.Equal(*bu)) {
			return false
		}
		ad, bd := a[i].DetectionInfo, b[i].DetectionInfo
		if (ad == nil) != (bd == nil) || (ad != nil && ad.Status != bd.Status) {
			return false
		}
	}
	return true
}

// snapshot is the on-disk format.
type snapshot struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Entries   []backend.Entry `json:"entries"`
}

func (c *EntryCache) loadSnapshot() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("reading entries snapshot failed", zap.Error(err))
		}
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.log.Warn("corrupt entries snapshot ignored", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = snap.Entries
	c.byID = make(map[string]int, len(snap.Entries))
	for i, e := range snap.Entries {
		c.byID[e.ID] = i
	}
	c.log.Info("entries snapshot loaded",
		zap.Int("count", len(snap.Entries)),
		zap.Time("fetched_at", snap.FetchedAt))
}

func (c *EntryCache) saveSnapshot() {
	c.mu.RLock()
	snap := snapshot{FetchedAt: c.fetchedAt, Entries: c.entries}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		c.log.Warn("encoding entries snapshot failed", zap.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		c.log.Warn("creating data dir failed", zap.Error(err))
		return
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		c.log.Warn("writing entries snapshot failed", zap.Error(err))
	}
}
