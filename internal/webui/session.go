// Package webui holds the per-browser state behind the Datastar UI:
// one session per page load, owning a map adapter, the debounced
// geocoding helpers, and the report wizard. Handlers translate SSE
// requests into session calls; sessions publish state changes on an
// update stream that the camera SSE endpoint drains.
package webui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roadwatch/roadwatch/internal/geo"
	"github.com/roadwatch/roadwatch/internal/geocode"
	"github.com/roadwatch/roadwatch/internal/mapsync"
	"github.com/roadwatch/roadwatch/internal/report"
)

// update is one message on a session's update stream. signals are
// patched as-is; a non-nil results triggers a search list re-render.
type update struct {
	signals map[string]any
	results *searchResults
}

// searchResults is a settled search outcome bound for the UI. An empty
// query means the list was cleared.
type searchResults struct {
	query  string
	places []geocode.Place
}

// Session is the server-side state for one open page: the map adapter
// shared through the registry, the debounced reverse geocoder and place
// search, and the wizard assembling the report draft.
type Session struct {
	ID        string
	CreatedAt time.Time

	adapter  *mapsync.Adapter
	release  func()
	resolver *geocode.Resolver
	search   *geocode.Search
	wizard   *report.Wizard

	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger

	mu       sync.Mutex
	lastSeen time.Time
	results  []geocode.Place
	closed   bool

	updates chan update
}

// Updates is the stream of UI state changes. The camera SSE handler is
// the single consumer.
func (s *Session) Updates() <-chan update {
	return s.updates
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Touch marks the session as recently used.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) expired(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen) > ttl
}

// MapEvent feeds a raw widget event into the gesture filter. Whether
// anything reaches the UI is up to the filter.
func (s *Session) MapEvent(phase string, c geo.Coordinate) error {
	if !c.Valid() {
		return fmt.Errorf("position %s out of range", c)
	}
	s.Touch()
	s.adapter.NativeEvent(mapsync.ParsePhase(phase), c)
	return nil
}

// SearchRequest forwards a query to the debounced place search.
func (s *Session) SearchRequest(query string) {
	s.Touch()
	if strings.TrimSpace(query) != "" {
		s.push(update{signals: map[string]any{"searching": true}})
	}
	s.search.Request(query)
}

// SelectResult adopts a search result as the draft location: the draft
// gets the place's coordinate and label, the camera recenters exactly
// once (dropped if the user is mid-drag), and any pending reverse
// geocode is cancelled since the place label is authoritative.
func (s *Session) SelectResult(index int) (geocode.Place, error) {
	s.Touch()

	s.mu.Lock()
	if index < 0 || index >= len(s.results) {
		s.mu.Unlock()
		return geocode.Place{}, fmt.Errorf("no search result at index %d", index)
	}
	place := s.results[index]
	s.results = nil
	s.mu.Unlock()

	s.resolver.Cancel()
	if err := s.wizard.SetLocation(place.At, place.Label); err != nil {
		return geocode.Place{}, err
	}
	s.adapter.SetCenter(place.At, true)

	s.push(update{
		signals: map[string]any{
			"pickerlon":       place.At.Lon,
			"pickerlat":       place.At.Lat,
			"pickeraddress":   place.Label,
			"pickerresolving": false,
			"searchquery":     "",
			"searching":       false,
		},
		results: &searchResults{},
	})
	return place, nil
}

// Locate adopts a browser geolocation fix: draft location, one camera
// recenter, and a reverse geocode for the display address.
func (s *Session) Locate(c geo.Coordinate) error {
	if !c.Valid() {
		return fmt.Errorf("position %s out of range", c)
	}
	s.Touch()

	if err := s.wizard.SetLocation(c, ""); err != nil {
		return err
	}
	s.adapter.SetCenter(c, true)
	s.push(update{signals: map[string]any{
		"pickerlon":       c.Lon,
		"pickerlat":       c.Lat,
		"pickerresolving": true,
		"pickermessage":   "",
	}})
	s.resolver.Request(c)
	return nil
}

// LocateFailed surfaces a geolocation denial or failure as a message.
// There is no fallback position; the map stays where it is.
func (s *Session) LocateFailed(status string) {
	s.Touch()

	var msg string
	switch status {
	case "denied":
		msg = "Location access was denied. Move the map to pick the spot instead."
	case "timeout":
		msg = "Locating you took too long. Move the map to pick the spot instead."
	default:
		msg = "Your location is unavailable. Move the map to pick the spot instead."
	}
	s.push(update{signals: map[string]any{"pickermessage": msg}})
}

// Snapshot returns the signals a freshly connected camera stream needs
// to catch up with the session.
func (s *Session) Snapshot() map[string]any {
	c := s.adapter.Center()
	d := s.wizard.Draft()

	address := d.Address
	if address == "" && d.HasLocation {
		address = d.Coordinate.FallbackLabel()
	}

	return map[string]any{
		"pickerlon":       c.Lon,
		"pickerlat":       c.Lat,
		"pickeraddress":   address,
		"pickerresolving": false,
		"wizardstep":      int(s.wizard.Step()),
		"markers":         markerSignals(s.adapter.Markers()),
	}
}

// Close releases the session's adapter, timers, and in-flight lookups.
// Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.resolver.Stop()
	s.search.Stop()
	if s.release != nil {
		s.release()
	}
	s.log.Debug("session closed")
}

// onCenter receives meaningful center changes from the gesture filter.
// The coordinate reaches the UI and the draft immediately; the address
// follows once the reverse geocode settles.
func (s *Session) onCenter(c geo.Coordinate) {
	if err := s.wizard.SetLocation(c, ""); err != nil {
		return
	}
	s.push(update{signals: map[string]any{
		"pickerlon":       c.Lon,
		"pickerlat":       c.Lat,
		"pickerresolving": true,
	}})
	s.resolver.Request(c)
}

// deliverAddress runs under the resolver lock; keep it quick.
func (s *Session) deliverAddress(a geocode.Address) {
	s.wizard.SetAddress(a.Label)
	s.push(update{signals: map[string]any{
		"pickeraddress":   a.Label,
		"pickerresolving": false,
	}})
}

// deliverResults runs under the search lock; keep it quick.
func (s *Session) deliverResults(r geocode.Results) {
	s.mu.Lock()
	s.results = r.Places
	s.mu.Unlock()

	s.push(update{
		signals: map[string]any{"searching": false},
		results: &searchResults{query: r.Query, places: r.Places},
	})
}

// push queues an update without blocking. A full queue drops the
// update; the next snapshot or change catches the stream up.
func (s *Session) push(u update) {
	select {
	case s.updates <- u:
	default:
		s.log.Debug("session update dropped")
	}
}
