// Package geocode turns coordinates into addresses and free-text
// queries into places. The network provider sits behind the Geocoder
// interface; the Resolver and Search types add the debouncing and
// staleness handling interactive callers need.
package geocode

import (
	"context"
	"errors"

	"github.com/roadwatch/roadwatch/internal/geo"
)

// ErrNoResult means the provider answered but found nothing for the
// position or query.
var ErrNoResult = errors.New("geocode: no result")

// Place is a geocoding result.
type Place struct {
	// Label is the full human-readable address or place name.
	Label string
	// At is the place position.
	At geo.Coordinate
	// Category and Kind classify the place (road, amenity, ...).
	Category string
	Kind     string
	// Importance ranks search results; higher is better.
	Importance float64
}

// Geocoder resolves coordinates and queries against some provider.
// Implementations must be safe for concurrent use.
type Geocoder interface {
	// Reverse returns the place at a coordinate, or ErrNoResult.
	Reverse(ctx context.Context, c geo.Coordinate) (Place, error)
	// Search returns up to limit places matching the query, best
	// first. An empty result is ErrNoResult.
	Search(ctx context.Context, query string, limit int) ([]Place, error)
}
