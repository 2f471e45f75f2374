// Package geo provides the coordinate value type shared by the map,
// geocoding, and reporting layers.
//
// Coordinates are WGS84 and travel on the wire as a two-element
// [longitude, latitude] JSON array, matching the GeoJSON axis order.
package geo

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// Coordinate is an immutable longitude/latitude pair.
type Coordinate struct {
	Lon float64
	Lat float64
}

// New returns a coordinate from a longitude and latitude.
func New(lon, lat float64) Coordinate {
	return Coordinate{Lon: lon, Lat: lat}
}

// Valid reports whether both components are finite numbers within
// WGS84 bounds. Callers must reject invalid coordinates instead of
// clamping them.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lon) || math.IsInf(c.Lon, 0) {
		return false
	}
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) {
		return false
	}
	return c.Lon >= -180 && c.Lon <= 180 && c.Lat >= -90 && c.Lat <= 90
}

// Point converts the coordinate to an orb point.
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Lon, c.Lat}
}

// DistanceMeters returns the haversine distance to another coordinate.
func (c Coordinate) DistanceMeters(other Coordinate) float64 {
	return orbgeo.Distance(c.Point(), other.Point())
}

// FallbackLabel renders the coordinate as a human-readable
// "lat, lon" string with six decimal places. It is the display text
// used whenever reverse geocoding fails or returns nothing, so the
// format must stay stable.
func (c Coordinate) FallbackLabel() string {
	return fmt.Sprintf("%.6f, %.6f", c.Lat, c.Lon)
}

// String implements fmt.Stringer using the fallback label format.
func (c Coordinate) String() string {
	return c.FallbackLabel()
}

// MarshalJSON encodes the coordinate as [lon, lat].
func (c Coordinate) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{c.Lon, c.Lat})
}

// UnmarshalJSON decodes a [lon, lat] pair.
func (c *Coordinate) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("coordinate must be a [lon, lat] pair: %w", err)
	}
	c.Lon, c.Lat = pair[0], pair[1]
	return nil
}

// ParsePair parses a JSON "[lon, lat]" string, the form used in
// multipart form fields.
func ParsePair(s string) (Coordinate, error) {
	var c Coordinate
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return Coordinate{}, err
	}
	if !c.Valid() {
		return Coordinate{}, fmt.Errorf("coordinate out of range: %s", c)
	}
	return c, nil
}

// Schema describes the wire form for OpenAPI generation, since the
// JSON shape is an array rather than the struct fields.
func (c Coordinate) Schema(r huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type:        huma.TypeArray,
		Description: "Position as [longitude, latitude]",
		MinItems:    ptr(2),
		MaxItems:    ptr(2),
		Items:       &huma.Schema{Type: huma.TypeNumber},
	}
}

func ptr[T any](v T) *T { return &v }
