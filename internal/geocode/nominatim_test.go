package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadwatch/roadwatch/internal/geo"
)

func newNominatimTest(t *testing.T, handler http.HandlerFunc) *Nominatim {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	n, err := NewNominatim(NominatimConfig{
		BaseURL:   server.URL,
		UserAgent: "roadwatch-test/1.0",
	})
	require.NoError(t, err)
	return n
}

func TestNominatimReverse(t *testing.T) {
	n := newNominatimTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "roadwatch-test/1.0", r.Header.Get("User-Agent"))
		assert.NotEmpty(t, r.URL.Query().Get("lat"))
		assert.NotEmpty(t, r.URL.Query().Get("lon"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"place_id": 1234,
			"display_name": "Quirino Avenue, Paco, Manila, Metro Manila, Philippines",
			"lat": "14.5995",
			"lon": "120.9842",
			"category": "highway",
			"type": "primary",
			"importance": 0.42
		}`))
	})

	p, err := n.Reverse(context.Background(), geo.New(120.9842, 14.5995))
	require.NoError(t, err)
	assert.Equal(t, "Quirino Avenue, Paco, Manila, Metro Manila, Philippines", p.Label)
	assert.InDelta(t, 120.9842, p.At.Lon, 1e-6)
	assert.InDelta(t, 14.5995, p.At.Lat, 1e-6)
	assert.Equal(t, "highway", p.Category)
	assert.Equal(t, "primary", p.Kind)
}

func TestNominatimReverseUnableToGeocode(t *testing.T) {
	n := newNominatimTest(t, func(w http.ResponseWriter, r *http.Request) {
		// Nominatim answers 200 with an error body for open ocean.
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error": "Unable to geocode"}`))
	})

	_, err := n.Reverse(context.Background(), geo.New(-140.0, -20.0))
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestNominatimReverseRejectsInvalidCoordinate(t *testing.T) {
	called := false
	n := newNominatimTest(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := n.Reverse(context.Background(), geo.New(500, 0))
	assert.Error(t, err)
	assert.False(t, called, "invalid coordinates must not reach the network")
}

func TestNominatimSearch(t *testing.T) {
	n := newNominatimTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Iloilo", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{
				"place_id": 1,
				"display_name": "Iloilo City, Western Visayas, Philippines",
				"lat": "10.7202",
				"lon": "122.5726",
				"category": "boundary",
				"type": "administrative",
				"importance": 0.65
			},
			{
				"place_id": 2,
				"display_name": "Iloilo, Western Visayas, Philippines",
				"lat": "10.72",
				"lon": "122.56",
				"category": "boundary",
				"type": "administrative",
				"importance": 0.55
			}
		]`))
	})

	places, err := n.Search(context.Background(), "Iloilo", 5)
	require.NoError(t, err)
	require.Len(t, places, 2)
	assert.Equal(t, "Iloilo City, Western Visayas, Philippines", places[0].Label)
	assert.InDelta(t, 122.5726, places[0].At.Lon, 1e-6)
	assert.InDelta(t, 10.7202, places[0].At.Lat, 1e-6)
}

func TestNominatimSearchEmpty(t *testing.T) {
	n := newNominatimTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	})

	_, err := n.Search(context.Background(), "xyzzy", 5)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestNominatimSearchSkipsMalformedEntries(t *testing.T) {
	n := newNominatimTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"place_id": 1, "display_name": "Broken", "lat": "not-a-number", "lon": "122.56"},
			{"place_id": 2, "display_name": "Fine", "lat": "10.72", "lon": "122.56"}
		]`))
	})

	places, err := n.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, places, 1)
	assert.Equal(t, "Fine", places[0].Label)
}

func TestNominatimServerError(t *testing.T) {
	n := newNominatimTest(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bandwidth exceeded", http.StatusTooManyRequests)
	})

	_, err := n.Reverse(context.Background(), geo.New(120.98, 14.59))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoResult)
}

func TestNominatimConfigValidation(t *testing.T) {
	_, err := NewNominatim(NominatimConfig{UserAgent: "x"})
	assert.Error(t, err, "base URL required")

	_, err = NewNominatim(NominatimConfig{BaseURL: "https://nominatim.example"})
	assert.Error(t, err, "user agent required")
}
