package geocode

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadwatch/roadwatch/internal/geo"
)

type resultsSink struct {
	mu   sync.Mutex
	sets []Results
}

func (s *resultsSink) deliver(r Results) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets = append(s.sets, r)
}

func (s *resultsSink) snapshot() []Results {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Results(nil), s.sets...)
}

func TestSearchDebouncesKeystrokes(t *testing.T) {
	fake := &fakeGeocoder{}
	fake.searchFn = func(query string, limit int) ([]Place, error) {
		return []Place{{Label: "Iloilo City, Western Visayas, Philippines", At: geo.New(122.5726, 10.7202)}}, nil
	}

	sink := &resultsSink{}
	s := NewSearch(SearchConfig{
		Geocoder: fake,
		Quiet:    50 * time.Millisecond,
		Deliver:  sink.deliver,
	})
	defer s.Stop()

	// Typing "Iloilo" one chunk at a time, faster than the quiet
	// period.
	for _, q := range []string{"Il", "Iloi", "Iloilo"} {
		s.Request(q)
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), fake.searchCalls.Load(), "keystroke burst must collapse to one query")
	got := sink.snapshot()[0]
	assert.Equal(t, "Iloilo", got.Query)
	require.Len(t, got.Places, 1)
	assert.Equal(t, geo.New(122.5726, 10.7202), got.Places[0].At)
}

func TestSearchEmptyQueryClearsWithoutNetwork(t *testing.T) {
	fake := &fakeGeocoder{}
	sink := &resultsSink{}
	s := NewSearch(SearchConfig{
		Geocoder: fake,
		Quiet:    30 * time.Millisecond,
		Deliver:  sink.deliver,
	})
	defer s.Stop()

	s.Request("pothole ave")
	time.Sleep(5 * time.Millisecond)
	s.Request("   ")

	// The clear is synchronous.
	got := sink.snapshot()
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Query)
	assert.Empty(t, got[0].Places)

	// And the superseded query never reaches the provider.
	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, fake.searchCalls.Load())
	assert.Len(t, sink.snapshot(), 1)
}

func TestSearchDiscardsStaleResults(t *testing.T) {
	release := make(chan struct{})
	fake := &fakeGeocoder{}
	fake.searchFn = func(query string, limit int) ([]Place, error) {
		if query == "first" {
			<-release
		}
		return []Place{{Label: query}}, nil
	}

	sink := &resultsSink{}
	s := NewSearch(SearchConfig{
		Geocoder: fake,
		Quiet:    10 * time.Millisecond,
		Deliver:  sink.deliver,
	})
	defer s.Stop()

	s.Request("first")
	require.Eventually(t, func() bool {
		return fake.searchCalls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	s.Request("second")
	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	close(release)
	time.Sleep(50 * time.Millisecond)

	got := sink.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Query)
}

func TestSearchProviderErrorDegradesToEmpty(t *testing.T) {
	fake := &fakeGeocoder{}
	fake.searchFn = func(string, int) ([]Place, error) {
		return nil, errors.New("upstream 502")
	}

	sink := &resultsSink{}
	s := NewSearch(SearchConfig{
		Geocoder: fake,
		Quiet:    10 * time.Millisecond,
		Deliver:  sink.deliver,
	})
	defer s.Stop()

	s.Request("kalsada")

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	got := sink.snapshot()[0]
	assert.Empty(t, got.Places)
	assert.Error(t, got.Err)
}

func TestSearchNoResultIsNotAnError(t *testing.T) {
	fake := &fakeGeocoder{}
	fake.searchFn = func(string, int) ([]Place, error) {
		return nil, ErrNoResult
	}

	sink := &resultsSink{}
	s := NewSearch(SearchConfig{
		Geocoder: fake,
		Quiet:    10 * time.Millisecond,
		Deliver:  sink.deliver,
	})
	defer s.Stop()

	s.Request("xyzzy")

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	got := sink.snapshot()[0]
	assert.Empty(t, got.Places)
	assert.NoError(t, got.Err, "an empty match list is a normal outcome")
}
