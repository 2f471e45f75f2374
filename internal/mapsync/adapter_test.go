package mapsync

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadwatch/roadwatch/internal/geo"
)

// fakeWidget records adapter calls.
type fakeWidget struct {
	mu          sync.Mutex
	loadErr     error
	loads       int
	loadCenter  geo.Coordinate
	jumps       []geo.Coordinate
	markerCalls int
	lastMarkers []Marker
}

func (w *fakeWidget) Load(center geo.Coordinate, zoom float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.loadErr != nil {
		return w.loadErr
	}
	w.loads++
	w.loadCenter = center
	return nil
}

func (w *fakeWidget) JumpTo(center geo.Coordinate, zoom float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jumps = append(w.jumps, center)
}

func (w *fakeWidget) ReplaceMarkers(markers []Marker) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.markerCalls++
	w.lastMarkers = markers
}

func (w *fakeWidget) jumpCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.jumps)
}

func newTestAdapter(t *testing.T, w Widget, onCenter Listener) *Adapter {
	t.Helper()
	a := New(Config{
		Widget:          w,
		EpsilonMeters:   1,
		MinEmitInterval: 10 * time.Millisecond,
		OnCenter:        onCenter,
	})
	t.Cleanup(a.Close)
	return a
}

func TestAdapterInitOnce(t *testing.T) {
	w := &fakeWidget{}
	a := newTestAdapter(t, w, nil)

	center := geo.New(120.9842, 14.5995)
	require.NoError(t, a.Init(center, 15))
	assert.True(t, a.Initialized())
	assert.Equal(t, center, a.Center())
	assert.Equal(t, 1, w.loads)

	err := a.Init(geo.New(121, 15), 12)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, 1, w.loads)
	assert.Equal(t, center, a.Center(), "failed re-init must not move the center")
}

func TestAdapterInitWidgetFailure(t *testing.T) {
	w := &fakeWidget{loadErr: errors.New("tiles unreachable")}
	a := newTestAdapter(t, w, nil)

	err := a.Init(geo.New(120.9842, 14.5995), 15)
	require.Error(t, err)
	assert.False(t, a.Initialized())

	// The adapter stays usable: a retry after the widget recovers
	// succeeds.
	w.loadErr = nil
	require.NoError(t, a.Init(geo.New(120.9842, 14.5995), 15))
	assert.True(t, a.Initialized())
}

func TestAdapterInitRejectsInvalidCenter(t *testing.T) {
	w := &fakeWidget{}
	a := newTestAdapter(t, w, nil)

	err := a.Init(geo.New(500, 100), 15)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyInitialized)
	assert.Zero(t, w.loads)
}

func TestSetCenterNeverEmits(t *testing.T) {
	var emissions int
	var mu sync.Mutex
	w := &fakeWidget{}
	a := newTestAdapter(t, w, func(geo.Coordinate) {
		mu.Lock()
		emissions++
		mu.Unlock()
	})
	require.NoError(t, a.Init(geo.New(120.9842, 14.5995), 15))

	target := geo.New(122.5726, 10.7202)
	a.SetCenter(target, true)

	assert.Equal(t, target, a.Center())
	assert.Equal(t, 1, w.jumpCount(), "recenter should move the camera")

	a.SetCenter(geo.New(121.0, 14.0), false)
	assert.Equal(t, geo.New(121.0, 14.0), a.Center())
	assert.Equal(t, 1, w.jumpCount(), "bookkeeping update must not move the camera")

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, emissions, "programmatic updates must never reach listeners")
}

func TestSetCenterDroppedDuringDrag(t *testing.T) {
	w := &fakeWidget{}
	a := newTestAdapter(t, w, nil)
	require.NoError(t, a.Init(geo.New(120.9842, 14.5995), 15))

	dragPos := geo.New(120.99, 14.60)
	a.NativeEvent(PhaseDragStart, dragPos)
	require.True(t, a.Dragging())

	a.SetCenter(geo.New(122.5726, 10.7202), true)
	assert.Zero(t, w.jumpCount(), "recenter during drag must be dropped")
	assert.Equal(t, dragPos, a.Center(), "dropped recenter must not overwrite the drag position")

	// Bookkeeping-only updates still land; they do not fight the
	// gesture visually.
	book := geo.New(121.5, 14.2)
	a.SetCenter(book, false)
	assert.Equal(t, book, a.Center())

	a.NativeEvent(PhaseDragEnd, dragPos)
	assert.False(t, a.Dragging())

	a.SetCenter(geo.New(122.5726, 10.7202), true)
	assert.Equal(t, 1, w.jumpCount(), "recenter after drag end goes through")
}

func TestSetMarkersIdempotent(t *testing.T) {
	w := &fakeWidget{}
	a := newTestAdapter(t, w, nil)
	require.NoError(t, a.Init(geo.New(120.9842, 14.5995), 15))

	markers := []Marker{
		{ID: "e1", At: geo.New(120.98, 14.59), Label: "Pothole on Quirino Ave"},
		{ID: "e2", At: geo.New(120.99, 14.60), Label: "Alligator cracking"},
	}
	a.SetMarkers(markers)
	a.SetMarkers(markers)
	a.SetMarkers([]Marker{markers[0], markers[1]})

	assert.Equal(t, 1, w.markerCalls, "identical marker sets must not hit the widget again")

	a.SetMarkers(markers[:1])
	assert.Equal(t, 2, w.markerCalls)
	assert.Len(t, a.Markers(), 1)
}

func TestNativeEventFlowsThroughFilter(t *testing.T) {
	var mu sync.Mutex
	var got []geo.Coordinate
	w := &fakeWidget{}
	a := newTestAdapter(t, w, func(c geo.Coordinate) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	})
	require.NoError(t, a.Init(geo.New(120.9842, 14.5995), 15))

	a.NativeEvent(PhaseDragStart, geo.New(120.9842, 14.5995))
	final := geo.New(120.99, 14.60)
	a.NativeEvent(PhaseDragEnd, final)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, final, got[len(got)-1])
	assert.Equal(t, final, a.Center())
}

func TestNativeEventRejectsInvalid(t *testing.T) {
	var emissions int
	var mu sync.Mutex
	w := &fakeWidget{}
	a := newTestAdapter(t, w, func(geo.Coordinate) {
		mu.Lock()
		emissions++
		mu.Unlock()
	})
	require.NoError(t, a.Init(geo.New(120.9842, 14.5995), 15))

	before := a.Center()
	a.NativeEvent(PhaseMove, geo.New(999, 14.5))

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, emissions)
	assert.Equal(t, before, a.Center())
}
