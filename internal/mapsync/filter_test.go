package mapsync

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/roadwatch/roadwatch/internal/geo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// collector records filtered emissions for assertions.
type collector struct {
	mu     sync.Mutex
	coords []geo.Coordinate
}

func (c *collector) emit(coord geo.Coordinate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.coords = append(c.coords, coord)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.coords)
}

func (c *collector) last() geo.Coordinate {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.coords) == 0 {
		return geo.Coordinate{}
	}
	return c.coords[len(c.coords)-1]
}

func TestFilterIdleEpsilon(t *testing.T) {
	var got collector
	f := NewFilter(5, 0, got.emit, nil)
	defer f.Stop()

	base := geo.New(120.9842, 14.5995)
	f.Handle(PhaseMove, base)
	if got.count() != 1 {
		t.Fatalf("first move: got %d emissions, want 1", got.count())
	}

	// Roughly 1m north, inside the 5m epsilon.
	f.Handle(PhaseMove, geo.New(120.9842, 14.59951))
	if got.count() != 1 {
		t.Errorf("sub-epsilon move leaked through: %d emissions", got.count())
	}

	// Roughly 110m north, well outside.
	far := geo.New(120.9842, 14.6005)
	f.Handle(PhaseMove, far)
	if got.count() != 2 {
		t.Fatalf("super-epsilon move: got %d emissions, want 2", got.count())
	}
	if got.last() != far {
		t.Errorf("last emission = %v, want %v", got.last(), far)
	}
}

func TestFilterDragBurstCollapses(t *testing.T) {
	var got collector
	f := NewFilter(0, 250*time.Millisecond, got.emit, nil)
	defer f.Stop()

	f.Handle(PhaseDragStart, geo.New(120.98, 14.59))

	// Five positions in quick succession, all within one interval.
	positions := []geo.Coordinate{
		geo.New(120.980, 14.59),
		geo.New(120.981, 14.59),
		geo.New(120.982, 14.59),
		geo.New(120.983, 14.59),
		geo.New(120.984, 14.59),
	}
	for _, p := range positions {
		f.Handle(PhaseDragMove, p)
		time.Sleep(10 * time.Millisecond)
	}

	// First move emits immediately, the rest collapse into one
	// trailing flush.
	time.Sleep(400 * time.Millisecond)

	if got.count() != 2 {
		t.Fatalf("got %d emissions, want 2 (leading + trailing)", got.count())
	}
	if got.last() != positions[len(positions)-1] {
		t.Errorf("trailing flush = %v, want latest position %v", got.last(), positions[len(positions)-1])
	}
}

func TestFilterDragEndAlwaysEmits(t *testing.T) {
	var got collector
	f := NewFilter(0, 300*time.Millisecond, got.emit, nil)
	defer f.Stop()

	f.Handle(PhaseDragStart, geo.New(120.98, 14.59))
	f.Handle(PhaseDragMove, geo.New(120.981, 14.59)) // leading emit
	f.Handle(PhaseDragMove, geo.New(120.982, 14.59)) // suppressed
	final := geo.New(120.99, 14.60)
	f.Handle(PhaseDragEnd, final)

	if got.count() != 2 {
		t.Fatalf("got %d emissions, want 2", got.count())
	}
	if got.last() != final {
		t.Errorf("final emission = %v, want drag-end position %v", got.last(), final)
	}

	// The suppressed intermediate position must not arrive later.
	time.Sleep(500 * time.Millisecond)
	if got.count() != 2 {
		t.Errorf("trailing flush fired after drag end: %d emissions", got.count())
	}
}

func TestFilterDragSurvivesPauses(t *testing.T) {
	var got collector
	f := NewFilter(0, 20*time.Millisecond, got.emit, nil)
	defer f.Stop()

	f.Handle(PhaseDragStart, geo.New(120.98, 14.59))
	f.Handle(PhaseDragMove, geo.New(120.981, 14.59))
	if !f.Dragging() {
		t.Fatal("expected dragging after dragstart")
	}

	// The user holds still mid-gesture far longer than any timer.
	time.Sleep(150 * time.Millisecond)
	if !f.Dragging() {
		t.Error("pause ended the gesture; only dragend may do that")
	}

	f.Handle(PhaseDragEnd, geo.New(120.982, 14.59))
	if f.Dragging() {
		t.Error("still dragging after dragend")
	}
}

func TestFilterMoveDuringDragIgnored(t *testing.T) {
	var got collector
	f := NewFilter(0, 0, got.emit, nil)
	defer f.Stop()

	f.Handle(PhaseDragStart, geo.New(120.98, 14.59))
	f.Handle(PhaseMove, geo.New(121.0, 14.7))
	if got.count() != 0 {
		t.Errorf("plain move during drag emitted: %d", got.count())
	}
}

func TestFilterDragMoveWithoutStart(t *testing.T) {
	var got collector
	f := NewFilter(0, time.Hour, got.emit, nil)
	defer f.Stop()

	f.Handle(PhaseDragMove, geo.New(120.98, 14.59))
	if !f.Dragging() {
		t.Error("drag move without dragstart should adopt the gesture")
	}
	if got.count() != 1 {
		t.Errorf("got %d emissions, want 1", got.count())
	}
}

func TestFilterStopCancelsTrailing(t *testing.T) {
	var got collector
	f := NewFilter(0, 50*time.Millisecond, got.emit, nil)

	f.Handle(PhaseDragStart, geo.New(120.98, 14.59))
	f.Handle(PhaseDragMove, geo.New(120.981, 14.59))
	f.Handle(PhaseDragMove, geo.New(120.982, 14.59)) // pending trailing
	f.Stop()

	time.Sleep(120 * time.Millisecond)
	if got.count() != 1 {
		t.Errorf("emissions after Stop: got %d, want 1", got.count())
	}

	f.Handle(PhaseDragEnd, geo.New(120.99, 14.60))
	if got.count() != 1 {
		t.Errorf("stopped filter still handling events: %d", got.count())
	}
}

func TestParsePhase(t *testing.T) {
	tests := []struct {
		in   string
		want Phase
	}{
		{"dragstart", PhaseDragStart},
		{"drag", PhaseDragMove},
		{"dragmove", PhaseDragMove},
		{"dragend", PhaseDragEnd},
		{"move", PhaseMove},
		{"zoomend", PhaseMove},
		{"", PhaseMove},
	}
	for _, tt := range tests {
		if got := ParsePhase(tt.in); got != tt.want {
			t.Errorf("ParsePhase(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
