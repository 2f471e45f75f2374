package webui

import (
	"sync/atomic"

	"github.com/roadwatch/roadwatch/internal/geo"
	"github.com/roadwatch/roadwatch/internal/mapsync"
)

// datastarWidget is the server-side mapsync.Widget. Instead of driving
// a map directly it publishes camera jumps and marker sets as Datastar
// signals on the session's update stream; the browser watches those
// signals and applies them to the MapLibre widget.
type datastarWidget struct {
	push func(update)
	// seq disambiguates repeated jumps to the same position so the
	// browser effect fires every time.
	seq atomic.Int64
}

func newDatastarWidget(push func(update)) *datastarWidget {
	return &datastarWidget{push: push}
}

func (w *datastarWidget) Load(center geo.Coordinate, zoom float64) error {
	w.pushCamera(center, zoom)
	return nil
}

func (w *datastarWidget) JumpTo(center geo.Coordinate, zoom float64) {
	w.pushCamera(center, zoom)
}

func (w *datastarWidget) ReplaceMarkers(markers []mapsync.Marker) {
	w.push(update{signals: map[string]any{
		"markers": markerSignals(markers),
	}})
}

func (w *datastarWidget) pushCamera(center geo.Coordinate, zoom float64) {
	w.push(update{signals: map[string]any{
		"camlon":  center.Lon,
		"camlat":  center.Lat,
		"camzoom": zoom,
		"camseq":  w.seq.Add(1),
	}})
}

// markerSignals converts markers to the signal payload the browser
// renders from.
func markerSignals(markers []mapsync.Marker) []map[string]any {
	out := make([]map[string]any, len(markers))
	for i, m := range markers {
		out[i] = map[string]any{
			"id":    m.ID,
			"lon":   m.At.Lon,
			"lat":   m.At.Lat,
			"label": m.Label,
		}
	}
	return out
}
