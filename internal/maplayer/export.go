package maplayer

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"golang.org/x/sync/errgroup"

	"github.com/roadwatch/roadwatch/internal/backend"
	"github.com/roadwatch/roadwatch/internal/pmtiles"
)

// ProgressFunc is called with progress updates during an export.
type ProgressFunc func(progress int, status string)

// Export writes every entry tile between minZoom and maxZoom into a
// single PMTiles archive at path. Zoom levels render concurrently;
// points land in exactly one tile per level so the levels never
// contend on shared state.
func Export(path string, entries []backend.Entry, minZoom, maxZoom int, onProgress ProgressFunc) error {
	if minZoom < 0 || maxZoom > 22 || minZoom > maxZoom {
		return fmt.Errorf("invalid zoom range %d..%d", minZoom, maxZoom)
	}
	if onProgress == nil {
		onProgress = func(int, string) {}
	}

	onProgress(10, "Collecting report features...")

	var points orb.MultiPoint
	for _, e := range entries {
		if e.Coordinates.Valid() {
			points = append(points, e.Coordinates.Point())
		}
	}
	if len(points) == 0 {
		return fmt.Errorf("no reports to export")
	}
	bound := points.Bound()

	onProgress(30, "Rendering tiles...")

	levels := make([]map[maptile.Tile][]byte, maxZoom-minZoom+1)
	var (
		g    errgroup.Group
		mu   sync.Mutex
		done int
	)
	total := maxZoom - minZoom + 1
	for z := minZoom; z <= maxZoom; z++ {
		g.Go(func() error {
			tiles, err := zoomLevel(entries, maptile.Zoom(z))
			if err != nil {
				return err
			}
			mu.Lock()
			levels[z-minZoom] = tiles
			done++
			onProgress(30+done*60/total, fmt.Sprintf("Rendered %d/%d zoom levels", done, total))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	onProgress(95, "Writing archive...")

	w := pmtiles.NewWriter(pmtiles.Mvt, uint8(minZoom), uint8(maxZoom))
	w.SetMetadata(map[string]any{
		"name":        "roadwatch-reports",
		"format":      "pbf",
		"compression": "gzip",
		"minzoom":     minZoom,
		"maxzoom":     maxZoom,
		"vector_layers": []map[string]any{{
			"id": LayerName,
			"fields": map[string]string{
				"id":               "String",
				"title":            "String",
				"severity":         "String",
				"type":             "String",
				"created_at":       "String",
				"total_cracks":     "Number",
				"detection_status": "String",
			},
		}},
	})
	w.SetBounds(bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1])
	center := bound.Center()
	w.SetCenter(center[0], center[1], uint8((minZoom+maxZoom)/2))

	for i, tiles := range levels {
		z := uint8(minZoom + i)
		for tile, data := range tiles {
			w.Add(z, tile.X, tile.Y, data)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer f.Close()
	if _, err := w.WriteTo(f); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("flushing archive: %w", err)
	}

	onProgress(100, "Overlay exported successfully!")
	return nil
}

// zoomLevel groups entries by the tile each point falls in, then
// renders the groups. Rendering per group keeps Tile from rescanning
// the full entry set for every tile.
func zoomLevel(entries []backend.Entry, zoom maptile.Zoom) (map[maptile.Tile][]byte, error) {
	groups := make(map[maptile.Tile][]backend.Entry)
	for _, e := range entries {
		if !e.Coordinates.Valid() {
			continue
		}
		tile := maptile.At(e.Coordinates.Point(), zoom)
		groups[tile] = append(groups[tile], e)
	}

	// Deterministic iteration so retries produce identical archives.
	tiles := make([]maptile.Tile, 0, len(groups))
	for tile := range groups {
		tiles = append(tiles, tile)
	}
	sort.Slice(tiles, func(i, j int) bool {
		a, b := tiles[i], tiles[j]
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})

	out := make(map[maptile.Tile][]byte, len(groups))
	for _, tile := range tiles {
		data, err := Tile(groups[tile], tile)
		if err != nil {
			return nil, err
		}
		if len(data) > 0 {
			out[tile] = data
		}
	}
	return out, nil
}
