// Package maplayer renders report entries as vector tiles.
//
// The map widget draws reports from an "entries" vector layer rather
// than individual DOM markers, which keeps the browser responsive once
// a city has a few thousand reports. Tiles are built in-process from
// the entry cache, so the overlay needs no external tiling binary.
package maplayer

import (
	"fmt"
	"time"

	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"

	"github.com/roadwatch/roadwatch/internal/backend"
)

// LayerName is the vector layer id map clients address in their style.
const LayerName = "entries"

// FeatureCollection renders entries as GeoJSON points. Entries with
// out-of-range coordinates are skipped.
func FeatureCollection(entries []backend.Entry) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, e := range entries {
		if !e.Coordinates.Valid() {
			continue
		}
		fc.Append(entryFeature(e))
	}
	return fc
}

func entryFeature(e backend.Entry) *geojson.Feature {
	f := geojson.NewFeature(e.Coordinates.Point())
	f.Properties = geojson.Properties{
		"id":       e.ID,
		"title":    e.Title,
		"severity": e.Severity,
	}
	if e.Type != "" {
		f.Properties["type"] = e.Type
	}
	if !e.CreatedAt.IsZero() {
		f.Properties["created_at"] = e.CreatedAt.Format(time.RFC3339)
	}
	if e.DetectionInfo != nil {
		f.Properties["total_cracks"] = e.DetectionInfo.TotalCracks
		f.Properties["detection_status"] = e.DetectionInfo.Status
	}
	return f
}

// Tile renders the entries that fall inside one tile as gzipped MVT.
// Returns nil data when no entry lands in the tile.
func Tile(entries []backend.Entry, tile maptile.Tile) ([]byte, error) {
	bound := tile.Bound()

	fc := geojson.NewFeatureCollection()
	for _, e := range entries {
		if !e.Coordinates.Valid() || !bound.Contains(e.Coordinates.Point()) {
			continue
		}
		fc.Append(entryFeature(e))
	}
	if len(fc.Features) == 0 {
		return nil, nil
	}

	layer := mvt.NewLayer(LayerName, fc)
	layer.Clip(bound)
	layer.ProjectToTile(tile)

	data, err := mvt.MarshalGzipped(mvt.Layers{layer})
	if err != nil {
		return nil, fmt.Errorf("encoding tile %d/%d/%d: %w", tile.Z, tile.X, tile.Y, err)
	}
	return data, nil
}
