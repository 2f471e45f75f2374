package maplayer

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadwatch/roadwatch/internal/backend"
	"github.com/roadwatch/roadwatch/internal/geo"
	"github.com/roadwatch/roadwatch/internal/pmtiles"
)

func sampleEntries() []backend.Entry {
	return []backend.Entry{
		{
			ID:          "e-manila",
			Title:       "Pothole on Quirino Ave",
			Severity:    "major",
			Type:        "pothole",
			Coordinates: geo.New(120.9842, 14.5995),
			CreatedAt:   time.Date(2026, 8, 19, 10, 0, 0, 0, time.UTC),
			DetectionInfo: &backend.DetectionInfo{
				TotalCracks: 4,
				Status:      backend.DetectionCompleted,
			},
		},
		{
			ID:          "e-iloilo",
			Title:       "Alligator cracking near the esplanade",
			Severity:    "minor",
			Type:        "alligator",
			Coordinates: geo.New(122.5726, 10.7202),
			CreatedAt:   time.Date(2026, 8, 18, 9, 30, 0, 0, time.UTC),
		},
		{
			ID:          "e-bogus",
			Title:       "Broken coordinates",
			Severity:    "minor",
			Coordinates: geo.Coordinate{Lon: 500, Lat: 99},
		},
	}
}

func TestFeatureCollectionSkipsInvalidCoordinates(t *testing.T) {
	fc := FeatureCollection(sampleEntries())
	require.Len(t, fc.Features, 2)

	f := fc.Features[0]
	assert.Equal(t, "e-manila", f.Properties["id"])
	assert.Equal(t, "Pothole on Quirino Ave", f.Properties["title"])
	assert.Equal(t, "major", f.Properties["severity"])
	assert.Equal(t, "pothole", f.Properties["type"])
	assert.Equal(t, 4, f.Properties["total_cracks"])
	assert.Equal(t, "completed", f.Properties["detection_status"])
	assert.Equal(t, "2026-08-19T10:00:00Z", f.Properties["created_at"])

	// Wire order is [lon, lat].
	pt := f.Point()
	assert.InDelta(t, 120.9842, pt[0], 1e-9)
	assert.InDelta(t, 14.5995, pt[1], 1e-9)
}

func TestTileRendersOnlyContainedEntries(t *testing.T) {
	entries := sampleEntries()
	manila := maptile.At(entries[0].Coordinates.Point(), 15)

	data, err := Tile(entries, manila)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	layers, err := mvt.UnmarshalGzipped(data)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, LayerName, layers[0].Name)
	require.Len(t, layers[0].Features, 1)
	assert.Equal(t, "Pothole on Quirino Ave", layers[0].Features[0].Properties["title"])
}

func TestTileEmptyWhenNothingInside(t *testing.T) {
	entries := sampleEntries()
	// A tile over the ocean, far from any report.
	empty := maptile.At(geo.New(135.0, 20.0).Point(), 15)

	data, err := Tile(entries, empty)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestExportWritesArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.pmtiles")

	var steps []int
	progress := func(p int, status string) {
		steps = append(steps, p)
	}

	err := Export(path, sampleEntries(), 5, 8, progress)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	header, err := pmtiles.DeserializeHeader(raw[:pmtiles.HeaderV3LenBytes])
	require.NoError(t, err)

	assert.Equal(t, pmtiles.Mvt, header.TileType)
	assert.Equal(t, uint8(5), header.MinZoom)
	assert.Equal(t, uint8(8), header.MaxZoom)
	assert.True(t, header.Clustered)
	// Two distinct report locations over four zoom levels.
	assert.GreaterOrEqual(t, header.TileEntriesCount, uint64(4))

	meta := raw[header.MetadataOffset : header.MetadataOffset+header.MetadataLength]
	zr, err := gzip.NewReader(bytes.NewReader(meta))
	require.NoError(t, err)
	rawMeta, err := io.ReadAll(zr)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rawMeta, &doc))

	wantMeta := map[string]any{
		"name":        "roadwatch-reports",
		"format":      "pbf",
		"compression": "gzip",
		"minzoom":     float64(5),
		"maxzoom":     float64(8),
		"vector_layers": []any{map[string]any{
			"id": LayerName,
			"fields": map[string]any{
				"id":               "String",
				"title":            "String",
				"severity":         "String",
				"type":             "String",
				"created_at":       "String",
				"total_cracks":     "Number",
				"detection_status": "String",
			},
		}},
	}
	if diff := cmp.Diff(wantMeta, doc); diff != "" {
		t.Errorf("archive metadata mismatch (-want +got):\n%s", diff)
	}

	require.NotEmpty(t, steps)
	for i := 1; i < len(steps); i++ {
		assert.GreaterOrEqual(t, steps[i], steps[i-1])
	}
	assert.Equal(t, 100, steps[len(steps)-1])
}

func TestExportRejectsBadZoomRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.pmtiles")
	err := Export(path, sampleEntries(), 10, 5, nil)
	assert.Error(t, err)
}

func TestExportRequiresReports(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.pmtiles")
	err := Export(path, nil, 5, 8, nil)
	assert.Error(t, err)
}
