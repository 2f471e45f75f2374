package server

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roadwatch/roadwatch/internal/config"
	"github.com/roadwatch/roadwatch/internal/report"
	"github.com/roadwatch/roadwatch/internal/service"
)

// fakeBackend serves the two-entry fixture every test reads back.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/entries", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"id": "e-1", "title": "Pothole on Roxas Blvd", "severity": "major",
			 "type": "pothole", "coordinates": [120.9822, 14.5958],
			 "created_at": "2026-08-02T10:00:00Z", "user": {"id": "u-1", "name": "Ada"}},
			{"id": "e-2", "title": "Cracked shoulder", "severity": "minor",
			 "coordinates": [120.9901, 14.6011],
			 "created_at": "2026-08-01T09:00:00Z", "user": {"id": "u-2", "name": "Lin"}}
		]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	upstream := fakeBackend(t)

	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8888
	cfg.DataDir = t.TempDir()
	cfg.Backend.URL = upstream.URL
	cfg.Backend.Timeout = 5 * time.Second
	// Never called by these tests; the URL just has to parse.
	cfg.Geocoder.URL = upstream.URL
	cfg.Geocoder.UserAgent = "roadwatch-test/0"
	cfg.Geocoder.Timeout = time.Second
	cfg.Geocoder.Quiet = 10 * time.Millisecond
	cfg.Geocoder.SearchQuiet = 10 * time.Millisecond
	cfg.Geocoder.HitTTL = time.Minute
	cfg.Geocoder.MissTTL = time.Minute
	cfg.Map.StyleURL = "https://tiles.roadwatch.example/streets/style.json"
	cfg.Map.Token = "tk-test"
	cfg.Map.Lon = 120.9842
	cfg.Map.Lat = 14.5995
	cfg.Map.Zoom = 15
	cfg.Map.EpsilonMeters = 2
	cfg.Map.MinEmitInterval = 10 * time.Millisecond
	cfg.Entries.RefreshInterval = time.Minute
	cfg.Sessions.TTL = time.Minute
	cfg.Tiles.MinZoom = 5
	cfg.Tiles.MaxZoom = 16
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(cfg, "0.0.0-test", zap.NewNop())
	require.NoError(t, err)
	return srv
}

func pageGet(t *testing.T, s *Server, path string) (*http.Response, string) {
	t.Helper()
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	resp := rr.Result()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestHomePage(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := pageGet(t, s, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, "RoadWatch")
	assert.Contains(t, body, "v0.0.0-test")
	assert.NotContains(t, body, "Signed in as", "anonymous visits carry no greeting")

	links := strings.Join(resp.Header.Values("Link"), ", ")
	assert.Contains(t, links, `rel="service-desc"`)
	assert.Contains(t, links, `rel="entries"`)

	resp, _ = pageGet(t, s, "/definitely-not-a-page")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "root pattern must not swallow other paths")
}

func TestReportPageBindsFreshSession(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := pageGet(t, s, "/report")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Initial signal state: wizard on the photo step, camera untouched.
	assert.Contains(t, body, "wizardstep&#34;:1")
	assert.Contains(t, body, "camseq&#34;:0")

	// The schema-generated form is inlined server-side.
	assert.Contains(t, body, "data-bind:reporttitle")
	assert.Contains(t, body, "data-bind:reportseverity")
	assert.Contains(t, body, "maplibre-gl")
	assert.Contains(t, body, "style.json?key=tk-test", "map must load the configured style")

	cameraURL := regexp.MustCompile(`/api/v1/picker/([^/]+)/camera`)
	first := cameraURL.FindStringSubmatch(body)
	require.NotNil(t, first, "report page must embed its camera stream URL")
	assert.Contains(t, body, "/api/v1/wizard/"+first[1]+"/submit",
		"wizard routes must be bound to the same session")

	_, again := pageGet(t, s, "/report")
	second := cameraURL.FindStringSubmatch(again)
	require.NotNil(t, second)
	assert.NotEqual(t, first[1], second[1], "each page load gets its own session")
}

func TestDashboardPage(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := pageGet(t, s, "/dashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `id="entries-list"`)
	assert.Contains(t, body, "/api/v1/events", "dashboard must connect to the entries stream")
	assert.Contains(t, body, "/api/v1/entries.geojson")
	assert.Contains(t, body, "style.json?key=tk-test")
}

func TestPhotoRoute(t *testing.T) {
	dataDir := t.TempDir()
	s := newTestServer(t, func(cfg *config.Config) { cfg.DataDir = dataDir })

	resp, _ := pageGet(t, s, "/photos/not-a-uuid")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	data := testPNG(t, 8, 8)
	staged, err := service.NewPhotoStore(dataDir, nil).Save("crack.png", data,
		report.PhotoMeta{Format: "png", Width: 8, Height: 8, Bytes: len(data)})
	require.NoError(t, err)

	resp, body := pageGet(t, s, "/photos/"+staged.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Cache-Control"), "private")
	assert.Equal(t, data, []byte(body))
}

func TestExportDownloads(t *testing.T) {
	s := newTestServer(t, nil)

	dir := s.Exports().Dir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "roadwatch.pmtiles"), []byte("pmtiles-bytes"), 0o644))

	// Preflight from a map client on another origin.
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/exports/roadwatch.pmtiles", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Range")

	resp, body := pageGet(t, s, "/exports/roadwatch.pmtiles")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pmtiles-bytes", body)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/exports/roadwatch.pmtiles", nil)
	req.Header.Set("Range", "bytes=0-6")
	s.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusPartialContent, rr.Code)
	assert.Equal(t, "pmtiles", rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("Content-Range"))

	resp, _ = pageGet(t, s, "/exports/missing.pmtiles")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebDirOverlay(t *testing.T) {
	webDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(webDir, "static"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(webDir, "static", "roadwatch.css"),
		[]byte("body{margin:0}"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(webDir, "pages"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(webDir, "pages", "index.html"),
		[]byte("<!DOCTYPE html><title>custom</title>overlay {{.Version}}"), 0o644))

	s := newTestServer(t, func(cfg *config.Config) { cfg.WebDir = webDir })

	resp, body := pageGet(t, s, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "overlay 0.0.0-test")

	resp, body = pageGet(t, s, "/static/roadwatch.css")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "body{margin:0}", body)
}

// Keep this last: Close releases the process-wide stats database.
func TestServerLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, 2, s.Entries().Len(), "initial refresh fills the cache")

	resp, body := pageGet(t, s, "/api/v1/entries.geojson")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "FeatureCollection")
	assert.Contains(t, body, "Pothole on Roxas Blvd")

	cancel()
	require.NoError(t, s.Close())
}
