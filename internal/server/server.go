// Package server assembles the roadwatch application: the huma REST
// surface, the Datastar UI handlers, the HTML pages, and the service
// graph underneath them, all on one stdlib mux.
package server

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"reflect"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"go.uber.org/zap"

	"github.com/roadwatch/roadwatch/internal/api"
	"github.com/roadwatch/roadwatch/internal/auth"
	"github.com/roadwatch/roadwatch/internal/backend"
	"github.com/roadwatch/roadwatch/internal/config"
	"github.com/roadwatch/roadwatch/internal/db"
	"github.com/roadwatch/roadwatch/internal/geo"
	"github.com/roadwatch/roadwatch/internal/geocode"
	"github.com/roadwatch/roadwatch/internal/humastar"
	"github.com/roadwatch/roadwatch/internal/service"
	"github.com/roadwatch/roadwatch/internal/templates"
	"github.com/roadwatch/roadwatch/internal/webui"
)

// Server is the roadwatch HTTP server. It owns the service graph and
// implements http.Handler; the listener itself lives in cmd.
type Server struct {
	cfg     *config.Config
	log     *zap.Logger
	version string

	mux     *http.ServeMux
	humaAPI huma.API

	backend  *backend.Client
	geocoder geocode.Geocoder
	entries  *service.EntryCache
	photos   *service.PhotoStore
	exports  *service.ExportStore
	bus      *service.EventBus
	sessions *auth.Store
	ui       *webui.Manager
	stats    *db.Store
	renderer *humastar.Renderer
	watcher  *templates.Watcher
	pages    *pageSet
}

// schemaConfigs lists the form schemas the UI renders at runtime.
func schemaConfigs() []humastar.DatastarSchemaConfig {
	return []humastar.DatastarSchemaConfig{{
		Type:     reflect.TypeOf(service.EntryForm{}),
		Prefix:   "report",
		FormTmpl: "entry-form",
		BasePath: "/api/v1/entries",
	}}
}

// New wires the full service graph and registers every route. The
// returned server is passive until Start launches the background jobs.
func New(cfg *config.Config, version string, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	client, err := backend.New(backend.Config{
		BaseURL:   cfg.Backend.URL,
		Timeout:   cfg.Backend.Timeout,
		UserAgent: "roadwatch/" + version,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("backend client: %w", err)
	}

	nominatim, err := geocode.NewNominatim(geocode.NominatimConfig{
		BaseURL:   cfg.Geocoder.URL,
		UserAgent: cfg.Geocoder.UserAgent,
		Timeout:   cfg.Geocoder.Timeout,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("geocoder: %w", err)
	}
	geocoder := geocode.NewCache(nominatim,
		geocode.WithHitTTL(cfg.Geocoder.HitTTL),
		geocode.WithMissTTL(cfg.Geocoder.MissTTL),
	)

	bus := service.NewEventBus()

	cacheCfg := service.EntryCacheConfig{
		Source:          client,
		Bus:             bus,
		DataDir:         cfg.DataDir,
		RefreshInterval: cfg.Entries.RefreshInterval,
		Logger:          log,
	}

	// DuckDB mirrors the entries for the stats endpoint. Without it
	// the app still runs; only /api/v1/stats degrades.
	var stats *db.Store
	if conn, err := db.Get(db.Config{DataDir: cfg.DataDir, DBName: "roadwatch"}); err != nil {
		log.Warn("stats database unavailable", zap.Error(err))
	} else {
		stats = db.NewStore(conn)
		cacheCfg.Sink = stats
	}

	var fragmentsDir string
	if cfg.WebDir != "" {
		fragmentsDir = filepath.Join(cfg.WebDir, "fragments")
	}
	renderer, err := humastar.NewRenderer(fragmentsDir)
	if err != nil {
		return nil, fmt.Errorf("fragment templates: %w", err)
	}

	var watcher *templates.Watcher
	if cfg.Debug && fragmentsDir != "" {
		watcher, err = templates.NewWatcher(fragmentsDir, renderer, log)
		if err != nil {
			return nil, fmt.Errorf("template watcher: %w", err)
		}
	}

	entries := service.NewEntryCache(cacheCfg)

	ui, err := webui.NewManager(webui.ManagerConfig{
		Geocoder:        geocoder,
		Entries:         entries,
		Bus:             bus,
		Center:          geo.New(cfg.Map.Lon, cfg.Map.Lat),
		Zoom:            cfg.Map.Zoom,
		EpsilonMeters:   cfg.Map.EpsilonMeters,
		MinEmitInterval: cfg.Map.MinEmitInterval,
		ReverseQuiet:    cfg.Geocoder.Quiet,
		SearchQuiet:     cfg.Geocoder.SearchQuiet,
		TTL:             cfg.Sessions.TTL,
		Logger:          log,
	})
	if err != nil {
		return nil, fmt.Errorf("ui sessions: %w", err)
	}

	mux := http.NewServeMux()
	humaConfig := huma.DefaultConfig("RoadWatch API", version)
	humaConfig.Info.Description = "Community road-defect reporting: map picker, report wizard, and a hypermedia REST surface over the entries backend."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s", cfg.Addr()), Description: "Local server"},
	}
	// Drop the default $schema response property; responses carry RFC
	// 8288 Link headers instead.
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, humastar.LinkTransformer())

	s := &Server{
		cfg:      cfg,
		log:      log.Named("server"),
		version:  version,
		mux:      mux,
		humaAPI:  humago.New(mux, humaConfig),
		backend:  client,
		geocoder: geocoder,
		entries:  entries,
		photos:   service.NewPhotoStore(cfg.DataDir, log),
		exports:  service.NewExportStore(cfg.DataDir),
		bus:      bus,
		sessions: auth.NewStore(cfg.Sessions.TTL),
		ui:       ui,
		stats:    stats,
		renderer: renderer,
		watcher:  watcher,
	}

	s.routes()

	// Schema-driven pieces need every route registered first.
	humastar.InjectExtensions(s.humaAPI, schemaConfigs())
	if err := humastar.RegisterFormTemplates(s.humaAPI, renderer); err != nil {
		return nil, fmt.Errorf("form templates: %w", err)
	}
	humastar.AutoLinks(s.humaAPI)

	pages, err := loadPages(cfg.WebDir)
	if err != nil {
		return nil, fmt.Errorf("page templates: %w", err)
	}
	s.pages = pages

	return s, nil
}

func (s *Server) routes() {
	huma.AutoRegister(s.humaAPI, api.NewAPIHandler(&api.Services{
		Backend:  s.backend,
		Entries:  s.entries,
		Geocoder: s.geocoder,
		Sessions: s.sessions,
		Stats:    s.stats,
		Exports:  s.exports,
	}, s.version, s.cfg.DataDir))

	huma.AutoRegister(s.humaAPI, webui.NewPickerHandler(s.ui, s.renderer))
	huma.AutoRegister(s.humaAPI, webui.NewWizardHandler(
		s.ui, s.renderer, s.sessions, s.backend, s.photos, s.entries, s.log))
	huma.AutoRegister(s.humaAPI, webui.NewEventsHandler(s.entries, s.bus, s.renderer))

	// Everything below speaks plain HTTP, not huma.
	s.mux.HandleFunc("GET /{$}", s.handleHome)
	s.mux.HandleFunc("GET /report", s.handleReport)
	s.mux.HandleFunc("GET /dashboard", s.handleDashboard)
	s.mux.HandleFunc("GET /photos/{id}", s.handlePhoto)
	// No method in the pattern: CORS preflights arrive as OPTIONS.
	s.mux.Handle("/exports/",
		http.StripPrefix("/exports/", rangeFiles(http.Dir(s.exports.Dir()))))

	if s.cfg.WebDir != "" {
		staticDir := filepath.Join(s.cfg.WebDir, "static")
		s.mux.Handle("GET /static/",
			http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI exposes the generated spec for the CLI export command.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Entries exposes the entry cache for CLI commands that reuse a wired
// server instead of assembling their own graph.
func (s *Server) Entries() *service.EntryCache {
	return s.entries
}

// Exports exposes the PMTiles archive store.
func (s *Server) Exports() *service.ExportStore {
	return s.exports
}

// Start launches the background jobs: entry refresh, UI session sweep,
// and the template watcher in debug mode.
func (s *Server) Start(ctx context.Context) error {
	if err := s.entries.Start(ctx); err != nil {
		return fmt.Errorf("entry cache: %w", err)
	}
	if err := s.ui.Start(ctx); err != nil {
		return fmt.Errorf("ui sessions: %w", err)
	}
	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			return fmt.Errorf("template watcher: %w", err)
		}
	}
	s.log.Info("background jobs started",
		zap.Bool("stats", s.stats != nil),
		zap.Bool("template_watcher", s.watcher != nil))
	return nil
}

// Close stops the background jobs and releases the database. Safe to
// call after a failed Start.
func (s *Server) Close() error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.ui.Stop()
	if err := s.entries.Stop(); err != nil {
		s.log.Warn("stopping entry cache", zap.Error(err))
	}
	return db.Close()
}

// handlePhoto serves a staged wizard photo back to its preview.
func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	data, err := s.photos.Open(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}

// rangeFiles serves PMTiles archives. Map clients fetch them with
// range requests from other origins, so CORS must expose the range
// headers.
func rangeFiles(dir http.Dir) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		http.FileServer(dir).ServeHTTP(w, r)
	})
}
