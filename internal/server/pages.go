// pages.go — the HTML pages. Built-in templates are embedded so a bare
// binary serves a working UI; a web directory overlays them for
// restyling, mirroring how fragments work.
package server

import (
	"embed"
	"html/template"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/roadwatch/roadwatch/internal/humastar"
	"github.com/roadwatch/roadwatch/internal/report"
)

//go:embed pages/*.html
var pageFS embed.FS

type pageSet struct {
	tmpl *template.Template
}

// loadPages parses the embedded pages, then overlays webDir/pages so a
// deployment can replace any of them by file name.
func loadPages(webDir string) (*pageSet, error) {
	tmpl, err := template.ParseFS(pageFS, "pages/*.html")
	if err != nil {
		return nil, err
	}
	if webDir != "" {
		pattern := filepath.Join(webDir, "pages", "*.html")
		if matches, _ := filepath.Glob(pattern); len(matches) > 0 {
			if tmpl, err = tmpl.ParseGlob(pattern); err != nil {
				return nil, err
			}
		}
	}
	return &pageSet{tmpl: tmpl}, nil
}

func (s *Server) renderPage(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.pages.tmpl.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error("rendering page failed", zap.String("page", name), zap.Error(err))
	}
}

type homeData struct {
	Version string
	Stats   bool
	User    string
}

// handleHome serves the landing page. The response carries the same
// discovery links the API advertises on /health.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	for _, link := range humastar.RootLinks() {
		w.Header().Add("Link", link)
	}
	data := homeData{Version: s.version, Stats: s.stats != nil}
	if sess := s.sessions.FromRequest(r); sess != nil {
		data.User = sess.User.Name
	}
	s.renderPage(w, "index.html", data)
}

type reportData struct {
	SID      string
	Signals  string
	Form     template.HTML
	MapStyle string
	Lon      float64
	Lat      float64
	Zoom     float64
}

// handleReport opens a UI session and serves the wizard page bound to
// it. Every page load gets its own session; the camera SSE stream
// keeps it alive from there.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.ui.Create()
	if err != nil {
		s.log.Error("creating ui session failed", zap.Error(err))
		http.Error(w, "could not start a report session", http.StatusServiceUnavailable)
		return
	}

	pd := humastar.BuildPageData(s.humaAPI, schemaConfigs()[0], map[string]any{
		"pickerlon":       s.cfg.Map.Lon,
		"pickerlat":       s.cfg.Map.Lat,
		"pickeraddress":   "",
		"pickerresolving": false,
		"pickermessage":   "",
		"searchquery":     "",
		"searching":       false,
		"phase":           "",
		"lng":             0.0,
		"lat":             0.0,
		"status":          "",
		"camlon":          s.cfg.Map.Lon,
		"camlat":          s.cfg.Map.Lat,
		"camzoom":         s.cfg.Map.Zoom,
		"camseq":          0,
		"markers":         []any{},
		"wizardstep":      int(report.StepPhoto),
		"wizarderror":     "",
		"wizardphotoid":   "",
		"wizardphotoname": "",
		"submitprogress":  0,
		"error":           "",
		"success":         "",
	})

	s.renderPage(w, "report.html", reportData{
		SID:      sess.ID,
		Signals:  pd.Signals,
		Form:     template.HTML(s.renderer.MustRender(pd.FormTmpl, nil)),
		MapStyle: s.cfg.MapStyle(),
		Lon:      s.cfg.Map.Lon,
		Lat:      s.cfg.Map.Lat,
		Zoom:     s.cfg.Map.Zoom,
	})
}

type dashboardData struct {
	Signals  string
	DataInit string
	Stats    bool
	MapStyle string
	Lon      float64
	Lat      float64
	Zoom     float64
}

// handleDashboard serves the report overview: the live entries list on
// the events stream plus the map layer endpoints.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	pd := humastar.BuildPageData(s.humaAPI, schemaConfigs()[0], map[string]any{
		"error":   "",
		"success": "",
	})

	s.renderPage(w, "dashboard.html", dashboardData{
		Signals:  pd.Signals,
		DataInit: pd.DataInit(),
		Stats:    s.stats != nil,
		MapStyle: s.cfg.MapStyle(),
		Lon:      s.cfg.Map.Lon,
		Lat:      s.cfg.Map.Lat,
		Zoom:     s.cfg.Map.Zoom,
	})
}
