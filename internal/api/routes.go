// Package api defines the JSON REST surface: report entries proxied
// from the backend, geocoding passthrough, sign-in, dashboard stats,
// and the vector tile layer. Datastar SSE endpoints live in webui;
// everything here speaks plain request/response with hypermedia links.
package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/roadwatch/roadwatch/internal/auth"
	"github.com/roadwatch/roadwatch/internal/backend"
	"github.com/roadwatch/roadwatch/internal/db"
	"github.com/roadwatch/roadwatch/internal/geocode"
	"github.com/roadwatch/roadwatch/internal/service"
)

// Services holds the dependencies API handlers draw on. Stats is nil
// when DuckDB failed to open; only the stats endpoint notices.
type Services struct {
	Backend  *backend.Client
	Entries  *service.EntryCache
	Geocoder geocode.Geocoder
	Sessions *auth.Store
	Stats    *db.Store
	Exports  *service.ExportStore
}

// APIHandler holds all REST handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc     *Services
	version string
	dataDir string
}

// NewAPIHandler creates the REST handler set.
func NewAPIHandler(svc *Services, version, dataDir string) *APIHandler {
	return &APIHandler{svc: svc, version: version, dataDir: dataDir}
}

// session resolves the sign-in cookie to a session, or nil.
func (h *APIHandler) session(cookie string) *auth.Session {
	if h.svc.Sessions == nil {
		return nil
	}
	return h.svc.Sessions.Get(cookie)
}

// token returns the backend bearer token for a sign-in cookie, or "".
func (h *APIHandler) token(cookie string) string {
	if s := h.session(cookie); s != nil {
		return s.Token
	}
	return ""
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"Service version" example:"1.0.0"`
}

// RegisterHealth registers the health check route.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: h.version}}, nil
}
