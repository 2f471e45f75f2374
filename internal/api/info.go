package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"data_dir" doc:"Data directory path"`
	Stats    bool     `json:"stats" doc:"Whether the analytics mirror is available"`
	Features []string `json:"features" doc:"Available features"`
}

// RegisterInfo registers the service info route.
func (h *APIHandler) RegisterInfo(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

func (h *APIHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"entries", "geocoding", "vector-tiles", "map-picker", "report-wizard"}
	if h.svc.Stats != nil {
		features = append(features, "stats")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "roadwatch",
		Version:  h.version,
		DataDir:  h.dataDir,
		Stats:    h.svc.Stats != nil,
		Features: features,
	}}, nil
}
