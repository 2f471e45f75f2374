package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/roadwatch/roadwatch/internal/service"
)

type ExportItem struct {
	service.ExportFile
	URL string `json:"url" doc:"Download path, range requests supported" example:"/exports/roadwatch-20260821.pmtiles"`
}

type ExportsBody struct {
	Exports []ExportItem `json:"exports" doc:"Available PMTiles archives"`
}

// RegisterExports registers the archive listing route.
func (h *APIHandler) RegisterExports(api huma.API) {
	huma.Get(api, "/api/v1/exports", h.ListExports, huma.OperationTags("tiles"))
}

// ListExports lists the PMTiles archives written by the export
// command. Map clients fetch them from /exports/ with range requests.
func (h *APIHandler) ListExports(ctx context.Context, input *struct{}) (*struct{ Body ExportsBody }, error) {
	files, err := h.svc.Exports.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("listing exports", err)
	}

	body := ExportsBody{Exports: make([]ExportItem, 0, len(files))}
	for _, f := range files {
		body.Exports = append(body.Exports, ExportItem{ExportFile: f, URL: "/exports/" + f.Name})
	}
	return &struct{ Body ExportsBody }{Body: body}, nil
}
