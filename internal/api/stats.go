package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/roadwatch/roadwatch/internal/db"
)

// RegisterStats registers the dashboard aggregates route.
func (h *APIHandler) RegisterStats(api huma.API) {
	huma.Get(api, "/api/v1/stats", h.GetStats, huma.OperationTags("stats"))
}

// GetStats serves aggregate report counts from the DuckDB mirror. A
// deployment without DuckDB loses this endpoint and nothing else.
func (h *APIHandler) GetStats(ctx context.Context, input *struct{}) (*struct{ Body db.Stats }, error) {
	if h.svc.Stats == nil {
		return nil, huma.Error503ServiceUnavailable("Statistics are not available")
	}

	stats, err := h.svc.Stats.Stats(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("aggregating reports", err)
	}
	return &struct{ Body db.Stats }{Body: stats}, nil
}
