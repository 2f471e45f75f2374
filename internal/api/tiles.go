package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb/maptile"

	"github.com/roadwatch/roadwatch/internal/backend"
	"github.com/roadwatch/roadwatch/internal/maplayer"
)

// RegisterTiles registers the vector tile route.
func (h *APIHandler) RegisterTiles(api huma.API) {
	huma.Get(api, "/api/v1/tiles/{z}/{x}/{y}", h.GetTile, huma.OperationTags("tiles"))
}

type TileInput struct {
	Z int    `path:"z" minimum:"0" maximum:"22" doc:"Zoom level"`
	X int    `path:"x" minimum:"0" doc:"Tile column"`
	Y string `path:"y" doc:"Tile row, .mvt suffix optional" example:"53912.mvt"`
}

type TileOutput struct {
	Status          int
	ContentType     string `header:"Content-Type"`
	ContentEncoding string `header:"Content-Encoding"`
	AllowOrigin     string `header:"Access-Control-Allow-Origin"`
	Body            []byte
}

// GetTile renders the reports inside one tile as gzipped MVT, built
// on the fly from the entry cache. Cross-origin map clients are
// allowed; tiles hold nothing private.
func (h *APIHandler) GetTile(ctx context.Context, input *TileInput) (*TileOutput, error) {
	y, err := strconv.Atoi(strings.TrimSuffix(input.Y, ".mvt"))
	if err != nil || y < 0 {
		return nil, huma.Error400BadRequest("tile row must be a number")
	}
	if extent := 1 << input.Z; input.X >= extent || y >= extent {
		return nil, huma.Error404NotFound("tile out of range")
	}

	entries := h.svc.Entries.List(backend.EntryFilter{})
	data, err := maplayer.Tile(entries, maptile.New(uint32(input.X), uint32(y), maptile.Zoom(input.Z)))
	if err != nil {
		return nil, huma.Error500InternalServerError("encoding tile", err)
	}

	out := &TileOutput{
		ContentType: "application/vnd.mapbox-vector-tile",
		AllowOrigin: "*",
	}
	if len(data) == 0 {
		out.Status = http.StatusNoContent
		return out, nil
	}
	out.ContentEncoding = "gzip"
	out.Body = data
	return out, nil
}
