package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/roadwatch/roadwatch/internal/geo"
	"github.com/roadwatch/roadwatch/internal/geocode"
)

// RegisterGeocode registers the geocoding passthrough routes. Both sit
// behind the shared cache, so map clients polling the same spots stay
// within the provider's rate limits.
func (h *APIHandler) RegisterGeocode(api huma.API) {
	huma.Get(api, "/api/v1/geocode/search", h.SearchPlaces, huma.OperationTags("geocode"))
	huma.Get(api, "/api/v1/geocode/reverse", h.ReverseGeocode, huma.OperationTags("geocode"))
}

type PlaceBody struct {
	Label       string         `json:"label" doc:"Full address or place name"`
	Coordinates geo.Coordinate `json:"coordinates" doc:"Place position"`
	Category    string         `json:"category,omitempty" doc:"Provider place category"`
	Kind        string         `json:"kind,omitempty" doc:"Provider place kind"`
	Importance  float64        `json:"importance,omitempty" doc:"Search rank, higher first"`
}

func toPlaceBody(p geocode.Place) PlaceBody {
	return PlaceBody{
		Label:       p.Label,
		Coordinates: p.At,
		Category:    p.Category,
		Kind:        p.Kind,
		Importance:  p.Importance,
	}
}

type SearchPlacesInput struct {
	Query string `query:"q" required:"true" minLength:"1" maxLength:"200" doc:"Free-text place query" example:"iloilo city"`
	Limit int    `query:"limit" minimum:"1" maximum:"10" default:"5" doc:"Maximum results"`
}

type PlacesBody struct {
	Places []PlaceBody `json:"places" doc:"Matching places, best first"`
}

// SearchPlaces forward-geocodes a query. No match is an empty list,
// not an error; callers render their own empty states.
func (h *APIHandler) SearchPlaces(ctx context.Context, input *SearchPlacesInput) (*struct{ Body PlacesBody }, error) {
	places, err := h.svc.Geocoder.Search(ctx, input.Query, input.Limit)
	if err != nil && !errors.Is(err, geocode.ErrNoResult) {
		return nil, huma.Error502BadGateway("place search failed", err)
	}

	body := PlacesBody{Places: make([]PlaceBody, 0, len(places))}
	for _, p := range places {
		body.Places = append(body.Places, toPlaceBody(p))
	}
	return &struct{ Body PlacesBody }{Body: body}, nil
}

type ReverseGeocodeInput struct {
	Lon float64 `query:"lon" required:"true" minimum:"-180" maximum:"180" doc:"Longitude"`
	Lat float64 `query:"lat" required:"true" minimum:"-90" maximum:"90" doc:"Latitude"`
}

// ReverseGeocode resolves a coordinate to the nearest address.
func (h *APIHandler) ReverseGeocode(ctx context.Context, input *ReverseGeocodeInput) (*struct{ Body PlaceBody }, error) {
	place, err := h.svc.Geocoder.Reverse(ctx, geo.New(input.Lon, input.Lat))
	if err != nil {
		if errors.Is(err, geocode.ErrNoResult) {
			return nil, huma.Error404NotFound("no address at this position")
		}
		return nil, huma.Error502BadGateway("reverse geocoding failed", err)
	}
	return &struct{ Body PlaceBody }{Body: toPlaceBody(place)}, nil
}
