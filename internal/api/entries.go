package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/roadwatch/roadwatch/internal/backend"
	"github.com/roadwatch/roadwatch/internal/geo"
	"github.com/roadwatch/roadwatch/internal/humastar"
	"github.com/roadwatch/roadwatch/internal/maplayer"
	"github.com/roadwatch/roadwatch/internal/report"
	"github.com/roadwatch/roadwatch/internal/service"
)

const defaultPageSize = 20

// entryActions are the mutations an entry's owner may perform.
var entryActions = []humastar.ActionDef{
	{Rel: "edit", Pattern: "/api/v1/entries/%s", Method: http.MethodPut, Title: "Edit report"},
	{Rel: "delete", Pattern: "/api/v1/entries/%s", Method: http.MethodDelete, Title: "Delete report"},
}

// EntryResource is an entry plus the action links the requesting user
// is allowed to follow.
type EntryResource struct {
	backend.Entry
	actions []humastar.Action
}

// Actions implements humastar.Actor.
func (r EntryResource) Actions() []humastar.Action { return r.actions }

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

// RegisterEntries registers the report entry routes.
func (h *APIHandler) RegisterEntries(api huma.API) {
	huma.Get(api, "/api/v1/entries", h.ListEntries, huma.OperationTags("entries"))
	huma.Post(api, "/api/v1/entries", h.CreateEntry, huma.OperationTags("entries"))
	huma.Get(api, "/api/v1/entries/{id}", h.GetEntry, huma.OperationTags("entries"))
	huma.Put(api, "/api/v1/entries/{id}", h.UpdateEntry, huma.OperationTags("entries"))
	huma.Delete(api, "/api/v1/entries/{id}", h.DeleteEntry, huma.OperationTags("entries"))
	huma.Get(api, "/api/v1/entries.geojson", h.GetEntriesGeoJSON, huma.OperationTags("entries"))
}

type ListEntriesInput struct {
	Severity string `query:"severity" doc:"Filter by severity" example:"major"`
	Type     string `query:"type" doc:"Filter by defect type" example:"pothole"`
	UserID   string `query:"user_id" doc:"Filter by reporting user ID"`
	Mine     bool   `query:"mine" doc:"Only the signed-in user's reports"`
	Offset   int    `query:"offset" minimum:"0" doc:"Items to skip"`
	Limit    int    `query:"limit" minimum:"1" maximum:"100" default:"20" doc:"Page size"`
	Session  string `cookie:"roadwatch_session" doc:"Sign-in session cookie"`
}

type EntriesPageOutput struct {
	Body humastar.PageBody[backend.Entry]
}

// ListEntries serves the report list from the local cache, newest
// first.
func (h *APIHandler) ListEntries(ctx context.Context, input *ListEntriesInput) (*EntriesPageOutput, error) {
	filter := backend.EntryFilter{
		UserID:   input.UserID,
		Severity: input.Severity,
		Type:     input.Type,
	}
	if input.Mine {
		sess := h.session(input.Session)
		if sess == nil {
			return nil, huma.Error401Unauthorized("Sign in to list your reports")
		}
		filter.UserID = sess.User.ID
	}

	entries := h.svc.Entries.List(filter)

	total := len(entries)
	limit := input.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	offset := input.Offset
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return &EntriesPageOutput{Body: humastar.PageBody[backend.Entry]{
		Total:  total,
		Offset: offset,
		Limit:  limit,
		Data:   entries[offset:end],
	}}, nil
}

type EntryIDInput struct {
	ID      string `path:"id" doc:"Entry ID"`
	Session string `cookie:"roadwatch_session" doc:"Sign-in session cookie"`
}

type EntryOutput struct {
	Body EntryResource
}

// GetEntry serves one report. Cache misses fall through to the
// backend so freshly created entries resolve before the next refresh.
func (h *APIHandler) GetEntry(ctx context.Context, input *EntryIDInput) (*EntryOutput, error) {
	e, ok := h.svc.Entries.Get(input.ID)
	if !ok {
		var err error
		e, err = h.svc.Backend.GetEntry(ctx, input.ID)
		if err != nil {
			return nil, proxyError(err, "entry not found")
		}
	}

	res := EntryResource{Entry: e}
	if sess := h.session(input.Session); sess != nil && sess.User.ID == e.User.ID {
		res.actions = humastar.ActionsFor(e.ID, entryActions)
	}
	return &EntryOutput{Body: res}, nil
}

type CreateEntryInput struct {
	Session string `cookie:"roadwatch_session" doc:"Sign-in session cookie"`
	RawBody multipart.Form
}

// CreateEntry validates a multipart report submission locally, then
// forwards it to the backend with the caller's bearer token. The photo
// never touches disk here; it streams straight through.
func (h *APIHandler) CreateEntry(ctx context.Context, input *CreateEntryInput) (*EntryOutput, error) {
	sess := h.session(input.Session)
	if sess == nil {
		return nil, huma.Error401Unauthorized("Sign in to create reports")
	}

	title := formValue(input.RawBody, "title")
	if title == "" {
		return nil, huma.Error422UnprocessableEntity("title is required")
	}

	coords, err := geo.ParsePair(formValue(input.RawBody, "coordinates"))
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("coordinates must be [longitude, latitude]")
	}

	severity := formValue(input.RawBody, "severity")
	if severity == "" {
		severity = string(report.SeverityMinor)
	}
	if _, err := report.ParseSeverity(severity); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	files := input.RawBody.File["image"]
	if len(files) == 0 {
		return nil, huma.Error422UnprocessableEntity("a photo is required")
	}
	f, err := files[0].Open()
	if err != nil {
		return nil, huma.Error400BadRequest("reading photo upload", err)
	}
	data, err := io.ReadAll(io.LimitReader(f, report.MaxPhotoBytes+1))
	f.Close()
	if err != nil {
		return nil, huma.Error400BadRequest("reading photo upload", err)
	}
	if _, err := report.ValidatePhoto(data); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	entry, err := h.svc.Backend.CreateEntry(ctx, sess.Token, backend.CreateEntry{
		Title:       title,
		Description: formValue(input.RawBody, "description"),
		Location:    formValue(input.RawBody, "location"),
		Coordinates: coords,
		Severity:    severity,
		ImageName:   files[0].Filename,
		Image:       bytes.NewReader(data),
	})
	if err != nil {
		return nil, proxyError(err, "entry not found")
	}

	h.svc.Entries.Invalidate(context.Background(), service.ActionCreated, entry.ID)

	res := EntryResource{Entry: entry}
	if entry.User.ID == sess.User.ID {
		res.actions = humastar.ActionsFor(entry.ID, entryActions)
	}
	return &EntryOutput{Body: res}, nil
}

type UpdateEntryInput struct {
	ID      string `path:"id" doc:"Entry ID"`
	Session string `cookie:"roadwatch_session" doc:"Sign-in session cookie"`
	Body    backend.UpdateEntry
}

// UpdateEntry forwards partial changes. The backend enforces
// ownership; its 403 comes back unflattened.
func (h *APIHandler) UpdateEntry(ctx context.Context, input *UpdateEntryInput) (*EntryOutput, error) {
	sess := h.session(input.Session)
	if sess == nil {
		return nil, huma.Error401Unauthorized("Sign in to edit reports")
	}

	entry, err := h.svc.Backend.UpdateEntry(ctx, sess.Token, input.ID, input.Body)
	if err != nil {
		return nil, proxyError(err, "entry not found")
	}

	h.svc.Entries.Invalidate(context.Background(), service.ActionUpdated, entry.ID)

	return &EntryOutput{Body: EntryResource{
		Entry:   entry,
		actions: humastar.ActionsFor(entry.ID, entryActions),
	}}, nil
}

// DeleteEntry removes a report through the backend.
func (h *APIHandler) DeleteEntry(ctx context.Context, input *EntryIDInput) (*struct{ Body MessageBody }, error) {
	sess := h.session(input.Session)
	if sess == nil {
		return nil, huma.Error401Unauthorized("Sign in to delete reports")
	}

	if err := h.svc.Backend.DeleteEntry(ctx, sess.Token, input.ID); err != nil {
		return nil, proxyError(err, "entry not found")
	}

	h.svc.Entries.Invalidate(context.Background(), service.ActionDeleted, input.ID)

	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Report deleted"}}, nil
}

type GeoJSONOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// GetEntriesGeoJSON serves every report as a FeatureCollection for map
// layers that want the whole set at once.
func (h *APIHandler) GetEntriesGeoJSON(ctx context.Context, input *struct{}) (*GeoJSONOutput, error) {
	fc := maplayer.FeatureCollection(h.svc.Entries.List(backend.EntryFilter{}))
	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, huma.Error500InternalServerError("encoding entries", err)
	}
	return &GeoJSONOutput{ContentType: "application/geo+json", Body: data}, nil
}

func formValue(form multipart.Form, key string) string {
	if vs := form.Value[key]; len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}

// proxyError relays a backend failure with its original status where
// one exists, instead of flattening everything into a 500.
func proxyError(err error, notFound string) error {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		switch apiErr.Status {
		case http.StatusUnauthorized:
			if msg == "" {
				msg = "Sign in first"
			}
			return huma.Error401Unauthorized(msg)
		case http.StatusForbidden:
			if msg == "" {
				msg = "You do not own this report"
			}
			return huma.Error403Forbidden(msg)
		case http.StatusNotFound:
			return huma.Error404NotFound(notFound)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			if msg == "" {
				msg = "The backend rejected the request"
			}
			return huma.Error422UnprocessableEntity(msg)
		}
	}
	return huma.Error502BadGateway("backend request failed", err)
}
