package webui

import (
	"context"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/roadwatch/roadwatch/internal/geo"
	"github.com/roadwatch/roadwatch/internal/humastar"
)

// cameraHeartbeat keeps an idle-but-open picker session alive.
const cameraHeartbeat = 30 * time.Second

// PickerHandler serves the location picker: map events in, camera and
// address patches out.
type PickerHandler struct {
	humastar.Handler
	sessions *Manager
}

// NewPickerHandler creates the picker handler.
func NewPickerHandler(sessions *Manager, renderer *humastar.Renderer) *PickerHandler {
	return &PickerHandler{
		Handler:  humastar.Handler{Renderer: renderer},
		sessions: sessions,
	}
}

// RegisterPicker wires the picker routes. Auto-discovered by
// huma.AutoRegister.
func (h *PickerHandler) RegisterPicker(api huma.API) {
	huma.Post(api, "/api/v1/picker/{sid}/map", h.MapEvent, huma.OperationTags("ui"))
	huma.Post(api, "/api/v1/picker/{sid}/search", h.Search, huma.OperationTags("ui"))
	huma.Post(api, "/api/v1/picker/{sid}/select", h.Select, huma.OperationTags("ui"))
	huma.Post(api, "/api/v1/picker/{sid}/locate", h.Locate, huma.OperationTags("ui"))
	huma.Get(api, "/api/v1/picker/{sid}/camera", h.Camera, huma.OperationTags("ui"))
}

type sessionInput struct {
	SID string `path:"sid" doc:"UI session ID"`
}

type sessionSignalsInput struct {
	SID     string `path:"sid" doc:"UI session ID"`
	RawBody []byte
}

type selectInput struct {
	SID   string `path:"sid" doc:"UI session ID"`
	Index int    `query:"index" doc:"Search result index"`
}

func (h *PickerHandler) session(id string) (*Session, error) {
	sess, err := h.sessions.Get(id)
	if err != nil {
		return nil, huma.Error404NotFound("unknown picker session")
	}
	return sess, nil
}

// MapEvent ingests a native map event: phase, lng, lat signals.
func (h *PickerHandler) MapEvent(ctx context.Context, input *sessionSignalsInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.SID)
	if err != nil {
		return nil, err
	}
	signals, err := humastar.ParseSignals(input.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid map event: " + err.Error())
	}

	phase := signals.String("phase")
	c := geo.New(signals.Float("lng"), signals.Float("lat"))
	return h.Stream(func(sse humastar.SSE) {
		if err := sess.MapEvent(phase, c); err != nil {
			sse.Error("That map position is out of range.")
		}
	}), nil
}

// Search forwards the search box value to the debounced place search.
// Results arrive later on the camera stream.
func (h *PickerHandler) Search(ctx context.Context, input *sessionSignalsInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.SID)
	if err != nil {
		return nil, err
	}
	signals, err := humastar.ParseSignals(input.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid search request: " + err.Error())
	}

	query := signals.String("searchquery")
	return h.Stream(func(sse humastar.SSE) {
		sess.SearchRequest(query)
	}), nil
}

// Select adopts one search result as the draft location.
func (h *PickerHandler) Select(ctx context.Context, input *selectInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.SID)
	if err != nil {
		return nil, err
	}

	return h.Stream(func(sse humastar.SSE) {
		if _, err := sess.SelectResult(input.Index); err != nil {
			sse.Error("That search result is gone. Search again.")
		}
	}), nil
}

// Locate ingests the browser geolocation outcome: status plus lng/lat
// when status is ok.
func (h *PickerHandler) Locate(ctx context.Context, input *sessionSignalsInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.SID)
	if err != nil {
		return nil, err
	}
	signals, err := humastar.ParseSignals(input.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid locate request: " + err.Error())
	}

	return h.Stream(func(sse humastar.SSE) {
		if signals.String("status") != "ok" {
			sess.LocateFailed(signals.String("status"))
			return
		}
		c := geo.New(signals.Float("lng"), signals.Float("lat"))
		if err := sess.Locate(c); err != nil {
			sse.Error("That position is out of range.")
		}
	}), nil
}

// Camera is the session's long-lived SSE stream: an initial state
// snapshot, then every camera jump, marker set, address, and search
// result the session produces.
func (h *PickerHandler) Camera(ctx context.Context, input *sessionInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.SID)
	if err != nil {
		return nil, err
	}

	return h.Stream(func(sse humastar.SSE) {
		sse.Signals(sess.Snapshot())

		heartbeat := time.NewTicker(cameraHeartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-sess.Done():
				return
			case <-heartbeat.C:
				sess.Touch()
			case u := <-sess.Updates():
				h.apply(sse, input.SID, u)
			}
		}
	}), nil
}

// resultItem is the data behind the result-item fragment.
type resultItem struct {
	Label  string
	Action string
}

func (h *PickerHandler) apply(sse humastar.SSE, sid string, u update) {
	if u.signals != nil {
		sse.Signals(u.signals)
	}
	if u.results == nil {
		return
	}
	if u.results.query == "" {
		sse.Patch("", "#search-results")
		return
	}

	items := make([]resultItem, len(u.results.places))
	for i, p := range u.results.places {
		items[i] = resultItem{
			Label:  p.Label,
			Action: fmt.Sprintf("/api/v1/picker/%s/select?index=%d", sid, i),
		}
	}
	sse.Patch(
		humastar.RenderList(h.Renderer, "result-item", items, "No places found", "Try a broader search."),
		"#search-results",
	)
}
