package webui

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/roadwatch/roadwatch/internal/backend"
	"github.com/roadwatch/roadwatch/internal/humastar"
	"github.com/roadwatch/roadwatch/internal/service"
)

// maxListedEntries caps the dashboard list; the map shows the rest.
const maxListedEntries = 50

// EventsHandler streams entry changes to connected dashboards.
type EventsHandler struct {
	humastar.Handler
	entries *service.EntryCache
	bus     *service.EventBus
}

// NewEventsHandler creates the events handler.
func NewEventsHandler(entries *service.EntryCache, bus *service.EventBus, renderer *humastar.Renderer) *EventsHandler {
	return &EventsHandler{
		Handler: humastar.Handler{Renderer: renderer},
		entries: entries,
		bus:     bus,
	}
}

// RegisterEvents wires the event stream route. Auto-discovered by
// huma.AutoRegister.
func (h *EventsHandler) RegisterEvents(api huma.API) {
	huma.Get(api, "/api/v1/events", h.Events, huma.OperationTags("ui"))
}

// Events renders the current entry list immediately, then re-renders on
// every entries change and relays the change as a browser event.
func (h *EventsHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		ch := h.bus.Subscribe()
		defer h.bus.Unsubscribe(ch)

		sse.Patch(h.renderEntryList(), "#entries-list")

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				if ev.Resource == "entries" {
					h.patchEntries(sse, ev)
				}
				sse.DispatchCustomEvent("resource-changed", map[string]any{
					"resource": ev.Resource,
					"action":   ev.Action,
					"id":       ev.ID,
				})
			}
		}
	}), nil
}

// patchEntries sends the narrowest patch for one change: an in-place
// card swap when a single entry changed and is still listed, the full
// list otherwise.
func (h *EventsHandler) patchEntries(sse humastar.SSE, ev service.Event) {
	if ev.Action == service.ActionUpdated && ev.ID != "" {
		if entry, ok := h.entries.Get(ev.ID); ok {
			sse.Replace(h.Renderer.MustRender("entry-card", entry), "#entry-"+ev.ID)
			return
		}
	}
	sse.Patch(h.renderEntryList(), "#entries-list")
}

func (h *EventsHandler) renderEntryList() string {
	entries := h.entries.List(backend.EntryFilter{})
	if len(entries) > maxListedEntries {
		entries = entries[:maxListedEntries]
	}
	return humastar.RenderList(h.Renderer, "entry-card", entries,
		"No reports yet", "Be the first to report road damage in your area.")
}
