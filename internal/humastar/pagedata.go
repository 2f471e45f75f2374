// pagedata.go — Reverse mapping: OpenAPI spec → page template data.
//
// BuildPageData extracts everything a page template needs from the spec:
//   - Signals JSON (data-signals init from schema defaults + UI state)
//   - Routes (Create, List, Get, Update, Delete, Events — discovered from OpenAPI paths)
//   - FormTmpl name (for {{template "entry-form" .}})
//
// This is the reverse of formrender.go: instead of spec → HTML fields,
// it's spec → template variables so the HTML never hardcodes URLs or signal names.
package humastar

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// PageData holds everything a page template needs from the OpenAPI spec.
// Templates use {{.Signals}} for data-signals init, {{.Routes.Create}} for
// form actions, etc. — no hardcoded URLs or signal names in HTML.
type PageData struct {
	// Signals is the JSON string for data-signals initialization.
	// Includes schema reset values + UI state signals.
	Signals string

	// Routes maps operation names to their paths.
	// e.g. Routes.List = "/api/v1/entries"
	Routes SchemaRoutes

	// FormTmpl is the template name for the form fragment.
	FormTmpl string
}

// SchemaRoutes holds discovered API routes for a resource.
type SchemaRoutes struct {
	List   string // GET collection
	Create string // POST collection
	Get    string // GET single
	Update string // PUT single
	Delete string // DELETE single
	Events string // GET SSE events stream
}

// DataInit returns a Datastar data-init attribute value that opens the
// resource's SSE event stream, or empty when no stream was discovered.
func (pd PageData) DataInit() string {
	if pd.Routes.Events == "" {
		return ""
	}
	return fmt.Sprintf("@get('%s')", pd.Routes.Events)
}

// BuildPageData builds template data for a schema from the OpenAPI spec.
// It discovers routes by walking paths under cfg.BasePath, and builds the
// signals JSON from schema defaults + extra UI signals.
func BuildPageData(api huma.API, cfg DatastarSchemaConfig, uiSignals map[string]any) PageData {
	pd := PageData{
		FormTmpl: cfg.FormTmpl,
	}

	// Build signals: schema defaults + UI state
	signals := buildResetSignals(api, cfg)
	for k, v := range uiSignals {
		signals[k] = v
	}
	signalsJSON, _ := json.Marshal(signals)
	pd.Signals = string(signalsJSON)

	// Discover routes from OpenAPI paths
	pd.Routes = discoverRoutes(api, cfg)

	return pd
}

// buildResetSignals produces the initial signal values from the OpenAPI
// schema, so a page always starts from the same state a form reset lands on.
func buildResetSignals(api huma.API, cfg DatastarSchemaConfig) map[string]any {
	schemas := api.OpenAPI().Components.Schemas.Map()
	schema, ok := schemas[cfg.Type.Name()]
	if !ok {
		return map[string]any{}
	}

	signals := map[string]any{}
	t := cfg.Type

	for i := range t.NumField() {
		sf := t.Field(i)

		jsonName := sf.Tag.Get("json")
		if idx := strings.IndexByte(jsonName, ','); idx >= 0 {
			jsonName = jsonName[:idx]
		}
		if jsonName == "" || jsonName == "-" {
			continue
		}

		prop, ok := schema.Properties[jsonName]
		if !ok {
			continue
		}

		// Skip non-primitive
		if prop.Type == "array" || prop.Type == "object" {
			continue
		}
		// Skip ID
		if sf.Name == "ID" {
			continue
		}

		// Signal name
		suffix := strings.ToLower(jsonName)
		if sig, ok := prop.Extensions["x-signal"]; ok {
			suffix = fmt.Sprint(sig)
		}
		signal := cfg.Prefix + suffix

		// Default value
		if prop.Default != nil {
			signals[signal] = prop.Default
		} else {
			switch prop.Type {
			case "boolean":
				signals[signal] = false
			case "number", "integer":
				signals[signal] = 0
			default:
				signals[signal] = ""
			}
		}
	}

	return signals
}

// discoverRoutes finds API routes for a resource by walking OpenAPI paths.
// Scopes to paths matching cfg.BasePath (e.g. "/api/v1/entries").
// Also discovers the events endpoint at the sibling /events path.
func discoverRoutes(api huma.API, cfg DatastarSchemaConfig) SchemaRoutes {
	var routes SchemaRoutes

	paths := api.OpenAPI().Paths
	if paths == nil || cfg.BasePath == "" {
		return routes
	}

	// Events endpoint: sibling path (e.g. /api/v1/events)
	parent := cfg.BasePath[:strings.LastIndex(cfg.BasePath, "/")]
	eventsPath := parent + "/events"

	for path, item := range paths {
		if path == eventsPath && item.Get != nil {
			routes.Events = path
		}

		if !strings.HasPrefix(path, cfg.BasePath) {
			continue
		}

		suffix := path[len(cfg.BasePath):]
		hasParam := strings.Contains(suffix, "{")

		if item.Get != nil {
			if hasParam {
				routes.Get = path
			} else if path == cfg.BasePath {
				routes.List = path
			}
		}
		if item.Post != nil && !hasParam && path == cfg.BasePath {
			routes.Create = path
		}
		if item.Put != nil && hasParam {
			routes.Update = path
		}
		if item.Delete != nil && hasParam {
			routes.Delete = path
		}
	}

	return routes
}
