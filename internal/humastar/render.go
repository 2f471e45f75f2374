package humastar

import (
	"bytes"
	"fmt"
	"html/template"
	"path/filepath"
	"sync"
)

// funcMap provides common template functions.
var funcMap = template.FuncMap{
	// dict creates a map from key-value pairs, useful for passing multiple values to nested templates
	"dict": func(values ...any) map[string]any {
		if len(values)%2 != 0 {
			return nil
		}
		m := make(map[string]any, len(values)/2)
		for i := 0; i < len(values); i += 2 {
			key, ok := values[i].(string)
			if !ok {
				continue
			}
			m[key] = values[i+1]
		}
		return m
	},
}

// defaultFragments are the built-in SSE fragments. A web directory can
// override any of them by shipping a file that redefines the name.
const defaultFragments = `
{{define "entry-card"}}<article class="entry-card severity-{{.Severity}}" id="entry-{{.ID}}">
    <header class="entry-card-header">
        <h3>{{.Title}}</h3>
        <span class="badge badge-{{.Severity}}">{{.Severity}}</span>
    </header>
    {{if .Type}}<p class="entry-type">{{.Type}}</p>{{end}}
    {{if .Location}}<p class="entry-location">{{.Location}}</p>{{end}}
    {{with .DetectionInfo}}<p class="entry-detection">{{.TotalCracks}} cracks found ({{.Status}})</p>{{end}}
    <time datetime="{{.CreatedAt.Format "2006-01-02"}}">{{.CreatedAt.Format "Jan 2, 2006"}}</time>
</article>{{end}}

{{define "result-item"}}<li class="result-item" role="option" data-on:click="@post('{{.Action}}')">{{.Label}}</li>{{end}}

{{define "empty-state"}}<div class="empty-state">
    <h4>{{.Title}}</h4>
    <p>{{.Message}}</p>
</div>{{end}}

{{define "select-option"}}<option value="{{.Value}}">{{.Label}}</option>{{end}}
`

// Renderer manages HTML fragment templates for Datastar patches.
// It always carries the built-in fragments; a fragments directory, when
// configured, overlays them so deployments can restyle without a rebuild.
type Renderer struct {
	mu        sync.RWMutex
	templates *template.Template
	dir       string
	extra     []string
}

// NewRenderer creates a renderer. fragmentsDir is optional; when set it
// should point at a directory of *.html fragment files.
func NewRenderer(fragmentsDir string) (*Renderer, error) {
	r := &Renderer{dir: fragmentsDir}
	tmpl, err := r.parse()
	if err != nil {
		return nil, err
	}
	r.templates = tmpl
	return r, nil
}

func (r *Renderer) parse() (*template.Template, error) {
	tmpl, err := template.New("").Funcs(funcMap).Parse(defaultFragments)
	if err != nil {
		return nil, fmt.Errorf("parsing built-in fragments: %w", err)
	}
	if r.dir != "" {
		pattern := filepath.Join(r.dir, "*.html")
		if matches, _ := filepath.Glob(pattern); len(matches) > 0 {
			if tmpl, err = tmpl.ParseGlob(pattern); err != nil {
				return nil, fmt.Errorf("parsing fragments from %s: %w", r.dir, err)
			}
		}
	}
	for _, text := range r.extra {
		if tmpl, err = tmpl.Parse(text); err != nil {
			return nil, fmt.Errorf("reparsing registered template: %w", err)
		}
	}
	return tmpl, nil
}

// AddTemplate registers a programmatically built template. It survives
// Reload, unlike direct Parse calls on the underlying template set.
func (r *Renderer) AddTemplate(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tmpl, err := r.templates.Parse(text)
	if err != nil {
		return err
	}
	r.templates = tmpl
	r.extra = append(r.extra, text)
	return nil
}

// Render renders a named template to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderToBuffer renders a named template to a buffer.
func (r *Renderer) RenderToBuffer(buf *bytes.Buffer, name string, data any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.templates.ExecuteTemplate(buf, name, data)
}

// MustRender renders a template and panics on error.
// Use only when you're certain the template exists.
func (r *Renderer) MustRender(name string, data any) string {
	s, err := r.Render(name, data)
	if err != nil {
		panic(err)
	}
	return s
}

// Reload reparses the fragment directory (useful for dev hot-reload).
// Registered form templates are reapplied on top.
func (r *Renderer) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tmpl, err := r.parse()
	if err != nil {
		return err
	}
	r.templates = tmpl
	return nil
}
