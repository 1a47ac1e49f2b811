package mlt

import (
	"net/http"

	"github.com/gin-gonic/gin/render"
)

// View pairs a template name with its data and response status.
type View interface {
	Name() string
	Data() map[string]any
	Status() int
}

type view struct {
	name   string
	data   map[string]any
	status int
}

// NewView creates a View with an optional status code (default 200).
func NewView(name string, data map[string]any, status ...int) View {
	statusCode := http.StatusOK
	if len(status) > 0 {
		statusCode = status[0]
	}
	return view{
		name:   name,
		data:   data,
		status: statusCode,
	}
}

func (v view) Name() string {
	return v.name
}

func (v view) Data() map[string]any {
	return v.data
}

func (v view) Status() int {
	return v.status
}

var _ render.HTMLRender = (*HtmlRender)(nil)

// HtmlRender is a gin render.HTMLRender backed by an Engine.
type HtmlRender struct {
	e *Engine
}

// NewHTMLRender creates a new HtmlRender.
func NewHTMLRender(e *Engine) *HtmlRender {
	return &HtmlRender{e: e}
}

// Instance returns a new render.Render.
func (h *HtmlRender) Instance(name string, data any) render.Render {
	return &Render{e: h.e, name: name, data: toDataMap(data)}
}

func toDataMap(data any) map[string]any {
	switch t := data.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return t
	}
	return map[string]any{"data": data}
}

// Render renders an HTML template with data and writes to w.
type Render struct {
	e    *Engine
	name string
	data map[string]any
}

// Render renders the template and writes it to w.
func (r *Render) Render(w http.ResponseWriter) error {
	r.WriteContentType(w)
	return r.e.Render(w, r.name, r.data)
}

// WriteContentType writes an HTML content type to the response header if not set.
func (r *Render) WriteContentType(w http.ResponseWriter) {
	header := w.Header()
	if val := header["Content-Type"]; len(val) == 0 {
		header["Content-Type"] = []string{"text/html; charset=utf-8"}
	}
}
