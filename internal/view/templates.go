package view

import (
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/infinity-erp/infinity/internal/shared"
	"github.com/infinity-erp/infinity/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	// RefreshURL, when set, makes the page navigate there after RefreshAfter
	// even with scripting disabled.
	RefreshURL   string
	RefreshAfter time.Duration
	Data         any
}

// RefreshSeconds rounds RefreshAfter up to whole seconds for the meta tag.
func (d TemplateData) RefreshSeconds() int {
	secs := int((d.RefreshAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// NewEngine parses the embedded templates.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"millis": func(d time.Duration) int64 {
			return d.Milliseconds()
		},
		"query": func(pairs ...string) string {
			values := url.Values{}
			for i := 0; i+1 < len(pairs); i += 2 {
				if pairs[i+1] == "" {
					continue
				}
				values.Set(pairs[i], pairs[i+1])
			}
			if len(values) == 0 {
				return ""
			}
			return "?" + values.Encode()
		},
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return e.templates.ExecuteTemplate(w, name, data)
}
