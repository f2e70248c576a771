package web

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/hpungsan/bereel/internal/errors"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
}

// PickerPageData is the template data for the picker page.
type PickerPageData struct {
	PageData
	Pending *PendingView
}

// PendingView describes the pair awaiting a choice.
type PendingView struct {
	Token    string        `json:"token"`
	Question template.HTML `json:"question"`
	Images   [2]string     `json:"images"`
	Names    [2]string     `json:"names"`
	Index    int           `json:"index"`
	Total    int           `json:"total"`
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
	logger    *zap.Logger
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string, logger *zap.Logger) *Renderer {
	funcMap := template.FuncMap{
		"add": func(a, b int) int { return a + b },
	}

	// Parse layout as the base template
	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"picker": "picker.html",
		"error":  "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
		logger:    logger,
	}
}

// renderPage renders a named page template with the given data and HTTP status code.
func (r *Renderer) renderPage(w http.ResponseWriter, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		r.logger.Error("template not found", zap.String("template", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.logger.Error("template execution error", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	var eErr *errors.ExportError
	if !stderrors.As(err, &eErr) {
		eErr = errors.NewInternal(err)
	}

	if wantsJSON(req) {
		renderJSON(w, eErr.Status, map[string]any{
			"error": map[string]any{
				"code":    string(eErr.Code),
				"message": eErr.Message,
				"status":  eErr.Status,
			},
		})
		return
	}

	r.renderPage(w, eErr.Status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", eErr.Status),
			Version: r.version,
		},
		StatusCode: eErr.Status,
		Message:    eErr.Message,
	})
}

func wantsJSON(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "application/json")
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

// renderMarkdown converts markdown text to HTML using goldmark.
// Raw HTML in the source is not passed through.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}
