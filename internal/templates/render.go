// Package templates renders the map page and the HTML fragments patched
// into it over Datastar SSE.
package templates

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed fragments/*.html pages/*.html static/*
var embedded embed.FS

var printer = message.NewPrinter(language.English)

// funcMap provides common template functions.
var funcMap = template.FuncMap{
	"upper":    strings.ToUpper,
	"integer":  func(v any) string { return printer.Sprintf("%d", int64(math.Round(number(v)))) },
	"decimal":  func(v any) string { return printer.Sprintf("%.1f", number(v)) },
	"longDate": longDate,
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case *float64:
		if n != nil {
			return *n
		}
	case int:
		return float64(n)
	}
	return 0
}

func longDate(day string) string {
	t, err := time.Parse(time.DateOnly, day)
	if err != nil {
		return day
	}
	return t.Format("02 January 2006")
}

// Renderer manages the HTML templates.
type Renderer struct {
	templates *template.Template
}

// New creates a renderer over the embedded templates.
func New() (*Renderer, error) {
	return NewFS(embedded)
}

// NewFS creates a renderer over fsys, which must hold fragments/ and pages/.
func NewFS(fsys fs.FS) (*Renderer, error) {
	tmpl, err := parse(fsys)
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl}, nil
}

func parse(fsys fs.FS) (*template.Template, error) {
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(fsys, "fragments/*.html", "pages/*.html")
	if err != nil {
		return nil, eris.Wrap(err, "templates: parse")
	}
	return tmpl, nil
}

// Static returns the embedded static assets.
func Static() fs.FS {
	sub, err := fs.Sub(embedded, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// Render renders a named template to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", eris.Wrapf(err, "templates: render %s", name)
	}
	return buf.String(), nil
}
