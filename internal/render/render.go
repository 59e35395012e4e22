// Package render implements the template collaborator of the mail pipeline.
// The pipeline only ever supplies a template id and named variables and gets
// a rendered string back; the site templates live in templates/ and can be
// swapped without touching pipeline code.
package render

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

// Template ids the pipeline renders through.
const (
	EmailText     = "email_text"
	EmailHTML     = "email_html"
	EmailSubject  = "email_subject"
	EmailFromName = "email_fromname"
	EmailVia      = "email_via"
)

//go:embed templates/*.tmpl
var files embed.FS

// Engine renders the embedded site templates.
type Engine struct {
	t *template.Template
}

// New parses the embedded templates. Parsing failure is a build defect, so
// it panics like template.Must.
func New() *Engine {
	return &Engine{t: template.Must(template.ParseFS(files, "templates/*.tmpl"))}
}

// Render executes the template with the given id over the named variables.
func (e *Engine) Render(id string, vars map[string]string) (string, error) {
	name := id + ".tmpl"
	if e.t.Lookup(name) == nil {
		return "", fmt.Errorf("unknown template %q", id)
	}
	var b strings.Builder
	if err := e.t.ExecuteTemplate(&b, name, vars); err != nil {
		return "", fmt.Errorf("render %s: %w", id, err)
	}
	return b.String(), nil
}
