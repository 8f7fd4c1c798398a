// Package render executes the site's html templates.
//
// Templates are executed into a buffer first so a failing template never
// leaves a half-written 200 on the wire; the caller gets the error and
// answers 500 instead.
package render

import (
	"bytes"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/penthu-app/penthu-web/internal/xerrors"
)

const contentType = "text/html; charset=utf-8"

type Renderer struct {
	tmpl *template.Template
}

// New parses every *.html file at the root of fsys.
func New(fsys fs.FS) (*Renderer, error) {
	tmpl, err := template.New("site").ParseFS(fsys, "*.html")
	if err != nil {
		return nil, xerrors.Wrap(err, "parse templates")
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Has reports whether a template with the given name is defined.
func (r *Renderer) Has(name string) bool {
	return r.tmpl.Lookup(name) != nil
}

// Render executes name with data and writes it with the given status.
// Nothing is written when execution fails.
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, data any) error {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return xerrors.Wrapf(err, "render %s", name)
	}

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
	return nil
}
