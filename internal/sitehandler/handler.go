// Package sitehandler serves the read-only static mounts (/css, /js, /assets).
package sitehandler

import (
	"net/http"
	"path"
	"strings"
)

// Handler serves files below one mount prefix. It never lists directories
// and answers anything but GET and HEAD with 405.
type Handler struct {
	opts Options
}

func New(opts Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.Prefix = strings.TrimSuffix(opts.Prefix, "/")
	return &Handler{opts: opts}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
	default:
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	file, ok := h.lookup(r.URL.Path)
	if !ok {
		h.notFound(w)
		return
	}

	hdr := w.Header()
	if cc := cacheControlForFile(file, &h.opts); cc != "" {
		hdr.Set("Cache-Control", cc)
	}
	if ct, ok := h.opts.ContentTypes[strings.ToLower(path.Ext(file))]; ok {
		hdr.Set("Content-Type", ct)
	}
	http.ServeFileFS(w, r, h.opts.FS, file)
}

// lookup strips the mount prefix, which must be followed by a slash so
// "/cssx/a.css" does not resolve under "/css".
func (h *Handler) lookup(urlPath string) (string, bool) {
	rel, ok := strings.CutPrefix(urlPath, h.opts.Prefix)
	if !ok || !strings.HasPrefix(rel, "/") {
		return "", false
	}
	return resolvePath(rel, h.opts.FS)
}

func (h *Handler) notFound(w http.ResponseWriter) {
	if h.opts.OnNotFound != nil {
		h.opts.OnNotFound(h.opts.Prefix)
	}
	hdr := w.Header()
	hdr.Set("Cache-Control", "no-store")
	hdr.Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("404 page not found"))
}
