package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

// templates/ holds the page and fragment templates, static/ the default
// css and js served when no directory is configured for those mounts.
//
//go:embed templates static
var embedded embed.FS

// TemplatesFS returns the embedded html templates.
func TemplatesFS() fs.FS {
	return sub("templates")
}

// StaticFS returns the embedded default for a static mount ("css" or "js").
func StaticFS(mount string) (fs.FS, bool) {
	fsys, err := fs.Sub(embedded, "static/"+mount)
	if err != nil {
		return nil, false
	}
	if entries, err := fs.ReadDir(fsys, "."); err != nil || len(entries) == 0 {
		return nil, false
	}
	return fsys, true
}

func sub(dir string) fs.FS {
	fsys, err := fs.Sub(embedded, dir)
	if err != nil {
		panic(fmt.Errorf("webassets: %s subfs: %w", dir, err))
	}
	return fsys
}
