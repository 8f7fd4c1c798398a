package sitehandler

import (
	"io/fs"
	"strings"
)

// resolvePath maps the path below a mount to a regular file in fsys. The
// path must already be canonical: no empty, "." or ".." segments, no
// backslashes or NULs, no trailing slash. Directories are never listed.
func resolvePath(urlPath string, fsys fs.FS) (file string, ok bool) {
	name := strings.TrimPrefix(urlPath, "/")
	if name == "" || strings.HasSuffix(name, "/") || strings.ContainsAny(name, "\\\x00") {
		return "", false
	}
	if hasDotSegments(name) || !fs.ValidPath(name) {
		return "", false
	}

	info, err := fs.Stat(fsys, name)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return name, true
}

// hasDotSegments reports whether any segment is "." or ".." or contains
// "..", which catches encoded traversal after unescaping too.
func hasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || strings.Contains(seg, "..") {
			return true
		}
	}
	return false
}
