package sitehandler

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/penthu-app/penthu-web/internal/log"
)

var ErrInvalidOptions = errors.New("sitehandler: invalid options")

type Options struct {
	Logger log.Logger

	// FS is the read-only root of the mount. When nil, Dir is opened with os.DirFS.
	FS  fs.FS
	Dir string

	// Prefix is stripped from the request path before lookup, e.g. "/css".
	Prefix string

	// Cache policies applied by file extension.
	AssetCacheControl string // default: "public, max-age=31536000, immutable"
	OtherCacheControl string // default: "public, max-age=3600"

	// ContentTypes overrides the sniffed type per extension (lowercase, with dot).
	ContentTypes map[string]string

	// OnNotFound is called for every 404, used for metrics.
	OnNotFound func(prefix string)
}

var defaultContentTypes = map[string]string{
	".apk": "application/vnd.android.package-archive",
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=31536000, immutable"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
	if o.ContentTypes == nil {
		o.ContentTypes = defaultContentTypes
	}
	if o.FS == nil && o.Dir != "" {
		o.FS = os.DirFS(o.Dir)
	}
}

func (o *Options) validate() error {
	if o.FS == nil {
		return fmt.Errorf("%w: one of FS or Dir is required", ErrInvalidOptions)
	}
	if o.Dir != "" {
		info, err := os.Stat(o.Dir)
		if err != nil {
			return fmt.Errorf("%w: static dir %q: %v", ErrInvalidOptions, o.Dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: static dir %q is not a directory", ErrInvalidOptions, o.Dir)
		}
	}
	return nil
}
