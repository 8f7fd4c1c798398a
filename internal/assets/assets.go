// Package assets locates the downloadable app package.
//
// A Locator answers one question for the download handler: is the package
// available right now, and if so, where should the browser fetch it from.
// DirLocator serves from the local /assets mount; S3Locator checks an object
// and hands out a short-lived presigned URL.
package assets

import (
	"context"
	"errors"
)

const (
	DefaultFile         = "penthu-app.apk"
	DefaultDownloadName = "Penthu.apk"
)

var ErrInvalidOptions = errors.New("assets: invalid options")

// Asset is a located download.
type Asset struct {
	// URL is the href the download trigger points at.
	URL string
	// DownloadName is the filename suggested to the browser.
	DownloadName string
	// Size in bytes, 0 when unknown.
	Size int64
}

// Locator reports whether the download is available. found=false with a nil
// error means the asset is simply absent.
type Locator interface {
	Locate(ctx context.Context) (asset Asset, found bool, err error)
}
