package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/penthu-app/penthu-web/internal/xerrors"
)

// DirLocator finds the package on local disk under the directory mounted at
// URLPrefix.
type DirLocator struct {
	dir          string
	file         string
	urlPrefix    string
	downloadName string
}

type DirOptions struct {
	// Dir is the directory served at URLPrefix.
	Dir string
	// File is the package filename inside Dir, default penthu-app.apk.
	File string
	// URLPrefix is where Dir is mounted, default /assets/.
	URLPrefix string
	// DownloadName defaults to Penthu.apk.
	DownloadName string
}

func NewDirLocator(opts DirOptions) (*DirLocator, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: Dir is required", ErrInvalidOptions)
	}
	if opts.File == "" {
		opts.File = DefaultFile
	}
	if opts.File != filepath.Base(opts.File) || strings.HasPrefix(opts.File, ".") {
		return nil, fmt.Errorf("%w: File must be a plain filename", ErrInvalidOptions)
	}
	if opts.URLPrefix == "" {
		opts.URLPrefix = "/assets/"
	}
	if !strings.HasSuffix(opts.URLPrefix, "/") {
		opts.URLPrefix += "/"
	}
	if opts.DownloadName == "" {
		opts.DownloadName = DefaultDownloadName
	}
	return &DirLocator{
		dir:          opts.Dir,
		file:         opts.File,
		urlPrefix:    opts.URLPrefix,
		downloadName: opts.DownloadName,
	}, nil
}

// Locate stats the package file. A missing file or a directory in its place
// counts as absent; other stat failures are returned.
func (l *DirLocator) Locate(_ context.Context) (Asset, bool, error) {
	fi, err := os.Stat(filepath.Join(l.dir, l.file))
	if errors.Is(err, fs.ErrNotExist) {
		return Asset{}, false, nil
	}
	if err != nil {
		return Asset{}, false, xerrors.Wrapf(err, "stat asset %s", l.file)
	}
	if !fi.Mode().IsRegular() {
		return Asset{}, false, nil
	}
	return Asset{
		URL:          path.Join(l.urlPrefix, l.file),
		DownloadName: l.downloadName,
		Size:         fi.Size(),
	}, true, nil
}
