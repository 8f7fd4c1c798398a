package sitehandler

import (
	"path"
	"strings"
)

// fingerprintable are the extensions served with AssetCacheControl. Anything
// else, the apk included, is replaced in place on release and gets
// OtherCacheControl so clients revalidate.
var fingerprintable = map[string]bool{
	".css": true, ".js": true, ".mjs": true, ".map": true,
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true, ".svg": true, ".ico": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
}

func cacheControlForFile(name string, o *Options) string {
	if fingerprintable[strings.ToLower(path.Ext(name))] {
		return o.AssetCacheControl
	}
	return o.OtherCacheControl
}
