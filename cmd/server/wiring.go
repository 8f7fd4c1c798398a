package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/penthu-app/penthu-web/internal/assets"
	"github.com/penthu-app/penthu-web/internal/cfg"
	"github.com/penthu-app/penthu-web/internal/health"
	"github.com/penthu-app/penthu-web/internal/log"
	"github.com/penthu-app/penthu-web/internal/metrics"
	"github.com/penthu-app/penthu-web/internal/ratelimit"
	"github.com/penthu-app/penthu-web/internal/secrets"
	"github.com/penthu-app/penthu-web/internal/session"
	"github.com/penthu-app/penthu-web/internal/sitehandler"
	"github.com/penthu-app/penthu-web/internal/sitehttp"
	"github.com/penthu-app/penthu-web/internal/webassets"
	"github.com/penthu-app/penthu-web/internal/xerrors"
)

const memorySessions = 100_000

// keySource fetches the signing key from a remote store.
type keySource interface {
	Key(ctx context.Context) ([]byte, error)
}

type keySourceFunc func(ctx context.Context, name string) (keySource, error)

func ssmKeySource(ctx context.Context, name string) (keySource, error) {
	src, err := secrets.NewSSMSource(ctx, name, nil)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// sessionKey resolves the cookie signing key: the configured value, then
// the SSM parameter, else a random per-process key.
func sessionKey(ctx context.Context, L log.Logger, conf *cfg.App, remote keySourceFunc) ([]byte, error) {
	if conf.SessionKey != "" {
		return secrets.DecodeKey(conf.SessionKey)
	}
	if conf.SessionKeySSMParam != "" {
		src, err := remote(ctx, conf.SessionKeySSMParam)
		if err != nil {
			return nil, err
		}
		key, err := src.Key(ctx)
		if err != nil {
			return nil, err
		}
		L.Info(ctx, "session key loaded from SSM", "param", conf.SessionKeySSMParam)
		return key, nil
	}
	L.Warn(ctx, "no session key configured, using a random key; sessions will not survive a restart or span instances")
	return secrets.RandomKey(secrets.MinKeyLen)
}

// sessionStore picks redis when an address is configured, else memory. The
// readiness probe and close func are no-ops for the memory store.
func sessionStore(ctx context.Context, L log.Logger, conf *cfg.App) (session.Store, health.Probe, func() error, error) {
	if conf.RedisAddr == "" {
		L.Info(ctx, "session store: memory", "max_sessions", memorySessions, "ttl", conf.SessionTTL.String())
		return session.NewMemoryStore(memorySessions, conf.SessionTTL), nil, func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         conf.RedisAddr,
		DB:           conf.RedisDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	store := session.NewRedisStore(client, "", conf.SessionTTL)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, nil, nil, xerrors.Wrapf(err, "redis session store at %s", conf.RedisAddr)
	}
	L.Info(ctx, "session store: redis", "addr", conf.RedisAddr, "db", conf.RedisDB)
	return store, health.Ping("session store", store, time.Second), client.Close, nil
}

// assetLocator picks S3 when a bucket is configured, else the local asset dir.
func assetLocator(ctx context.Context, L log.Logger, conf *cfg.App) (assets.Locator, error) {
	if conf.AssetS3Bucket != "" {
		L.Info(ctx, "download asset: s3", "bucket", conf.AssetS3Bucket, "key", conf.AssetS3Key)
		loc, err := assets.NewS3Locator(ctx, assets.S3Options{
			Logger:       L,
			Bucket:       conf.AssetS3Bucket,
			Key:          conf.AssetS3Key,
			DownloadName: conf.DownloadName,
			PresignTTL:   conf.PresignTTL,
		})
		if err != nil {
			return nil, err
		}
		return loc, nil
	}
	L.Info(ctx, "download asset: local", "dir", conf.AssetDir, "file", conf.AssetFile)
	loc, err := assets.NewDirLocator(assets.DirOptions{
		Dir:          conf.AssetDir,
		File:         conf.AssetFile,
		URLPrefix:    "/assets/",
		DownloadName: conf.DownloadName,
	})
	if err != nil {
		return nil, err
	}
	return loc, nil
}

// staticMounts builds the read-only mounts. /css and /js come from
// static-dir when it has them and the built-in files otherwise; /assets is skipped
// when the package is served from S3 or the directory is missing.
func staticMounts(L log.Logger, conf *cfg.App, onNotFound func(string)) (map[string]http.Handler, error) {
	mounts := map[string]http.Handler{}
	add := func(prefix string, opts sitehandler.Options) error {
		opts.Logger = L
		opts.Prefix = prefix
		opts.OnNotFound = onNotFound
		h, err := sitehandler.New(opts)
		if err != nil {
			return xerrors.Wrapf(err, "mount %s", prefix)
		}
		mounts[prefix] = h
		return nil
	}

	for _, name := range []string{"css", "js"} {
		var opts sitehandler.Options
		if dir := filepath.Join(conf.StaticDir, name); conf.StaticDir != "" && isDir(dir) {
			opts.Dir = dir
		} else if fsys, ok := webassets.StaticFS(name); ok {
			opts.FS = fsys
		} else {
			continue
		}
		if err := add("/"+name, opts); err != nil {
			return nil, err
		}
	}

	switch {
	case conf.AssetS3Bucket != "":
	case !isDir(conf.AssetDir):
		L.Warn(context.Background(), "asset dir missing, /assets not mounted and downloads will report the app as unavailable", "dir", conf.AssetDir)
	default:
		if err := add("/assets", sitehandler.Options{Dir: conf.AssetDir}); err != nil {
			return nil, err
		}
	}
	return mounts, nil
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// routeBudgets maps each throttled route pattern to its budget.
func routeBudgets(conf *cfg.App) map[string]ratelimit.Budget {
	return map[string]ratelimit.Budget{
		sitehttp.RouteIndex:    {Requests: conf.RateIndex, Window: conf.RateWindow},
		sitehttp.RouteDownload: {Requests: conf.RateDownload, Window: conf.RateWindow},
		sitehttp.RouteStore:    {Requests: conf.RateStore, Window: conf.RateWindow},
	}
}

// sessionHooks feeds mailbox traffic into metrics.
func sessionHooks(m *metrics.ServerMetrics) (func(session.Kind), func(bool)) {
	return func(k session.Kind) { m.IncNotificationSet(string(k)) }, m.IncNotificationTaken
}
