// Package sitehttp holds the landing page routes: the index page, the
// download flow, the store "coming soon" buttons and the notification poll.
//
// Every handler that touches the session mailbox reads it with a single
// Take, so a notification is shown at most once.
package sitehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/penthu-app/penthu-web/internal/assets"
	"github.com/penthu-app/penthu-web/internal/httpmw"
	"github.com/penthu-app/penthu-web/internal/log"
	"github.com/penthu-app/penthu-web/internal/session"
)

var ErrInvalidOptions = errors.New("sitehttp: invalid options")

// Route patterns, also used as rate limit keys.
const (
	RouteIndex        = "/"
	RouteDownload     = "/download"
	RouteStore        = "/store/{store_name}"
	RouteNotification = "/notification"
	RouteHealth       = "/health"
)

// Notifier is the session mailbox as the handlers see it.
type Notifier interface {
	SetNotification(ctx context.Context, kind session.Kind, title, message string) error
	TakeNotification(ctx context.Context) (session.Notification, bool, error)
}

type Renderer interface {
	Render(w http.ResponseWriter, status int, name string, data any) error
}

type Options struct {
	Logger   log.Logger
	Sessions Notifier
	Renderer Renderer
	Assets   assets.Locator

	// Limit returns the throttle for a route pattern, nil means unthrottled.
	Limit func(route string) func(http.Handler) http.Handler

	OnDownload   func(result string)
	OnStoreClick func(store string)
	OnStoreError func()
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.OnDownload == nil {
		o.OnDownload = func(string) {}
	}
	if o.OnStoreClick == nil {
		o.OnStoreClick = func(string) {}
	}
	if o.OnStoreError == nil {
		o.OnStoreError = func() {}
	}
}

func (o *Options) validate() error {
	if o.Sessions == nil {
		return fmt.Errorf("%w: Sessions is nil", ErrInvalidOptions)
	}
	if o.Renderer == nil {
		return fmt.Errorf("%w: Renderer is nil", ErrInvalidOptions)
	}
	if o.Assets == nil {
		return fmt.Errorf("%w: Assets is nil", ErrInvalidOptions)
	}
	// renderers that can list their templates are checked up front
	if lr, ok := o.Renderer.(interface{ Has(string) bool }); ok {
		for _, name := range pageTemplates {
			if !lr.Has(name) {
				return fmt.Errorf("%w: template %q not defined", ErrInvalidOptions, name)
			}
		}
	}
	return nil
}

// pageTemplates are the templates the handlers execute.
var pageTemplates = []string{"index", "download", "notification"}

type Routes struct {
	opts Options
}

func New(opts Options) (*Routes, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Routes{opts: opts}, nil
}

// RegisterRoutes mounts the landing routes. The router must already run the
// session middleware.
func (rt *Routes) RegisterRoutes(r chi.Router) {
	rt.opts.Logger.Debug(context.Background(), "registering landing routes", "throttled", rt.opts.Limit != nil)

	r.With(rt.limit(RouteIndex), httpmw.Scope("index")).Get(RouteIndex, rt.index)
	// HEAD never touches the mailbox; /notification has no HEAD so a request
	// cannot consume a pending notice
	r.With(rt.limit(RouteIndex), httpmw.Scope("index")).Head(RouteIndex, rt.indexHead)
	r.With(rt.limit(RouteDownload), httpmw.Scope("download")).Post(RouteDownload, rt.download)
	r.With(rt.limit(RouteStore), httpmw.Scope("store")).Post(RouteStore, rt.store)
	r.With(httpmw.Scope("notification")).Get(RouteNotification, rt.notification)
	r.Get(RouteHealth, rt.health)
	r.Head(RouteHealth, rt.health)
}

func (rt *Routes) limit(route string) func(http.Handler) http.Handler {
	if rt.opts.Limit != nil {
		if mw := rt.opts.Limit(route); mw != nil {
			return mw
		}
	}
	return func(next http.Handler) http.Handler { return next }
}

type indexData struct {
	Notification *session.Notification
}

type downloadData struct {
	Asset assets.Asset
}

func (rt *Routes) index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var data indexData
	n, found, err := rt.opts.Sessions.TakeNotification(ctx)
	if err != nil {
		rt.storeFailed(w, r, err)
		return
	}
	if found {
		data.Notification = &n
	}
	rt.render(w, r, http.StatusOK, "index", data)
}

// indexHead renders the page without a banner so the pending notification
// survives for the next GET or poll.
func (rt *Routes) indexHead(w http.ResponseWriter, r *http.Request) {
	rt.render(w, r, http.StatusOK, "index", indexData{})
}

// download records a starting notice, then either hands out the download
// trigger with a success notice queued for the poll, or shows the
// unavailable warning right away.
func (rt *Routes) download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	if err := rt.opts.Sessions.SetNotification(ctx, session.KindInfo, downloadStartingTitle, downloadStartingMsg); err != nil {
		rt.storeFailed(w, r, err)
		return
	}

	asset, found, err := rt.opts.Assets.Locate(ctx)
	if err != nil {
		// an unreachable bucket looks the same as a missing file to the visitor
		L.Error(ctx, err, "asset lookup failed")
		rt.opts.OnDownload("error")
		found = false
	}

	if found {
		if err := rt.opts.Sessions.SetNotification(ctx, session.KindSuccess, downloadReadyTitle, downloadReadyMsg); err != nil {
			rt.storeFailed(w, r, err)
			return
		}
		rt.opts.OnDownload("available")
		rt.render(w, r, http.StatusOK, "download", downloadData{Asset: asset})
		return
	}

	if err == nil {
		rt.opts.OnDownload("unavailable")
	}
	L.Warn(ctx, "download requested but asset unavailable")
	rt.setAndShow(w, r, session.KindWarning, downloadMissingTitle, downloadMissingMsg)
}

func (rt *Routes) store(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "store_name")
	rt.opts.OnStoreClick(name)

	title, msg := storeComingSoon(storeLabel(name))
	rt.setAndShow(w, r, session.KindInfo, title, msg)
}

// setAndShow stores a notification and renders it in the same response,
// consuming it so a later poll finds nothing.
func (rt *Routes) setAndShow(w http.ResponseWriter, r *http.Request, kind session.Kind, title, msg string) {
	ctx := r.Context()
	if err := rt.opts.Sessions.SetNotification(ctx, kind, title, msg); err != nil {
		rt.storeFailed(w, r, err)
		return
	}
	n, found, err := rt.opts.Sessions.TakeNotification(ctx)
	if err != nil {
		rt.storeFailed(w, r, err)
		return
	}
	if !found {
		// a concurrent poll on the same session won the Take
		n = session.Notification{Kind: kind, Title: title, Message: msg}
	}
	rt.render(w, r, http.StatusOK, "notification", n)
}

func (rt *Routes) notification(w http.ResponseWriter, r *http.Request) {
	n, found, err := rt.opts.Sessions.TakeNotification(r.Context())
	if err != nil {
		rt.storeFailed(w, r, err)
		return
	}
	if !found {
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	rt.render(w, r, http.StatusOK, "notification", n)
}

func (rt *Routes) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (rt *Routes) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	if err := rt.opts.Renderer.Render(w, status, name, data); err != nil {
		ctx := r.Context()
		log.FromContext(ctx).Error(ctx, err, "render failed", "template", name)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (rt *Routes) storeFailed(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	rt.opts.OnStoreError()
	log.FromContext(ctx).Error(ctx, err, "session store failed")
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
