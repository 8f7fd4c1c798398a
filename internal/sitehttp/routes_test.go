package sitehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/penthu-app/penthu-web/internal/assets"
	"github.com/penthu-app/penthu-web/internal/render"
	"github.com/penthu-app/penthu-web/internal/session"
	"github.com/penthu-app/penthu-web/internal/webassets"
)

type harness struct {
	t         *testing.T
	router    chi.Router
	assetDir  string
	cookie    *http.Cookie
	downloads []string
	stores    []string
	storeErrs int
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{t: t, assetDir: t.TempDir()}

	mgr, err := session.NewManager(session.Options{
		Store:   session.NewMemoryStore(100, time.Minute),
		HashKey: bytes.Repeat([]byte("k"), 32),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	rnd, err := render.New(webassets.TemplatesFS())
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	loc, err := assets.NewDirLocator(assets.DirOptions{Dir: h.assetDir})
	if err != nil {
		t.Fatalf("NewDirLocator: %v", err)
	}

	opts := Options{
		Sessions:     mgr,
		Renderer:     rnd,
		Assets:       loc,
		OnDownload:   func(r string) { h.downloads = append(h.downloads, r) },
		OnStoreClick: func(s string) { h.stores = append(h.stores, s) },
		OnStoreError: func() { h.storeErrs++ },
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	routes, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h.router = chi.NewRouter()
	h.router.Use(mgr.Middleware)
	routes.RegisterRoutes(h.router)
	return h
}

func (h *harness) publishAPK() {
	h.t.Helper()
	if err := os.WriteFile(filepath.Join(h.assetDir, assets.DefaultFile), []byte("PK\x03\x04"), 0o600); err != nil {
		h.t.Fatal(err)
	}
}

// do sends a request carrying the harness session cookie, adopting any new one.
func (h *harness) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, http.NoBody)
	if h.cookie != nil {
		req.AddCookie(h.cookie)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.DefaultCookieName {
			h.cookie = c
		}
	}
	return rec
}

func mustContain(t *testing.T, rec *httptest.ResponseRecorder, subs ...string) {
	t.Helper()
	body := rec.Body.String()
	for _, s := range subs {
		if !strings.Contains(body, s) {
			t.Errorf("body missing %q:\n%s", s, body)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	for name, opts := range map[string]Options{
		"no sessions": {Renderer: stubRenderer{}, Assets: stubLocator{}},
		"no renderer": {Sessions: &stubNotifier{}, Assets: stubLocator{}},
		"no assets":   {Sessions: &stubNotifier{}, Renderer: stubRenderer{}},
	} {
		if _, err := New(opts); !errors.Is(err, ErrInvalidOptions) {
			t.Errorf("%s: err = %v, want ErrInvalidOptions", name, err)
		}
	}
}

func TestNew_MissingTemplate(t *testing.T) {
	rnd, err := render.New(fstest.MapFS{
		"index.html":        {Data: []byte(`{{define "index"}}ok{{end}}`)},
		"notification.html": {Data: []byte(`{{define "notification"}}{{.Title}}{{end}}`)},
	})
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	_, err = New(Options{Sessions: &stubNotifier{}, Renderer: rnd, Assets: stubLocator{}})
	if !errors.Is(err, ErrInvalidOptions) || !strings.Contains(err.Error(), `"download"`) {
		t.Fatalf("err = %v, want missing download template", err)
	}
}

func TestIndex_NoNotification(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	mustContain(t, rec, `lang="ar"`, `dir="rtl"`, `action="/download"`, `action="/store/appstore"`)
	if strings.Contains(rec.Body.String(), "notification-banner") {
		t.Fatal("no banner expected without a pending notification")
	}
	if h.cookie == nil {
		t.Fatal("first response should issue a session cookie")
	}
}

func TestStore_Labels(t *testing.T) {
	tests := []struct {
		store string
		label string
	}{
		{"appstore", "App Store"},
		{"playstore", "Google Play"},
		{"huawei", "المتجر"},
		{"evil%3Cscript%3E", "المتجر"},
	}
	for _, tt := range tests {
		t.Run(tt.store, func(t *testing.T) {
			h := newHarness(t)
			rec := h.do(http.MethodPost, "/store/"+tt.store)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			title, msg := storeComingSoon(tt.label)
			mustContain(t, rec, title, msg, `data-kind="info"`, "ℹ️")
			if strings.Contains(rec.Body.String(), "<script>") || strings.Contains(rec.Body.String(), "huawei") {
				t.Fatal("store path value must not be echoed")
			}
		})
	}
}

func TestStore_ConsumesNotification(t *testing.T) {
	h := newHarness(t)
	h.do(http.MethodPost, "/store/playstore")

	if rec := h.do(http.MethodGet, "/notification"); rec.Code != http.StatusNoContent {
		t.Fatalf("poll after store = %d, want 204", rec.Code)
	}
	if len(h.stores) != 1 || h.stores[0] != "playstore" {
		t.Fatalf("store clicks = %v", h.stores)
	}
}

func TestDownload_Present(t *testing.T) {
	h := newHarness(t)
	h.publishAPK()

	rec := h.do(http.MethodPost, "/download")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	mustContain(t, rec, `href="/assets/penthu-app.apk"`, `download="Penthu.apk"`, `data-poll="/notification"`)

	// the success notice waits for the poll, exactly once
	poll := h.do(http.MethodGet, "/notification")
	if poll.Code != http.StatusOK {
		t.Fatalf("poll status = %d, want 200", poll.Code)
	}
	mustContain(t, poll, downloadReadyTitle, downloadReadyMsg, `data-kind="success"`)
	if strings.Contains(poll.Body.String(), downloadStartingTitle) {
		t.Fatal("starting notice should have been overwritten")
	}

	if again := h.do(http.MethodGet, "/notification"); again.Code != http.StatusNoContent {
		t.Fatalf("second poll = %d, want 204", again.Code)
	}
	if len(h.downloads) != 1 || h.downloads[0] != "available" {
		t.Fatalf("downloads = %v", h.downloads)
	}
}

func TestDownload_Absent(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/download")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	mustContain(t, rec, downloadMissingTitle, downloadMissingMsg, `data-kind="warning"`)
	if strings.Contains(rec.Body.String(), "download-trigger") {
		t.Fatal("no download trigger expected when the asset is absent")
	}

	if poll := h.do(http.MethodGet, "/notification"); poll.Code != http.StatusNoContent {
		t.Fatalf("poll after absent = %d, want 204", poll.Code)
	}
	if len(h.downloads) != 1 || h.downloads[0] != "unavailable" {
		t.Fatalf("downloads = %v", h.downloads)
	}
}

func TestDownload_LocatorErrorIsUnavailable(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Assets = stubLocator{err: errors.New("s3 timeout")}
	})

	rec := h.do(http.MethodPost, "/download")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	mustContain(t, rec, downloadMissingTitle)
	if len(h.downloads) != 1 || h.downloads[0] != "error" {
		t.Fatalf("downloads = %v", h.downloads)
	}
}

func TestIndex_ConsumesPending(t *testing.T) {
	h := newHarness(t)
	h.publishAPK()
	h.do(http.MethodPost, "/download")

	rec := h.do(http.MethodGet, "/")
	mustContain(t, rec, "notification-banner", downloadReadyTitle, "✅")

	if poll := h.do(http.MethodGet, "/notification"); poll.Code != http.StatusNoContent {
		t.Fatalf("poll after index = %d, want 204", poll.Code)
	}
	if rec := h.do(http.MethodGet, "/"); strings.Contains(rec.Body.String(), "notification-banner") {
		t.Fatal("second index render should have no banner")
	}
}

func TestNotification_IsPerSession(t *testing.T) {
	h := newHarness(t)
	h.publishAPK()
	h.do(http.MethodPost, "/download")

	other := &harness{t: t, router: h.router}
	if rec := other.do(http.MethodGet, "/notification"); rec.Code != http.StatusNoContent {
		t.Fatalf("other session poll = %d, want 204", rec.Code)
	}
	if rec := h.do(http.MethodGet, "/notification"); rec.Code != http.StatusOK {
		t.Fatalf("own session poll = %d, want 200", rec.Code)
	}
}

func TestHead_DoesNotTakeNotification(t *testing.T) {
	h := newHarness(t)
	h.publishAPK()
	h.do(http.MethodPost, "/download")

	for _, path := range []string{"/", "/health"} {
		if rec := h.do(http.MethodHead, path); rec.Code != http.StatusOK {
			t.Fatalf("HEAD %s = %d, want 200", path, rec.Code)
		}
	}
	if rec := h.do(http.MethodHead, "/"); strings.Contains(rec.Body.String(), "notification-banner") {
		t.Fatal("HEAD / should not render the pending banner")
	}

	poll := h.do(http.MethodGet, "/notification")
	if poll.Code != http.StatusOK {
		t.Fatalf("poll after HEAD = %d, want 200", poll.Code)
	}
	mustContain(t, poll, downloadReadyTitle)
}

// kindRecorder keeps the kind of every stored notification.
type kindRecorder struct {
	stubNotifier
	kinds []session.Kind
}

func (k *kindRecorder) SetNotification(_ context.Context, kind session.Kind, _, _ string) error {
	k.kinds = append(k.kinds, kind)
	return nil
}

func TestDownload_StartingNoticeIsInfo(t *testing.T) {
	tests := []struct {
		name  string
		apk   bool
		kinds []session.Kind
	}{
		{"present", true, []session.Kind{session.KindInfo, session.KindSuccess}},
		{"absent", false, []session.Kind{session.KindInfo, session.KindWarning}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &kindRecorder{}
			h := newHarness(t, func(o *Options) { o.Sessions = rec })
			if tt.apk {
				h.publishAPK()
			}
			if got := h.do(http.MethodPost, "/download"); got.Code != http.StatusOK {
				t.Fatalf("status = %d", got.Code)
			}
			if len(rec.kinds) != len(tt.kinds) {
				t.Fatalf("kinds = %v, want %v", rec.kinds, tt.kinds)
			}
			for i := range tt.kinds {
				if rec.kinds[i] != tt.kinds[i] {
					t.Fatalf("kinds = %v, want %v", rec.kinds, tt.kinds)
				}
			}
		})
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/health")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || len(body) != 1 {
		t.Fatalf("body = %v", body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/download"},
		{http.MethodPost, "/"},
		{http.MethodGet, "/store/appstore"},
		{http.MethodPost, "/notification"},
		{http.MethodHead, "/notification"},
	} {
		if rec := h.do(tc.method, tc.path); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s = %d, want 405", tc.method, tc.path, rec.Code)
		}
	}
}

func TestLimitAppliedToThrottledRoutesOnly(t *testing.T) {
	var asked []string
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	h := newHarness(t, func(o *Options) {
		o.Limit = func(route string) func(http.Handler) http.Handler {
			asked = append(asked, route)
			return deny
		}
	})

	for _, p := range []struct{ method, path string }{
		{http.MethodGet, "/"},
		{http.MethodPost, "/download"},
		{http.MethodPost, "/store/appstore"},
	} {
		if rec := h.do(p.method, p.path); rec.Code != http.StatusTooManyRequests {
			t.Errorf("%s %s = %d, want 429", p.method, p.path, rec.Code)
		}
	}
	if rec := h.do(http.MethodGet, "/notification"); rec.Code != http.StatusNoContent {
		t.Errorf("/notification = %d, want 204", rec.Code)
	}
	if rec := h.do(http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Errorf("/health = %d, want 200", rec.Code)
	}
	want := []string{RouteIndex, RouteDownload, RouteStore}
	if strings.Join(asked, ",") != strings.Join(want, ",") {
		t.Fatalf("Limit asked for %v, want %v", asked, want)
	}
}

func TestStoreFailure_Is500(t *testing.T) {
	failing := &stubNotifier{err: session.ErrStoreUnavailable}
	h := newHarness(t, func(o *Options) { o.Sessions = failing })

	for _, p := range []struct{ method, path string }{
		{http.MethodGet, "/"},
		{http.MethodPost, "/download"},
		{http.MethodPost, "/store/appstore"},
		{http.MethodGet, "/notification"},
	} {
		if rec := h.do(p.method, p.path); rec.Code != http.StatusInternalServerError {
			t.Errorf("%s %s = %d, want 500", p.method, p.path, rec.Code)
		}
	}
	if h.storeErrs != 4 {
		t.Fatalf("store errors = %d, want 4", h.storeErrs)
	}
}

func TestRenderFailure_Is500(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Renderer = stubRenderer{err: errors.New("template: boom")}
	})
	rec := h.do(http.MethodGet, "/")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Fatal("render error detail must not leak to the client")
	}
}

func TestSetAndShow_ConcurrentTakeFallsBack(t *testing.T) {
	// Set succeeds but Take finds nothing, as if a poll raced us
	h := newHarness(t, func(o *Options) { o.Sessions = &stubNotifier{} })

	rec := h.do(http.MethodPost, "/store/appstore")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	title, _ := storeComingSoon("App Store")
	mustContain(t, rec, title)
}

// stubs

// stubNotifier accepts every Set and never has anything to Take.
type stubNotifier struct {
	err error
}

func (s *stubNotifier) SetNotification(context.Context, session.Kind, string, string) error {
	return s.err
}

func (s *stubNotifier) TakeNotification(context.Context) (session.Notification, bool, error) {
	return session.Notification{}, false, s.err
}

type stubRenderer struct{ err error }

func (s stubRenderer) Render(http.ResponseWriter, int, string, any) error { return s.err }

type stubLocator struct{ err error }

func (s stubLocator) Locate(context.Context) (assets.Asset, bool, error) {
	return assets.Asset{}, false, s.err
}
