package session

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testHashKey = bytes.Repeat([]byte("k"), 32)

func newTestManager(t *testing.T, mutate ...func(*Options)) *Manager {
	t.Helper()
	opts := Options{
		Store:   NewMemoryStore(100, time.Minute),
		HashKey: testHashKey,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	m, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

// serve runs one request through the middleware, returning the response
// and the session id the handler saw.
func serve(m *Manager, cookies ...*http.Cookie) (*httptest.ResponseRecorder, string) {
	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = IDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == DefaultCookieName {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestNewManager_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"no store", Options{HashKey: testHashKey}},
		{"short hash key", Options{Store: NewMemoryStore(1, time.Minute), HashKey: []byte("short")}},
		{"bad block key", Options{Store: NewMemoryStore(1, time.Minute), HashKey: testHashKey, BlockKey: []byte("123")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(tt.opts); !errors.Is(err, ErrInvalidOptions) {
				t.Fatalf("err = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestMiddleware_IssuesCookieForNewClient(t *testing.T) {
	m := newTestManager(t)
	rec, id := serve(m)

	if id == "" {
		t.Fatal("handler saw no session id")
	}
	c := sessionCookie(t, rec)
	if !c.HttpOnly {
		t.Error("cookie should be HttpOnly")
	}
	if c.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", c.SameSite)
	}
	if c.Path != "/" {
		t.Errorf("Path = %q, want /", c.Path)
	}
	if c.Value == id {
		t.Error("cookie must carry the signed id, not the raw id")
	}
}

func TestMiddleware_ReusesValidCookie(t *testing.T) {
	m := newTestManager(t)
	first, id1 := serve(m)
	c := sessionCookie(t, first)

	second, id2 := serve(m, c)
	if id2 != id1 {
		t.Fatalf("session id changed: %q -> %q", id1, id2)
	}
	if len(second.Result().Cookies()) != 0 {
		t.Fatal("valid cookie should not be re-issued")
	}
}

func TestMiddleware_TamperedCookieGetsNewSession(t *testing.T) {
	m := newTestManager(t)
	first, id1 := serve(m)
	c := sessionCookie(t, first)
	c.Value = c.Value[:len(c.Value)-2] + "xx"

	second, id2 := serve(m, c)
	if id2 == "" || id2 == id1 {
		t.Fatalf("tampered cookie should yield a fresh session, got %q (was %q)", id2, id1)
	}
	sessionCookie(t, second)
}

func TestMiddleware_CookieFromOtherKeyRejected(t *testing.T) {
	other := newTestManager(t, func(o *Options) { o.HashKey = bytes.Repeat([]byte("z"), 32) })
	rec, foreignID := serve(other)

	m := newTestManager(t)
	_, id := serve(m, sessionCookie(t, rec))
	if id == foreignID {
		t.Fatal("cookie signed with another key must not be accepted")
	}
}

func TestMiddleware_SecureFlag(t *testing.T) {
	m := newTestManager(t, func(o *Options) { o.Secure = true })
	rec, _ := serve(m)
	if !sessionCookie(t, rec).Secure {
		t.Fatal("cookie should be Secure")
	}
}

func TestSetTake_ReadOnce(t *testing.T) {
	var sets, hits, misses int
	m := newTestManager(t, func(o *Options) {
		o.OnSet = func(Kind) { sets++ }
		o.OnTake = func(found bool) {
			if found {
				hits++
			} else {
				misses++
			}
		}
	})
	ctx := WithID(context.Background(), "11111111-1111-4111-8111-111111111111")

	if err := m.SetNotification(ctx, KindSuccess, "title", "message"); err != nil {
		t.Fatalf("SetNotification: %v", err)
	}
	n, found, err := m.TakeNotification(ctx)
	if err != nil || !found {
		t.Fatalf("first take = found %v err %v", found, err)
	}
	if n.Kind != KindSuccess || n.Title != "title" || n.Message != "message" {
		t.Fatalf("got %+v", n)
	}
	if _, found, _ := m.TakeNotification(ctx); found {
		t.Fatal("second take should find nothing")
	}
	if sets != 1 || hits != 1 || misses != 1 {
		t.Fatalf("observers: sets=%d hits=%d misses=%d", sets, hits, misses)
	}
}

func TestSetNotification_RejectsInvalid(t *testing.T) {
	m := newTestManager(t)
	ctx := WithID(context.Background(), "id")
	if err := m.SetNotification(ctx, "", "title", "m"); err == nil {
		t.Fatal("empty kind should be rejected")
	}
	if _, found, _ := m.TakeNotification(ctx); found {
		t.Fatal("rejected notification must not be stored")
	}
}

func TestNoSessionInContext(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	if err := m.SetNotification(ctx, KindInfo, "t", "m"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Set err = %v, want ErrNoSession", err)
	}
	if _, _, err := m.TakeNotification(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Take err = %v, want ErrNoSession", err)
	}
}

func TestSetTake_AcrossRequests(t *testing.T) {
	m := newTestManager(t)

	var cookie *http.Cookie
	setter := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = m.SetNotification(r.Context(), KindInfo, "App Store - soon", "m")
	}))
	rec := httptest.NewRecorder()
	setter.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/store/appstore", http.NoBody))
	cookie = sessionCookie(t, rec)

	var got Notification
	var found bool
	reader := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, found, _ = m.TakeNotification(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/notification", http.NoBody)
	req.AddCookie(cookie)
	reader.ServeHTTP(httptest.NewRecorder(), req)

	if !found || got.Title != "App Store - soon" {
		t.Fatalf("next request should see the notification, got %+v found=%v", got, found)
	}
}
