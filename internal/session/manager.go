package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"

	"github.com/penthu-app/penthu-web/internal/log"
)

const DefaultCookieName = "penthu_session"

type Options struct {
	Logger log.Logger
	Store  Store

	// CookieName defaults to DefaultCookieName.
	CookieName string
	// HashKey signs the cookie (HMAC-SHA256), at least 32 bytes.
	HashKey []byte
	// BlockKey optionally encrypts the cookie value (16, 24 or 32 bytes).
	BlockKey []byte
	// Secure marks the cookie HTTPS-only.
	Secure bool
	// TTL bounds the cookie lifetime, default 30m.
	TTL time.Duration

	// OnSet and OnTake observe mailbox traffic, used for metrics.
	OnSet  func(kind Kind)
	OnTake func(found bool)
}

func (o *Options) setDefaults() {
	if o.CookieName == "" {
		o.CookieName = DefaultCookieName
	}
	if o.TTL <= 0 {
		o.TTL = defaultTTL
	}
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
}

func (o *Options) validate() error {
	if o.Store == nil {
		return fmt.Errorf("%w: Store is nil", ErrInvalidOptions)
	}
	if len(o.HashKey) < 32 {
		return fmt.Errorf("%w: HashKey must be at least 32 bytes (got %d)", ErrInvalidOptions, len(o.HashKey))
	}
	switch len(o.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("%w: BlockKey must be 16, 24 or 32 bytes (got %d)", ErrInvalidOptions, len(o.BlockKey))
	}
	return nil
}

// Manager issues session cookies and fronts the notification Store.
type Manager struct {
	opts  Options
	codec *securecookie.SecureCookie
}

func NewManager(opts Options) (*Manager, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	codec := securecookie.New(opts.HashKey, opts.BlockKey).MaxAge(int(opts.TTL.Seconds()))
	return &Manager{opts: opts, codec: codec}, nil
}

type idKey struct{}

// WithID attaches a session id to ctx.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, idKey{}, id)
}

// IDFromContext returns the session id resolved by Middleware, or "".
func IDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(idKey{}).(string)
	return id
}

// Middleware resolves the session id from the signed cookie. Clients
// without a valid cookie get a fresh id and a Set-Cookie on this response.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := m.readCookie(r)
		if !ok {
			id = uuid.NewString()
			if err := m.writeCookie(w, id); err != nil {
				// the request still works, the notification just won't survive it
				log.FromContext(r.Context()).Error(r.Context(), err, "session cookie encode failed")
			}
		}
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
	})
}

func (m *Manager) readCookie(r *http.Request) (string, bool) {
	c, err := r.Cookie(m.opts.CookieName)
	if err != nil {
		return "", false
	}
	var id string
	if err := m.codec.Decode(m.opts.CookieName, c.Value, &id); err != nil {
		// tampered, expired or signed with a rotated key
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

func (m *Manager) writeCookie(w http.ResponseWriter, id string) error {
	encoded, err := m.codec.Encode(m.opts.CookieName, id)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(m.opts.TTL.Seconds()),
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// SetNotification stores a notification for the session in ctx, replacing
// any pending one.
func (m *Manager) SetNotification(ctx context.Context, kind Kind, title, message string) error {
	id := IDFromContext(ctx)
	if id == "" {
		return ErrNoSession
	}
	n := Notification{Kind: kind, Title: title, Message: message}
	if err := n.Validate(); err != nil {
		return fmt.Errorf("session: invalid notification: %w", err)
	}
	if err := m.opts.Store.Put(ctx, id, n); err != nil {
		return err
	}
	if m.opts.OnSet != nil {
		m.opts.OnSet(kind)
	}
	return nil
}

// TakeNotification returns the pending notification for the session in ctx
// and clears it. Later calls report found=false until the next Set.
func (m *Manager) TakeNotification(ctx context.Context) (Notification, bool, error) {
	id := IDFromContext(ctx)
	if id == "" {
		return Notification{}, false, ErrNoSession
	}
	n, found, err := m.opts.Store.Take(ctx, id)
	if err != nil {
		return Notification{}, false, err
	}
	if m.opts.OnTake != nil {
		m.opts.OnTake(found)
	}
	return n, found, nil
}
