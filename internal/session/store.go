package session

import (
	"context"
	"errors"
)

var (
	// ErrNoSession is returned when the request context carries no session id,
	// i.e. the handler is not behind Manager.Middleware.
	ErrNoSession = errors.New("session: no session in context")

	// ErrStoreUnavailable wraps backend failures (network, encoding).
	ErrStoreUnavailable = errors.New("session: store unavailable")

	ErrInvalidOptions = errors.New("session: invalid options")
)

// Store holds at most one Notification per session id.
//
// Implementations must make Take atomic per id: two concurrent Takes for
// the same id return the notification to at most one caller.
type Store interface {
	// Put replaces the notification for id, last write wins.
	Put(ctx context.Context, id string, n Notification) error
	// Take returns the notification for id and removes it in the same step.
	// found is false when the slot is empty or expired.
	Take(ctx context.Context, id string) (n Notification, found bool, err error)
}
