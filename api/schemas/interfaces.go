package schemas

import (
	"context"
	"errors"
)

// -- Store Interface --

// ErrNoSession is returned by SessionStore implementations when no session
// has been stored yet, or the stored session was cleared.
var ErrNoSession = errors.New("no active session")

// SessionStore defines the persistence boundary for authentication state.
// This abstraction keeps the login flow and the HTTP layer independent of the
// specific backend (in-memory, file, PostgreSQL).
//
// Implementations must treat sessions atomically: Get returns the most
// recently Set session as a whole, and Clear removes it as a whole. A Get
// with no stored session returns ErrNoSession.
type SessionStore interface {
	// Get retrieves the current session.
	Get(ctx context.Context) (Session, error)
	// Set replaces the current session.
	Set(ctx context.Context, s Session) error
	// Clear removes the current session. Clearing an empty store is not an
	// error.
	Clear(ctx context.Context) error
}
