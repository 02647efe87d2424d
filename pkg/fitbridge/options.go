// pkg/fitbridge/options.go
package fitbridge

import (
	"time"

	"github.com/xkilldash9x/fitbridge/api/schemas"
)

// defaultRefreshMargin is how far before expiry EnsureSession starts treating
// a session as stale and logs in again.
const defaultRefreshMargin = 5 * time.Minute

type settings struct {
	store  schemas.SessionStore
	margin time.Duration
	clock  func() time.Time
}

// Option customizes a Client at construction time.
type Option func(*settings)

// WithSessionStore substitutes a caller-managed session store for the one the
// configuration would select. The caller keeps ownership; Close will not
// touch it.
func WithSessionStore(store schemas.SessionStore) Option {
	return func(s *settings) {
		s.store = store
	}
}

// WithRefreshMargin overrides how close to expiry a session may get before
// EnsureSession replaces it. Non-positive values are ignored.
func WithRefreshMargin(margin time.Duration) Option {
	return func(s *settings) {
		if margin > 0 {
			s.margin = margin
		}
	}
}

// WithClock substitutes the time source used for freshness decisions.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}
