package schemas

import "time"

// -- Authentication Schemas --

// Credentials holds the username and password pair used to drive the
// platform's HTML login form. Credentials live only for the duration of a
// login attempt; they are never persisted and the password is excluded from
// serialization and log output.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"-"`
}

// String implements fmt.Stringer with the password redacted.
func (c Credentials) String() string {
	return "Credentials{Username: " + c.Username + ", Password: [redacted]}"
}

// GoString keeps %#v output redacted as well.
func (c Credentials) GoString() string {
	return c.String()
}

// AuthToken is the bearer material recovered from the platform's token
// endpoint. Instances are immutable once synthesized.
type AuthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Valid reports whether the token carries usable bearer material.
func (t AuthToken) Valid() bool {
	return t.AccessToken != ""
}

// ExpiresWithin reports whether the token expires inside the given window
// measured from now. A zero ExpiresAt means the expiry is unknown and is
// treated as not expiring.
func (t AuthToken) ExpiresWithin(now time.Time, window time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !t.ExpiresAt.After(now.Add(window))
}

// User identifies the authenticated platform account.
type User struct {
	ID string `json:"id"`
}

// Session is the durable unit of authentication state: the token plus the
// user it belongs to. Sessions are replaced atomically as a whole, never
// mutated field by field.
type Session struct {
	Token     AuthToken `json:"token"`
	User      User      `json:"user"`
	CreatedAt time.Time `json:"created_at"`
}

// Valid reports whether the session holds both bearer material and a user
// identity. Both were captured during the same login attempt or the session
// is unusable.
func (s Session) Valid() bool {
	return s.Token.Valid() && s.User.ID != ""
}

// Expired reports whether the session's token has passed its expiry.
func (s Session) Expired(now time.Time) bool {
	if s.Token.ExpiresAt.IsZero() {
		return false
	}
	return now.After(s.Token.ExpiresAt)
}
