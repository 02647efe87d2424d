// internal/auth/synthesize.go
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xkilldash9x/fitbridge/api/schemas"
	"github.com/xkilldash9x/fitbridge/internal/browser"
)

// parserUnverified inspects token contents without checking the signature.
// Expiry read this way is advisory; the platform remains the authority on
// whether a token is actually still good.
var parserUnverified = new(jwt.Parser)

// Synthesize combines captured authentication material into a Session. It is
// a pure function of its inputs: the same capture, clock reading and TTL
// always produce the same session, so calling it twice is harmless.
//
// Expiry comes from the access token itself when it is a JWT with a readable
// exp claim; otherwise now+defaultTTL applies.
func Synthesize(capture browser.CaptureResult, now time.Time, defaultTTL time.Duration) (schemas.Session, error) {
	if !capture.Complete() {
		return schemas.Session{}, NewAuthenticationDataMissingError(!capture.HasToken(), !capture.HasUser())
	}

	expiresAt := now.Add(defaultTTL)
	if exp, ok := tokenExpiry(capture.AccessToken); ok {
		expiresAt = exp
	}

	return schemas.Session{
		Token: schemas.AuthToken{
			AccessToken:  capture.AccessToken,
			RefreshToken: capture.RefreshToken,
			ExpiresAt:    expiresAt,
		},
		User:      schemas.User{ID: capture.UserID},
		CreatedAt: now,
	}, nil
}

// tokenExpiry extracts the exp claim from a JWT access token. Opaque tokens
// and JWTs without an exp claim report ok=false.
func tokenExpiry(raw string) (time.Time, bool) {
	token, _, err := parserUnverified.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
