// internal/network/errors.go
package network

import (
	"fmt"

	"github.com/xkilldash9x/fitbridge/api/schemas"
)

// NetworkError wraps transport level failures: DNS, dial, TLS, timeouts and
// connection resets. The request never produced a usable HTTP response.
type NetworkError struct {
	URL string
	Err error
}

// NewNetworkError creates a NetworkError for the given target URL.
func NewNetworkError(url string, err error) *NetworkError {
	return &NetworkError{URL: url, Err: err}
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error calling %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError reports a completed request whose status code signals failure.
type HTTPError struct {
	// Status is the HTTP status code the platform answered with.
	Status int
	URL    string
	// Snippet holds the leading bytes of the response body, for diagnostics.
	Snippet string
}

// NewHTTPError creates an HTTPError from a failed response.
func NewHTTPError(status int, url, snippet string) *HTTPError {
	return &HTTPError{Status: status, URL: url, Snippet: snippet}
}

func (e *HTTPError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("request to %s failed with status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("request to %s failed with status %d: %s", e.URL, e.Status, e.Snippet)
}

// ValidationError reports a request that could not be built or a response
// payload that could not be decoded into the expected shape.
type ValidationError struct {
	Reason string
	Err    error
}

// NewValidationError creates a ValidationError with an optional cause.
func NewValidationError(reason string, err error) *ValidationError {
	return &ValidationError{Reason: reason, Err: err}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("validation error: %s", e.Reason)
	}
	return fmt.Sprintf("validation error: %s: %v", e.Reason, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// AuthNoActiveSessionError means an authenticated call was attempted with no
// session in the store. The request is never sent.
type AuthNoActiveSessionError struct{}

// NewAuthNoActiveSessionError creates an AuthNoActiveSessionError.
func NewAuthNoActiveSessionError() *AuthNoActiveSessionError {
	return &AuthNoActiveSessionError{}
}

func (e *AuthNoActiveSessionError) Error() string {
	return "no active session; log in before calling the platform API"
}

func (e *AuthNoActiveSessionError) Unwrap() error {
	return schemas.ErrNoSession
}
