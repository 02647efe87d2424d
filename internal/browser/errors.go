// internal/browser/errors.go
package browser

import (
	"fmt"
	"strings"
	"time"
)

// This file introduces custom, typed errors for the browser layer. Using typed
// errors allows callers like the login flow to reliably classify failures with
// errors.As instead of brittle string matching.

// BrowserLaunchError indicates the browser process could not be started or the
// devtools connection could not be established. It is fatal: launch failures
// are never retried.
type BrowserLaunchError struct {
	Err error
}

// Error implements the error interface.
func (e *BrowserLaunchError) Error() string {
	return fmt.Sprintf("browser launch failed: %v", e.Err)
}

// Unwrap provides the underlying error for use with errors.Is/As.
func (e *BrowserLaunchError) Unwrap() error {
	return e.Err
}

// NewBrowserLaunchError creates a new BrowserLaunchError.
func NewBrowserLaunchError(err error) *BrowserLaunchError {
	return &BrowserLaunchError{Err: err}
}

// NavigationTimeoutError indicates a page load did not complete within its
// deadline. The target URL is carried for diagnostics.
type NavigationTimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

// Error implements the error interface.
func (e *NavigationTimeoutError) Error() string {
	return fmt.Sprintf("navigation to %s timed out after %s", e.URL, e.Timeout)
}

// Unwrap provides the underlying error for use with errors.Is/As.
func (e *NavigationTimeoutError) Unwrap() error {
	return e.Err
}

// NewNavigationTimeoutError creates a new NavigationTimeoutError.
func NewNavigationTimeoutError(url string, timeout time.Duration, err error) *NavigationTimeoutError {
	return &NavigationTimeoutError{URL: url, Timeout: timeout, Err: err}
}

// ElementNotFoundError indicates that none of the selector candidates for a
// logical element matched. Selectors holds every candidate tried, in the
// order they were attempted, so the failing page variant can be diagnosed
// from the error alone.
type ElementNotFoundError struct {
	Role      string
	Selectors []string
}

// Error implements the error interface.
func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("no element found for %s; tried selectors in order: [%s]",
		e.Role, strings.Join(e.Selectors, ", "))
}

// NewElementNotFoundError creates a new ElementNotFoundError.
func NewElementNotFoundError(role string, selectors []string) *ElementNotFoundError {
	return &ElementNotFoundError{Role: role, Selectors: selectors}
}
