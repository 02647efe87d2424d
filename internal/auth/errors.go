// internal/auth/errors.go
package auth

import "fmt"

// InvalidCredentialsError indicates the platform rejected the submitted
// username/password pair. Message carries the error text the login page
// displayed, verbatim, so operators see exactly what the platform said.
type InvalidCredentialsError struct {
	Message string
}

// Error implements the error interface.
func (e *InvalidCredentialsError) Error() string {
	return fmt.Sprintf("invalid credentials: %s", e.Message)
}

// NewInvalidCredentialsError creates a new InvalidCredentialsError.
func NewInvalidCredentialsError(message string) *InvalidCredentialsError {
	return &InvalidCredentialsError{Message: message}
}

// AuthenticationDataMissingError indicates the login flow reached the
// authenticated application but passive capture did not observe everything a
// session needs. The flags record which half was missing.
type AuthenticationDataMissingError struct {
	MissingToken  bool
	MissingUserID bool
}

// Error implements the error interface.
func (e *AuthenticationDataMissingError) Error() string {
	switch {
	case e.MissingToken && e.MissingUserID:
		return "authentication data missing: neither bearer token nor user id was captured"
	case e.MissingToken:
		return "authentication data missing: no bearer token was captured"
	case e.MissingUserID:
		return "authentication data missing: no user id was captured"
	default:
		return "authentication data missing"
	}
}

// NewAuthenticationDataMissingError creates a new AuthenticationDataMissingError.
func NewAuthenticationDataMissingError(missingToken, missingUserID bool) *AuthenticationDataMissingError {
	return &AuthenticationDataMissingError{
		MissingToken:  missingToken,
		MissingUserID: missingUserID,
	}
}
