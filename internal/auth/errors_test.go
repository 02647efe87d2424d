// internal/auth/errors_test.go
package auth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidCredentialsErrorKeepsPlatformText(t *testing.T) {
	err := NewInvalidCredentialsError("Invalid username or password.")

	assert.Equal(t, "Invalid username or password.", err.Message)
	assert.Equal(t, "invalid credentials: Invalid username or password.", err.Error())
}

func TestInvalidCredentialsErrorSurvivesWrapping(t *testing.T) {
	inner := NewInvalidCredentialsError("Account locked. Try again in 30 minutes.")
	wrapped := fmt.Errorf("login flow failed at submitting: %w", inner)

	var creds *InvalidCredentialsError
	require.True(t, errors.As(wrapped, &creds))
	assert.Equal(t, "Account locked. Try again in 30 minutes.", creds.Message)
}

func TestAuthenticationDataMissingErrorMessages(t *testing.T) {
	cases := []struct {
		name          string
		missingToken  bool
		missingUserID bool
		want          string
	}{
		{"TokenOnly", true, false, "authentication data missing: no bearer token was captured"},
		{"UserOnly", false, true, "authentication data missing: no user id was captured"},
		{"Both", true, true, "authentication data missing: neither bearer token nor user id was captured"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := NewAuthenticationDataMissingError(tc.missingToken, tc.missingUserID)
			assert.Equal(t, tc.want, err.Error())
			assert.Equal(t, tc.missingToken, err.MissingToken)
			assert.Equal(t, tc.missingUserID, err.MissingUserID)
		})
	}
}
