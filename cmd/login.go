// -- cmd/login.go --
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/fitbridge/api/schemas"
)

const (
	envUsername = "FITBRIDGE_USERNAME"
	envPassword = "FITBRIDGE_PASSWORD"
)

// newLoginCmd creates the `login` command. Credentials come from flags or
// the environment; they drive one browser login and are never written
// anywhere.
func newLoginCmd() *cobra.Command {
	var username, password string

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the platform and store the captured session",
		Long: `Login drives the platform's HTML login form in a headless browser and
captures the bearer token the page obtains for itself. The resulting session
is stored in the configured backend for later commands.

The password should be supplied via ` + envPassword + `; the --password flag
exists for scripting but leaks into shell history and process listings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := resolveCredentials(username, password)
			if err != nil {
				return err
			}
			if err := cfg.Login.Validate(); err != nil {
				return err
			}

			client, err := newBridgeClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			session, err := client.Login(cmd.Context(), creds)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as user %s (session expires %s)\n",
				session.User.ID, session.Token.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	loginCmd.Flags().StringVarP(&username, "username", "u", "", "platform username (falls back to "+envUsername+")")
	loginCmd.Flags().StringVarP(&password, "password", "p", "", "platform password (prefer "+envPassword+")")
	return loginCmd
}

// resolveCredentials merges the flag values with the environment fallbacks.
func resolveCredentials(username, password string) (schemas.Credentials, error) {
	if username == "" {
		username = os.Getenv(envUsername)
	}
	if password == "" {
		password = os.Getenv(envPassword)
	}
	if username == "" || password == "" {
		return schemas.Credentials{}, fmt.Errorf(
			"credentials required: pass --username and --password, or set %s and %s", envUsername, envPassword)
	}
	return schemas.Credentials{Username: username, Password: password}, nil
}
