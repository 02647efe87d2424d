// -- cmd/logout.go --
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/fitbridge/internal/observability"
	"github.com/xkilldash9x/fitbridge/internal/store"
)

// newLogoutCmd creates the `logout` command. It talks to the session store
// directly so a logout works even when the HTTP client configuration is
// incomplete.
func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the stored session",
		Long: `Logout clears the session from the configured backend. The platform has
no server-side logout for captured tokens; the token simply ages out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.New(cmd.Context(), cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			defer store.Close(s)

			if err := s.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("clearing session: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session cleared.")
			return nil
		},
	}
}
