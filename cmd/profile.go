// -- cmd/profile.go --
package cmd

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

// newProfileCmd creates the `profile` command.
func newProfileCmd() *cobra.Command {
	var asJSON bool

	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the logged-in account's profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newBridgeClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			profile, err := client.API().Profile(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				raw, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(profile, "", "  ")
				if err != nil {
					return fmt.Errorf("encoding profile: %w", err)
				}
				fmt.Fprintln(out, string(raw))
				return nil
			}

			fmt.Fprintf(out, "Name:     %s\n", profile.DisplayName())
			fmt.Fprintf(out, "Username: %s\n", profile.Username)
			fmt.Fprintf(out, "Email:    %s\n", profile.Email)
			fmt.Fprintf(out, "User ID:  %s\n", profile.ID)
			if profile.Premium {
				fmt.Fprintln(out, "Plan:     premium")
			}
			return nil
		},
	}

	profileCmd.Flags().BoolVar(&asJSON, "json", false, "print the raw profile as JSON")
	return profileCmd
}
