// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fitbridge/internal/config"
	"github.com/xkilldash9x/fitbridge/internal/observability"
	"github.com/xkilldash9x/fitbridge/pkg/fitbridge"
)

var (
	cfgFile string
	// cfg is the loaded configuration, populated by the root command's
	// PersistentPreRunE before any subcommand runs.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "fitbridge",
	Short: "fitbridge bridges member credentials to an authenticated fitness platform session.",
	Long: `fitbridge logs in to the fitness platform the way a member's browser does,
captures the session material the platform hands out along the way, and then
uses it for authenticated API calls: profile, workout CRUD and TCX export.`,
	// Version is set at build time. See cmd/version.go.
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(cfgFile)
		if err != nil {
			// Initialize a fallback logger so the failure is still visible
			// through the normal channel.
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "fitbridge"})
			return err
		}
		cfg = loaded

		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Debug("Starting fitbridge.",
			zap.String("version", Version),
			zap.String("config", cfg.Redacted()))
		return nil
	},
}

// Execute runs the root command with the given signal-aware context and
// reports whether execution succeeded.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Use the logger if available, otherwise fall back to stderr.
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command failed.", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml, then $HOME/.fitbridge/config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newProfileCmd())
	rootCmd.AddCommand(newWorkoutsCmd())
	rootCmd.AddCommand(newLogsCmd())
}

// loadConfig reads the config file (when present), layers FITBRIDGE_*
// environment variables over it, and validates the result. A missing config
// file is fine; defaults plus environment carry read-only commands.
func loadConfig(path string) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.fitbridge")
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("FITBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return config.NewConfigFromViper(v)
}

// newBridgeClient builds the facade for commands that talk to the platform.
func newBridgeClient(ctx context.Context) (*fitbridge.Client, error) {
	return fitbridge.New(ctx, cfg, observability.GetLogger())
}
