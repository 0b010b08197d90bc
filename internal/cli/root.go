package cli

import (
	"apphost/internal/cli/commands"
	"apphost/internal/logger"

	"github.com/spf13/cobra"
)

// createRootCommand creates the root command with global flags
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "apphost",
		Short: "Run a multi-resource application on your machine",
		Long: `apphost starts the processes and containers declared in an apphost.toml
manifest in dependency order. It allocates endpoints, injects them into
consumers as environment variables and arguments, waits for health checks and
stops everything in reverse order on exit.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			applyLogging(cmd)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default to showing help if no subcommand
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to the global configuration (default: $XDG_CONFIG_HOME/apphost/config.toml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json")

	return rootCmd
}

// applyLogging configures the logger from the global configuration, then
// from explicit flags. A broken configuration file is reported by the
// command that needs it, not here.
func applyLogging(cmd *cobra.Command) {
	if global, err := commands.LoadGlobal(cmd); err == nil {
		if global.Logging.Level != "" {
			logger.SetLevel(global.Logging.Level)
		}
		if global.Logging.Format != "" {
			logger.SetFormat(global.Logging.Format)
		}
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		logger.SetLevel(level)
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		logger.SetFormat(format)
	}
}
