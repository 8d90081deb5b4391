// Package commands defines the stackctl command tree and its flags. The work
// itself lives in the handlers package.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/iac-studio/dbstack/pkg/logger"
)

// Root returns the root command.
func Root() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:           "stackctl",
		Short:         "Synthesize and deploy the scheduled development database stack",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			_, err := logger.InitWithWriter(logLevel, "console", os.Stderr)
			return err
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(Synth())
	cmd.AddCommand(Validate())
	cmd.AddCommand(Diff())
	cmd.AddCommand(Deploy())
	cmd.AddCommand(Destroy())
	cmd.AddCommand(Outputs())
	cmd.AddCommand(Schedules())
	cmd.AddCommand(Version())

	return cmd
}

// Sync flushes the logger.
func Sync() { logger.Sync() }
