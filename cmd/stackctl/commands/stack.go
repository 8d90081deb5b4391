package commands

import (
	"github.com/spf13/cobra"

	"github.com/iac-studio/dbstack/cmd/stackctl/handlers"
)

// Deploy returns the deploy command.
func Deploy() *cobra.Command {
	var plan bool

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Create or update the stack",
		Long: `Deploy submits the template through a change set and waits until the stack
settles, bounded by DEPLOY_TIMEOUT. A stack that rolls back fails the command.

With --plan the change set is described and discarded.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Deploy(cmd.Context(), cmd.OutOrStdout(), plan)
		},
	}
	cmd.Flags().BoolVar(&plan, "plan", false, "Only show the changes the deployment would make")

	return cmd
}

// Destroy returns the destroy command.
func Destroy() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete the stack and everything in it",
		Long: `Destroy deletes the stack, including the database instance.

WARNING: This operation is irreversible.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Destroy(cmd.Context(), cmd.OutOrStdout(), yes)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")

	return cmd
}

// Outputs returns the outputs command.
func Outputs() *cobra.Command {
	return &cobra.Command{
		Use:   "outputs",
		Short: "Print the outputs of the deployed stack",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Outputs(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

// Schedules returns the schedules command.
func Schedules() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Show when the instances are next stopped and started",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Schedules(cmd.Context(), cmd.OutOrStdout(), count)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "Number of upcoming fire times to list")

	return cmd
}
