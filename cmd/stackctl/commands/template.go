package commands

import (
	"github.com/spf13/cobra"

	"github.com/iac-studio/dbstack/cmd/stackctl/handlers"
)

// Synth returns the synth command.
func Synth() *cobra.Command {
	var format, out string

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Print the synthesized CloudFormation template",
		Long: `Synth builds the stack from the current configuration and prints the
template. Output is deterministic: the same configuration always renders the
same bytes.

Example:
  stackctl synth --format yaml --out template.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Synth(cmd.Context(), cmd.OutOrStdout(), format, out)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format (json, yaml)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the template to this file instead of stdout")

	return cmd
}

// Validate returns the validate command.
func Validate() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Synthesize the stack and check the template",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Validate(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

// Diff returns the diff command.
func Diff() *cobra.Command {
	return &cobra.Command{
		Use:   "diff",
		Short: "Compare the synthesized template with the deployed stack",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Diff(cmd.Context(), cmd.OutOrStdout())
		},
	}
}
