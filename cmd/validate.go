package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/cybersponse"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the required connection options are set",
	RunE: func(cmd *cobra.Command, args []string) error {
		errs := cybersponse.ValidateOptions(GetConfig().CyberSponse)
		for _, e := range errs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", e.Key, e.Message)
		}
		if len(errs) > 0 {
			return fmt.Errorf("%d option(s) missing", len(errs))
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Options OK.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
