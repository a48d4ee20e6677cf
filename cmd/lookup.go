package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/cybersponse"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup VALUE...",
	Short: "Look up observables against CyberSponse",
	Long: `Look up one or more observable values and print the matched incidents as JSON.

Each value produces one result per matched incident, or a single result with
"data": null when nothing matched. Results follow argument order.

Examples:
  cybersponse-lookup lookup 1.2.3.4 evil.example
  cybersponse-lookup lookup --host https://cs.example --username analyst d41d8cd98f00b204e9800998ecf8427e`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLookup,
}

func init() {
	rootCmd.AddCommand(lookupCmd)
}

func runLookup(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logger := newLogger(cfg, "lookup")

	svc, err := startService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	entities := make([]cybersponse.Entity, len(args))
	for i, v := range args {
		entities[i] = cybersponse.Entity{Value: v}
	}

	results, err := svc.Lookup(cmd.Context(), entities, cfg.CyberSponse)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}
