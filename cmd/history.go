package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/store"
)

var (
	historyLimit    int
	historyIncident string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded workflow action invocations",
	Long: `List workflow action invocations from the audit log, newest first.

Examples:
  cybersponse-lookup history
  cybersponse-lookup history --incident /api/3/incidents/6b2f... --limit 5`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of entries to show")
	historyCmd.Flags().StringVar(&historyIncident, "incident", "", "Only show invocations for this incident IRI")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	st, err := store.NewStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	invocations, err := st.ListInvocations(cmd.Context(), historyIncident, historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(invocations) == 0 {
		fmt.Fprintln(out, "No invocations recorded.")
		return nil
	}

	fmt.Fprintf(out, "Found %d invocation(s):\n\n", len(invocations))
	for i, inv := range invocations {
		outcome := "OK"
		if !inv.Success {
			outcome = "FAILED"
		}
		fmt.Fprintf(out, "%d. [%s] %s\n", i+1, outcome, inv.ActionName)
		fmt.Fprintf(out, "   Incident: %s\n", inv.IncidentID)
		fmt.Fprintf(out, "   Actor: %s\n", inv.Actor)
		if inv.StatusCode != 0 {
			fmt.Fprintf(out, "   Status: %d\n", inv.StatusCode)
		}
		fmt.Fprintf(out, "   At: %s\n", inv.Timestamp.Format("2006-01-02 15:04:05"))
		if inv.Error != "" {
			fmt.Fprintf(out, "   Error: %s\n", inv.Error)
		}
		fmt.Fprintln(out)
	}
	return nil
}
