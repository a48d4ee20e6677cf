package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/cybersponse"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/store"
)

var (
	actionName string
	incidentID string
)

var invokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Run a workflow action against an incident",
	Long: `Fetch an incident record, resolve a workflow action by name and trigger it.
Every attempt is recorded in the invocation audit log.

Examples:
  cybersponse-lookup invoke --action "Escalate" --incident /api/3/incidents/6b2f...`,
	RunE: runInvoke,
}

func init() {
	rootCmd.AddCommand(invokeCmd)

	invokeCmd.Flags().StringVar(&actionName, "action", "", "Workflow action name")
	invokeCmd.Flags().StringVar(&incidentID, "incident", "", "Incident IRI, e.g. /api/3/incidents/<uuid>")
	invokeCmd.MarkFlagRequired("action")
	invokeCmd.MarkFlagRequired("incident")
}

func runInvoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()
	logger := newLogger(cfg, "invoke")

	svc, err := startService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	st, err := store.NewStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()
	svc.SetRecorder(st)

	actions, err := svc.GetActions(ctx, cfg.CyberSponse)
	if err != nil {
		return err
	}
	action := cybersponse.FindAction(actions, actionName)
	if action == nil {
		return fmt.Errorf("no active workflow action named %q", actionName)
	}

	record, err := svc.GetRecord(ctx, cfg.CyberSponse, incidentID)
	if err != nil {
		return err
	}

	invokeErr := svc.Invoke(ctx, cfg.CyberSponse, action, record)

	out, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	return invokeErr
}
