package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	alarms "climate-guard/internal/alarms/domain"
	"climate-guard/internal/audit"
)

var buzzerCmd = &cobra.Command{
	Use:   "buzzer",
	Short: "Inspect and control the fleet buzzer",
}

var buzzerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the buzzer state per signal",
	Args:  cobra.NoArgs,
	RunE:  runBuzzerStatus,
}

var buzzerOverrideCmd = &cobra.Command{
	Use:   "override <temperature|humidity> <on|off>",
	Short: "Rewrite the remembered buzzer state without sending a command",
	Args:  cobra.ExactArgs(2),
	RunE:  runBuzzerOverride,
}

var buzzerReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-evaluate the fleet aggregate and dispatch any needed command",
	Args:  cobra.NoArgs,
	RunE:  runBuzzerReconcile,
}

func init() {
	buzzerCmd.AddCommand(buzzerStatusCmd, buzzerOverrideCmd, buzzerReconcileCmd)
	rootCmd.AddCommand(buzzerCmd)
}

func runBuzzerStatus(cmd *cobra.Command, _ []string) error {
	a, err := openCommandApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	return printBuzzer(cmd, a)
}

func runBuzzerOverride(cmd *cobra.Command, args []string) error {
	signal, err := alarms.ParseSignal(args[0])
	if err != nil {
		return err
	}
	var active bool
	switch args[1] {
	case "on", "active", "true":
		active = true
	case "off", "inactive", "false":
	default:
		return fmt.Errorf("state must be on or off, got %q", args[1])
	}

	a, err := openCommandApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.alarms.Override(cmd.Context(), signal, active); err != nil {
		return err
	}
	meta, _ := json.Marshal(map[string]bool{"active": active})
	if err := a.audit.Log(cmd.Context(), audit.Entry{
		Actor:        "cli",
		Action:       "buzzer.override",
		ResourceType: "buzzer",
		ResourceID:   string(signal),
		Metadata:     meta,
	}); err != nil {
		a.logger.Warn("audit write failed", zap.String("action", "buzzer.override"), zap.Error(err))
	}
	return printBuzzer(cmd, a)
}

func runBuzzerReconcile(cmd *cobra.Command, _ []string) error {
	a, err := openCommandApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.alarms.Reconcile(cmd.Context()); err != nil {
		return err
	}
	return printBuzzer(cmd, a)
}

func openCommandApp(cmd *cobra.Command) (*app, error) {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, logger)
}

func printBuzzer(cmd *cobra.Command, a *app) error {
	state, err := a.alarms.State(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "SIGNAL\tSTATE\tSOUNDING\tVERSION\tUPDATED")
	for _, signal := range alarms.Signals {
		s := state.For(signal)
		updated := "-"
		if !s.UpdatedAt.IsZero() {
			updated = s.UpdatedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\n", signal, s.State, s.ConfirmedActive(), s.Version, updated)
	}
	return nil
}
