package cli

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/autopilot/ledger"
	"github.com/rustyeddy/autopilot/risk"
)

var opsAddr string

func init() {
	rootCmd.AddCommand(stopCmd, haltCmd, resumeCmd)
	for _, c := range []*cobra.Command{stopCmd, haltCmd, resumeCmd} {
		c.Flags().StringVar(&opsAddr, "addr", "http://127.0.0.1:9185", "ops endpoint of the running process")
	}
}

var stopCmd = &cobra.Command{
	Use:   "stop <session>",
	Short: "Stop a running session gracefully (close-and-confirm first)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postControl(args[0], "stop")
	},
}

var haltCmd = &cobra.Command{
	Use:   "halt <session>",
	Short: "Emergency-stop a session (unconditional close, no oracle)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postControl(args[0], "halt")
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session>",
	Short: "Clear a session's halted state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := postControl(args[0], "resume")
		var uerr *url.Error
		if errors.As(err, &uerr) {
			// The process is down. Halted state is not persisted, so a
			// restart comes up clean on its own; what must survive is the
			// audit record that an operator cleared the halt.
			return offlineResume(args[0])
		}
		return err
	},
}

// offlineResume writes the operator reset straight to the ledger when no
// running process is reachable.
func offlineResume(name string) error {
	store, err := ledger.NewSQLite(dbPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	sess, err := store.GetSession(name)
	if err != nil {
		return err
	}
	if err := store.RecordRiskEvent(ledger.RiskEvent{
		SessionID:   sess.ID,
		CreatedAt:   time.Now().UTC(),
		Severity:    string(risk.SeverityWarning),
		Rule:        "operator_reset",
		Description: "halt cleared by operator while process offline",
		Action:      "resumed",
	}); err != nil {
		return err
	}
	fmt.Printf("process unreachable; reset recorded in ledger for %s\n", name)
	return nil
}

func postControl(name, verb string) error {
	client := &http.Client{Timeout: 3 * time.Minute}
	url := fmt.Sprintf("%s/sessions/%s/%s", opsAddr, name, verb)

	resp, err := client.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("reach running process: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, string(body))
	}
	fmt.Print(string(body))
	return nil
}
