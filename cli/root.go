// Package cli is the operator command tree. Query commands read the SQLite
// ledger directly; control commands talk to a running process over its ops
// endpoint.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "autopilot",
	Short: "Governed LLM-driven trading sessions",
	Long: `Autopilot runs isolated trading sessions in which an external decision
oracle proposes actions and a local risk governor enforces hard limits
before anything reaches the exchange.

It provides tools for:
  - Running one or more supervised trading sessions (paper venue built in)
  - Querying session state, trade history, and performance
  - Auditing every risk denial, clamp, and emergency stop
  - Halting and resuming sessions`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
