package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/autopilot/ledger"
)

var dbPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./autopilot.db", "path to SQLite ledger")
	rootCmd.AddCommand(statusCmd, tradesCmd, perfCmd, riskEventsCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status [session]",
	Short: "Show session state and open trade from the ledger",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := ledger.NewSQLite(dbPath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer store.Close()

		sessions, err := store.ListSessions()
		if err != nil {
			return err
		}
		for _, sess := range sessions {
			if len(args) == 1 && sess.Name != args[0] {
				continue
			}
			open, err := store.GetOpenTrade(sess.ID)
			if err != nil {
				return err
			}
			fmt.Printf("%-16s last active %s\n", sess.Name, sess.LastActiveAt.Local().Format(time.RFC3339))
			if open == nil {
				fmt.Println("  flat")
				continue
			}
			fmt.Printf("  open %s %s size=%.6f entry=%.4f stop=%.4f tp=%.4f since %s\n",
				open.Side, open.Symbol, open.Size, open.EntryPrice,
				open.StopPrice, open.TakeProfit, open.OpenedAt.Local().Format(time.RFC3339))
		}
		return nil
	},
}

var tradesDay string

var tradesCmd = &cobra.Command{
	Use:   "trades <session>",
	Short: "List a session's trade history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := ledger.NewSQLite(dbPath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer store.Close()

		sess, err := store.GetSession(args[0])
		if err != nil {
			return err
		}
		trades, err := store.ListTrades(sess.ID, 200)
		if err != nil {
			return err
		}

		for _, t := range trades {
			if tradesDay != "" && t.OpenedAt.UTC().Format("2006-01-02") != tradesDay {
				continue
			}
			line := fmt.Sprintf("%s  %-4s %-10s size=%.6f entry=%.4f",
				t.OpenedAt.Local().Format("2006-01-02 15:04"), t.Side, t.Symbol, t.Size, t.EntryPrice)
			if t.Open() {
				fmt.Println(line + "  OPEN")
				continue
			}
			fmt.Printf("%s  pl=%+.2f  %s\n", line, *t.RealizedPL, t.CloseReason)
		}
		return nil
	},
}

var perfCmd = &cobra.Command{
	Use:   "perf <session>",
	Short: "Show aggregate performance and oracle spend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := ledger.NewSQLite(dbPath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer store.Close()

		sess, err := store.GetSession(args[0])
		if err != nil {
			return err
		}
		p, err := store.Performance(sess.ID)
		if err != nil {
			return err
		}
		cost, err := store.SumCosts(sess.ID)
		if err != nil {
			return err
		}

		fmt.Printf("trades:      %d (%d wins, %d losses)\n", p.Trades, p.Wins, p.Losses)
		fmt.Printf("win rate:    %.1f%%\n", p.WinRate*100)
		fmt.Printf("total P&L:   %+.2f\n", p.TotalPL)
		fmt.Printf("avg P&L:     %+.2f\n", p.AvgPL)
		fmt.Printf("oracle cost: %.4f\n", cost)
		return nil
	},
}

var riskEventsCmd = &cobra.Command{
	Use:   "risk-events <session>",
	Short: "Show the session's risk audit log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := ledger.NewSQLite(dbPath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer store.Close()

		sess, err := store.GetSession(args[0])
		if err != nil {
			return err
		}
		events, err := store.ListRiskEvents(sess.ID, 200)
		if err != nil {
			return err
		}

		for _, e := range events {
			fmt.Printf("%s  %-9s %-22s %-14s %s\n",
				e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				e.Severity, e.Rule, e.Action, e.Description)
		}
		return nil
	},
}

func init() {
	tradesCmd.Flags().StringVar(&tradesDay, "day", "", "filter by UTC day (YYYY-MM-DD)")
}
