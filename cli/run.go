package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/autopilot/broker"
	"github.com/rustyeddy/autopilot/broker/sim"
	"github.com/rustyeddy/autopilot/config"
	"github.com/rustyeddy/autopilot/ledger"
	"github.com/rustyeddy/autopilot/ops"
	"github.com/rustyeddy/autopilot/oracle"
	"github.com/rustyeddy/autopilot/oracle/execoracle"
	"github.com/rustyeddy/autopilot/risk"
	"github.com/rustyeddy/autopilot/session"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all configured trading sessions",
	Long: `Run starts every session declared in the config file, each on its own
timer. SIGINT/SIGTERM stops all sessions gracefully: open positions get a
final close-and-confirm before teardown.`,
	RunE: runSessions,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "./autopilot.yaml", "path to config file")
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return err
	}

	store, err := ledger.NewSQLite(cfg.Ledger.DBPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	venue, err := buildVenue(cfg.Venue)
	if err != nil {
		return err
	}
	gw := buildOracle(cfg.Oracle)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	reg := session.NewRegistry(store)
	for _, sc := range cfg.Sessions {
		if err := reg.Start(ctx, sessionConfig(sc), gw, venue); err != nil {
			return fmt.Errorf("start session %s: %w", sc.Name, err)
		}
		log.Printf("run: session %s started", sc.Name)
	}

	var srv *http.Server
	if cfg.Metrics.Listen != "" {
		srv = &http.Server{Addr: cfg.Metrics.Listen, Handler: ops.Handler(reg, store)}
		go func() {
			log.Printf("run: ops/metrics on %s", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("run: ops server: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("run: %s received, stopping sessions", sig)

	reg.StopAll()
	if srv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(sctx)
		scancel()
	}
	return nil
}

func buildVenue(vc config.VenueConfig) (broker.ExchangeGateway, error) {
	switch vc.Kind {
	case "", "paper":
		balance := vc.PaperBalance
		if balance <= 0 {
			balance = 10000
		}
		v := sim.New(balance)
		for symbol, mark := range vc.PaperMarks {
			v.SetMark(symbol, mark)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown venue kind %q", vc.Kind)
	}
}

func buildOracle(oc config.OracleConfig) oracle.DecisionGateway {
	if oc.Command == "" {
		// Without a configured oracle nothing ever opens; sessions idle
		// safely and the governor still audits.
		return oracle.Decline{}
	}
	return &execoracle.Gateway{
		Command:     oc.Command,
		Args:        oc.Args,
		CostPerCall: oc.CostPerCall,
	}
}

func sessionConfig(sc config.SessionConfig) session.Config {
	return session.Config{
		Name:         sc.Name,
		Symbols:      sc.Symbols,
		StyleProfile: sc.StyleProfile,
		Limits: risk.Limits{
			MinSizePct:         sc.MinSizePct,
			MaxSizePct:         sc.MaxSizePct,
			MaxLeverage:        sc.MaxLeverage,
			MaxPositionLossPct: sc.MaxPositionLossPct,
			MinStopDistancePct: sc.MinStopDistancePct,
			MaxDailyLossPct:    sc.MaxDailyLossPct,
			MaxTradesPerDay:    sc.MaxTradesPerDay,
			EmergencyStopPct:   sc.EmergencyStopPct,
			Cooldown:           sc.Cooldown.Std(),
		},
		MonitorInterval:      sc.MonitorInterval.Std(),
		IdleInterval:         sc.IdleInterval.Std(),
		DecisionTimeout:      sc.DecisionTimeout.Std(),
		ExchangeTimeout:      sc.ExchangeTimeout.Std(),
		FailureWarnThreshold: sc.FailureWarnThreshold,
		FailureHaltCeiling:   sc.FailureHaltCeiling,
	}
}
