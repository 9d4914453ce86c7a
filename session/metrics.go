package session

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_ticks_total",
			Help: "Session ticks by lifecycle state",
		},
		[]string{"session", "state"},
	)

	mtxVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_risk_verdicts_total",
			Help: "Non-allow risk verdicts by rule and action",
		},
		[]string{"rule", "action"},
	)

	mtxTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_trades_total",
			Help: "Trades by result (open|win|loss)",
		},
		[]string{"session", "result"},
	)

	// One labeled series per state, flipped 0/1, so dashboards stay simple.
	mtxState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autopilot_session_state",
			Help: "Current lifecycle state indicator per session",
		},
		[]string{"session", "state"},
	)

	mtxFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autopilot_consecutive_failures",
			Help: "Consecutive tick failures per session",
		},
		[]string{"session"},
	)
)

func init() {
	prometheus.MustRegister(mtxTicks, mtxVerdicts, mtxTrades, mtxState, mtxFailures)
}

func tickCounter(session string, state State) {
	mtxTicks.WithLabelValues(session, string(state)).Inc()
}

func verdictCounter(rule, action string) {
	mtxVerdicts.WithLabelValues(rule, action).Inc()
}

func tradeCounter(session, result string) {
	mtxTrades.WithLabelValues(session, result).Inc()
}

var allStates = []State{Idle, Initiating, Open, Closing, Cooldown, Halted}

func gaugeState(session string, current State) {
	for _, st := range allStates {
		v := 0.0
		if st == current {
			v = 1
		}
		mtxState.WithLabelValues(session, string(st)).Set(v)
	}
}

func failureGauge(session string, n int) {
	mtxFailures.WithLabelValues(session).Set(float64(n))
}
