// Package risk is the trusted governor: a pure evaluation engine that gates
// every proposed action against the session's limits. It holds no state and
// performs no I/O, which is what makes it independently testable.
package risk

import (
	"fmt"
	"math"

	"github.com/rustyeddy/autopilot/broker"
	"github.com/rustyeddy/autopilot/oracle"
)

// CanInitiate decides whether a session may even ask the oracle for an open
// (IDLE -> INITIATING gate). A session still in cooldown, over its trade
// count, or over its daily loss floor does not spend an oracle call.
func CanInitiate(lim Limits, snap Snapshot) Verdict {
	if v := checkEmergencyRealized(lim, snap); v.Action == EmergencyStop {
		return v
	}
	if v := checkDailyCount(lim, snap); v.Action != Allow {
		return v
	}
	if v := checkDailyLoss(lim, snap); v.Action != Allow {
		return v
	}
	if v := checkCooldown(lim, snap); v.Action != Allow {
		return v
	}
	return allow()
}

// EvaluateOpen validates a proposed open. Checks run in a fixed order and
// short-circuit on the first hard failure; out-of-bounds size and leverage
// are clamped rather than denied because the oracle's numeric judgment is
// expected to be imprecise. The emergency check runs last and overrides any
// Allow/Clamp computed before it. The returned proposal is the one to
// execute — it differs from the input iff the verdict is Clamp.
func EvaluateOpen(lim Limits, snap Snapshot, p oracle.OpenProposal) (oracle.OpenProposal, Verdict) {
	out := p
	verdict := allow()

	// 1. Position-size bounds: clamp, don't deny.
	if clamped, reason := clampSize(lim, &out); clamped {
		verdict = Verdict{Action: Clamp, Rule: RulePositionSize, Reason: reason}
	}

	// 2. Stop-loss presence.
	if out.StopPrice <= 0 {
		return p, deny(RuleMissingStop, "every open must carry a stop-loss")
	}

	// 3. Per-position loss ceiling.
	if v := checkStopDistance(lim, snap, out); v.Action != Allow {
		return p, v
	}

	// 4. Daily trade-count ceiling.
	if v := checkDailyCount(lim, snap); v.Action != Allow {
		return p, v
	}

	// 5. Daily loss ceiling.
	if v := checkDailyLoss(lim, snap); v.Action != Allow {
		return p, v
	}

	// 6. Cooldown window.
	if v := checkCooldown(lim, snap); v.Action != Allow {
		return p, v
	}

	// 7. Emergency threshold overrides everything computed above.
	if v := checkEmergencyRealized(lim, snap); v.Action == EmergencyStop {
		return p, v
	}

	return out, verdict
}

// EvaluateAdjustment validates proposed stop/target changes on an open
// position. A stop move that widens the implied loss past the per-position
// ceiling is denied; the engine forces tighter stops, never larger ones.
func EvaluateAdjustment(lim Limits, snap Snapshot, pos broker.Position, adj oracle.Adjustment) Verdict {
	if v := checkEmergencyLive(lim, snap, pos); v.Action == EmergencyStop {
		return v
	}

	if adj.NewStop > 0 {
		distPct := stopDistancePct(pos.EntryPrice, adj.NewStop, pos.Side)
		if distPct < 0 {
			return deny(RulePerPositionLoss,
				fmt.Sprintf("stop %.4f on the wrong side of entry %.4f", adj.NewStop, pos.EntryPrice))
		}
		if distPct > lim.MaxPositionLossPct {
			return deny(RulePerPositionLoss,
				fmt.Sprintf("stop distance %.2f%% exceeds per-position ceiling %.2f%%", distPct, lim.MaxPositionLossPct))
		}
	}
	return allow()
}

// MonitorPosition checks a live position against the emergency threshold.
// It is called every supervision tick regardless of what the oracle said.
func MonitorPosition(lim Limits, snap Snapshot, pos broker.Position) Verdict {
	if v := checkEmergencyLive(lim, snap, pos); v.Action == EmergencyStop {
		return v
	}
	if v := checkEmergencyRealized(lim, snap); v.Action == EmergencyStop {
		return v
	}
	// Daily loss floor already met: open positions are flagged for
	// emergency-grade closure, not just left running.
	if snap.RealizedToday <= snap.dailyLossFloor(lim.MaxDailyLossPct) && snap.DayStartBalance > 0 {
		return Verdict{
			Action: EmergencyStop,
			Rule:   RuleDailyLossCeiling,
			Reason: fmt.Sprintf("daily loss floor reached (%.2f realized), closing open position", snap.RealizedToday),
		}
	}
	return allow()
}

func clampSize(lim Limits, p *oracle.OpenProposal) (bool, string) {
	clamped := false
	reason := ""

	if lim.MaxSizePct > 0 && p.SizePct > lim.MaxSizePct {
		reason = fmt.Sprintf("size %.1f%% clamped to max %.1f%%", p.SizePct, lim.MaxSizePct)
		p.SizePct = lim.MaxSizePct
		clamped = true
	}
	if lim.MinSizePct > 0 && p.SizePct < lim.MinSizePct {
		reason = fmt.Sprintf("size %.1f%% clamped to min %.1f%%", p.SizePct, lim.MinSizePct)
		p.SizePct = lim.MinSizePct
		clamped = true
	}
	if lim.MaxLeverage > 0 && p.Leverage > lim.MaxLeverage {
		reason = fmt.Sprintf("leverage %.0fx clamped to max %.0fx", p.Leverage, lim.MaxLeverage)
		p.Leverage = lim.MaxLeverage
		clamped = true
	}
	return clamped, reason
}

func checkStopDistance(lim Limits, snap Snapshot, p oracle.OpenProposal) Verdict {
	ref := p.EntryHint
	if ref <= 0 {
		ref = snap.RefPrice
	}
	if ref <= 0 {
		// Cannot evaluate a safety-critical bound without a reference price.
		// Refusing is the only safe answer.
		return deny(RulePerPositionLoss, "no reference price to evaluate stop distance")
	}

	distPct := stopDistancePct(ref, p.StopPrice, p.Side)
	if distPct < 0 {
		return deny(RulePerPositionLoss,
			fmt.Sprintf("stop %.4f on the wrong side of entry %.4f for %s", p.StopPrice, ref, p.Side))
	}
	if lim.MinStopDistancePct > 0 && distPct < lim.MinStopDistancePct {
		return deny(RulePerPositionLoss,
			fmt.Sprintf("stop distance %.2f%% too tight, minimum %.2f%%", distPct, lim.MinStopDistancePct))
	}
	if distPct > lim.MaxPositionLossPct {
		return deny(RulePerPositionLoss,
			fmt.Sprintf("stop distance %.2f%% exceeds per-position ceiling %.2f%%", distPct, lim.MaxPositionLossPct))
	}
	return allow()
}

func checkDailyCount(lim Limits, snap Snapshot) Verdict {
	if lim.MaxTradesPerDay > 0 && snap.TradesToday >= lim.MaxTradesPerDay {
		return deny(RuleDailyTradeCount,
			fmt.Sprintf("trade count %d reached daily ceiling %d", snap.TradesToday, lim.MaxTradesPerDay))
	}
	return allow()
}

func checkDailyLoss(lim Limits, snap Snapshot) Verdict {
	if snap.DayStartBalance <= 0 {
		return allow()
	}
	if floor := snap.dailyLossFloor(lim.MaxDailyLossPct); snap.RealizedToday <= floor {
		return deny(RuleDailyLossCeiling,
			fmt.Sprintf("realized %.2f at or below daily floor %.2f", snap.RealizedToday, floor))
	}
	return allow()
}

func checkCooldown(lim Limits, snap Snapshot) Verdict {
	if lim.Cooldown <= 0 || snap.LastCloseAt.IsZero() {
		return allow()
	}
	if until := snap.LastCloseAt.Add(lim.Cooldown); snap.Now.Before(until) {
		return deny(RuleCooldown,
			fmt.Sprintf("cooldown active until %s", until.UTC().Format("15:04:05")))
	}
	return allow()
}

// checkEmergencyRealized trips when realized losses for the day pass the
// emergency percentage of the day-start balance.
func checkEmergencyRealized(lim Limits, snap Snapshot) Verdict {
	if snap.DayStartBalance <= 0 || lim.EmergencyStopPct <= 0 {
		return allow()
	}
	if floor := snap.dailyLossFloor(lim.EmergencyStopPct); snap.RealizedToday <= floor {
		return emergency(fmt.Sprintf("realized %.2f past emergency floor %.2f", snap.RealizedToday, floor))
	}
	return allow()
}

// checkEmergencyLive trips when the live position's adverse move passes the
// emergency percentage.
func checkEmergencyLive(lim Limits, snap Snapshot, pos broker.Position) Verdict {
	if lim.EmergencyStopPct <= 0 || pos.EntryPrice <= 0 || pos.MarkPrice <= 0 {
		return allow()
	}
	lossPct := -pnlPct(pos)
	if lossPct >= lim.EmergencyStopPct {
		return emergency(fmt.Sprintf("live loss %.2f%% past emergency threshold %.2f%%", lossPct, lim.EmergencyStopPct))
	}
	return allow()
}

// pnlPct is the signed price move in the position's favor, percent of entry.
func pnlPct(pos broker.Position) float64 {
	move := (pos.MarkPrice - pos.EntryPrice) / pos.EntryPrice * 100
	if pos.Side == broker.Sell {
		move = -move
	}
	return move
}

// stopDistancePct is the adverse distance from entry to stop, percent of
// entry. Negative means the stop sits on the profit side of entry.
func stopDistancePct(entry, stop float64, side broker.Side) float64 {
	if entry <= 0 || stop <= 0 {
		return math.Inf(-1)
	}
	d := (entry - stop) / entry * 100
	if side == broker.Sell {
		d = -d
	}
	return d
}
