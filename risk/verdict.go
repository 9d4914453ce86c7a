package risk

// Action is what the engine decided to do with a proposal.
type Action string

const (
	Allow         Action = "allow"
	Clamp         Action = "clamped"
	Deny          Action = "denied"
	EmergencyStop Action = "emergency_stop"
)

// Rule identifies the limit that produced a non-Allow verdict. These strings
// are stable: they are persisted on risk events and matched by audits.
type Rule string

const (
	RuleNone             Rule = ""
	RulePositionSize     Rule = "position_size_bounds"
	RuleMissingStop      Rule = "missing_stop_loss"
	RulePerPositionLoss  Rule = "per_position_loss"
	RuleDailyTradeCount  Rule = "daily_trade_ceiling"
	RuleDailyLossCeiling Rule = "daily_loss_ceiling"
	RuleCooldown         Rule = "cooldown_active"
	RuleEmergency        Rule = "emergency_threshold"
)

// Severity grades a verdict for the audit trail.
type Severity string

const (
	SeverityWarning   Severity = "warning"
	SeverityBreach    Severity = "breach"
	SeverityEmergency Severity = "emergency"
)

// Verdict is the engine's answer. Exactly one non-Allow verdict maps to
// exactly one risk event, so every refusal is reconstructible afterwards.
type Verdict struct {
	Action Action
	Rule   Rule
	Reason string
}

// Allowed reports whether the proposal may proceed (possibly clamped).
func (v Verdict) Allowed() bool { return v.Action == Allow || v.Action == Clamp }

// Severity maps the action onto the audit severity scale.
func (v Verdict) Severity() Severity {
	switch v.Action {
	case Clamp:
		return SeverityWarning
	case EmergencyStop:
		return SeverityEmergency
	default:
		return SeverityBreach
	}
}

func allow() Verdict { return Verdict{Action: Allow} }

func deny(rule Rule, reason string) Verdict {
	return Verdict{Action: Deny, Rule: rule, Reason: reason}
}

func emergency(reason string) Verdict {
	return Verdict{Action: EmergencyStop, Rule: RuleEmergency, Reason: reason}
}
