package oracle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rustyeddy/autopilot/broker"
)

// ErrMalformed marks oracle output that could not be understood. Callers
// treat it as "no action this tick", never as a partial instruction.
var ErrMalformed = errors.New("oracle: malformed proposal")

// Wire formats for oracle JSON. Field names follow what the decision prompt
// asks the model to emit.
type openWire struct {
	Action     string  `json:"action"` // "open" | "decline"
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	SizePct    float64 `json:"size_pct"`
	Leverage   float64 `json:"leverage"`
	EntryHint  float64 `json:"entry_price_target"`
	StopPrice  float64 `json:"stop_price"`
	TakeProfit float64 `json:"take_profit_price"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

type adjustWire struct {
	Action        string  `json:"action"` // "adjust" | "hold"
	NewStop       float64 `json:"new_stop"`
	NewTakeProfit float64 `json:"new_take_profit"`
	Reason        string  `json:"reason"`
}

type closeWire struct {
	Action  string `json:"action"` // "close" | "hold"
	Reason  string `json:"reason"`
	Urgency string `json:"urgency"`
}

// DecodeOpen parses an open decision from raw oracle output. A well-formed
// decline returns (nil, nil). Anything unintelligible returns ErrMalformed.
// Numeric sanity only — risk limits are the risk engine's job, not ours.
func DecodeOpen(raw []byte) (*OpenProposal, error) {
	var w openWire
	if err := strictUnmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch strings.ToLower(w.Action) {
	case "decline", "no_trade", "hold", "":
		return nil, nil
	case "open", "buy", "sell":
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrMalformed, w.Action)
	}

	side, err := parseSide(w.Side, w.Action)
	if err != nil {
		return nil, err
	}
	if w.Symbol == "" {
		return nil, fmt.Errorf("%w: missing symbol", ErrMalformed)
	}
	if w.SizePct <= 0 {
		return nil, fmt.Errorf("%w: non-positive size_pct", ErrMalformed)
	}

	return &OpenProposal{
		Symbol:     strings.ToUpper(w.Symbol),
		Side:       side,
		SizePct:    w.SizePct,
		Leverage:   w.Leverage,
		EntryHint:  w.EntryHint,
		StopPrice:  w.StopPrice,
		TakeProfit: w.TakeProfit,
		Reasoning:  w.Reasoning,
		Confidence: w.Confidence,
	}, nil
}

// DecodeEvaluation parses a supervision decision: hold, adjust, or close.
func DecodeEvaluation(raw []byte) (*Evaluation, error) {
	var probe struct {
		Action string `json:"action"`
	}
	if err := strictUnmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch strings.ToLower(probe.Action) {
	case "hold", "no_change", "":
		return nil, nil
	case "close", "exit", "emergency_close":
		c, err := DecodeClose(raw)
		if err != nil {
			return nil, err
		}
		return &Evaluation{Close: c}, nil
	case "adjust", "adjust_stop", "adjust_target":
		a, err := DecodeAdjustment(raw)
		if err != nil {
			return nil, err
		}
		return &Evaluation{Adjustment: a}, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrMalformed, probe.Action)
	}
}

// DecodeAdjustment parses a monitoring decision. "hold" returns (nil, nil).
func DecodeAdjustment(raw []byte) (*Adjustment, error) {
	var w adjustWire
	if err := strictUnmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch strings.ToLower(w.Action) {
	case "hold", "no_change", "":
		return nil, nil
	case "adjust", "adjust_stop", "adjust_target":
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrMalformed, w.Action)
	}

	if w.NewStop <= 0 && w.NewTakeProfit <= 0 {
		return nil, fmt.Errorf("%w: adjust without new levels", ErrMalformed)
	}
	return &Adjustment{NewStop: w.NewStop, NewTakeProfit: w.NewTakeProfit, Reason: w.Reason}, nil
}

// DecodeClose parses a close decision. "hold" returns (nil, nil).
func DecodeClose(raw []byte) (*CloseIntent, error) {
	var w closeWire
	if err := strictUnmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch strings.ToLower(w.Action) {
	case "hold", "no_change", "":
		return nil, nil
	case "close", "exit", "emergency_close":
		return &CloseIntent{Reason: w.Reason, Urgency: w.Urgency}, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrMalformed, w.Action)
	}
}

func parseSide(s, action string) (broker.Side, error) {
	switch strings.ToLower(s) {
	case "buy", "long":
		return broker.Buy, nil
	case "sell", "short":
		return broker.Sell, nil
	case "":
		// Some models fold side into the action verb.
		if a := strings.ToLower(action); a == "buy" || a == "sell" {
			return broker.Side(a), nil
		}
	}
	return "", fmt.Errorf("%w: bad side %q", ErrMalformed, s)
}

// strictUnmarshal decodes one JSON object, tolerating surrounding
// whitespace and a fenced ```json block, which models produce routinely.
func strictUnmarshal(raw []byte, v any) error {
	raw = bytes.TrimSpace(raw)
	raw = stripFence(raw)
	if len(raw) == 0 {
		return errors.New("empty output")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

func stripFence(raw []byte) []byte {
	if !bytes.HasPrefix(raw, []byte("```")) {
		return raw
	}
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		raw = raw[i+1:]
	}
	if i := bytes.LastIndex(raw, []byte("```")); i >= 0 {
		raw = raw[:i]
	}
	return bytes.TrimSpace(raw)
}
