// Package execoracle asks an external command for trading decisions. The
// command receives the decision context as JSON on stdin and must print a
// single JSON decision object on stdout. This keeps the model runtime fully
// out of process; the core only ever sees bytes it can refuse.
package execoracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/rustyeddy/autopilot/oracle"
)

type Gateway struct {
	Command string
	Args    []string

	// CostPerCall is a flat per-invocation cost estimate recorded with each
	// call when the command does not report usage itself.
	CostPerCall float64
}

var _ oracle.DecisionGateway = (*Gateway)(nil)

// contextWire is what the external command sees on stdin.
type contextWire struct {
	Kind    oracle.CallType `json:"kind"`
	Context oracle.Context  `json:"context"`
}

func (g *Gateway) ProposeOpen(ctx context.Context, dc oracle.Context) (*oracle.OpenProposal, oracle.CallMeta, error) {
	out, meta, err := g.invoke(ctx, oracle.CallInitiate, dc)
	if err != nil {
		return nil, meta, err
	}
	p, err := oracle.DecodeOpen(out)
	return p, meta, err
}

func (g *Gateway) EvaluatePosition(ctx context.Context, dc oracle.Context) (*oracle.Evaluation, oracle.CallMeta, error) {
	out, meta, err := g.invoke(ctx, oracle.CallMonitor, dc)
	if err != nil {
		return nil, meta, err
	}
	e, err := oracle.DecodeEvaluation(out)
	return e, meta, err
}

func (g *Gateway) ProposeClose(ctx context.Context, dc oracle.Context) (*oracle.CloseIntent, oracle.CallMeta, error) {
	out, meta, err := g.invoke(ctx, oracle.CallClose, dc)
	if err != nil {
		return nil, meta, err
	}
	c, err := oracle.DecodeClose(out)
	return c, meta, err
}

func (g *Gateway) invoke(ctx context.Context, kind oracle.CallType, dc oracle.Context) ([]byte, oracle.CallMeta, error) {
	meta := oracle.CallMeta{EstimatedCost: g.CostPerCall}

	in, err := json.Marshal(contextWire{Kind: kind, Context: dc})
	if err != nil {
		return nil, meta, fmt.Errorf("encode context: %w", err)
	}

	cmd := exec.CommandContext(ctx, g.Command, g.Args...)
	cmd.Stdin = bytes.NewReader(in)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, meta, fmt.Errorf("oracle command timed out after %s: %w", time.Since(start).Round(time.Millisecond), ctx.Err())
		}
		return nil, meta, fmt.Errorf("oracle command failed: %w: %s", err, firstLine(stderr.Bytes()))
	}
	return stdout.Bytes(), meta, nil
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
