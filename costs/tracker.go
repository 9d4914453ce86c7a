// Package costs accounts for every oracle round trip. The tracker wraps a
// DecisionGateway and appends a cost record per invocation — including failed
// ones, since those burn money and latency too.
package costs

import (
	"context"
	"log"
	"time"

	"github.com/rustyeddy/autopilot/ledger"
	"github.com/rustyeddy/autopilot/oracle"
)

type Tracker struct {
	inner     oracle.DecisionGateway
	store     ledger.Store
	sessionID string
}

var _ oracle.DecisionGateway = (*Tracker)(nil)

func NewTracker(inner oracle.DecisionGateway, store ledger.Store, sessionID string) *Tracker {
	return &Tracker{inner: inner, store: store, sessionID: sessionID}
}

func (t *Tracker) ProposeOpen(ctx context.Context, dc oracle.Context) (*oracle.OpenProposal, oracle.CallMeta, error) {
	start := time.Now()
	p, meta, err := t.inner.ProposeOpen(ctx, dc)
	t.record(oracle.CallInitiate, meta, time.Since(start))
	return p, meta, err
}

func (t *Tracker) EvaluatePosition(ctx context.Context, dc oracle.Context) (*oracle.Evaluation, oracle.CallMeta, error) {
	start := time.Now()
	e, meta, err := t.inner.EvaluatePosition(ctx, dc)
	t.record(oracle.CallMonitor, meta, time.Since(start))
	return e, meta, err
}

func (t *Tracker) ProposeClose(ctx context.Context, dc oracle.Context) (*oracle.CloseIntent, oracle.CallMeta, error) {
	start := time.Now()
	c, meta, err := t.inner.ProposeClose(ctx, dc)
	t.record(oracle.CallClose, meta, time.Since(start))
	return c, meta, err
}

func (t *Tracker) record(kind oracle.CallType, meta oracle.CallMeta, rtt time.Duration) {
	err := t.store.RecordCost(ledger.CostRecord{
		SessionID:     t.sessionID,
		CallType:      string(kind),
		CreatedAt:     time.Now().UTC(),
		EstimatedCost: meta.EstimatedCost,
		Latency:       rtt,
	})
	if err != nil {
		// Accounting must never block trading; log and move on.
		log.Printf("costs: record %s call: %v", kind, err)
	}
}
