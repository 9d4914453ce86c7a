package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rustyeddy/autopilot/broker"
	"github.com/rustyeddy/autopilot/costs"
	"github.com/rustyeddy/autopilot/ledger"
	"github.com/rustyeddy/autopilot/oracle"
)

// Registry holds independently running sessions, each addressed by name,
// each on its own timer with its own storage namespace. A fault or halt in
// one session never blocks the ticking of any other; the shared ledger is
// the only resource they touch in common.
type Registry struct {
	store ledger.Store

	mu      sync.Mutex
	runners map[string]*runner
}

func NewRegistry(store ledger.Store) *Registry {
	return &Registry{
		store:   store,
		runners: make(map[string]*runner),
	}
}

// Start creates (or restores) the named session and begins ticking it. The
// oracle gateway is wrapped with cost tracking so every invocation is
// accounted for.
func (r *Registry) Start(ctx context.Context, cfg Config, gw oracle.DecisionGateway, venue broker.ExchangeGateway) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runners[cfg.Name]; exists {
		return fmt.Errorf("registry: session %q already running", cfg.Name)
	}

	sess, err := New(cfg, r.store, nil, venue)
	if err != nil {
		return err
	}
	sess.oracle = costs.NewTracker(gw, r.store, sess.ID())

	run := newRunner(sess)
	r.runners[cfg.Name] = run
	go func() {
		run.run(ctx)
		r.mu.Lock()
		delete(r.runners, cfg.Name)
		r.mu.Unlock()
	}()
	return nil
}

// Stop winds a session down gracefully: the stop is honored before the next
// tick, and an open position gets a final close-and-confirm first.
func (r *Registry) Stop(name string) error {
	run, err := r.runner(name)
	if err != nil {
		return err
	}
	return run.requestStop(false)
}

// Halt is the hard variant: no oracle consultation, one unconditional close.
func (r *Registry) Halt(name string) error {
	run, err := r.runner(name)
	if err != nil {
		return err
	}
	return run.requestStop(true)
}

// StopAll winds down every running session; used on process shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	runs := make([]*runner, 0, len(r.runners))
	for _, run := range r.runners {
		runs = append(runs, run)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, run := range runs {
		wg.Add(1)
		go func(run *runner) {
			defer wg.Done()
			_ = run.requestStop(false)
		}(run)
	}
	wg.Wait()
}

// Resume clears a session's HALTED state. Only valid while it is running.
func (r *Registry) Resume(name string) error {
	run, err := r.runner(name)
	if err != nil {
		return err
	}
	return run.sess.ResetHalt()
}

// Status is the operator-facing view of one session.
type Status struct {
	Name      string
	State     State
	OpenTrade *ledger.Trade
}

func (r *Registry) Status(name string) (Status, error) {
	run, err := r.runner(name)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Name:      name,
		State:     run.sess.State(),
		OpenTrade: run.sess.OpenTrade(),
	}, nil
}

// Names lists running sessions.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.runners))
	for n := range r.runners {
		names = append(names, n)
	}
	return names
}

func (r *Registry) runner(name string) (*runner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runners[name]
	if !ok {
		return nil, fmt.Errorf("registry: no running session %q", name)
	}
	return run, nil
}
