package session

import (
	"context"
	"log"
	"time"
)

// runner drives one session on its own timer. A single goroutine per session
// makes ticks strictly sequential: a tick still waiting on the oracle or the
// venue suppresses the next scheduled tick instead of queuing it.
type runner struct {
	sess *Session

	stopCh chan stopRequest
	done   chan struct{}
}

type stopRequest struct {
	hard bool
	err  chan error
}

func newRunner(sess *Session) *runner {
	return &runner{
		sess:   sess,
		stopCh: make(chan stopRequest, 1),
		done:   make(chan struct{}),
	}
}

func (r *runner) run(ctx context.Context) {
	defer close(r.done)

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.teardown(ctx, stopRequest{hard: true})
			return

		case req := <-r.stopCh:
			// Stop requests are honored before the next tick begins.
			r.teardown(ctx, req)
			return

		case <-timer.C:
			r.sess.Tick(ctx)
			timer.Reset(r.sess.Interval())
		}
	}
}

// initialDelay gives all sessions a prompt first tick without a thundering
// herd on shared storage.
const initialDelay = time.Second

func (r *runner) teardown(ctx context.Context, req stopRequest) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()

	var err error
	if req.hard {
		err = r.sess.HardClose(tctx)
	} else {
		err = r.sess.GracefulClose(tctx)
	}
	if err != nil {
		log.Printf("session %s: teardown close: %v", r.sess.Name(), err)
	}
	if req.err != nil {
		req.err <- err
	}
}

// requestStop asks the runner to wind down. It returns once teardown
// finished, with the final-close error if any.
func (r *runner) requestStop(hard bool) error {
	errCh := make(chan error, 1)
	select {
	case r.stopCh <- stopRequest{hard: hard, err: errCh}:
	case <-r.done:
		return nil
	}

	select {
	case err := <-errCh:
		<-r.done
		return err
	case <-r.done:
		return nil
	}
}
