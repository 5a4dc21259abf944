package bengine

import (
	"context"
	"sync"
	"time"
)

// RoundTimer is how the state machine manages per-step timeouts.
// Each method returns a channel that closes when the timeout elapses,
// and a cancel function that must be called to release the timer.
// The cancel function is safe to call multiple times and concurrently.
//
// Cancelling does not close the returned channel,
// so a cancelled timer can never be mistaken for an elapsed one.
//
// The context only covers communication with the coordination
// goroutine; if it is cancelled while requesting a timer,
// the channel is nil and the cancel function is a non-nil no-op.
//
// Tests substitute their own implementation
// to drive timeouts deterministically.
type RoundTimer interface {
	ProposalTimer(ctx context.Context, height uint64, round uint32) (ch <-chan struct{}, cancel func())
	PrevoteDelayTimer(ctx context.Context, height uint64, round uint32) (ch <-chan struct{}, cancel func())
	PrecommitDelayTimer(ctx context.Context, height uint64, round uint32) (ch <-chan struct{}, cancel func())
}

// StandardRoundTimer is the production [RoundTimer],
// backed by a single [time.Timer] owned by one background goroutine.
// The state machine only ever wants one step timer at a time;
// a new request displaces any timer still armed,
// since the requester has necessarily abandoned it.
type StandardRoundTimer struct {
	strat TimeoutStrategy

	requests chan timerRequest

	bgDone chan struct{}
}

type timerRequest struct {
	Dur  time.Duration
	Resp chan timerResponse
}

type timerResponse struct {
	Elapsed <-chan struct{}
	Cancel  func()
}

// NewStandardRoundTimer starts the background goroutine;
// it stops when ctx is cancelled.
func NewStandardRoundTimer(ctx context.Context, s TimeoutStrategy) *StandardRoundTimer {
	t := &StandardRoundTimer{
		strat: s,

		requests: make(chan timerRequest),

		bgDone: make(chan struct{}),
	}

	go t.background(ctx)

	return t
}

// Wait blocks until the background goroutine has finished.
func (t *StandardRoundTimer) Wait() {
	<-t.bgDone
}

func (t *StandardRoundTimer) background(ctx context.Context) {
	defer close(t.bgDone)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	// stopAndDrain leaves the timer stopped and drained,
	// so a following Reset is safe.
	// It reports false if ctx ended while draining.
	stopAndDrain := func() bool {
		if !timer.Stop() {
			select {
			case <-timer.C:
				// Okay.
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	if !stopAndDrain() {
		return
	}

	var elapsed, cancelled chan struct{}

	// arm resets the stopped timer for req
	// and hands the requester its channels.
	arm := func(req timerRequest) {
		timer.Reset(req.Dur)

		elapsed = make(chan struct{})
		cancelled = make(chan struct{})
		// Local reference so the cancel closure
		// doesn't capture the loop variable.
		localCancelled := cancelled
		var once sync.Once
		// The requester blocks on this receive,
		// so an unbuffered send is fine.
		req.Resp <- timerResponse{
			Elapsed: elapsed,
			Cancel: func() {
				once.Do(func() {
					close(localCancelled)
				})
			},
		}
	}

	for {
		// Idle: nothing armed.
		select {
		case <-ctx.Done():
			return

		case req := <-t.requests:
			arm(req)
		}

		// Armed: run until the timer fires, is cancelled,
		// or is displaced by the next request.
	armed:
		for {
			select {
			case <-ctx.Done():
				return

			case <-timer.C:
				close(elapsed)
				break armed

			case <-cancelled:
				if !stopAndDrain() {
					return
				}
				// Leave the elapsed channel open but unreachable:
				// a cancelled timer must never read as elapsed.
				break armed

			case req := <-t.requests:
				// The state machine cancels its previous timer
				// before requesting the next one, but that cancel
				// may still be in flight when the request arrives.
				// Treat the request itself as the cancellation.
				if !stopAndDrain() {
					return
				}
				arm(req)
			}
		}

		elapsed = nil
		cancelled = nil
	}
}

func (t *StandardRoundTimer) getTimer(ctx context.Context, dur time.Duration) (<-chan struct{}, func()) {
	respCh := make(chan timerResponse)

	select {
	case t.requests <- timerRequest{Dur: dur, Resp: respCh}:
		// Okay.
	case <-ctx.Done():
		return nil, func() {}
	}

	select {
	case resp := <-respCh:
		return resp.Elapsed, resp.Cancel
	case <-ctx.Done():
		return nil, func() {}
	}
}

func (t *StandardRoundTimer) ProposalTimer(ctx context.Context, height uint64, round uint32) (<-chan struct{}, func()) {
	return t.getTimer(ctx, t.strat.ProposalTimeout(height, round))
}

func (t *StandardRoundTimer) PrevoteDelayTimer(ctx context.Context, height uint64, round uint32) (<-chan struct{}, func()) {
	return t.getTimer(ctx, t.strat.PrevoteDelayTimeout(height, round))
}

func (t *StandardRoundTimer) PrecommitDelayTimer(ctx context.Context, height uint64, round uint32) (<-chan struct{}, func()) {
	return t.getTimer(ctx, t.strat.PrecommitDelayTimeout(height, round))
}
