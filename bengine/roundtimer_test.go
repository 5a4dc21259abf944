package bengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bachledger/bach/bengine"
)

func TestStandardRoundTimer_Elapses(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := bengine.NewStandardRoundTimer(ctx, bengine.ExponentialTimeoutStrategy{
		ProposalBase:       10 * time.Millisecond,
		PrevoteDelayBase:   time.Hour,
		PrecommitDelayBase: time.Hour,
	})
	defer rt.Wait()
	defer cancel()

	ch, cancelTimer := rt.ProposalTimer(ctx, 1, 0)
	defer cancelTimer()
	require.NotNil(t, ch)

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("proposal timer never elapsed")
	}
}

func TestStandardRoundTimer_CancelledTimerNeverElapses(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := bengine.NewStandardRoundTimer(ctx, bengine.ExponentialTimeoutStrategy{
		ProposalBase:       250 * time.Millisecond,
		PrevoteDelayBase:   time.Hour,
		PrecommitDelayBase: time.Hour,
	})
	defer rt.Wait()
	defer cancel()

	ch, cancelTimer := rt.ProposalTimer(ctx, 1, 0)
	require.NotNil(t, ch)
	cancelTimer()

	// Well past the timer's duration, the channel must stay open.
	time.Sleep(600 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("cancelled timer reported elapsed")
	default:
	}
}

func TestStandardRoundTimer_RequestDisplacesCancelledTimer(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := bengine.NewStandardRoundTimer(ctx, bengine.ExponentialTimeoutStrategy{
		ProposalBase:       time.Hour,
		PrevoteDelayBase:   10 * time.Millisecond,
		PrecommitDelayBase: time.Hour,
	})
	defer rt.Wait()
	defer cancel()

	// The state machine's cancel is asynchronous, so the next timer
	// is often requested while the previous cancellation is still in
	// flight. The background goroutine must accept the new request in
	// that window rather than fail.
	stale := make([]<-chan struct{}, 0, 500)
	for i := 0; i < 500; i++ {
		ch, cancelTimer := rt.ProposalTimer(ctx, 1, 0)
		require.NotNil(t, ch)
		stale = append(stale, ch)
		cancelTimer()
	}

	// After all that churn the timer still works normally.
	ch, cancelTimer := rt.PrevoteDelayTimer(ctx, 1, 0)
	defer cancelTimer()
	require.NotNil(t, ch)
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not elapse after cancel/request churn")
	}

	// No displaced timer may read as elapsed.
	for _, old := range stale {
		select {
		case <-old:
			t.Fatal("displaced timer reported elapsed")
		default:
		}
	}
}
