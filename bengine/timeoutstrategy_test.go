package bengine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bachledger/bach/bengine"
)

func TestExponentialTimeoutStrategy_DoublesPerRound(t *testing.T) {
	t.Parallel()

	s := bengine.ExponentialTimeoutStrategy{
		ProposalBase:       100 * time.Millisecond,
		PrevoteDelayBase:   40 * time.Millisecond,
		PrecommitDelayBase: 60 * time.Millisecond,
	}

	require.Equal(t, 100*time.Millisecond, s.ProposalTimeout(1, 0))
	require.Equal(t, 200*time.Millisecond, s.ProposalTimeout(1, 1))
	require.Equal(t, 400*time.Millisecond, s.ProposalTimeout(1, 2))
	require.Equal(t, 800*time.Millisecond, s.ProposalTimeout(1, 3))

	require.Equal(t, 80*time.Millisecond, s.PrevoteDelayTimeout(1, 1))
	require.Equal(t, 120*time.Millisecond, s.PrecommitDelayTimeout(1, 1))

	// The backoff depends only on the round, never the height.
	require.Equal(t, s.ProposalTimeout(1, 2), s.ProposalTimeout(9_000, 2))
}

func TestExponentialTimeoutStrategy_CapsAtMaxMultiple(t *testing.T) {
	t.Parallel()

	s := bengine.ExponentialTimeoutStrategy{
		ProposalBase:       100 * time.Millisecond,
		PrevoteDelayBase:   40 * time.Millisecond,
		PrecommitDelayBase: 40 * time.Millisecond,

		MaxMultiple: 8,
	}

	// Rounds 0..3 double freely; from round 3 on, the multiple
	// is pinned at the cap.
	require.Equal(t, 800*time.Millisecond, s.ProposalTimeout(1, 3))
	require.Equal(t, 800*time.Millisecond, s.ProposalTimeout(1, 4))
	require.Equal(t, 800*time.Millisecond, s.ProposalTimeout(1, 30))

	// A cap that is not a power of two still bounds the result.
	odd := bengine.ExponentialTimeoutStrategy{
		ProposalBase: 100 * time.Millisecond,
		MaxMultiple:  5,
	}
	require.Equal(t, 500*time.Millisecond, odd.ProposalTimeout(1, 10))
}

func TestExponentialTimeoutStrategy_ZeroValueDefaults(t *testing.T) {
	t.Parallel()

	var s bengine.ExponentialTimeoutStrategy

	require.Equal(t, 5*time.Second, s.ProposalTimeout(1, 0))
	require.Equal(t, time.Second, s.PrevoteDelayTimeout(1, 0))
	require.Equal(t, time.Second, s.PrecommitDelayTimeout(1, 0))

	// The default cap bounds a long run of failed rounds.
	require.Equal(t, 40*5*time.Second, s.ProposalTimeout(1, 64))
}
