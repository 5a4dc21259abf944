package bengine

import "time"

// TimeoutStrategy informs the round timer how long each step
// may wait before the state machine moves on.
// The height parameter exists so a strategy can change timeouts
// past a coordinated height; most strategies ignore it.
type TimeoutStrategy interface {
	ProposalTimeout(height uint64, round uint32) time.Duration
	PrevoteDelayTimeout(height uint64, round uint32) time.Duration
	PrecommitDelayTimeout(height uint64, round uint32) time.Duration
}

// ExponentialTimeoutStrategy doubles each timeout per round,
// capped at a multiple of the base,
// so repeated failed rounds back off quickly but boundedly.
// Zero values fall back to reasonable defaults.
type ExponentialTimeoutStrategy struct {
	ProposalBase       time.Duration
	PrevoteDelayBase   time.Duration
	PrecommitDelayBase time.Duration

	// MaxMultiple caps the doubling; zero means 40.
	MaxMultiple uint32
}

func (s ExponentialTimeoutStrategy) scale(base time.Duration, round uint32) time.Duration {
	maxMul := s.MaxMultiple
	if maxMul == 0 {
		maxMul = 40
	}

	mul := uint32(1)
	for r := uint32(0); r < round && mul < maxMul; r++ {
		mul *= 2
	}
	if mul > maxMul {
		mul = maxMul
	}

	return base * time.Duration(mul)
}

func (s ExponentialTimeoutStrategy) ProposalTimeout(_ uint64, round uint32) time.Duration {
	b := s.ProposalBase
	if b == 0 {
		b = 5 * time.Second
	}
	return s.scale(b, round)
}

func (s ExponentialTimeoutStrategy) PrevoteDelayTimeout(_ uint64, round uint32) time.Duration {
	b := s.PrevoteDelayBase
	if b == 0 {
		b = time.Second
	}
	return s.scale(b, round)
}

func (s ExponentialTimeoutStrategy) PrecommitDelayTimeout(_ uint64, round uint32) time.Duration {
	b := s.PrecommitDelayBase
	if b == 0 {
		b = time.Second
	}
	return s.scale(b, round)
}
