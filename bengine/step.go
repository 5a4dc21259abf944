// Package bengine contains the consensus engine:
// a single-goroutine state machine driving proposals,
// prevotes, precommits, and commits across rounds.
package bengine

import "fmt"

// Step is the state machine's position within one round.
type Step uint8

const (
	// Waiting for a proposal (or proposing, if we are the proposer).
	StepPropose Step = iota + 1

	// Prevote cast; collecting prevotes.
	StepPrevote

	// Full prevote participation without a winning block;
	// waiting briefly for late prevotes.
	StepPrevoteWait

	// Precommit cast; collecting precommits.
	StepPrecommit

	// Full precommit participation without a winning block;
	// waiting briefly for late precommits.
	StepPrecommitWait

	// A block gained a precommit quorum and is being finalized.
	StepCommit
)

func (s Step) String() string {
	switch s {
	case StepPropose:
		return "propose"
	case StepPrevote:
		return "prevote"
	case StepPrevoteWait:
		return "prevote-wait"
	case StepPrecommit:
		return "precommit"
	case StepPrecommitWait:
		return "precommit-wait"
	case StepCommit:
		return "commit"
	default:
		return fmt.Sprintf("invalid-step-%d", s)
	}
}
