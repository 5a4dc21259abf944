package bconsensus

import (
	"fmt"

	"github.com/bachledger/bach/bcrypto"
)

// DoubleSignEvidence records a validator voting for two different
// blocks in the same step of the same round.
// It is collected by the vote sets and surfaced through the engine
// so the application can penalize the offender.
type DoubleSignEvidence struct {
	Kind   VoteKind
	Height uint64
	Round  uint32

	PubKey bcrypto.PubKey

	// The two conflicting targets; empty string is a nil vote.
	HashA, HashB string

	// Signature of the second, conflicting vote.
	// The first vote's signature is retained in the vote set itself.
	SigB []byte
}

func (e DoubleSignEvidence) String() string {
	return fmt.Sprintf(
		"double %s at height %d round %d by %x (%q vs %q)",
		e.Kind, e.Height, e.Round, e.PubKey.PubKeyBytes(), e.HashA, e.HashB,
	)
}
