package bconsensus

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// ProposerIndex returns the index of the validator entitled
// to propose at the given height and round.
//
// The rotation is weighted by voting power:
// the (height, round) pair is hashed onto a slot in
// [0, totalPower), and the slot is mapped onto the validator
// whose cumulative power range covers it,
// so a validator with twice the power proposes twice as often.
// Hashing the pair rather than using it directly keeps the
// schedule well-mixed across consecutive heights and rounds,
// while remaining fully determined by the validator set,
// height, and round, so every honest node agrees on the proposer.
//
// ProposerIndex panics on a validator set with no voting power.
func ProposerIndex(vs ValidatorSet, height uint64, round uint32) int {
	total := vs.TotalPower()
	if total == 0 {
		panic(errors.New("ProposerIndex: validator set has no voting power"))
	}

	sum := blake2b.Sum256(fmt.Appendf(nil, "bach:proposer:%d:%d", height, round))
	slot := binary.BigEndian.Uint64(sum[:8]) % total

	var cum uint64
	for i, v := range vs.Validators {
		cum += v.Power
		if slot < cum {
			return i
		}
	}

	panic(errors.New("BUG: cumulative power never covered the slot"))
}

// Proposer is shorthand for the validator at [ProposerIndex].
func Proposer(vs ValidatorSet, height uint64, round uint32) Validator {
	return vs.Validators[ProposerIndex(vs, height, round)]
}
