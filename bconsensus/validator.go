// Package bconsensus defines the data types shared across the
// consensus engine: validators, headers, votes, and the hash and
// signature schemes that bind them together.
package bconsensus

import (
	"bytes"
	"fmt"
	"slices"
	"sort"

	"github.com/bachledger/bach/bcrypto"
)

// Validator is one voting member of the network:
// a public key and its voting power.
type Validator struct {
	PubKey bcrypto.PubKey
	Power  uint64
}

// ValidatorSet is a fixed, ordered collection of validators.
type ValidatorSet struct {
	Validators []Validator

	// Hashes generated via a [HashScheme].
	PubKeyHash, VotePowerHash []byte
}

// Equal reports whether the validators and the calculated hashes
// are the same in v and other.
func (v ValidatorSet) Equal(other ValidatorSet) bool {
	return bytes.Equal(v.PubKeyHash, other.PubKeyHash) &&
		bytes.Equal(v.VotePowerHash, other.VotePowerHash) &&
		ValidatorSlicesEqual(v.Validators, other.Validators)
}

// TotalPower returns the sum of the validators' voting power.
func (v ValidatorSet) TotalPower() uint64 {
	var total uint64
	for _, val := range v.Validators {
		total += val.Power
	}
	return total
}

// NewValidatorSet returns a ValidatorSet based on vs,
// with hashes calculated using hs.
//
// NewValidatorSet assumes ownership of the validator slice;
// the slice must not be modified afterwards.
func NewValidatorSet(vs []Validator, hs HashScheme) (ValidatorSet, error) {
	s := ValidatorSet{Validators: vs}

	var err error
	s.PubKeyHash, err = hs.PubKeys(ValidatorsToPubKeys(vs))
	if err != nil {
		return ValidatorSet{}, fmt.Errorf("failed to calculate public key hash: %w", err)
	}

	s.VotePowerHash, err = hs.VotePowers(ValidatorsToVotePowers(vs))
	if err != nil {
		return ValidatorSet{}, fmt.Errorf("failed to calculate vote power hash: %w", err)
	}

	return s, nil
}

// SortValidators sorts vs in-place, by power descending,
// then by public key ascending.
func SortValidators(vs []Validator) {
	sort.Slice(vs, func(i, j int) bool {
		if vs[i].Power == vs[j].Power {
			return bytes.Compare(vs[i].PubKey.PubKeyBytes(), vs[j].PubKey.PubKeyBytes()) < 0
		}
		return vs[i].Power > vs[j].Power
	})
}

// ValidatorsToPubKeys returns a slice of just the public keys of vs.
func ValidatorsToPubKeys(vs []Validator) []bcrypto.PubKey {
	out := make([]bcrypto.PubKey, len(vs))
	for i, v := range vs {
		out[i] = v.PubKey
	}
	return out
}

// ValidatorsToVotePowers returns a slice of just the vote powers of vs.
func ValidatorsToVotePowers(vs []Validator) []uint64 {
	out := make([]uint64, len(vs))
	for i, v := range vs {
		out[i] = v.Power
	}
	return out
}

// ValidatorSlicesEqual reports whether vs1 and vs2 are equivalent.
func ValidatorSlicesEqual(vs1, vs2 []Validator) bool {
	return slices.EqualFunc(vs1, vs2, func(v1, v2 Validator) bool {
		return v1.Power == v2.Power && v1.PubKey.Equal(v2.PubKey)
	})
}

// ValidatorIndex returns the position of the validator
// with the given public key, or -1 if it is not in the set.
func (v ValidatorSet) ValidatorIndex(pub bcrypto.PubKey) int {
	for i, val := range v.Validators {
		if val.PubKey.Equal(pub) {
			return i
		}
	}
	return -1
}
