package bconsensus

import "errors"

// ByzantineMajority returns the minimum voting power that exceeds 2/3 of n.
// Comparisons against the returned value must use >=, never >.
// For example, 2/3 of 12 is 8, so ByzantineMajority(12) = 9;
// 2/3 of 10 is 6+2/3, so ByzantineMajority(10) = 7.
//
// ByzantineMajority(0) panics.
func ByzantineMajority(n uint64) uint64 {
	if n == 0 {
		panic(errors.New("ByzantineMajority: n must be positive"))
	}

	quo, rem := n/3, n%3
	if rem < 2 {
		return 2*quo + 1
	}
	return 2*quo + 2
}

// ByzantineMinority returns the minimum voting power that reaches 1/3 of n.
// Comparisons against the returned value must use >=, never >.
//
// Reaching the minority on a vote means the majority outcome
// can still swing to that vote,
// which is what drives the prevote-wait and precommit-wait delays.
//
// ByzantineMinority(0) panics.
func ByzantineMinority(n uint64) uint64 {
	if n == 0 {
		panic(errors.New("ByzantineMinority: n must be positive"))
	}

	quo, rem := n/3, n%3
	if rem == 0 {
		return quo
	}

	return quo + 1
}
