package bstate

import (
	"golang.org/x/crypto/blake2b"

	"github.com/bachledger/bach/bmerkle"
)

// emptyStateRoot is the root recorded for a block
// that modified no account and no storage slot.
var emptyStateRoot = func() []byte {
	h := blake2b.Sum256([]byte("bach:state-root:empty"))
	return h[:]
}()

// StateRoot derives the deterministic root committing to a block's
// pending writes: a binary blake2b tree over the sorted modified
// accounts followed by the sorted modified storage slots.
// Account and slot leaves are domain-separated by a literal prefix.
func StateRoot(accounts []AccountDiff, storage []StorageDiff) ([]byte, error) {
	if len(accounts) == 0 && len(storage) == 0 {
		out := make([]byte, len(emptyStateRoot))
		copy(out, emptyStateRoot)
		return out, nil
	}

	leaves := make([][]byte, 0, len(accounts)+len(storage))
	for _, d := range accounts {
		leaf := make([]byte, 0, 4+AddressSize+accountEncodedMinSize)
		leaf = append(leaf, "acct"...)
		leaf = append(leaf, d.Addr[:]...)
		leaf = append(leaf, EncodeAccount(d.Acct)...)
		leaves = append(leaves, leaf)
	}
	for _, d := range storage {
		val := d.Val.Bytes32()
		leaf := make([]byte, 0, 4+AddressSize+32+32)
		leaf = append(leaf, "slot"...)
		leaf = append(leaf, d.Addr[:]...)
		leaf = append(leaf, d.Slot[:]...)
		leaf = append(leaf, val[:]...)
		leaves = append(leaves, leaf)
	}

	return bmerkle.RootID(bmerkle.BlakeScheme{}, leaves)
}

// PendingStateRoot is shorthand for computing the root
// of db's current pending diff.
func (db *StateDB) PendingStateRoot() ([]byte, error) {
	accounts, storage := db.PendingDiff()
	return StateRoot(accounts, storage)
}
