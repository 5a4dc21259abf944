// Package bstate provides the account state database,
// its snapshot and rollback machinery,
// and the per-key ownership table used by the parallel scheduler.
package bstate

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/bachledger/bach/bcrypto"
)

// AddressSize is the byte length of an account address.
const AddressSize = 20

// Address identifies an account.
type Address [AddressSize]byte

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// AddressFromPubKey derives the account address for a public key:
// the first 20 bytes of the blake2b-256 digest of the raw key bytes.
func AddressFromPubKey(pub bcrypto.PubKey) Address {
	sum := blake2b.Sum256(pub.PubKeyBytes())

	var a Address
	copy(a[:], sum[:AddressSize])
	return a
}
