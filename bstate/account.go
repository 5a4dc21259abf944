package bstate

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
)

// Account is the logical representation of one account's
// non-storage state.
type Account struct {
	Nonce   uint64
	Balance *uint256.Int

	// Hash of the account's code; nil for externally owned accounts.
	CodeHash []byte

	// Root of the account's storage as of the last committed block;
	// nil when the account has no storage.
	StorageRoot []byte
}

// ZeroAccount returns the implicit value of an account
// that has never been written.
func ZeroAccount() Account {
	return Account{Balance: new(uint256.Int)}
}

// IsZero reports whether a is indistinguishable from a never-written account.
func (a Account) IsZero() bool {
	return a.Nonce == 0 &&
		(a.Balance == nil || a.Balance.IsZero()) &&
		len(a.CodeHash) == 0 &&
		len(a.StorageRoot) == 0
}

// Clone returns a deep copy of a.
func (a Account) Clone() Account {
	out := Account{
		Nonce:       a.Nonce,
		Balance:     new(uint256.Int),
		CodeHash:    bytes.Clone(a.CodeHash),
		StorageRoot: bytes.Clone(a.StorageRoot),
	}
	if a.Balance != nil {
		out.Balance.Set(a.Balance)
	}
	return out
}

// accountEncodedMinSize is the encoded size of an account
// with empty code hash and storage root.
const accountEncodedMinSize = 8 + 32 + 2

// EncodeAccount produces the canonical binary form of a,
// used both for the backing store and for state root leaves.
func EncodeAccount(a Account) []byte {
	buf := make([]byte, 0, 8+32+len(a.CodeHash)+len(a.StorageRoot)+2)

	buf = binary.BigEndian.AppendUint64(buf, a.Nonce)

	var bal [32]byte
	if a.Balance != nil {
		bal = a.Balance.Bytes32()
	}
	buf = append(buf, bal[:]...)

	buf = append(buf, byte(len(a.CodeHash)))
	buf = append(buf, a.CodeHash...)
	buf = append(buf, byte(len(a.StorageRoot)))
	buf = append(buf, a.StorageRoot...)

	return buf
}

// DecodeAccount parses the output of [EncodeAccount].
func DecodeAccount(b []byte) (Account, error) {
	if len(b) < accountEncodedMinSize {
		return Account{}, fmt.Errorf("account encoding too short: %d bytes", len(b))
	}

	a := Account{
		Nonce:   binary.BigEndian.Uint64(b[:8]),
		Balance: new(uint256.Int).SetBytes(b[8:40]),
	}

	rest := b[40:]
	chLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < chLen+1 {
		return Account{}, fmt.Errorf("account encoding truncated in code hash")
	}
	if chLen > 0 {
		a.CodeHash = bytes.Clone(rest[:chLen])
	}
	rest = rest[chLen:]

	srLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < srLen {
		return Account{}, fmt.Errorf("account encoding truncated in storage root")
	}
	if srLen > 0 {
		a.StorageRoot = bytes.Clone(rest[:srLen])
	}

	return a, nil
}
