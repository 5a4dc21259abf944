package bstate

import "fmt"

// KeyKind distinguishes the two granularities of state keys.
type KeyKind uint8

const (
	// KindAccount covers the account-level fields:
	// nonce, balance, code hash, storage root.
	KindAccount KeyKind = iota + 1

	// KindStorage covers a single storage slot.
	KindStorage
)

// StateKey identifies one unit of ownable state:
// either an account record or one storage slot of an account.
type StateKey struct {
	Addr Address
	Kind KeyKind

	// Slot is meaningful only when Kind is KindStorage.
	Slot [32]byte
}

// AccountKey returns the StateKey for addr's account record.
func AccountKey(addr Address) StateKey {
	return StateKey{Addr: addr, Kind: KindAccount}
}

// StorageKey returns the StateKey for one storage slot of addr.
func StorageKey(addr Address, slot [32]byte) StateKey {
	return StateKey{Addr: addr, Kind: KindStorage, Slot: slot}
}

// ID returns the canonical string form of k,
// used as the key into the ownership table and version map.
func (k StateKey) ID() string {
	b := make([]byte, 0, 1+AddressSize+32)
	b = append(b, byte(k.Kind))
	b = append(b, k.Addr[:]...)
	if k.Kind == KindStorage {
		b = append(b, k.Slot[:]...)
	}
	return string(b)
}

func (k StateKey) String() string {
	switch k.Kind {
	case KindAccount:
		return fmt.Sprintf("acct:%x", k.Addr[:])
	case KindStorage:
		return fmt.Sprintf("slot:%x:%x", k.Addr[:], k.Slot[:])
	default:
		return fmt.Sprintf("invalid-key-kind-%d", k.Kind)
	}
}
