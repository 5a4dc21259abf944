package bstate

import (
	"fmt"
	"sync/atomic"

	"github.com/cornelk/hashmap"
)

// TxID is a transaction's dense index within one block.
// It doubles as the scheduler's priority key: lower wins.
type TxID uint32

// MaxTxID is the largest representable TxID.
// The ownership word reserves 31 bits for the owner.
const MaxTxID = TxID(1<<31 - 1)

// ClaimOutcome is the result of an ownership claim.
type ClaimOutcome struct {
	Granted bool

	// Owner is set when the claim was refused:
	// the TxID currently holding the key.
	Owner TxID
}

// The ownership state of one key packs into a single word
// so that claim, evict, and release are each one compare-and-swap:
//
//	bit 63     : owned flag (set = Owned, clear = Disowned)
//	bits 62-32 : owner TxID
//	bits 31-0  : generation
const (
	ownedFlag   = uint64(1) << 63
	ownerShift  = 32
	ownerMask   = uint64(1<<31-1) << ownerShift
	genMask     = uint64(1<<32 - 1)
)

func packOwnership(owned bool, owner TxID, gen uint32) uint64 {
	w := uint64(owner)<<ownerShift | uint64(gen)
	if owned {
		w |= ownedFlag
	}
	return w
}

func ownershipOwned(w uint64) bool  { return w&ownedFlag != 0 }
func ownershipOwner(w uint64) TxID  { return TxID((w & ownerMask) >> ownerShift) }
func ownershipGen(w uint64) uint32  { return uint32(w & genMask) }

// OwnershipEntry tracks which transaction, if any,
// currently holds the exclusive right to write one state key.
type OwnershipEntry struct {
	word atomic.Uint64
}

// Snapshot returns the entry's current owner, owned flag, and generation.
func (e *OwnershipEntry) Snapshot() (owner TxID, owned bool, gen uint32) {
	w := e.word.Load()
	return ownershipOwner(w), ownershipOwned(w), ownershipGen(w)
}

// OwnershipTable maps state keys (by their [StateKey.ID] form)
// to ownership entries. All operations are safe for concurrent use;
// the per-key transitions are lock-free compare-and-swap loops.
type OwnershipTable struct {
	entries *hashmap.Map[string, *OwnershipEntry]
}

// NewOwnershipTable returns an empty ownership table.
func NewOwnershipTable() *OwnershipTable {
	return &OwnershipTable{
		entries: hashmap.New[string, *OwnershipEntry](),
	}
}

func (t *OwnershipTable) entry(key string) *OwnershipEntry {
	if e, ok := t.entries.Get(key); ok {
		return e
	}
	e := new(OwnershipEntry)
	actual, _ := t.entries.GetOrInsert(key, e)
	return actual
}

// Claim attempts to bind key to requester.
//
// A key with no entry, or a Disowned entry, is granted and rebound
// with an incremented generation.
// A key already Owned by requester is granted without rebinding.
// A key Owned by another transaction is refused,
// reporting the current owner so the caller can apply the priority rule.
func (t *OwnershipTable) Claim(key string, requester TxID) ClaimOutcome {
	if requester > MaxTxID {
		panic(fmt.Errorf("BUG: TxID %d exceeds ownership word capacity", requester))
	}

	e := t.entry(key)
	for {
		w := e.word.Load()
		if ownershipOwned(w) {
			owner := ownershipOwner(w)
			if owner == requester {
				return ClaimOutcome{Granted: true}
			}
			return ClaimOutcome{Owner: owner}
		}

		next := packOwnership(true, requester, ownershipGen(w)+1)
		if e.word.CompareAndSwap(w, next) {
			return ClaimOutcome{Granted: true}
		}
	}
}

// Evict force-rebinds key from victim to claimant,
// used when the claimant has priority (a lower TxID) over the current owner.
// It reports whether the rebind happened;
// false means the ownership changed concurrently
// and the caller should re-run its claim.
func (t *OwnershipTable) Evict(key string, victim, claimant TxID) bool {
	e := t.entry(key)

	w := e.word.Load()
	if !ownershipOwned(w) || ownershipOwner(w) != victim {
		return false
	}

	next := packOwnership(true, claimant, ownershipGen(w)+1)
	return e.word.CompareAndSwap(w, next)
}

// Release flips key to Disowned, only if owner still holds it.
// Releasing a key that is not held by owner is a no-op,
// making Release idempotent and safe after eviction.
func (t *OwnershipTable) Release(key string, owner TxID) {
	e, ok := t.entries.Get(key)
	if !ok {
		return
	}

	for {
		w := e.word.Load()
		if !ownershipOwned(w) || ownershipOwner(w) != owner {
			return
		}

		next := packOwnership(false, 0, ownershipGen(w))
		if e.word.CompareAndSwap(w, next) {
			return
		}
	}
}

// Owner returns the current owner of key, if it is Owned.
func (t *OwnershipTable) Owner(key string) (TxID, bool) {
	e, ok := t.entries.Get(key)
	if !ok {
		return 0, false
	}

	w := e.word.Load()
	if !ownershipOwned(w) {
		return 0, false
	}
	return ownershipOwner(w), true
}

// Generation returns the rebind generation of key.
// A key that was never claimed has generation zero.
func (t *OwnershipTable) Generation(key string) uint32 {
	e, ok := t.entries.Get(key)
	if !ok {
		return 0
	}
	return ownershipGen(e.word.Load())
}

// Len returns the number of keys with an entry.
func (t *OwnershipTable) Len() int {
	return t.entries.Len()
}

// Drain removes every entry.
// Called at block commit, after all transactions have released their keys.
func (t *OwnershipTable) Drain() {
	t.entries.Range(func(key string, _ *OwnershipEntry) bool {
		t.entries.Del(key)
		return true
	})
}
