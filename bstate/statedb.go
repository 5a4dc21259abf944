package bstate

import (
	"sort"
	"sync"

	"github.com/holiman/uint256"
)

// SnapshotID identifies a live snapshot of a [StateDB].
type SnapshotID int

// A journal holds the writes and ownership claims
// performed since one snapshot was taken.
// Rollback discards the journal; commit folds it into the baseline.
type journal struct {
	accounts map[Address]Account
	storage  map[StateKey]uint256.Int
	claims   []claimRecord
}

type claimRecord struct {
	key   string
	owner TxID
}

func newJournal() *journal {
	return &journal{
		accounts: make(map[Address]Account),
		storage:  make(map[StateKey]uint256.Int),
	}
}

// StateDB is a copy-on-write overlay above a [StateStore]:
// a baseline journal plus one journal per live snapshot.
// Reads fall through the journal stack into the backing store.
//
// StateDB also carries the ownership table and per-key write versions
// the scheduler uses for conflict detection.
// Claims granted through the StateDB are recorded in the top journal
// so a rollback revokes them.
type StateDB struct {
	mu sync.RWMutex

	store StateStore

	owners *OwnershipTable

	// Monotonic per-key write counters, reset at block commit.
	// The scheduler compares versions observed at read time
	// against current versions to detect stale reads.
	versions map[string]uint64

	// journals[0] is the baseline overlay; higher indices are snapshots.
	journals []*journal
}

// NewStateDB returns a StateDB over the given backing store.
func NewStateDB(store StateStore) *StateDB {
	return &StateDB{
		store:    store,
		owners:   NewOwnershipTable(),
		versions: make(map[string]uint64),
		journals: []*journal{newJournal()},
	}
}

// Snapshot captures a logical version of the database in O(1).
// Multiple live snapshots are permitted; they release in LIFO order.
func (db *StateDB) Snapshot() SnapshotID {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.journals = append(db.journals, newJournal())
	return SnapshotID(len(db.journals) - 1)
}

// RollbackTo discards every write performed since id was taken,
// and revokes ownership claims recorded since then.
// It fails with [SnapshotReleasedError] if id was already released.
func (db *StateDB) RollbackTo(id SnapshotID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if id < 1 || int(id) >= len(db.journals) {
		return SnapshotReleasedError{ID: id}
	}

	for i := len(db.journals) - 1; i >= int(id); i-- {
		j := db.journals[i]
		// Revoke in reverse claim order.
		for c := len(j.claims) - 1; c >= 0; c-- {
			db.owners.Release(j.claims[c].key, j.claims[c].owner)
		}
	}

	db.journals = db.journals[:id]
	return nil
}

// GetAccount returns the account at addr.
// It never fails in the absence of a backing store error;
// a never-written account reads as the zero account.
func (db *StateDB) GetAccount(addr Address) (Account, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for i := len(db.journals) - 1; i >= 0; i-- {
		if a, ok := db.journals[i].accounts[addr]; ok {
			return a.Clone(), nil
		}
	}

	raw, ok, err := db.store.Get(accountStoreKey(addr))
	if err != nil {
		return Account{}, BackingStoreError{Op: "get account", Err: err}
	}
	if !ok {
		return ZeroAccount(), nil
	}

	a, err := DecodeAccount(raw)
	if err != nil {
		return Account{}, BackingStoreError{Op: "decode account", Err: err}
	}
	return a, nil
}

// SetAccount writes acct at addr into the current snapshot scope.
func (db *StateDB) SetAccount(addr Address, acct Account) {
	db.mu.Lock()
	defer db.mu.Unlock()

	top := db.journals[len(db.journals)-1]
	top.accounts[addr] = acct.Clone()
	db.versions[AccountKey(addr).ID()]++
}

// GetStorage returns the value of one storage slot;
// a never-written slot reads as zero.
func (db *StateDB) GetStorage(addr Address, slot [32]byte) (uint256.Int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	key := StorageKey(addr, slot)
	for i := len(db.journals) - 1; i >= 0; i-- {
		if v, ok := db.journals[i].storage[key]; ok {
			return v, nil
		}
	}

	raw, ok, err := db.store.Get(storageStoreKey(addr, slot))
	if err != nil {
		return uint256.Int{}, BackingStoreError{Op: "get storage", Err: err}
	}
	if !ok {
		return uint256.Int{}, nil
	}

	var v uint256.Int
	v.SetBytes(raw)
	return v, nil
}

// SetStorage writes one storage slot into the current snapshot scope.
func (db *StateDB) SetStorage(addr Address, slot [32]byte, val uint256.Int) {
	db.mu.Lock()
	defer db.mu.Unlock()

	key := StorageKey(addr, slot)
	top := db.journals[len(db.journals)-1]
	top.storage[key] = val
	db.versions[key.ID()]++
}

// Version returns the write counter for key within the current block.
func (db *StateDB) Version(key StateKey) uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.versions[key.ID()]
}

// VersionByID is [StateDB.Version] keyed by a StateKey's ID form.
func (db *StateDB) VersionByID(id string) uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.versions[id]
}

// Claim attempts to bind key to requester in the ownership table.
// A granted claim is recorded in the current snapshot scope
// so that a rollback revokes it.
func (db *StateDB) Claim(key StateKey, requester TxID) ClaimOutcome {
	id := key.ID()
	out := db.owners.Claim(id, requester)
	if out.Granted {
		db.mu.Lock()
		top := db.journals[len(db.journals)-1]
		top.claims = append(top.claims, claimRecord{key: id, owner: requester})
		db.mu.Unlock()
	}
	return out
}

// Evict force-rebinds key from victim to claimant.
// See [OwnershipTable.Evict] for the priority contract.
func (db *StateDB) Evict(key StateKey, victim, claimant TxID) bool {
	id := key.ID()
	if !db.owners.Evict(id, victim, claimant) {
		return false
	}

	db.mu.Lock()
	top := db.journals[len(db.journals)-1]
	top.claims = append(top.claims, claimRecord{key: id, owner: claimant})
	db.mu.Unlock()
	return true
}

// Release flips key to Disowned if owner still holds it. Idempotent.
func (db *StateDB) Release(key StateKey, owner TxID) {
	db.owners.Release(key.ID(), owner)
}

// Owners exposes the ownership table for inspection.
func (db *StateDB) Owners() *OwnershipTable {
	return db.owners
}

// AccountDiff is one modified account in a block's pending writes.
type AccountDiff struct {
	Addr Address
	Acct Account
}

// StorageDiff is one modified storage slot in a block's pending writes.
type StorageDiff struct {
	Addr Address
	Slot [32]byte
	Val  uint256.Int
}

// PendingDiff returns every account and storage entry modified
// since the StateDB was last committed, deterministically sorted:
// accounts by address, slots by (address, slot).
func (db *StateDB) PendingDiff() ([]AccountDiff, []StorageDiff) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	accounts := make(map[Address]Account)
	storage := make(map[StateKey]uint256.Int)
	for _, j := range db.journals {
		for addr, a := range j.accounts {
			accounts[addr] = a
		}
		for key, v := range j.storage {
			storage[key] = v
		}
	}

	acctDiffs := make([]AccountDiff, 0, len(accounts))
	for addr, a := range accounts {
		acctDiffs = append(acctDiffs, AccountDiff{Addr: addr, Acct: a.Clone()})
	}
	sort.Slice(acctDiffs, func(i, j int) bool {
		return string(acctDiffs[i].Addr[:]) < string(acctDiffs[j].Addr[:])
	})

	slotDiffs := make([]StorageDiff, 0, len(storage))
	for key, v := range storage {
		slotDiffs = append(slotDiffs, StorageDiff{Addr: key.Addr, Slot: key.Slot, Val: v})
	}
	sort.Slice(slotDiffs, func(i, j int) bool {
		if slotDiffs[i].Addr != slotDiffs[j].Addr {
			return string(slotDiffs[i].Addr[:]) < string(slotDiffs[j].Addr[:])
		}
		return string(slotDiffs[i].Slot[:]) < string(slotDiffs[j].Slot[:])
	})

	return acctDiffs, slotDiffs
}

// CommitBlock folds every journal into the backing store
// through one atomic batch, drains the ownership table,
// and resets the write versions for the next block.
func (db *StateDB) CommitBlock() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	accounts := make(map[Address]Account)
	storage := make(map[StateKey]uint256.Int)
	for _, j := range db.journals {
		for addr, a := range j.accounts {
			accounts[addr] = a
		}
		for key, v := range j.storage {
			storage[key] = v
		}
	}

	writes := make([]KV, 0, len(accounts)+len(storage))
	for addr, a := range accounts {
		writes = append(writes, KV{Key: accountStoreKey(addr), Value: EncodeAccount(a)})
	}
	for key, v := range storage {
		val := v.Bytes32()
		writes = append(writes, KV{Key: storageStoreKey(key.Addr, key.Slot), Value: val[:]})
	}
	sort.Slice(writes, func(i, j int) bool {
		return string(writes[i].Key) < string(writes[j].Key)
	})

	if err := db.store.PutBatch(writes); err != nil {
		return BackingStoreError{Op: "commit block", Err: err}
	}

	db.journals = []*journal{newJournal()}
	clear(db.versions)
	db.owners.Drain()
	return nil
}
