package bsched

import (
	"github.com/holiman/uint256"

	"github.com/bachledger/bach/bstate"
)

// txView is the speculative [StateView] for one transaction
// during one wave.
//
// Reads fall through to the state database and record the key's
// write version, so the commit gate can detect stale reads.
// Writes first claim the key in the ownership table,
// then buffer locally.
//
// A txView is used by a single worker goroutine;
// it relies on the scheduler's guarantee that no versions change
// while a wave is executing.
type txView struct {
	db     *bstate.StateDB
	owners *bstate.OwnershipTable
	id     bstate.TxID

	reads    map[string]uint64
	accounts map[bstate.Address]bstate.Account
	storage  map[bstate.StateKey]uint256.Int
	claims   []bstate.StateKey

	// result holds the executor outcome once the wave finished,
	// for the commit gate to turn into a receipt.
	result ExecResult
}

var _ StateView = (*txView)(nil)

func newTxView(db *bstate.StateDB, id bstate.TxID) *txView {
	return &txView{
		db:     db,
		owners: db.Owners(),
		id:     id,

		reads:    make(map[string]uint64),
		accounts: make(map[bstate.Address]bstate.Account),
		storage:  make(map[bstate.StateKey]uint256.Int),
	}
}

func (v *txView) GetAccount(addr bstate.Address) (bstate.Account, error) {
	if a, ok := v.accounts[addr]; ok {
		return a.Clone(), nil
	}

	a, err := v.db.GetAccount(addr)
	if err != nil {
		return bstate.Account{}, err
	}

	v.recordRead(bstate.AccountKey(addr))
	return a, nil
}

func (v *txView) SetAccount(addr bstate.Address, acct bstate.Account) error {
	if err := v.claim(bstate.AccountKey(addr)); err != nil {
		return err
	}

	v.accounts[addr] = acct.Clone()
	return nil
}

func (v *txView) GetStorage(addr bstate.Address, slot [32]byte) (uint256.Int, error) {
	key := bstate.StorageKey(addr, slot)
	if val, ok := v.storage[key]; ok {
		return val, nil
	}

	val, err := v.db.GetStorage(addr, slot)
	if err != nil {
		return uint256.Int{}, err
	}

	v.recordRead(key)
	return val, nil
}

func (v *txView) SetStorage(addr bstate.Address, slot [32]byte, val uint256.Int) error {
	key := bstate.StorageKey(addr, slot)
	if err := v.claim(key); err != nil {
		return err
	}

	v.storage[key] = val
	return nil
}

func (v *txView) recordRead(key bstate.StateKey) {
	id := key.ID()
	if _, ok := v.reads[id]; ok {
		return
	}
	v.reads[id] = v.db.Version(key)
}

// claim acquires key for this transaction, evicting a later-indexed
// owner if necessary. Owned by an earlier transaction means
// this transaction loses: it reports the conflict and the
// scheduler reschedules it.
func (v *txView) claim(key bstate.StateKey) error {
	id := key.ID()
	for {
		out := v.owners.Claim(id, v.id)
		if out.Granted {
			v.claims = append(v.claims, key)
			return nil
		}

		if out.Owner < v.id {
			return OwnershipConflictError{Key: key, Owner: out.Owner}
		}

		if v.owners.Evict(id, out.Owner, v.id) {
			v.claims = append(v.claims, key)
			return nil
		}
		// Ownership changed under the eviction attempt; re-run the claim.
	}
}

// validate reports whether the view's execution is still consistent:
// every claim is still held and every read version is unchanged.
func (v *txView) validate() bool {
	for _, key := range v.claims {
		owner, ok := v.owners.Owner(key.ID())
		if !ok || owner != v.id {
			return false
		}
	}

	for id, ver := range v.reads {
		if v.db.VersionByID(id) != ver {
			return false
		}
	}

	return true
}

// commit publishes the buffered writes into the state database
// and releases the claims.
func (v *txView) commit() {
	for addr, acct := range v.accounts {
		v.db.SetAccount(addr, acct)
	}
	for key, val := range v.storage {
		v.db.SetStorage(key.Addr, key.Slot, val)
	}
	v.releaseClaims()
}

func (v *txView) releaseClaims() {
	for _, key := range v.claims {
		v.owners.Release(key.ID(), v.id)
	}
	v.claims = v.claims[:0]
}

// directView applies reads and writes straight against the database,
// used for transactions that fell back to serial execution
// at the commit gate.
type directView struct {
	db *bstate.StateDB
}

var _ StateView = directView{}

func (v directView) GetAccount(addr bstate.Address) (bstate.Account, error) {
	return v.db.GetAccount(addr)
}

func (v directView) SetAccount(addr bstate.Address, acct bstate.Account) error {
	v.db.SetAccount(addr, acct)
	return nil
}

func (v directView) GetStorage(addr bstate.Address, slot [32]byte) (uint256.Int, error) {
	return v.db.GetStorage(addr, slot)
}

func (v directView) SetStorage(addr bstate.Address, slot [32]byte, val uint256.Int) error {
	v.db.SetStorage(addr, slot, val)
	return nil
}
