// Package bnode assembles the state database, scheduler,
// storage, and consensus engine into a running chain node.
package bnode

import (
	"errors"
	"sync"

	"github.com/bachledger/bach/btx"
)

// DefaultMempoolLimit bounds the pool when the config does not.
const DefaultMempoolLimit = 10_000

// Mempool errors reported by [Mempool.Add].
var (
	ErrMempoolFull        = errors.New("mempool full")
	ErrTxAlreadyInMempool = errors.New("transaction already in mempool")
	ErrTxInvalidSignature = errors.New("transaction signature invalid")
)

// Mempool holds signed transactions awaiting inclusion in a block.
// Transactions are reaped in arrival order,
// so per-sender nonce chains submitted in order stay in order.
type Mempool struct {
	mu sync.Mutex

	limit int

	order []btx.Transaction
	known map[[32]byte]struct{}
}

// NewMempool returns a pool holding at most limit transactions;
// limit <= 0 means [DefaultMempoolLimit].
func NewMempool(limit int) *Mempool {
	if limit <= 0 {
		limit = DefaultMempoolLimit
	}
	return &Mempool{
		limit: limit,

		known: make(map[[32]byte]struct{}),
	}
}

// Add admits tx to the pool.
// Invalid signatures, duplicates, and a full pool are rejected.
func (m *Mempool) Add(tx btx.Transaction) error {
	if !tx.VerifySignature() {
		return ErrTxInvalidSignature
	}

	hash := tx.Hash()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.known[hash]; ok {
		return ErrTxAlreadyInMempool
	}
	if len(m.order) >= m.limit {
		return ErrMempoolFull
	}

	m.order = append(m.order, tx)
	m.known[hash] = struct{}{}
	return nil
}

// Reap returns up to max transactions in arrival order,
// leaving them in the pool until they are removed after commit.
func (m *Mempool) Reap(max int) []btx.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.order)
	if max > 0 && n > max {
		n = max
	}

	out := make([]btx.Transaction, n)
	copy(out, m.order[:n])
	return out
}

// Remove drops the given transactions from the pool,
// typically after they were committed in a block.
func (m *Mempool) Remove(txs []btx.Transaction) {
	if len(txs) == 0 {
		return
	}

	drop := make(map[[32]byte]struct{}, len(txs))
	for _, tx := range txs {
		drop[tx.Hash()] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	for _, tx := range m.order {
		hash := tx.Hash()
		if _, ok := drop[hash]; ok {
			delete(m.known, hash)
			continue
		}
		kept = append(kept, tx)
	}
	m.order = kept
}

// Len returns the number of pending transactions.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.order)
}
