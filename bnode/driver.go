package bnode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bachledger/bach/bconsensus"
	"github.com/bachledger/bach/bengine"
	"github.com/bachledger/bach/bsched"
	"github.com/bachledger/bach/bstate"
	"github.com/bachledger/bach/bstore"
	"github.com/bachledger/bach/btx"
	"github.com/bachledger/bach/internal/glog"
)

// DefaultMaxBlockTxs bounds transactions per proposed block
// when the config does not.
const DefaultMaxBlockTxs = 512

// RootMismatchError reports a proposed header whose execution roots
// disagree with this node's own execution of the block.
type RootMismatchError struct {
	What string

	Want, Got []byte
}

func (e RootMismatchError) Error() string {
	return fmt.Sprintf("%s mismatch: want %x, got %x", e.What, e.Want, e.Got)
}

// ChainDriverConfig is the collection of values
// to pass to [NewChainDriver].
type ChainDriverConfig struct {
	StateDB *bstate.StateDB

	Store *bstore.LevelDBStore

	Scheduler *bsched.Scheduler

	Mempool *Mempool

	// GenesisAlloc funds the initial accounts on a fresh store.
	// Every node in a network must use the same allocation.
	GenesisAlloc []GenesisAccount

	// MaxBlockTxs caps transactions per proposal;
	// zero means [DefaultMaxBlockTxs].
	MaxBlockTxs int

	// MinBlockInterval delays proposing until this much time
	// has passed since the previous commit,
	// so an idle chain does not spin through empty blocks.
	// Zero disables pacing.
	MinBlockInterval time.Duration
}

// GenesisAccount is one pre-funded account in the genesis allocation.
type GenesisAccount struct {
	Addr bstate.Address

	Account bstate.Account
}

// ChainDriver is the [bengine.Driver] connecting the consensus
// engine to transaction execution and storage.
//
// A header commits to the roots produced by executing its own
// transaction list. Proposing runs the scheduler speculatively to
// derive the roots; validating re-runs the scheduler and compares;
// committing runs it once more and persists the result. The
// speculative runs are rolled back, so only a committed block
// changes state.
type ChainDriver struct {
	log *slog.Logger

	db    *bstate.StateDB
	store *bstore.LevelDBStore
	sched *bsched.Scheduler
	pool  *Mempool

	maxBlockTxs int

	minInterval time.Duration

	initialHeight uint64

	// mu guards the commit results,
	// which tests read while the engine goroutine writes.
	mu sync.Mutex

	lastReceipts []bsched.Receipt

	lastCommitTime time.Time
}

var _ bengine.Driver = (*ChainDriver)(nil)

// NewChainDriver builds a driver resuming from the store's latest
// committed height, applying the genesis allocation if the store
// is fresh.
func NewChainDriver(log *slog.Logger, cfg ChainDriverConfig) (*ChainDriver, error) {
	if cfg.StateDB == nil || cfg.Store == nil || cfg.Scheduler == nil || cfg.Mempool == nil {
		panic(errors.New("BUG: ChainDriverConfig fields may not be nil"))
	}

	maxTxs := cfg.MaxBlockTxs
	if maxTxs <= 0 {
		maxTxs = DefaultMaxBlockTxs
	}

	d := &ChainDriver{
		log: log,

		db:    cfg.StateDB,
		store: cfg.Store,
		sched: cfg.Scheduler,
		pool:  cfg.Mempool,

		maxBlockTxs: maxTxs,

		minInterval: cfg.MinBlockInterval,

		initialHeight: 1,

		lastCommitTime: time.Now(),
	}

	latest, ok, err := cfg.Store.LatestHeight()
	if err != nil {
		return nil, fmt.Errorf("failed to read latest committed height: %w", err)
	}

	if ok {
		d.initialHeight = latest + 1
		return d, nil
	}

	// Fresh store: fund the genesis allocation
	// so the first block builds on it.
	if len(cfg.GenesisAlloc) > 0 {
		for _, ga := range cfg.GenesisAlloc {
			cfg.StateDB.SetAccount(ga.Addr, ga.Account)
		}
		if err := cfg.StateDB.CommitBlock(); err != nil {
			return nil, fmt.Errorf("failed to commit genesis allocation: %w", err)
		}
	}

	return d, nil
}

// InitialHeight is the height the consensus engine should start at:
// one past the latest committed header.
func (d *ChainDriver) InitialHeight() uint64 {
	return d.initialHeight
}

// deriveRoots runs txs through the scheduler against the current
// state, derives the state and receipt roots, and rolls everything
// back. The roots are what a header for this transaction list
// must carry.
func (d *ChainDriver) deriveRoots(ctx context.Context, txs []btx.Transaction) (stateRoot, receiptRoot []byte, err error) {
	sid := d.db.Snapshot()

	receipts, err := d.sched.ExecuteBlock(ctx, txs)
	if err != nil {
		if rbErr := d.db.RollbackTo(sid); rbErr != nil {
			return nil, nil, fmt.Errorf("failed to roll back after execution error %v: %w", err, rbErr)
		}
		return nil, nil, err
	}

	stateRoot, err = d.db.PendingStateRoot()
	if err == nil {
		receiptRoot, err = bconsensus.ReceiptRoot(receipts)
	}

	if rbErr := d.db.RollbackTo(sid); rbErr != nil {
		return nil, nil, fmt.Errorf("failed to roll back speculative execution: %w", rbErr)
	}
	if err != nil {
		return nil, nil, err
	}

	return stateRoot, receiptRoot, nil
}

// PrepareBlockData implements [bengine.Driver]:
// it reaps pending transactions and derives the roots
// their execution produces.
func (d *ChainDriver) PrepareBlockData(ctx context.Context, height uint64) (bengine.BlockData, error) {
	if d.minInterval > 0 {
		d.mu.Lock()
		wait := d.minInterval - time.Since(d.lastCommitTime)
		d.mu.Unlock()

		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return bengine.BlockData{}, ctx.Err()
			}
		}
	}

	txs := d.pool.Reap(d.maxBlockTxs)

	stateRoot, receiptRoot, err := d.deriveRoots(ctx, txs)
	if err != nil {
		return bengine.BlockData{}, fmt.Errorf("failed to derive roots for proposal at height %d: %w", height, err)
	}

	return bengine.BlockData{
		Txs: txs,

		StateRoot:   stateRoot,
		ReceiptRoot: receiptRoot,
	}, nil
}

// ValidateBlock implements [bengine.Driver].
// Every transaction must carry a valid signature, and executing the
// block's transaction list must reproduce the header's roots.
func (d *ChainDriver) ValidateBlock(ctx context.Context, b bconsensus.Block) error {
	for i, tx := range b.Txs {
		if !tx.VerifySignature() {
			return fmt.Errorf("transaction %d has an invalid signature", i)
		}
	}

	stateRoot, receiptRoot, err := d.deriveRoots(ctx, b.Txs)
	if err != nil {
		return fmt.Errorf("failed to execute proposed block at height %d: %w", b.Header.Height, err)
	}

	if !bytes.Equal(b.Header.StateRoot, stateRoot) {
		return RootMismatchError{What: "state root", Want: stateRoot, Got: b.Header.StateRoot}
	}
	if !bytes.Equal(b.Header.ReceiptRoot, receiptRoot) {
		return RootMismatchError{What: "receipt root", Want: receiptRoot, Got: b.Header.ReceiptRoot}
	}

	return nil
}

// CommitBlock implements [bengine.Driver]:
// it executes the block's transactions through the scheduler,
// checks the header's roots once more,
// and persists the resulting state and the committed header.
func (d *ChainDriver) CommitBlock(ctx context.Context, b bconsensus.Block, proof bconsensus.CommitProof) error {
	sid := d.db.Snapshot()

	receipts, err := d.sched.ExecuteBlock(ctx, b.Txs)
	if err != nil {
		if rbErr := d.db.RollbackTo(sid); rbErr != nil {
			return fmt.Errorf("failed to roll back after execution error %v: %w", err, rbErr)
		}
		return fmt.Errorf("failed to execute block at height %d: %w", b.Header.Height, err)
	}

	stateRoot, err := d.db.PendingStateRoot()
	if err != nil {
		return fmt.Errorf("failed to derive state root at height %d: %w", b.Header.Height, err)
	}

	receiptRoot, err := bconsensus.ReceiptRoot(receipts)
	if err != nil {
		return fmt.Errorf("failed to derive receipt root at height %d: %w", b.Header.Height, err)
	}

	if !bytes.Equal(b.Header.StateRoot, stateRoot) || !bytes.Equal(b.Header.ReceiptRoot, receiptRoot) {
		if rbErr := d.db.RollbackTo(sid); rbErr != nil {
			return fmt.Errorf("failed to roll back mismatched block: %w", rbErr)
		}
		return fmt.Errorf("refusing to commit block at height %d: %w",
			b.Header.Height, RootMismatchError{What: "state root", Want: stateRoot, Got: b.Header.StateRoot})
	}

	if err := d.db.CommitBlock(); err != nil {
		return fmt.Errorf("failed to commit state at height %d: %w", b.Header.Height, err)
	}

	ch := bconsensus.CommittedHeader{Header: b.Header, Proof: proof}
	if err := d.store.SaveCommittedHeader(ch); err != nil {
		return err
	}

	d.pool.Remove(b.Txs)

	d.mu.Lock()
	d.lastReceipts = receipts
	d.lastCommitTime = time.Now()
	d.mu.Unlock()

	glog.HR(d.log, b.Header.Height, proof.Round).Info(
		"Finalized block",
		"txs", len(b.Txs),
		"state_root", glog.Hex(stateRoot),
	)

	return nil
}

// LastReceipts returns the receipts of the most recently
// committed block.
func (d *ChainDriver) LastReceipts() []bsched.Receipt {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]bsched.Receipt, len(d.lastReceipts))
	copy(out, d.lastReceipts)
	return out
}
