package bsched

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/errgroup"

	"github.com/bachledger/bach/bstate"
	"github.com/bachledger/bach/btx"
)

// Default scheduler tuning.
const (
	// DefaultWorkerCount is the number of concurrent executor workers
	// when the config does not say otherwise.
	DefaultWorkerCount = 4

	// DefaultMaxRetries is how many times one transaction may be
	// rescheduled before it falls back to serial execution
	// at the commit gate.
	DefaultMaxRetries = 100
)

// SchedulerConfig is the collection of values
// to pass to [NewScheduler].
type SchedulerConfig struct {
	StateDB *bstate.StateDB

	Executor Executor

	// Workers is the executor pool size; zero means [DefaultWorkerCount].
	Workers int

	// MaxRetries caps rescheduling per transaction;
	// zero means [DefaultMaxRetries].
	MaxRetries int
}

// Scheduler executes the transactions of one block concurrently
// while committing their effects in transaction-index order,
// so the resulting state is identical to serial execution.
//
// Transactions run in waves. Each wave speculatively executes
// every uncommitted transaction against its own view;
// writes claim keys in the ownership table,
// and the earlier-indexed transaction wins every claim conflict.
// After the wave, the commit gate walks the transactions in index
// order, validating each view's reads and claims before
// publishing its writes.
type Scheduler struct {
	log *slog.Logger

	db   *bstate.StateDB
	exec Executor

	workers    int
	maxRetries int
}

// NewScheduler returns a scheduler ready to execute blocks.
func NewScheduler(log *slog.Logger, cfg SchedulerConfig) *Scheduler {
	if cfg.StateDB == nil {
		panic(errors.New("BUG: SchedulerConfig.StateDB may not be nil"))
	}
	if cfg.Executor == nil {
		panic(errors.New("BUG: SchedulerConfig.Executor may not be nil"))
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkerCount
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	return &Scheduler{
		log: log,

		db:   cfg.StateDB,
		exec: cfg.Executor,

		workers:    workers,
		maxRetries: maxRetries,
	}
}

// ExecuteBlock runs every transaction and returns one receipt per
// transaction, in transaction order. The state database holds the
// block's pending writes on success; the caller decides whether to
// commit or roll back.
//
// On error the block's effects are undefined and the caller must
// roll back to a snapshot taken before the call.
func (s *Scheduler) ExecuteBlock(ctx context.Context, txs []btx.Transaction) ([]Receipt, error) {
	n := len(txs)
	receipts := make([]Receipt, n)
	views := make([]*txView, n)
	attempts := make([]int, n)
	serial := bitset.New(uint(n))

	nextCommit := 0
	for wave := 0; nextCommit < n; wave++ {
		if err := s.runWave(ctx, txs, views, attempts, serial, nextCommit); err != nil {
			releaseAll(views, nextCommit)
			return nil, err
		}

		committed, err := s.commitReady(ctx, txs, views, attempts, serial, receipts, nextCommit)
		if err != nil {
			releaseAll(views, nextCommit)
			return nil, err
		}
		nextCommit = committed

		// Speculative work past the stall point is discarded;
		// those transactions re-execute next wave against fresher state.
		releaseAll(views, nextCommit)

		s.log.Debug(
			"Scheduler wave finished",
			"wave", wave,
			"committed", nextCommit,
			"total", n,
		)
	}

	s.log.Info(
		"Block execution complete",
		"txs", n,
		"serial_fallbacks", serial.Count(),
	)
	return receipts, nil
}

// runWave dispatches every uncommitted, non-serial transaction
// to the worker pool for speculative execution.
func (s *Scheduler) runWave(
	ctx context.Context,
	txs []btx.Transaction,
	views []*txView,
	attempts []int,
	serial *bitset.BitSet,
	nextCommit int,
) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)

	for i := nextCommit; i < len(txs); i++ {
		if serial.Test(uint(i)) {
			continue
		}

		i := i
		eg.Go(func() error {
			id := bstate.TxID(i)
			v := newTxView(s.db, id)
			attempts[i]++

			res, err := s.exec.ExecuteTx(egCtx, v, txs[i])
			if err != nil {
				v.releaseClaims()

				var conflict OwnershipConflictError
				if errors.As(err, &conflict) {
					// Lost to an earlier transaction; retry next wave.
					return nil
				}
				return TxExecutionError{TxIndex: id, Err: err}
			}

			v.result = res
			views[i] = v
			return nil
		})
	}

	return eg.Wait()
}

// commitReady is the ordered commit gate: it commits the longest
// consecutive run of validated transactions starting at nextCommit
// and returns the new commit cursor.
//
// A transaction that fails validation more than the retry budget
// is flagged serial and executed here, directly against the
// database, when the cursor reaches it.
func (s *Scheduler) commitReady(
	ctx context.Context,
	txs []btx.Transaction,
	views []*txView,
	attempts []int,
	serial *bitset.BitSet,
	receipts []Receipt,
	nextCommit int,
) (int, error) {
	n := len(txs)

	for nextCommit < n {
		i := nextCommit
		id := bstate.TxID(i)

		if serial.Test(uint(i)) {
			attempts[i]++
			res, err := s.exec.ExecuteTx(ctx, directView{db: s.db}, txs[i])
			if err != nil {
				return nextCommit, TxExecutionError{TxIndex: id, Err: err}
			}

			receipts[i] = Receipt{
				ExecResult: res,
				TxIndex:    id,
				TxHash:     txs[i].Hash(),
				Attempts:   attempts[i],
			}
			nextCommit++
			continue
		}

		v := views[i]
		if v == nil {
			// Conflict abort this wave; the gate stalls here.
			if s.exhausted(i, attempts, serial) {
				continue
			}
			break
		}

		if !v.validate() {
			v.releaseClaims()
			views[i] = nil
			if s.exhausted(i, attempts, serial) {
				continue
			}
			break
		}

		v.commit()
		receipts[i] = Receipt{
			ExecResult: v.result,
			TxIndex:    id,
			TxHash:     txs[i].Hash(),
			Attempts:   attempts[i],
		}
		views[i] = nil
		nextCommit++
	}

	return nextCommit, nil
}

// exhausted flags transaction i for serial execution
// once its retry budget is spent.
func (s *Scheduler) exhausted(i int, attempts []int, serial *bitset.BitSet) bool {
	if attempts[i] <= s.maxRetries {
		return false
	}

	serial.Set(uint(i))
	s.log.Warn(
		"Transaction exhausted retry budget, falling back to serial execution",
		"tx_index", i,
		"attempts", attempts[i],
	)
	return true
}

// releaseAll drops every live speculative view at or past from,
// releasing its ownership claims.
func releaseAll(views []*txView, from int) {
	for i := from; i < len(views); i++ {
		if views[i] != nil {
			views[i].releaseClaims()
			views[i] = nil
		}
	}
}

// SerialExecute runs txs one at a time directly against the database.
// It exists as the reference for differential testing
// and as a last-resort execution path.
func (s *Scheduler) SerialExecute(ctx context.Context, txs []btx.Transaction) ([]Receipt, error) {
	receipts := make([]Receipt, len(txs))
	for i, tx := range txs {
		res, err := s.exec.ExecuteTx(ctx, directView{db: s.db}, tx)
		if err != nil {
			return nil, TxExecutionError{TxIndex: bstate.TxID(i), Err: err}
		}
		receipts[i] = Receipt{
			ExecResult: res,
			TxIndex:    bstate.TxID(i),
			TxHash:     tx.Hash(),
			Attempts:   1,
		}
	}
	return receipts, nil
}
