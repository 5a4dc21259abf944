package bsched_test

import (
	"context"
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/bachledger/bach/bcrypto"
	"github.com/bachledger/bach/bcrypto/bcryptotest"
	"github.com/bachledger/bach/bexec"
	"github.com/bachledger/bach/bsched"
	"github.com/bachledger/bach/bstate"
	"github.com/bachledger/bach/btx"
)

type memStore struct {
	m map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string][]byte)}
}

func (s *memStore) Get(key []byte) ([]byte, bool, error) {
	v, ok := s.m[string(key)]
	return v, ok, nil
}

func (s *memStore) PutBatch(writes []bstate.KV) error {
	for _, kv := range writes {
		s.m[string(kv.Key)] = kv.Value
	}
	return nil
}

// fundedDB returns a fresh state database where every signer's account
// holds the given balance, committed as the baseline.
func fundedDB(t *testing.T, signers []bcrypto.Ed25519Signer, balance uint64) *bstate.StateDB {
	t.Helper()

	db := bstate.NewStateDB(newMemStore())
	for _, s := range signers {
		a := bstate.ZeroAccount()
		a.Balance.SetUint64(balance)
		db.SetAccount(bstate.AddressFromPubKey(s.PubKey()), a)
	}
	require.NoError(t, db.CommitBlock())
	return db
}

func signedTransfer(
	t *testing.T, from bcrypto.Ed25519Signer, to bstate.Address, nonce, amount uint64,
) btx.Transaction {
	t.Helper()

	tx := btx.Transaction{
		Nonce:    nonce,
		To:       to,
		Value:    uint256.NewInt(amount),
		GasLimit: 21_000,
	}
	require.NoError(t, tx.Sign(context.Background(), from))
	return tx
}

// runBoth executes txs both in parallel and serially on identical
// baselines and requires identical receipts and state roots.
func runBoth(t *testing.T, signers []bcrypto.Ed25519Signer, balance uint64, workers int, txs []btx.Transaction) []bsched.Receipt {
	t.Helper()
	ctx := context.Background()

	par := fundedDB(t, signers, balance)
	parSched := bsched.NewScheduler(slogt.New(t), bsched.SchedulerConfig{
		StateDB:  par,
		Executor: bexec.TransferExecutor{},
		Workers:  workers,
	})
	parReceipts, err := parSched.ExecuteBlock(ctx, txs)
	require.NoError(t, err)

	ser := fundedDB(t, signers, balance)
	serSched := bsched.NewScheduler(slogt.New(t), bsched.SchedulerConfig{
		StateDB:  ser,
		Executor: bexec.TransferExecutor{},
	})
	serReceipts, err := serSched.SerialExecute(ctx, txs)
	require.NoError(t, err)

	require.Equal(t, len(serReceipts), len(parReceipts))
	for i := range serReceipts {
		require.Equal(t, serReceipts[i].ExecResult, parReceipts[i].ExecResult, "receipt %d diverged", i)
		require.Equal(t, serReceipts[i].TxHash, parReceipts[i].TxHash)
		require.Equal(t, bstate.TxID(i), parReceipts[i].TxIndex)
	}

	parRoot, err := par.PendingStateRoot()
	require.NoError(t, err)
	serRoot, err := ser.PendingStateRoot()
	require.NoError(t, err)
	require.Equal(t, serRoot, parRoot, "parallel execution must match serial state")

	return parReceipts
}

func TestScheduler_DisjointTransfers(t *testing.T) {
	t.Parallel()

	signers := bcryptotest.DeterministicEd25519Signers(16)
	txs := make([]btx.Transaction, 0, 8)
	for i := 0; i < 8; i++ {
		to := bstate.AddressFromPubKey(signers[8+i].PubKey())
		txs = append(txs, signedTransfer(t, signers[i], to, 0, 10))
	}

	receipts := runBoth(t, signers, 1000, 4, txs)
	for _, r := range receipts {
		require.Equal(t, bsched.StatusSuccess, r.Status)
	}
}

func TestScheduler_HotspotDestination(t *testing.T) {
	t.Parallel()

	// Every transaction credits the same account,
	// forcing ownership conflicts on its key in every wave.
	signers := bcryptotest.DeterministicEd25519Signers(17)
	hot := bstate.AddressFromPubKey(signers[16].PubKey())

	txs := make([]btx.Transaction, 0, 16)
	for i := 0; i < 16; i++ {
		txs = append(txs, signedTransfer(t, signers[i], hot, 0, 5))
	}

	receipts := runBoth(t, signers, 1000, 4, txs)
	for _, r := range receipts {
		require.Equal(t, bsched.StatusSuccess, r.Status)
	}

	db := fundedDB(t, signers, 1000)
	sched := bsched.NewScheduler(slogt.New(t), bsched.SchedulerConfig{
		StateDB:  db,
		Executor: bexec.TransferExecutor{},
	})
	_, err := sched.ExecuteBlock(context.Background(), txs)
	require.NoError(t, err)

	got, err := db.GetAccount(hot)
	require.NoError(t, err)
	require.Equal(t, uint64(1000+16*5), got.Balance.Uint64())
}

func TestScheduler_SenderNonceChain(t *testing.T) {
	t.Parallel()

	// Five transactions from the one sender must apply in block order,
	// each consuming the nonce the previous one produced.
	signers := bcryptotest.DeterministicEd25519Signers(2)
	to := bstate.AddressFromPubKey(signers[1].PubKey())

	txs := make([]btx.Transaction, 0, 5)
	for n := uint64(0); n < 5; n++ {
		txs = append(txs, signedTransfer(t, signers[0], to, n, 1))
	}

	receipts := runBoth(t, signers, 1000, 4, txs)
	for _, r := range receipts {
		require.Equal(t, bsched.StatusSuccess, r.Status)
	}
}

func TestScheduler_FailedTxCommitsReceiptOnly(t *testing.T) {
	t.Parallel()

	signers := bcryptotest.DeterministicEd25519Signers(3)
	to := bstate.AddressFromPubKey(signers[2].PubKey())

	txs := []btx.Transaction{
		signedTransfer(t, signers[0], to, 0, 10),
		// Wrong nonce: fails without blocking the rest of the block.
		signedTransfer(t, signers[1], to, 5, 10),
		signedTransfer(t, signers[0], to, 1, 10),
	}

	receipts := runBoth(t, signers, 1000, 4, txs)
	require.Equal(t, bsched.StatusSuccess, receipts[0].Status)
	require.Equal(t, bsched.StatusFailed, receipts[1].Status)
	require.Contains(t, receipts[1].Log, "nonce mismatch")
	require.Equal(t, bsched.StatusSuccess, receipts[2].Status)
}

func TestScheduler_DeterministicAcrossWorkerCounts(t *testing.T) {
	t.Parallel()

	signers := bcryptotest.DeterministicEd25519Signers(9)
	hot := bstate.AddressFromPubKey(signers[8].PubKey())
	txs := make([]btx.Transaction, 0, 8)
	for i := 0; i < 8; i++ {
		txs = append(txs, signedTransfer(t, signers[i], hot, 0, 3))
	}

	var roots [][]byte
	for _, workers := range []int{1, 2, 8} {
		db := fundedDB(t, signers, 100)
		sched := bsched.NewScheduler(slogt.New(t), bsched.SchedulerConfig{
			StateDB:  db,
			Executor: bexec.TransferExecutor{},
			Workers:  workers,
		})
		_, err := sched.ExecuteBlock(context.Background(), txs)
		require.NoError(t, err)

		root, err := db.PendingStateRoot()
		require.NoError(t, err)
		roots = append(roots, root)
	}

	require.Equal(t, roots[0], roots[1])
	require.Equal(t, roots[0], roots[2])
}

// conflictingExecutor reports an ownership conflict for the first
// failPerTx attempts of each transaction, then delegates.
type conflictingExecutor struct {
	inner     bsched.Executor
	failPerTx int

	mu    sync.Mutex
	calls map[[32]byte]int
}

func (e *conflictingExecutor) ExecuteTx(
	ctx context.Context, view bsched.StateView, tx btx.Transaction,
) (bsched.ExecResult, error) {
	e.mu.Lock()
	if e.calls == nil {
		e.calls = make(map[[32]byte]int)
	}
	h := tx.Hash()
	e.calls[h]++
	n := e.calls[h]
	e.mu.Unlock()

	if n <= e.failPerTx {
		return bsched.ExecResult{}, bsched.OwnershipConflictError{Key: bstate.AccountKey(tx.To)}
	}
	return e.inner.ExecuteTx(ctx, view, tx)
}

func TestScheduler_SerialFallbackAfterRetryBudget(t *testing.T) {
	t.Parallel()

	signers := bcryptotest.DeterministicEd25519Signers(2)
	to := bstate.AddressFromPubKey(signers[1].PubKey())
	txs := []btx.Transaction{signedTransfer(t, signers[0], to, 0, 10)}

	db := fundedDB(t, signers, 100)
	sched := bsched.NewScheduler(slogt.New(t), bsched.SchedulerConfig{
		StateDB:    db,
		Executor:   &conflictingExecutor{inner: bexec.TransferExecutor{}, failPerTx: 3},
		MaxRetries: 2,
	})

	receipts, err := sched.ExecuteBlock(context.Background(), txs)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.Equal(t, bsched.StatusSuccess, receipts[0].Status)
	require.Equal(t, 4, receipts[0].Attempts, "three conflicted attempts then one serial execution")

	got, err := db.GetAccount(to)
	require.NoError(t, err)
	require.Equal(t, uint64(110), got.Balance.Uint64())
}

func TestScheduler_EmptyBlock(t *testing.T) {
	t.Parallel()

	db := bstate.NewStateDB(newMemStore())
	sched := bsched.NewScheduler(slogt.New(t), bsched.SchedulerConfig{
		StateDB:  db,
		Executor: bexec.TransferExecutor{},
	})

	receipts, err := sched.ExecuteBlock(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, receipts)
}
