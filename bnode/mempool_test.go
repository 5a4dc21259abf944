package bnode_test

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/bachledger/bach/bcrypto/bcryptotest"
	"github.com/bachledger/bach/bnode"
	"github.com/bachledger/bach/bstate"
	"github.com/bachledger/bach/btx"
)

func poolTx(t *testing.T, signerIdx int, nonce uint64) btx.Transaction {
	t.Helper()

	signer := bcryptotest.DeterministicEd25519Signers(8)[signerIdx]

	var dest bstate.Address
	dest[0] = 0xdd

	tx := btx.Transaction{
		Nonce:    nonce,
		To:       dest,
		Value:    uint256.NewInt(1),
		GasLimit: 21_000,
	}
	require.NoError(t, tx.Sign(context.Background(), signer))
	return tx
}

func TestMempool_AddReapRemove(t *testing.T) {
	t.Parallel()

	pool := bnode.NewMempool(0)

	tx0 := poolTx(t, 0, 0)
	tx1 := poolTx(t, 0, 1)
	tx2 := poolTx(t, 1, 0)

	require.NoError(t, pool.Add(tx0))
	require.NoError(t, pool.Add(tx1))
	require.NoError(t, pool.Add(tx2))
	require.Equal(t, 3, pool.Len())

	// Arrival order preserved, so nonce chains stay in order.
	reaped := pool.Reap(0)
	require.Equal(t, []btx.Transaction{tx0, tx1, tx2}, reaped)

	// Reaping does not remove.
	require.Equal(t, 3, pool.Len())

	reaped = pool.Reap(2)
	require.Equal(t, []btx.Transaction{tx0, tx1}, reaped)

	pool.Remove([]btx.Transaction{tx0, tx2})
	require.Equal(t, 1, pool.Len())
	require.Equal(t, []btx.Transaction{tx1}, pool.Reap(0))
}

func TestMempool_RejectsDuplicates(t *testing.T) {
	t.Parallel()

	pool := bnode.NewMempool(0)

	tx := poolTx(t, 0, 0)
	require.NoError(t, pool.Add(tx))
	require.ErrorIs(t, pool.Add(tx), bnode.ErrTxAlreadyInMempool)

	// Once removed, the same transaction may be re-added.
	pool.Remove([]btx.Transaction{tx})
	require.NoError(t, pool.Add(tx))
}

func TestMempool_RejectsInvalidSignature(t *testing.T) {
	t.Parallel()

	pool := bnode.NewMempool(0)

	tx := poolTx(t, 0, 0)
	tx.Signature[0] ^= 1

	require.ErrorIs(t, pool.Add(tx), bnode.ErrTxInvalidSignature)
	require.Zero(t, pool.Len())
}

func TestMempool_RejectsWhenFull(t *testing.T) {
	t.Parallel()

	pool := bnode.NewMempool(2)

	require.NoError(t, pool.Add(poolTx(t, 0, 0)))
	require.NoError(t, pool.Add(poolTx(t, 0, 1)))
	require.ErrorIs(t, pool.Add(poolTx(t, 0, 2)), bnode.ErrMempoolFull)
}
