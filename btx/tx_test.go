package btx_test

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/bachledger/bach/bcrypto/bcryptotest"
	"github.com/bachledger/bach/bstate"
	"github.com/bachledger/bach/btx"
)

func TestTransaction_SignAndVerify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	signers := bcryptotest.DeterministicEd25519Signers(2)

	tx := btx.Transaction{
		Nonce:    1,
		To:       bstate.Address{0xaa},
		Value:    uint256.NewInt(500),
		GasLimit: 21_000,
		Data:     []byte("payload"),
	}
	require.NoError(t, tx.Sign(ctx, signers[0]))

	require.True(t, tx.VerifySignature())
	require.Equal(t, bstate.AddressFromPubKey(signers[0].PubKey()), tx.Sender())

	// Tampering with any signed field invalidates the signature.
	tampered := tx
	tampered.Nonce = 2
	require.False(t, tampered.VerifySignature())

	tampered = tx
	tampered.Value = uint256.NewInt(501)
	require.False(t, tampered.VerifySignature())

	// A signature from another key does not verify.
	other := tx
	require.NoError(t, other.Sign(ctx, signers[1]))
	forged := tx
	forged.Signature = other.Signature
	require.False(t, forged.VerifySignature())
}

func TestTransaction_HashCoversSignature(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	signers := bcryptotest.DeterministicEd25519Signers(2)

	tx := btx.Transaction{
		Nonce:    4,
		To:       bstate.Address{0xbb},
		Value:    uint256.NewInt(1),
		GasLimit: 21_000,
	}

	a := tx
	require.NoError(t, a.Sign(ctx, signers[0]))
	b := tx
	require.NoError(t, b.Sign(ctx, signers[1]))

	require.NotEqual(t, a.Hash(), b.Hash())

	// The hash itself is deterministic.
	require.Equal(t, a.Hash(), a.Hash())
}

func TestTransaction_UnsignedDoesNotVerify(t *testing.T) {
	t.Parallel()

	tx := btx.Transaction{Nonce: 1}
	require.False(t, tx.VerifySignature())
}
