package bjson_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/bachledger/bach/bcodec"
	"github.com/bachledger/bach/bcodec/bjson"
	"github.com/bachledger/bach/bconsensus"
	"github.com/bachledger/bach/bconsensus/bconsensustest"
	"github.com/bachledger/bach/bcrypto"
	"github.com/bachledger/bach/bcrypto/bcryptotest"
	"github.com/bachledger/bach/bengine"
	"github.com/bachledger/bach/bstate"
	"github.com/bachledger/bach/btx"
)

func newCodec() bjson.MarshalCodec {
	reg := new(bcrypto.Registry)
	bcrypto.RegisterEd25519(reg)
	return bjson.MarshalCodec{CryptoRegistry: reg}
}

func signedTx(t *testing.T, nonce uint64, to bstate.Address, amount uint64) btx.Transaction {
	t.Helper()

	signer := bcryptotest.DeterministicEd25519Signers(8)[7]

	tx := btx.Transaction{
		Nonce:    nonce,
		To:       to,
		Value:    uint256.NewInt(amount),
		GasLimit: 21_000,
	}
	require.NoError(t, tx.Sign(context.Background(), signer))
	return tx
}

func TestMarshalCodec_HeaderRoundTrip(t *testing.T) {
	t.Parallel()

	fx := bconsensustest.NewFixture(3)
	c := newCodec()

	h := fx.NextHeader(bconsensus.Header{}, nil)

	b, err := c.MarshalHeader(h)
	require.NoError(t, err)

	var got bconsensus.Header
	require.NoError(t, c.UnmarshalHeader(b, &got))

	require.Equal(t, h, got)
}

func TestMarshalCodec_CommittedHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := bconsensustest.NewFixture(3)
	c := newCodec()

	h := fx.NextHeader(bconsensus.Header{}, nil)

	// Block hashes are raw bytes, not valid UTF-8;
	// the round trip must preserve them exactly.
	vt := bconsensus.VoteTarget{Height: h.Height, BlockHash: string(h.Hash)}
	proof := bconsensus.CommitProof{
		PubKeyHash: string(fx.ValSet.PubKeyHash),
		Proofs: map[string][]bcrypto.SparseSignature{
			string(h.Hash): {
				{
					KeyID: binary.BigEndian.AppendUint16(nil, 0),
					Sig:   fx.PrecommitSig(ctx, 0, vt),
				},
				{
					KeyID: binary.BigEndian.AppendUint16(nil, 1),
					Sig:   fx.PrecommitSig(ctx, 1, vt),
				},
			},
			"": {
				{
					KeyID: binary.BigEndian.AppendUint16(nil, 2),
					Sig:   fx.PrecommitSig(ctx, 2, bconsensus.VoteTarget{Height: h.Height}),
				},
			},
		},
	}

	ch := bconsensus.CommittedHeader{Header: h, Proof: proof}

	b, err := c.MarshalCommittedHeader(ch)
	require.NoError(t, err)

	var got bconsensus.CommittedHeader
	require.NoError(t, c.UnmarshalCommittedHeader(b, &got))

	require.Equal(t, ch, got)
}

func TestMarshalCodec_ProposalRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := bconsensustest.NewFixture(3)
	c := newCodec()

	var dest bstate.Address
	dest[0] = 0xbc
	txs := []btx.Transaction{
		signedTx(t, 0, dest, 25),
		signedTx(t, 1, dest, 50),
	}

	txRoot, err := bconsensus.TxRoot(txs)
	require.NoError(t, err)

	ph := bconsensus.ProposedHeader{
		Header: fx.NextHeader(bconsensus.Header{}, txRoot),
		Round:  2,
	}
	fx.SignProposal(ctx, &ph, 0)

	p := bengine.Proposal{ProposedHeader: ph, Txs: txs}

	b, err := c.MarshalProposal(p)
	require.NoError(t, err)

	var got bengine.Proposal
	require.NoError(t, c.UnmarshalProposal(b, &got))

	require.Equal(t, p, got)

	// The decoded transactions must still verify.
	for _, tx := range got.Txs {
		require.True(t, tx.VerifySignature())
	}
}

func TestMarshalCodec_VoteRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := bconsensustest.NewFixture(3)
	c := newCodec()

	h := fx.NextHeader(bconsensus.Header{}, nil)
	vt := bconsensus.VoteTarget{Height: h.Height, Round: 1, BlockHash: string(h.Hash)}

	v := bengine.Vote{
		Kind:   bconsensus.KindPrevote,
		Target: vt,

		ValidatorIndex: 1,
		Signature:      fx.PrevoteSig(ctx, 1, vt),
	}

	b, err := c.MarshalVote(v)
	require.NoError(t, err)

	var got bengine.Vote
	require.NoError(t, c.UnmarshalVote(b, &got))

	require.Equal(t, v, got)
}

func TestMarshalCodec_TransactionRoundTrip(t *testing.T) {
	t.Parallel()

	c := newCodec()

	var dest bstate.Address
	dest[19] = 0x7f
	tx := signedTx(t, 9, dest, 1234)
	tx.Data = []byte{0, 1, 2, 0xff}
	// Re-sign after attaching the payload.
	require.NoError(t, tx.Sign(context.Background(), bcryptotest.DeterministicEd25519Signers(8)[7]))

	b, err := c.MarshalTransaction(tx)
	require.NoError(t, err)

	var got btx.Transaction
	require.NoError(t, c.UnmarshalTransaction(b, &got))

	require.Equal(t, tx, got)
	require.True(t, got.VerifySignature())
}

func TestMarshalCodec_ConsensusMessageRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := bconsensustest.NewFixture(3)
	c := newCodec()

	h := fx.NextHeader(bconsensus.Header{}, nil)

	t.Run("proposal", func(t *testing.T) {
		t.Parallel()

		ph := bconsensus.ProposedHeader{Header: h}
		fx.SignProposal(ctx, &ph, 0)
		p := bengine.Proposal{ProposedHeader: ph}

		b, err := c.MarshalConsensusMessage(bcodec.ConsensusMessage{Proposal: &p})
		require.NoError(t, err)

		var got bcodec.ConsensusMessage
		require.NoError(t, c.UnmarshalConsensusMessage(b, &got))

		require.Nil(t, got.Vote)
		require.NotNil(t, got.Proposal)
		require.Equal(t, p, *got.Proposal)
	})

	t.Run("vote", func(t *testing.T) {
		t.Parallel()

		vt := bconsensus.VoteTarget{Height: h.Height, BlockHash: string(h.Hash)}
		v := bengine.Vote{
			Kind:   bconsensus.KindPrecommit,
			Target: vt,

			ValidatorIndex: 2,
			Signature:      fx.PrecommitSig(ctx, 2, vt),
		}

		b, err := c.MarshalConsensusMessage(bcodec.ConsensusMessage{Vote: &v})
		require.NoError(t, err)

		var got bcodec.ConsensusMessage
		require.NoError(t, c.UnmarshalConsensusMessage(b, &got))

		require.Nil(t, got.Proposal)
		require.NotNil(t, got.Vote)
		require.Equal(t, v, *got.Vote)
	})
}
