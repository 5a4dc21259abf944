package bconsensus

import (
	"bytes"

	"github.com/bachledger/bach/bcrypto"
	"github.com/bachledger/bach/btx"
)

// Header is the logical representation of a block header.
type Header struct {
	// Determined from all the other fields,
	// through a [HashScheme] method.
	Hash []byte

	// Hash of the previous block; empty at the first height.
	PrevBlockHash []byte

	Height uint64

	// PrevCommitProof justifies committing the previous block.
	// It may include precommits for other blocks or nil
	// beyond the committed one.
	PrevCommitProof CommitProof

	// The validators for this block,
	// and the validators for the next block.
	ValidatorSet, NextValidatorSet ValidatorSet

	// TxRoot commits to the ordered transactions of this block.
	TxRoot []byte

	// StateRoot commits to the state changes produced
	// by executing this block's transactions in order.
	StateRoot []byte

	// ReceiptRoot commits to the receipts produced
	// by executing this block's transactions in order.
	ReceiptRoot []byte
}

// CommitProof is the aggregate precommit evidence for a block.
type CommitProof struct {
	// Round the precommits were cast in;
	// necessary to reconstruct the signed content.
	Round uint32

	// Hash of the ordered public keys of the validators
	// at the height the proof covers.
	// A string for cheap map keys and comparisons.
	PubKeyHash string

	// Keyed by block hash, or the empty string for nil precommits.
	// KeyIDs are big-endian validator indices.
	Proofs map[string][]bcrypto.SparseSignature
}

// Clone returns a deep copy of p.
func (p CommitProof) Clone() CommitProof {
	cloneProofs := make(map[string][]bcrypto.SparseSignature, len(p.Proofs))
	for hash, sigs := range p.Proofs {
		cloneSigs := make([]bcrypto.SparseSignature, len(sigs))
		for i, sig := range sigs {
			cloneSigs[i] = bcrypto.SparseSignature{
				KeyID: bytes.Clone(sig.KeyID),
				Sig:   bytes.Clone(sig.Sig),
			}
		}

		cloneProofs[hash] = cloneSigs
	}

	return CommitProof{
		Round:      p.Round,
		PubKeyHash: p.PubKeyHash,
		Proofs:     cloneProofs,
	}
}

// CommittedHeader is a header together with the proof
// that the network committed it.
type CommittedHeader struct {
	Header Header
	Proof  CommitProof
}

// ProposedHeader is the data a proposer sends
// at the beginning of a round.
type ProposedHeader struct {
	Header Header

	// The round in which this header was proposed.
	Round uint32

	// Public key of the proposer, to verify the signature
	// and to check the proposer schedule.
	ProposerPubKey bcrypto.PubKey

	// Signature over the content determined
	// by the engine's [SignatureScheme].
	Signature []byte
}

// Block is a header together with its full transaction list.
type Block struct {
	Header Header

	Txs []btx.Transaction
}

// TxRoot derives the Merkle root committing to txs, in order.
func TxRoot(txs []btx.Transaction) ([]byte, error) {
	if len(txs) == 0 {
		return EmptyTxRoot(), nil
	}

	leaves := make([][]byte, len(txs))
	for i, tx := range txs {
		h := tx.Hash()
		leaves[i] = h[:]
	}
	return merkleRoot(leaves)
}
