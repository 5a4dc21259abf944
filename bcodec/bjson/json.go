package bjson

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/holiman/uint256"

	"github.com/bachledger/bach/bconsensus"
	"github.com/bachledger/bach/bcrypto"
	"github.com/bachledger/bach/bengine"
	"github.com/bachledger/bach/bstate"
	"github.com/bachledger/bach/btx"
)

// jsonHeader is a converted [bconsensus.Header]
// that can be safely marshalled as JSON.
type jsonHeader struct {
	Hash          []byte
	PrevBlockHash []byte

	Height uint64

	PrevCommitProof jsonCommitProof

	ValidatorSet     jsonValidatorSet
	NextValidatorSet jsonValidatorSet

	TxRoot []byte

	StateRoot   []byte
	ReceiptRoot []byte
}

func (jh jsonHeader) ToHeader(reg *bcrypto.Registry) (bconsensus.Header, error) {
	vs, err := jh.ValidatorSet.ToValidatorSet(reg)
	if err != nil {
		return bconsensus.Header{}, fmt.Errorf("failed to unmarshal validator set: %w", err)
	}

	nvs, err := jh.NextValidatorSet.ToValidatorSet(reg)
	if err != nil {
		return bconsensus.Header{}, fmt.Errorf("failed to unmarshal next validator set: %w", err)
	}

	var proof bconsensus.CommitProof
	if len(jh.PrevCommitProof.PubKeyHash) > 0 {
		proof = jh.PrevCommitProof.ToCommitProof()
	}

	return bconsensus.Header{
		Hash:          jh.Hash,
		PrevBlockHash: jh.PrevBlockHash,

		Height: jh.Height,

		PrevCommitProof: proof,

		ValidatorSet:     vs,
		NextValidatorSet: nvs,

		TxRoot: jh.TxRoot,

		StateRoot:   jh.StateRoot,
		ReceiptRoot: jh.ReceiptRoot,
	}, nil
}

func toJSONHeader(h bconsensus.Header, reg *bcrypto.Registry) jsonHeader {
	return jsonHeader{
		Hash:          h.Hash,
		PrevBlockHash: h.PrevBlockHash,

		Height: h.Height,

		PrevCommitProof: toJSONCommitProof(h.PrevCommitProof),

		ValidatorSet:     toJSONValidatorSet(h.ValidatorSet, reg),
		NextValidatorSet: toJSONValidatorSet(h.NextValidatorSet, reg),

		TxRoot: h.TxRoot,

		StateRoot:   h.StateRoot,
		ReceiptRoot: h.ReceiptRoot,
	}
}

// jsonValidator is a converted [bconsensus.Validator]
// that can be safely marshalled as JSON.
type jsonValidator struct {
	PubKey []byte
	Power  uint64
}

func (jv jsonValidator) ToValidator(reg *bcrypto.Registry) (bconsensus.Validator, error) {
	pubKey, err := reg.Unmarshal(jv.PubKey)
	if err != nil {
		return bconsensus.Validator{}, fmt.Errorf("failed to unmarshal public key: %w", err)
	}

	return bconsensus.Validator{
		PubKey: pubKey,
		Power:  jv.Power,
	}, nil
}

func toJSONValidator(v bconsensus.Validator, reg *bcrypto.Registry) jsonValidator {
	return jsonValidator{
		PubKey: reg.Marshal(v.PubKey),
		Power:  v.Power,
	}
}

// jsonValidatorSet carries the validators together with the
// set's stored hashes; the hashes are not recomputed on decode.
type jsonValidatorSet struct {
	Validators []jsonValidator

	PubKeyHash, VotePowerHash []byte
}

func (jvs jsonValidatorSet) ToValidatorSet(reg *bcrypto.Registry) (bconsensus.ValidatorSet, error) {
	vals := make([]bconsensus.Validator, len(jvs.Validators))
	for i, jv := range jvs.Validators {
		var err error
		vals[i], err = jv.ToValidator(reg)
		if err != nil {
			return bconsensus.ValidatorSet{}, fmt.Errorf(
				"failed to unmarshal validator at index %d: %w", i, err,
			)
		}
	}

	return bconsensus.ValidatorSet{
		Validators: vals,

		PubKeyHash:    jvs.PubKeyHash,
		VotePowerHash: jvs.VotePowerHash,
	}, nil
}

func toJSONValidatorSet(vs bconsensus.ValidatorSet, reg *bcrypto.Registry) jsonValidatorSet {
	jVals := make([]jsonValidator, len(vs.Validators))
	for i, v := range vs.Validators {
		jVals[i] = toJSONValidator(v, reg)
	}

	return jsonValidatorSet{
		Validators: jVals,

		PubKeyHash:    vs.PubKeyHash,
		VotePowerHash: vs.VotePowerHash,
	}
}

type jsonCommitProof struct {
	Round uint32

	PubKeyHash []byte // Has to be a byte slice for JSON round trips.

	Commits []jsonProofEntry
}

type jsonProofEntry struct {
	BlockHash []byte // Normally encoded as string entry in map.

	Signatures []bcrypto.SparseSignature
}

func (jcp jsonCommitProof) ToCommitProof() bconsensus.CommitProof {
	p := bconsensus.CommitProof{
		Round: jcp.Round,

		PubKeyHash: string(jcp.PubKeyHash),

		Proofs: make(map[string][]bcrypto.SparseSignature, len(jcp.Commits)),
	}

	for _, e := range jcp.Commits {
		p.Proofs[string(e.BlockHash)] = e.Signatures
	}

	return p
}

func toJSONCommitProof(p bconsensus.CommitProof) jsonCommitProof {
	out := jsonCommitProof{
		Round:      p.Round,
		PubKeyHash: []byte(p.PubKeyHash),
		Commits:    make([]jsonProofEntry, 0, len(p.Proofs)),
	}

	for hash, sigs := range p.Proofs {
		out.Commits = append(out.Commits, jsonProofEntry{
			BlockHash:  []byte(hash),
			Signatures: sigs,
		})
	}

	// The map iteration order above is random,
	// but marshalled output must be deterministic.
	slices.SortFunc(out.Commits, func(a, b jsonProofEntry) int {
		return bytes.Compare(a.BlockHash, b.BlockHash)
	})

	return out
}

// jsonTransaction is a converted [btx.Transaction]
// that can be safely marshalled as JSON.
type jsonTransaction struct {
	Nonce uint64

	To []byte

	Value []byte

	GasLimit uint64

	Data []byte

	PubKey []byte

	Signature []byte
}

func (jt jsonTransaction) ToTransaction(reg *bcrypto.Registry) (btx.Transaction, error) {
	if len(jt.To) != bstate.AddressSize {
		return btx.Transaction{}, fmt.Errorf(
			"destination address must be %d bytes, got %d", bstate.AddressSize, len(jt.To),
		)
	}

	tx := btx.Transaction{
		Nonce: jt.Nonce,

		GasLimit: jt.GasLimit,

		Data: jt.Data,

		Signature: jt.Signature,
	}
	copy(tx.To[:], jt.To)

	if len(jt.Value) > 0 {
		tx.Value = new(uint256.Int).SetBytes(jt.Value)
	}

	if len(jt.PubKey) > 0 {
		var err error
		tx.PubKey, err = reg.Unmarshal(jt.PubKey)
		if err != nil {
			return btx.Transaction{}, fmt.Errorf("failed to unmarshal sender public key: %w", err)
		}
	}

	return tx, nil
}

func toJSONTransaction(tx btx.Transaction, reg *bcrypto.Registry) jsonTransaction {
	jt := jsonTransaction{
		Nonce: tx.Nonce,

		To: tx.To[:],

		GasLimit: tx.GasLimit,

		Data: tx.Data,

		Signature: tx.Signature,
	}

	if tx.Value != nil {
		jt.Value = tx.Value.Bytes()
	}

	if tx.PubKey != nil {
		jt.PubKey = reg.Marshal(tx.PubKey)
	}

	return jt
}

// jsonProposal is a converted [bengine.Proposal]
// that can be safely marshalled as JSON.
type jsonProposal struct {
	Header jsonHeader

	Round uint32

	ProposerPubKey []byte

	Signature []byte

	Txs []jsonTransaction
}

func (jp jsonProposal) ToProposal(reg *bcrypto.Registry) (bengine.Proposal, error) {
	h, err := jp.Header.ToHeader(reg)
	if err != nil {
		return bengine.Proposal{}, fmt.Errorf("failed to unmarshal proposed header: %w", err)
	}

	pubKey, err := reg.Unmarshal(jp.ProposerPubKey)
	if err != nil {
		return bengine.Proposal{}, fmt.Errorf("failed to unmarshal proposer public key: %w", err)
	}

	var txs []btx.Transaction
	if len(jp.Txs) > 0 {
		txs = make([]btx.Transaction, len(jp.Txs))
		for i, jt := range jp.Txs {
			txs[i], err = jt.ToTransaction(reg)
			if err != nil {
				return bengine.Proposal{}, fmt.Errorf(
					"failed to unmarshal transaction at index %d: %w", i, err,
				)
			}
		}
	}

	return bengine.Proposal{
		ProposedHeader: bconsensus.ProposedHeader{
			Header: h,
			Round:  jp.Round,

			ProposerPubKey: pubKey,
			Signature:      jp.Signature,
		},
		Txs: txs,
	}, nil
}

func toJSONProposal(p bengine.Proposal, reg *bcrypto.Registry) jsonProposal {
	jTxs := make([]jsonTransaction, len(p.Txs))
	for i, tx := range p.Txs {
		jTxs[i] = toJSONTransaction(tx, reg)
	}

	return jsonProposal{
		Header: toJSONHeader(p.Header, reg),

		Round: p.Round,

		ProposerPubKey: reg.Marshal(p.ProposerPubKey),

		Signature: p.Signature,

		Txs: jTxs,
	}
}

// jsonVote is a converted [bengine.Vote]
// that can be safely marshalled as JSON.
type jsonVote struct {
	Kind bconsensus.VoteKind

	Height uint64
	Round  uint32

	BlockHash []byte // Has to be a byte slice for JSON round trips.

	ValidatorIndex int

	Signature []byte
}

func (jv jsonVote) ToVote() bengine.Vote {
	return bengine.Vote{
		Kind: jv.Kind,

		Target: bconsensus.VoteTarget{
			Height:    jv.Height,
			Round:     jv.Round,
			BlockHash: string(jv.BlockHash),
		},

		ValidatorIndex: jv.ValidatorIndex,

		Signature: jv.Signature,
	}
}

func toJSONVote(v bengine.Vote) jsonVote {
	return jsonVote{
		Kind: v.Kind,

		Height: v.Target.Height,
		Round:  v.Target.Round,

		BlockHash: []byte(v.Target.BlockHash),

		ValidatorIndex: v.ValidatorIndex,

		Signature: v.Signature,
	}
}
