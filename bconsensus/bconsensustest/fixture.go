// Package bconsensustest provides deterministic validator fixtures
// for tests involving consensus messages.
package bconsensustest

import (
	"context"
	"fmt"

	"github.com/bachledger/bach/bconsensus"
	"github.com/bachledger/bach/bcrypto"
	"github.com/bachledger/bach/bcrypto/bcryptotest"
)

// PrivVal is a validator together with its signer.
type PrivVal struct {
	Signer bcrypto.Ed25519Signer

	Val bconsensus.Validator
}

// PrivVals is an ordered collection of validators with signers.
type PrivVals []PrivVal

// DeterministicValidatorsEd25519 returns n validators
// backed by the deterministic test signers.
// Powers descend with index, so the slice is already in
// canonical sorted order and index i is stable across runs.
func DeterministicValidatorsEd25519(n int) PrivVals {
	signers := bcryptotest.DeterministicEd25519Signers(n)

	vals := make(PrivVals, n)
	for i, s := range signers {
		vals[i] = PrivVal{
			Signer: s,
			Val: bconsensus.Validator{
				PubKey: s.PubKey(),

				// Descending and distinct, so ordering is unambiguous.
				Power: uint64(100_000 - i),
			},
		}
	}
	return vals
}

// Vals returns the bare validators.
func (vs PrivVals) Vals() []bconsensus.Validator {
	out := make([]bconsensus.Validator, len(vs))
	for i, v := range vs {
		out[i] = v.Val
	}
	return out
}

// Fixture collects the schemes and validators most consensus tests need.
type Fixture struct {
	PrivVals PrivVals

	ValSet bconsensus.ValidatorSet

	HashScheme bconsensus.HashScheme
	SigScheme  bconsensus.SignatureScheme
}

// NewFixture returns a fixture with n deterministic validators
// and the production schemes.
func NewFixture(n int) *Fixture {
	privVals := DeterministicValidatorsEd25519(n)
	hs := bconsensus.BlakeHashScheme{}

	valSet, err := bconsensus.NewValidatorSet(privVals.Vals(), hs)
	if err != nil {
		panic(fmt.Errorf("BUG: failed to build deterministic validator set: %w", err))
	}

	return &Fixture{
		PrivVals: privVals,

		ValSet: valSet,

		HashScheme: hs,
		SigScheme:  bconsensus.StandardSignatureScheme{ChainID: "bachtest"},
	}
}

// PrevoteSig returns validator idx's signature
// over the prevote for vt.
func (f *Fixture) PrevoteSig(ctx context.Context, idx int, vt bconsensus.VoteTarget) []byte {
	b, err := bconsensus.PrevoteSignBytes(vt, f.SigScheme)
	if err != nil {
		panic(fmt.Errorf("BUG: failed to build prevote sign bytes: %w", err))
	}
	return f.mustSign(ctx, idx, b)
}

// PrecommitSig returns validator idx's signature
// over the precommit for vt.
func (f *Fixture) PrecommitSig(ctx context.Context, idx int, vt bconsensus.VoteTarget) []byte {
	b, err := bconsensus.PrecommitSignBytes(vt, f.SigScheme)
	if err != nil {
		panic(fmt.Errorf("BUG: failed to build precommit sign bytes: %w", err))
	}
	return f.mustSign(ctx, idx, b)
}

// SignProposal fills in ph's proposer key and signature
// using validator idx.
func (f *Fixture) SignProposal(ctx context.Context, ph *bconsensus.ProposedHeader, idx int) {
	b, err := bconsensus.ProposalSignBytes(ph.Header, ph.Round, f.SigScheme)
	if err != nil {
		panic(fmt.Errorf("BUG: failed to build proposal sign bytes: %w", err))
	}

	ph.ProposerPubKey = f.PrivVals[idx].Signer.PubKey()
	ph.Signature = f.mustSign(ctx, idx, b)
}

// NextHeader returns an unhashed header for the next height
// after prev, carrying the fixture's validator set.
func (f *Fixture) NextHeader(prev bconsensus.Header, txRoot []byte) bconsensus.Header {
	if txRoot == nil {
		txRoot = bconsensus.EmptyTxRoot()
	}

	h := bconsensus.Header{
		PrevBlockHash: prev.Hash,
		Height:        prev.Height + 1,

		ValidatorSet:     f.ValSet,
		NextValidatorSet: f.ValSet,

		TxRoot: txRoot,
	}

	hash, err := f.HashScheme.Header(h)
	if err != nil {
		panic(fmt.Errorf("BUG: failed to hash header: %w", err))
	}
	h.Hash = hash
	return h
}

func (f *Fixture) mustSign(ctx context.Context, idx int, input []byte) []byte {
	sig, err := f.PrivVals[idx].Signer.Sign(ctx, input)
	if err != nil {
		panic(fmt.Errorf("BUG: deterministic signer %d failed: %w", idx, err))
	}
	return sig
}
