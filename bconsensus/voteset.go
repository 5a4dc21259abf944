package bconsensus

import (
	"encoding/binary"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/bachledger/bach/bcrypto"
)

// VoteKind distinguishes the two voting steps of a round.
type VoteKind uint8

const (
	KindPrevote VoteKind = iota + 1
	KindPrecommit
)

func (k VoteKind) String() string {
	switch k {
	case KindPrevote:
		return "prevote"
	case KindPrecommit:
		return "precommit"
	default:
		return fmt.Sprintf("invalid-vote-kind-%d", k)
	}
}

// blockVotes accumulates the votes for one block hash.
type blockVotes struct {
	// Which validator indices voted for this hash.
	present *bitset.BitSet

	power uint64

	sigs []bcrypto.SparseSignature
}

// VoteSet accumulates the prevotes or precommits of one (height, round),
// verifying signatures as they arrive and tracking voting power
// per block hash.
//
// VoteSet is not safe for concurrent use;
// the engine owns it from its single consensus goroutine.
type VoteSet struct {
	kind   VoteKind
	height uint64
	round  uint32

	vals   ValidatorSet
	scheme SignatureScheme

	totalPower uint64

	// Which validator indices have voted at all.
	voted *bitset.BitSet

	// Power of all received votes, across every hash.
	votedPower uint64

	byHash map[string]*blockVotes

	// First vote seen per validator, to catch conflicting votes.
	castBy map[int]string

	evidence []DoubleSignEvidence
}

// NewVoteSet returns an empty vote set for one step of one round.
func NewVoteSet(
	kind VoteKind, height uint64, round uint32,
	vals ValidatorSet, scheme SignatureScheme,
) *VoteSet {
	n := uint(len(vals.Validators))
	return &VoteSet{
		kind:   kind,
		height: height,
		round:  round,

		vals:   vals,
		scheme: scheme,

		totalPower: vals.TotalPower(),

		voted:  bitset.New(n),
		byHash: make(map[string]*blockVotes),
		castBy: make(map[int]string),
	}
}

// AddVote records the vote of the validator at valIdx
// for blockHash (empty string for nil), verifying sig.
//
// A duplicate of an already-recorded vote is a no-op.
// A conflicting vote for a different hash is rejected
// and recorded as [DoubleSignEvidence].
func (s *VoteSet) AddVote(valIdx int, blockHash string, sig []byte) error {
	if valIdx < 0 || valIdx >= len(s.vals.Validators) {
		return UnknownValidatorError{Index: valIdx, SetSize: len(s.vals.Validators)}
	}

	val := s.vals.Validators[valIdx]

	if prev, ok := s.castBy[valIdx]; ok {
		if prev == blockHash {
			return nil
		}

		s.evidence = append(s.evidence, DoubleSignEvidence{
			Kind:   s.kind,
			Height: s.height,
			Round:  s.round,
			PubKey: val.PubKey,
			HashA:  prev,
			HashB:  blockHash,
			SigB:   sig,
		})
		return fmt.Errorf(
			"conflicting %s from validator %d at height %d round %d",
			s.kind, valIdx, s.height, s.round,
		)
	}

	vt := VoteTarget{Height: s.height, Round: s.round, BlockHash: blockHash}
	signContent, err := s.signBytes(vt)
	if err != nil {
		return fmt.Errorf("failed to build %s sign bytes: %w", s.kind, err)
	}
	if !val.PubKey.Verify(signContent, sig) {
		return InvalidSignatureError{What: s.kind.String()}
	}

	bv := s.byHash[blockHash]
	if bv == nil {
		bv = &blockVotes{present: bitset.New(uint(len(s.vals.Validators)))}
		s.byHash[blockHash] = bv
	}

	keyID := binary.BigEndian.AppendUint16(nil, uint16(valIdx))
	bv.present.Set(uint(valIdx))
	bv.power += val.Power
	bv.sigs = append(bv.sigs, bcrypto.SparseSignature{KeyID: keyID, Sig: sig})

	s.voted.Set(uint(valIdx))
	s.votedPower += val.Power
	s.castBy[valIdx] = blockHash

	return nil
}

func (s *VoteSet) signBytes(vt VoteTarget) ([]byte, error) {
	if s.kind == KindPrevote {
		return PrevoteSignBytes(vt, s.scheme)
	}
	return PrecommitSignBytes(vt, s.scheme)
}

// PowerFor returns the voting power recorded for blockHash.
func (s *VoteSet) PowerFor(blockHash string) uint64 {
	bv := s.byHash[blockHash]
	if bv == nil {
		return 0
	}
	return bv.power
}

// VotedPower returns the total power that has voted for any hash.
func (s *VoteSet) VotedPower() uint64 {
	return s.votedPower
}

// QuorumBlock returns the hash holding a byzantine majority of power,
// if any. The returned hash may be the empty string:
// a quorum of nil votes.
func (s *VoteSet) QuorumBlock() (string, bool) {
	maj := ByzantineMajority(s.totalPower)
	for hash, bv := range s.byHash {
		if bv.power >= maj {
			return hash, true
		}
	}
	return "", false
}

// HasQuorumAny reports whether the total voted power,
// regardless of which hashes it voted for,
// reaches the byzantine majority.
// This is what arms the wait timers:
// enough validators have spoken even though no block has won yet.
func (s *VoteSet) HasQuorumAny() bool {
	return s.votedPower >= ByzantineMajority(s.totalPower)
}

// HasMinorityFor reports whether blockHash has reached
// the byzantine minority of power.
func (s *VoteSet) HasMinorityFor(blockHash string) bool {
	return s.PowerFor(blockHash) >= ByzantineMinority(s.totalPower)
}

// Evidence returns the conflicting-vote evidence collected so far.
// The returned slice is owned by the vote set.
func (s *VoteSet) Evidence() []DoubleSignEvidence {
	return s.evidence
}

// CommitProof assembles the commit proof from the recorded precommits,
// including precommits for non-committed blocks and nil.
// It panics if called on a prevote set.
func (s *VoteSet) CommitProof() CommitProof {
	if s.kind != KindPrecommit {
		panic(fmt.Errorf("BUG: CommitProof called on %s set", s.kind))
	}

	proofs := make(map[string][]bcrypto.SparseSignature, len(s.byHash))
	for hash, bv := range s.byHash {
		sigs := make([]bcrypto.SparseSignature, len(bv.sigs))
		copy(sigs, bv.sigs)
		proofs[hash] = sigs
	}

	return CommitProof{
		Round:      s.round,
		PubKeyHash: string(s.vals.PubKeyHash),
		Proofs:     proofs,
	}
}
