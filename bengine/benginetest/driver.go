package benginetest

import (
	"context"
	"sync"

	"github.com/bachledger/bach/bconsensus"
	"github.com/bachledger/bach/bengine"
)

// StubDriver is a Driver producing empty blocks
// and accepting every proposal, while recording what it commits.
type StubDriver struct {
	mu sync.Mutex

	committed []bconsensus.Block
	proofs    []bconsensus.CommitProof
}

var _ bengine.Driver = (*StubDriver)(nil)

func (d *StubDriver) PrepareBlockData(context.Context, uint64) (bengine.BlockData, error) {
	return bengine.BlockData{}, nil
}

func (d *StubDriver) ValidateBlock(context.Context, bconsensus.Block) error {
	return nil
}

func (d *StubDriver) CommitBlock(_ context.Context, b bconsensus.Block, proof bconsensus.CommitProof) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.committed = append(d.committed, b)
	d.proofs = append(d.proofs, proof.Clone())
	return nil
}

// Committed returns a copy of the blocks committed so far, in order.
func (d *StubDriver) Committed() []bconsensus.Block {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]bconsensus.Block, len(d.committed))
	copy(out, d.committed)
	return out
}

// RecordingBroadcaster captures the engine's outbound traffic
// and exposes it on channels for tests to assert on.
type RecordingBroadcaster struct {
	Proposals chan bengine.Proposal
	Votes     chan bengine.Vote
}

var _ bengine.Broadcaster = (*RecordingBroadcaster)(nil)

func NewRecordingBroadcaster() *RecordingBroadcaster {
	return &RecordingBroadcaster{
		Proposals: make(chan bengine.Proposal, 32),
		Votes:     make(chan bengine.Vote, 128),
	}
}

func (b *RecordingBroadcaster) BroadcastProposal(_ context.Context, p bengine.Proposal) {
	b.Proposals <- p
}

func (b *RecordingBroadcaster) BroadcastVote(_ context.Context, v bengine.Vote) {
	b.Votes <- v
}
