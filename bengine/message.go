package bengine

import (
	"context"

	"github.com/bachledger/bach/bconsensus"
	"github.com/bachledger/bach/btx"
)

// Proposal is a proposed header together with its full
// transaction list, as broadcast at the start of a round.
type Proposal struct {
	bconsensus.ProposedHeader

	Txs []btx.Transaction
}

// Vote is a single prevote or precommit as sent on the wire.
// Validators are referenced by index into the active set;
// the receiver resolves the index to a public key
// before verifying the signature.
type Vote struct {
	Kind bconsensus.VoteKind

	Target bconsensus.VoteTarget

	ValidatorIndex int

	Signature []byte
}

// Broadcaster is the engine's outbound network capability.
// Implementations must not block indefinitely;
// the engine calls these from its consensus goroutine.
type Broadcaster interface {
	BroadcastProposal(ctx context.Context, p Proposal)
	BroadcastVote(ctx context.Context, v Vote)
}

// BlockData is what the driver supplies for a new proposal.
type BlockData struct {
	Txs []btx.Transaction

	// Roots produced by executing Txs against the current state.
	StateRoot   []byte
	ReceiptRoot []byte
}

// Driver connects the engine to the application:
// building block data, validating proposed blocks,
// and finalizing committed ones.
//
// All methods are called from the engine's consensus goroutine,
// so implementations need no internal synchronization
// against other driver calls.
type Driver interface {
	// PrepareBlockData returns the content for a proposal at height.
	PrepareBlockData(ctx context.Context, height uint64) (BlockData, error)

	// ValidateBlock checks a proposed block against the application,
	// typically by executing its transactions
	// and comparing the resulting roots.
	// An error means the engine prevotes nil.
	ValidateBlock(ctx context.Context, b bconsensus.Block) error

	// CommitBlock finalizes b with its commit proof.
	// The engine does not advance to the next height until it returns.
	CommitBlock(ctx context.Context, b bconsensus.Block, proof bconsensus.CommitProof) error
}
