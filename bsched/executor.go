// Package bsched provides the parallel transaction scheduler:
// optimistic wave execution over per-transaction state views,
// ownership-based conflict pruning,
// and an index-ordered commit gate that yields results
// identical to serial execution.
package bsched

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/bachledger/bach/bstate"
	"github.com/bachledger/bach/btx"
)

// StateView is the state access surface handed to an [Executor]
// for one transaction.
//
// Reads observe the last committed value for the current block.
// Writes are buffered in the view and become visible to other
// transactions only once the scheduler commits the transaction.
//
// A write may fail with [OwnershipConflictError] when the target key
// is held by a transaction with an earlier index.
// The executor must stop and return that error unmodified.
type StateView interface {
	GetAccount(addr bstate.Address) (bstate.Account, error)
	SetAccount(addr bstate.Address, acct bstate.Account) error

	GetStorage(addr bstate.Address, slot [32]byte) (uint256.Int, error)
	SetStorage(addr bstate.Address, slot [32]byte, val uint256.Int) error
}

// Executor evaluates one transaction against a [StateView].
//
// A returned error aborts processing:
// an [OwnershipConflictError] reschedules the transaction,
// any other error fails the whole block.
// Application-level failure (bad nonce, insufficient balance)
// is not an error; report it through [ExecResult.Status]
// so the transaction still commits a failed receipt.
type Executor interface {
	ExecuteTx(ctx context.Context, view StateView, tx btx.Transaction) (ExecResult, error)
}

// Status classifies the application-level outcome of one transaction.
type Status uint8

const (
	// StatusSuccess means the transaction's writes took effect.
	StatusSuccess Status = iota

	// StatusRevert means the executor ran the transaction but
	// the application asked for its writes to be undone.
	// Gas is still consumed. The built-in transfer executor
	// never reverts; a contract VM executor would.
	StatusRevert

	// StatusFailed means the transaction was rejected before or
	// during execution and none of its writes took effect.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRevert:
		return "revert"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Applied reports whether writes under this status become state.
func (s Status) Applied() bool {
	return s == StatusSuccess
}

// ExecResult is the application-level outcome of executing
// one transaction.
type ExecResult struct {
	Status Status

	GasUsed uint64

	// Log carries the failure or revert reason when Status is not
	// [StatusSuccess], or optional executor output otherwise.
	Log string
}

// Receipt is the final record for one transaction in a block.
type Receipt struct {
	ExecResult

	// TxIndex is the transaction's position within the block.
	TxIndex bstate.TxID

	TxHash [32]byte

	// Attempts counts executions of this transaction, including the
	// one that committed. Greater than one indicates rescheduling.
	Attempts int
}
