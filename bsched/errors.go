package bsched

import (
	"fmt"

	"github.com/bachledger/bach/bstate"
)

// OwnershipConflictError indicates a write attempt against a key
// held by a transaction with an earlier index.
// The scheduler reschedules the losing transaction into a later wave.
type OwnershipConflictError struct {
	Key   bstate.StateKey
	Owner bstate.TxID
}

func (e OwnershipConflictError) Error() string {
	return fmt.Sprintf("key %s held by earlier transaction %d", e.Key, e.Owner)
}

// TxExecutionError wraps a non-conflict executor failure,
// identifying the transaction that caused the block to fail.
type TxExecutionError struct {
	TxIndex bstate.TxID
	Err     error
}

func (e TxExecutionError) Error() string {
	return fmt.Sprintf("transaction %d failed to execute: %v", e.TxIndex, e.Err)
}

func (e TxExecutionError) Unwrap() error {
	return e.Err
}
