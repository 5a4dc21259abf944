package bstate

import "fmt"

// SnapshotReleasedError indicates a rollback targeting a snapshot
// that was already discarded by an earlier rollback.
// This is a programming error in the caller.
type SnapshotReleasedError struct {
	ID SnapshotID
}

func (e SnapshotReleasedError) Error() string {
	return fmt.Sprintf("snapshot %d already released", e.ID)
}

// BackingStoreError wraps a failure from the [StateStore] collaborator.
// The current height cannot make progress past this error.
type BackingStoreError struct {
	Op  string
	Err error
}

func (e BackingStoreError) Error() string {
	return fmt.Sprintf("backing store failure during %s: %v", e.Op, e.Err)
}

func (e BackingStoreError) Unwrap() error {
	return e.Err
}
