package bconsensus

import "fmt"

// HeightMismatchError indicates a message or vote
// whose height does not match what the receiver wanted.
type HeightMismatchError struct {
	Want, Got uint64
}

func (e HeightMismatchError) Error() string {
	return fmt.Sprintf("height mismatch: want %d, got %d", e.Want, e.Got)
}

// RoundMismatchError indicates a message or vote
// whose round does not match what the receiver wanted.
type RoundMismatchError struct {
	Want, Got uint32
}

func (e RoundMismatchError) Error() string {
	return fmt.Sprintf("round mismatch: want %d, got %d", e.Want, e.Got)
}

// UnknownValidatorError indicates a vote referencing a validator index
// outside the active set.
type UnknownValidatorError struct {
	Index, SetSize int
}

func (e UnknownValidatorError) Error() string {
	return fmt.Sprintf("validator index %d outside set of %d", e.Index, e.SetSize)
}

// InvalidSignatureError indicates a consensus message
// whose signature did not verify against the claimed key.
type InvalidSignatureError struct {
	// What was being verified, e.g. "prevote" or "proposal".
	What string
}

func (e InvalidSignatureError) Error() string {
	return fmt.Sprintf("invalid %s signature", e.What)
}
