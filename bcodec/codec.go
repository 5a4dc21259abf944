// Package bcodec defines the interfaces for serializing
// consensus values for the wire and for storage.
package bcodec

import (
	"github.com/bachledger/bach/bconsensus"
	"github.com/bachledger/bach/bengine"
	"github.com/bachledger/bach/btx"
)

// Marshaler serializes consensus values to byte slices.
type Marshaler interface {
	MarshalConsensusMessage(ConsensusMessage) ([]byte, error)

	MarshalHeader(bconsensus.Header) ([]byte, error)
	MarshalCommittedHeader(bconsensus.CommittedHeader) ([]byte, error)

	MarshalProposal(bengine.Proposal) ([]byte, error)
	MarshalVote(bengine.Vote) ([]byte, error)

	MarshalTransaction(btx.Transaction) ([]byte, error)
}

// Unmarshaler deserializes byte slices into consensus values.
type Unmarshaler interface {
	UnmarshalConsensusMessage([]byte, *ConsensusMessage) error

	UnmarshalHeader([]byte, *bconsensus.Header) error
	UnmarshalCommittedHeader([]byte, *bconsensus.CommittedHeader) error

	UnmarshalProposal([]byte, *bengine.Proposal) error
	UnmarshalVote([]byte, *bengine.Vote) error

	UnmarshalTransaction([]byte, *btx.Transaction) error
}

// MarshalCodec marshals and unmarshals consensus values,
// producing byte slices.
type MarshalCodec interface {
	Marshaler
	Unmarshaler
}

// ConsensusMessage is a wrapper around the two kinds of values
// sent during consensus rounds.
// Exactly one of the fields must be set.
// If zero or both fields are set, behavior is undefined.
type ConsensusMessage struct {
	Proposal *bengine.Proposal

	Vote *bengine.Vote
}
