// Package bjson provides a [bcodec.MarshalCodec] that
// translates consensus values to and from JSON.
package bjson

import (
	"encoding/json"

	"github.com/bachledger/bach/bcodec"
	"github.com/bachledger/bach/bconsensus"
	"github.com/bachledger/bach/bcrypto"
	"github.com/bachledger/bach/bengine"
	"github.com/bachledger/bach/btx"
)

// MarshalCodec is a [bcodec.MarshalCodec] that
// translates consensus values to and from JSON.
type MarshalCodec struct {
	CryptoRegistry *bcrypto.Registry
}

var _ bcodec.MarshalCodec = MarshalCodec{}

func (c MarshalCodec) MarshalHeader(h bconsensus.Header) ([]byte, error) {
	jh := toJSONHeader(h, c.CryptoRegistry)
	return json.Marshal(jh)
}

func (c MarshalCodec) UnmarshalHeader(b []byte, h *bconsensus.Header) error {
	var jh jsonHeader
	err := json.Unmarshal(b, &jh)
	if err != nil {
		return err
	}

	*h, err = jh.ToHeader(c.CryptoRegistry)
	return err
}

type jsonCommittedHeader struct {
	Header jsonHeader
	Proof  jsonCommitProof
}

func (c MarshalCodec) MarshalCommittedHeader(ch bconsensus.CommittedHeader) ([]byte, error) {
	jch := jsonCommittedHeader{
		Header: toJSONHeader(ch.Header, c.CryptoRegistry),
		Proof:  toJSONCommitProof(ch.Proof),
	}
	return json.Marshal(jch)
}

func (c MarshalCodec) UnmarshalCommittedHeader(b []byte, ch *bconsensus.CommittedHeader) error {
	var jch jsonCommittedHeader
	err := json.Unmarshal(b, &jch)
	if err != nil {
		return err
	}

	ch.Header, err = jch.Header.ToHeader(c.CryptoRegistry)
	if err != nil {
		return err
	}

	ch.Proof = jch.Proof.ToCommitProof()
	return nil
}

func (c MarshalCodec) MarshalProposal(p bengine.Proposal) ([]byte, error) {
	jp := toJSONProposal(p, c.CryptoRegistry)
	return json.Marshal(jp)
}

func (c MarshalCodec) UnmarshalProposal(b []byte, p *bengine.Proposal) error {
	var jp jsonProposal
	err := json.Unmarshal(b, &jp)
	if err != nil {
		return err
	}

	*p, err = jp.ToProposal(c.CryptoRegistry)
	return err
}

func (c MarshalCodec) MarshalVote(v bengine.Vote) ([]byte, error) {
	return json.Marshal(toJSONVote(v))
}

func (c MarshalCodec) UnmarshalVote(b []byte, v *bengine.Vote) error {
	var jv jsonVote
	if err := json.Unmarshal(b, &jv); err != nil {
		return err
	}

	*v = jv.ToVote()
	return nil
}

func (c MarshalCodec) MarshalTransaction(tx btx.Transaction) ([]byte, error) {
	jt := toJSONTransaction(tx, c.CryptoRegistry)
	return json.Marshal(jt)
}

func (c MarshalCodec) UnmarshalTransaction(b []byte, tx *btx.Transaction) error {
	var jt jsonTransaction
	err := json.Unmarshal(b, &jt)
	if err != nil {
		return err
	}

	*tx, err = jt.ToTransaction(c.CryptoRegistry)
	return err
}

type jsonConsensusMessage struct {
	Proposal, Vote json.RawMessage `json:",omitempty"`
}

func (c MarshalCodec) MarshalConsensusMessage(m bcodec.ConsensusMessage) ([]byte, error) {
	var jcm jsonConsensusMessage
	switch {
	case m.Proposal != nil:
		b, err := c.MarshalProposal(*m.Proposal)
		if err != nil {
			return nil, err
		}
		jcm.Proposal = json.RawMessage(b)
	case m.Vote != nil:
		b, err := c.MarshalVote(*m.Vote)
		if err != nil {
			return nil, err
		}
		jcm.Vote = json.RawMessage(b)
	}

	return json.Marshal(jcm)
}

func (c MarshalCodec) UnmarshalConsensusMessage(b []byte, m *bcodec.ConsensusMessage) error {
	var jcm jsonConsensusMessage
	if err := json.Unmarshal(b, &jcm); err != nil {
		return err
	}

	switch {
	case jcm.Proposal != nil:
		var p bengine.Proposal
		if err := c.UnmarshalProposal(jcm.Proposal, &p); err != nil {
			return err
		}
		m.Proposal = &p
	case jcm.Vote != nil:
		var v bengine.Vote
		if err := c.UnmarshalVote(jcm.Vote, &v); err != nil {
			return err
		}
		m.Vote = &v
	}

	return nil
}
