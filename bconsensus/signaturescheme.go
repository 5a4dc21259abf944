package bconsensus

import (
	"bytes"
	"io"
	"sync"
)

// SignatureScheme determines the content to be signed
// for consensus messages.
//
// Methods write to an io.Writer rather than returning a slice,
// so callers in signature-heavy loops can reuse a bytes.Buffer.
type SignatureScheme interface {
	WriteProposalSigningContent(w io.Writer, h Header, round uint32) (int, error)

	WritePrevoteSigningContent(io.Writer, VoteTarget) (int, error)

	WritePrecommitSigningContent(io.Writer, VoteTarget) (int, error)
}

var sigBufPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// ProposalSignBytes returns a new byte slice containing
// the proposal sign bytes for h, as defined by s.
func ProposalSignBytes(h Header, round uint32, s SignatureScheme) ([]byte, error) {
	buf := sigBufPool.Get().(*bytes.Buffer)
	defer sigBufPool.Put(buf)

	buf.Reset()
	if _, err := s.WriteProposalSigningContent(buf, h, round); err != nil {
		return nil, err
	}

	return bytes.Clone(buf.Bytes()), nil
}

// PrevoteSignBytes returns a new byte slice containing
// the prevote sign bytes for vt, as defined by s.
func PrevoteSignBytes(vt VoteTarget, s SignatureScheme) ([]byte, error) {
	buf := sigBufPool.Get().(*bytes.Buffer)
	defer sigBufPool.Put(buf)

	buf.Reset()
	if _, err := s.WritePrevoteSigningContent(buf, vt); err != nil {
		return nil, err
	}

	return bytes.Clone(buf.Bytes()), nil
}

// PrecommitSignBytes returns a new byte slice containing
// the precommit sign bytes for vt, as defined by s.
func PrecommitSignBytes(vt VoteTarget, s SignatureScheme) ([]byte, error) {
	buf := sigBufPool.Get().(*bytes.Buffer)
	defer sigBufPool.Put(buf)

	buf.Reset()
	if _, err := s.WritePrecommitSigningContent(buf, vt); err != nil {
		return nil, err
	}

	return bytes.Clone(buf.Bytes()), nil
}
