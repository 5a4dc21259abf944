package bconsensus

import (
	"fmt"
	"io"
)

// StandardSignatureScheme is the production [SignatureScheme]:
// human-readable, line-delimited signing content
// prefixed with the chain ID, so validator keys reused
// on another chain cannot be replayed against this one.
type StandardSignatureScheme struct {
	ChainID string
}

var _ SignatureScheme = StandardSignatureScheme{}

func (s StandardSignatureScheme) WriteProposalSigningContent(
	w io.Writer, h Header, round uint32,
) (int, error) {
	return fmt.Fprintf(w, `PROPOSAL:
ChainID=%s
Height=%d
Round=%d
PrevBlockHash=%x
TxRoot=%x
StateRoot=%x
`, s.ChainID, h.Height, round, h.PrevBlockHash, h.TxRoot, h.StateRoot)
}

func (s StandardSignatureScheme) WritePrevoteSigningContent(w io.Writer, vt VoteTarget) (int, error) {
	if vt.BlockHash == "" {
		return fmt.Fprintf(w, `NIL PREVOTE:
ChainID=%s
Height=%d
Round=%d
`, s.ChainID, vt.Height, vt.Round)
	}

	return fmt.Fprintf(w, `PREVOTE:
ChainID=%s
Height=%d
Round=%d
BlockHash=%x
`, s.ChainID, vt.Height, vt.Round, vt.BlockHash)
}

func (s StandardSignatureScheme) WritePrecommitSigningContent(w io.Writer, vt VoteTarget) (int, error) {
	if vt.BlockHash == "" {
		return fmt.Fprintf(w, `NIL PRECOMMIT:
ChainID=%s
Height=%d
Round=%d
`, s.ChainID, vt.Height, vt.Round)
	}

	return fmt.Fprintf(w, `PRECOMMIT:
ChainID=%s
Height=%d
Round=%d
BlockHash=%x
`, s.ChainID, vt.Height, vt.Round, vt.BlockHash)
}
