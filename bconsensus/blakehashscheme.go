package bconsensus

import (
	"bytes"
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"

	"github.com/bachledger/bach/bcrypto"
)

// BlakeHashScheme is the production [HashScheme]:
// delimited textual serialization hashed with blake2b-256.
// The serialization is unambiguous for valid inputs,
// and keeping it readable simplifies debugging hash mismatches.
type BlakeHashScheme struct{}

var _ HashScheme = BlakeHashScheme{}

func (BlakeHashScheme) Header(h Header) ([]byte, error) {
	hasher, err := blake2b.New(32, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blake2b hasher: %w", err)
	}

	// The previous commit proof, with voted blocks in sorted order
	// so the serialization is deterministic.
	var proofBuf bytes.Buffer
	blockKeys := make([]string, 0, len(h.PrevCommitProof.Proofs))
	for bh := range h.PrevCommitProof.Proofs {
		blockKeys = append(blockKeys, bh)
	}
	sort.Strings(blockKeys)

	for i, bh := range blockKeys {
		if i > 0 {
			proofBuf.WriteString(", ")
		}
		if bh == "" {
			proofBuf.WriteString("<nil>:")
		} else {
			fmt.Fprintf(&proofBuf, "%x:", bh)
		}
		for j, sig := range h.PrevCommitProof.Proofs[bh] {
			if j > 0 {
				proofBuf.WriteByte(',')
			}
			fmt.Fprintf(&proofBuf, "%x/%x", sig.KeyID, sig.Sig)
		}
	}

	fmt.Fprintf(hasher, `HEADER:
Height=%d
PrevBlockHash=%x
TxRoot=%x
StateRoot=%x
ReceiptRoot=%x
Validators=%x/%x
NextValidators=%x/%x
PrevCommit@%d[%s]=%s
`,
		h.Height,
		h.PrevBlockHash,
		h.TxRoot,
		h.StateRoot,
		h.ReceiptRoot,
		h.ValidatorSet.PubKeyHash, h.ValidatorSet.VotePowerHash,
		h.NextValidatorSet.PubKeyHash, h.NextValidatorSet.VotePowerHash,
		h.PrevCommitProof.Round, h.PrevCommitProof.PubKeyHash, proofBuf.Bytes(),
	)

	return hasher.Sum(nil), nil
}

func (BlakeHashScheme) PubKeys(keys []bcrypto.PubKey) ([]byte, error) {
	hasher, err := blake2b.New(32, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blake2b hasher: %w", err)
	}

	for i, k := range keys {
		if i > 0 {
			hasher.Write([]byte{','})
		}
		fmt.Fprintf(hasher, "%s:%x", k.TypeName(), k.PubKeyBytes())
	}

	return hasher.Sum(nil), nil
}

func (BlakeHashScheme) VotePowers(powers []uint64) ([]byte, error) {
	hasher, err := blake2b.New(32, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blake2b hasher: %w", err)
	}

	for i, p := range powers {
		if i > 0 {
			hasher.Write([]byte{','})
		}
		fmt.Fprintf(hasher, "%d", p)
	}

	return hasher.Sum(nil), nil
}
