package bmerkle

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Leaf and branch nodes are domain-separated so that
// a leaf's bytes can never be confused for a pair of child IDs.
const (
	leafDomain   = 0x00
	branchDomain = 0x01
)

// BlakeScheme is the production [Scheme] for raw byte leaves,
// producing 32-byte blake2b IDs.
type BlakeScheme struct{}

var _ Scheme[[]byte] = BlakeScheme{}

func (BlakeScheme) LeafID(idx int, leafData []byte) ([]byte, error) {
	hasher, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blake2b hasher: %w", err)
	}

	var idxBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(idxBuf[:], uint64(idx))

	hasher.Write([]byte{leafDomain})
	hasher.Write(idxBuf[:n])
	hasher.Write(leafData)
	return hasher.Sum(nil), nil
}

func (BlakeScheme) BranchID(_, _ int, left, right []byte) ([]byte, error) {
	hasher, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blake2b hasher: %w", err)
	}

	hasher.Write([]byte{branchDomain})
	hasher.Write(left)
	hasher.Write(right)
	return hasher.Sum(nil), nil
}
