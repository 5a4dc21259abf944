// Package bmerkle provides the deterministic Merkle tree used for
// transaction, receipt, and state roots.
package bmerkle

import (
	"errors"
	"fmt"
)

// Scheme specifies how to derive IDs for the leaves and branches of a [Tree].
// Type parameter L is the leaf data.
// IDs are byte slices, normally a cryptographic hash.
type Scheme[L any] interface {
	// LeafID calculates the ID for the given leaf data.
	// The index value is provided as a preventative measure
	// against second preimage attacks.
	LeafID(idx int, leafData L) ([]byte, error)

	// BranchID calculates the ID for a branch from its two children.
	// The depth and row index are provided for the same reason as in LeafID.
	BranchID(depth, rowIdx int, left, right []byte) ([]byte, error)
}

// Tree is a binary Merkle tree whose leaf values are all known up front.
// There is no support for modifying a tree,
// so methods are safe to call concurrently.
//
// When a row has an odd number of nodes,
// the rightmost node is raised unhashed into the next row.
type Tree struct {
	nLeaves int

	// First row is the leaf IDs; last row contains the lone root.
	rows [][][]byte
}

// ErrNoLeaves is returned by [NewTree] when called with no leaf data.
var ErrNoLeaves = errors.New("merkle tree requires at least one leaf")

// NewTree returns a new Merkle tree based on the given scheme and leaf data.
func NewTree[L any](scheme Scheme[L], leafData []L) (*Tree, error) {
	if len(leafData) == 0 {
		return nil, ErrNoLeaves
	}

	row := make([][]byte, len(leafData))
	for i, ld := range leafData {
		id, err := scheme.LeafID(i, ld)
		if err != nil {
			return nil, fmt.Errorf("error generating leaf ID for leaf at index %d: %w", i, err)
		}
		row[i] = id
	}

	t := &Tree{
		nLeaves: len(leafData),
		rows:    [][][]byte{row},
	}

	depth := 1
	for len(row) > 1 {
		next := make([][]byte, (len(row)+1)/2)
		for i := range next {
			start := i * 2
			if start+1 >= len(row) {
				// Odd node on the right edge, raised unhashed.
				next[i] = row[start]
				continue
			}

			id, err := scheme.BranchID(depth, i, row[start], row[start+1])
			if err != nil {
				return nil, fmt.Errorf("failed to calculate branch ID at index %d in depth %d: %w", i, depth, err)
			}
			next[i] = id
		}

		t.rows = append(t.rows, next)
		row = next
		depth++
	}

	return t, nil
}

// RootID returns the ID of the root branch of the tree.
func (t *Tree) RootID() []byte {
	return t.rows[len(t.rows)-1][0]
}

// NLeaves returns the number of leaves the tree was built from.
func (t *Tree) NLeaves() int {
	return t.nLeaves
}

// RootID is a convenience to build a tree from leafData and return only its root.
func RootID[L any](scheme Scheme[L], leafData []L) ([]byte, error) {
	t, err := NewTree(scheme, leafData)
	if err != nil {
		return nil, err
	}
	return t.RootID(), nil
}
