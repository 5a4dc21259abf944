package bmerkle_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bachledger/bach/bmerkle"
)

func leaves(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func TestNewTree_empty(t *testing.T) {
	t.Parallel()

	_, err := bmerkle.NewTree(bmerkle.BlakeScheme{}, nil)
	require.ErrorIs(t, err, bmerkle.ErrNoLeaves)
}

func TestNewTree_singleLeaf(t *testing.T) {
	t.Parallel()

	tree, err := bmerkle.NewTree(bmerkle.BlakeScheme{}, leaves("a"))
	require.NoError(t, err)

	id, err := bmerkle.BlakeScheme{}.LeafID(0, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, id, tree.RootID())
	require.Equal(t, 1, tree.NLeaves())
}

func TestNewTree_deterministic(t *testing.T) {
	t.Parallel()

	r1, err := bmerkle.RootID(bmerkle.BlakeScheme{}, leaves("a", "b", "c", "d", "e"))
	require.NoError(t, err)

	r2, err := bmerkle.RootID(bmerkle.BlakeScheme{}, leaves("a", "b", "c", "d", "e"))
	require.NoError(t, err)

	require.Equal(t, r1, r2)
}

func TestNewTree_leafOrderAffectsRoot(t *testing.T) {
	t.Parallel()

	r1, err := bmerkle.RootID(bmerkle.BlakeScheme{}, leaves("a", "b"))
	require.NoError(t, err)

	r2, err := bmerkle.RootID(bmerkle.BlakeScheme{}, leaves("b", "a"))
	require.NoError(t, err)

	require.NotEqual(t, r1, r2)
}

func TestNewTree_oddLeafRaised(t *testing.T) {
	t.Parallel()

	// With three leaves, the third leaf is raised unhashed,
	// so trees over (a,b,c) and (a,b,c') must differ,
	// and the root must not equal the two-leaf root.
	r2, err := bmerkle.RootID(bmerkle.BlakeScheme{}, leaves("a", "b"))
	require.NoError(t, err)

	r3, err := bmerkle.RootID(bmerkle.BlakeScheme{}, leaves("a", "b", "c"))
	require.NoError(t, err)

	require.NotEqual(t, r2, r3)

	r3x, err := bmerkle.RootID(bmerkle.BlakeScheme{}, leaves("a", "b", "x"))
	require.NoError(t, err)
	require.NotEqual(t, r3, r3x)
}
