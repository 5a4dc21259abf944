package bconsensus_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bachledger/bach/bconsensus"
)

func TestByzantineMajority(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		n, want uint64
	}{
		{n: 1, want: 1},
		{n: 2, want: 2},
		{n: 3, want: 3},
		{n: 4, want: 3},
		{n: 10, want: 7},
		{n: 12, want: 9},
		{n: 100, want: 67},
		{n: 300_000, want: 200_001},
	} {
		tc := tc
		t.Run(fmt.Sprintf("n=%d", tc.n), func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, bconsensus.ByzantineMajority(tc.n))
		})
	}

	require.Panics(t, func() { bconsensus.ByzantineMajority(0) })
}

func TestByzantineMinority(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		n, want uint64
	}{
		{n: 1, want: 1},
		{n: 2, want: 1},
		{n: 3, want: 1},
		{n: 4, want: 2},
		{n: 9, want: 3},
		{n: 10, want: 4},
		{n: 100, want: 34},
	} {
		tc := tc
		t.Run(fmt.Sprintf("n=%d", tc.n), func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, bconsensus.ByzantineMinority(tc.n))
		})
	}

	require.Panics(t, func() { bconsensus.ByzantineMinority(0) })
}
