package bnode_test

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/bachledger/bach/bcodec/bjson"
	"github.com/bachledger/bach/bconsensus/bconsensustest"
	"github.com/bachledger/bach/bcrypto"
	"github.com/bachledger/bach/bcrypto/bcryptotest"
	"github.com/bachledger/bach/bengine"
	"github.com/bachledger/bach/bengine/benginetest"
	"github.com/bachledger/bach/bnode"
	"github.com/bachledger/bach/bstate"
	"github.com/bachledger/bach/bstore"
	"github.com/bachledger/bach/btx"
)

const testChainID = "bachtest"

func testCodec() bjson.MarshalCodec {
	reg := new(bcrypto.Registry)
	bcrypto.RegisterEd25519(reg)
	return bjson.MarshalCodec{CryptoRegistry: reg}
}

func fastTimeouts() bengine.ExponentialTimeoutStrategy {
	return bengine.ExponentialTimeoutStrategy{
		ProposalBase:       250 * time.Millisecond,
		PrevoteDelayBase:   100 * time.Millisecond,
		PrecommitDelayBase: 100 * time.Millisecond,
	}
}

// transfer builds a signed transfer from one of the deterministic
// client signers, offset past the validator signers.
func transfer(t *testing.T, clientIdx int, nonce, amount uint64, dest bstate.Address) btx.Transaction {
	t.Helper()

	signer := bcryptotest.DeterministicEd25519Signers(16)[8+clientIdx]

	tx := btx.Transaction{
		Nonce:    nonce,
		To:       dest,
		Value:    uint256.NewInt(amount),
		GasLimit: 21_000,
	}
	require.NoError(t, tx.Sign(context.Background(), signer))
	return tx
}

func clientAddr(clientIdx int) bstate.Address {
	signer := bcryptotest.DeterministicEd25519Signers(16)[8+clientIdx]
	return bstate.AddressFromPubKey(signer.PubKey())
}

func TestNode_NetworkExecutesTransfers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	fx := bconsensustest.NewFixture(4)
	net := benginetest.NewNetwork()

	nodes := make([]*bnode.Node, 4)
	// The nodes log through t; they must be fully stopped
	// before the test returns.
	defer func() {
		cancel()
		for _, n := range nodes {
			if n != nil {
				n.Wait()
			}
		}
	}()

	const nClients = 4
	genesis := make([]bnode.GenesisAccount, nClients)
	for i := range genesis {
		genesis[i] = bnode.GenesisAccount{
			Addr:    clientAddr(i),
			Account: bstate.Account{Balance: uint256.NewInt(1000)},
		}
	}

	for i := range nodes {
		link := net.Join()
		n, err := bnode.NewNode(ctx, slogt.New(t), bnode.NodeConfig{
			ChainID: testChainID,

			Signer:       fx.PrivVals[i].Signer,
			ValidatorSet: fx.ValSet,

			Store: bstore.NewMemLevelDBStore(testCodec()),

			Broadcaster: link,

			Timeouts: fastTimeouts(),

			GenesisAlloc: genesis,
		})
		require.NoError(t, err)
		net.Register(link, n.Engine())
		nodes[i] = n
	}

	net.Start()

	var dest bstate.Address
	dest[0] = 0xee

	// Two chained transfers per client, submitted to every node
	// so any proposer can include them.
	var txs []btx.Transaction
	for c := 0; c < nClients; c++ {
		txs = append(txs,
			transfer(t, c, 0, 10, dest),
			transfer(t, c, 1, 10, dest),
		)
	}
	for _, n := range nodes {
		for _, tx := range txs {
			require.NoError(t, n.SubmitTx(tx))
		}
	}

	wantDest := uint256.NewInt(uint64(10 * len(txs)))

	converged := func() bool {
		for _, n := range nodes {
			acct, err := n.StateDB().GetAccount(dest)
			if err != nil || !acct.Balance.Eq(wantDest) {
				return false
			}
			for c := 0; c < nClients; c++ {
				sender, err := n.StateDB().GetAccount(clientAddr(c))
				if err != nil || sender.Nonce != 2 {
					return false
				}
			}
		}
		return true
	}
	require.Eventually(t, converged, 30*time.Second, 100*time.Millisecond,
		"nodes did not converge on the transferred balances")

	// Sender balances reflect the two 10-unit transfers.
	for c := 0; c < nClients; c++ {
		acct, err := nodes[0].StateDB().GetAccount(clientAddr(c))
		require.NoError(t, err)
		require.Equal(t, uint256.NewInt(980), acct.Balance)
	}

	// Committed transactions leave every mempool.
	require.Eventually(t, func() bool {
		for _, n := range nodes {
			if n.Mempool().Len() != 0 {
				return false
			}
		}
		return true
	}, 10*time.Second, 100*time.Millisecond)
}

func TestNode_CommittedHeadersAgreeAcrossNodes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	fx := bconsensustest.NewFixture(3)
	net := benginetest.NewNetwork()

	stores := make([]*bstore.LevelDBStore, 3)
	nodes := make([]*bnode.Node, 3)
	defer func() {
		cancel()
		for _, n := range nodes {
			if n != nil {
				n.Wait()
			}
		}
	}()
	for i := range nodes {
		stores[i] = bstore.NewMemLevelDBStore(testCodec())

		link := net.Join()
		n, err := bnode.NewNode(ctx, slogt.New(t), bnode.NodeConfig{
			ChainID: testChainID,

			Signer:       fx.PrivVals[i].Signer,
			ValidatorSet: fx.ValSet,

			Store: stores[i],

			Broadcaster: link,

			Timeouts: fastTimeouts(),
		})
		require.NoError(t, err)
		net.Register(link, n.Engine())
		nodes[i] = n
	}

	net.Start()

	// Wait until every node has persisted the first two heights.
	require.Eventually(t, func() bool {
		for _, s := range stores {
			latest, ok, err := s.LatestHeight()
			if err != nil || !ok || latest < 2 {
				return false
			}
		}
		return true
	}, 30*time.Second, 100*time.Millisecond)

	for height := uint64(1); height <= 2; height++ {
		ch0, ok, err := stores[0].CommittedHeader(height)
		require.NoError(t, err)
		require.True(t, ok)

		for i := 1; i < len(stores); i++ {
			ch, ok, err := stores[i].CommittedHeader(height)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, ch0.Header, ch.Header)
		}
	}
}

func TestNode_ResumesFromStore(t *testing.T) {
	t.Parallel()

	fx := bconsensustest.NewFixture(1)
	store := bstore.NewMemLevelDBStore(testCodec())

	startNode := func(ctx context.Context) *bnode.Node {
		net := benginetest.NewNetwork()
		link := net.Join()

		n, err := bnode.NewNode(ctx, slogt.New(t), bnode.NodeConfig{
			ChainID: testChainID,

			Signer:       fx.PrivVals[0].Signer,
			ValidatorSet: fx.ValSet,

			Store: store,

			Broadcaster: link,

			Timeouts: fastTimeouts(),

			GenesisAlloc: []bnode.GenesisAccount{
				{Addr: clientAddr(0), Account: bstate.Account{Balance: uint256.NewInt(100)}},
			},
		})
		require.NoError(t, err)
		net.Register(link, n.Engine())
		net.Start()
		return n
	}

	ctx1, cancel1 := context.WithCancel(context.Background())
	n1 := startNode(ctx1)

	// Let the single validator commit a few blocks, then stop it.
	require.Eventually(t, func() bool {
		latest, ok, err := store.LatestHeight()
		return err == nil && ok && latest >= 3
	}, 30*time.Second, 50*time.Millisecond)

	cancel1()
	n1.Wait()

	stopHeight, ok, err := store.LatestHeight()
	require.NoError(t, err)
	require.True(t, ok)

	ctx2, cancel2 := context.WithCancel(context.Background())
	n2 := startNode(ctx2)
	defer func() {
		cancel2()
		n2.Wait()
	}()

	// The restarted node continues the chain past where it stopped,
	// linking its first new block to the stored header.
	require.Eventually(t, func() bool {
		latest, ok, err := store.LatestHeight()
		return err == nil && ok && latest > stopHeight
	}, 30*time.Second, 50*time.Millisecond)

	stopHeader, ok, err := store.CommittedHeader(stopHeight)
	require.NoError(t, err)
	require.True(t, ok)

	next, ok, err := store.CommittedHeader(stopHeight + 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, stopHeader.Header.Hash, next.Header.PrevBlockHash)
}
