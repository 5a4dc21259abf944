package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bachledger/bach/bcodec/bjson"
	"github.com/bachledger/bach/bconsensus"
	"github.com/bachledger/bach/bengine"
	"github.com/bachledger/bach/bnode"
	"github.com/bachledger/bach/bstate"
	"github.com/bachledger/bach/bstore"
	"github.com/bachledger/bach/btx"
)

type demoFlags struct {
	ChainID    string
	Validators int
	Clients    int
	Blocks     uint64
	Workers    int
}

func addDemoFlags(fs *pflag.FlagSet, f *demoFlags) {
	fs.StringVar(&f.ChainID, "chain-id", "bach-demo", "chain identifier bound into every signature")
	fs.IntVar(&f.Validators, "validators", 4, "number of in-process validator nodes")
	fs.IntVar(&f.Clients, "clients", 4, "number of client accounts submitting transfers")
	fs.Uint64Var(&f.Blocks, "blocks", 10, "stop after this many committed blocks; 0 runs until interrupted")
	fs.IntVar(&f.Workers, "workers", 0, "scheduler worker count per node; 0 uses the default")
}

func newDemoCmd(log *slog.Logger) *cobra.Command {
	var flags demoFlags

	cmd := &cobra.Command{
		Use: "demo",

		Short: "Run an in-process validator network executing transfers",

		Long: `demo starts several validator nodes inside one process,
connected by an in-memory network, and continuously submits
signed transfers between client accounts while the network
commits blocks.
`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd.Context(), log, flags)
		},
	}

	addDemoFlags(cmd.Flags(), &flags)

	return cmd
}

func runDemo(ctx context.Context, log *slog.Logger, flags demoFlags) error {
	if flags.Validators < 1 {
		return fmt.Errorf("--validators must be at least 1, got %d", flags.Validators)
	}
	if flags.Clients < 2 {
		return fmt.Errorf("--clients must be at least 2, got %d", flags.Clients)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	codec := bjson.MarshalCodec{CryptoRegistry: newCryptoRegistry()}

	// Validator keys and client keys share the seed space;
	// clients start after the validators.
	vals := make([]bconsensus.Validator, flags.Validators)
	for i := range vals {
		vals[i] = bconsensus.Validator{
			PubKey: signerFromSeed(flags.ChainID, uint64(i)).PubKey(),
			Power:  uint64(100 - i),
		}
	}
	valSet, err := bconsensus.NewValidatorSet(vals, bconsensus.BlakeHashScheme{})
	if err != nil {
		return fmt.Errorf("failed to build validator set: %w", err)
	}

	clientSeed := func(c int) uint64 { return uint64(flags.Validators + c) }
	genesis := make([]bnode.GenesisAccount, flags.Clients)
	for c := range genesis {
		signer := signerFromSeed(flags.ChainID, clientSeed(c))
		genesis[c] = bnode.GenesisAccount{
			Addr:    bstate.AddressFromPubKey(signer.PubKey()),
			Account: bstate.Account{Balance: uint256.NewInt(1_000_000)},
		}
	}

	net := newFanoutNetwork()

	nodes := make([]*bnode.Node, flags.Validators)
	for i := range nodes {
		link := net.join()

		node, err := bnode.NewNode(ctx, log.With("node", i), bnode.NodeConfig{
			ChainID: flags.ChainID,

			Signer:       signerFromSeed(flags.ChainID, uint64(i)),
			ValidatorSet: valSet,

			Store: bstore.NewMemLevelDBStore(codec),

			Broadcaster: link,

			Timeouts: bengine.ExponentialTimeoutStrategy{
				ProposalBase:       2 * time.Second,
				PrevoteDelayBase:   time.Second,
				PrecommitDelayBase: time.Second,
			},

			GenesisAlloc: genesis,

			Workers: flags.Workers,

			MinBlockInterval: 500 * time.Millisecond,
		})
		if err != nil {
			return err
		}

		net.register(link, node.Engine())
		nodes[i] = node
	}

	net.start()

	go submitTransfers(ctx, log, flags, nodes)

	// Watch the first node's commits until the block budget is spent.
	for {
		select {
		case <-ctx.Done():
			for _, n := range nodes {
				n.Wait()
			}
			log.Info("Demo stopped")
			return nil

		case c := <-nodes[0].Engine().Commits():
			receipts := nodes[0].Driver().LastReceipts()
			log.Info(
				"Block committed",
				"height", c.Header.Height,
				"round", c.Proof.Round,
				"txs", len(receipts),
				"hash", fmt.Sprintf("%x", c.Header.Hash),
			)

			if flags.Blocks > 0 && c.Header.Height >= flags.Blocks {
				cancel()
			}
		}
	}
}

// submitTransfers feeds a steady stream of signed transfers
// between the client accounts into every node's mempool.
func submitTransfers(ctx context.Context, log *slog.Logger, flags demoFlags, nodes []*bnode.Node) {
	nonces := make([]uint64, flags.Clients)

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		from := i % flags.Clients
		to := (i + 1) % flags.Clients
		fromSigner := signerFromSeed(flags.ChainID, uint64(flags.Validators+from))
		toSigner := signerFromSeed(flags.ChainID, uint64(flags.Validators+to))

		tx := btx.Transaction{
			Nonce:    nonces[from],
			To:       bstate.AddressFromPubKey(toSigner.PubKey()),
			Value:    uint256.NewInt(1),
			GasLimit: 21_000,
		}
		if err := tx.Sign(ctx, fromSigner); err != nil {
			log.Warn("Failed to sign demo transfer", "err", err)
			continue
		}
		nonces[from]++

		for _, n := range nodes {
			if err := n.SubmitTx(tx); err != nil {
				log.Warn("Demo transfer rejected", "err", err)
			}
		}
	}
}

// fanoutNetwork delivers every broadcast to every other member,
// holding traffic until all members are registered.
type fanoutNetwork struct {
	mu sync.Mutex

	engines []*bengine.Engine

	started chan struct{}
}

func newFanoutNetwork() *fanoutNetwork {
	return &fanoutNetwork{started: make(chan struct{})}
}

func (n *fanoutNetwork) join() *fanoutLink {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.engines = append(n.engines, nil)
	return &fanoutLink{net: n, idx: len(n.engines) - 1}
}

func (n *fanoutNetwork) register(l *fanoutLink, e *bengine.Engine) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.engines[l.idx] = e
}

func (n *fanoutNetwork) start() {
	close(n.started)
}

func (n *fanoutNetwork) others(idx int) []*bengine.Engine {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]*bengine.Engine, 0, len(n.engines)-1)
	for i, e := range n.engines {
		if i == idx || e == nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

type fanoutLink struct {
	net *fanoutNetwork
	idx int
}

var _ bengine.Broadcaster = (*fanoutLink)(nil)

func (l *fanoutLink) BroadcastProposal(ctx context.Context, p bengine.Proposal) {
	select {
	case <-l.net.started:
	case <-ctx.Done():
		return
	}

	for _, e := range l.net.others(l.idx) {
		e.HandleProposal(ctx, p)
	}
}

func (l *fanoutLink) BroadcastVote(ctx context.Context, v bengine.Vote) {
	select {
	case <-l.net.started:
	case <-ctx.Done():
		return
	}

	for _, e := range l.net.others(l.idx) {
		e.HandleVote(ctx, v)
	}
}
