package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bachledger/bach/bcodec/bjson"
	"github.com/bachledger/bach/bconsensus"
	"github.com/bachledger/bach/bcrypto"
	"github.com/bachledger/bach/bengine"
	"github.com/bachledger/bach/bnode"
	"github.com/bachledger/bach/bstore"
)

type runFlags struct {
	DataDir string
	ChainID string
	Seed    uint64
	Workers int
}

func addRunFlags(fs *pflag.FlagSet, f *runFlags) {
	fs.StringVar(&f.DataDir, "data-dir", "./bachd-data", "directory for the LevelDB chain database")
	fs.StringVar(&f.ChainID, "chain-id", "bach-local", "chain identifier bound into every signature")
	fs.Uint64Var(&f.Seed, "seed", 0, "deterministic validator key seed (local use only)")
	fs.IntVar(&f.Workers, "workers", 0, "scheduler worker count; 0 uses the default")
}

func newRunCmd(log *slog.Logger) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use: "run",

		Short: "Run a persistent single-validator node",

		Long: `run starts a single-validator node whose chain database
persists under --data-dir, so stopping and restarting the process
resumes the chain where it left off.
`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNode(cmd.Context(), log, flags)
		},
	}

	addRunFlags(cmd.Flags(), &flags)

	return cmd
}

func newCryptoRegistry() *bcrypto.Registry {
	reg := new(bcrypto.Registry)
	bcrypto.RegisterEd25519(reg)
	return reg
}

func runNode(ctx context.Context, log *slog.Logger, flags runFlags) error {
	codec := bjson.MarshalCodec{CryptoRegistry: newCryptoRegistry()}

	store, err := bstore.OpenLevelDB(flags.DataDir, codec)
	if err != nil {
		return err
	}
	defer store.Close()

	signer := signerFromSeed(flags.ChainID, flags.Seed)

	valSet, err := bconsensus.NewValidatorSet(
		[]bconsensus.Validator{{PubKey: signer.PubKey(), Power: 1}},
		bconsensus.BlakeHashScheme{},
	)
	if err != nil {
		return fmt.Errorf("failed to build validator set: %w", err)
	}

	node, err := bnode.NewNode(ctx, log, bnode.NodeConfig{
		ChainID: flags.ChainID,

		Signer:       signer,
		ValidatorSet: valSet,

		Store: store,

		Broadcaster: nullBroadcaster{},

		Workers: flags.Workers,

		MinBlockInterval: time.Second,
	})
	if err != nil {
		return err
	}

	log.Info(
		"Node running",
		"chain_id", flags.ChainID,
		"data_dir", flags.DataDir,
	)

	for {
		select {
		case <-ctx.Done():
			node.Wait()
			log.Info("Node stopped")
			return nil

		case c := <-node.Engine().Commits():
			log.Info(
				"Block committed",
				"height", c.Header.Height,
				"hash", fmt.Sprintf("%x", c.Header.Hash),
			)
		}
	}
}

// nullBroadcaster drops all outbound messages;
// a single-validator node has no peers to reach.
type nullBroadcaster struct{}

func (nullBroadcaster) BroadcastProposal(context.Context, bengine.Proposal) {}
func (nullBroadcaster) BroadcastVote(context.Context, bengine.Vote)        {}
