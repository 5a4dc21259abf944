// Command bachd runs bach chain nodes:
// a persistent single-validator node, or an in-process
// demo network of several validators.
package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/blake2b"

	"github.com/bachledger/bach/bcrypto"
)

func main() {
	if err := mainE(); err != nil {
		os.Exit(1)
	}
}

func mainE() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	root := NewRootCmd(logger)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Info("Failure", "err", err)
		os.Stderr.Sync()
		return err
	}

	return nil
}

func NewRootCmd(log *slog.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use: "bachd SUBCOMMAND",

		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},

		Long: `bachd runs bach chain nodes.

The chain executes signed value transfers through a parallel
scheduler whose committed state is identical to serial execution,
and finalizes blocks with a round-based voting protocol.
`,
	}

	rootCmd.AddCommand(
		newRunCmd(log),
		newDemoCmd(log),
	)

	return rootCmd
}

// signerFromSeed derives a validator key deterministically
// from the chain ID and a numeric seed.
// This is for local networks only; the keys are not secret.
func signerFromSeed(chainID string, seed uint64) bcrypto.Ed25519Signer {
	sum := blake2b.Sum256(fmt.Appendf(nil, "bachd:insecure-validator-key:%s:%d", chainID, seed))
	return bcrypto.NewEd25519Signer(ed25519.NewKeyFromSeed(sum[:]))
}
