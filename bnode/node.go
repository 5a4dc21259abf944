package bnode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bachledger/bach/bconsensus"
	"github.com/bachledger/bach/bcrypto"
	"github.com/bachledger/bach/bengine"
	"github.com/bachledger/bach/bexec"
	"github.com/bachledger/bach/bsched"
	"github.com/bachledger/bach/bstate"
	"github.com/bachledger/bach/bstore"
	"github.com/bachledger/bach/btx"
)

// NodeConfig is the collection of values to pass to [NewNode].
type NodeConfig struct {
	ChainID string

	// Signer is this node's validator key;
	// nil runs a non-voting observer.
	Signer bcrypto.Signer

	ValidatorSet bconsensus.ValidatorSet

	Store *bstore.LevelDBStore

	Broadcaster bengine.Broadcaster

	// Timer overrides the production round timer; mainly for tests.
	Timer bengine.RoundTimer

	// Timeouts configures the production round timer
	// when Timer is nil.
	Timeouts bengine.ExponentialTimeoutStrategy

	GenesisAlloc []GenesisAccount

	// Scheduler tuning; zero values use the scheduler defaults.
	Workers     int
	MaxBlockTxs int

	MempoolLimit int

	// MinBlockInterval paces an idle chain.
	// It must stay below the proposal timeout,
	// or peers will vote nil before the proposer finishes waiting.
	MinBlockInterval time.Duration
}

// Node wires the state database, parallel scheduler, mempool,
// storage, and consensus engine into one running chain participant.
type Node struct {
	log *slog.Logger

	db    *bstate.StateDB
	pool  *Mempool
	sched *bsched.Scheduler

	driver *ChainDriver

	timer  *bengine.StandardRoundTimer
	engine *bengine.Engine
}

// NewNode assembles and starts a node.
// The node runs until ctx is cancelled.
func NewNode(ctx context.Context, log *slog.Logger, cfg NodeConfig) (*Node, error) {
	if cfg.Store == nil {
		return nil, errors.New("NodeConfig.Store may not be nil")
	}
	if cfg.Broadcaster == nil {
		return nil, errors.New("NodeConfig.Broadcaster may not be nil")
	}

	db := bstate.NewStateDB(cfg.Store)
	pool := NewMempool(cfg.MempoolLimit)

	sched := bsched.NewScheduler(log.With("sys", "scheduler"), bsched.SchedulerConfig{
		StateDB:  db,
		Executor: bexec.TransferExecutor{},

		Workers: cfg.Workers,
	})

	driver, err := NewChainDriver(log.With("sys", "driver"), ChainDriverConfig{
		StateDB: db,

		Store: cfg.Store,

		Scheduler: sched,

		Mempool: pool,

		GenesisAlloc: cfg.GenesisAlloc,

		MaxBlockTxs: cfg.MaxBlockTxs,

		MinBlockInterval: cfg.MinBlockInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build chain driver: %w", err)
	}

	n := &Node{
		log: log,

		db:    db,
		pool:  pool,
		sched: sched,

		driver: driver,
	}

	timer := cfg.Timer
	if timer == nil {
		n.timer = bengine.NewStandardRoundTimer(ctx, cfg.Timeouts)
		timer = n.timer
	}

	var prevHash []byte
	var prevProof bconsensus.CommitProof
	if driver.InitialHeight() > 1 {
		ch, ok, err := cfg.Store.CommittedHeader(driver.InitialHeight() - 1)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("missing committed header at height %d", driver.InitialHeight()-1)
		}
		prevHash = ch.Header.Hash
		prevProof = ch.Proof
	}

	n.engine, err = bengine.NewEngine(ctx, log.With("sys", "engine"), bengine.EngineConfig{
		ChainID: cfg.ChainID,

		Signer: cfg.Signer,

		ValidatorSet: cfg.ValidatorSet,

		HashScheme:      bconsensus.BlakeHashScheme{},
		SignatureScheme: bconsensus.StandardSignatureScheme{ChainID: cfg.ChainID},

		Driver:      driver,
		Broadcaster: cfg.Broadcaster,
		Timer:       timer,

		InitialHeight: driver.InitialHeight(),

		GenesisPrevBlockHash:   prevHash,
		GenesisPrevCommitProof: prevProof,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consensus engine: %w", err)
	}

	return n, nil
}

// SubmitTx admits a transaction into this node's mempool.
// It spreads through the network only by being proposed in a block.
func (n *Node) SubmitTx(tx btx.Transaction) error {
	return n.pool.Add(tx)
}

// Engine exposes the consensus engine,
// primarily for its commit and evidence channels.
func (n *Node) Engine() *bengine.Engine {
	return n.engine
}

// Driver exposes the chain driver for execution results.
func (n *Node) Driver() *ChainDriver {
	return n.driver
}

// StateDB exposes the node's state database for reads.
func (n *Node) StateDB() *bstate.StateDB {
	return n.db
}

// Mempool exposes the node's transaction pool.
func (n *Node) Mempool() *Mempool {
	return n.pool
}

// Wait blocks until the node's background goroutines have exited.
func (n *Node) Wait() {
	n.engine.Wait()
	if n.timer != nil {
		n.timer.Wait()
	}
}
