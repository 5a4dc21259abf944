package bengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bachledger/bach/bconsensus"
	"github.com/bachledger/bach/bcrypto"
	"github.com/bachledger/bach/internal/glog"
)

// EngineConfig is the collection of values to pass to [NewEngine].
type EngineConfig struct {
	ChainID string

	// Signer is this node's validator key.
	// A nil signer runs the engine as a non-voting observer.
	Signer bcrypto.Signer

	ValidatorSet bconsensus.ValidatorSet

	HashScheme      bconsensus.HashScheme
	SignatureScheme bconsensus.SignatureScheme

	Driver      Driver
	Broadcaster Broadcaster
	Timer       RoundTimer

	// InitialHeight defaults to 1.
	InitialHeight uint64

	// Linkage for the first proposed block:
	// the previous block's hash, and, when resuming
	// past the first height, its commit proof.
	GenesisPrevBlockHash   []byte
	GenesisPrevCommitProof bconsensus.CommitProof
}

// roundState is the accumulated consensus input for one round.
type roundState struct {
	prevotes   *bconsensus.VoteSet
	precommits *bconsensus.VoteSet

	// Validated proposal content, keyed by block hash.
	blocks map[string]bconsensus.Block

	// The proposal received for this round, held until
	// the state machine enters the round.
	proposal *Proposal

	// How much of each set's evidence has been surfaced.
	prevoteEvCount, precommitEvCount int

	ownPrevoted, ownPrecommitted bool
}

// Engine is the consensus state machine.
// All state transitions happen on one internal goroutine;
// inbound messages arrive through Handle methods,
// which only enqueue.
type Engine struct {
	log *slog.Logger

	chainID string

	signer  bcrypto.Signer
	selfIdx int

	vals bconsensus.ValidatorSet

	hashScheme bconsensus.HashScheme
	sigScheme  bconsensus.SignatureScheme

	driver Driver
	b      Broadcaster
	timer  RoundTimer

	// Proposals and votes share one queue so that messages
	// from one peer are handled in the order they were sent.
	msgCh chan any

	commitCh   chan bconsensus.CommittedHeader
	evidenceCh chan bconsensus.DoubleSignEvidence

	// Kernel state; only the kernel goroutine touches these.
	height uint64
	round  uint32
	step   Step

	prevHash  []byte
	prevProof bconsensus.CommitProof

	lockedHash  string
	lockedRound int32

	rounds map[uint32]*roundState

	// Messages for the next height, held until this height commits.
	// Senders slightly ahead of us are normal near a commit;
	// without this buffer their first messages of the new height
	// would be lost, as consensus messages are never re-sent.
	pendingNext []any

	// Deferred work drained by the kernel loop.
	// Transitions schedule the next round here instead of calling
	// enterRound directly, so the kernel's stack depth stays
	// constant no matter how many heights it commits.
	pendingRound *uint32
	replayQueue  []any

	timerElapsed <-chan struct{}
	timerCancel  func()
	timerStep    Step

	done chan struct{}
}

// NewEngine validates cfg and starts the consensus goroutine,
// which runs until ctx is cancelled.
func NewEngine(ctx context.Context, log *slog.Logger, cfg EngineConfig) (*Engine, error) {
	if len(cfg.ValidatorSet.Validators) == 0 {
		return nil, errors.New("EngineConfig.ValidatorSet may not be empty")
	}
	if cfg.HashScheme == nil || cfg.SignatureScheme == nil {
		return nil, errors.New("EngineConfig requires both a hash scheme and a signature scheme")
	}
	if cfg.Driver == nil {
		return nil, errors.New("EngineConfig.Driver may not be nil")
	}
	if cfg.Broadcaster == nil {
		return nil, errors.New("EngineConfig.Broadcaster may not be nil")
	}
	if cfg.Timer == nil {
		return nil, errors.New("EngineConfig.Timer may not be nil")
	}

	height := cfg.InitialHeight
	if height == 0 {
		height = 1
	}

	selfIdx := -1
	if cfg.Signer != nil {
		selfIdx = cfg.ValidatorSet.ValidatorIndex(cfg.Signer.PubKey())
		if selfIdx < 0 {
			return nil, errors.New("EngineConfig.Signer is not in the validator set")
		}
	}

	e := &Engine{
		log: log,

		chainID: cfg.ChainID,

		signer:  cfg.Signer,
		selfIdx: selfIdx,

		vals: cfg.ValidatorSet,

		hashScheme: cfg.HashScheme,
		sigScheme:  cfg.SignatureScheme,

		driver: cfg.Driver,
		b:      cfg.Broadcaster,
		timer:  cfg.Timer,

		msgCh: make(chan any, 256),

		commitCh:   make(chan bconsensus.CommittedHeader, 32),
		evidenceCh: make(chan bconsensus.DoubleSignEvidence, 32),

		height: height,

		prevHash:  cfg.GenesisPrevBlockHash,
		prevProof: cfg.GenesisPrevCommitProof,

		lockedRound: -1,

		rounds: make(map[uint32]*roundState),

		done: make(chan struct{}),
	}

	go e.kernel(ctx)

	return e, nil
}

// Wait blocks until the consensus goroutine has exited.
func (e *Engine) Wait() {
	<-e.done
}

// HandleProposal enqueues a proposal received from the network.
func (e *Engine) HandleProposal(ctx context.Context, p Proposal) {
	select {
	case e.msgCh <- p:
	case <-ctx.Done():
	}
}

// HandleVote enqueues a vote received from the network.
func (e *Engine) HandleVote(ctx context.Context, v Vote) {
	select {
	case e.msgCh <- v:
	case <-ctx.Done():
	}
}

// Commits delivers every header the engine finalizes, in order.
// The channel is buffered; if the receiver falls far behind,
// commits are dropped from the channel (never from the chain).
func (e *Engine) Commits() <-chan bconsensus.CommittedHeader {
	return e.commitCh
}

// Evidence delivers double-sign evidence as the vote sets detect it.
func (e *Engine) Evidence() <-chan bconsensus.DoubleSignEvidence {
	return e.evidenceCh
}

func (e *Engine) kernel(ctx context.Context) {
	defer close(e.done)

	e.scheduleRound(0)

	for {
		e.advance(ctx)

		select {
		case <-ctx.Done():
			e.cancelTimer()
			e.log.Info(
				"Consensus engine stopping",
				"cause", context.Cause(ctx),
				"height", e.height,
				"round", e.round,
				"step", e.step,
			)
			return

		case m := <-e.msgCh:
			e.handleMessage(ctx, m)

		case <-e.timerElapsed:
			e.handleTimeout(ctx)
		}
	}
}

// scheduleRound queues entry into (e.height, round).
// The kernel drains it through advance;
// a later scheduling supersedes an undrained one.
func (e *Engine) scheduleRound(round uint32) {
	r := round
	e.pendingRound = &r
}

// advance drains the deferred-work queues:
// scheduled round entries first, then replayed messages.
// Each drained item may schedule more work,
// so this loops until both queues are empty or ctx ends.
func (e *Engine) advance(ctx context.Context) {
	for ctx.Err() == nil {
		if e.pendingRound != nil {
			r := *e.pendingRound
			e.pendingRound = nil
			e.enterRound(ctx, r)
			continue
		}

		if len(e.replayQueue) > 0 {
			m := e.replayQueue[0]
			e.replayQueue = e.replayQueue[1:]
			e.handleMessage(ctx, m)
			continue
		}

		return
	}
}

func (e *Engine) handleMessage(ctx context.Context, m any) {
	switch m := m.(type) {
	case Proposal:
		e.handleProposal(ctx, m)
	case Vote:
		e.handleVote(ctx, m)
	default:
		panic(fmt.Errorf("BUG: unhandled message type %T", m))
	}
}

// maxPendingNext bounds the next-height buffer.
const maxPendingNext = 256

// holdForNextHeight buffers a message one height ahead of us.
func (e *Engine) holdForNextHeight(m any) {
	if len(e.pendingNext) >= maxPendingNext {
		e.log.Warn("Next-height buffer full; dropping message", "height", e.height)
		return
	}
	e.pendingNext = append(e.pendingNext, m)
}

func (e *Engine) roundState(round uint32) *roundState {
	rs := e.rounds[round]
	if rs == nil {
		rs = &roundState{
			prevotes:   bconsensus.NewVoteSet(bconsensus.KindPrevote, e.height, round, e.vals, e.sigScheme),
			precommits: bconsensus.NewVoteSet(bconsensus.KindPrecommit, e.height, round, e.vals, e.sigScheme),
			blocks:     make(map[string]bconsensus.Block),
		}
		e.rounds[round] = rs
	}
	return rs
}

func (e *Engine) cancelTimer() {
	if e.timerCancel != nil {
		e.timerCancel()
		e.timerCancel = nil
		e.timerElapsed = nil
	}
}

func (e *Engine) startTimer(elapsed <-chan struct{}, cancel func(), step Step) {
	e.cancelTimer()
	e.timerElapsed = elapsed
	e.timerCancel = cancel
	e.timerStep = step
}

// enterRound moves the state machine to (e.height, round),
// proposing if this node is the scheduled proposer,
// and otherwise arming the proposal timer.
func (e *Engine) enterRound(ctx context.Context, round uint32) {
	e.cancelTimer()
	e.round = round
	e.step = StepPropose

	rs := e.roundState(round)

	glog.HR(e.log, e.height, round).Debug(
		"Entering round",
		"proposer", bconsensus.ProposerIndex(e.vals, e.height, round),
		"self", e.selfIdx,
	)

	if e.selfIdx >= 0 && bconsensus.ProposerIndex(e.vals, e.height, round) == e.selfIdx {
		e.propose(ctx, rs)
	} else if rs.proposal != nil {
		e.considerProposal(ctx, rs, *rs.proposal)
	} else {
		ch, cancel := e.timer.ProposalTimer(ctx, e.height, round)
		e.startTimer(ch, cancel, StepPropose)
	}

	// Votes may have been buffered for this round before we entered it.
	e.checkPrevotes(ctx)
	e.checkPrecommits(ctx)
}

// propose builds, signs, broadcasts, and prevotes this node's
// own proposal for the current round.
func (e *Engine) propose(ctx context.Context, rs *roundState) {
	data, err := e.driver.PrepareBlockData(ctx, e.height)
	if err != nil {
		glog.HRE(e.log, e.height, e.round, err).Warn("Failed to prepare block data; prevoting nil")
		e.castPrevote(ctx, "")
		return
	}

	txRoot, err := bconsensus.TxRoot(data.Txs)
	if err != nil {
		glog.HRE(e.log, e.height, e.round, err).Warn("Failed to derive tx root; prevoting nil")
		e.castPrevote(ctx, "")
		return
	}

	h := bconsensus.Header{
		PrevBlockHash: e.prevHash,
		Height:        e.height,

		PrevCommitProof: e.prevProof,

		ValidatorSet:     e.vals,
		NextValidatorSet: e.vals,

		TxRoot: txRoot,

		StateRoot:   data.StateRoot,
		ReceiptRoot: data.ReceiptRoot,
	}
	h.Hash, err = e.hashScheme.Header(h)
	if err != nil {
		glog.HRE(e.log, e.height, e.round, err).Error("Failed to hash own header; prevoting nil")
		e.castPrevote(ctx, "")
		return
	}

	signContent, err := bconsensus.ProposalSignBytes(h, e.round, e.sigScheme)
	if err != nil {
		glog.HRE(e.log, e.height, e.round, err).Error("Failed to build proposal sign bytes; prevoting nil")
		e.castPrevote(ctx, "")
		return
	}
	sig, err := e.signer.Sign(ctx, signContent)
	if err != nil {
		glog.HRE(e.log, e.height, e.round, err).Error("Failed to sign own proposal; prevoting nil")
		e.castPrevote(ctx, "")
		return
	}

	p := Proposal{
		ProposedHeader: bconsensus.ProposedHeader{
			Header: h,
			Round:  e.round,

			ProposerPubKey: e.signer.PubKey(),
			Signature:      sig,
		},
		Txs: data.Txs,
	}

	rs.blocks[string(h.Hash)] = bconsensus.Block{Header: h, Txs: data.Txs}
	rs.proposal = &p

	e.b.BroadcastProposal(ctx, p)
	e.castPrevote(ctx, string(h.Hash))
}

// handleProposal verifies a network proposal and stores it;
// if it is for the current round's propose step,
// the engine prevotes on it immediately.
func (e *Engine) handleProposal(ctx context.Context, p Proposal) {
	h := p.Header

	if h.Height != e.height {
		if h.Height == e.height+1 {
			e.holdForNextHeight(p)
			return
		}
		e.log.Debug(
			"Dropping proposal at different height",
			"want", e.height, "got", h.Height,
		)
		return
	}

	if !bytes.Equal(h.PrevBlockHash, e.prevHash) {
		glog.HR(e.log, h.Height, p.Round).Warn("Dropping proposal not building on the committed chain")
		return
	}

	rs := e.roundState(p.Round)
	if rs.proposal != nil {
		// One proposal per round; duplicates and competitors dropped.
		return
	}

	expIdx := bconsensus.ProposerIndex(e.vals, h.Height, p.Round)
	if p.ProposerPubKey == nil || !e.vals.Validators[expIdx].PubKey.Equal(p.ProposerPubKey) {
		glog.HR(e.log, h.Height, p.Round).Warn("Dropping proposal from out-of-turn proposer")
		return
	}

	wantHash, err := e.hashScheme.Header(h)
	if err != nil {
		glog.HRE(e.log, h.Height, p.Round, err).Warn("Failed to hash proposed header")
		return
	}
	if !bytes.Equal(wantHash, h.Hash) {
		glog.HR(e.log, h.Height, p.Round).Warn(
			"Dropping proposal with wrong header hash",
			"want", glog.Hex(wantHash), "got", glog.Hex(h.Hash),
		)
		return
	}

	txRoot, err := bconsensus.TxRoot(p.Txs)
	if err != nil || !bytes.Equal(txRoot, h.TxRoot) {
		glog.HR(e.log, h.Height, p.Round).Warn("Dropping proposal whose transactions do not match its tx root")
		return
	}

	signContent, err := bconsensus.ProposalSignBytes(h, p.Round, e.sigScheme)
	if err != nil {
		glog.HRE(e.log, h.Height, p.Round, err).Warn("Failed to build proposal sign bytes")
		return
	}
	if !p.ProposerPubKey.Verify(signContent, p.Signature) {
		glog.HR(e.log, h.Height, p.Round).Warn("Dropping proposal with invalid signature")
		return
	}

	rs.proposal = &p
	rs.blocks[string(h.Hash)] = bconsensus.Block{Header: h, Txs: p.Txs}

	if p.Round == e.round && e.step == StepPropose {
		e.considerProposal(ctx, rs, p)
		return
	}

	// The block may unblock a quorum that was waiting on content,
	// in this round or in one this node has already left behind.
	e.checkPrevotes(ctx)
	e.checkPrecommitsAt(ctx, p.Round)
}

// considerProposal decides this node's prevote on a verified proposal.
func (e *Engine) considerProposal(ctx context.Context, rs *roundState, p Proposal) {
	hash := string(p.Header.Hash)

	if e.lockedHash != "" && e.lockedHash != hash {
		glog.HR(e.log, e.height, e.round).Debug("Locked on a different block; prevoting nil")
		e.castPrevote(ctx, "")
		return
	}

	if err := e.driver.ValidateBlock(ctx, rs.blocks[hash]); err != nil {
		glog.HRE(e.log, e.height, e.round, err).Warn("Proposed block failed validation; prevoting nil")
		e.castPrevote(ctx, "")
		return
	}

	e.castPrevote(ctx, hash)
}

func (e *Engine) castPrevote(ctx context.Context, blockHash string) {
	e.cancelTimer()
	e.step = StepPrevote

	rs := e.roundState(e.round)
	if e.selfIdx >= 0 && !rs.ownPrevoted {
		rs.ownPrevoted = true
		e.castVote(ctx, bconsensus.KindPrevote, blockHash)
	}

	e.checkPrevotes(ctx)
}

func (e *Engine) castPrecommit(ctx context.Context, blockHash string) {
	e.cancelTimer()
	e.step = StepPrecommit

	rs := e.roundState(e.round)
	if e.selfIdx >= 0 && !rs.ownPrecommitted {
		rs.ownPrecommitted = true
		e.castVote(ctx, bconsensus.KindPrecommit, blockHash)
	}

	e.checkPrecommits(ctx)
}

func (e *Engine) castVote(ctx context.Context, kind bconsensus.VoteKind, blockHash string) {
	vt := bconsensus.VoteTarget{Height: e.height, Round: e.round, BlockHash: blockHash}

	var signContent []byte
	var err error
	if kind == bconsensus.KindPrevote {
		signContent, err = bconsensus.PrevoteSignBytes(vt, e.sigScheme)
	} else {
		signContent, err = bconsensus.PrecommitSignBytes(vt, e.sigScheme)
	}
	if err != nil {
		panic(fmt.Errorf("BUG: failed to build own %s sign bytes: %w", kind, err))
	}

	sig, err := e.signer.Sign(ctx, signContent)
	if err != nil {
		glog.HRE(e.log, e.height, e.round, err).Error("Failed to sign own vote", "kind", kind)
		return
	}

	v := Vote{
		Kind:   kind,
		Target: vt,

		ValidatorIndex: e.selfIdx,
		Signature:      sig,
	}

	e.addVote(v)
	e.b.BroadcastVote(ctx, v)
}

// handleVote verifies and records a vote, then re-evaluates
// the state machine, possibly skipping ahead to a later round
// where at least a byzantine minority is already voting.
func (e *Engine) handleVote(ctx context.Context, v Vote) {
	if v.Target.Height != e.height {
		if v.Target.Height == e.height+1 {
			e.holdForNextHeight(v)
		}
		return
	}

	e.addVote(v)

	if v.Target.Round > e.round {
		rs := e.roundState(v.Target.Round)
		minority := bconsensus.ByzantineMinority(e.vals.TotalPower())
		if rs.prevotes.VotedPower() >= minority || rs.precommits.VotedPower() >= minority {
			glog.HR(e.log, e.height, v.Target.Round).Debug("Skipping ahead to active later round")
			e.scheduleRound(v.Target.Round)
			return
		}
	}

	if v.Target.Round == e.round {
		switch v.Kind {
		case bconsensus.KindPrevote:
			e.checkPrevotes(ctx)
		case bconsensus.KindPrecommit:
			e.checkPrecommits(ctx)
		}
		return
	}

	// A precommit quorum completing in an earlier round still commits.
	if v.Kind == bconsensus.KindPrecommit && v.Target.Round < e.round {
		e.checkPrecommitsAt(ctx, v.Target.Round)
	}
}

// addVote records v in the right vote set and surfaces
// any new double-sign evidence.
func (e *Engine) addVote(v Vote) {
	rs := e.roundState(v.Target.Round)

	set := rs.prevotes
	evCount := &rs.prevoteEvCount
	if v.Kind == bconsensus.KindPrecommit {
		set = rs.precommits
		evCount = &rs.precommitEvCount
	}

	err := set.AddVote(v.ValidatorIndex, v.Target.BlockHash, v.Signature)

	ev := set.Evidence()
	for _, dup := range ev[*evCount:] {
		glog.HR(e.log, e.height, v.Target.Round).Warn("Detected conflicting vote", "evidence", dup.String())
		select {
		case e.evidenceCh <- dup:
		default:
		}
	}
	*evCount = len(ev)

	if err != nil {
		e.log.Debug("Dropped vote", "err", err, "kind", v.Kind, "validator", v.ValidatorIndex)
	}
}

func (e *Engine) checkPrevotes(ctx context.Context) {
	if e.step != StepPrevote && e.step != StepPrevoteWait {
		return
	}

	rs := e.roundState(e.round)

	if hash, ok := rs.prevotes.QuorumBlock(); ok {
		if hash == "" {
			e.castPrecommit(ctx, "")
			return
		}

		if _, haveBlock := rs.blocks[hash]; haveBlock {
			e.lockedHash = hash
			e.lockedRound = int32(e.round)
			glog.HR(e.log, e.height, e.round).Debug("Locked on block", "hash", glog.Hex(hash))
			e.castPrecommit(ctx, hash)
			return
		}
		// A quorum for a block we have not seen;
		// wait for the proposal to arrive before precommitting.
	}

	if e.step == StepPrevote && rs.prevotes.HasQuorumAny() {
		ch, cancel := e.timer.PrevoteDelayTimer(ctx, e.height, e.round)
		e.startTimer(ch, cancel, StepPrevoteWait)
		e.step = StepPrevoteWait
	}
}

func (e *Engine) checkPrecommits(ctx context.Context) {
	if e.step == StepCommit {
		return
	}
	e.checkPrecommitsAt(ctx, e.round)
}

func (e *Engine) checkPrecommitsAt(ctx context.Context, round uint32) {
	rs := e.roundState(round)

	if hash, ok := rs.precommits.QuorumBlock(); ok {
		if hash == "" {
			if round == e.round {
				e.scheduleRound(e.round + 1)
			}
			return
		}

		if block, haveBlock := rs.blocks[hash]; haveBlock {
			e.commit(ctx, rs, block)
		}
		return
	}

	if round == e.round && e.step == StepPrecommit && rs.precommits.HasQuorumAny() {
		ch, cancel := e.timer.PrecommitDelayTimer(ctx, e.height, e.round)
		e.startTimer(ch, cancel, StepPrecommitWait)
		e.step = StepPrecommitWait
	}
}

// commit finalizes the block through the driver
// and advances the state machine to the next height.
func (e *Engine) commit(ctx context.Context, rs *roundState, block bconsensus.Block) {
	e.cancelTimer()
	e.step = StepCommit

	proof := rs.precommits.CommitProof()

	if err := e.driver.CommitBlock(ctx, block, proof); err != nil {
		// The chain cannot advance past a failed finalization.
		glog.HRE(e.log, e.height, e.round, err).Error("Failed to finalize committed block; halting height")
		return
	}

	glog.HR(e.log, e.height, e.round).Info(
		"Committed block",
		"hash", glog.Hex(block.Header.Hash),
		"txs", len(block.Txs),
	)

	committed := bconsensus.CommittedHeader{Header: block.Header, Proof: proof}
	select {
	case e.commitCh <- committed:
	default:
		e.log.Warn("Commit channel full; dropping notification", "height", e.height)
	}

	e.height++
	e.prevHash = block.Header.Hash
	e.prevProof = proof
	e.lockedHash = ""
	e.lockedRound = -1
	e.rounds = make(map[uint32]*roundState)

	e.scheduleRound(0)

	if len(e.pendingNext) > 0 {
		e.replayQueue = append(e.replayQueue, e.pendingNext...)
		e.pendingNext = nil
	}
}

func (e *Engine) handleTimeout(ctx context.Context) {
	e.timerElapsed = nil
	e.timerCancel = nil

	switch e.timerStep {
	case StepPropose:
		glog.HR(e.log, e.height, e.round).Debug("Proposal timed out; prevoting nil")
		e.castPrevote(ctx, "")

	case StepPrevoteWait:
		glog.HR(e.log, e.height, e.round).Debug("Prevote delay elapsed; precommitting nil")
		e.castPrecommit(ctx, "")

	case StepPrecommitWait:
		glog.HR(e.log, e.height, e.round).Debug("Precommit delay elapsed; advancing round")
		e.scheduleRound(e.round + 1)

	default:
		panic(fmt.Errorf("BUG: timeout for unexpected step %s", e.timerStep))
	}
}
