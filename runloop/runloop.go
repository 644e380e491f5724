// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package runloop is the signer's orchestrator: a single event loop
// that merges chain observation, proposal receipt, and peer-vote
// polling into one ordered queue, sequences the subsystems, and
// enforces the bounded waits on deferred validations and quorum
// collection. It owns all state mutation; the pollers only enqueue.
package runloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/gosigner/bchain"
	"github.com/blinklabs-io/gosigner/chainstate"
	"github.com/blinklabs-io/gosigner/event"
	"github.com/blinklabs-io/gosigner/msgstore"
	"github.com/blinklabs-io/gosigner/signerset"
	"github.com/blinklabs-io/gosigner/sortition"
	"github.com/blinklabs-io/gosigner/stacks"
	"github.com/blinklabs-io/gosigner/validation"
	"github.com/blinklabs-io/gosigner/votecoord"
	"github.com/prometheus/client_golang/prometheus"
)

const StateChangeEventType event.EventType = "runloop.state"

// State is the externally observable signer state
type State uint8

const (
	StateIdle State = iota
	StateTenureActive
	StateAwaitingQuorum
	StateTenureExtending
	StateHandoffPending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTenureActive:
		return "tenure-active"
	case StateAwaitingQuorum:
		return "awaiting-quorum"
	case StateTenureExtending:
		return "tenure-extending"
	case StateHandoffPending:
		return "handoff-pending"
	default:
		return fmt.Sprintf("unknown (%d)", s)
	}
}

// inputKind tags entries on the merged event queue
type inputKind uint8

const (
	inputBurnBlock inputKind = iota
	inputProposal
	inputPeerVote
	inputTick
)

// input is the tagged union consumed by the loop
type input struct {
	burnBlock stacks.BurnBlock
	proposal  stacks.BlockProposal
	vote      stacks.Vote
	kind      inputKind
}

// deferredProposal is a proposal awaiting re-validation, bounded by
// its deadline
type deferredProposal struct {
	proposal stacks.BlockProposal
	deadline time.Time
	reason   string
}

// quorumWait bounds how long we wait on peers for one block hash
type quorumWait struct {
	deadline time.Time
	key      stacks.ProposalKey
}

// decidedEntry remembers the outcome of a handled proposal so
// re-deliveries are ignored until the entry is replayed or evicted
type decidedEntry struct {
	hash       stacks.BlockHash
	burnHeight uint64
}

// pendingVote is a decided vote whose slot publish has not succeeded
// yet; the tick retries it with the identical decision
type pendingVote struct {
	proposal stacks.BlockProposal
	decision stacks.Decision
}

type Config struct {
	Logger      *slog.Logger
	EventBus    *event.EventBus
	Store       *chainstate.Store
	Tracker     *sortition.Tracker
	Registry    *signerset.Registry
	Validator   *validation.Validator
	Coordinator *votecoord.Coordinator
	Chain       bchain.Client
	Votes       *msgstore.Votes
	// DeferTimeout bounds how long a deferred proposal may wait before
	// converting to a timeout rejection
	DeferTimeout time.Duration
	// QuorumTimeout bounds how long we wait on peers before giving up
	// on quorum for a block and letting the tenure proceed
	QuorumTimeout time.Duration
	// BurnPollInterval is the burn tip polling interval
	BurnPollInterval time.Duration
	// VotePollInterval is the peer-vote polling interval
	VotePollInterval time.Duration
	// TickInterval drives deadline scans
	TickInterval time.Duration
	// EvictionDepth is how many burn blocks of per-proposal bookkeeping
	// stay in memory behind the current burn height; older entries with
	// terminal persisted results are evicted
	EvictionDepth uint64
	PromRegistry  prometheus.Registerer
	// QueueSize is the merged event queue capacity
	QueueSize int
}

// StateMachine sequences all signer subsystems from one goroutine
type StateMachine struct {
	logger      *slog.Logger
	eventBus    *event.EventBus
	store       *chainstate.Store
	tracker     *sortition.Tracker
	registry    *signerset.Registry
	validator   *validation.Validator
	coordinator *votecoord.Coordinator
	chain       bchain.Client
	votes       *msgstore.Votes
	metrics     *loopMetrics

	deferTimeout     time.Duration
	quorumTimeout    time.Duration
	burnPollInterval time.Duration
	votePollInterval time.Duration
	tickInterval     time.Duration
	evictionDepth    uint64

	inputCh  chan input
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	stateMu sync.RWMutex
	state   State

	deferred       map[stacks.ProposalKey]*deferredProposal
	quorumWaits    map[stacks.BlockHash]*quorumWait
	decided        map[stacks.ProposalKey]decidedEntry
	pendingPublish map[stacks.ProposalKey]*pendingVote
}

func New(cfg *Config) *StateMachine {
	s := &StateMachine{
		logger:           cfg.Logger,
		eventBus:         cfg.EventBus,
		store:            cfg.Store,
		tracker:          cfg.Tracker,
		registry:         cfg.Registry,
		validator:        cfg.Validator,
		coordinator:      cfg.Coordinator,
		chain:            cfg.Chain,
		votes:            cfg.Votes,
		deferTimeout:     cfg.DeferTimeout,
		quorumTimeout:    cfg.QuorumTimeout,
		burnPollInterval: cfg.BurnPollInterval,
		votePollInterval: cfg.VotePollInterval,
		tickInterval:     cfg.TickInterval,
		evictionDepth:    cfg.EvictionDepth,
		state:            StateIdle,
		deferred:         make(map[stacks.ProposalKey]*deferredProposal),
		quorumWaits:      make(map[stacks.BlockHash]*quorumWait),
		decided:          make(map[stacks.ProposalKey]decidedEntry),
		pendingPublish:   make(map[stacks.ProposalKey]*pendingVote),
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if s.deferTimeout == 0 {
		s.deferTimeout = 30 * time.Second
	}
	if s.quorumTimeout == 0 {
		s.quorumTimeout = 60 * time.Second
	}
	if s.burnPollInterval == 0 {
		s.burnPollInterval = 5 * time.Second
	}
	if s.votePollInterval == 0 {
		s.votePollInterval = 2 * time.Second
	}
	if s.tickInterval == 0 {
		s.tickInterval = time.Second
	}
	if s.evictionDepth == 0 {
		s.evictionDepth = 100
	}
	queueSize := cfg.QueueSize
	if queueSize == 0 {
		queueSize = 256
	}
	s.inputCh = make(chan input, queueSize)
	if cfg.PromRegistry != nil {
		s.initMetrics(cfg.PromRegistry)
	}
	if view, ok := s.tracker.CurrentView(); ok {
		if view.Empty() {
			s.state = StateTenureExtending
		} else {
			s.state = StateTenureActive
		}
	}
	return s
}

// Start launches the pollers and the event loop
func (s *StateMachine) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(4)
	go s.loop(ctx)
	go s.pollBurnChain(ctx)
	go s.pollVotes(ctx)
	go s.tick(ctx)
}

// Stop shuts down the pollers and drains the loop
func (s *StateMachine) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// CurrentState returns the externally observable signer state
func (s *StateMachine) CurrentState() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *StateMachine) setState(next State) {
	s.stateMu.Lock()
	prev := s.state
	s.state = next
	s.stateMu.Unlock()
	if prev == next {
		return
	}
	if s.metrics != nil {
		s.metrics.state.Set(float64(next))
	}
	s.logger.Info(
		"state change",
		"component", "runloop",
		"from", prev.String(),
		"to", next.String(),
	)
	if s.eventBus != nil {
		s.eventBus.Publish(
			StateChangeEventType,
			event.NewEvent(StateChangeEventType, next),
		)
	}
}

// SubmitBurnBlock enqueues an observed burn block
func (s *StateMachine) SubmitBurnBlock(block stacks.BurnBlock) {
	s.inputCh <- input{kind: inputBurnBlock, burnBlock: block}
}

// SubmitProposal enqueues a received block proposal
func (s *StateMachine) SubmitProposal(proposal stacks.BlockProposal) {
	s.inputCh <- input{kind: inputProposal, proposal: proposal}
}

// SubmitPeerVote enqueues a peer vote fetched from the replicated
// store
func (s *StateMachine) SubmitPeerVote(vote stacks.Vote) {
	s.inputCh <- input{kind: inputPeerVote, vote: vote}
}

func (s *StateMachine) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-s.inputCh:
			s.dispatch(ctx, in)
		}
	}
}

func (s *StateMachine) dispatch(ctx context.Context, in input) {
	switch in.kind {
	case inputBurnBlock:
		s.handleBurnBlock(ctx, in.burnBlock)
	case inputProposal:
		s.handleProposal(ctx, in.proposal)
	case inputPeerVote:
		s.handlePeerVote(in.vote)
	case inputTick:
		s.handleTick(ctx, time.Now())
	}
}

func (s *StateMachine) pollBurnChain(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.burnPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tip, err := s.chain.BurnTip(ctx)
			if err != nil {
				// Transient; the next interval retries
				s.logger.Debug(
					"burn tip poll failed",
					"component", "runloop",
					"error", err,
				)
				continue
			}
			s.enqueue(ctx, input{kind: inputBurnBlock, burnBlock: tip})
			proposals, err := s.chain.PendingProposals(ctx)
			if err != nil {
				s.logger.Debug(
					"proposal poll failed",
					"component", "runloop",
					"error", err,
				)
				continue
			}
			for _, proposal := range proposals {
				s.enqueue(ctx, input{
					kind:     inputProposal,
					proposal: proposal,
				})
			}
		}
	}
}

func (s *StateMachine) pollVotes(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.votePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			votes, err := s.votes.FetchPeerVotes(ctx)
			if err != nil {
				s.logger.Debug(
					"vote poll failed",
					"component", "runloop",
					"error", err,
				)
				continue
			}
			for _, vote := range votes {
				s.enqueue(ctx, input{kind: inputPeerVote, vote: vote})
			}
		}
	}
}

func (s *StateMachine) tick(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.enqueue(ctx, input{kind: inputTick})
		}
	}
}

// enqueue adds to the merged queue without blocking shutdown
func (s *StateMachine) enqueue(ctx context.Context, in input) {
	select {
	case <-ctx.Done():
	case s.inputCh <- in:
	}
}

func (s *StateMachine) handleBurnBlock(
	ctx context.Context,
	block stacks.BurnBlock,
) {
	evt, err := s.tracker.Observe(ctx, block)
	if err != nil {
		// Transient chain-source failure; the poller retries
		s.logger.Warn(
			"sortition observation failed",
			"component", "runloop",
			"burn_height", block.Height,
			"error", err,
		)
		return
	}
	switch evt.Kind {
	case sortition.NoChange:
		return
	case sortition.NewSortition:
		s.setState(StateTenureActive)
		s.checkHandoff(ctx, evt.View.BurnHeight)
		s.retryDeferred(ctx)
		s.evictSettled(evt.View.BurnHeight)
	case sortition.EmptySortition:
		// The prior tenure continues; late proposals for it are still
		// eligible
		s.setState(StateTenureExtending)
		s.checkHandoff(ctx, evt.View.BurnHeight)
		s.retryDeferred(ctx)
		s.evictSettled(evt.View.BurnHeight)
	case sortition.ReorgDetected:
		s.handleReorg(evt.RewindHeight)
	}
}

// checkHandoff drives the signer-set handoff around reward cycle
// boundaries: open the window when inside it, commit at the boundary
func (s *StateMachine) checkHandoff(ctx context.Context, burnHeight uint64) {
	set, err := s.registry.Current()
	if err != nil {
		return
	}
	boundary := s.registry.CycleBoundary(set.Cycle + 1)
	if s.registry.HandoffPending() {
		if burnHeight >= boundary {
			if err := s.registry.CommitHandoff(boundary); err != nil {
				s.logger.Error(
					"handoff commit failed",
					"component", "runloop",
					"error", err,
				)
				return
			}
			s.setState(StateTenureActive)
		}
		return
	}
	if !s.registry.InHandoffWindow(burnHeight) {
		return
	}
	next, err := s.chain.SignerSet(ctx, set.Cycle+1)
	if err != nil {
		// Transient; retried on the next burn block in the window
		s.logger.Warn(
			"next signer set fetch failed",
			"component", "runloop",
			"cycle", set.Cycle+1,
			"error", err,
		)
		return
	}
	if err := s.registry.BeginHandoff(next); err != nil {
		s.logger.Error(
			"handoff begin failed",
			"component", "runloop",
			"error", err,
		)
		return
	}
	s.setState(StateHandoffPending)
}

// handleReorg cancels every bounded wait past the rewind height,
// retracts non-terminal quorum results, and clears decision
// bookkeeping for the orphaned proposals so replacements at the same
// heights validate fresh
func (s *StateMachine) handleReorg(rewindHeight uint64) {
	retracted, err := s.coordinator.Retract(rewindHeight)
	if err != nil {
		s.logger.Error(
			"quorum retraction failed",
			"component", "runloop",
			"error", err,
		)
	}
	for _, hash := range retracted {
		delete(s.quorumWaits, hash)
	}
	// Deferred proposals reference rewound state; drop them all and
	// let the miner re-propose under the new fork
	for key := range s.deferred {
		delete(s.deferred, key)
	}
	replayed, err := s.store.ProposalsAboveBurnHeight(rewindHeight)
	if err != nil {
		s.logger.Error(
			"orphaned proposal lookup failed",
			"component", "runloop",
			"error", err,
		)
	}
	for _, proposal := range replayed {
		key := proposal.Key()
		delete(s.decided, key)
		delete(s.pendingPublish, key)
		delete(s.quorumWaits, proposal.BlockHash)
	}
	if _, ok := s.tracker.CurrentView(); ok {
		s.setState(StateTenureActive)
	} else {
		s.setState(StateIdle)
	}
}

// evictSettled drops decision bookkeeping that has aged past the
// eviction depth once its quorum result is terminal and persisted
func (s *StateMachine) evictSettled(burnHeight uint64) {
	if burnHeight <= s.evictionDepth {
		return
	}
	cutoff := burnHeight - s.evictionDepth
	evicted := make(map[stacks.BlockHash]bool)
	for _, hash := range s.coordinator.EvictSettled(cutoff) {
		evicted[hash] = true
	}
	for key, entry := range s.decided {
		if entry.burnHeight >= cutoff {
			continue
		}
		if evicted[entry.hash] {
			delete(s.decided, key)
			continue
		}
		// A tally evicted on an earlier pass leaves a stale entry
		if _, ok := s.coordinator.CurrentResult(entry.hash); !ok {
			delete(s.decided, key)
		}
	}
}

func (s *StateMachine) handleProposal(
	ctx context.Context,
	proposal stacks.BlockProposal,
) {
	key := proposal.Key()
	if entry, ok := s.decided[key]; ok && entry.hash == proposal.BlockHash {
		// Already decided this exact proposal
		return
	}
	if entry, ok := s.deferred[key]; ok &&
		entry.proposal.BlockHash == proposal.BlockHash {
		// Already deferred; the tick or next chain event re-validates
		return
	}
	view, haveView := s.tracker.CurrentView()
	var burnHeight uint64
	if haveView {
		burnHeight = view.BurnHeight
	}
	if err := s.store.AddProposal(proposal, burnHeight); err != nil {
		s.logger.Error(
			"proposal persist failed",
			"component", "runloop",
			"error", err,
		)
		return
	}
	if payload, err := json.Marshal(&proposal); err == nil {
		if err := s.store.AddProposalPayload(key, payload); err != nil {
			s.logger.Warn(
				"proposal payload persist failed",
				"component", "runloop",
				"error", err,
			)
		}
	}
	s.decide(ctx, proposal, burnHeight)
}

// decide validates a proposal and acts on the outcome
func (s *StateMachine) decide(
	ctx context.Context,
	proposal stacks.BlockProposal,
	burnHeight uint64,
) {
	decision, err := s.validator.Validate(proposal)
	if err != nil {
		s.logger.Error(
			"proposal validation failed",
			"component", "runloop",
			"error", err,
		)
		return
	}
	switch decision.Outcome {
	case validation.Accept:
		s.castVote(ctx, proposal, stacks.DecisionAccept, burnHeight)
	case validation.Reject:
		s.rejectProposal(ctx, proposal, decision.Reason, burnHeight)
	case validation.Defer:
		s.deferred[proposal.Key()] = &deferredProposal{
			proposal: proposal,
			deadline: time.Now().Add(s.deferTimeout),
			reason:   decision.Reason,
		}
		s.logger.Debug(
			"proposal deferred",
			"component", "runloop",
			"block_hash", proposal.BlockHash.String(),
			"reason", decision.Reason,
		)
	}
}

func (s *StateMachine) rejectProposal(
	ctx context.Context,
	proposal stacks.BlockProposal,
	reason string,
	burnHeight uint64,
) {
	s.logger.Info(
		"proposal rejected",
		"component", "runloop",
		"block_hash", proposal.BlockHash.String(),
		"height", proposal.Height,
		"reason", reason,
	)
	s.castVote(ctx, proposal, stacks.DecisionReject, burnHeight)
}

func (s *StateMachine) castVote(
	ctx context.Context,
	proposal stacks.BlockProposal,
	decision stacks.Decision,
	burnHeight uint64,
) {
	tenureStart := burnHeight
	if tenure, ok := s.tracker.TenureFor(proposal.TenureID); ok {
		tenureStart = tenure.StartBurnHeight
	}
	s.coordinator.RegisterProposal(proposal, tenureStart, burnHeight)
	if _, err := s.coordinator.OnDecision(ctx, proposal, decision); err != nil {
		if errors.Is(err, votecoord.ErrOwnEquivocation) ||
			errors.Is(err, votecoord.ErrVotingHalted) {
			// Voting on this hash is halted; other tenures continue
			s.logger.Error(
				"voting halted on block hash",
				"component", "runloop",
				"block_hash", proposal.BlockHash.String(),
				"error", err,
			)
			return
		}
		// Transient publish failure: the vote is persisted; the tick
		// retries the identical decision until the slot write succeeds
		s.pendingPublish[proposal.Key()] = &pendingVote{
			proposal: proposal,
			decision: decision,
		}
		s.logger.Warn(
			"vote publish failed",
			"component", "runloop",
			"block_hash", proposal.BlockHash.String(),
			"error", err,
		)
	} else {
		delete(s.pendingPublish, proposal.Key())
	}
	s.decided[proposal.Key()] = decidedEntry{
		hash:       proposal.BlockHash,
		burnHeight: burnHeight,
	}
	delete(s.deferred, proposal.Key())
	if decision == stacks.DecisionAccept {
		s.quorumWaits[proposal.BlockHash] = &quorumWait{
			deadline: time.Now().Add(s.quorumTimeout),
			key:      proposal.Key(),
		}
		s.setState(StateAwaitingQuorum)
	}
	// Our own vote may already complete quorum (single-signer sets)
	if result, ok := s.coordinator.CurrentResult(proposal.BlockHash); ok &&
		result.Terminal {
		s.finalizeQuorum(result)
	}
}

func (s *StateMachine) handlePeerVote(vote stacks.Vote) {
	result, err := s.coordinator.IngestPeerVote(vote)
	if err != nil {
		if errors.Is(err, votecoord.ErrUnknownProposal) {
			// The proposal hasn't been observed locally yet; the next
			// poll re-delivers the vote after the chain catches up
			s.logger.Debug(
				"peer vote for unknown proposal",
				"component", "runloop",
				"block_hash", vote.BlockHash.String(),
			)
			return
		}
		s.logger.Warn(
			"peer vote discarded",
			"component", "runloop",
			"signer", vote.Signer.String(),
			"error", err,
		)
		return
	}
	if result.Terminal {
		s.finalizeQuorum(result)
	}
}

// finalizeQuorum applies a terminal quorum result: accepted blocks
// advance the tenure tip and the tenure is ready for the next height
func (s *StateMachine) finalizeQuorum(result votecoord.QuorumResult) {
	if _, waiting := s.quorumWaits[result.BlockHash]; !waiting {
		if result.Decision == stacks.DecisionAccept {
			// Late quorum on a block we'd given up on still advances
			// the chain tip
			s.recordAccepted(result.BlockHash)
		}
		return
	}
	delete(s.quorumWaits, result.BlockHash)
	if result.Decision == stacks.DecisionAccept {
		s.recordAccepted(result.BlockHash)
	}
	if len(s.quorumWaits) == 0 {
		s.setState(StateTenureActive)
	}
	s.retryDeferred(context.Background())
}

func (s *StateMachine) recordAccepted(hash stacks.BlockHash) {
	proposal, err := s.store.ProposalByBlockHash(hash)
	if err != nil {
		s.logger.Error(
			"accepted proposal lookup failed",
			"component", "runloop",
			"block_hash", hash.String(),
			"error", err,
		)
		return
	}
	s.tracker.RecordAcceptedBlock(proposal.TenureID, proposal.Height)
}

// handleTick scans the bounded waits. An expired deferral converts to
// a timeout rejection; an expired quorum wait releases the tenure to
// proceed without a result for that block
func (s *StateMachine) handleTick(ctx context.Context, now time.Time) {
	for key, entry := range s.deferred {
		if now.Before(entry.deadline) {
			continue
		}
		delete(s.deferred, key)
		decision := validation.TimeoutRejection()
		view, _ := s.tracker.CurrentView()
		s.logger.Info(
			"deferred proposal timed out",
			"component", "runloop",
			"block_hash", entry.proposal.BlockHash.String(),
			"defer_reason", entry.reason,
		)
		s.rejectProposal(
			ctx,
			entry.proposal,
			decision.Reason,
			view.BurnHeight,
		)
	}
	for hash, wait := range s.quorumWaits {
		if now.Before(wait.deadline) {
			continue
		}
		delete(s.quorumWaits, hash)
		s.logger.Warn(
			"quorum wait expired",
			"component", "runloop",
			"block_hash", hash.String(),
		)
	}
	if len(s.quorumWaits) == 0 && s.CurrentState() == StateAwaitingQuorum {
		s.setState(StateTenureActive)
	}
	s.retryPendingPublish(ctx)
}

// retryPendingPublish re-publishes decided votes whose slot write has
// not succeeded yet. The coordinator republishes the stored vote for an
// identical decision, so each retry carries the same content
func (s *StateMachine) retryPendingPublish(ctx context.Context) {
	for key, pending := range s.pendingPublish {
		_, err := s.coordinator.OnDecision(
			ctx,
			pending.proposal,
			pending.decision,
		)
		if err != nil {
			if errors.Is(err, votecoord.ErrOwnEquivocation) ||
				errors.Is(err, votecoord.ErrVotingHalted) {
				delete(s.pendingPublish, key)
			}
			continue
		}
		s.logger.Info(
			"vote republished",
			"component", "runloop",
			"block_hash", pending.proposal.BlockHash.String(),
		)
		delete(s.pendingPublish, key)
	}
}

// retryDeferred re-validates deferred proposals after a relevant event
func (s *StateMachine) retryDeferred(ctx context.Context) {
	for key, entry := range s.deferred {
		decision, err := s.validator.Validate(entry.proposal)
		if err != nil {
			s.logger.Error(
				"deferred re-validation failed",
				"component", "runloop",
				"error", err,
			)
			continue
		}
		if decision.Outcome == validation.Defer {
			continue
		}
		delete(s.deferred, key)
		view, _ := s.tracker.CurrentView()
		switch decision.Outcome {
		case validation.Accept:
			s.castVote(
				ctx,
				entry.proposal,
				stacks.DecisionAccept,
				view.BurnHeight,
			)
		case validation.Reject:
			s.rejectProposal(
				ctx,
				entry.proposal,
				decision.Reason,
				view.BurnHeight,
			)
		}
	}
}

type loopMetrics struct {
	state     prometheus.Gauge
	queueSize prometheus.GaugeFunc
}

func (s *StateMachine) initMetrics(promRegistry prometheus.Registerer) {
	s.metrics = &loopMetrics{
		state: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gosigner_state",
				Help: "current signer state machine state",
			},
		),
		queueSize: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "gosigner_event_queue_depth",
				Help: "pending entries on the merged event queue",
			},
			func() float64 {
				return float64(len(s.inputCh))
			},
		),
	}
	promRegistry.MustRegister(s.metrics.state)
	promRegistry.MustRegister(s.metrics.queueSize)
}
