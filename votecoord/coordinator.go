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

// Package votecoord turns validation decisions into signed votes,
// publishes them to the replicated vote store, collects peer votes,
// and tracks the weighted quorum tally per block hash.
package votecoord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/blinklabs-io/gosigner/chainstate"
	"github.com/blinklabs-io/gosigner/event"
	"github.com/blinklabs-io/gosigner/signerset"
	"github.com/blinklabs-io/gosigner/signing"
	"github.com/blinklabs-io/gosigner/stacks"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	QuorumReachedEventType event.EventType = "votecoord.quorum"
	MisbehaviorEventType   event.EventType = "votecoord.misbehavior"
)

var (
	// ErrVotingHalted is returned for a block hash on which voting was
	// halted after a local invariant violation
	ErrVotingHalted = errors.New("voting halted for block hash")
	// ErrOwnEquivocation is the invariant violation raised when we are
	// about to emit a second, differing vote for a block hash. The vote
	// is refused, never published
	ErrOwnEquivocation = errors.New(
		"refusing to emit conflicting vote for block hash",
	)
	ErrUnknownProposal  = errors.New("vote references unknown proposal")
	ErrInvalidSignature = errors.New("invalid vote signature")
)

// QuorumResult is the running (or terminal) weighted tally for one
// block hash
type QuorumResult struct {
	BlockHash        stacks.BlockHash
	Decision         stacks.Decision
	CumulativeWeight uint64
	TotalWeight      uint64
	Terminal         bool
	Votes            []stacks.Vote
}

// MisbehaviorEvent is published once per (peer, block hash) when an
// equivocating peer is detected
type MisbehaviorEvent struct {
	Signer    stacks.SignerID
	BlockHash stacks.BlockHash
}

// VotePublisher publishes our own votes to the replicated vote store.
// Publication must be idempotent: resending the same vote content is
// safe
type VotePublisher interface {
	PublishVote(ctx context.Context, vote stacks.Vote) error
}

type Config struct {
	Logger    *slog.Logger
	Store     *chainstate.Store
	Registry  *signerset.Registry
	Signer    signing.Signer
	Publisher VotePublisher
	EventBus  *event.EventBus
	// Threshold is the quorum fraction of total weight that must be
	// strictly exceeded for a decision to become terminal
	Threshold    float64
	PromRegistry prometheus.Registerer
}

// proposalInfo is what the tally needs to know about a registered
// proposal
type proposalInfo struct {
	key             stacks.ProposalKey
	tenureStartBurn uint64
	burnHeight      uint64
	cycle           uint64
}

// tally is the in-memory vote state for one block hash
type tally struct {
	votes        map[stacks.SignerID]stacks.Vote
	equivocators map[stacks.SignerID]bool
	result       *QuorumResult
}

func newTally() *tally {
	return &tally{
		votes:        make(map[stacks.SignerID]stacks.Vote),
		equivocators: make(map[stacks.SignerID]bool),
	}
}

// Coordinator tracks votes and quorum per block hash. All mutation
// goes through the orchestrator's event loop; accessors are safe for
// concurrent reads
type Coordinator struct {
	logger    *slog.Logger
	store     *chainstate.Store
	registry  *signerset.Registry
	signer    signing.Signer
	publisher VotePublisher
	eventBus  *event.EventBus
	metrics   *coordinatorMetrics
	threshold float64
	mu        sync.RWMutex
	proposals map[stacks.BlockHash]proposalInfo
	tallies   map[stacks.BlockHash]*tally
	halted    map[stacks.BlockHash]bool
}

func New(cfg *Config) (*Coordinator, error) {
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		return nil, fmt.Errorf(
			"quorum threshold must be in (0, 1), got %f",
			cfg.Threshold,
		)
	}
	c := &Coordinator{
		logger:    cfg.Logger,
		store:     cfg.Store,
		registry:  cfg.Registry,
		signer:    cfg.Signer,
		publisher: cfg.Publisher,
		eventBus:  cfg.EventBus,
		threshold: cfg.Threshold,
		proposals: make(map[stacks.BlockHash]proposalInfo),
		tallies:   make(map[stacks.BlockHash]*tally),
		halted:    make(map[stacks.BlockHash]bool),
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.PromRegistry != nil {
		c.initMetrics(cfg.PromRegistry)
	}
	return c, nil
}

// RegisterProposal makes a proposal's block hash known to the tally so
// peer votes for it can be weighted against the right signer set
func (c *Coordinator) RegisterProposal(
	proposal stacks.BlockProposal,
	tenureStartBurnHeight uint64,
	burnHeight uint64,
) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proposals[proposal.BlockHash] = proposalInfo{
		key:             proposal.Key(),
		tenureStartBurn: tenureStartBurnHeight,
		burnHeight:      burnHeight,
		cycle:           c.registry.CycleOf(burnHeight),
	}
	if _, ok := c.tallies[proposal.BlockHash]; !ok {
		c.tallies[proposal.BlockHash] = newTally()
	}
}

// OnDecision signs and publishes our own vote for a proposal, exactly
// once per (signer, block hash). Re-deciding with the same outcome
// republishes the stored vote; a differing outcome is an invariant
// violation and the vote is refused
func (c *Coordinator) OnDecision(
	ctx context.Context,
	proposal stacks.BlockProposal,
	decision stacks.Decision,
) (stacks.Vote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash := proposal.BlockHash
	if c.halted[hash] {
		return stacks.Vote{}, fmt.Errorf(
			"%w: %s",
			ErrVotingHalted,
			hash.String(),
		)
	}
	info, ok := c.proposals[hash]
	if !ok {
		return stacks.Vote{}, fmt.Errorf(
			"%w: %s",
			ErrUnknownProposal,
			hash.String(),
		)
	}
	self := c.signer.ID()
	existing, err := c.store.OwnVoteForBlock(self, hash)
	if err == nil {
		if existing.Decision == decision {
			// Idempotent republish of the identical vote. Re-tally it
			// too, so a tally rebuilt after a retraction regains our
			// weight
			if _, err := c.applyVote(existing, info); err != nil {
				return existing, err
			}
			return existing, c.publish(ctx, existing)
		}
		return stacks.Vote{}, c.haltOnEquivocation(hash, decision)
	}
	if !errors.Is(err, chainstate.ErrNotFound) {
		return stacks.Vote{}, err
	}
	vote := stacks.Vote{
		Signer:    self,
		BlockHash: hash,
		Decision:  decision,
	}
	sig, err := c.signer.Sign(vote.SignHash())
	if err != nil {
		return stacks.Vote{}, fmt.Errorf("sign vote: %w", err)
	}
	vote.Signature = sig
	if err := c.store.RecordOwnVote(vote, info.cycle); err != nil {
		if errors.Is(err, chainstate.ErrVoteConflict) {
			return stacks.Vote{}, c.haltOnEquivocation(hash, decision)
		}
		return stacks.Vote{}, err
	}
	if c.metrics != nil {
		c.metrics.votesCast.WithLabelValues(decision.String()).Inc()
	}
	c.logger.Info(
		"vote cast",
		"component", "votecoord",
		"block_hash", hash.String(),
		"decision", decision.String(),
	)
	if _, err := c.applyVote(vote, info); err != nil {
		return vote, err
	}
	// Persisting before publishing means a crash between the two
	// republishes the same content on restart, never a different vote
	return vote, c.publish(ctx, vote)
}

// haltOnEquivocation records a local invariant violation and stops all
// further voting on the affected block hash. Other tenures continue.
// The stored vote is read back so the record names the real decision
// pair regardless of which check caught the conflict
func (c *Coordinator) haltOnEquivocation(
	hash stacks.BlockHash,
	attempted stacks.Decision,
) error {
	c.halted[hash] = true
	if c.metrics != nil {
		c.metrics.invariantViolations.Inc()
	}
	stored := "unknown"
	if vote, err := c.store.OwnVoteForBlock(c.signer.ID(), hash); err == nil {
		stored = vote.Decision.String()
	}
	c.logger.Error(
		"invariant violation: conflicting own vote refused",
		"component", "votecoord",
		"block_hash", hash.String(),
		"stored_decision", stored,
		"attempted_decision", attempted.String(),
	)
	return fmt.Errorf(
		"%w: %s (stored %s, attempted %s)",
		ErrOwnEquivocation,
		hash.String(),
		stored,
		attempted.String(),
	)
}

func (c *Coordinator) publish(
	ctx context.Context,
	vote stacks.Vote,
) error {
	if c.publisher == nil {
		return nil
	}
	if err := c.publisher.PublishVote(ctx, vote); err != nil {
		// The vote is already persisted; the caller may retry the
		// publish with identical content
		return fmt.Errorf("publish vote: %w", err)
	}
	return nil
}

// IngestPeerVote verifies and tallies a peer's vote, which may arrive
// out of order. Equivocating peers are excluded from quorum weight but
// their votes are retained for audit
func (c *Coordinator) IngestPeerVote(
	vote stacks.Vote,
) (QuorumResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !vote.Decision.Valid() {
		return QuorumResult{}, fmt.Errorf(
			"%w: bad decision value %d",
			ErrInvalidSignature,
			vote.Decision,
		)
	}
	if !signing.Verify(vote.Signer, vote.SignHash(), vote.Signature) {
		return QuorumResult{}, fmt.Errorf(
			"%w: signer %s",
			ErrInvalidSignature,
			vote.Signer.String(),
		)
	}
	info, ok := c.proposals[vote.BlockHash]
	if !ok {
		// The proposal (or its sortition) hasn't been observed locally
		// yet; the orchestrator defers and retries after the next
		// chain event
		return QuorumResult{}, fmt.Errorf(
			"%w: %s",
			ErrUnknownProposal,
			vote.BlockHash.String(),
		)
	}
	set, err := c.registry.SetForTenure(info.tenureStartBurn)
	if err != nil {
		return QuorumResult{}, err
	}
	if vote.Signer == c.signer.ID() {
		// Our own vote echoed back from the replicated store
		return c.resultLocked(vote.BlockHash, info, set)
	}
	if !set.Contains(vote.Signer) {
		// Not a member for this tenure; keep for audit, weight zero
		if err := c.store.RecordPeerVote(vote, info.cycle, true); err != nil {
			return QuorumResult{}, err
		}
		return c.resultLocked(vote.BlockHash, info, set)
	}
	t := c.tallies[vote.BlockHash]
	if prior, voted := t.votes[vote.Signer]; voted &&
		prior.Decision != vote.Decision {
		return c.handleEquivocation(vote, prior, info, set)
	}
	if t.equivocators[vote.Signer] {
		// Already excluded; record for audit only
		if err := c.store.RecordPeerVote(vote, info.cycle, true); err != nil {
			return QuorumResult{}, err
		}
		return c.resultLocked(vote.BlockHash, info, set)
	}
	if err := c.store.RecordPeerVote(vote, info.cycle, false); err != nil {
		return QuorumResult{}, err
	}
	t.votes[vote.Signer] = vote
	if c.metrics != nil {
		c.metrics.peerVotes.WithLabelValues(vote.Decision.String()).Inc()
	}
	return c.recompute(vote.BlockHash, info, set)
}

// handleEquivocation stores both halves of the conflicting pair for
// audit, drops the peer from quorum weight on this hash, and reports
// the misbehavior exactly once
func (c *Coordinator) handleEquivocation(
	vote stacks.Vote,
	prior stacks.Vote,
	info proposalInfo,
	set *stacks.SignerSet,
) (QuorumResult, error) {
	if err := c.store.RecordPeerVote(vote, info.cycle, true); err != nil {
		return QuorumResult{}, err
	}
	if err := c.store.MarkVotesExcluded(vote.Signer, vote.BlockHash); err != nil {
		return QuorumResult{}, err
	}
	t := c.tallies[vote.BlockHash]
	delete(t.votes, vote.Signer)
	firstReport := !t.equivocators[vote.Signer]
	t.equivocators[vote.Signer] = true
	if firstReport {
		if c.metrics != nil {
			c.metrics.equivocations.Inc()
		}
		c.logger.Warn(
			"equivocating peer excluded from quorum",
			"component", "votecoord",
			"signer", vote.Signer.String(),
			"block_hash", vote.BlockHash.String(),
			"first_decision", prior.Decision.String(),
			"second_decision", vote.Decision.String(),
		)
		if c.eventBus != nil {
			c.eventBus.Publish(
				MisbehaviorEventType,
				event.NewEvent(
					MisbehaviorEventType,
					MisbehaviorEvent{
						Signer:    vote.Signer,
						BlockHash: vote.BlockHash,
					},
				),
			)
		}
	}
	return c.recompute(vote.BlockHash, info, set)
}

// recompute retallies weight per decision for a block hash. A terminal
// result is frozen: late votes are recorded but never change it
func (c *Coordinator) recompute(
	hash stacks.BlockHash,
	info proposalInfo,
	set *stacks.SignerSet,
) (QuorumResult, error) {
	t := c.tallies[hash]
	if t.result != nil && t.result.Terminal {
		return *t.result, nil
	}
	self := c.signer.ID()
	weights := make(map[stacks.Decision]uint64)
	votesByDecision := make(map[stacks.Decision][]stacks.Vote)
	for signer, vote := range t.votes {
		weight := set.WeightOf(signer)
		if signer == self && weight == 0 {
			// We tally our own vote even when not in the counting set
			// so the result reflects it, but with zero weight
			votesByDecision[vote.Decision] = append(
				votesByDecision[vote.Decision],
				vote,
			)
			continue
		}
		weights[vote.Decision] += weight
		votesByDecision[vote.Decision] = append(
			votesByDecision[vote.Decision],
			vote,
		)
	}
	total := set.TotalWeight()
	leading := stacks.DecisionAccept
	if weights[stacks.DecisionReject] > weights[stacks.DecisionAccept] {
		leading = stacks.DecisionReject
	}
	result := QuorumResult{
		BlockHash:        hash,
		Decision:         leading,
		CumulativeWeight: weights[leading],
		TotalWeight:      total,
		Votes:            votesByDecision[leading],
	}
	for decision, weight := range weights {
		if float64(weight) > c.threshold*float64(total) {
			result.Decision = decision
			result.CumulativeWeight = weight
			result.Votes = votesByDecision[decision]
			result.Terminal = true
			break
		}
	}
	if err := c.store.SaveQuorumResult(chainstate.QuorumRecord{
		BlockHash:        hash,
		Decision:         result.Decision,
		CumulativeWeight: result.CumulativeWeight,
		TotalWeight:      result.TotalWeight,
		Terminal:         result.Terminal,
		BurnHeight:       info.burnHeight,
		Cycle:            info.cycle,
	}); err != nil {
		if !errors.Is(err, chainstate.ErrResultTerminal) {
			return QuorumResult{}, err
		}
		// A restart dropped the in-memory tally but the stored result
		// already went terminal; freeze the stored value
		stored, loadErr := c.store.QuorumResultForBlock(hash)
		if loadErr != nil {
			return QuorumResult{}, loadErr
		}
		result = QuorumResult{
			BlockHash:        stored.BlockHash,
			Decision:         stored.Decision,
			CumulativeWeight: stored.CumulativeWeight,
			TotalWeight:      stored.TotalWeight,
			Terminal:         true,
		}
	}
	t.result = &result
	if result.Terminal {
		if c.metrics != nil {
			c.metrics.quorums.
				WithLabelValues(result.Decision.String()).
				Inc()
		}
		c.logger.Info(
			"quorum reached",
			"component", "votecoord",
			"block_hash", hash.String(),
			"decision", result.Decision.String(),
			"weight", result.CumulativeWeight,
			"total_weight", result.TotalWeight,
		)
		if c.eventBus != nil {
			c.eventBus.Publish(
				QuorumReachedEventType,
				event.NewEvent(QuorumReachedEventType, result),
			)
		}
	}
	return result, nil
}

// applyVote tallies one of our own votes
func (c *Coordinator) applyVote(
	vote stacks.Vote,
	info proposalInfo,
) (QuorumResult, error) {
	set, err := c.registry.SetForTenure(info.tenureStartBurn)
	if err != nil {
		return QuorumResult{}, err
	}
	t := c.tallies[vote.BlockHash]
	t.votes[vote.Signer] = vote
	return c.recompute(vote.BlockHash, info, set)
}

// resultLocked returns the current tally without adding a vote
func (c *Coordinator) resultLocked(
	hash stacks.BlockHash,
	info proposalInfo,
	set *stacks.SignerSet,
) (QuorumResult, error) {
	t := c.tallies[hash]
	if t.result != nil {
		return *t.result, nil
	}
	return c.recompute(hash, info, set)
}

// CurrentResult returns the tally for a block hash, if any
func (c *Coordinator) CurrentResult(
	hash stacks.BlockHash,
) (QuorumResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tallies[hash]
	if !ok || t.result == nil {
		return QuorumResult{}, false
	}
	return *t.result, true
}

// Halted reports whether voting was halted on a block hash after a
// local invariant violation
func (c *Coordinator) Halted(hash stacks.BlockHash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.halted[hash]
}

// Retract drops non-terminal quorum results for proposals above the
// given burn height after a reorg rewind. Terminal results and stored
// votes are untouched
func (c *Coordinator) Retract(
	aboveBurnHeight uint64,
) ([]stacks.BlockHash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	retracted, err := c.store.RetractQuorumResultsAboveBurnHeight(
		aboveBurnHeight,
	)
	if err != nil {
		return nil, err
	}
	for _, hash := range retracted {
		delete(c.tallies, hash)
		delete(c.proposals, hash)
	}
	for hash, info := range c.proposals {
		if info.burnHeight > aboveBurnHeight {
			if t, ok := c.tallies[hash]; ok &&
				t.result != nil && t.result.Terminal {
				continue
			}
			delete(c.tallies, hash)
			delete(c.proposals, hash)
		}
	}
	if len(retracted) > 0 {
		c.logger.Warn(
			"retracted non-terminal quorum results",
			"component", "votecoord",
			"count", len(retracted),
			"above_burn_height", aboveBurnHeight,
		)
	}
	return retracted, nil
}

// EvictSettled drops in-memory tallies for proposals recorded below
// the given burn height once their quorum result is terminal and
// persisted. Returns the evicted block hashes so the orchestrator can
// drop its own bookkeeping for them
func (c *Coordinator) EvictSettled(
	belowBurnHeight uint64,
) []stacks.BlockHash {
	c.mu.Lock()
	defer c.mu.Unlock()
	var evicted []stacks.BlockHash
	for hash, info := range c.proposals {
		if info.burnHeight >= belowBurnHeight {
			continue
		}
		t, ok := c.tallies[hash]
		if !ok || t.result == nil || !t.result.Terminal {
			continue
		}
		delete(c.tallies, hash)
		delete(c.proposals, hash)
		evicted = append(evicted, hash)
	}
	if len(evicted) > 0 {
		c.logger.Debug(
			"evicted settled tallies",
			"component", "votecoord",
			"count", len(evicted),
			"below_burn_height", belowBurnHeight,
		)
	}
	return evicted
}

type coordinatorMetrics struct {
	votesCast           *prometheus.CounterVec
	peerVotes           *prometheus.CounterVec
	quorums             *prometheus.CounterVec
	equivocations       prometheus.Counter
	invariantViolations prometheus.Counter
}

func (c *Coordinator) initMetrics(promRegistry prometheus.Registerer) {
	c.metrics = &coordinatorMetrics{
		votesCast: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosigner_votes_cast_total",
				Help: "own votes cast by decision",
			},
			[]string{"decision"},
		),
		peerVotes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosigner_peer_votes_total",
				Help: "counted peer votes by decision",
			},
			[]string{"decision"},
		),
		quorums: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosigner_quorums_total",
				Help: "terminal quorum results by decision",
			},
			[]string{"decision"},
		),
		equivocations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gosigner_peer_equivocations_total",
				Help: "equivocating peers excluded from quorum",
			},
		),
		invariantViolations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gosigner_invariant_violations_total",
				Help: "refused conflicting own votes",
			},
		),
	}
	promRegistry.MustRegister(c.metrics.votesCast)
	promRegistry.MustRegister(c.metrics.peerVotes)
	promRegistry.MustRegister(c.metrics.quorums)
	promRegistry.MustRegister(c.metrics.equivocations)
	promRegistry.MustRegister(c.metrics.invariantViolations)
}
