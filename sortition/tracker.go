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

// Package sortition tracks the signer's view of the burn chain's leader
// election. It maintains the current and previous sortition view, the
// open tenure, and detects empty sortitions, tenure extensions, and
// reorgs against the stored chain history.
package sortition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/blinklabs-io/gosigner/chainstate"
	"github.com/blinklabs-io/gosigner/event"
	"github.com/blinklabs-io/gosigner/stacks"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	NewSortitionEventType   event.EventType = "sortition.new"
	EmptySortitionEventType event.EventType = "sortition.empty"
	ReorgEventType          event.EventType = "sortition.reorg"
)

// Result is the externally computed sortition outcome for one burn
// block. Winner is nil when the sortition elected no miner
type Result struct {
	ConsensusHash stacks.ConsensusHash
	Winner        *stacks.SignerID
}

// ChainSource supplies canonical burn chain data and sortition
// eligibility. The tracker consumes eligibility, it never computes it
type ChainSource interface {
	SortitionFor(
		ctx context.Context,
		block stacks.BurnBlock,
	) (Result, error)
	BurnBlockAtHeight(
		ctx context.Context,
		height uint64,
	) (stacks.BurnBlock, error)
}

type EventKind uint8

const (
	NoChange EventKind = iota
	NewSortition
	EmptySortition
	ReorgDetected
)

func (k EventKind) String() string {
	switch k {
	case NoChange:
		return "no-change"
	case NewSortition:
		return "new-sortition"
	case EmptySortition:
		return "empty-sortition"
	case ReorgDetected:
		return "reorg-detected"
	default:
		return fmt.Sprintf("unknown (%d)", k)
	}
}

// Event is the outcome of observing one burn block. View is set for
// NewSortition and EmptySortition; RewindHeight for ReorgDetected
type Event struct {
	View         stacks.SortitionView
	RewindHeight uint64
	Kind         EventKind
}

type Config struct {
	Logger       *slog.Logger
	Store        *chainstate.Store
	Source       ChainSource
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
}

// Tracker maintains the sortition view state. All mutation happens
// through Observe, which the orchestrator calls from its event loop;
// the read accessors are safe for concurrent audit use
type Tracker struct {
	logger    *slog.Logger
	store     *chainstate.Store
	source    ChainSource
	eventBus  *event.EventBus
	metrics   *trackerMetrics
	mu        sync.RWMutex
	current   *stacks.SortitionView
	previous  *stacks.SortitionView
	tenures   map[stacks.ConsensusHash]*stacks.Tenure
	lastBlock *stacks.BurnBlock
	tipHeight uint64
}

// New creates a Tracker, recovering the latest persisted view and its
// tenure so a restart resumes where observation left off
func New(cfg *Config) (*Tracker, error) {
	t := &Tracker{
		logger:   cfg.Logger,
		store:    cfg.Store,
		source:   cfg.Source,
		eventBus: cfg.EventBus,
		tenures:  make(map[stacks.ConsensusHash]*stacks.Tenure),
	}
	if t.logger == nil {
		t.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.PromRegistry != nil {
		t.initMetrics(cfg.PromRegistry)
	}
	if err := t.restore(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tracker) restore() error {
	view, err := t.store.LatestView()
	if err != nil {
		if errors.Is(err, chainstate.ErrNotFound) {
			return nil
		}
		return err
	}
	t.current = &view
	block, err := t.store.BurnBlockByHeight(view.BurnHeight)
	if err == nil {
		t.lastBlock = &block
	} else if !errors.Is(err, chainstate.ErrNotFound) {
		return err
	}
	tenure, err := t.tenureForView(view)
	if err != nil {
		return err
	}
	if tenure != nil {
		t.tenures[tenure.ConsensusHash] = tenure
	}
	return t.rederiveTipLocked(view.BurnHeight)
}

// rederiveTipLocked rebuilds the accepted chain tip and per-tenure
// accepted heights from the persisted terminal accepts recorded at or
// below the given burn height
func (t *Tracker) rederiveTipLocked(maxBurnHeight uint64) error {
	accepted, err := t.store.AcceptedProposalsAtOrBelowBurnHeight(
		maxBurnHeight,
	)
	if err != nil {
		return err
	}
	t.tipHeight = 0
	for _, tenure := range t.tenures {
		tenure.AcceptedHeights = nil
	}
	for _, proposal := range accepted {
		if tenure, ok := t.tenures[proposal.TenureID]; ok {
			tenure.AcceptedHeights = append(
				tenure.AcceptedHeights,
				proposal.Height,
			)
		}
		if proposal.Height > t.tipHeight {
			t.tipHeight = proposal.Height
		}
	}
	return nil
}

// tenureForView rebuilds the tenure a view belongs to from the stored
// tenure-start view. Returns nil when the view's tenure never started
// locally (pre-genesis or pruned history)
func (t *Tracker) tenureForView(
	view stacks.SortitionView,
) (*stacks.Tenure, error) {
	start := view
	if !view.TenureStart {
		var err error
		start, err = t.store.TenureStartView(view.ConsensusHash)
		if err != nil {
			if errors.Is(err, chainstate.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
	}
	if start.WinningMiner == nil {
		return nil, nil
	}
	return &stacks.Tenure{
		ConsensusHash:   start.ConsensusHash,
		StartBurnHeight: start.BurnHeight,
		WinningMiner:    *start.WinningMiner,
		Extended:        start.BurnHeight < view.BurnHeight,
	}, nil
}

// Observe ingests one burn chain block and returns the resulting
// sortition event. A transient chain-source failure is returned as an
// error with no state change; the caller retries with backoff
func (t *Tracker) Observe(
	ctx context.Context,
	block stacks.BurnBlock,
) (Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastBlock != nil && block.Height <= t.lastBlock.Height {
		stored, err := t.store.BurnBlockByHeight(block.Height)
		if err != nil && !errors.Is(err, chainstate.ErrNotFound) {
			return Event{}, err
		}
		if err == nil && stored.Hash == block.Hash {
			// Stale duplicate of a block we already observed
			return Event{Kind: NoChange}, nil
		}
		// A different block at or below our tip means the canonical
		// chain forked below it
		fromHeight := block.Height
		if fromHeight > 0 {
			fromHeight--
		}
		return t.handleReorg(ctx, fromHeight)
	}
	if t.lastBlock != nil && block.Height == t.lastBlock.Height+1 &&
		block.ParentHash != t.lastBlock.Hash {
		return t.handleReorg(ctx, t.lastBlock.Height)
	}
	if t.lastBlock != nil && block.Height > t.lastBlock.Height+1 {
		t.logger.Warn(
			"burn chain gap",
			"component", "sortition",
			"last_height", t.lastBlock.Height,
			"height", block.Height,
		)
	}
	return t.applySortition(ctx, block)
}

// applySortition records the burn block, reads the externally computed
// sortition outcome for it, and advances the view
func (t *Tracker) applySortition(
	ctx context.Context,
	block stacks.BurnBlock,
) (Event, error) {
	result, err := t.source.SortitionFor(ctx, block)
	if err != nil {
		// Do not fabricate a view from a failed read
		return Event{}, fmt.Errorf("read sortition outcome: %w", err)
	}
	if err := t.store.AddBurnBlock(block); err != nil {
		return Event{}, err
	}
	view := stacks.SortitionView{
		ConsensusHash: result.ConsensusHash,
		BurnHeight:    block.Height,
		WinningMiner:  result.Winner,
		TenureStart:   result.Winner != nil,
	}
	kind := NewSortition
	if result.Winner == nil {
		kind = EmptySortition
		// An empty sortition extends the open tenure; the view is
		// recorded under the continuing tenure's consensus hash so
		// per-tenure reads see the extension
		if tenure := t.openTenure(); tenure != nil {
			view.ConsensusHash = tenure.ConsensusHash
			tenure.Extended = true
		}
	} else {
		t.tenures[view.ConsensusHash] = &stacks.Tenure{
			ConsensusHash:   view.ConsensusHash,
			StartBurnHeight: block.Height,
			WinningMiner:    *result.Winner,
		}
	}
	if err := t.store.AddSortitionView(view); err != nil {
		return Event{}, err
	}
	t.previous = t.current
	t.current = &view
	t.lastBlock = &block
	evt := Event{Kind: kind, View: view}
	t.observeMetrics(evt)
	t.publish(evt)
	t.logger.Debug(
		"sortition observed",
		"component", "sortition",
		"kind", kind.String(),
		"burn_height", block.Height,
		"tenure", view.ConsensusHash.String(),
	)
	return evt, nil
}

// handleReorg walks the canonical chain down from the given height
// until it matches stored history, rewinds everything above the fork
// point, and re-derives the view from what remains
func (t *Tracker) handleReorg(
	ctx context.Context,
	fromHeight uint64,
) (Event, error) {
	fork, err := t.findForkHeight(ctx, fromHeight)
	if err != nil {
		return Event{}, err
	}
	if err := t.store.RewindToBurnHeight(fork); err != nil {
		return Event{}, err
	}
	for hash, tenure := range t.tenures {
		if tenure.StartBurnHeight > fork {
			delete(t.tenures, hash)
		}
	}
	t.current = nil
	t.previous = nil
	t.lastBlock = nil
	view, err := t.store.LatestView()
	if err == nil {
		t.current = &view
		block, err := t.store.BurnBlockByHeight(view.BurnHeight)
		if err == nil {
			t.lastBlock = &block
		} else if !errors.Is(err, chainstate.ErrNotFound) {
			return Event{}, err
		}
	} else if !errors.Is(err, chainstate.ErrNotFound) {
		return Event{}, err
	}
	// Accepted blocks above the fork are orphaned; the tip falls back
	// to the highest surviving terminal accept
	if err := t.rederiveTipLocked(fork); err != nil {
		return Event{}, err
	}
	evt := Event{Kind: ReorgDetected, RewindHeight: fork}
	t.observeMetrics(evt)
	t.publish(evt)
	t.logger.Warn(
		"burn chain reorg",
		"component", "sortition",
		"rewind_height", fork,
	)
	return evt, nil
}

// findForkHeight returns the highest height at which the canonical
// chain still matches our stored burn blocks
func (t *Tracker) findForkHeight(
	ctx context.Context,
	fromHeight uint64,
) (uint64, error) {
	for height := fromHeight; height > 0; height-- {
		stored, err := t.store.BurnBlockByHeight(height)
		if err != nil {
			if errors.Is(err, chainstate.ErrNotFound) {
				continue
			}
			return 0, err
		}
		canonical, err := t.source.BurnBlockAtHeight(ctx, height)
		if err != nil {
			return 0, fmt.Errorf("read canonical burn block: %w", err)
		}
		if canonical.Hash == stored.Hash {
			return height, nil
		}
	}
	return 0, nil
}

// openTenure returns the tenure the current view belongs to, or nil
func (t *Tracker) openTenure() *stacks.Tenure {
	if t.current == nil {
		return nil
	}
	return t.tenures[t.current.ConsensusHash]
}

// CurrentView returns the active sortition view
func (t *Tracker) CurrentView() (stacks.SortitionView, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return stacks.SortitionView{}, false
	}
	return *t.current, true
}

// PreviousView returns the view preceding the active one. It is
// retained to resolve proposals that reference the prior tenure
func (t *Tracker) PreviousView() (stacks.SortitionView, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.previous == nil {
		return stacks.SortitionView{}, false
	}
	return *t.previous, true
}

// TenureFor returns a copy of the tracked tenure with the given
// consensus hash
func (t *Tracker) TenureFor(
	consensusHash stacks.ConsensusHash,
) (stacks.Tenure, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tenure, ok := t.tenures[consensusHash]
	if !ok {
		return stacks.Tenure{}, false
	}
	ret := *tenure
	ret.AcceptedHeights = append([]uint64(nil), tenure.AcceptedHeights...)
	return ret, true
}

// RecordAcceptedBlock appends an accepted block height to its tenure
// and advances the local chain tip
func (t *Tracker) RecordAcceptedBlock(
	consensusHash stacks.ConsensusHash,
	height uint64,
) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tenure, ok := t.tenures[consensusHash]; ok {
		tenure.AcceptedHeights = append(tenure.AcceptedHeights, height)
	}
	if height > t.tipHeight {
		t.tipHeight = height
	}
}

// TipHeight returns the highest accepted block height known locally
func (t *Tracker) TipHeight() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tipHeight
}

// SetTipHeight overrides the local chain tip and trims accepted
// heights above it
func (t *Tracker) SetTipHeight(height uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tipHeight = height
	for _, tenure := range t.tenures {
		trimmed := tenure.AcceptedHeights[:0]
		for _, accepted := range tenure.AcceptedHeights {
			if accepted <= height {
				trimmed = append(trimmed, accepted)
			}
		}
		tenure.AcceptedHeights = trimmed
	}
}

func (t *Tracker) publish(evt Event) {
	if t.eventBus == nil {
		return
	}
	switch evt.Kind {
	case NewSortition:
		t.eventBus.Publish(
			NewSortitionEventType,
			event.NewEvent(NewSortitionEventType, evt),
		)
	case EmptySortition:
		t.eventBus.Publish(
			EmptySortitionEventType,
			event.NewEvent(EmptySortitionEventType, evt),
		)
	case ReorgDetected:
		t.eventBus.Publish(
			ReorgEventType,
			event.NewEvent(ReorgEventType, evt),
		)
	}
}

type trackerMetrics struct {
	burnHeight prometheus.Gauge
	sortitions *prometheus.CounterVec
	reorgs     prometheus.Counter
}

func (t *Tracker) initMetrics(promRegistry prometheus.Registerer) {
	t.metrics = &trackerMetrics{
		burnHeight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gosigner_sortition_burn_height",
				Help: "burn height of the active sortition view",
			},
		),
		sortitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosigner_sortitions_total",
				Help: "observed sortitions by kind",
			},
			[]string{"kind"},
		),
		reorgs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gosigner_sortition_reorgs_total",
				Help: "burn chain reorgs detected",
			},
		),
	}
	promRegistry.MustRegister(t.metrics.burnHeight)
	promRegistry.MustRegister(t.metrics.sortitions)
	promRegistry.MustRegister(t.metrics.reorgs)
}

func (t *Tracker) observeMetrics(evt Event) {
	if t.metrics == nil {
		return
	}
	switch evt.Kind {
	case NewSortition, EmptySortition:
		t.metrics.burnHeight.Set(float64(evt.View.BurnHeight))
		t.metrics.sortitions.WithLabelValues(evt.Kind.String()).Inc()
	case ReorgDetected:
		t.metrics.reorgs.Inc()
	}
}
