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

// Package signerset tracks the active signer set and voting weights
// per reward cycle and manages the handoff between the outgoing and
// incoming sets at cycle boundaries.
package signerset

import (
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
	HandoffBeginEventType  event.EventType = "signerset.handoff.begin"
	HandoffCommitEventType event.EventType = "signerset.handoff.commit"
)

var (
	ErrNoSet             = errors.New("no signer set installed")
	ErrUnknownCycle      = errors.New("no signer set for reward cycle")
	ErrHandoffInProgress = errors.New("signer set handoff already in progress")
	ErrNoHandoff         = errors.New("no signer set handoff in progress")
	ErrCycleMismatch     = errors.New("signer set cycle mismatch")
)

// HandoffEvent is the payload published on handoff begin and commit
type HandoffEvent struct {
	OutgoingCycle uint64
	IncomingCycle uint64
	BoundaryBurn  uint64
}

type Config struct {
	Logger *slog.Logger
	Store  *chainstate.Store
	// CycleLength is the reward cycle length in burn blocks
	CycleLength uint64
	// HandoffWindow is how many burn blocks before a cycle boundary the
	// incoming set becomes readable alongside the outgoing one
	HandoffWindow uint64
	EventBus      *event.EventBus
	PromRegistry  prometheus.Registerer
}

// Registry holds the current signer set, the incoming set during a
// handoff window, and the most recently retired set for audit reads
type Registry struct {
	logger        *slog.Logger
	store         *chainstate.Store
	eventBus      *event.EventBus
	metrics       *registryMetrics
	cycleLength   uint64
	handoffWindow uint64
	mu            sync.RWMutex
	current       *stacks.SignerSet
	next          *stacks.SignerSet
	retired       *stacks.SignerSet
}

func New(cfg *Config) (*Registry, error) {
	if cfg.CycleLength == 0 {
		return nil, errors.New("reward cycle length must be nonzero")
	}
	r := &Registry{
		logger:        cfg.Logger,
		store:         cfg.Store,
		eventBus:      cfg.EventBus,
		cycleLength:   cfg.CycleLength,
		handoffWindow: cfg.HandoffWindow,
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.PromRegistry != nil {
		r.initMetrics(cfg.PromRegistry)
	}
	return r, nil
}

// Install sets the active signer set, persisting it for restarts.
// Used at startup and is not a handoff; use BeginHandoff for cycle
// transitions
func (r *Registry) Install(set *stacks.SignerSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next != nil {
		return ErrHandoffInProgress
	}
	if err := r.store.SaveSignerSet(set); err != nil {
		return err
	}
	r.current = set
	r.observeMetrics()
	r.logger.Info(
		"signer set installed",
		"component", "signerset",
		"cycle", set.Cycle,
		"signers", len(set.Entries),
		"total_weight", set.TotalWeight(),
	)
	return nil
}

// CurrentSet returns the signer set for the given reward cycle. The
// current and (during handoff) incoming sets are held in memory;
// older cycles fall through to the store for audit reads
func (r *Registry) CurrentSet(cycle uint64) (*stacks.SignerSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch {
	case r.current != nil && cycle == r.current.Cycle:
		return r.current, nil
	case r.next != nil && cycle == r.next.Cycle:
		return r.next, nil
	case r.retired != nil && cycle == r.retired.Cycle:
		return r.retired, nil
	}
	set, err := r.store.SignerSetForCycle(cycle)
	if err != nil {
		if errors.Is(err, chainstate.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownCycle, cycle)
		}
		return nil, err
	}
	return set, nil
}

// BeginHandoff opens the handoff window with the incoming cycle's set.
// The incoming set must be for the cycle immediately after the current
// one
func (r *Registry) BeginHandoff(next *stacks.SignerSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return ErrNoSet
	}
	if r.next != nil {
		if r.next.Cycle == next.Cycle {
			// Idempotent re-announcement of the same handoff
			return nil
		}
		return ErrHandoffInProgress
	}
	if next.Cycle != r.current.Cycle+1 {
		return fmt.Errorf(
			"%w: incoming cycle %d does not follow current cycle %d",
			ErrCycleMismatch,
			next.Cycle,
			r.current.Cycle,
		)
	}
	if err := r.store.SaveSignerSet(next); err != nil {
		return err
	}
	r.next = next
	r.observeMetrics()
	evt := HandoffEvent{
		OutgoingCycle: r.current.Cycle,
		IncomingCycle: next.Cycle,
		BoundaryBurn:  r.cycleBoundary(next.Cycle),
	}
	if r.eventBus != nil {
		r.eventBus.Publish(
			HandoffBeginEventType,
			event.NewEvent(HandoffBeginEventType, evt),
		)
	}
	r.logger.Info(
		"signer set handoff begun",
		"component", "signerset",
		"outgoing_cycle", evt.OutgoingCycle,
		"incoming_cycle", evt.IncomingCycle,
		"boundary_burn_height", evt.BoundaryBurn,
	)
	return nil
}

// CommitHandoff promotes the incoming set at the boundary burn height.
// The outgoing set is retained read-only for audit but excluded from
// new quorum computation
func (r *Registry) CommitHandoff(boundaryBurnHeight uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next == nil {
		return ErrNoHandoff
	}
	evt := HandoffEvent{
		OutgoingCycle: r.current.Cycle,
		IncomingCycle: r.next.Cycle,
		BoundaryBurn:  boundaryBurnHeight,
	}
	r.retired = r.current
	r.current = r.next
	r.next = nil
	r.observeMetrics()
	if r.eventBus != nil {
		r.eventBus.Publish(
			HandoffCommitEventType,
			event.NewEvent(HandoffCommitEventType, evt),
		)
	}
	r.logger.Info(
		"signer set handoff committed",
		"component", "signerset",
		"outgoing_cycle", evt.OutgoingCycle,
		"incoming_cycle", evt.IncomingCycle,
		"boundary_burn_height", evt.BoundaryBurn,
	)
	return nil
}

// SetForTenure returns the set whose votes count toward quorum for a
// tenure starting at the given burn height. During a handoff window
// the outgoing set covers tenures started before the boundary and the
// incoming set covers tenures at or after it
func (r *Registry) SetForTenure(
	tenureStartBurnHeight uint64,
) (*stacks.SignerSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return nil, ErrNoSet
	}
	if r.next != nil &&
		tenureStartBurnHeight >= r.cycleBoundary(r.next.Cycle) {
		return r.next, nil
	}
	return r.current, nil
}

// Current returns the active signer set
func (r *Registry) Current() (*stacks.SignerSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return nil, ErrNoSet
	}
	return r.current, nil
}

// CycleOf returns the reward cycle containing the given burn height
func (r *Registry) CycleOf(burnHeight uint64) uint64 {
	return burnHeight / r.cycleLength
}

// CycleBoundary returns the first burn height of the given cycle
func (r *Registry) CycleBoundary(cycle uint64) uint64 {
	return r.cycleBoundary(cycle)
}

func (r *Registry) cycleBoundary(cycle uint64) uint64 {
	return cycle * r.cycleLength
}

// InHandoffWindow reports whether the given burn height falls within
// the configured window before the next cycle boundary
func (r *Registry) InHandoffWindow(burnHeight uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return false
	}
	boundary := r.cycleBoundary(r.current.Cycle + 1)
	if boundary < r.handoffWindow {
		return false
	}
	return burnHeight >= boundary-r.handoffWindow
}

// HandoffPending reports whether a handoff window is currently open
func (r *Registry) HandoffPending() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.next != nil
}

type registryMetrics struct {
	currentCycle   prometheus.Gauge
	handoffPending prometheus.Gauge
}

func (r *Registry) initMetrics(promRegistry prometheus.Registerer) {
	r.metrics = &registryMetrics{
		currentCycle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gosigner_signerset_current_cycle",
				Help: "reward cycle of the active signer set",
			},
		),
		handoffPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gosigner_signerset_handoff_pending",
				Help: "1 while a signer set handoff window is open",
			},
		),
	}
	promRegistry.MustRegister(r.metrics.currentCycle)
	promRegistry.MustRegister(r.metrics.handoffPending)
}

func (r *Registry) observeMetrics() {
	if r.metrics == nil {
		return
	}
	if r.current != nil {
		r.metrics.currentCycle.Set(float64(r.current.Cycle))
	}
	if r.next != nil {
		r.metrics.handoffPending.Set(1)
	} else {
		r.metrics.handoffPending.Set(0)
	}
}
