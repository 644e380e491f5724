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

// Package validation decides whether a block proposal is acceptable
// against the local sortition and tenure view. The validator is a pure
// decision function over injected chain views; deferral scheduling and
// timeout conversion belong to the orchestrator.
package validation

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/blinklabs-io/gosigner/chainstate"
	"github.com/blinklabs-io/gosigner/signing"
	"github.com/blinklabs-io/gosigner/stacks"
	"github.com/prometheus/client_golang/prometheus"
)

type Outcome uint8

const (
	Accept Outcome = iota
	Reject
	Defer
)

func (o Outcome) String() string {
	switch o {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	case Defer:
		return "defer"
	default:
		return fmt.Sprintf("unknown (%d)", o)
	}
}

// Rejection reasons. ReasonTimeout is applied by the orchestrator when
// a deferred proposal's bounded wait expires
const (
	ReasonStaleView      = "stale view"
	ReasonWrongMiner     = "wrong miner"
	ReasonParentMismatch = "parent mismatch"
	ReasonStaleHeight    = "stale height"
	ReasonTimeout        = "timeout"
)

// Deferral reasons. A deferred proposal is re-validated after the next
// relevant event, bounded by the orchestrator's defer timeout
const (
	DeferViewNotObserved = "burn view not observed"
	DeferHeightAhead     = "height ahead of local tip"
)

// Decision is the validation verdict for one proposal. Reason is set
// for Reject and Defer
type Decision struct {
	Reason  string
	Outcome Outcome
}

func Accepted() Decision {
	return Decision{Outcome: Accept}
}

func Rejected(reason string) Decision {
	return Decision{Outcome: Reject, Reason: reason}
}

func Deferred(reason string) Decision {
	return Decision{Outcome: Defer, Reason: reason}
}

// TimeoutRejection converts an unresolved deferral into its terminal
// outcome
func TimeoutRejection() Decision {
	return Rejected(ReasonTimeout)
}

// ViewSource provides the sortition views and tenures a proposal is
// validated against. Satisfied by sortition.Tracker
type ViewSource interface {
	CurrentView() (stacks.SortitionView, bool)
	PreviousView() (stacks.SortitionView, bool)
	TenureFor(stacks.ConsensusHash) (stacks.Tenure, bool)
	TipHeight() uint64
}

type Config struct {
	Logger       *slog.Logger
	Store        *chainstate.Store
	Views        ViewSource
	PromRegistry prometheus.Registerer
}

type Validator struct {
	logger  *slog.Logger
	store   *chainstate.Store
	views   ViewSource
	metrics *validatorMetrics
}

func New(cfg *Config) *Validator {
	v := &Validator{
		logger: cfg.Logger,
		store:  cfg.Store,
		views:  cfg.Views,
	}
	if v.logger == nil {
		v.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.PromRegistry != nil {
		v.initMetrics(cfg.PromRegistry)
	}
	return v
}

// Validate runs the ordered proposal checks: burn view known, miner
// signature matches the tenure winner, parent hash chains from the
// tenure tip (or the parent tenure's tip for a tenure-start block),
// and height is exactly one above the local chain tip
func (v *Validator) Validate(proposal stacks.BlockProposal) (Decision, error) {
	decision, err := v.validate(proposal)
	if err != nil {
		return Decision{}, err
	}
	if v.metrics != nil {
		v.metrics.validations.
			WithLabelValues(decision.Outcome.String()).
			Inc()
	}
	v.logger.Debug(
		"proposal validated",
		"component", "validation",
		"block_hash", proposal.BlockHash.String(),
		"tenure", proposal.TenureID.String(),
		"height", proposal.Height,
		"outcome", decision.Outcome.String(),
		"reason", decision.Reason,
	)
	return decision, nil
}

func (v *Validator) validate(
	proposal stacks.BlockProposal,
) (Decision, error) {
	// (a) the referenced burn view must be a sortition we've observed
	if !v.viewKnown(proposal.BurnView) {
		known, err := v.storedViewKnown(proposal.BurnView)
		if err != nil {
			return Decision{}, err
		}
		if !known {
			return Deferred(DeferViewNotObserved), nil
		}
	}
	// (b) the proposer must be the tenure's winning miner
	tenure, ok := v.views.TenureFor(proposal.TenureID)
	if !ok {
		// The tenure's starting sortition hasn't been observed yet
		return Deferred(DeferViewNotObserved), nil
	}
	if !signing.Verify(
		tenure.WinningMiner,
		proposal.SignHash(),
		proposal.MinerSignature,
	) {
		return Rejected(ReasonWrongMiner), nil
	}
	// (c) the parent hash must chain from the tenure's last accepted
	// block, or from the parent tenure's tip for a tenure-start block
	parentOk, err := v.parentChains(proposal, tenure)
	if err != nil {
		return Decision{}, err
	}
	if !parentOk {
		return Rejected(ReasonParentMismatch), nil
	}
	// (d) the height must be exactly one above the local chain tip
	tip := v.views.TipHeight()
	switch {
	case proposal.Height == tip+1:
		return Accepted(), nil
	case proposal.Height > tip+1:
		// Possible local lag; re-validate after the next accepted block
		return Deferred(DeferHeightAhead), nil
	default:
		return Rejected(ReasonStaleHeight), nil
	}
}

func (v *Validator) viewKnown(burnView stacks.ConsensusHash) bool {
	if view, ok := v.views.CurrentView(); ok &&
		view.ConsensusHash == burnView {
		return true
	}
	if view, ok := v.views.PreviousView(); ok &&
		view.ConsensusHash == burnView {
		return true
	}
	return false
}

func (v *Validator) storedViewKnown(
	burnView stacks.ConsensusHash,
) (bool, error) {
	_, err := v.store.LatestViewForTenure(burnView)
	if err != nil {
		if errors.Is(err, chainstate.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// parentChains verifies the proposal's parent hash against the last
// accepted block of its tenure. For a tenure-start block the parent
// tenure's tip is checked instead; when no prior accepted block is
// known locally the check passes and the height check catches any lag
func (v *Validator) parentChains(
	proposal stacks.BlockProposal,
	tenure stacks.Tenure,
) (bool, error) {
	tenureID := proposal.TenureID
	tip, ok := tenure.Tip()
	if !ok {
		// Tenure-start block: chain from the parent tenure's tip
		prev, havePrev := v.views.PreviousView()
		if !havePrev || prev.ConsensusHash == tenureID {
			return true, nil
		}
		prevTenure, havePrevTenure := v.views.TenureFor(prev.ConsensusHash)
		if !havePrevTenure {
			return true, nil
		}
		tip, ok = prevTenure.Tip()
		if !ok {
			return true, nil
		}
		tenureID = prev.ConsensusHash
	}
	accepted, err := v.store.ActiveProposal(stacks.ProposalKey{
		TenureID: tenureID,
		Height:   tip,
	})
	if err != nil {
		if errors.Is(err, chainstate.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return accepted.BlockHash == proposal.ParentBlockHash, nil
}

type validatorMetrics struct {
	validations *prometheus.CounterVec
}

func (v *Validator) initMetrics(promRegistry prometheus.Registerer) {
	v.metrics = &validatorMetrics{
		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosigner_proposal_validations_total",
				Help: "proposal validation outcomes",
			},
			[]string{"outcome"},
		),
	}
	promRegistry.MustRegister(v.metrics.validations)
}
