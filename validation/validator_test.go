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

package validation

import (
	"testing"

	"github.com/blinklabs-io/gosigner/chainstate"
	"github.com/blinklabs-io/gosigner/signing"
	"github.com/blinklabs-io/gosigner/stacks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeViews is a hand-set ViewSource
type fakeViews struct {
	current *stacks.SortitionView
	prev    *stacks.SortitionView
	tenures map[stacks.ConsensusHash]stacks.Tenure
	tip     uint64
}

func (f *fakeViews) CurrentView() (stacks.SortitionView, bool) {
	if f.current == nil {
		return stacks.SortitionView{}, false
	}
	return *f.current, true
}

func (f *fakeViews) PreviousView() (stacks.SortitionView, bool) {
	if f.prev == nil {
		return stacks.SortitionView{}, false
	}
	return *f.prev, true
}

func (f *fakeViews) TenureFor(
	chash stacks.ConsensusHash,
) (stacks.Tenure, bool) {
	tenure, ok := f.tenures[chash]
	return tenure, ok
}

func (f *fakeViews) TipHeight() uint64 {
	return f.tip
}

func testBlockHash(b byte) stacks.BlockHash {
	var ret stacks.BlockHash
	for i := range ret {
		ret[i] = b
	}
	return ret
}

func testConsensusHash(b byte) stacks.ConsensusHash {
	var ret stacks.ConsensusHash
	for i := range ret {
		ret[i] = b
	}
	return ret
}

type validatorHarness struct {
	validator *Validator
	views     *fakeViews
	store     *chainstate.Store
	miner     *signing.KeyPair
	tenureID  stacks.ConsensusHash
}

// newHarness sets up a tenure at burn height 100 won by a real keypair
// with the local chain tip at height 9
func newHarness(t *testing.T) *validatorHarness {
	t.Helper()
	store, err := chainstate.New(&chainstate.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	miner, err := signing.GenerateKeyPair()
	require.NoError(t, err)
	tenureID := testConsensusHash(0x11)
	minerID := miner.ID()
	views := &fakeViews{
		current: &stacks.SortitionView{
			ConsensusHash: tenureID,
			BurnHeight:    100,
			WinningMiner:  &minerID,
			TenureStart:   true,
		},
		tenures: map[stacks.ConsensusHash]stacks.Tenure{
			tenureID: {
				ConsensusHash:   tenureID,
				StartBurnHeight: 100,
				WinningMiner:    minerID,
			},
		},
		tip: 9,
	}
	return &validatorHarness{
		validator: New(&Config{Store: store, Views: views}),
		views:     views,
		store:     store,
		miner:     miner,
		tenureID:  tenureID,
	}
}

// proposal builds a miner-signed proposal at height 10 for the
// harness tenure
func (h *validatorHarness) proposal(t *testing.T) stacks.BlockProposal {
	t.Helper()
	proposal := stacks.BlockProposal{
		BlockHash:       testBlockHash(0x01),
		ParentBlockHash: testBlockHash(0x00),
		TenureID:        h.tenureID,
		Height:          10,
		BurnView:        h.tenureID,
	}
	sig, err := h.miner.Sign(proposal.SignHash())
	require.NoError(t, err)
	proposal.MinerSignature = sig
	return proposal
}

func TestValidatorAccept(t *testing.T) {
	h := newHarness(t)
	decision, err := h.validator.Validate(h.proposal(t))
	require.NoError(t, err)
	assert.Equal(t, Accept, decision.Outcome)
}

func TestValidatorDeferUnknownBurnView(t *testing.T) {
	h := newHarness(t)
	proposal := h.proposal(t)
	proposal.BurnView = testConsensusHash(0x99)
	sig, err := h.miner.Sign(proposal.SignHash())
	require.NoError(t, err)
	proposal.MinerSignature = sig

	decision, err := h.validator.Validate(proposal)
	require.NoError(t, err)
	assert.Equal(t, Defer, decision.Outcome)
	assert.Equal(t, DeferViewNotObserved, decision.Reason)
}

func TestValidatorRejectWrongMiner(t *testing.T) {
	h := newHarness(t)
	intruder, err := signing.GenerateKeyPair()
	require.NoError(t, err)
	proposal := h.proposal(t)
	sig, err := intruder.Sign(proposal.SignHash())
	require.NoError(t, err)
	proposal.MinerSignature = sig

	decision, err := h.validator.Validate(proposal)
	require.NoError(t, err)
	assert.Equal(t, Reject, decision.Outcome)
	assert.Equal(t, ReasonWrongMiner, decision.Reason)
}

func TestValidatorRejectParentMismatch(t *testing.T) {
	h := newHarness(t)
	// Height 10 was accepted with hash 0x01; its successor must chain
	// from it
	accepted := h.proposal(t)
	require.NoError(t, h.store.AddProposal(accepted, 100))
	tenure := h.views.tenures[h.tenureID]
	tenure.AcceptedHeights = []uint64{10}
	h.views.tenures[h.tenureID] = tenure
	h.views.tip = 10

	next := stacks.BlockProposal{
		BlockHash:       testBlockHash(0x02),
		ParentBlockHash: testBlockHash(0xee),
		TenureID:        h.tenureID,
		Height:          11,
		BurnView:        h.tenureID,
	}
	sig, err := h.miner.Sign(next.SignHash())
	require.NoError(t, err)
	next.MinerSignature = sig

	decision, err := h.validator.Validate(next)
	require.NoError(t, err)
	assert.Equal(t, Reject, decision.Outcome)
	assert.Equal(t, ReasonParentMismatch, decision.Reason)

	// Chaining from the accepted hash passes
	next.ParentBlockHash = accepted.BlockHash
	sig, err = h.miner.Sign(next.SignHash())
	require.NoError(t, err)
	next.MinerSignature = sig
	decision, err = h.validator.Validate(next)
	require.NoError(t, err)
	assert.Equal(t, Accept, decision.Outcome)
}

func TestValidatorHeightChecks(t *testing.T) {
	h := newHarness(t)

	// Ahead of the local tip: possible local lag, defer
	ahead := h.proposal(t)
	ahead.Height = 12
	sig, err := h.miner.Sign(ahead.SignHash())
	require.NoError(t, err)
	ahead.MinerSignature = sig
	decision, err := h.validator.Validate(ahead)
	require.NoError(t, err)
	assert.Equal(t, Defer, decision.Outcome)
	assert.Equal(t, DeferHeightAhead, decision.Reason)

	// At or below the tip: stale
	behind := h.proposal(t)
	behind.Height = 9
	sig, err = h.miner.Sign(behind.SignHash())
	require.NoError(t, err)
	behind.MinerSignature = sig
	decision, err = h.validator.Validate(behind)
	require.NoError(t, err)
	assert.Equal(t, Reject, decision.Outcome)
	assert.Equal(t, ReasonStaleHeight, decision.Reason)
}

func TestValidatorTenureStartChainsFromParentTenure(t *testing.T) {
	h := newHarness(t)
	// Prior tenure ended at height 9 with hash 0xaa
	prevTenureID := testConsensusHash(0x10)
	prevAccepted := stacks.BlockProposal{
		BlockHash:       testBlockHash(0xaa),
		ParentBlockHash: testBlockHash(0xa9),
		TenureID:        prevTenureID,
		Height:          9,
		BurnView:        prevTenureID,
	}
	require.NoError(t, h.store.AddProposal(prevAccepted, 99))
	h.views.prev = &stacks.SortitionView{
		ConsensusHash: prevTenureID,
		BurnHeight:    99,
		TenureStart:   true,
	}
	h.views.tenures[prevTenureID] = stacks.Tenure{
		ConsensusHash:   prevTenureID,
		StartBurnHeight: 99,
		AcceptedHeights: []uint64{9},
	}

	// Tenure-start block must chain from the prior tenure's tip
	proposal := h.proposal(t)
	proposal.ParentBlockHash = testBlockHash(0xee)
	sig, err := h.miner.Sign(proposal.SignHash())
	require.NoError(t, err)
	proposal.MinerSignature = sig
	decision, err := h.validator.Validate(proposal)
	require.NoError(t, err)
	assert.Equal(t, Reject, decision.Outcome)
	assert.Equal(t, ReasonParentMismatch, decision.Reason)

	proposal.ParentBlockHash = prevAccepted.BlockHash
	sig, err = h.miner.Sign(proposal.SignHash())
	require.NoError(t, err)
	proposal.MinerSignature = sig
	decision, err = h.validator.Validate(proposal)
	require.NoError(t, err)
	assert.Equal(t, Accept, decision.Outcome)
}

func TestValidatorTimeoutRejection(t *testing.T) {
	decision := TimeoutRejection()
	assert.Equal(t, Reject, decision.Outcome)
	assert.Equal(t, ReasonTimeout, decision.Reason)
}
