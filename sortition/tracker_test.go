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

package sortition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blinklabs-io/gosigner/chainstate"
	"github.com/blinklabs-io/gosigner/stacks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a scripted chain source keyed by burn block hash
type fakeSource struct {
	results map[stacks.BurnHash]Result
	blocks  map[uint64]stacks.BurnBlock
	err     error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		results: make(map[stacks.BurnHash]Result),
		blocks:  make(map[uint64]stacks.BurnBlock),
	}
}

func (f *fakeSource) SortitionFor(
	_ context.Context,
	block stacks.BurnBlock,
) (Result, error) {
	if f.err != nil {
		return Result{}, f.err
	}
	return f.results[block.Hash], nil
}

func (f *fakeSource) BurnBlockAtHeight(
	_ context.Context,
	height uint64,
) (stacks.BurnBlock, error) {
	if f.err != nil {
		return stacks.BurnBlock{}, f.err
	}
	return f.blocks[height], nil
}

func testBurnHash(b byte) stacks.BurnHash {
	var ret stacks.BurnHash
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

func testBlockHash(b byte) stacks.BlockHash {
	var ret stacks.BlockHash
	for i := range ret {
		ret[i] = b
	}
	return ret
}

func testSignerID(b byte) stacks.SignerID {
	var ret stacks.SignerID
	ret[0] = 0x02
	for i := 1; i < len(ret); i++ {
		ret[i] = b
	}
	return ret
}

func testBurnBlock(height uint64, hash, parent byte) stacks.BurnBlock {
	return stacks.BurnBlock{
		Height:     height,
		Hash:       testBurnHash(hash),
		ParentHash: testBurnHash(parent),
		Timestamp:  time.Now(),
	}
}

// winning registers a winning sortition for the block
func (f *fakeSource) winning(
	block stacks.BurnBlock,
	chash stacks.ConsensusHash,
	miner stacks.SignerID,
) {
	f.blocks[block.Height] = block
	f.results[block.Hash] = Result{ConsensusHash: chash, Winner: &miner}
}

// empty registers an empty sortition for the block
func (f *fakeSource) empty(
	block stacks.BurnBlock,
	chash stacks.ConsensusHash,
) {
	f.blocks[block.Height] = block
	f.results[block.Hash] = Result{ConsensusHash: chash}
}

func testTracker(t *testing.T) (*Tracker, *fakeSource, *chainstate.Store) {
	t.Helper()
	store, err := chainstate.New(&chainstate.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	source := newFakeSource()
	tracker, err := New(&Config{Store: store, Source: source})
	require.NoError(t, err)
	return tracker, source, store
}

func TestTrackerNewSortition(t *testing.T) {
	tracker, source, _ := testTracker(t)
	miner := testSignerID(0xaa)
	block := testBurnBlock(100, 0x01, 0x00)
	source.winning(block, testConsensusHash(0x11), miner)

	evt, err := tracker.Observe(context.Background(), block)
	require.NoError(t, err)
	require.Equal(t, NewSortition, evt.Kind)
	assert.Equal(t, uint64(100), evt.View.BurnHeight)
	require.NotNil(t, evt.View.WinningMiner)
	assert.Equal(t, miner, *evt.View.WinningMiner)
	assert.True(t, evt.View.TenureStart)

	view, ok := tracker.CurrentView()
	require.True(t, ok)
	assert.Equal(t, evt.View, view)

	tenure, ok := tracker.TenureFor(testConsensusHash(0x11))
	require.True(t, ok)
	assert.Equal(t, miner, tenure.WinningMiner)
	assert.Equal(t, uint64(100), tenure.StartBurnHeight)
}

func TestTrackerEmptySortitionExtendsTenure(t *testing.T) {
	tracker, source, _ := testTracker(t)
	tenureHash := testConsensusHash(0x11)
	first := testBurnBlock(100, 0x01, 0x00)
	source.winning(first, tenureHash, testSignerID(0xaa))
	_, err := tracker.Observe(context.Background(), first)
	require.NoError(t, err)

	second := testBurnBlock(101, 0x02, 0x01)
	source.empty(second, testConsensusHash(0x22))
	evt, err := tracker.Observe(context.Background(), second)
	require.NoError(t, err)
	require.Equal(t, EmptySortition, evt.Kind)
	// Extension view stays under the continuing tenure
	assert.Equal(t, tenureHash, evt.View.ConsensusHash)
	assert.True(t, evt.View.Empty())

	tenure, ok := tracker.TenureFor(tenureHash)
	require.True(t, ok)
	assert.True(t, tenure.Extended)

	// Previous view retained for prior-tenure proposals
	prev, ok := tracker.PreviousView()
	require.True(t, ok)
	assert.Equal(t, uint64(100), prev.BurnHeight)
}

func TestTrackerStaleDuplicate(t *testing.T) {
	tracker, source, _ := testTracker(t)
	block := testBurnBlock(100, 0x01, 0x00)
	source.winning(block, testConsensusHash(0x11), testSignerID(0xaa))
	_, err := tracker.Observe(context.Background(), block)
	require.NoError(t, err)

	evt, err := tracker.Observe(context.Background(), block)
	require.NoError(t, err)
	assert.Equal(t, NoChange, evt.Kind)
}

func TestTrackerMonotonicHeights(t *testing.T) {
	tracker, source, _ := testTracker(t)
	var reported []uint64
	parent := byte(0x00)
	for height := uint64(100); height <= 105; height++ {
		hash := byte(height)
		block := testBurnBlock(height, hash, parent)
		source.winning(
			block,
			testConsensusHash(hash),
			testSignerID(0xaa),
		)
		evt, err := tracker.Observe(context.Background(), block)
		require.NoError(t, err)
		require.Equal(t, NewSortition, evt.Kind)
		reported = append(reported, evt.View.BurnHeight)
		parent = hash
	}
	for i := 1; i < len(reported); i++ {
		assert.Greater(t, reported[i], reported[i-1])
	}
}

func TestTrackerReorg(t *testing.T) {
	tracker, source, store := testTracker(t)
	// Heights 100..102 on the original fork
	parent := byte(0x00)
	for height := uint64(100); height <= 102; height++ {
		hash := byte(height)
		block := testBurnBlock(height, hash, parent)
		source.winning(
			block,
			testConsensusHash(hash),
			testSignerID(0xaa),
		)
		_, err := tracker.Observe(context.Background(), block)
		require.NoError(t, err)
		parent = hash
	}

	// Canonical chain replaces heights 101+ with a new fork
	forked := testBurnBlock(101, 0xf1, byte(100))
	source.winning(forked, testConsensusHash(0xf1), testSignerID(0xbb))
	evt, err := tracker.Observe(context.Background(), forked)
	require.NoError(t, err)
	require.Equal(t, ReorgDetected, evt.Kind)
	assert.Equal(t, uint64(100), evt.RewindHeight)

	// Stored history above the fork point is gone
	_, err = store.BurnBlockByHeight(101)
	require.ErrorIs(t, err, chainstate.ErrNotFound)
	view, ok := tracker.CurrentView()
	require.True(t, ok)
	assert.Equal(t, uint64(100), view.BurnHeight)

	// A lower height is accepted immediately after the reorg
	evt, err = tracker.Observe(context.Background(), forked)
	require.NoError(t, err)
	require.Equal(t, NewSortition, evt.Kind)
	assert.Equal(t, uint64(101), evt.View.BurnHeight)
}

// recordAcceptedBlock persists a proposal and its terminal accept so
// the tip can be re-derived from the store
func recordAcceptedBlock(
	t *testing.T,
	store *chainstate.Store,
	tenure stacks.ConsensusHash,
	height uint64,
	hash byte,
	burnHeight uint64,
) stacks.BlockProposal {
	t.Helper()
	proposal := stacks.BlockProposal{
		BlockHash:       testBlockHash(hash),
		ParentBlockHash: testBlockHash(0x00),
		TenureID:        tenure,
		Height:          height,
		BurnView:        tenure,
	}
	require.NoError(t, store.AddProposal(proposal, burnHeight))
	require.NoError(t, store.SaveQuorumResult(chainstate.QuorumRecord{
		BlockHash:        proposal.BlockHash,
		Decision:         stacks.DecisionAccept,
		CumulativeWeight: 3,
		TotalWeight:      3,
		Terminal:         true,
		BurnHeight:       burnHeight,
	}))
	return proposal
}

func TestTrackerReorgRewindsTip(t *testing.T) {
	tracker, source, store := testTracker(t)
	parent := byte(0x00)
	for height := uint64(100); height <= 102; height++ {
		hash := byte(height)
		block := testBurnBlock(height, hash, parent)
		source.winning(
			block,
			testConsensusHash(hash),
			testSignerID(0xaa),
		)
		_, err := tracker.Observe(context.Background(), block)
		require.NoError(t, err)
		parent = hash
	}

	// Accepted blocks at heights 1 and 2, the latter above the coming
	// fork point
	recordAcceptedBlock(t, store, testConsensusHash(100), 1, 0x01, 100)
	recordAcceptedBlock(t, store, testConsensusHash(102), 2, 0x02, 102)
	tracker.RecordAcceptedBlock(testConsensusHash(100), 1)
	tracker.RecordAcceptedBlock(testConsensusHash(102), 2)
	require.Equal(t, uint64(2), tracker.TipHeight())

	forked := testBurnBlock(101, 0xf1, byte(100))
	source.winning(forked, testConsensusHash(0xf1), testSignerID(0xbb))
	evt, err := tracker.Observe(context.Background(), forked)
	require.NoError(t, err)
	require.Equal(t, ReorgDetected, evt.Kind)
	require.Equal(t, uint64(100), evt.RewindHeight)

	// The accept above the fork is orphaned; the surviving one remains
	assert.Equal(t, uint64(1), tracker.TipHeight())
	tenure, ok := tracker.TenureFor(testConsensusHash(100))
	require.True(t, ok)
	tip, ok := tenure.Tip()
	require.True(t, ok)
	assert.Equal(t, uint64(1), tip)
	_, ok = tracker.TenureFor(testConsensusHash(102))
	assert.False(t, ok)
}

func TestTrackerSourceErrorNoStateChange(t *testing.T) {
	tracker, source, store := testTracker(t)
	sourceErr := errors.New("chain node unreachable")
	source.err = sourceErr

	block := testBurnBlock(100, 0x01, 0x00)
	_, err := tracker.Observe(context.Background(), block)
	require.ErrorIs(t, err, sourceErr)

	// No fabricated view, no stored block
	_, ok := tracker.CurrentView()
	assert.False(t, ok)
	_, err = store.BurnBlockByHeight(100)
	require.ErrorIs(t, err, chainstate.ErrNotFound)

	// Retry after the source recovers
	source.err = nil
	source.winning(block, testConsensusHash(0x11), testSignerID(0xaa))
	evt, err := tracker.Observe(context.Background(), block)
	require.NoError(t, err)
	assert.Equal(t, NewSortition, evt.Kind)
}

func TestTrackerRestartRestore(t *testing.T) {
	dataDir := t.TempDir()
	store, err := chainstate.New(&chainstate.Config{DataDir: dataDir})
	require.NoError(t, err)
	source := newFakeSource()
	tracker, err := New(&Config{Store: store, Source: source})
	require.NoError(t, err)

	tenureHash := testConsensusHash(0x11)
	miner := testSignerID(0xaa)
	first := testBurnBlock(100, 0x01, 0x00)
	source.winning(first, tenureHash, miner)
	_, err = tracker.Observe(context.Background(), first)
	require.NoError(t, err)
	second := testBurnBlock(101, 0x02, 0x01)
	source.empty(second, testConsensusHash(0x22))
	_, err = tracker.Observe(context.Background(), second)
	require.NoError(t, err)
	recordAcceptedBlock(t, store, tenureHash, 1, 0x01, 100)
	require.NoError(t, store.Close())

	// Restart
	store, err = chainstate.New(&chainstate.Config{DataDir: dataDir})
	require.NoError(t, err)
	defer store.Close()
	tracker, err = New(&Config{Store: store, Source: source})
	require.NoError(t, err)

	view, ok := tracker.CurrentView()
	require.True(t, ok)
	assert.Equal(t, uint64(101), view.BurnHeight)
	assert.Equal(t, tenureHash, view.ConsensusHash)

	tenure, ok := tracker.TenureFor(tenureHash)
	require.True(t, ok)
	assert.Equal(t, miner, tenure.WinningMiner)
	assert.True(t, tenure.Extended)

	// The chain tip is seeded from the persisted terminal accept, so a
	// proposal at the next height validates instead of timing out
	assert.Equal(t, uint64(1), tracker.TipHeight())
	tip, ok := tenure.Tip()
	require.True(t, ok)
	assert.Equal(t, uint64(1), tip)
}

func TestTrackerAcceptedBlocks(t *testing.T) {
	tracker, source, _ := testTracker(t)
	tenureHash := testConsensusHash(0x11)
	block := testBurnBlock(100, 0x01, 0x00)
	source.winning(block, tenureHash, testSignerID(0xaa))
	_, err := tracker.Observe(context.Background(), block)
	require.NoError(t, err)

	tracker.RecordAcceptedBlock(tenureHash, 10)
	tracker.RecordAcceptedBlock(tenureHash, 11)
	assert.Equal(t, uint64(11), tracker.TipHeight())

	tenure, ok := tracker.TenureFor(tenureHash)
	require.True(t, ok)
	tip, ok := tenure.Tip()
	require.True(t, ok)
	assert.Equal(t, uint64(11), tip)

	// Reorg past height 10 trims accepted heights
	tracker.SetTipHeight(10)
	tenure, _ = tracker.TenureFor(tenureHash)
	tip, _ = tenure.Tip()
	assert.Equal(t, uint64(10), tip)
}
