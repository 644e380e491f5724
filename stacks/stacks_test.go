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

package stacks_test

import (
	"strings"
	"testing"

	"github.com/blinklabs-io/gosigner/stacks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashParsersRoundTrip(t *testing.T) {
	chash, err := stacks.NewConsensusHash(
		strings.Repeat("ab", stacks.ConsensusHashSize),
	)
	require.NoError(t, err)
	parsed, err := stacks.NewConsensusHash(chash.String())
	require.NoError(t, err)
	assert.Equal(t, chash, parsed)

	blockHash, err := stacks.NewBlockHash(strings.Repeat("cd", 32))
	require.NoError(t, err)
	parsedBlock, err := stacks.NewBlockHash(blockHash.String())
	require.NoError(t, err)
	assert.Equal(t, blockHash, parsedBlock)

	burnHash, err := stacks.NewBurnHash(strings.Repeat("ef", 32))
	require.NoError(t, err)
	parsedBurn, err := stacks.NewBurnHash(burnHash.String())
	require.NoError(t, err)
	assert.Equal(t, burnHash, parsedBurn)
}

func TestHashParsersRejectBadInput(t *testing.T) {
	_, err := stacks.NewConsensusHash("zz")
	assert.Error(t, err)
	_, err = stacks.NewConsensusHash("abcd")
	assert.Error(t, err)
	_, err = stacks.NewBlockHash(strings.Repeat("ab", 16))
	assert.Error(t, err)
	_, err = stacks.NewBurnHash("not hex")
	assert.Error(t, err)
	_, err = stacks.NewSignerID(make([]byte, 32))
	assert.Error(t, err)
}

func TestProposalSignHashCoversAllFields(t *testing.T) {
	base := stacks.BlockProposal{
		Height: 10,
	}
	base.BlockHash[0] = 0x01
	base.ParentBlockHash[0] = 0x02
	base.TenureID[0] = 0x03
	base.BurnView[0] = 0x04

	// Deterministic for identical content
	assert.Equal(t, base.SignHash(), base.SignHash())

	// Any field change produces a different digest
	mutations := []func(p *stacks.BlockProposal){
		func(p *stacks.BlockProposal) { p.BlockHash[0] ^= 0xff },
		func(p *stacks.BlockProposal) { p.ParentBlockHash[0] ^= 0xff },
		func(p *stacks.BlockProposal) { p.TenureID[0] ^= 0xff },
		func(p *stacks.BlockProposal) { p.BurnView[0] ^= 0xff },
		func(p *stacks.BlockProposal) { p.Height++ },
	}
	for _, mutate := range mutations {
		mutated := base
		mutate(&mutated)
		assert.NotEqual(t, base.SignHash(), mutated.SignHash())
	}
}

func TestVoteSignHash(t *testing.T) {
	vote := stacks.Vote{Decision: stacks.DecisionAccept}
	vote.Signer[0] = 0x01
	vote.BlockHash[0] = 0x02

	assert.Equal(t, vote.SignHash(), vote.SignHash())

	flipped := vote
	flipped.Decision = stacks.DecisionReject
	assert.NotEqual(t, vote.SignHash(), flipped.SignHash())

	otherSigner := vote
	otherSigner.Signer[0] = 0x03
	assert.NotEqual(t, vote.SignHash(), otherSigner.SignHash())
}

func TestDecisionValid(t *testing.T) {
	assert.True(t, stacks.DecisionAccept.Valid())
	assert.True(t, stacks.DecisionReject.Valid())
	assert.False(t, stacks.Decision(0).Valid())
	assert.False(t, stacks.Decision(3).Valid())
}

func TestTenureTip(t *testing.T) {
	tenure := stacks.Tenure{}
	_, ok := tenure.Tip()
	assert.False(t, ok)

	tenure.AcceptedHeights = []uint64{10, 11, 12}
	tip, ok := tenure.Tip()
	require.True(t, ok)
	assert.Equal(t, uint64(12), tip)
}

func TestSignerSetHelpers(t *testing.T) {
	var a, b, c stacks.SignerID
	a[0] = 0x0a
	b[0] = 0x0b
	c[0] = 0x0c
	set := stacks.SignerSet{
		Cycle: 5,
		Entries: []stacks.SignerEntry{
			{ID: a, Weight: 3},
			{ID: b, Weight: 2},
		},
	}

	assert.Equal(t, uint64(5), set.TotalWeight())
	assert.Equal(t, uint64(3), set.WeightOf(a))
	assert.Equal(t, uint64(0), set.WeightOf(c))
	assert.True(t, set.Contains(b))
	assert.False(t, set.Contains(c))
	assert.Equal(t, 1, set.IndexOf(b))
	assert.Equal(t, -1, set.IndexOf(c))
}

func TestProposalKey(t *testing.T) {
	proposal := stacks.BlockProposal{Height: 7}
	proposal.TenureID[0] = 0x01
	key := proposal.Key()
	assert.Equal(t, proposal.TenureID, key.TenureID)
	assert.Equal(t, uint64(7), key.Height)
}
