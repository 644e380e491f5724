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

package stacks

import (
	"crypto/sha256"
	"encoding/binary"
)

// BlockProposal is a candidate block received from a miner. Proposals
// are deduplicated by (tenure, height), not block hash: a later
// proposal at the same height from the same tenure is a miner retry
// and supersedes the earlier one
type BlockProposal struct {
	BlockHash       BlockHash
	ParentBlockHash BlockHash
	TenureID        ConsensusHash
	Height          uint64
	MinerSignature  []byte
	BurnView        ConsensusHash
}

// ProposalKey is the dedup key for proposals
type ProposalKey struct {
	TenureID ConsensusHash
	Height   uint64
}

// Key returns the proposal's dedup key
func (p *BlockProposal) Key() ProposalKey {
	return ProposalKey{
		TenureID: p.TenureID,
		Height:   p.Height,
	}
}

// SignHash computes the digest covered by the miner's signature
func (p *BlockProposal) SignHash() []byte {
	h := sha256.New()
	h.Write(p.BlockHash[:])
	h.Write(p.ParentBlockHash[:])
	h.Write(p.TenureID[:])
	h.Write(p.BurnView[:])
	var heightBytes [8]byte
	binary.BigEndian.PutUint64(heightBytes[:], p.Height)
	h.Write(heightBytes[:])
	return h.Sum(nil)
}
