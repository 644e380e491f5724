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

// Package stacks defines the chain primitives shared by the signer
// subsystems: burn blocks, sortition views, tenures, block proposals,
// votes, and signer sets.
package stacks

import (
	"encoding/hex"
	"fmt"
	"time"
)

// ConsensusHashSize is the size of a sortition consensus hash in bytes
const ConsensusHashSize = 20

// ConsensusHash identifies a sortition and the tenure it started
type ConsensusHash [ConsensusHashSize]byte

func (c ConsensusHash) String() string {
	return hex.EncodeToString(c[:])
}

func (c ConsensusHash) Bytes() []byte {
	return c[:]
}

// IsZero returns true for the all-zero consensus hash
func (c ConsensusHash) IsZero() bool {
	return c == ConsensusHash{}
}

// NewConsensusHash parses a hex-encoded consensus hash
func NewConsensusHash(s string) (ConsensusHash, error) {
	var ret ConsensusHash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ret, fmt.Errorf("invalid consensus hash: %w", err)
	}
	if len(raw) != ConsensusHashSize {
		return ret, fmt.Errorf(
			"invalid consensus hash length: %d",
			len(raw),
		)
	}
	copy(ret[:], raw)
	return ret, nil
}

// BurnHash is a burn chain block hash
type BurnHash [32]byte

func (h BurnHash) String() string {
	return hex.EncodeToString(h[:])
}

func (h BurnHash) Bytes() []byte {
	return h[:]
}

// NewBurnHash parses a hex-encoded burn chain block hash
func NewBurnHash(s string) (BurnHash, error) {
	var ret BurnHash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ret, fmt.Errorf("invalid burn hash: %w", err)
	}
	if len(raw) != len(ret) {
		return ret, fmt.Errorf("invalid burn hash length: %d", len(raw))
	}
	copy(ret[:], raw)
	return ret, nil
}

// BlockHash is a proposed chain block hash
type BlockHash [32]byte

func (h BlockHash) String() string {
	return hex.EncodeToString(h[:])
}

func (h BlockHash) Bytes() []byte {
	return h[:]
}

func (h BlockHash) IsZero() bool {
	return h == BlockHash{}
}

// NewBlockHash parses a hex-encoded block hash
func NewBlockHash(s string) (BlockHash, error) {
	var ret BlockHash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ret, fmt.Errorf("invalid block hash: %w", err)
	}
	if len(raw) != len(ret) {
		return ret, fmt.Errorf("invalid block hash length: %d", len(raw))
	}
	copy(ret[:], raw)
	return ret, nil
}

// SignerIDSize is the size of a compressed secp256k1 public key
const SignerIDSize = 33

// SignerID identifies a signer (or miner) by compressed public key
type SignerID [SignerIDSize]byte

func (s SignerID) String() string {
	return hex.EncodeToString(s[:])
}

func (s SignerID) Bytes() []byte {
	return s[:]
}

// NewSignerID builds a SignerID from raw compressed public key bytes
func NewSignerID(raw []byte) (SignerID, error) {
	var ret SignerID
	if len(raw) != SignerIDSize {
		return ret, fmt.Errorf("invalid signer ID length: %d", len(raw))
	}
	copy(ret[:], raw)
	return ret, nil
}

// BurnBlock is a single observed burn chain block. Burn blocks are
// immutable once observed and are ordered by height
type BurnBlock struct {
	Height     uint64
	Hash       BurnHash
	ParentHash BurnHash
	Timestamp  time.Time
}

// SortitionView is the signer's view of a single sortition. A view is
// replaced wholesale when a new sortition is observed, never mutated
// in place. WinningMiner is nil on an empty sortition
type SortitionView struct {
	ConsensusHash ConsensusHash
	BurnHeight    uint64
	WinningMiner  *SignerID
	TenureStart   bool
}

// Empty returns true when the sortition elected no miner
func (v *SortitionView) Empty() bool {
	return v.WinningMiner == nil
}

// Tenure is the span of blocks produced by one winning miner. It is
// identified by the consensus hash of its starting sortition and is
// extended, not replaced, across empty sortitions
type Tenure struct {
	ConsensusHash   ConsensusHash
	StartBurnHeight uint64
	WinningMiner    SignerID
	AcceptedHeights []uint64
	Extended        bool
}

// Tip returns the highest accepted block height in the tenure and
// whether any block has been accepted yet
func (t *Tenure) Tip() (uint64, bool) {
	if len(t.AcceptedHeights) == 0 {
		return 0, false
	}
	return t.AcceptedHeights[len(t.AcceptedHeights)-1], true
}

// SignerEntry is one signer's membership in a signer set
type SignerEntry struct {
	ID     SignerID
	Weight uint64
}

// SignerSet is the ordered signer membership for one reward cycle.
// It is immutable once finalized for a cycle
type SignerSet struct {
	Cycle   uint64
	Entries []SignerEntry
}

// TotalWeight returns the sum of all entry weights
func (s *SignerSet) TotalWeight() uint64 {
	var total uint64
	for _, entry := range s.Entries {
		total += entry.Weight
	}
	return total
}

// WeightOf returns the voting weight for the given signer, or zero if
// the signer is not a member
func (s *SignerSet) WeightOf(id SignerID) uint64 {
	for _, entry := range s.Entries {
		if entry.ID == id {
			return entry.Weight
		}
	}
	return 0
}

// Contains returns true if the given signer is a member of the set
func (s *SignerSet) Contains(id SignerID) bool {
	for _, entry := range s.Entries {
		if entry.ID == id {
			return true
		}
	}
	return false
}

// IndexOf returns the position of the given signer within the ordered
// set, or -1 if the signer is not a member. The index determines the
// signer's slot allocation in the replicated message store
func (s *SignerSet) IndexOf(id SignerID) int {
	for idx, entry := range s.Entries {
		if entry.ID == id {
			return idx
		}
	}
	return -1
}
