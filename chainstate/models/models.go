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

// Package models defines the persisted record types for the chainstate
// store. All records are append-only; rows are only deleted on an
// explicit reorg rewind or when pruning fully finalized reward cycles.
package models

import "time"

// MigrateModels is the list of model types passed to AutoMigrate at
// store open
var MigrateModels = []any{
	&BurnBlock{},
	&SortitionView{},
	&BlockProposal{},
	&Vote{},
	&QuorumResult{},
	&SignerSetEntry{},
}

// BurnBlock is an observed burn chain block
type BurnBlock struct {
	Height     uint64    `gorm:"primaryKey;column:height"`
	Hash       string    `gorm:"column:hash;index:idx_burn_block_hash"`
	ParentHash string    `gorm:"column:parent_hash"`
	Timestamp  time.Time `gorm:"column:timestamp"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName overrides default table name
func (BurnBlock) TableName() string {
	return "burn_block"
}

// SortitionView is a recorded sortition view transition. WinningMiner
// is empty for an empty sortition
type SortitionView struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement;column:id"`
	ConsensusHash string    `gorm:"column:consensus_hash;index:idx_sortition_view_chash"`
	BurnHeight    uint64    `gorm:"column:burn_height;index:idx_sortition_view_height"`
	WinningMiner  string    `gorm:"column:winning_miner"`
	TenureStart   bool      `gorm:"column:tenure_start"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName overrides default table name
func (SortitionView) TableName() string {
	return "sortition_view"
}

// BlockProposal is a received block proposal. The dedup key is
// (tenure_id, height); a later proposal at the same key marks earlier
// rows superseded rather than replacing them
type BlockProposal struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement;column:id"`
	TenureID        string    `gorm:"column:tenure_id;index:idx_block_proposal_key"`
	Height          uint64    `gorm:"column:height;index:idx_block_proposal_key"`
	BlockHash       string    `gorm:"column:block_hash;index:idx_block_proposal_hash"`
	ParentBlockHash string    `gorm:"column:parent_block_hash"`
	BurnView        string    `gorm:"column:burn_view"`
	MinerSignature  []byte    `gorm:"column:miner_signature"`
	BurnHeight      uint64    `gorm:"column:burn_height"`
	Superseded      bool      `gorm:"column:superseded"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName overrides default table name
func (BlockProposal) TableName() string {
	return "block_proposal"
}

// Vote is a stored vote, our own or a peer's. Equivocating peer votes
// are retained for audit with Excluded set
type Vote struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement;column:id"`
	Signer    string    `gorm:"column:signer;index:idx_vote_signer_block"`
	BlockHash string    `gorm:"column:block_hash;index:idx_vote_signer_block;index:idx_vote_block"`
	Decision  uint8     `gorm:"column:decision"`
	Signature []byte    `gorm:"column:signature"`
	Own       bool      `gorm:"column:own"`
	Excluded  bool      `gorm:"column:excluded"`
	Cycle     uint64    `gorm:"column:cycle"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName overrides default table name
func (Vote) TableName() string {
	return "vote"
}

// QuorumResult is the running (or terminal) quorum tally for one block
// hash
type QuorumResult struct {
	BlockHash        string    `gorm:"primaryKey;column:block_hash"`
	Decision         uint8     `gorm:"column:decision"`
	CumulativeWeight uint64    `gorm:"column:cumulative_weight"`
	TotalWeight      uint64    `gorm:"column:total_weight"`
	Terminal         bool      `gorm:"column:terminal"`
	Retracted        bool      `gorm:"column:retracted"`
	BurnHeight       uint64    `gorm:"column:burn_height"`
	Cycle            uint64    `gorm:"column:cycle"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides default table name
func (QuorumResult) TableName() string {
	return "quorum_result"
}

// SignerSetEntry is one signer's membership in a reward cycle's signer
// set. The full set for a cycle is the ordered list of entries
type SignerSetEntry struct {
	Cycle     uint64    `gorm:"primaryKey;column:cycle"`
	Idx       int       `gorm:"primaryKey;column:idx"`
	Signer    string    `gorm:"column:signer"`
	Weight    uint64    `gorm:"column:weight"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName overrides default table name
func (SignerSetEntry) TableName() string {
	return "signer_set_entry"
}
