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

package chainstate

import (
	"errors"

	"github.com/blinklabs-io/gosigner/chainstate/models"
	"github.com/blinklabs-io/gosigner/stacks"
	"gorm.io/gorm"
)

// ErrResultTerminal is returned when attempting to update a quorum
// result that has already reached its terminal decision
var ErrResultTerminal = errors.New("quorum result is terminal")

// QuorumRecord is the persisted quorum tally for one block hash
type QuorumRecord struct {
	BlockHash        stacks.BlockHash
	Decision         stacks.Decision
	CumulativeWeight uint64
	TotalWeight      uint64
	Terminal         bool
	Retracted        bool
	BurnHeight       uint64
	Cycle            uint64
}

// SaveQuorumResult persists the current tally for a block hash. A
// terminal record is immutable; attempting to overwrite one returns
// ErrResultTerminal
func (s *Store) SaveQuorumResult(record QuorumRecord) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.QuorumResult
		result := tx.Where("block_hash = ?", record.BlockHash.String()).
			First(&existing)
		if result.Error != nil {
			if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return result.Error
			}
		} else if existing.Terminal {
			return ErrResultTerminal
		}
		item := models.QuorumResult{
			BlockHash:        record.BlockHash.String(),
			Decision:         uint8(record.Decision),
			CumulativeWeight: record.CumulativeWeight,
			TotalWeight:      record.TotalWeight,
			Terminal:         record.Terminal,
			Retracted:        record.Retracted,
			BurnHeight:       record.BurnHeight,
			Cycle:            record.Cycle,
		}
		return tx.Save(&item).Error
	})
}

// QuorumResultForBlock returns the stored tally for a block hash
func (s *Store) QuorumResultForBlock(
	blockHash stacks.BlockHash,
) (QuorumRecord, error) {
	var item models.QuorumResult
	result := s.db.Where("block_hash = ?", blockHash.String()).First(&item)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return QuorumRecord{}, ErrNotFound
		}
		return QuorumRecord{}, result.Error
	}
	return quorumFromModel(item)
}

// AcceptedProposalsAtOrBelowBurnHeight returns the proposals whose
// quorum result is a terminal, non-retracted accept recorded at or
// below the given burn height, ordered by burn height. Used to
// re-derive the local chain tip after a reorg rewind and on restart
func (s *Store) AcceptedProposalsAtOrBelowBurnHeight(
	height uint64,
) ([]stacks.BlockProposal, error) {
	var items []models.QuorumResult
	result := s.db.Where(
		"terminal = ? AND retracted = ? AND decision = ? AND burn_height <= ?",
		true,
		false,
		uint8(stacks.DecisionAccept),
		height,
	).Order("burn_height ASC").Find(&items)
	if result.Error != nil {
		return nil, result.Error
	}
	ret := make([]stacks.BlockProposal, 0, len(items))
	for _, item := range items {
		blockHash, err := stacks.NewBlockHash(item.BlockHash)
		if err != nil {
			return nil, err
		}
		proposal, err := s.ProposalByBlockHash(blockHash)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Proposal pruned; the result remains for audit only
				continue
			}
			return nil, err
		}
		ret = append(ret, proposal)
	}
	return ret, nil
}

// RetractQuorumResultsAboveBurnHeight marks all non-terminal quorum
// results referencing burn heights above the given height as
// retracted. Terminal results are never touched
func (s *Store) RetractQuorumResultsAboveBurnHeight(
	height uint64,
) ([]stacks.BlockHash, error) {
	var items []models.QuorumResult
	result := s.db.Where(
		"burn_height > ? AND terminal = ? AND retracted = ?",
		height,
		false,
		false,
	).Find(&items)
	if result.Error != nil {
		return nil, result.Error
	}
	retracted := make([]stacks.BlockHash, 0, len(items))
	for _, item := range items {
		if err := s.db.Model(&item).
			Update("retracted", true).Error; err != nil {
			return nil, err
		}
		blockHash, err := stacks.NewBlockHash(item.BlockHash)
		if err != nil {
			return nil, err
		}
		retracted = append(retracted, blockHash)
	}
	return retracted, nil
}

func quorumFromModel(item models.QuorumResult) (QuorumRecord, error) {
	blockHash, err := stacks.NewBlockHash(item.BlockHash)
	if err != nil {
		return QuorumRecord{}, err
	}
	return QuorumRecord{
		BlockHash:        blockHash,
		Decision:         stacks.Decision(item.Decision),
		CumulativeWeight: item.CumulativeWeight,
		TotalWeight:      item.TotalWeight,
		Terminal:         item.Terminal,
		Retracted:        item.Retracted,
		BurnHeight:       item.BurnHeight,
		Cycle:            item.Cycle,
	}, nil
}
