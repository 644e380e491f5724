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

// AddProposal records a received block proposal. Any earlier proposal
// at the same (tenure, height) is marked superseded, keeping at most
// one active proposal per dedup key
func (s *Store) AddProposal(
	proposal stacks.BlockProposal,
	burnHeight uint64,
) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.BlockProposal{}).
			Where(
				"tenure_id = ? AND height = ? AND superseded = ?",
				proposal.TenureID.String(),
				proposal.Height,
				false,
			).
			Update("superseded", true).Error; err != nil {
			return err
		}
		item := models.BlockProposal{
			TenureID:        proposal.TenureID.String(),
			Height:          proposal.Height,
			BlockHash:       proposal.BlockHash.String(),
			ParentBlockHash: proposal.ParentBlockHash.String(),
			BurnView:        proposal.BurnView.String(),
			MinerSignature:  proposal.MinerSignature,
			BurnHeight:      burnHeight,
		}
		return tx.Create(&item).Error
	})
}

// ActiveProposal returns the non-superseded proposal for the given
// (tenure, height), if any
func (s *Store) ActiveProposal(
	key stacks.ProposalKey,
) (stacks.BlockProposal, error) {
	var item models.BlockProposal
	result := s.db.Where(
		"tenure_id = ? AND height = ? AND superseded = ?",
		key.TenureID.String(),
		key.Height,
		false,
	).First(&item)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return stacks.BlockProposal{}, ErrNotFound
		}
		return stacks.BlockProposal{}, result.Error
	}
	return proposalFromModel(item)
}

// ProposalByBlockHash returns the stored proposal with the given block
// hash
func (s *Store) ProposalByBlockHash(
	blockHash stacks.BlockHash,
) (stacks.BlockProposal, error) {
	var item models.BlockProposal
	result := s.db.Where("block_hash = ?", blockHash.String()).
		Order("id DESC").
		First(&item)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return stacks.BlockProposal{}, ErrNotFound
		}
		return stacks.BlockProposal{}, result.Error
	}
	return proposalFromModel(item)
}

// ProposalsAboveBurnHeight returns all non-superseded proposals whose
// referenced burn height is above the given height. Used to clear
// decision state for proposals orphaned by a reorg rewind
func (s *Store) ProposalsAboveBurnHeight(
	height uint64,
) ([]stacks.BlockProposal, error) {
	var items []models.BlockProposal
	result := s.db.Where(
		"burn_height > ? AND superseded = ?",
		height,
		false,
	).Find(&items)
	if result.Error != nil {
		return nil, result.Error
	}
	ret := make([]stacks.BlockProposal, 0, len(items))
	for _, item := range items {
		proposal, err := proposalFromModel(item)
		if err != nil {
			return nil, err
		}
		ret = append(ret, proposal)
	}
	return ret, nil
}

func proposalFromModel(
	item models.BlockProposal,
) (stacks.BlockProposal, error) {
	blockHash, err := stacks.NewBlockHash(item.BlockHash)
	if err != nil {
		return stacks.BlockProposal{}, err
	}
	parentHash, err := stacks.NewBlockHash(item.ParentBlockHash)
	if err != nil {
		return stacks.BlockProposal{}, err
	}
	tenureID, err := stacks.NewConsensusHash(item.TenureID)
	if err != nil {
		return stacks.BlockProposal{}, err
	}
	burnView, err := stacks.NewConsensusHash(item.BurnView)
	if err != nil {
		return stacks.BlockProposal{}, err
	}
	return stacks.BlockProposal{
		BlockHash:       blockHash,
		ParentBlockHash: parentHash,
		TenureID:        tenureID,
		Height:          item.Height,
		MinerSignature:  item.MinerSignature,
		BurnView:        burnView,
	}, nil
}
