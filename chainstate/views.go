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

// AddBurnBlock records an observed burn chain block
func (s *Store) AddBurnBlock(block stacks.BurnBlock) error {
	item := models.BurnBlock{
		Height:     block.Height,
		Hash:       block.Hash.String(),
		ParentHash: block.ParentHash.String(),
		Timestamp:  block.Timestamp,
	}
	return s.db.Save(&item).Error
}

// BurnBlockByHeight returns the stored burn block at the given height
func (s *Store) BurnBlockByHeight(height uint64) (stacks.BurnBlock, error) {
	var item models.BurnBlock
	result := s.db.Where("height = ?", height).First(&item)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return stacks.BurnBlock{}, ErrNotFound
		}
		return stacks.BurnBlock{}, result.Error
	}
	return burnBlockFromModel(item)
}

// AddSortitionView records a sortition view transition
func (s *Store) AddSortitionView(view stacks.SortitionView) error {
	item := models.SortitionView{
		ConsensusHash: view.ConsensusHash.String(),
		BurnHeight:    view.BurnHeight,
		TenureStart:   view.TenureStart,
	}
	if view.WinningMiner != nil {
		item.WinningMiner = view.WinningMiner.String()
	}
	return s.db.Create(&item).Error
}

// LatestView returns the stored view with the highest burn height
func (s *Store) LatestView() (stacks.SortitionView, error) {
	var item models.SortitionView
	result := s.db.Order("burn_height DESC, id DESC").First(&item)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return stacks.SortitionView{}, ErrNotFound
		}
		return stacks.SortitionView{}, result.Error
	}
	return viewFromModel(item)
}

// LatestViewForTenure returns the newest stored view for the given
// tenure's consensus hash
func (s *Store) LatestViewForTenure(
	consensusHash stacks.ConsensusHash,
) (stacks.SortitionView, error) {
	var item models.SortitionView
	result := s.db.Where("consensus_hash = ?", consensusHash.String()).
		Order("burn_height DESC, id DESC").
		First(&item)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return stacks.SortitionView{}, ErrNotFound
		}
		return stacks.SortitionView{}, result.Error
	}
	return viewFromModel(item)
}

// TenureStartView returns the tenure-start view for the given tenure's
// consensus hash, used to recover the winning miner after a restart
func (s *Store) TenureStartView(
	consensusHash stacks.ConsensusHash,
) (stacks.SortitionView, error) {
	var item models.SortitionView
	result := s.db.Where(
		"consensus_hash = ? AND tenure_start = ?",
		consensusHash.String(),
		true,
	).
		Order("burn_height ASC, id ASC").
		First(&item)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return stacks.SortitionView{}, ErrNotFound
		}
		return stacks.SortitionView{}, result.Error
	}
	return viewFromModel(item)
}

// RewindToBurnHeight deletes burn blocks and sortition views above the
// given height. Used for explicit reorg handling only
func (s *Store) RewindToBurnHeight(height uint64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("height > ?", height).
			Delete(&models.BurnBlock{}).Error; err != nil {
			return err
		}
		return tx.Where("burn_height > ?", height).
			Delete(&models.SortitionView{}).Error
	})
}

func viewFromModel(item models.SortitionView) (stacks.SortitionView, error) {
	chash, err := stacks.NewConsensusHash(item.ConsensusHash)
	if err != nil {
		return stacks.SortitionView{}, err
	}
	ret := stacks.SortitionView{
		ConsensusHash: chash,
		BurnHeight:    item.BurnHeight,
		TenureStart:   item.TenureStart,
	}
	if item.WinningMiner != "" {
		miner, err := parseSignerID(item.WinningMiner)
		if err != nil {
			return stacks.SortitionView{}, err
		}
		ret.WinningMiner = &miner
	}
	return ret, nil
}

func burnBlockFromModel(item models.BurnBlock) (stacks.BurnBlock, error) {
	hash, err := parseBurnHash(item.Hash)
	if err != nil {
		return stacks.BurnBlock{}, err
	}
	parent, err := parseBurnHash(item.ParentHash)
	if err != nil {
		return stacks.BurnBlock{}, err
	}
	return stacks.BurnBlock{
		Height:     item.Height,
		Hash:       hash,
		ParentHash: parent,
		Timestamp:  item.Timestamp,
	}, nil
}
