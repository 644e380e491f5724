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

// RecordOwnVote persists our own vote. Recording the identical vote
// again is a no-op (idempotent republish); a differing decision for
// the same block hash returns ErrVoteConflict and nothing is written
func (s *Store) RecordOwnVote(vote stacks.Vote, cycle uint64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Vote
		result := tx.Where(
			"signer = ? AND block_hash = ? AND own = ?",
			vote.Signer.String(),
			vote.BlockHash.String(),
			true,
		).First(&existing)
		if result.Error != nil {
			if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return result.Error
			}
		} else {
			if existing.Decision != uint8(vote.Decision) {
				return ErrVoteConflict
			}
			// Same vote already recorded
			return nil
		}
		item := models.Vote{
			Signer:    vote.Signer.String(),
			BlockHash: vote.BlockHash.String(),
			Decision:  uint8(vote.Decision),
			Signature: vote.Signature,
			Own:       true,
			Cycle:     cycle,
		}
		return tx.Create(&item).Error
	})
}

// RecordPeerVote persists a peer's vote for audit. Duplicate identical
// votes are ignored; a differing decision is stored as well (both
// halves of an equivocation are retained) with excluded controlled by
// the caller
func (s *Store) RecordPeerVote(
	vote stacks.Vote,
	cycle uint64,
	excluded bool,
) error {
	var existing models.Vote
	result := s.db.Where(
		"signer = ? AND block_hash = ? AND decision = ?",
		vote.Signer.String(),
		vote.BlockHash.String(),
		uint8(vote.Decision),
	).First(&existing)
	if result.Error == nil {
		// Already stored; only promote the excluded flag
		if excluded && !existing.Excluded {
			return s.db.Model(&existing).Update("excluded", true).Error
		}
		return nil
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return result.Error
	}
	item := models.Vote{
		Signer:    vote.Signer.String(),
		BlockHash: vote.BlockHash.String(),
		Decision:  uint8(vote.Decision),
		Signature: vote.Signature,
		Cycle:     cycle,
		Excluded:  excluded,
	}
	return s.db.Create(&item).Error
}

// MarkVotesExcluded flags all stored votes from the given signer for
// the given block hash as excluded from quorum counting
func (s *Store) MarkVotesExcluded(
	signer stacks.SignerID,
	blockHash stacks.BlockHash,
) error {
	return s.db.Model(&models.Vote{}).
		Where(
			"signer = ? AND block_hash = ?",
			signer.String(),
			blockHash.String(),
		).
		Update("excluded", true).Error
}

// OwnVoteForBlock answers "what did I vote for block H" for audit and
// for refusing equivocation
func (s *Store) OwnVoteForBlock(
	signer stacks.SignerID,
	blockHash stacks.BlockHash,
) (stacks.Vote, error) {
	var item models.Vote
	result := s.db.Where(
		"signer = ? AND block_hash = ? AND own = ?",
		signer.String(),
		blockHash.String(),
		true,
	).First(&item)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return stacks.Vote{}, ErrNotFound
		}
		return stacks.Vote{}, result.Error
	}
	return voteFromModel(item)
}

// VotesForBlock returns all stored votes for the given block hash,
// including excluded ones
func (s *Store) VotesForBlock(
	blockHash stacks.BlockHash,
) ([]stacks.Vote, error) {
	var items []models.Vote
	result := s.db.Where("block_hash = ?", blockHash.String()).
		Order("id ASC").
		Find(&items)
	if result.Error != nil {
		return nil, result.Error
	}
	ret := make([]stacks.Vote, 0, len(items))
	for _, item := range items {
		vote, err := voteFromModel(item)
		if err != nil {
			return nil, err
		}
		ret = append(ret, vote)
	}
	return ret, nil
}

// OwnVotes returns all of our own stored votes, newest first
func (s *Store) OwnVotes() ([]stacks.Vote, error) {
	var items []models.Vote
	result := s.db.Where("own = ?", true).
		Order("id DESC").
		Find(&items)
	if result.Error != nil {
		return nil, result.Error
	}
	ret := make([]stacks.Vote, 0, len(items))
	for _, item := range items {
		vote, err := voteFromModel(item)
		if err != nil {
			return nil, err
		}
		ret = append(ret, vote)
	}
	return ret, nil
}

func voteFromModel(item models.Vote) (stacks.Vote, error) {
	signer, err := parseSignerID(item.Signer)
	if err != nil {
		return stacks.Vote{}, err
	}
	blockHash, err := stacks.NewBlockHash(item.BlockHash)
	if err != nil {
		return stacks.Vote{}, err
	}
	return stacks.Vote{
		Signer:    signer,
		BlockHash: blockHash,
		Decision:  stacks.Decision(item.Decision),
		Signature: item.Signature,
	}, nil
}
