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
	"github.com/blinklabs-io/gosigner/chainstate/models"
	"github.com/blinklabs-io/gosigner/stacks"
	"gorm.io/gorm"
)

// SaveSignerSet persists the signer set for a reward cycle. Sets are
// immutable once finalized; saving replaces any partial earlier write
// for the same cycle wholesale
func (s *Store) SaveSignerSet(set *stacks.SignerSet) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cycle = ?", set.Cycle).
			Delete(&models.SignerSetEntry{}).Error; err != nil {
			return err
		}
		for idx, entry := range set.Entries {
			item := models.SignerSetEntry{
				Cycle:  set.Cycle,
				Idx:    idx,
				Signer: entry.ID.String(),
				Weight: entry.Weight,
			}
			if err := tx.Create(&item).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SignerSetForCycle returns the stored signer set for a reward cycle,
// in its original order
func (s *Store) SignerSetForCycle(cycle uint64) (*stacks.SignerSet, error) {
	var items []models.SignerSetEntry
	result := s.db.Where("cycle = ?", cycle).
		Order("idx ASC").
		Find(&items)
	if result.Error != nil {
		return nil, result.Error
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	ret := &stacks.SignerSet{Cycle: cycle}
	for _, item := range items {
		signer, err := parseSignerID(item.Signer)
		if err != nil {
			return nil, err
		}
		ret.Entries = append(ret.Entries, stacks.SignerEntry{
			ID:     signer,
			Weight: item.Weight,
		})
	}
	return ret, nil
}
