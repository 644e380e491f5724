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
	"fmt"

	"github.com/blinklabs-io/gosigner/chainstate/models"
	"gorm.io/gorm"
)

// ErrPruneUnfinalized is returned when pruning would remove a reward
// cycle that still has a non-terminal quorum result
var ErrPruneUnfinalized = errors.New(
	"cannot prune cycle with unfinalized quorum results",
)

// PruneCycles removes votes and quorum results for reward cycles below
// the given cycle. Only fully finalized cycles may be pruned; the
// signer set entries are kept for historical audit
func (s *Store) PruneCycles(beforeCycle uint64) error {
	var openCount int64
	result := s.db.Model(&models.QuorumResult{}).
		Where(
			"cycle < ? AND terminal = ? AND retracted = ?",
			beforeCycle,
			false,
			false,
		).
		Count(&openCount)
	if result.Error != nil {
		return result.Error
	}
	if openCount > 0 {
		return fmt.Errorf(
			"%w: %d open results below cycle %d",
			ErrPruneUnfinalized,
			openCount,
			beforeCycle,
		)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cycle < ?", beforeCycle).
			Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		return tx.Where("cycle < ?", beforeCycle).
			Delete(&models.QuorumResult{}).Error
	})
}
