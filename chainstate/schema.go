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

	"gorm.io/gorm"
)

// CurrentSchemaVersion is the schema version written by this release.
// The deployed record format changes across releases; upgrades between
// versions run once at store open
const CurrentSchemaVersion = 2

// ErrSchemaTooNew is returned when the on-disk schema was written by a
// newer release than this one
var ErrSchemaTooNew = errors.New("chainstate schema newer than supported")

// SchemaVersion is the version discriminant for the persisted record
// format, stored as a single row
type SchemaVersion struct {
	ID      uint `gorm:"primaryKey"`
	Version uint
}

// TableName overrides default table name
func (SchemaVersion) TableName() string {
	return "schema_version"
}

// schemaUpgrades maps a starting version to the upgrade that brings
// the store to the next version. Upgrades run in sequence at open
var schemaUpgrades = map[uint]func(*gorm.DB) error{
	1: upgradeSchemaV1toV2,
}

func (s *Store) upgradeSchema() error {
	var current SchemaVersion
	result := s.db.First(&current)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}
		// Fresh store, stamp current version
		current = SchemaVersion{ID: 1, Version: CurrentSchemaVersion}
		if result := s.db.Create(&current); result.Error != nil {
			return result.Error
		}
		return nil
	}
	if current.Version > CurrentSchemaVersion {
		return fmt.Errorf(
			"%w: found %d, supported %d",
			ErrSchemaTooNew,
			current.Version,
			CurrentSchemaVersion,
		)
	}
	for current.Version < CurrentSchemaVersion {
		upgrade, ok := schemaUpgrades[current.Version]
		if !ok {
			return fmt.Errorf(
				"no schema upgrade from version %d",
				current.Version,
			)
		}
		s.logger.Info(
			"upgrading chainstate schema",
			"from", current.Version,
			"to", current.Version+1,
		)
		if err := s.db.Transaction(func(tx *gorm.DB) error {
			if err := upgrade(tx); err != nil {
				return err
			}
			current.Version++
			return tx.Save(&current).Error
		}); err != nil {
			return fmt.Errorf(
				"schema upgrade from version %d failed: %w",
				current.Version,
				err,
			)
		}
	}
	return nil
}

// upgradeSchemaV1toV2 backfills the superseded flag on proposals.
// Schema v1 kept every proposal row live; v2 marks all but the newest
// row per (tenure, height) superseded so the active-proposal invariant
// can be answered with a single indexed read
func upgradeSchemaV1toV2(tx *gorm.DB) error {
	return tx.Exec(
		`UPDATE block_proposal SET superseded = true
		 WHERE id NOT IN (
		   SELECT MAX(id) FROM block_proposal GROUP BY tenure_id, height
		 )`,
	).Error
}
