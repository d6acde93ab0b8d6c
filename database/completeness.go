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

package database

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/marketd/database/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const completenessSettingsRowId = 1

const statusInsertBatchSize = 500

// CompletenessStatusFilter describes the optional filters for
// CompletenessStatusRows. Zero values mean "any".
type CompletenessStatusFilter struct {
	ScopeId string
	CheckId string
	Status  string
	Limit   int
	Offset  int
}

// SeedCompletenessChecks inserts check rows that don't exist yet. Existing
// rows are left untouched so operator enable/disable toggles survive restarts.
func (d *Database) SeedCompletenessChecks(
	checks []models.CompletenessCheck,
) error {
	if len(checks) == 0 {
		return nil
	}
	result := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "check_id"}},
		DoNothing: true,
	}).Create(&checks)
	if result.Error != nil {
		return fmt.Errorf(
			"failed to seed completeness checks: %w",
			result.Error,
		)
	}
	return nil
}

// CompletenessChecks returns all check rows for the given scope ordered by
// sort order. An empty scope matches any scope.
func (d *Database) CompletenessChecks(
	scopeId string,
) ([]models.CompletenessCheck, error) {
	query := d.db.Model(&models.CompletenessCheck{})
	if scopeId != "" {
		query = query.Where("scope_id = ?", scopeId)
	}
	var checks []models.CompletenessCheck
	result := query.Order("sort_order").Find(&checks)
	if result.Error != nil {
		return nil, result.Error
	}
	return checks, nil
}

// SetTargetChecksEnabled replaces the enabled set for target_pool checks.
// Checks in the source_pool scope are not touched.
func (d *Database) SetTargetChecksEnabled(enabledIds []string) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.CompletenessCheck{}).
			Where("scope_id = ?", models.CompletenessScopeTargetPool).
			Update("enabled", false)
		if result.Error != nil {
			return result.Error
		}
		result = tx.Model(&models.CompletenessCheck{}).
			Where("scope_id = ?", models.CompletenessScopeTargetPool).
			Where("check_id IN ?", enabledIds).
			Update("enabled", true)
		return result.Error
	})
}

// CompletenessSettings returns the singleton settings row, or nil when it has
// not been seeded yet
func (d *Database) CompletenessSettings() (*models.CompletenessSettings, error) {
	var settings models.CompletenessSettings
	result := d.db.First(&settings, completenessSettingsRowId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &settings, nil
}

// SeedCompletenessSettings creates the singleton settings row if it doesn't
// exist yet
func (d *Database) SeedCompletenessSettings(
	settings *models.CompletenessSettings,
) error {
	existing, err := d.CompletenessSettings()
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	settings.ID = completenessSettingsRowId
	if result := d.db.Create(settings); result.Error != nil {
		return fmt.Errorf(
			"failed to seed completeness settings: %w",
			result.Error,
		)
	}
	return nil
}

// UpdateCompletenessSettings persists the singleton settings row
func (d *Database) UpdateCompletenessSettings(
	settings *models.CompletenessSettings,
) error {
	settings.ID = completenessSettingsRowId
	if result := d.db.Save(settings); result.Error != nil {
		return fmt.Errorf(
			"failed to update completeness settings: %w",
			result.Error,
		)
	}
	return nil
}

// AddMaterializationRun inserts a new materialization run row
func (d *Database) AddMaterializationRun(
	run *models.MaterializationRun,
) error {
	if result := d.db.Create(run); result.Error != nil {
		return fmt.Errorf(
			"failed to insert materialization run: %w",
			result.Error,
		)
	}
	return nil
}

// UpdateMaterializationRun persists changes to a materialization run row
func (d *Database) UpdateMaterializationRun(
	run *models.MaterializationRun,
) error {
	if result := d.db.Save(run); result.Error != nil {
		return fmt.Errorf(
			"failed to update materialization run: %w",
			result.Error,
		)
	}
	return nil
}

// MaterializationRuns returns materialization runs for the given scope, most
// recent first
func (d *Database) MaterializationRuns(
	scopeId string,
	limit int,
) ([]models.MaterializationRun, error) {
	query := d.db.Model(&models.MaterializationRun{})
	if scopeId != "" {
		query = query.Where("scope_id = ?", scopeId)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var runs []models.MaterializationRun
	result := query.Order("started_at DESC").Find(&runs)
	if result.Error != nil {
		return nil, result.Error
	}
	return runs, nil
}

// ReplaceCurrentCompletenessStatus clears the Current flag on the scope's
// existing status rows and inserts the given rows as the new current set.
// Superseded rows are retained for trend analysis.
func (d *Database) ReplaceCurrentCompletenessStatus(
	scopeId string,
	rows []models.CompletenessStatus,
) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.CompletenessStatus{}).
			Where("scope_id = ? AND current = ?", scopeId, true).
			Update("current", false)
		if result.Error != nil {
			return result.Error
		}
		if len(rows) == 0 {
			return nil
		}
		result = tx.CreateInBatches(&rows, statusInsertBatchSize)
		return result.Error
	})
}

// CompletenessStatusRows returns current status rows matching the filter
func (d *Database) CompletenessStatusRows(
	filter CompletenessStatusFilter,
) ([]models.CompletenessStatus, error) {
	query := d.db.Model(&models.CompletenessStatus{}).
		Where("current = ?", true)
	if filter.ScopeId != "" {
		query = query.Where("scope_id = ?", filter.ScopeId)
	}
	if filter.CheckId != "" {
		query = query.Where("check_id = ?", filter.CheckId)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var rows []models.CompletenessStatus
	result := query.
		Order("check_id, entity_type, entity_id").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}
