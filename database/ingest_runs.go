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
)

// ErrRunInFlight is returned when a new run row would violate the
// at-most-one-running invariant
var ErrRunInFlight = errors.New("an ingest run is already in flight")

// IngestRunFilter describes the optional filters for IngestRuns. Zero values
// mean "any".
type IngestRunFilter struct {
	Scope  string
	Status string
	Limit  int
	Offset int
}

// AddIngestRun inserts a new run row. It enforces the invariant that at most
// one row has the "running" status at any time and returns ErrRunInFlight
// when violated.
func (d *Database) AddIngestRun(run *models.IngestRun) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if run.Status == models.IngestStatusRunning {
			var count int64
			result := tx.Model(&models.IngestRun{}).
				Where("status = ?", models.IngestStatusRunning).
				Count(&count)
			if result.Error != nil {
				return result.Error
			}
			if count > 0 {
				return ErrRunInFlight
			}
		}
		if result := tx.Create(run); result.Error != nil {
			return fmt.Errorf("failed to insert ingest run: %w", result.Error)
		}
		return nil
	})
}

// UpdateIngestRun persists changes to an existing run row
func (d *Database) UpdateIngestRun(run *models.IngestRun) error {
	result := d.db.Save(run)
	if result.Error != nil {
		return fmt.Errorf("failed to update ingest run: %w", result.Error)
	}
	return nil
}

// IngestRunByRunId returns the run row with the given run ID
func (d *Database) IngestRunByRunId(runId string) (*models.IngestRun, error) {
	var run models.IngestRun
	result := d.db.First(&run, "run_id = ?", runId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrIngestRunNotFound
		}
		return nil, result.Error
	}
	return &run, nil
}

// IngestRunsByStatus returns all run rows with the given status
func (d *Database) IngestRunsByStatus(
	status string,
) ([]models.IngestRun, error) {
	var runs []models.IngestRun
	result := d.db.
		Where("status = ?", status).
		Order("started_at").
		Find(&runs)
	if result.Error != nil {
		return nil, result.Error
	}
	return runs, nil
}

// IngestRuns returns run rows matching the given filter, most recent first
func (d *Database) IngestRuns(
	filter IngestRunFilter,
) ([]models.IngestRun, error) {
	query := d.db.Model(&models.IngestRun{})
	if filter.Scope != "" {
		query = query.Where("scope = ?", filter.Scope)
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
	var runs []models.IngestRun
	result := query.Order("started_at DESC").Find(&runs)
	if result.Error != nil {
		return nil, result.Error
	}
	return runs, nil
}

// LastSuccessfulIngestRun returns the most recent successful run for the
// given scope, or nil when there is none. An empty scope matches any scope.
func (d *Database) LastSuccessfulIngestRun(
	scope string,
) (*models.IngestRun, error) {
	query := d.db.Where("status = ?", models.IngestStatusSuccess)
	if scope != "" {
		query = query.Where("scope = ?", scope)
	}
	var run models.IngestRun
	result := query.Order("started_at DESC").First(&run)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &run, nil
}
