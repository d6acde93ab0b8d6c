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

const scheduleConfigRowId = 1

// ScheduleConfig returns the singleton schedule config row, or nil when it
// has not been seeded yet
func (d *Database) ScheduleConfig() (*models.ScheduleConfig, error) {
	var cfg models.ScheduleConfig
	result := d.db.First(&cfg, scheduleConfigRowId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &cfg, nil
}

// SeedScheduleConfig creates the singleton schedule config row if it doesn't
// exist yet. An existing row is left untouched so operator changes survive
// restarts.
func (d *Database) SeedScheduleConfig(cfg *models.ScheduleConfig) error {
	existing, err := d.ScheduleConfig()
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	cfg.ID = scheduleConfigRowId
	if result := d.db.Create(cfg); result.Error != nil {
		return fmt.Errorf("failed to seed schedule config: %w", result.Error)
	}
	return nil
}

// UpdateScheduleConfig persists the singleton schedule config row
func (d *Database) UpdateScheduleConfig(cfg *models.ScheduleConfig) error {
	cfg.ID = scheduleConfigRowId
	if result := d.db.Save(cfg); result.Error != nil {
		return fmt.Errorf("failed to update schedule config: %w", result.Error)
	}
	return nil
}
