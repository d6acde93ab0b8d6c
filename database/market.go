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

// UpsertCounts reports how many rows an upsert inserted vs updated
type UpsertCounts struct {
	Inserted int64
	Updated  int64
}

// Add folds another set of counts into the receiver
func (c *UpsertCounts) Add(other UpsertCounts) {
	c.Inserted += other.Inserted
	c.Updated += other.Updated
}

// UpsertInstruments inserts or updates instrument rows keyed by symbol
func (d *Database) UpsertInstruments(
	rows []models.Instrument,
) (UpsertCounts, error) {
	var counts UpsertCounts
	err := d.db.Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			row := &rows[i]
			var existing models.Instrument
			result := tx.First(&existing, "symbol = ?", row.Symbol)
			if result.Error != nil {
				if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
					return result.Error
				}
				if result := tx.Create(row); result.Error != nil {
					return result.Error
				}
				counts.Inserted++
				continue
			}
			row.ID = existing.ID
			// Target membership is managed by SetTargetSet, not by instrument
			// refreshes
			row.InTargetSet = existing.InTargetSet
			if result := tx.Save(row); result.Error != nil {
				return result.Error
			}
			counts.Updated++
		}
		return nil
	})
	if err != nil {
		return UpsertCounts{}, fmt.Errorf(
			"failed to upsert instruments: %w",
			err,
		)
	}
	return counts, nil
}

// UpsertDailyPrices inserts or updates price rows keyed by (symbol, trade date)
func (d *Database) UpsertDailyPrices(
	rows []models.DailyPrice,
) (UpsertCounts, error) {
	var counts UpsertCounts
	err := d.db.Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			row := &rows[i]
			var existing models.DailyPrice
			result := tx.First(
				&existing,
				"symbol = ? AND trade_date = ?",
				row.Symbol,
				row.TradeDate,
			)
			if result.Error != nil {
				if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
					return result.Error
				}
				if result := tx.Create(row); result.Error != nil {
					return result.Error
				}
				counts.Inserted++
				continue
			}
			row.ID = existing.ID
			if result := tx.Save(row); result.Error != nil {
				return result.Error
			}
			counts.Updated++
		}
		return nil
	})
	if err != nil {
		return UpsertCounts{}, fmt.Errorf(
			"failed to upsert daily prices: %w",
			err,
		)
	}
	return counts, nil
}

// UpsertFundamentals inserts or updates fundamentals rows keyed by
// (symbol, period end)
func (d *Database) UpsertFundamentals(
	rows []models.Fundamental,
) (UpsertCounts, error) {
	var counts UpsertCounts
	err := d.db.Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			row := &rows[i]
			var existing models.Fundamental
			result := tx.First(
				&existing,
				"symbol = ? AND period_end = ?",
				row.Symbol,
				row.PeriodEnd,
			)
			if result.Error != nil {
				if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
					return result.Error
				}
				if result := tx.Create(row); result.Error != nil {
					return result.Error
				}
				counts.Inserted++
				continue
			}
			row.ID = existing.ID
			if result := tx.Save(row); result.Error != nil {
				return result.Error
			}
			counts.Updated++
		}
		return nil
	})
	if err != nil {
		return UpsertCounts{}, fmt.Errorf(
			"failed to upsert fundamentals: %w",
			err,
		)
	}
	return counts, nil
}

// UpsertMacroValues inserts or updates macro series rows keyed by
// (series code, period date)
func (d *Database) UpsertMacroValues(
	rows []models.MacroValue,
) (UpsertCounts, error) {
	var counts UpsertCounts
	err := d.db.Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			row := &rows[i]
			var existing models.MacroValue
			result := tx.First(
				&existing,
				"series_code = ? AND period_date = ?",
				row.SeriesCode,
				row.PeriodDate,
			)
			if result.Error != nil {
				if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
					return result.Error
				}
				if result := tx.Create(row); result.Error != nil {
					return result.Error
				}
				counts.Inserted++
				continue
			}
			row.ID = existing.ID
			if result := tx.Save(row); result.Error != nil {
				return result.Error
			}
			counts.Updated++
		}
		return nil
	})
	if err != nil {
		return UpsertCounts{}, fmt.Errorf(
			"failed to upsert macro values: %w",
			err,
		)
	}
	return counts, nil
}

// Instruments returns cached instruments for the given ingest scope
func (d *Database) Instruments(scope string) ([]models.Instrument, error) {
	query := d.db.Model(&models.Instrument{})
	if scope == models.IngestScopeTargets {
		query = query.Where("in_target_set = ?", true)
	}
	var instruments []models.Instrument
	result := query.Order("symbol").Find(&instruments)
	if result.Error != nil {
		return nil, result.Error
	}
	return instruments, nil
}

// SetTargetSet marks the given symbols as the curated target set, clearing
// the flag on everything else
func (d *Database) SetTargetSet(symbols []string) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Instrument{}).
			Where("in_target_set = ?", true).
			Update("in_target_set", false)
		if result.Error != nil {
			return result.Error
		}
		if len(symbols) == 0 {
			return nil
		}
		result = tx.Model(&models.Instrument{}).
			Where("symbol IN ?", symbols).
			Update("in_target_set", true)
		return result.Error
	})
}

// CountEntityRows counts the rows in a dataset table for one entity key.
// Table and column names come from the static dataset registry, never from
// user input.
func (d *Database) CountEntityRows(
	table string,
	keyColumn string,
	key string,
) (int64, error) {
	var count int64
	result := d.db.Table(table).
		Where(fmt.Sprintf("%s = ?", keyColumn), key).
		Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}

// CountEntityTradeDates counts distinct trade dates present in a dataset
// table for one entity key within an inclusive date range
func (d *Database) CountEntityTradeDates(
	table string,
	keyColumn string,
	key string,
	dateColumn string,
	fromDate string,
	toDate string,
) (int64, error) {
	var count int64
	query := fmt.Sprintf(
		"SELECT COUNT(DISTINCT %s) FROM %s WHERE %s = ? AND %s >= ? AND %s <= ?",
		dateColumn,
		table,
		keyColumn,
		dateColumn,
		dateColumn,
	)
	result := d.db.Raw(query, key, fromDate, toDate).Scan(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}
