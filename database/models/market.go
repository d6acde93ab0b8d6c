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

package models

import "github.com/shopspring/decimal"

// Instrument asset-class buckets
const (
	BucketStock   = "stock"
	BucketEtf     = "etf"
	BucketFutures = "futures"
	BucketSpot    = "spot"
	BucketFx      = "fx"
	BucketMacro   = "macro"
)

// Instrument holds cached instrument metadata from the upstream provider.
// InTargetSet marks membership in the curated target symbol set.
type Instrument struct {
	ID          uint   `gorm:"primarykey"`
	Symbol      string `gorm:"uniqueIndex;size:32;not null"`
	Name        string
	Bucket      string `gorm:"index;not null"`
	Exchange    string
	Currency    string `gorm:"size:8"`
	ListDate    *string `gorm:"size:10"`
	DelistDate  *string `gorm:"size:10"`
	InTargetSet bool    `gorm:"index;not null"`
}

// TableName returns the table name for Instrument.
func (Instrument) TableName() string {
	return "instrument"
}

// DailyPrice is one end-of-day price bar per (symbol, trade date).
type DailyPrice struct {
	ID        uint            `gorm:"primarykey"`
	Symbol    string          `gorm:"uniqueIndex:idx_daily_price_key;size:32;not null"`
	TradeDate string          `gorm:"uniqueIndex:idx_daily_price_key;index;size:10;not null"`
	Open      decimal.Decimal `gorm:"type:decimal(20,6)"`
	High      decimal.Decimal `gorm:"type:decimal(20,6)"`
	Low       decimal.Decimal `gorm:"type:decimal(20,6)"`
	Close     decimal.Decimal `gorm:"type:decimal(20,6)"`
	Volume    decimal.Decimal `gorm:"type:decimal(24,2)"`
}

// TableName returns the table name for DailyPrice.
func (DailyPrice) TableName() string {
	return "daily_price"
}

// Fundamental is one fundamentals snapshot per (symbol, reporting period).
type Fundamental struct {
	ID        uint            `gorm:"primarykey"`
	Symbol    string          `gorm:"uniqueIndex:idx_fundamental_key;size:32;not null"`
	PeriodEnd string          `gorm:"uniqueIndex:idx_fundamental_key;size:10;not null"`
	AnnDate   *string         `gorm:"size:10"`
	Revenue   decimal.Decimal `gorm:"type:decimal(24,2)"`
	NetIncome decimal.Decimal `gorm:"type:decimal(24,2)"`
	Eps       decimal.Decimal `gorm:"type:decimal(20,6)"`
}

// TableName returns the table name for Fundamental.
func (Fundamental) TableName() string {
	return "fundamental"
}

// MacroValue is one observation of a macro series per (series, period).
type MacroValue struct {
	ID         uint            `gorm:"primarykey"`
	SeriesCode string          `gorm:"uniqueIndex:idx_macro_value_key;size:32;not null"`
	PeriodDate string          `gorm:"uniqueIndex:idx_macro_value_key;size:10;not null"`
	Value      decimal.Decimal `gorm:"type:decimal(24,6)"`
}

// TableName returns the table name for MacroValue.
func (MacroValue) TableName() string {
	return "macro_value"
}
