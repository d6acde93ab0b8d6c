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

// Completeness scopes
const (
	CompletenessScopeTargetPool = "target_pool"
	CompletenessScopeSourcePool = "source_pool"
)

// Completeness statuses
const (
	CompletenessStatusComplete      = "complete"
	CompletenessStatusPartial       = "partial"
	CompletenessStatusMissing       = "missing"
	CompletenessStatusNotStarted    = "not_started"
	CompletenessStatusNotApplicable = "not_applicable"
)

// ValidCompletenessScope returns true for a known completeness scope
func ValidCompletenessScope(scopeId string) bool {
	switch scopeId {
	case CompletenessScopeTargetPool, CompletenessScopeSourcePool:
		return true
	default:
		return false
	}
}

// CompletenessCheck is one configured completeness check. Checks in the
// target_pool scope are operator-toggleable via the Enabled column, checks in
// the source_pool scope are read-only and derived from the upstream source
// configuration.
type CompletenessCheck struct {
	CheckId           string `gorm:"column:check_id;primaryKey;size:64"`
	ScopeId           string `gorm:"index;not null"`
	BucketId          string `gorm:"index;not null"`
	DatasetId         string `gorm:"not null"`
	DomainId          *string
	ModuleId          *string
	SortOrder         int `gorm:"not null"`
	Enabled           bool
	CompleteThreshold float64 `gorm:"not null;default:1"`
	MissingFloor      float64 `gorm:"not null;default:0.05"`
}

// TableName returns the table name for CompletenessCheck.
func (CompletenessCheck) TableName() string {
	return "completeness_checks"
}

// CompletenessSettings is the singleton completeness configuration row.
type CompletenessSettings struct {
	ID                  uint `gorm:"primarykey"`
	DefaultLookbackDays int  `gorm:"not null"`
}

// TableName returns the table name for CompletenessSettings.
func (CompletenessSettings) TableName() string {
	return "completeness_settings"
}

// CompletenessStatus is one materialized status row per
// (scope, check, entity). Rows are produced only by materialization runs.
// The latest run's rows carry Current=true, earlier rows are retained for
// trend analysis.
type CompletenessStatus struct {
	ID             uint   `gorm:"primarykey"`
	RunID          uint   `gorm:"index;not null"`
	ScopeId        string `gorm:"index:idx_completeness_status_key;not null"`
	CheckId        string `gorm:"index:idx_completeness_status_key;not null"`
	EntityType     string `gorm:"index:idx_completeness_status_key;not null"`
	EntityId       string `gorm:"index:idx_completeness_status_key;not null"`
	BucketId       string `gorm:"not null"`
	Status         string `gorm:"index;not null"`
	CoverageRatio  *float64
	AsOfTradeDate  *string `gorm:"size:10"`
	Current        bool    `gorm:"index;not null"`
}

// TableName returns the table name for CompletenessStatus.
func (CompletenessStatus) TableName() string {
	return "completeness_status"
}

// MaterializationRun records one completeness computation pass for a scope
// with aggregate totals per status.
type MaterializationRun struct {
	ID                 uint   `gorm:"primarykey"`
	ScopeId            string `gorm:"index;not null"`
	StartedAt          int64  `gorm:"not null"` // epoch millis
	FinishedAt         *int64
	TotalComplete      int64
	TotalPartial       int64
	TotalMissing       int64
	TotalNotStarted    int64
	TotalNotApplicable int64
}

// TableName returns the table name for MaterializationRun.
func (MaterializationRun) TableName() string {
	return "materialization_runs"
}
