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

import "errors"

var ErrIngestRunNotFound = errors.New("ingest run not found")

// Ingest run scopes
const (
	IngestScopeTargets  = "targets"
	IngestScopeUniverse = "universe"
	IngestScopeBoth     = "both"
)

// Ingest run modes
const (
	IngestModeManual    = "manual"
	IngestModeScheduled = "scheduled"
	IngestModeCatchUp   = "catch_up"
)

// Ingest run statuses
const (
	IngestStatusRunning   = "running"
	IngestStatusSuccess   = "success"
	IngestStatusFailed    = "failed"
	IngestStatusCancelled = "cancelled"
)

// ValidIngestScope returns true for a known ingest scope
func ValidIngestScope(scope string) bool {
	switch scope {
	case IngestScopeTargets, IngestScopeUniverse, IngestScopeBoth:
		return true
	default:
		return false
	}
}

// IngestRun records one ingestion attempt. At most one row may be in the
// "running" status at any time; FinishedAt is set exactly once, at the
// terminal transition.
type IngestRun struct {
	RunId         string `gorm:"column:run_id;primaryKey;size:64"`
	Scope         string `gorm:"index;not null"`
	Mode          string `gorm:"not null"`
	Status        string `gorm:"index;not null"`
	StartedAt     int64  `gorm:"index;not null"` // epoch millis
	FinishedAt    *int64
	AsOfTradeDate *string `gorm:"size:10"`
	Inserted      int64
	Updated       int64
	Errors        int64
	ErrorMessage  *string `gorm:"type:text"`
	Meta          string  `gorm:"type:text"` // free-form JSON payload
}

// TableName returns the table name for IngestRun.
func (IngestRun) TableName() string {
	return "ingest_runs"
}

// Running returns true while the run has not reached a terminal status
func (r *IngestRun) Running() bool {
	return r.Status == IngestStatusRunning
}

// ScheduleConfig is the singleton daily schedule policy row. Mutated only by
// the operator via the control plane.
type ScheduleConfig struct {
	ID            uint   `gorm:"primarykey"`
	Enabled       bool   `gorm:"not null"`
	RunAt         string `gorm:"size:5;not null"` // HH:mm local to Timezone
	Timezone      string `gorm:"not null"`
	Scope         string `gorm:"not null"`
	RunOnStartup  bool   `gorm:"not null"`
	CatchUpMissed bool   `gorm:"not null"`
}

// TableName returns the table name for ScheduleConfig.
func (ScheduleConfig) TableName() string {
	return "schedule_config"
}
