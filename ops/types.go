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

package ops

import (
	"github.com/blinklabs-io/marketd/completeness"
	"github.com/blinklabs-io/marketd/database/models"
	"github.com/blinklabs-io/marketd/dataset"
)

// ErrorResponse is the error body for all non-2xx responses
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

// RootResponse is the response for GET /
type RootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	State     string `json:"state"`
	IsHealthy bool   `json:"is_healthy"`
}

// RunResponse is one ingest run record
type RunResponse struct {
	RunId         string  `json:"run_id"`
	Scope         string  `json:"scope"`
	Mode          string  `json:"mode"`
	Status        string  `json:"status"`
	StartedAt     int64   `json:"started_at"`
	FinishedAt    *int64  `json:"finished_at"`
	AsOfTradeDate *string `json:"as_of_trade_date"`
	Inserted      int64   `json:"inserted"`
	Updated       int64   `json:"updated"`
	Errors        int64   `json:"errors"`
	ErrorMessage  *string `json:"error_message"`
}

func runResponse(run *models.IngestRun) RunResponse {
	return RunResponse{
		RunId:         run.RunId,
		Scope:         run.Scope,
		Mode:          run.Mode,
		Status:        run.Status,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
		AsOfTradeDate: run.AsOfTradeDate,
		Inserted:      run.Inserted,
		Updated:       run.Updated,
		Errors:        run.Errors,
		ErrorMessage:  run.ErrorMessage,
	}
}

// ControlResponse is the response for GET /api/v1/control
type ControlResponse struct {
	State        string `json:"state"`
	CurrentRunId string `json:"current_run_id,omitempty"`
	QueueLength  int    `json:"queue_length"`
}

// TriggerRequest is the body for POST /api/v1/control/trigger
type TriggerRequest struct {
	Scope string `json:"scope"`
}

// ScheduleBody is the schedule policy representation for GET and PUT
// /api/v1/schedule
type ScheduleBody struct {
	RunAt         string `json:"run_at"`
	Timezone      string `json:"timezone"`
	Scope         string `json:"scope"`
	Enabled       bool   `json:"enabled"`
	RunOnStartup  bool   `json:"run_on_startup"`
	CatchUpMissed bool   `json:"catch_up_missed"`
}

// CheckResponse is one completeness check definition
type CheckResponse struct {
	CheckId           string  `json:"check_id"`
	ScopeId           string  `json:"scope_id"`
	BucketId          string  `json:"bucket_id"`
	DatasetId         string  `json:"dataset_id"`
	SortOrder         int     `json:"sort_order"`
	Enabled           bool    `json:"enabled"`
	CompleteThreshold float64 `json:"complete_threshold"`
	MissingFloor      float64 `json:"missing_floor"`
}

// CompletenessConfigResponse is the response for
// GET /api/v1/completeness/config
type CompletenessConfigResponse struct {
	ScopeId      string          `json:"scope_id"`
	LookbackDays int             `json:"lookback_days"`
	Checks       []CheckResponse `json:"checks"`
}

// TargetConfigRequest is the body for PUT /api/v1/completeness/config
type TargetConfigRequest struct {
	EnabledCheckIds []string `json:"enabled_check_ids"`
	LookbackDays    int      `json:"lookback_days"`
}

// StatusRowResponse is one materialized completeness status row
type StatusRowResponse struct {
	ScopeId       string   `json:"scope_id"`
	CheckId       string   `json:"check_id"`
	EntityType    string   `json:"entity_type"`
	EntityId      string   `json:"entity_id"`
	BucketId      string   `json:"bucket_id"`
	Status        string   `json:"status"`
	CoverageRatio *float64 `json:"coverage_ratio"`
	AsOfTradeDate *string  `json:"as_of_trade_date"`
}

// CoverageTotalsBody counts entities per completeness status
type CoverageTotalsBody struct {
	Complete      int64 `json:"complete"`
	Partial       int64 `json:"partial"`
	Missing       int64 `json:"missing"`
	NotStarted    int64 `json:"not_started"`
	NotApplicable int64 `json:"not_applicable"`
}

func coverageTotalsBody(totals completeness.CoverageTotals) CoverageTotalsBody {
	return CoverageTotalsBody{
		Complete:      totals.Complete,
		Partial:       totals.Partial,
		Missing:       totals.Missing,
		NotStarted:    totals.NotStarted,
		NotApplicable: totals.NotApplicable,
	}
}

// PreviewResponse is the response for GET /api/v1/completeness/preview
type PreviewResponse struct {
	ByBucket      map[string]CoverageTotalsBody `json:"by_bucket"`
	ScopeId       string                        `json:"scope_id"`
	AsOfTradeDate string                        `json:"as_of_trade_date"`
	Totals        CoverageTotalsBody            `json:"totals"`
}

// MaterializeRequest is the body for POST /api/v1/completeness/materialize
type MaterializeRequest struct {
	Scope string `json:"scope"`
}

// MaterializationRunResponse is one materialization run record
type MaterializationRunResponse struct {
	Id                 uint   `json:"id"`
	ScopeId            string `json:"scope_id"`
	StartedAt          int64  `json:"started_at"`
	FinishedAt         *int64 `json:"finished_at"`
	TotalComplete      int64  `json:"total_complete"`
	TotalPartial       int64  `json:"total_partial"`
	TotalMissing       int64  `json:"total_missing"`
	TotalNotStarted    int64  `json:"total_not_started"`
	TotalNotApplicable int64  `json:"total_not_applicable"`
}

func materializationRunResponse(
	run *models.MaterializationRun,
) MaterializationRunResponse {
	return MaterializationRunResponse{
		Id:                 run.ID,
		ScopeId:            run.ScopeId,
		StartedAt:          run.StartedAt,
		FinishedAt:         run.FinishedAt,
		TotalComplete:      run.TotalComplete,
		TotalPartial:       run.TotalPartial,
		TotalMissing:       run.TotalMissing,
		TotalNotStarted:    run.TotalNotStarted,
		TotalNotApplicable: run.TotalNotApplicable,
	}
}

// DatasetResponse is one dataset contract from the registry
type DatasetResponse struct {
	Id              string   `json:"id"`
	Storage         string   `json:"storage"`
	Table           string   `json:"table"`
	KeyColumns      []string `json:"key_columns"`
	TradeDateColumn string   `json:"trade_date_column,omitempty"`
	Description     string   `json:"description"`
	Buckets         []string `json:"buckets"`
}

func datasetResponse(contract dataset.Contract) DatasetResponse {
	return DatasetResponse{
		Id:              contract.Id,
		Storage:         contract.Storage,
		Table:           contract.Table,
		KeyColumns:      contract.KeyColumns,
		TradeDateColumn: contract.TradeDateColumn,
		Description:     contract.Description,
		Buckets:         contract.Buckets,
	}
}
