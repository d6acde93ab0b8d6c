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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/blinklabs-io/marketd/completeness"
	"github.com/blinklabs-io/marketd/database"
	"github.com/blinklabs-io/marketd/database/models"
	"github.com/blinklabs-io/marketd/ingest"
	"github.com/blinklabs-io/marketd/internal/version"
	"github.com/blinklabs-io/marketd/scheduler"
)

const defaultListLimit = 50

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, errStr, message string) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      errStr,
		Message:    message,
	})
}

// writeDomainError maps known domain errors onto HTTP status codes. Anything
// unrecognized is treated as an internal error.
func (o *Ops) writeDomainError(
	w http.ResponseWriter,
	err error,
	logMsg string,
) {
	switch {
	case errors.Is(err, scheduler.ErrAlreadyRunning),
		errors.Is(err, scheduler.ErrInvalidState):
		writeError(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, scheduler.ErrInvalidSchedule),
		errors.Is(err, completeness.ErrConfigInvalid),
		errors.Is(err, ingest.ErrInvalidScope):
		writeError(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, models.ErrIngestRunNotFound):
		writeError(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		o.logger.Error(logMsg, "error", err)
		writeError(
			w,
			http.StatusInternalServerError,
			"Internal Server Error",
			logMsg,
		)
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

// handleRoot handles GET / and returns API metadata
func (o *Ops) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, RootResponse{
		Name:    "marketd",
		Version: version.GetVersionString(),
	})
}

// handleHealth handles GET /health
func (o *Ops) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		IsHealthy: true,
		State:     o.scheduler.Status().State,
	})
}

// handleDatasets handles GET /api/v1/datasets
func (o *Ops) handleDatasets(w http.ResponseWriter, _ *http.Request) {
	contracts := o.registry.Contracts()
	resp := make([]DatasetResponse, 0, len(contracts))
	for _, contract := range contracts {
		resp = append(resp, datasetResponse(contract))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRuns handles GET /api/v1/runs
func (o *Ops) handleRuns(w http.ResponseWriter, r *http.Request) {
	filter := database.IngestRunFilter{
		Scope:  r.URL.Query().Get("scope"),
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit", defaultListLimit),
		Offset: queryInt(r, "offset", 0),
	}
	runs, err := o.ledger.ListRuns(filter)
	if err != nil {
		o.writeDomainError(w, err, "failed to list ingest runs")
		return
	}
	resp := make([]RunResponse, 0, len(runs))
	for i := range runs {
		resp = append(resp, runResponse(&runs[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRunById handles GET /api/v1/runs/{run_id}
func (o *Ops) handleRunById(w http.ResponseWriter, r *http.Request) {
	run, err := o.ledger.RunByID(r.PathValue("run_id"))
	if err != nil {
		o.writeDomainError(w, err, "failed to load ingest run")
		return
	}
	writeJSON(w, http.StatusOK, runResponse(run))
}

func (o *Ops) controlResponse() ControlResponse {
	status := o.scheduler.Status()
	return ControlResponse{
		State:        status.State,
		CurrentRunId: status.CurrentRunId,
		QueueLength:  status.QueueLength,
	}
}

// handleControl handles GET /api/v1/control
func (o *Ops) handleControl(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, o.controlResponse())
}

// handleTrigger handles POST /api/v1/control/trigger
func (o *Ops) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if req.Scope == "" {
		req.Scope = models.IngestScopeBoth
	}
	if err := o.scheduler.TriggerNow(req.Scope); err != nil {
		o.writeDomainError(w, err, "failed to trigger run")
		return
	}
	writeJSON(w, http.StatusAccepted, o.controlResponse())
}

// handlePause handles POST /api/v1/control/pause
func (o *Ops) handlePause(w http.ResponseWriter, _ *http.Request) {
	if err := o.scheduler.Pause(); err != nil {
		o.writeDomainError(w, err, "failed to pause run")
		return
	}
	writeJSON(w, http.StatusOK, o.controlResponse())
}

// handleResume handles POST /api/v1/control/resume
func (o *Ops) handleResume(w http.ResponseWriter, _ *http.Request) {
	if err := o.scheduler.Resume(); err != nil {
		o.writeDomainError(w, err, "failed to resume run")
		return
	}
	writeJSON(w, http.StatusOK, o.controlResponse())
}

// handleCancel handles POST /api/v1/control/cancel
func (o *Ops) handleCancel(w http.ResponseWriter, _ *http.Request) {
	if err := o.scheduler.Cancel(); err != nil {
		o.writeDomainError(w, err, "failed to cancel run")
		return
	}
	writeJSON(w, http.StatusOK, o.controlResponse())
}

// handleGetSchedule handles GET /api/v1/schedule
func (o *Ops) handleGetSchedule(w http.ResponseWriter, _ *http.Request) {
	cfg, err := o.scheduler.GetScheduleConfig()
	if err != nil {
		o.writeDomainError(w, err, "failed to load schedule config")
		return
	}
	if cfg == nil {
		writeError(
			w,
			http.StatusNotFound,
			"Not Found",
			"schedule config not initialized",
		)
		return
	}
	writeJSON(w, http.StatusOK, ScheduleBody{
		Enabled:       cfg.Enabled,
		RunAt:         cfg.RunAt,
		Timezone:      cfg.Timezone,
		Scope:         cfg.Scope,
		RunOnStartup:  cfg.RunOnStartup,
		CatchUpMissed: cfg.CatchUpMissed,
	})
}

// handlePutSchedule handles PUT /api/v1/schedule
func (o *Ops) handlePutSchedule(w http.ResponseWriter, r *http.Request) {
	var body ScheduleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := o.scheduler.SetScheduleConfig(&models.ScheduleConfig{
		Enabled:       body.Enabled,
		RunAt:         body.RunAt,
		Timezone:      body.Timezone,
		Scope:         body.Scope,
		RunOnStartup:  body.RunOnStartup,
		CatchUpMissed: body.CatchUpMissed,
	}); err != nil {
		o.writeDomainError(w, err, "failed to update schedule config")
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func completenessScopeParam(r *http.Request) string {
	scopeId := r.URL.Query().Get("scope")
	if scopeId == "" {
		scopeId = models.CompletenessScopeTargetPool
	}
	return scopeId
}

// handleGetCompletenessConfig handles GET /api/v1/completeness/config
func (o *Ops) handleGetCompletenessConfig(
	w http.ResponseWriter,
	r *http.Request,
) {
	cfg, err := o.engine.ScopeConfigFor(completenessScopeParam(r))
	if err != nil {
		o.writeDomainError(w, err, "failed to load completeness config")
		return
	}
	resp := CompletenessConfigResponse{
		ScopeId:      cfg.ScopeId,
		LookbackDays: cfg.LookbackDays,
		Checks:       make([]CheckResponse, 0, len(cfg.Checks)),
	}
	for _, check := range cfg.Checks {
		resp.Checks = append(resp.Checks, CheckResponse{
			CheckId:           check.CheckId,
			ScopeId:           check.ScopeId,
			BucketId:          check.BucketId,
			DatasetId:         check.DatasetId,
			SortOrder:         check.SortOrder,
			Enabled:           check.Enabled,
			CompleteThreshold: check.CompleteThreshold,
			MissingFloor:      check.MissingFloor,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePutCompletenessConfig handles PUT /api/v1/completeness/config. Only
// the target pool configuration is writable.
func (o *Ops) handlePutCompletenessConfig(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req TargetConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if req.LookbackDays == 0 {
		req.LookbackDays = completeness.DefaultLookbackDays
	}
	if err := o.engine.SetTargetConfig(
		req.EnabledCheckIds,
		req.LookbackDays,
	); err != nil {
		o.writeDomainError(w, err, "failed to update completeness config")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// handleCompletenessStatus handles GET /api/v1/completeness/status
func (o *Ops) handleCompletenessStatus(
	w http.ResponseWriter,
	r *http.Request,
) {
	rows, err := o.engine.ListStatus(database.CompletenessStatusFilter{
		ScopeId: r.URL.Query().Get("scope"),
		CheckId: r.URL.Query().Get("check_id"),
		Status:  r.URL.Query().Get("status"),
		Limit:   queryInt(r, "limit", 0),
		Offset:  queryInt(r, "offset", 0),
	})
	if err != nil {
		o.writeDomainError(w, err, "failed to list completeness status")
		return
	}
	resp := make([]StatusRowResponse, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, StatusRowResponse{
			ScopeId:       row.ScopeId,
			CheckId:       row.CheckId,
			EntityType:    row.EntityType,
			EntityId:      row.EntityId,
			BucketId:      row.BucketId,
			Status:        row.Status,
			CoverageRatio: row.CoverageRatio,
			AsOfTradeDate: row.AsOfTradeDate,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCompletenessPreview handles GET /api/v1/completeness/preview
func (o *Ops) handleCompletenessPreview(
	w http.ResponseWriter,
	r *http.Request,
) {
	preview, err := o.engine.PreviewCoverage(
		r.Context(),
		completenessScopeParam(r),
	)
	if err != nil {
		o.writeDomainError(w, err, "failed to preview coverage")
		return
	}
	resp := PreviewResponse{
		ScopeId:       preview.ScopeId,
		AsOfTradeDate: preview.AsOfTradeDate,
		Totals:        coverageTotalsBody(preview.Totals),
		ByBucket:      make(map[string]CoverageTotalsBody),
	}
	for bucketId, totals := range preview.ByBucket {
		resp.ByBucket[bucketId] = coverageTotalsBody(*totals)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMaterialize handles POST /api/v1/completeness/materialize
func (o *Ops) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	var req MaterializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if req.Scope == "" {
		req.Scope = models.CompletenessScopeTargetPool
	}
	run, err := o.engine.RunMaterialization(r.Context(), req.Scope)
	if err != nil {
		o.writeDomainError(w, err, "failed to run materialization")
		return
	}
	writeJSON(w, http.StatusOK, materializationRunResponse(run))
}

// handleMaterializationRuns handles GET /api/v1/completeness/runs
func (o *Ops) handleMaterializationRuns(
	w http.ResponseWriter,
	r *http.Request,
) {
	runs, err := o.engine.ListMaterializationRuns(
		r.URL.Query().Get("scope"),
		queryInt(r, "limit", defaultListLimit),
	)
	if err != nil {
		o.writeDomainError(w, err, "failed to list materialization runs")
		return
	}
	resp := make([]MaterializationRunResponse, 0, len(runs))
	for i := range runs {
		resp = append(resp, materializationRunResponse(&runs[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}
