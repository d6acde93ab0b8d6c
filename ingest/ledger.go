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

package ingest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/marketd/database"
	"github.com/blinklabs-io/marketd/database/models"
)

var (
	// ErrRunAlreadyFinished is returned when finishing a run that has
	// already reached a terminal status
	ErrRunAlreadyFinished = errors.New("ingest run already finished")

	// ErrInvalidScope is returned for a scope outside the known set
	ErrInvalidScope = errors.New("invalid ingest scope")
)

// Ledger owns the ingest run records: opening them, closing them exactly
// once, and converging rows left behind by a previous process
type Ledger struct {
	logger *slog.Logger
	db     *database.Database
}

// RunOutcome describes the terminal state for a run
type RunOutcome struct {
	Meta         map[string]any
	Status       string
	ErrorMessage string
	Inserted     int64
	Updated      int64
	Errors       int64
}

func NewLedger(db *database.Database, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Ledger{
		logger: logger.With("component", "ingest"),
		db:     db,
	}
}

// StartRun opens a new run record with the "running" status. It returns
// database.ErrRunInFlight when another run is already open.
func (l *Ledger) StartRun(
	scope string,
	mode string,
	asOfTradeDate string,
) (*models.IngestRun, error) {
	if !models.ValidIngestScope(scope) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidScope, scope)
	}
	run := &models.IngestRun{
		RunId:     newRunId(),
		Scope:     scope,
		Mode:      mode,
		Status:    models.IngestStatusRunning,
		StartedAt: time.Now().UnixMilli(),
		Meta:      "{}",
	}
	if asOfTradeDate != "" {
		run.AsOfTradeDate = &asOfTradeDate
	}
	if err := l.db.AddIngestRun(run); err != nil {
		return nil, err
	}
	l.logger.Info(
		"ingest run started",
		"run_id", run.RunId,
		"scope", scope,
		"mode", mode,
		"as_of", asOfTradeDate,
	)
	return run, nil
}

// FinishRun transitions a run to its terminal status and records the final
// counters. A run can be finished exactly once; later calls return
// ErrRunAlreadyFinished.
func (l *Ledger) FinishRun(
	runId string,
	outcome RunOutcome,
) (*models.IngestRun, error) {
	run, err := l.db.IngestRunByRunId(runId)
	if err != nil {
		return nil, err
	}
	if run.Status != models.IngestStatusRunning {
		return nil, fmt.Errorf(
			"%w: %s is %s",
			ErrRunAlreadyFinished,
			runId,
			run.Status,
		)
	}
	finishedAt := time.Now().UnixMilli()
	run.Status = outcome.Status
	run.FinishedAt = &finishedAt
	run.Inserted = outcome.Inserted
	run.Updated = outcome.Updated
	run.Errors = outcome.Errors
	if outcome.ErrorMessage != "" {
		run.ErrorMessage = &outcome.ErrorMessage
	}
	if len(outcome.Meta) > 0 {
		meta := map[string]any{}
		_ = json.Unmarshal([]byte(run.Meta), &meta)
		for k, v := range outcome.Meta {
			meta[k] = v
		}
		if buf, err := json.Marshal(meta); err == nil {
			run.Meta = string(buf)
		}
	}
	if err := l.db.UpdateIngestRun(run); err != nil {
		return nil, err
	}
	l.logger.Info(
		"ingest run finished",
		"run_id", run.RunId,
		"status", run.Status,
		"inserted", run.Inserted,
		"updated", run.Updated,
		"errors", run.Errors,
	)
	return run, nil
}

// ConvergeStaleRuns marks any run still recorded as "running" as failed.
// This runs at startup, before any new work: a run in the "running" status
// with no process behind it was abandoned by a crash. Each converged row
// gets a recovery summary in its metadata. The operation is idempotent.
func (l *Ledger) ConvergeStaleRuns() (int, error) {
	stale, err := l.db.IngestRunsByStatus(models.IngestStatusRunning)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	for i := range stale {
		run := &stale[i]
		finishedAt := now.UnixMilli()
		errMsg := "run abandoned by previous process"
		run.Status = models.IngestStatusFailed
		run.FinishedAt = &finishedAt
		run.ErrorMessage = &errMsg
		meta := map[string]any{}
		_ = json.Unmarshal([]byte(run.Meta), &meta)
		meta["recoverySummary"] = map[string]any{
			"recoveredAt": now.UTC().Format(time.RFC3339),
			"startedAt":   run.StartedAt,
			"scope":       run.Scope,
			"mode":        run.Mode,
		}
		if buf, err := json.Marshal(meta); err == nil {
			run.Meta = string(buf)
		}
		if err := l.db.UpdateIngestRun(run); err != nil {
			return i, err
		}
		l.logger.Warn(
			"converged stale ingest run",
			"run_id", run.RunId,
			"scope", run.Scope,
			"mode", run.Mode,
		)
	}
	return len(stale), nil
}

// ListRuns returns run records matching the given filter, most recent first
func (l *Ledger) ListRuns(
	filter database.IngestRunFilter,
) ([]models.IngestRun, error) {
	return l.db.IngestRuns(filter)
}

// RunByID returns the run record with the given run ID
func (l *Ledger) RunByID(runId string) (*models.IngestRun, error) {
	return l.db.IngestRunByRunId(runId)
}

// LastSuccessfulRun returns the most recent successful run for the given
// scope, or nil when there is none
func (l *Ledger) LastSuccessfulRun(scope string) (*models.IngestRun, error) {
	return l.db.LastSuccessfulIngestRun(scope)
}

func newRunId() string {
	buf := make([]byte, 16)
	// rand.Read never fails on supported platforms
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
