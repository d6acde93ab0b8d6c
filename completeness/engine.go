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

package completeness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/blinklabs-io/marketd/database"
	"github.com/blinklabs-io/marketd/database/models"
	"github.com/blinklabs-io/marketd/dataset"
	"github.com/blinklabs-io/marketd/event"
	"github.com/blinklabs-io/marketd/ingest"

	"github.com/prometheus/client_golang/prometheus"
)

// Entity types appearing in status rows
const (
	EntityTypeInstrument = "instrument"
	EntityTypeSeries     = "series"
)

// ErrConfigInvalid is returned for a completeness config change that fails
// validation
var ErrConfigInvalid = errors.New("completeness config invalid")

// EngineConfig describes the completeness engine configuration
type EngineConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	DB           *database.Database
	Registry     *dataset.Registry
	EventBus     *event.EventBus
	Now          func() time.Time
}

// ScopeConfig is the operator-visible completeness configuration for one
// scope
type ScopeConfig struct {
	ScopeId      string
	Checks       []models.CompletenessCheck
	LookbackDays int
}

// CoverageTotals counts entities per completeness status
type CoverageTotals struct {
	Complete      int64
	Partial       int64
	Missing       int64
	NotStarted    int64
	NotApplicable int64
}

func (t *CoverageTotals) count(status string) {
	switch status {
	case models.CompletenessStatusComplete:
		t.Complete++
	case models.CompletenessStatusPartial:
		t.Partial++
	case models.CompletenessStatusMissing:
		t.Missing++
	case models.CompletenessStatusNotStarted:
		t.NotStarted++
	case models.CompletenessStatusNotApplicable:
		t.NotApplicable++
	}
}

// CoveragePreview is an on-the-fly coverage computation. Nothing is
// persisted; the authoritative status rows come only from materialization
// runs.
type CoveragePreview struct {
	ByBucket      map[string]*CoverageTotals
	ScopeId       string
	AsOfTradeDate string
	Totals        CoverageTotals
}

// Engine computes dataset completeness per entity and materializes the
// results into queryable status rows. It recomputes automatically after
// every successful ingest run.
type Engine struct {
	config  EngineConfig
	logger  *slog.Logger
	now     func() time.Time
	metrics *engineMetrics
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
}

type engineMetrics struct {
	entities  *prometheus.GaugeVec
	runsTotal *prometheus.CounterVec
}

// NewEngine creates a new completeness engine
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	e := &Engine{
		config: cfg,
		logger: logger.With("component", "completeness"),
		now:    cfg.Now,
	}
	if cfg.PromRegistry != nil {
		e.initMetrics(cfg.PromRegistry)
	}
	return e
}

func (e *Engine) initMetrics(promRegistry prometheus.Registerer) {
	e.metrics = &engineMetrics{
		entities: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketd_completeness_entities",
				Help: "entity count from the latest materialization by scope and status",
			},
			[]string{"scope", "status"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketd_completeness_materializations_total",
				Help: "total materialization runs by scope",
			},
			[]string{"scope"},
		),
	}
	promRegistry.MustRegister(e.metrics.entities)
	promRegistry.MustRegister(e.metrics.runsTotal)
}

// Start seeds the default checks and settings and subscribes to ingest
// completions for automatic materialization
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("completeness engine already started")
	}
	e.started = true
	e.mu.Unlock()
	if err := e.config.DB.SeedCompletenessChecks(DefaultChecks()); err != nil {
		return err
	}
	if err := e.config.DB.SeedCompletenessSettings(
		&models.CompletenessSettings{
			DefaultLookbackDays: DefaultLookbackDays,
		},
	); err != nil {
		return err
	}
	if e.config.EventBus != nil {
		e.config.EventBus.SubscribeFunc(
			ingest.RunFinishedEventType,
			e.handleRunFinished,
		)
	}
	return nil
}

// Stop waits for any in-flight automatic materialization
func (e *Engine) Stop() error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}

// handleRunFinished rematerializes the scopes covered by a successful ingest
// run
func (e *Engine) handleRunFinished(evt event.Event) {
	finished, ok := evt.Data.(ingest.RunFinishedEvent)
	if !ok || finished.Status != models.IngestStatusSuccess {
		return
	}
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()
	go func() {
		defer e.wg.Done()
		for _, scopeId := range scopesForIngestScope(finished.Scope) {
			if _, err := e.RunMaterialization(
				context.Background(),
				scopeId,
			); err != nil {
				e.logger.Error(
					"post-ingest materialization failed",
					"scope", scopeId,
					"error", err,
				)
			}
		}
	}()
}

// scopesForIngestScope maps an ingest scope to the completeness scopes it
// refreshes
func scopesForIngestScope(scope string) []string {
	switch scope {
	case models.IngestScopeTargets:
		return []string{models.CompletenessScopeTargetPool}
	case models.IngestScopeUniverse:
		return []string{models.CompletenessScopeSourcePool}
	case models.IngestScopeBoth:
		return []string{
			models.CompletenessScopeTargetPool,
			models.CompletenessScopeSourcePool,
		}
	}
	return nil
}

// ScopeConfigFor returns the completeness configuration for the given scope
func (e *Engine) ScopeConfigFor(scopeId string) (*ScopeConfig, error) {
	if !models.ValidCompletenessScope(scopeId) {
		return nil, fmt.Errorf("%w: unknown scope %q", ErrConfigInvalid, scopeId)
	}
	checks, err := e.config.DB.CompletenessChecks(scopeId)
	if err != nil {
		return nil, err
	}
	settings, err := e.config.DB.CompletenessSettings()
	if err != nil {
		return nil, err
	}
	lookback := DefaultLookbackDays
	if settings != nil {
		lookback = settings.DefaultLookbackDays
	}
	return &ScopeConfig{
		ScopeId:      scopeId,
		Checks:       checks,
		LookbackDays: lookback,
	}, nil
}

// SetTargetConfig replaces the enabled check set for the target pool and the
// shared lookback window. Source pool checks are derived from the provider
// catalog and cannot be toggled; their IDs are dropped from the enabled set
// without error. Unknown IDs are rejected before anything is written.
func (e *Engine) SetTargetConfig(
	enabledCheckIds []string,
	lookbackDays int,
) error {
	if len(enabledCheckIds) == 0 {
		return fmt.Errorf(
			"%w: at least one target check must be enabled",
			ErrConfigInvalid,
		)
	}
	if lookbackDays < 1 {
		return fmt.Errorf(
			"%w: lookback days must be positive, got %d",
			ErrConfigInvalid,
			lookbackDays,
		)
	}
	known, err := e.config.DB.CompletenessChecks(
		models.CompletenessScopeTargetPool,
	)
	if err != nil {
		return err
	}
	sourceOwned, err := e.config.DB.CompletenessChecks(
		models.CompletenessScopeSourcePool,
	)
	if err != nil {
		return err
	}
	knownIds := make([]string, 0, len(known))
	for _, check := range known {
		knownIds = append(knownIds, check.CheckId)
	}
	sourceIds := make([]string, 0, len(sourceOwned))
	for _, check := range sourceOwned {
		sourceIds = append(sourceIds, check.CheckId)
	}
	targetIds := make([]string, 0, len(enabledCheckIds))
	for _, id := range enabledCheckIds {
		switch {
		case slices.Contains(knownIds, id):
			targetIds = append(targetIds, id)
		case slices.Contains(sourceIds, id):
			e.logger.Debug("ignoring toggle for source pool check", "check", id)
		default:
			return fmt.Errorf(
				"%w: unknown target check %q",
				ErrConfigInvalid,
				id,
			)
		}
	}
	if len(targetIds) == 0 {
		return fmt.Errorf(
			"%w: at least one target check must be enabled",
			ErrConfigInvalid,
		)
	}
	if err := e.config.DB.SetTargetChecksEnabled(targetIds); err != nil {
		return err
	}
	settings, err := e.config.DB.CompletenessSettings()
	if err != nil {
		return err
	}
	if settings == nil {
		settings = &models.CompletenessSettings{}
	}
	settings.DefaultLookbackDays = lookbackDays
	if err := e.config.DB.UpdateCompletenessSettings(settings); err != nil {
		return err
	}
	e.logger.Info(
		"target completeness config updated",
		"enabled_checks", len(targetIds),
		"lookback_days", lookbackDays,
	)
	return nil
}

// PreviewCoverage computes coverage for a scope without persisting anything
func (e *Engine) PreviewCoverage(
	ctx context.Context,
	scopeId string,
) (*CoveragePreview, error) {
	rows, asOf, err := e.compute(ctx, scopeId)
	if err != nil {
		return nil, err
	}
	preview := &CoveragePreview{
		ScopeId:       scopeId,
		AsOfTradeDate: asOf,
		ByBucket:      make(map[string]*CoverageTotals),
	}
	for i := range rows {
		row := &rows[i]
		preview.Totals.count(row.Status)
		bucket, ok := preview.ByBucket[row.BucketId]
		if !ok {
			bucket = &CoverageTotals{}
			preview.ByBucket[row.BucketId] = bucket
		}
		bucket.count(row.Status)
	}
	return preview, nil
}

// RunMaterialization computes coverage for a scope and persists the result:
// a materialization run row with aggregate totals, plus one status row per
// (check, entity) marked as the current set. Earlier status rows stay in
// place with Current cleared.
func (e *Engine) RunMaterialization(
	ctx context.Context,
	scopeId string,
) (*models.MaterializationRun, error) {
	run := &models.MaterializationRun{
		ScopeId:   scopeId,
		StartedAt: e.now().UnixMilli(),
	}
	rows, _, err := e.compute(ctx, scopeId)
	if err != nil {
		return nil, err
	}
	if err := e.config.DB.AddMaterializationRun(run); err != nil {
		return nil, err
	}
	var totals CoverageTotals
	for i := range rows {
		rows[i].RunID = run.ID
		rows[i].Current = true
		totals.count(rows[i].Status)
	}
	if err := e.config.DB.ReplaceCurrentCompletenessStatus(
		scopeId,
		rows,
	); err != nil {
		return nil, err
	}
	finishedAt := e.now().UnixMilli()
	run.FinishedAt = &finishedAt
	run.TotalComplete = totals.Complete
	run.TotalPartial = totals.Partial
	run.TotalMissing = totals.Missing
	run.TotalNotStarted = totals.NotStarted
	run.TotalNotApplicable = totals.NotApplicable
	if err := e.config.DB.UpdateMaterializationRun(run); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.runsTotal.WithLabelValues(scopeId).Inc()
		e.metrics.entities.WithLabelValues(
			scopeId, models.CompletenessStatusComplete,
		).Set(float64(totals.Complete))
		e.metrics.entities.WithLabelValues(
			scopeId, models.CompletenessStatusPartial,
		).Set(float64(totals.Partial))
		e.metrics.entities.WithLabelValues(
			scopeId, models.CompletenessStatusMissing,
		).Set(float64(totals.Missing))
		e.metrics.entities.WithLabelValues(
			scopeId, models.CompletenessStatusNotStarted,
		).Set(float64(totals.NotStarted))
		e.metrics.entities.WithLabelValues(
			scopeId, models.CompletenessStatusNotApplicable,
		).Set(float64(totals.NotApplicable))
	}
	e.logger.Info(
		"materialization completed",
		"scope", scopeId,
		"entities", len(rows),
		"complete", totals.Complete,
		"partial", totals.Partial,
		"missing", totals.Missing,
	)
	return run, nil
}

// ListStatus returns current status rows matching the filter
func (e *Engine) ListStatus(
	filter database.CompletenessStatusFilter,
) ([]models.CompletenessStatus, error) {
	return e.config.DB.CompletenessStatusRows(filter)
}

// ListMaterializationRuns returns materialization runs, most recent first
func (e *Engine) ListMaterializationRuns(
	scopeId string,
	limit int,
) ([]models.MaterializationRun, error) {
	return e.config.DB.MaterializationRuns(scopeId, limit)
}

// compute derives a status row per (enabled check, entity) for a scope.
// Cancellation is observed between checks.
func (e *Engine) compute(
	ctx context.Context,
	scopeId string,
) ([]models.CompletenessStatus, string, error) {
	if !models.ValidCompletenessScope(scopeId) {
		return nil, "", fmt.Errorf(
			"%w: unknown scope %q",
			ErrConfigInvalid,
			scopeId,
		)
	}
	cfg, err := e.ScopeConfigFor(scopeId)
	if err != nil {
		return nil, "", err
	}
	asOf := ingest.LatestTradeDate(e.now())
	fromDate, requiredDates := lookbackWindow(asOf, cfg.LookbackDays)
	var rows []models.CompletenessStatus
	for _, check := range cfg.Checks {
		if !check.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		entities, err := e.entitiesFor(scopeId, check.BucketId)
		if err != nil {
			return nil, "", err
		}
		contract, haveContract := e.config.Registry.ContractById(
			check.DatasetId,
		)
		for _, entity := range entities {
			row := models.CompletenessStatus{
				ScopeId:       scopeId,
				CheckId:       check.CheckId,
				EntityType:    entity.entityType,
				EntityId:      entity.entityId,
				BucketId:      check.BucketId,
				AsOfTradeDate: &asOf,
			}
			if !haveContract || !contract.AppliesTo(check.BucketId) {
				row.Status = models.CompletenessStatusNotApplicable
			} else {
				status, ratio, err := e.entityStatus(
					&check,
					&contract,
					entity.entityId,
					fromDate,
					asOf,
					requiredDates,
				)
				if err != nil {
					return nil, "", err
				}
				row.Status = status
				row.CoverageRatio = ratio
			}
			rows = append(rows, row)
		}
	}
	return rows, asOf, nil
}

type entityRef struct {
	entityType string
	entityId   string
}

// entitiesFor resolves the entity set for a (scope, bucket) pair. Macro
// checks run over the static series catalog, everything else over cached
// instruments.
func (e *Engine) entitiesFor(
	scopeId string,
	bucketId string,
) ([]entityRef, error) {
	if bucketId == models.BucketMacro {
		entities := make([]entityRef, 0, len(dataset.MacroSeries))
		for _, seriesCode := range dataset.MacroSeries {
			entities = append(entities, entityRef{
				entityType: EntityTypeSeries,
				entityId:   seriesCode,
			})
		}
		return entities, nil
	}
	ingestScope := models.IngestScopeUniverse
	if scopeId == models.CompletenessScopeTargetPool {
		ingestScope = models.IngestScopeTargets
	}
	instruments, err := e.config.DB.Instruments(ingestScope)
	if err != nil {
		return nil, err
	}
	var entities []entityRef
	for _, instrument := range instruments {
		if instrument.Bucket != bucketId {
			continue
		}
		entities = append(entities, entityRef{
			entityType: EntityTypeInstrument,
			entityId:   instrument.Symbol,
		})
	}
	return entities, nil
}

// entityStatus derives one entity's status against one check. Trade-date
// datasets measure distinct dates covered in the lookback window against the
// check's thresholds; presence datasets only distinguish having data from
// not having started.
func (e *Engine) entityStatus(
	check *models.CompletenessCheck,
	contract *dataset.Contract,
	entityId string,
	fromDate string,
	asOf string,
	requiredDates int64,
) (string, *float64, error) {
	totalRows, err := e.config.DB.CountEntityRows(
		contract.Table,
		contract.KeyColumns[0],
		entityId,
	)
	if err != nil {
		return "", nil, err
	}
	if totalRows == 0 {
		return models.CompletenessStatusNotStarted, nil, nil
	}
	if contract.TradeDateColumn == "" {
		ratio := 1.0
		return models.CompletenessStatusComplete, &ratio, nil
	}
	haveDates, err := e.config.DB.CountEntityTradeDates(
		contract.Table,
		contract.KeyColumns[0],
		entityId,
		contract.TradeDateColumn,
		fromDate,
		asOf,
	)
	if err != nil {
		return "", nil, err
	}
	if requiredDates <= 0 {
		ratio := 1.0
		return models.CompletenessStatusComplete, &ratio, nil
	}
	ratio := float64(haveDates) / float64(requiredDates)
	// Seven-day markets can cover more dates than the weekday requirement
	if ratio > 1 {
		ratio = 1
	}
	switch {
	case ratio >= check.CompleteThreshold:
		return models.CompletenessStatusComplete, &ratio, nil
	case ratio <= check.MissingFloor:
		return models.CompletenessStatusMissing, &ratio, nil
	default:
		return models.CompletenessStatusPartial, &ratio, nil
	}
}

// lookbackWindow returns the inclusive window start date and the number of
// weekdays the window requires
func lookbackWindow(asOf string, lookbackDays int) (string, int64) {
	end, err := time.Parse(time.DateOnly, asOf)
	if err != nil {
		return asOf, 0
	}
	if lookbackDays < 1 {
		lookbackDays = 1
	}
	start := end.AddDate(0, 0, -(lookbackDays - 1))
	var required int64
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			required++
		}
	}
	return start.Format(time.DateOnly), required
}
