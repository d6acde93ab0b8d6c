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

package completeness_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/blinklabs-io/marketd/completeness"
	"github.com/blinklabs-io/marketd/database"
	"github.com/blinklabs-io/marketd/database/models"
	"github.com/blinklabs-io/marketd/dataset"
	"github.com/blinklabs-io/marketd/event"
	"github.com/blinklabs-io/marketd/ingest"

	"github.com/shopspring/decimal"
)

// testNow is a Monday, so the as-of trade date is the same day
var testNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func newTestEngine(
	t *testing.T,
	eventBus *event.EventBus,
) (*completeness.Engine, *database.Database) {
	t.Helper()
	db, err := database.New(&database.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to open test database: %s", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %s", err)
		}
	})
	engine := completeness.NewEngine(completeness.EngineConfig{
		DB:       db,
		Registry: dataset.NewRegistry(),
		EventBus: eventBus,
		Now:      func() time.Time { return testNow },
	})
	if err := engine.Start(); err != nil {
		t.Fatalf("failed to start engine: %s", err)
	}
	t.Cleanup(func() {
		if err := engine.Stop(); err != nil {
			t.Errorf("failed to stop engine: %s", err)
		}
	})
	return engine, db
}

func price(symbol, tradeDate string) models.DailyPrice {
	return models.DailyPrice{
		Symbol:    symbol,
		TradeDate: tradeDate,
		Open:      decimal.NewFromInt(10),
		High:      decimal.NewFromInt(11),
		Low:       decimal.NewFromInt(9),
		Close:     decimal.NewFromInt(10),
		Volume:    decimal.NewFromInt(1000),
	}
}

// seedMarketData builds a small universe with known coverage gaps. With a
// 5-day lookback ending Monday 2026-08-31 the window requires 3 weekdays
// (Thu 27, Fri 28, Mon 31).
func seedMarketData(t *testing.T, db *database.Database) {
	t.Helper()
	if _, err := db.UpsertInstruments([]models.Instrument{
		{Symbol: "AAA", Bucket: models.BucketStock, InTargetSet: true},
		{Symbol: "BBB", Bucket: models.BucketStock, InTargetSet: true},
		{Symbol: "CCC", Bucket: models.BucketEtf, InTargetSet: true},
		{Symbol: "DDD", Bucket: models.BucketStock},
	}); err != nil {
		t.Fatalf("failed to seed instruments: %s", err)
	}
	if _, err := db.UpsertDailyPrices([]models.DailyPrice{
		// AAA covers the whole window
		price("AAA", "2026-08-27"),
		price("AAA", "2026-08-28"),
		price("AAA", "2026-08-31"),
		// BBB covers one of three required dates
		price("BBB", "2026-08-28"),
		// CCC has data, but all of it predates the window
		price("CCC", "2026-07-01"),
	}); err != nil {
		t.Fatalf("failed to seed prices: %s", err)
	}
	if _, err := db.UpsertFundamentals([]models.Fundamental{
		{
			Symbol:    "AAA",
			PeriodEnd: "2026-06-30",
			Revenue:   decimal.NewFromInt(1000),
			NetIncome: decimal.NewFromInt(100),
			Eps:       decimal.NewFromFloat(1.5),
		},
	}); err != nil {
		t.Fatalf("failed to seed fundamentals: %s", err)
	}
}

var allTargetChecks = []string{
	"target_pool:stock:daily_price",
	"target_pool:stock:fundamental",
	"target_pool:etf:daily_price",
}

func TestDefaultChecksSeeded(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	targetCfg, err := engine.ScopeConfigFor(
		models.CompletenessScopeTargetPool,
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(targetCfg.Checks) != 3 {
		t.Fatalf("expected 3 target checks, got %d", len(targetCfg.Checks))
	}
	if targetCfg.LookbackDays != completeness.DefaultLookbackDays {
		t.Fatalf("expected default lookback, got %d", targetCfg.LookbackDays)
	}
	sourceCfg, err := engine.ScopeConfigFor(
		models.CompletenessScopeSourcePool,
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(sourceCfg.Checks) != 7 {
		t.Fatalf("expected 7 source checks, got %d", len(sourceCfg.Checks))
	}
	for _, check := range sourceCfg.Checks {
		if !check.Enabled {
			t.Fatalf("expected source check %s enabled", check.CheckId)
		}
	}
}

func TestSetTargetConfigValidation(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	if err := engine.SetTargetConfig(nil, 30); !errors.Is(
		err,
		completeness.ErrConfigInvalid,
	) {
		t.Fatalf("expected ErrConfigInvalid for empty set, got %v", err)
	}
	if err := engine.SetTargetConfig(
		[]string{"target_pool:stock:daily_price", "bogus"},
		30,
	); !errors.Is(err, completeness.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for unknown check, got %v", err)
	}
	if err := engine.SetTargetConfig(
		[]string{"target_pool:stock:daily_price"},
		0,
	); !errors.Is(err, completeness.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for zero lookback, got %v", err)
	}
	if err := engine.SetTargetConfig(
		[]string{"target_pool:stock:daily_price"},
		10,
	); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	cfg, err := engine.ScopeConfigFor(models.CompletenessScopeTargetPool)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if cfg.LookbackDays != 10 {
		t.Fatalf("expected lookback 10, got %d", cfg.LookbackDays)
	}
	for _, check := range cfg.Checks {
		wantEnabled := check.CheckId == "target_pool:stock:daily_price"
		if check.Enabled != wantEnabled {
			t.Fatalf(
				"check %s enabled=%v, want %v",
				check.CheckId,
				check.Enabled,
				wantEnabled,
			)
		}
	}
}

func TestSetTargetConfigIgnoresSourceChecks(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	// Source pool IDs are dropped without error, not rejected as unknown
	if err := engine.SetTargetConfig([]string{
		"target_pool:stock:daily_price",
		"source_pool:spot:daily_price",
	}, 10); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	targetCfg, err := engine.ScopeConfigFor(models.CompletenessScopeTargetPool)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	for _, check := range targetCfg.Checks {
		wantEnabled := check.CheckId == "target_pool:stock:daily_price"
		if check.Enabled != wantEnabled {
			t.Fatalf(
				"check %s enabled=%v, want %v",
				check.CheckId,
				check.Enabled,
				wantEnabled,
			)
		}
	}
	sourceCfg, err := engine.ScopeConfigFor(models.CompletenessScopeSourcePool)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	for _, check := range sourceCfg.Checks {
		if !check.Enabled {
			t.Fatalf("source check %s must stay enabled", check.CheckId)
		}
	}
	// A set that leaves no target checks enabled is still invalid
	if err := engine.SetTargetConfig(
		[]string{"source_pool:spot:daily_price"},
		10,
	); !errors.Is(err, completeness.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestSevenDayMarketCoverageClamped(t *testing.T) {
	engine, db := newTestEngine(t, nil)
	if _, err := db.UpsertInstruments([]models.Instrument{
		{Symbol: "XAUUSD", Bucket: models.BucketSpot},
	}); err != nil {
		t.Fatalf("failed to seed instruments: %s", err)
	}
	// Spot markets trade through the weekend, so a 5-day window holds more
	// distinct dates than its 3 required weekdays
	if _, err := db.UpsertDailyPrices([]models.DailyPrice{
		price("XAUUSD", "2026-08-27"),
		price("XAUUSD", "2026-08-28"),
		price("XAUUSD", "2026-08-29"),
		price("XAUUSD", "2026-08-30"),
		price("XAUUSD", "2026-08-31"),
	}); err != nil {
		t.Fatalf("failed to seed prices: %s", err)
	}
	if err := engine.SetTargetConfig(
		[]string{"target_pool:stock:daily_price"},
		5,
	); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, err := engine.RunMaterialization(
		context.Background(),
		models.CompletenessScopeSourcePool,
	); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	rows, err := engine.ListStatus(database.CompletenessStatusFilter{
		ScopeId: models.CompletenessScopeSourcePool,
		CheckId: "source_pool:spot:daily_price",
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 status row, got %d", len(rows))
	}
	if rows[0].Status != models.CompletenessStatusComplete {
		t.Fatalf("expected complete status, got %s", rows[0].Status)
	}
	if rows[0].CoverageRatio == nil || *rows[0].CoverageRatio > 1.0 {
		t.Fatalf("coverage ratio out of range: %v", rows[0].CoverageRatio)
	}
}

func TestRunMaterialization(t *testing.T) {
	engine, db := newTestEngine(t, nil)
	seedMarketData(t, db)
	if err := engine.SetTargetConfig(allTargetChecks, 5); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	run, err := engine.RunMaterialization(
		context.Background(),
		models.CompletenessScopeTargetPool,
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if run.FinishedAt == nil {
		t.Fatal("expected finished materialization run")
	}
	if run.TotalComplete != 2 || run.TotalPartial != 1 ||
		run.TotalMissing != 1 || run.TotalNotStarted != 1 {
		t.Fatalf("unexpected totals: %+v", run)
	}
	rows, err := engine.ListStatus(database.CompletenessStatusFilter{
		ScopeId: models.CompletenessScopeTargetPool,
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	// 2 stock price rows + 2 stock fundamentals rows + 1 etf price row
	if len(rows) != 5 {
		t.Fatalf("expected 5 current status rows, got %d", len(rows))
	}
	byKey := make(map[string]models.CompletenessStatus)
	for _, row := range rows {
		byKey[row.CheckId+"/"+row.EntityId] = row
		if !row.Current {
			t.Fatalf("expected current row, got %+v", row)
		}
	}
	aaa := byKey["target_pool:stock:daily_price/AAA"]
	if aaa.Status != models.CompletenessStatusComplete {
		t.Fatalf("expected AAA complete, got %s", aaa.Status)
	}
	bbb := byKey["target_pool:stock:daily_price/BBB"]
	if bbb.Status != models.CompletenessStatusPartial {
		t.Fatalf("expected BBB partial, got %s", bbb.Status)
	}
	if bbb.CoverageRatio == nil ||
		math.Abs(*bbb.CoverageRatio-1.0/3.0) > 0.001 {
		t.Fatalf("unexpected BBB coverage ratio: %v", bbb.CoverageRatio)
	}
	ccc := byKey["target_pool:etf:daily_price/CCC"]
	if ccc.Status != models.CompletenessStatusMissing {
		t.Fatalf("expected CCC missing, got %s", ccc.Status)
	}
	if fund := byKey["target_pool:stock:fundamental/AAA"]; fund.Status != models.CompletenessStatusComplete {
		t.Fatalf("expected AAA fundamentals complete, got %s", fund.Status)
	}
	if fund := byKey["target_pool:stock:fundamental/BBB"]; fund.Status != models.CompletenessStatusNotStarted {
		t.Fatalf("expected BBB fundamentals not started, got %s", fund.Status)
	}
	// A second materialization supersedes the first set
	if _, err := engine.RunMaterialization(
		context.Background(),
		models.CompletenessScopeTargetPool,
	); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	rows, err = engine.ListStatus(database.CompletenessStatusFilter{
		ScopeId: models.CompletenessScopeTargetPool,
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(rows) != 5 {
		t.Fatalf(
			"expected 5 current rows after rematerialization, got %d",
			len(rows),
		)
	}
	var totalRows int64
	if result := db.DB().Model(&models.CompletenessStatus{}).
		Count(&totalRows); result.Error != nil {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	// Superseded rows are retained
	if totalRows != 10 {
		t.Fatalf("expected 10 total status rows, got %d", totalRows)
	}
}

func TestPreviewCoverageDoesNotPersist(t *testing.T) {
	engine, db := newTestEngine(t, nil)
	seedMarketData(t, db)
	if err := engine.SetTargetConfig(allTargetChecks, 5); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	preview, err := engine.PreviewCoverage(
		context.Background(),
		models.CompletenessScopeTargetPool,
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if preview.AsOfTradeDate != "2026-08-31" {
		t.Fatalf("unexpected as-of date: %s", preview.AsOfTradeDate)
	}
	if preview.Totals.Complete != 2 || preview.Totals.Partial != 1 ||
		preview.Totals.Missing != 1 || preview.Totals.NotStarted != 1 {
		t.Fatalf("unexpected totals: %+v", preview.Totals)
	}
	stockTotals := preview.ByBucket[models.BucketStock]
	if stockTotals == nil || stockTotals.Complete != 2 {
		t.Fatalf("unexpected stock totals: %+v", stockTotals)
	}
	rows, err := engine.ListStatus(database.CompletenessStatusFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(rows) != 0 {
		t.Fatalf("preview persisted %d status rows", len(rows))
	}
}

func TestNotApplicableCheck(t *testing.T) {
	engine, db := newTestEngine(t, nil)
	seedMarketData(t, db)
	// An operator-added combination the dataset does not apply to
	if err := db.SeedCompletenessChecks([]models.CompletenessCheck{
		{
			CheckId:           "target_pool:etf:fundamental",
			ScopeId:           models.CompletenessScopeTargetPool,
			BucketId:          models.BucketEtf,
			DatasetId:         dataset.DatasetFundamental,
			SortOrder:         40,
			Enabled:           true,
			CompleteThreshold: 1.0,
			MissingFloor:      0.05,
		},
	}); err != nil {
		t.Fatalf("failed to seed check: %s", err)
	}
	if err := engine.SetTargetConfig(
		[]string{"target_pool:etf:fundamental"},
		5,
	); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	run, err := engine.RunMaterialization(
		context.Background(),
		models.CompletenessScopeTargetPool,
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if run.TotalNotApplicable != 1 {
		t.Fatalf("expected 1 not applicable entity, got %+v", run)
	}
}

func TestMaterializeAfterIngest(t *testing.T) {
	eventBus := event.NewEventBus(nil)
	defer eventBus.Stop()
	engine, db := newTestEngine(t, eventBus)
	seedMarketData(t, db)
	eventBus.Publish(
		ingest.RunFinishedEventType,
		event.NewEvent(ingest.RunFinishedEventType, ingest.RunFinishedEvent{
			RunId:  "test-run",
			Scope:  models.IngestScopeTargets,
			Mode:   models.IngestModeManual,
			Status: models.IngestStatusSuccess,
		}),
	)
	deadline := time.Now().Add(5 * time.Second)
	for {
		runs, err := engine.ListMaterializationRuns(
			models.CompletenessScopeTargetPool,
			1,
		)
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if len(runs) > 0 && runs[0].FinishedAt != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for post-ingest materialization")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// A failed ingest must not trigger another pass
	eventBus.Publish(
		ingest.RunFinishedEventType,
		event.NewEvent(ingest.RunFinishedEventType, ingest.RunFinishedEvent{
			RunId:  "failed-run",
			Scope:  models.IngestScopeTargets,
			Mode:   models.IngestModeManual,
			Status: models.IngestStatusFailed,
		}),
	)
	time.Sleep(100 * time.Millisecond)
	runs, err := engine.ListMaterializationRuns(
		models.CompletenessScopeTargetPool,
		0,
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 materialization run, got %d", len(runs))
	}
}
