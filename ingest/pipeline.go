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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/blinklabs-io/marketd/database"
	"github.com/blinklabs-io/marketd/database/models"
	"github.com/blinklabs-io/marketd/dataset"
	"github.com/blinklabs-io/marketd/event"
	"github.com/blinklabs-io/marketd/provider"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const (
	// apiTargetList is the provider API serving the curated target symbol set
	apiTargetList = "target_list"

	// DefaultCatalogCacheTTL is how long slow-moving catalog fetches
	// (instruments, target list) may be served from the page cache
	DefaultCatalogCacheTTL = 4 * time.Hour
)

// PipelineConfig describes the ingestion pipeline configuration
type PipelineConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	DB           *database.Database
	Client       *provider.Client
	Ledger       *Ledger
	EventBus     *event.EventBus
	Now          func() time.Time
	PageSize     int
	CatalogTTL   time.Duration
}

// Pipeline executes one full ingestion pass: it refreshes the curated target
// set when in scope, then fetches and upserts each dataset in registry order.
// Error handling follows a per-dataset blast radius: an upstream rejection or
// pagination anomaly degrades the run, a timeout or storage failure ends it.
type Pipeline struct {
	config  PipelineConfig
	logger  *slog.Logger
	metrics *pipelineMetrics
	now     func() time.Time
}

type pipelineMetrics struct {
	runsTotal *prometheus.CounterVec
	rowsTotal *prometheus.CounterVec
}

// pipelineStep is one unit of run progress with a gate checkpoint before it
type pipelineStep struct {
	run  func(ctx context.Context) (database.UpsertCounts, int64, error)
	name string
}

// NewPipeline creates a new ingestion pipeline
func NewPipeline(cfg PipelineConfig) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = provider.DefaultPageSize
	}
	if cfg.CatalogTTL <= 0 {
		cfg.CatalogTTL = DefaultCatalogCacheTTL
	}
	p := &Pipeline{
		config: cfg,
		logger: logger.With("component", "ingest"),
		now:    cfg.Now,
	}
	if cfg.PromRegistry != nil {
		p.initMetrics(cfg.PromRegistry)
	}
	return p
}

func (p *Pipeline) initMetrics(promRegistry prometheus.Registerer) {
	p.metrics = &pipelineMetrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketd_ingest_runs_total",
				Help: "total ingest runs by scope and terminal status",
			},
			[]string{"scope", "status"},
		),
		rowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketd_ingest_rows_total",
				Help: "total rows written by dataset and operation",
			},
			[]string{"dataset", "op"},
		),
	}
	promRegistry.MustRegister(p.metrics.runsTotal)
	promRegistry.MustRegister(p.metrics.rowsTotal)
}

// LatestTradeDate returns the most recent weekday on or before the given
// time, formatted as a trade date
func LatestTradeDate(t time.Time) string {
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, -1)
	}
	return t.Format(time.DateOnly)
}

// Run executes one full ingestion pass under an already-held run lock. It
// opens a run record, walks the in-scope datasets, and closes the record
// with the terminal status. The returned run reflects the final record; a
// non-nil error means the run could not be opened or its record could not
// be persisted, not that ingestion work failed.
func (p *Pipeline) Run(
	ctx context.Context,
	scope string,
	mode string,
	gate *Gate,
) (*models.IngestRun, error) {
	asOf := LatestTradeDate(p.now())
	run, err := p.config.Ledger.StartRun(scope, mode, asOf)
	if err != nil {
		return nil, err
	}
	status := models.IngestStatusSuccess
	var totals database.UpsertCounts
	var softErrors int64
	var messages []string
	for _, step := range p.stepsForScope(scope, asOf) {
		if err := gate.Checkpoint(ctx); err != nil {
			status, messages = classifyStepError(
				status,
				messages,
				step.name,
				err,
			)
			break
		}
		counts, stepSoft, err := step.run(ctx)
		if err != nil {
			var rejected *provider.RejectedError
			if errors.As(err, &rejected) {
				// Dataset-fatal only: record and move on to the next dataset
				softErrors++
				messages = append(
					messages,
					fmt.Sprintf("%s: %s", step.name, rejected.Error()),
				)
				p.logger.Warn(
					"dataset rejected by provider",
					"run_id", run.RunId,
					"dataset", step.name,
					"code", rejected.Code,
					"msg", rejected.Msg,
				)
				continue
			}
			status, messages = classifyStepError(
				status,
				messages,
				step.name,
				err,
			)
			break
		}
		totals.Add(counts)
		softErrors += stepSoft
		if p.metrics != nil {
			p.metrics.rowsTotal.WithLabelValues(step.name, "inserted").
				Add(float64(counts.Inserted))
			p.metrics.rowsTotal.WithLabelValues(step.name, "updated").
				Add(float64(counts.Updated))
		}
	}
	outcome := RunOutcome{
		Status:       status,
		Inserted:     totals.Inserted,
		Updated:      totals.Updated,
		Errors:       softErrors,
		ErrorMessage: strings.Join(messages, "; "),
	}
	finished, err := p.config.Ledger.FinishRun(run.RunId, outcome)
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.runsTotal.WithLabelValues(scope, finished.Status).Inc()
	}
	if p.config.EventBus != nil {
		p.config.EventBus.Publish(
			RunFinishedEventType,
			event.NewEvent(
				RunFinishedEventType,
				RunFinishedEvent{
					RunId:         finished.RunId,
					Scope:         finished.Scope,
					Mode:          finished.Mode,
					Status:        finished.Status,
					AsOfTradeDate: asOf,
					Inserted:      finished.Inserted,
					Updated:       finished.Updated,
					Errors:        finished.Errors,
				},
			),
		)
	}
	return finished, nil
}

// classifyStepError maps a fatal step error to the run's terminal status
func classifyStepError(
	status string,
	messages []string,
	stepName string,
	err error,
) (string, []string) {
	if errors.Is(err, ErrRunCancelled) || errors.Is(err, context.Canceled) {
		return models.IngestStatusCancelled, messages
	}
	return models.IngestStatusFailed, append(
		messages,
		fmt.Sprintf("%s: %s", stepName, err.Error()),
	)
}

// stepsForScope builds the ordered work list for a run. Instruments come
// first so the target refresh can flag newly listed symbols, and the target
// refresh precedes the symbol-filtered datasets so they see current
// membership.
func (p *Pipeline) stepsForScope(scope string, asOf string) []pipelineStep {
	steps := []pipelineStep{
		{
			name: dataset.DatasetInstrument,
			run: func(ctx context.Context) (database.UpsertCounts, int64, error) {
				return p.ingestInstruments(ctx)
			},
		},
	}
	if scope != models.IngestScopeUniverse {
		steps = append(steps, pipelineStep{
			name: apiTargetList,
			run: func(ctx context.Context) (database.UpsertCounts, int64, error) {
				return p.refreshTargetSet(ctx)
			},
		})
	}
	steps = append(steps,
		pipelineStep{
			name: dataset.DatasetDailyPrice,
			run: func(ctx context.Context) (database.UpsertCounts, int64, error) {
				return p.ingestDailyPrices(ctx, scope, asOf)
			},
		},
		pipelineStep{
			name: dataset.DatasetFundamental,
			run: func(ctx context.Context) (database.UpsertCounts, int64, error) {
				return p.ingestFundamentals(ctx, scope, asOf)
			},
		},
		pipelineStep{
			name: dataset.DatasetMacroSeries,
			run: func(ctx context.Context) (database.UpsertCounts, int64, error) {
				return p.ingestMacroValues(ctx)
			},
		},
	)
	return steps
}

// refreshTargetSet replaces the curated target membership from the provider.
// An empty upstream list is treated as a provider fault and left unapplied.
func (p *Pipeline) refreshTargetSet(
	ctx context.Context,
) (database.UpsertCounts, int64, error) {
	result, err := p.config.Client.FetchAll(
		ctx,
		apiTargetList,
		nil,
		[]string{"symbol"},
		provider.FetchOptions{
			PageSize: p.config.PageSize,
			CacheTTL: p.config.CatalogTTL,
		},
	)
	if err != nil {
		return database.UpsertCounts{}, 0, err
	}
	symbolIdx := result.FieldIndex("symbol")
	symbols := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		if symbol := stringAt(row, symbolIdx); symbol != "" {
			symbols = append(symbols, symbol)
		}
	}
	if len(symbols) == 0 {
		p.logger.Warn("provider returned empty target list, keeping current")
		return database.UpsertCounts{}, 1, nil
	}
	if err := p.config.DB.SetTargetSet(symbols); err != nil {
		return database.UpsertCounts{}, 0, err
	}
	p.logger.Info("target set refreshed", "symbols", len(symbols))
	return database.UpsertCounts{}, truncationErrors(result), nil
}

func (p *Pipeline) ingestInstruments(
	ctx context.Context,
) (database.UpsertCounts, int64, error) {
	result, err := p.config.Client.FetchAll(
		ctx,
		dataset.DatasetInstrument,
		nil,
		[]string{
			"symbol",
			"name",
			"bucket",
			"exchange",
			"currency",
			"list_date",
			"delist_date",
		},
		provider.FetchOptions{
			PageSize: p.config.PageSize,
			CacheTTL: p.config.CatalogTTL,
		},
	)
	if err != nil {
		return database.UpsertCounts{}, 0, err
	}
	var (
		symbolIdx     = result.FieldIndex("symbol")
		nameIdx       = result.FieldIndex("name")
		bucketIdx     = result.FieldIndex("bucket")
		exchangeIdx   = result.FieldIndex("exchange")
		currencyIdx   = result.FieldIndex("currency")
		listDateIdx   = result.FieldIndex("list_date")
		delistDateIdx = result.FieldIndex("delist_date")
	)
	var rowErrors int64
	rows := make([]models.Instrument, 0, len(result.Rows))
	for _, row := range result.Rows {
		symbol := stringAt(row, symbolIdx)
		if symbol == "" {
			rowErrors++
			continue
		}
		rows = append(rows, models.Instrument{
			Symbol:     symbol,
			Name:       stringAt(row, nameIdx),
			Bucket:     stringAt(row, bucketIdx),
			Exchange:   stringAt(row, exchangeIdx),
			Currency:   stringAt(row, currencyIdx),
			ListDate:   optString(stringAt(row, listDateIdx)),
			DelistDate: optString(stringAt(row, delistDateIdx)),
		})
	}
	counts, err := p.config.DB.UpsertInstruments(rows)
	if err != nil {
		return database.UpsertCounts{}, 0, err
	}
	return counts, rowErrors + truncationErrors(result), nil
}

func (p *Pipeline) ingestDailyPrices(
	ctx context.Context,
	scope string,
	asOf string,
) (database.UpsertCounts, int64, error) {
	params := map[string]string{"trade_date": asOf}
	if err := p.addSymbolFilter(params, scope); err != nil {
		return database.UpsertCounts{}, 0, err
	}
	result, err := p.config.Client.FetchAll(
		ctx,
		dataset.DatasetDailyPrice,
		params,
		[]string{
			"symbol",
			"trade_date",
			"open",
			"high",
			"low",
			"close",
			"volume",
		},
		provider.FetchOptions{PageSize: p.config.PageSize},
	)
	if err != nil {
		return database.UpsertCounts{}, 0, err
	}
	var (
		symbolIdx    = result.FieldIndex("symbol")
		tradeDateIdx = result.FieldIndex("trade_date")
		openIdx      = result.FieldIndex("open")
		highIdx      = result.FieldIndex("high")
		lowIdx       = result.FieldIndex("low")
		closeIdx     = result.FieldIndex("close")
		volumeIdx    = result.FieldIndex("volume")
	)
	var rowErrors int64
	rows := make([]models.DailyPrice, 0, len(result.Rows))
	for _, row := range result.Rows {
		symbol := stringAt(row, symbolIdx)
		tradeDate := stringAt(row, tradeDateIdx)
		if symbol == "" || tradeDate == "" {
			rowErrors++
			continue
		}
		rows = append(rows, models.DailyPrice{
			Symbol:    symbol,
			TradeDate: tradeDate,
			Open:      decimalAt(row, openIdx),
			High:      decimalAt(row, highIdx),
			Low:       decimalAt(row, lowIdx),
			Close:     decimalAt(row, closeIdx),
			Volume:    decimalAt(row, volumeIdx),
		})
	}
	counts, err := p.config.DB.UpsertDailyPrices(rows)
	if err != nil {
		return database.UpsertCounts{}, 0, err
	}
	return counts, rowErrors + truncationErrors(result), nil
}

func (p *Pipeline) ingestFundamentals(
	ctx context.Context,
	scope string,
	asOf string,
) (database.UpsertCounts, int64, error) {
	params := map[string]string{"as_of": asOf}
	if err := p.addSymbolFilter(params, scope); err != nil {
		return database.UpsertCounts{}, 0, err
	}
	result, err := p.config.Client.FetchAll(
		ctx,
		dataset.DatasetFundamental,
		params,
		[]string{
			"symbol",
			"period_end",
			"ann_date",
			"revenue",
			"net_income",
			"eps",
		},
		provider.FetchOptions{PageSize: p.config.PageSize},
	)
	if err != nil {
		return database.UpsertCounts{}, 0, err
	}
	var (
		symbolIdx    = result.FieldIndex("symbol")
		periodEndIdx = result.FieldIndex("period_end")
		annDateIdx   = result.FieldIndex("ann_date")
		revenueIdx   = result.FieldIndex("revenue")
		netIncomeIdx = result.FieldIndex("net_income")
		epsIdx       = result.FieldIndex("eps")
	)
	var rowErrors int64
	rows := make([]models.Fundamental, 0, len(result.Rows))
	for _, row := range result.Rows {
		symbol := stringAt(row, symbolIdx)
		periodEnd := stringAt(row, periodEndIdx)
		if symbol == "" || periodEnd == "" {
			rowErrors++
			continue
		}
		rows = append(rows, models.Fundamental{
			Symbol:    symbol,
			PeriodEnd: periodEnd,
			AnnDate:   optString(stringAt(row, annDateIdx)),
			Revenue:   decimalAt(row, revenueIdx),
			NetIncome: decimalAt(row, netIncomeIdx),
			Eps:       decimalAt(row, epsIdx),
		})
	}
	counts, err := p.config.DB.UpsertFundamentals(rows)
	if err != nil {
		return database.UpsertCounts{}, 0, err
	}
	return counts, rowErrors + truncationErrors(result), nil
}

func (p *Pipeline) ingestMacroValues(
	ctx context.Context,
) (database.UpsertCounts, int64, error) {
	params := map[string]string{
		"series_codes": strings.Join(dataset.MacroSeries, ","),
	}
	result, err := p.config.Client.FetchAll(
		ctx,
		dataset.DatasetMacroSeries,
		params,
		[]string{"series_code", "period_date", "value"},
		provider.FetchOptions{PageSize: p.config.PageSize},
	)
	if err != nil {
		return database.UpsertCounts{}, 0, err
	}
	var (
		seriesCodeIdx = result.FieldIndex("series_code")
		periodDateIdx = result.FieldIndex("period_date")
		valueIdx      = result.FieldIndex("value")
	)
	var rowErrors int64
	rows := make([]models.MacroValue, 0, len(result.Rows))
	for _, row := range result.Rows {
		seriesCode := stringAt(row, seriesCodeIdx)
		periodDate := stringAt(row, periodDateIdx)
		if seriesCode == "" || periodDate == "" {
			rowErrors++
			continue
		}
		rows = append(rows, models.MacroValue{
			SeriesCode: seriesCode,
			PeriodDate: periodDate,
			Value:      decimalAt(row, valueIdx),
		})
	}
	counts, err := p.config.DB.UpsertMacroValues(rows)
	if err != nil {
		return database.UpsertCounts{}, 0, err
	}
	return counts, rowErrors + truncationErrors(result), nil
}

// addSymbolFilter narrows a fetch to the curated target set for targets-scoped
// runs. Universe and both-scoped runs fetch everything the provider has.
func (p *Pipeline) addSymbolFilter(
	params map[string]string,
	scope string,
) error {
	if scope != models.IngestScopeTargets {
		return nil
	}
	instruments, err := p.config.DB.Instruments(models.IngestScopeTargets)
	if err != nil {
		return err
	}
	symbols := make([]string, 0, len(instruments))
	for _, instrument := range instruments {
		symbols = append(symbols, instrument.Symbol)
	}
	params["symbols"] = strings.Join(symbols, ",")
	return nil
}

// truncationErrors maps a pagination anomaly to one soft error. The rows
// gathered before the anomaly are still persisted.
func truncationErrors(result *provider.FetchResult) int64 {
	if result.Truncated {
		return 1
	}
	return 0
}

func stringAt(row []any, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	switch v := row[idx].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	}
	return ""
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func decimalAt(row []any, idx int) decimal.Decimal {
	if idx < 0 || idx >= len(row) {
		return decimal.Decimal{}
	}
	switch v := row[idx].(type) {
	case float64:
		return decimal.NewFromFloat(v)
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	case json.Number:
		if d, err := decimal.NewFromString(v.String()); err == nil {
			return d
		}
	}
	return decimal.Decimal{}
}
