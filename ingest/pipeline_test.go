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

package ingest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blinklabs-io/marketd/database"
	"github.com/blinklabs-io/marketd/database/models"
	"github.com/blinklabs-io/marketd/dataset"
	"github.com/blinklabs-io/marketd/event"
	"github.com/blinklabs-io/marketd/ingest"
	"github.com/blinklabs-io/marketd/provider"
)

type upstreamRequest struct {
	Params  map[string]string `json:"params"`
	ApiName string            `json:"api_name"`
	Fields  []string          `json:"fields"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
}

func writeUpstream(
	w http.ResponseWriter,
	code int,
	msg string,
	fields []string,
	items [][]any,
) {
	resp := map[string]any{
		"code": code,
		"msg":  msg,
	}
	if items != nil {
		resp["data"] = map[string]any{
			"fields": fields,
			"items":  items,
		}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// upstreamOptions tweaks the fake provider per test
type upstreamOptions struct {
	rejectApi string
	slowApi   string
}

// newUpstream serves a small fixed market data universe in the provider's
// envelope format
func newUpstream(t *testing.T, opts upstreamOptions) *httptest.Server {
	t.Helper()
	return httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req upstreamRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("failed to decode upstream request: %s", err)
				return
			}
			if req.ApiName == opts.slowApi {
				time.Sleep(500 * time.Millisecond)
			}
			if req.ApiName == opts.rejectApi {
				writeUpstream(w, 40002, "permission denied", nil, nil)
				return
			}
			if req.Offset > 0 {
				writeUpstream(w, 0, "", nil, [][]any{})
				return
			}
			switch req.ApiName {
			case "target_list":
				writeUpstream(w, 0, "", []string{"symbol"}, [][]any{
					{"AAA"},
					{"BBB"},
				})
			case dataset.DatasetInstrument:
				writeUpstream(
					w,
					0,
					"",
					[]string{
						"symbol",
						"name",
						"bucket",
						"exchange",
						"currency",
						"list_date",
						"delist_date",
					},
					[][]any{
						{"AAA", "Alpha Corp", "stock", "XNYS", "USD", "2020-01-02", nil},
						{"BBB", "Beta Fund", "etf", "XNAS", "USD", nil, nil},
						{"CCC", "Gamma Corp", "stock", "XNYS", "USD", nil, nil},
					},
				)
			case dataset.DatasetDailyPrice:
				symbols := []string{"AAA", "BBB", "CCC"}
				if filter := req.Params["symbols"]; filter != "" {
					symbols = strings.Split(filter, ",")
				}
				tradeDate := req.Params["trade_date"]
				items := make([][]any, 0, len(symbols))
				for _, symbol := range symbols {
					items = append(items, []any{
						symbol, tradeDate, "10.0", "11.0", "9.5", "10.5", 123456,
					})
				}
				writeUpstream(
					w,
					0,
					"",
					[]string{
						"symbol",
						"trade_date",
						"open",
						"high",
						"low",
						"close",
						"volume",
					},
					items,
				)
			case dataset.DatasetFundamental:
				writeUpstream(
					w,
					0,
					"",
					[]string{
						"symbol",
						"period_end",
						"ann_date",
						"revenue",
						"net_income",
						"eps",
					},
					[][]any{
						{"AAA", "2026-06-30", "2026-08-15", "1000.5", "100.25", 1.5},
					},
				)
			case dataset.DatasetMacroSeries:
				writeUpstream(
					w,
					0,
					"",
					[]string{"series_code", "period_date", "value"},
					[][]any{
						{"cpi", "2026-07-31", 3.2},
					},
				)
			default:
				writeUpstream(w, 40001, "unknown api", nil, nil)
			}
		}),
	)
}

type testPipeline struct {
	pipeline *ingest.Pipeline
	db       *database.Database
	eventBus *event.EventBus
}

func newTestPipeline(
	t *testing.T,
	endpoint string,
	requestTimeout time.Duration,
) *testPipeline {
	t.Helper()
	db := newTestDatabase(t)
	eventBus := event.NewEventBus(nil)
	t.Cleanup(eventBus.Stop)
	client := provider.NewClient(provider.ClientConfig{
		Endpoint:       endpoint,
		Token:          "test-token",
		RequestTimeout: requestTimeout,
	})
	pipeline := ingest.NewPipeline(ingest.PipelineConfig{
		DB:       db,
		Client:   client,
		Ledger:   ingest.NewLedger(db, nil),
		EventBus: eventBus,
	})
	return &testPipeline{
		pipeline: pipeline,
		db:       db,
		eventBus: eventBus,
	}
}

func TestPipelineRunBothScope(t *testing.T) {
	srv := newUpstream(t, upstreamOptions{})
	defer srv.Close()
	fixture := newTestPipeline(t, srv.URL, 0)
	var finishedEvents []ingest.RunFinishedEvent
	fixture.eventBus.SubscribeFunc(
		ingest.RunFinishedEventType,
		func(evt event.Event) {
			finishedEvents = append(
				finishedEvents,
				evt.Data.(ingest.RunFinishedEvent),
			)
		},
	)
	run, err := fixture.pipeline.Run(
		context.Background(),
		models.IngestScopeBoth,
		models.IngestModeManual,
		ingest.NewGate(),
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if run.Status != models.IngestStatusSuccess {
		t.Fatalf(
			"expected success, got %s (%v)",
			run.Status,
			run.ErrorMessage,
		)
	}
	// 3 instruments + 3 prices + 1 fundamental + 1 macro observation
	if run.Inserted != 8 {
		t.Fatalf("expected 8 inserted rows, got %d", run.Inserted)
	}
	if run.Errors != 0 {
		t.Fatalf("expected no soft errors, got %d", run.Errors)
	}
	targets, err := fixture.db.Instruments(models.IngestScopeTargets)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(targets) != 2 {
		t.Fatalf("expected 2 target instruments, got %d", len(targets))
	}
	if len(finishedEvents) != 1 {
		t.Fatalf("expected 1 run finished event, got %d", len(finishedEvents))
	}
	if finishedEvents[0].RunId != run.RunId ||
		finishedEvents[0].Status != models.IngestStatusSuccess {
		t.Fatalf("unexpected event payload: %+v", finishedEvents[0])
	}
	// A second pass over the same data only updates
	run, err = fixture.pipeline.Run(
		context.Background(),
		models.IngestScopeBoth,
		models.IngestModeManual,
		ingest.NewGate(),
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if run.Inserted != 0 || run.Updated != 8 {
		t.Fatalf(
			"expected pure update pass, got inserted=%d updated=%d",
			run.Inserted,
			run.Updated,
		)
	}
}

func TestPipelineTargetsScopeFilters(t *testing.T) {
	srv := newUpstream(t, upstreamOptions{})
	defer srv.Close()
	fixture := newTestPipeline(t, srv.URL, 0)
	run, err := fixture.pipeline.Run(
		context.Background(),
		models.IngestScopeTargets,
		models.IngestModeManual,
		ingest.NewGate(),
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if run.Status != models.IngestStatusSuccess {
		t.Fatalf(
			"expected success, got %s (%v)",
			run.Status,
			run.ErrorMessage,
		)
	}
	// Prices restricted to the 2 target symbols
	var priceCount int64
	if result := fixture.db.DB().Model(&models.DailyPrice{}).
		Count(&priceCount); result.Error != nil {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if priceCount != 2 {
		t.Fatalf("expected 2 target price rows, got %d", priceCount)
	}
}

func TestPipelineRejectedDataset(t *testing.T) {
	srv := newUpstream(t, upstreamOptions{
		rejectApi: dataset.DatasetFundamental,
	})
	defer srv.Close()
	fixture := newTestPipeline(t, srv.URL, 0)
	run, err := fixture.pipeline.Run(
		context.Background(),
		models.IngestScopeBoth,
		models.IngestModeManual,
		ingest.NewGate(),
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	// A rejection is fatal for its dataset only
	if run.Status != models.IngestStatusSuccess {
		t.Fatalf("expected success, got %s", run.Status)
	}
	if run.Errors != 1 {
		t.Fatalf("expected 1 soft error, got %d", run.Errors)
	}
	if run.ErrorMessage == nil ||
		!strings.Contains(*run.ErrorMessage, dataset.DatasetFundamental) {
		t.Fatalf("expected fundamental in error message, got %v", run.ErrorMessage)
	}
	// Later datasets still ran
	var macroCount int64
	if result := fixture.db.DB().Model(&models.MacroValue{}).
		Count(&macroCount); result.Error != nil {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if macroCount != 1 {
		t.Fatalf("expected macro data despite rejection, got %d", macroCount)
	}
}

func TestPipelineTimeoutFailsRun(t *testing.T) {
	srv := newUpstream(t, upstreamOptions{
		slowApi: dataset.DatasetDailyPrice,
	})
	defer srv.Close()
	fixture := newTestPipeline(t, srv.URL, 50*time.Millisecond)
	run, err := fixture.pipeline.Run(
		context.Background(),
		models.IngestScopeUniverse,
		models.IngestModeManual,
		ingest.NewGate(),
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if run.Status != models.IngestStatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if run.ErrorMessage == nil ||
		!strings.Contains(*run.ErrorMessage, dataset.DatasetDailyPrice) {
		t.Fatalf(
			"expected daily_price in error message, got %v",
			run.ErrorMessage,
		)
	}
	// Work stops at the failure point
	var macroCount int64
	if result := fixture.db.DB().Model(&models.MacroValue{}).
		Count(&macroCount); result.Error != nil {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if macroCount != 0 {
		t.Fatalf("expected no macro data after failure, got %d", macroCount)
	}
}

func TestPipelineCancelledBeforeWork(t *testing.T) {
	srv := newUpstream(t, upstreamOptions{})
	defer srv.Close()
	fixture := newTestPipeline(t, srv.URL, 0)
	gate := ingest.NewGate()
	gate.Cancel()
	run, err := fixture.pipeline.Run(
		context.Background(),
		models.IngestScopeBoth,
		models.IngestModeManual,
		gate,
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if run.Status != models.IngestStatusCancelled {
		t.Fatalf("expected cancelled, got %s", run.Status)
	}
	if run.Inserted != 0 {
		t.Fatalf("expected no rows written, got %d", run.Inserted)
	}
}

func TestLatestTradeDate(t *testing.T) {
	// Saturday 2026-08-29 rolls back to Friday
	saturday := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	if got := ingest.LatestTradeDate(saturday); got != "2026-08-28" {
		t.Fatalf("expected 2026-08-28, got %s", got)
	}
	wednesday := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	if got := ingest.LatestTradeDate(wednesday); got != "2026-08-26" {
		t.Fatalf("expected 2026-08-26, got %s", got)
	}
}
