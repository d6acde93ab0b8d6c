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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blinklabs-io/marketd/completeness"
	"github.com/blinklabs-io/marketd/database"
	"github.com/blinklabs-io/marketd/dataset"
	"github.com/blinklabs-io/marketd/event"
	"github.com/blinklabs-io/marketd/ingest"
	"github.com/blinklabs-io/marketd/provider"
	"github.com/blinklabs-io/marketd/scheduler"
)

type testStack struct {
	api *httptest.Server
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	upstream := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			//nolint:errcheck
			w.Write(
				[]byte(`{"code":0,"msg":"","data":{"fields":[],"items":[]}}`),
			)
		}),
	)
	t.Cleanup(upstream.Close)
	db, err := database.New(&database.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("unexpected error creating database: %s", err)
	}
	t.Cleanup(func() {
		//nolint:errcheck
		db.Close()
	})
	eventBus := event.NewEventBus(nil)
	t.Cleanup(eventBus.Stop)
	registry := dataset.NewRegistry()
	ledger := ingest.NewLedger(db, nil)
	client := provider.NewClient(provider.ClientConfig{
		Endpoint: upstream.URL,
		Token:    "test-token",
	})
	pipeline := ingest.NewPipeline(ingest.PipelineConfig{
		DB:       db,
		Client:   client,
		Ledger:   ledger,
		EventBus: eventBus,
	})
	sched := scheduler.New(scheduler.SchedulerConfig{
		DB:       db,
		Ledger:   ledger,
		Pipeline: pipeline,
	})
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error starting scheduler: %s", err)
	}
	t.Cleanup(func() {
		//nolint:errcheck
		sched.Stop()
	})
	engine := completeness.NewEngine(completeness.EngineConfig{
		DB:       db,
		Registry: registry,
		EventBus: eventBus,
	})
	if err := engine.Start(); err != nil {
		t.Fatalf("unexpected error starting completeness engine: %s", err)
	}
	t.Cleanup(func() {
		//nolint:errcheck
		engine.Stop()
	})
	o := New(OpsConfig{}, sched, engine, ledger, registry, nil)
	api := httptest.NewServer(o.routes())
	t.Cleanup(api.Close)
	return &testStack{api: api}
}

func (s *testStack) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(s.api.URL + path)
	if err != nil {
		t.Fatalf("unexpected error from GET %s: %s", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("unexpected error decoding GET %s body: %s", path, err)
		}
	}
	return resp.StatusCode
}

func (s *testStack) send(
	t *testing.T,
	method string,
	path string,
	body any,
	out any,
) int {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("unexpected error encoding request body: %s", err)
	}
	req, err := http.NewRequest(
		method,
		s.api.URL+path,
		bytes.NewReader(payload),
	)
	if err != nil {
		t.Fatalf("unexpected error building request: %s", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error from %s %s: %s", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf(
				"unexpected error decoding %s %s body: %s",
				method,
				path,
				err,
			)
		}
	}
	return resp.StatusCode
}

func (s *testStack) waitForRuns(t *testing.T, want int) []RunResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var runs []RunResponse
		s.get(t, "/api/v1/runs", &runs)
		finished := 0
		for _, run := range runs {
			if run.FinishedAt != nil {
				finished++
			}
		}
		if finished >= want {
			return runs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d finished runs", want)
	return nil
}

func TestRootAndHealth(t *testing.T) {
	s := newTestStack(t)
	var root RootResponse
	if code := s.get(t, "/", &root); code != http.StatusOK {
		t.Fatalf("unexpected status code from root: %d", code)
	}
	if root.Name != "marketd" {
		t.Fatalf("unexpected API name: %s", root.Name)
	}
	var health HealthResponse
	if code := s.get(t, "/health", &health); code != http.StatusOK {
		t.Fatalf("unexpected status code from health: %d", code)
	}
	if !health.IsHealthy {
		t.Fatalf("expected healthy response")
	}
	if health.State != scheduler.StateIdle {
		t.Fatalf("unexpected scheduler state: %s", health.State)
	}
}

func TestDatasetsEndpoint(t *testing.T) {
	s := newTestStack(t)
	var datasets []DatasetResponse
	if code := s.get(t, "/api/v1/datasets", &datasets); code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", code)
	}
	if len(datasets) == 0 {
		t.Fatalf("expected dataset contracts, got none")
	}
	found := false
	for _, ds := range datasets {
		if ds.Id == "daily_price" {
			found = true
			if ds.TradeDateColumn == "" {
				t.Fatalf("expected trade date column on daily_price")
			}
		}
	}
	if !found {
		t.Fatalf("daily_price contract not returned")
	}
}

func TestTriggerAndRunEndpoints(t *testing.T) {
	s := newTestStack(t)
	var control ControlResponse
	code := s.send(
		t,
		http.MethodPost,
		"/api/v1/control/trigger",
		TriggerRequest{},
		&control,
	)
	if code != http.StatusAccepted {
		t.Fatalf("unexpected status code from trigger: %d", code)
	}
	runs := s.waitForRuns(t, 1)
	if len(runs) != 1 {
		t.Fatalf("unexpected run count: %d", len(runs))
	}
	if runs[0].Mode != "manual" {
		t.Fatalf("unexpected run mode: %s", runs[0].Mode)
	}
	var run RunResponse
	code = s.get(t, "/api/v1/runs/"+runs[0].RunId, &run)
	if code != http.StatusOK {
		t.Fatalf("unexpected status code fetching run: %d", code)
	}
	if run.RunId != runs[0].RunId {
		t.Fatalf("unexpected run id: %s", run.RunId)
	}
	var errResp ErrorResponse
	code = s.get(t, "/api/v1/runs/bogus-run-id", &errResp)
	if code != http.StatusNotFound {
		t.Fatalf("unexpected status code for unknown run: %d", code)
	}
}

func TestTriggerInvalidScope(t *testing.T) {
	s := newTestStack(t)
	var errResp ErrorResponse
	code := s.send(
		t,
		http.MethodPost,
		"/api/v1/control/trigger",
		TriggerRequest{Scope: "galaxy"},
		&errResp,
	)
	if code != http.StatusBadRequest {
		t.Fatalf("unexpected status code: %d", code)
	}
}

func TestControlConflicts(t *testing.T) {
	s := newTestStack(t)
	// No run is active, so run-control commands conflict with the idle state
	for _, path := range []string{
		"/api/v1/control/pause",
		"/api/v1/control/resume",
		"/api/v1/control/cancel",
	} {
		var errResp ErrorResponse
		code := s.send(t, http.MethodPost, path, struct{}{}, &errResp)
		if code != http.StatusConflict {
			t.Fatalf("unexpected status code from %s: %d", path, code)
		}
	}
}

func TestScheduleEndpoints(t *testing.T) {
	s := newTestStack(t)
	code := s.get(t, "/api/v1/schedule", nil)
	if code != http.StatusNotFound {
		t.Fatalf("unexpected status code before schedule init: %d", code)
	}
	body := ScheduleBody{
		Enabled:  true,
		RunAt:    "19:30",
		Timezone: "Asia/Shanghai",
		Scope:    "both",
	}
	code = s.send(t, http.MethodPut, "/api/v1/schedule", body, nil)
	if code != http.StatusOK {
		t.Fatalf("unexpected status code from schedule update: %d", code)
	}
	var got ScheduleBody
	if code := s.get(t, "/api/v1/schedule", &got); code != http.StatusOK {
		t.Fatalf("unexpected status code reading schedule: %d", code)
	}
	if got != body {
		t.Fatalf("unexpected schedule config: %+v", got)
	}
	bad := body
	bad.RunAt = "25:00"
	code = s.send(t, http.MethodPut, "/api/v1/schedule", bad, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("unexpected status code for bad schedule: %d", code)
	}
}

func TestCompletenessEndpoints(t *testing.T) {
	s := newTestStack(t)
	var cfg CompletenessConfigResponse
	code := s.get(t, "/api/v1/completeness/config", &cfg)
	if code != http.StatusOK {
		t.Fatalf("unexpected status code reading config: %d", code)
	}
	if cfg.ScopeId != "target_pool" {
		t.Fatalf("unexpected default scope: %s", cfg.ScopeId)
	}
	if len(cfg.Checks) == 0 {
		t.Fatalf("expected seeded target checks")
	}
	var errResp ErrorResponse
	code = s.send(
		t,
		http.MethodPut,
		"/api/v1/completeness/config",
		TargetConfigRequest{EnabledCheckIds: []string{"nope"}},
		&errResp,
	)
	if code != http.StatusBadRequest {
		t.Fatalf("unexpected status code for unknown check: %d", code)
	}
	code = s.send(
		t,
		http.MethodPut,
		"/api/v1/completeness/config",
		TargetConfigRequest{
			EnabledCheckIds: []string{cfg.Checks[0].CheckId},
			LookbackDays:    10,
		},
		nil,
	)
	if code != http.StatusOK {
		t.Fatalf("unexpected status code updating config: %d", code)
	}
	var updated CompletenessConfigResponse
	s.get(t, "/api/v1/completeness/config", &updated)
	if updated.LookbackDays != 10 {
		t.Fatalf("unexpected lookback days: %d", updated.LookbackDays)
	}

	var run MaterializationRunResponse
	code = s.send(
		t,
		http.MethodPost,
		"/api/v1/completeness/materialize",
		MaterializeRequest{Scope: "target_pool"},
		&run,
	)
	if code != http.StatusOK {
		t.Fatalf("unexpected status code from materialize: %d", code)
	}
	if run.FinishedAt == nil {
		t.Fatalf("expected finished materialization run")
	}
	var runs []MaterializationRunResponse
	path := "/api/v1/completeness/runs?scope=target_pool"
	if code := s.get(t, path, &runs); code != http.StatusOK {
		t.Fatalf("unexpected status code listing runs: %d", code)
	}
	if len(runs) != 1 {
		t.Fatalf("unexpected materialization run count: %d", len(runs))
	}
	var preview PreviewResponse
	code = s.get(t, "/api/v1/completeness/preview?scope=source_pool", &preview)
	if code != http.StatusOK {
		t.Fatalf("unexpected status code from preview: %d", code)
	}
	if preview.ScopeId != "source_pool" {
		t.Fatalf("unexpected preview scope: %s", preview.ScopeId)
	}
	var status []StatusRowResponse
	code = s.get(t, "/api/v1/completeness/status?scope=target_pool", &status)
	if code != http.StatusOK {
		t.Fatalf("unexpected status code listing status rows: %d", code)
	}
	var badScope ErrorResponse
	code = s.get(t, "/api/v1/completeness/preview?scope=galaxy", &badScope)
	if code != http.StatusBadRequest {
		t.Fatalf("unexpected status code for bad preview scope: %d", code)
	}
}

func TestRunsFilterQuery(t *testing.T) {
	s := newTestStack(t)
	code := s.send(
		t,
		http.MethodPost,
		"/api/v1/control/trigger",
		TriggerRequest{Scope: "universe"},
		nil,
	)
	if code != http.StatusAccepted {
		t.Fatalf("unexpected status code from trigger: %d", code)
	}
	s.waitForRuns(t, 1)
	var runs []RunResponse
	path := fmt.Sprintf("/api/v1/runs?scope=%s&status=%s", "universe", "success")
	if code := s.get(t, path, &runs); code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", code)
	}
	if len(runs) != 1 {
		t.Fatalf("unexpected filtered run count: %d", len(runs))
	}
	var none []RunResponse
	s.get(t, "/api/v1/runs?scope=targets", &none)
	if len(none) != 0 {
		t.Fatalf("expected no targets runs, got %d", len(none))
	}
}
