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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/blinklabs-io/marketd/completeness"
	"github.com/blinklabs-io/marketd/dataset"
	"github.com/blinklabs-io/marketd/ingest"
	"github.com/blinklabs-io/marketd/scheduler"
)

// OpsConfig describes the operator API server configuration
type OpsConfig struct {
	ListenAddress string
}

// Ops is the operator-facing REST API server. It fronts the run ledger, the
// control plane, the schedule policy, and the completeness engine.
type Ops struct {
	config     OpsConfig
	logger     *slog.Logger
	scheduler  *scheduler.Scheduler
	engine     *completeness.Engine
	ledger     *ingest.Ledger
	registry   *dataset.Registry
	httpServer *http.Server
	mu         sync.Mutex
}

// New creates a new operator API server instance
func New(
	cfg OpsConfig,
	sched *scheduler.Scheduler,
	engine *completeness.Engine,
	ledger *ingest.Ledger,
	registry *dataset.Registry,
	logger *slog.Logger,
) *Ops {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	logger = logger.With("component", "ops")
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8090"
	}
	return &Ops{
		config:    cfg,
		logger:    logger,
		scheduler: sched,
		engine:    engine,
		ledger:    ledger,
		registry:  registry,
	}
}

func (o *Ops) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", o.handleRoot)
	mux.HandleFunc("GET /health", o.handleHealth)
	mux.HandleFunc("GET /api/v1/datasets", o.handleDatasets)
	mux.HandleFunc("GET /api/v1/runs", o.handleRuns)
	mux.HandleFunc("GET /api/v1/runs/{run_id}", o.handleRunById)
	mux.HandleFunc("GET /api/v1/control", o.handleControl)
	mux.HandleFunc("POST /api/v1/control/trigger", o.handleTrigger)
	mux.HandleFunc("POST /api/v1/control/pause", o.handlePause)
	mux.HandleFunc("POST /api/v1/control/resume", o.handleResume)
	mux.HandleFunc("POST /api/v1/control/cancel", o.handleCancel)
	mux.HandleFunc("GET /api/v1/schedule", o.handleGetSchedule)
	mux.HandleFunc("PUT /api/v1/schedule", o.handlePutSchedule)
	mux.HandleFunc(
		"GET /api/v1/completeness/config",
		o.handleGetCompletenessConfig,
	)
	mux.HandleFunc(
		"PUT /api/v1/completeness/config",
		o.handlePutCompletenessConfig,
	)
	mux.HandleFunc(
		"GET /api/v1/completeness/status",
		o.handleCompletenessStatus,
	)
	mux.HandleFunc(
		"GET /api/v1/completeness/preview",
		o.handleCompletenessPreview,
	)
	mux.HandleFunc(
		"POST /api/v1/completeness/materialize",
		o.handleMaterialize,
	)
	mux.HandleFunc(
		"GET /api/v1/completeness/runs",
		o.handleMaterializationRuns,
	)
	return mux
}

// Start starts the HTTP server in a background goroutine
func (o *Ops) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.httpServer != nil {
		o.mu.Unlock()
		return errors.New("server already started")
	}
	server := &http.Server{
		Addr:              o.config.ListenAddress,
		Handler:           o.routes(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	o.httpServer = server
	o.mu.Unlock()

	if err := o.startServer(server); err != nil {
		o.mu.Lock()
		o.httpServer = nil
		o.mu.Unlock()
		return err
	}
	o.logger.Info(
		"operator API listener started on " + o.config.ListenAddress,
	)

	go func() {
		<-ctx.Done()
		o.mu.Lock()
		srv := o.httpServer
		o.httpServer = nil
		o.mu.Unlock()
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				30*time.Second,
			)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				o.logger.Error(
					"failed to shutdown operator API server on context cancellation",
					"error", err,
				)
			}
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server
func (o *Ops) Stop(ctx context.Context) error {
	o.mu.Lock()
	srv := o.httpServer
	o.httpServer = nil
	o.mu.Unlock()
	if srv != nil {
		o.logger.Debug("shutting down operator API server")
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf(
				"failed to shutdown operator API server: %w",
				err,
			)
		}
	}
	return nil
}

// startServer binds the listening socket first so port conflicts are
// detected immediately, then serves in a background goroutine
func (o *Ops) startServer(server *http.Server) error {
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf(
			"failed to listen for operator API server: %w",
			err,
		)
	}
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			o.logger.Error("operator API server error", "error", err)
		}
	}()
	return nil
}
