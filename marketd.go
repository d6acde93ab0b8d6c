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

package marketd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/marketd/completeness"
	"github.com/blinklabs-io/marketd/database"
	"github.com/blinklabs-io/marketd/dataset"
	"github.com/blinklabs-io/marketd/event"
	"github.com/blinklabs-io/marketd/ingest"
	"github.com/blinklabs-io/marketd/ops"
	"github.com/blinklabs-io/marketd/provider"
	"github.com/blinklabs-io/marketd/scheduler"
)

type Daemon struct {
	eventBus      *event.EventBus
	db            *database.Database
	registry      *dataset.Registry
	client        *provider.Client
	ledger        *ingest.Ledger
	pipeline      *ingest.Pipeline
	scheduler     *scheduler.Scheduler
	engine        *completeness.Engine
	ops           *ops.Ops
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Daemon, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	d := &Daemon{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry),
		registry: dataset.NewRegistry(),
		done:     make(chan struct{}),
	}
	return d, nil
}

func (d *Daemon) Run(ctx context.Context) error {
	// Configure tracing
	if d.config.tracing {
		if err := d.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(&database.Config{
		DataDir:      d.config.dataDir,
		Logger:       d.config.logger,
		PromRegistry: d.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	d.db = db
	// Upstream provider client
	d.client = provider.NewClient(provider.ClientConfig{
		Logger:         d.config.logger,
		PromRegistry:   d.config.promRegistry,
		PageCache:      db.PageCache(),
		Endpoint:       d.config.providerEndpoint,
		Token:          d.config.providerToken,
		RequestTimeout: d.config.providerTimeout,
	})
	// Run ledger and ingest pipeline
	d.ledger = ingest.NewLedger(d.db, d.config.logger)
	d.pipeline = ingest.NewPipeline(ingest.PipelineConfig{
		Logger:       d.config.logger,
		PromRegistry: d.config.promRegistry,
		DB:           d.db,
		Client:       d.client,
		Ledger:       d.ledger,
		EventBus:     d.eventBus,
		PageSize:     d.config.ingestPageSize,
	})
	// Start scheduler. This also converges any runs abandoned by a
	// previous process
	d.scheduler = scheduler.New(scheduler.SchedulerConfig{
		Logger:       d.config.logger,
		PromRegistry: d.config.promRegistry,
		DB:           d.db,
		Ledger:       d.ledger,
		Pipeline:     d.pipeline,
	})
	if d.config.scheduleDefaults != nil {
		existing, err := d.scheduler.GetScheduleConfig()
		if err != nil {
			return fmt.Errorf("failed to load schedule config: %w", err)
		}
		if existing == nil {
			if err := d.scheduler.SetScheduleConfig(
				d.config.scheduleDefaults,
			); err != nil {
				return fmt.Errorf("failed to seed schedule config: %w", err)
			}
		}
	}
	if err := d.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	// Start completeness engine
	d.engine = completeness.NewEngine(completeness.EngineConfig{
		Logger:       d.config.logger,
		PromRegistry: d.config.promRegistry,
		DB:           d.db,
		Registry:     d.registry,
		EventBus:     d.eventBus,
	})
	if err := d.engine.Start(); err != nil {
		return fmt.Errorf("failed to start completeness engine: %w", err)
	}
	// Start operator API
	if d.config.opsListenAddress != "" {
		d.ops = ops.New(
			ops.OpsConfig{ListenAddress: d.config.opsListenAddress},
			d.scheduler,
			d.engine,
			d.ledger,
			d.registry,
			d.config.logger,
		)
		if err := d.ops.Start(ctx); err != nil {
			return err
		}
	}

	// Wait for shutdown signal
	<-d.done
	return nil
}

func (d *Daemon) Stop() error {
	var err error
	d.shutdownOnce.Do(func() {
		err = d.shutdown()
	})
	return err
}

func (d *Daemon) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if d.config.shutdownTimeout > 0 {
		shutdownTimeout = d.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	d.config.logger.Debug("starting graceful shutdown")

	// Phase 1: Stop accepting new work
	d.config.logger.Debug("shutdown phase 1: stopping new work")

	if d.ops != nil {
		if stopErr := d.ops.Stop(ctx); stopErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("operator API shutdown: %w", stopErr),
			)
		}
	}

	// Phase 2: Drain in-flight runs
	d.config.logger.Debug("shutdown phase 2: draining runs")

	if d.scheduler != nil {
		if stopErr := d.scheduler.Stop(); stopErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("scheduler shutdown: %w", stopErr),
			)
		}
	}

	if d.engine != nil {
		if stopErr := d.engine.Stop(); stopErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("completeness engine shutdown: %w", stopErr),
			)
		}
	}

	// Phase 3: Flush state and close database
	d.config.logger.Debug("shutdown phase 3: flushing state")

	if d.db != nil {
		if closeErr := d.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}

	// Phase 4: Cleanup resources
	d.config.logger.Debug("shutdown phase 4: cleanup resources")

	// Call registered shutdown functions
	for _, fn := range d.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	d.shutdownFuncs = nil

	if d.eventBus != nil {
		d.eventBus.Stop()
	}

	d.config.logger.Debug("graceful shutdown complete")
	close(d.done)
	return err
}
