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

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blinklabs-io/marketd/database"
	"github.com/blinklabs-io/marketd/database/models"
	"github.com/blinklabs-io/marketd/event"
	"github.com/blinklabs-io/marketd/ingest"
	"github.com/blinklabs-io/marketd/internal/config"
	"github.com/blinklabs-io/marketd/provider"
)

// Ingest performs a one-shot manual ingest run for the given scope and
// exits when it completes. Any run abandoned by a previous process is
// converged to failed first.
func Ingest(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	scope string,
) error {
	providerTimeout, err := providerTimeout(cfg)
	if err != nil {
		return err
	}
	db, err := database.New(&database.Config{
		DataDir: cfg.DatabasePath,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	eventBus := event.NewEventBus(nil)
	defer eventBus.Stop()
	ledger := ingest.NewLedger(db, logger)
	converged, err := ledger.ConvergeStaleRuns()
	if err != nil {
		return fmt.Errorf("failed to converge stale runs: %w", err)
	}
	if converged > 0 {
		logger.Warn(
			"recovered abandoned ingest runs",
			"count", converged,
			"component", "node",
		)
	}
	pipeline := ingest.NewPipeline(ingest.PipelineConfig{
		Logger: logger,
		DB:     db,
		Client: provider.NewClient(provider.ClientConfig{
			Logger:         logger,
			PageCache:      db.PageCache(),
			Endpoint:       cfg.ProviderEndpoint,
			Token:          cfg.ProviderToken,
			RequestTimeout: providerTimeout,
		}),
		Ledger:   ledger,
		EventBus: eventBus,
		PageSize: cfg.IngestPageSize,
	})
	run, err := pipeline.Run(ctx, scope, models.IngestModeManual, nil)
	if err != nil {
		return err
	}
	logger.Info(
		"ingest run finished",
		"run_id", run.RunId,
		"status", run.Status,
		"inserted", run.Inserted,
		"updated", run.Updated,
		"errors", run.Errors,
		"component", "node",
	)
	if run.Status != models.IngestStatusSuccess {
		return errors.New("ingest run did not succeed: " + run.Status)
	}
	return nil
}
