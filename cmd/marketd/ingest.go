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

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/blinklabs-io/marketd/database/models"
	"github.com/blinklabs-io/marketd/internal/config"
	"github.com/blinklabs-io/marketd/internal/node"
	"github.com/spf13/cobra"
)

func ingestRun(ctx context.Context, args []string, cfg *config.Config) {
	scope := models.IngestScopeBoth
	if len(args) >= 1 {
		scope = args[0]
	}
	logger := commonRun()
	if err := node.Ingest(ctx, cfg, logger, scope); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func ingestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [scope]",
		Short: "Run a one-shot ingest (scope: targets, universe, or both)",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				slog.Error("no config found in context")
				os.Exit(1)
			}
			ingestRun(cmd.Context(), args, cfg)
		},
	}
	return cmd
}
