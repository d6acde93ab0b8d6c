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

package database

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/blinklabs-io/marketd/database/models"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// Config describes the database configuration.
type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	DataDir      string
}

// Database wraps the sqlite metadata store and the badger page cache. Uses
// in-memory storage for both when DataDir is empty, which is useful for
// testing.
type Database struct {
	logger       *slog.Logger
	promRegistry prometheus.Registerer
	db           *gorm.DB
	blob         *badger.DB
	dataDir      string
}

// New creates a new database instance with optional persistence using the
// provided data directory
func New(cfg *Config) (*Database, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var metadataDb *gorm.DB
	var err error
	if cfg.DataDir == "" {
		// cache=shared allows multiple connections to share the same in-memory database
		metadataDb, err = gorm.Open(
			sqlite.Open("file::memory:?cache=shared"),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(cfg.DataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(cfg.DataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		metadataDbPath := filepath.Join(
			cfg.DataDir,
			"metadata.sqlite",
		)
		// WAL journal mode, disable sync on write, increase cache size to 50MB (from 2MB)
		metadataConnOpts := "_pragma=journal_mode(WAL)&_pragma=sync(OFF)&_pragma=cache_size(-50000)"
		metadataDb, err = gorm.Open(
			sqlite.Open(
				fmt.Sprintf("file:%s?%s", metadataDbPath, metadataConnOpts),
			),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	}
	// Open badger page cache
	var badgerOpts badger.Options
	if cfg.DataDir == "" {
		badgerOpts = badger.DefaultOptions("").
			WithInMemory(true).
			WithLogger(nil)
	} else {
		badgerOpts = badger.DefaultOptions(
			filepath.Join(cfg.DataDir, "pagecache"),
		).WithLogger(nil)
	}
	blobDb, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open page cache: %w", err)
	}
	d := &Database{
		logger:       logger,
		promRegistry: cfg.PromRegistry,
		db:           metadataDb,
		blob:         blobDb,
		dataDir:      cfg.DataDir,
	}
	// Configure tracing for GORM
	if err := d.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return d, err
	}
	// Create table schemas
	for _, model := range models.MigrateModels {
		d.logger.Debug(
			fmt.Sprintf("creating table: %#v", model),
			"component", "database",
		)
		if err := d.db.AutoMigrate(model); err != nil {
			return d, err
		}
	}
	return d, nil
}

// DB returns the underlying gorm DB instance
func (d *Database) DB() *gorm.DB {
	return d.db
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.dataDir
}

// Logger returns the logger instance
func (d *Database) Logger() *slog.Logger {
	return d.logger
}

// Close cleans up the database connections
func (d *Database) Close() error {
	var err error
	if sqlDb, dbErr := d.db.DB(); dbErr == nil {
		err = errors.Join(err, sqlDb.Close())
	}
	err = errors.Join(err, d.blob.Close())
	return err
}
