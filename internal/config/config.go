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

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "marketd.config"

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	ProviderEndpoint string `yaml:"providerEndpoint" split_words:"true"`
	ProviderToken    string `yaml:"providerToken"    split_words:"true"`
	ProviderTimeout  string `yaml:"providerTimeout"  split_words:"true"`
	DatabasePath     string `yaml:"databasePath"     split_words:"true"`
	BindAddr         string `yaml:"bindAddr"         split_words:"true"`
	ShutdownTimeout  string `yaml:"shutdownTimeout"  split_words:"true"`
	IngestPageSize   int    `yaml:"ingestPageSize"   split_words:"true"`
	OpsPort          uint   `yaml:"opsPort"          split_words:"true"`
	MetricsPort      uint   `yaml:"metricsPort"      split_words:"true"`
	Tracing          bool   `yaml:"tracing"`
	TracingStdout    bool   `yaml:"tracingStdout"    split_words:"true"`
	Schedule         struct {
		Enabled       bool   `yaml:"enabled"`
		RunAt         string `yaml:"runAt"         envconfig:"MARKETD_SCHEDULE_RUN_AT"`
		Timezone      string `yaml:"timezone"      envconfig:"MARKETD_SCHEDULE_TIMEZONE"`
		Scope         string `yaml:"scope"         envconfig:"MARKETD_SCHEDULE_SCOPE"`
		RunOnStartup  bool   `yaml:"runOnStartup"  envconfig:"MARKETD_SCHEDULE_RUN_ON_STARTUP"`
		CatchUpMissed bool   `yaml:"catchUpMissed" envconfig:"MARKETD_SCHEDULE_CATCH_UP_MISSED"`
	} `yaml:"schedule"`
}

var globalConfig = &Config{
	DatabasePath:    ".marketd",
	BindAddr:        "0.0.0.0",
	OpsPort:         8090,
	MetricsPort:     12898,
	IngestPageSize:  5000,
	ProviderTimeout: "30s",
	ShutdownTimeout: DefaultShutdownTimeout,
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.marketd/marketd.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".marketd", "marketd.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/marketd/marketd.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/marketd/marketd.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, globalConfig); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Process environment variables
	if err := envconfig.Process("marketd", globalConfig); err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}
