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
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/marketd/database/models"
	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	promRegistry     prometheus.Registerer
	logger           *slog.Logger
	scheduleDefaults *models.ScheduleConfig
	dataDir          string
	providerEndpoint string
	providerToken    string
	opsListenAddress string
	providerTimeout  time.Duration
	shutdownTimeout  time.Duration
	ingestPageSize   int
	tracing          bool
	tracingStdout    bool
}

func (c *Config) validate() error {
	if c.providerEndpoint == "" {
		return errors.New("no provider endpoint defined")
	}
	if c.providerToken == "" {
		return errors.New("no provider token defined")
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the daemon config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new marketd config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithProviderEndpoint specifies the upstream provider API endpoint URL
func WithProviderEndpoint(endpoint string) ConfigOptionFunc {
	return func(c *Config) {
		c.providerEndpoint = endpoint
	}
}

// WithProviderToken specifies the upstream provider API token
func WithProviderToken(token string) ConfigOptionFunc {
	return func(c *Config) {
		c.providerToken = token
	}
}

// WithProviderTimeout specifies the per-request timeout for upstream provider
// calls. The default is 30 seconds
func WithProviderTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.providerTimeout = timeout
	}
}

// WithIngestPageSize specifies the page size for paginated upstream fetches
func WithIngestPageSize(pageSize int) ConfigOptionFunc {
	return func(c *Config) {
		c.ingestPageSize = pageSize
	}
}

// WithOpsListenAddress specifies the listen address
// for the operator REST API server. An empty string
// disables the server. The default is empty (disabled).
func WithOpsListenAddress(addr string) ConfigOptionFunc {
	return func(c *Config) {
		c.opsListenAddress = addr
	}
}

// WithScheduleDefaults specifies the schedule policy to seed into the store
// the first time the daemon runs. It is ignored once a schedule has been
// persisted, so operator changes made through the API survive restarts
func WithScheduleDefaults(cfg *models.ScheduleConfig) ConfigOptionFunc {
	return func(c *Config) {
		c.scheduleDefaults = cfg
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
