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

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/blinklabs-io/marketd/database"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultRequestTimeout = 20 * time.Second
	DefaultPageSize       = 5000

	// DefaultOffsetCeiling guards against infinite pagination loops from
	// provider bugs. Exceeding it is treated as a non-fatal anomaly, not an
	// error.
	DefaultOffsetCeiling = 2_000_000
)

// ClientConfig describes the provider client configuration.
type ClientConfig struct {
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
	PageCache      *database.PageCache
	Endpoint       string
	Token          string
	RequestTimeout time.Duration
	OffsetCeiling  int
}

// Client talks to the upstream provider's single HTTP POST endpoint.
type Client struct {
	config     ClientConfig
	logger     *slog.Logger
	httpClient *http.Client
	metrics    *clientMetrics
}

type clientMetrics struct {
	requestsTotal  *prometheus.CounterVec
	anomaliesTotal *prometheus.CounterVec
}

// apiRequest is the upstream request body
type apiRequest struct {
	Params  map[string]string `json:"params,omitempty"`
	ApiName string            `json:"api_name"`
	Token   string            `json:"token"`
	Fields  []string          `json:"fields,omitempty"`
	Limit   int               `json:"limit,omitempty"`
	Offset  int               `json:"offset,omitempty"`
}

// apiResponse is the upstream response envelope. A non-zero Code is an
// application-level error.
type apiResponse struct {
	Data *apiPayload `json:"data"`
	Msg  string      `json:"msg"`
	Code int         `json:"code"`
}

type apiPayload struct {
	Fields []string `json:"fields"`
	Items  [][]any  `json:"items"`
}

// Page holds one page of provider rows
type Page struct {
	Fields []string
	Rows   [][]any
}

// NewClient creates a new provider client
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	logger = logger.With("component", "provider")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.OffsetCeiling <= 0 {
		cfg.OffsetCeiling = DefaultOffsetCeiling
	}
	c := &Client{
		config: cfg,
		logger: logger,
		httpClient: &http.Client{
			// The per-request deadline is applied via context in Call so it
			// also covers reading the response body
		},
	}
	if cfg.PromRegistry != nil {
		c.initMetrics(cfg.PromRegistry)
	}
	return c
}

func (c *Client) initMetrics(promRegistry prometheus.Registerer) {
	c.metrics = &clientMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketd_provider_requests_total",
				Help: "total provider HTTP requests by api name and result",
			},
			[]string{"api", "result"},
		),
		anomaliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketd_provider_pagination_anomalies_total",
				Help: "total pagination anomalies by api name and kind",
			},
			[]string{"api", "kind"},
		),
	}
	promRegistry.MustRegister(c.metrics.requestsTotal)
	promRegistry.MustRegister(c.metrics.anomaliesTotal)
}

func (c *Client) countRequest(apiName, result string) {
	if c.metrics != nil {
		c.metrics.requestsTotal.WithLabelValues(apiName, result).Inc()
	}
}

func (c *Client) countAnomaly(apiName, kind string) {
	if c.metrics != nil {
		c.metrics.anomaliesTotal.WithLabelValues(apiName, kind).Inc()
	}
}

// Call performs a single request against the upstream endpoint. Transport
// timeouts surface as *TimeoutError, non-zero envelope codes as
// *RejectedError.
func (c *Client) Call(
	ctx context.Context,
	apiName string,
	params map[string]string,
	fields []string,
	limit int,
	offset int,
) (*Page, error) {
	reqBody := apiRequest{
		ApiName: apiName,
		Token:   c.config.Token,
		Params:  params,
		Fields:  fields,
		Limit:   limit,
		Offset:  offset,
	}
	buf, err := json.Marshal(&reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode provider request: %w", err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		c.config.Endpoint,
		bytes.NewReader(buf),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.countRequest(apiName, "timeout")
			return nil, &TimeoutError{ApiName: apiName, Err: err}
		}
		c.countRequest(apiName, "transport_error")
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.countRequest(apiName, "http_error")
		return nil, fmt.Errorf(
			"provider returned HTTP status %d for api %s",
			resp.StatusCode,
			apiName,
		)
	}
	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		if isTimeout(err) {
			c.countRequest(apiName, "timeout")
			return nil, &TimeoutError{ApiName: apiName, Err: err}
		}
		c.countRequest(apiName, "decode_error")
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}
	if envelope.Code != 0 {
		c.countRequest(apiName, "rejected")
		return nil, &RejectedError{
			ApiName: apiName,
			Code:    envelope.Code,
			Msg:     envelope.Msg,
		}
	}
	c.countRequest(apiName, "ok")
	page := &Page{}
	if envelope.Data != nil {
		page.Fields = envelope.Data.Fields
		page.Rows = envelope.Data.Items
	}
	return page, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
