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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Truncation reasons reported on FetchResult
const (
	TruncateReasonRepeatedPage  = "repeated_page"
	TruncateReasonOffsetCeiling = "offset_ceiling"
)

// FetchOptions controls a FetchAll call. A zero PageSize uses
// DefaultPageSize. A non-zero CacheTTL serves the whole result from the page
// cache when a fresh enough copy exists.
type FetchOptions struct {
	PageSize int
	CacheTTL time.Duration
}

// FetchResult is the concatenation of all pages for one logical query.
// Truncated marks the partial-success outcome of a pagination anomaly; the
// rows gathered before the anomaly are still returned.
type FetchResult struct {
	Fields         []string
	Rows           [][]any
	TruncateReason string
	Pages          int
	Truncated      bool
}

// FieldIndex returns the index of the named field in Rows, or -1
func (r *FetchResult) FieldIndex(name string) int {
	return slices.Index(r.Fields, name)
}

// FetchAll drives the offset-based pagination loop for one logical query and
// returns all pages concatenated. Stop conditions, checked per page in
// order: a repeated page (cheap signature match against the previous page),
// a short page, and the offset safety ceiling. Anomalies stop the loop with
// partial results rather than failing. Cancellation is observed between
// pages, never mid-request.
func (c *Client) FetchAll(
	ctx context.Context,
	apiName string,
	params map[string]string,
	fields []string,
	opts FetchOptions,
) (*FetchResult, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var cacheKey string
	if opts.CacheTTL > 0 && c.config.PageCache != nil {
		cacheKey = fetchCacheKey(apiName, params, fields, pageSize)
		cached, found, err := c.config.PageCache.Get(cacheKey)
		if err != nil {
			c.logger.Warn(
				"page cache read failed",
				"api", apiName,
				"error", err,
			)
		} else if found {
			var result FetchResult
			if err := json.Unmarshal(cached, &result); err == nil {
				c.logger.Debug(
					"serving provider result from page cache",
					"api", apiName,
					"rows", len(result.Rows),
				)
				return &result, nil
			}
		}
	}
	result := &FetchResult{}
	offset := 0
	prevSignature := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := c.Call(ctx, apiName, params, fields, pageSize, offset)
		if err != nil {
			return nil, err
		}
		result.Pages++
		if len(page.Fields) > 0 {
			result.Fields = page.Fields
		}
		signature := pageSignature(page)
		if len(page.Rows) > 0 && signature == prevSignature {
			// The upstream is ignoring pagination and serving the same page
			// again. Stop here and keep what we have.
			c.logger.Warn(
				"repeated page detected, stopping pagination",
				"api", apiName,
				"offset", offset,
				"rows", len(result.Rows),
			)
			c.countAnomaly(apiName, TruncateReasonRepeatedPage)
			result.Truncated = true
			result.TruncateReason = TruncateReasonRepeatedPage
			break
		}
		prevSignature = signature
		result.Rows = append(result.Rows, page.Rows...)
		if len(page.Rows) < pageSize {
			break
		}
		offset += pageSize
		if offset > c.config.OffsetCeiling {
			c.logger.Warn(
				"pagination offset ceiling reached, stopping pagination",
				"api", apiName,
				"offset", offset,
				"rows", len(result.Rows),
			)
			c.countAnomaly(apiName, TruncateReasonOffsetCeiling)
			result.Truncated = true
			result.TruncateReason = TruncateReasonOffsetCeiling
			break
		}
	}
	if cacheKey != "" && !result.Truncated {
		if buf, err := json.Marshal(result); err == nil {
			if err := c.config.PageCache.Set(
				cacheKey,
				buf,
				opts.CacheTTL,
			); err != nil {
				c.logger.Warn(
					"page cache write failed",
					"api", apiName,
					"error", err,
				)
			}
		}
	}
	return result, nil
}

// pageSignature computes a cheap signature from the row count plus the
// serialized first and last rows. This is a heuristic: it can false-negative
// on pathological data and false-positive on legitimately identical
// consecutive pages, which is an accepted trade-off.
func pageSignature(page *Page) string {
	if len(page.Rows) == 0 {
		return "0"
	}
	first, _ := json.Marshal(page.Rows[0])
	last, _ := json.Marshal(page.Rows[len(page.Rows)-1])
	return fmt.Sprintf("%d|%s|%s", len(page.Rows), first, last)
}

func fetchCacheKey(
	apiName string,
	params map[string]string,
	fields []string,
	pageSize int,
) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d", apiName, pageSize)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%s", k, params[k])
	}
	for _, f := range fields {
		fmt.Fprintf(h, "|%s", f)
	}
	return hex.EncodeToString(h.Sum(nil))
}
