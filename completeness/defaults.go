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

package completeness

import (
	"fmt"

	"github.com/blinklabs-io/marketd/database/models"
	"github.com/blinklabs-io/marketd/dataset"
)

// DefaultLookbackDays is the default freshness window for trade-date
// datasets
const DefaultLookbackDays = 30

// checkId builds the canonical check identifier
func checkId(scopeId string, bucketId string, datasetId string) string {
	return fmt.Sprintf("%s:%s:%s", scopeId, bucketId, datasetId)
}

func defaultCheck(
	scopeId string,
	bucketId string,
	datasetId string,
	sortOrder int,
) models.CompletenessCheck {
	return models.CompletenessCheck{
		CheckId:           checkId(scopeId, bucketId, datasetId),
		ScopeId:           scopeId,
		BucketId:          bucketId,
		DatasetId:         datasetId,
		SortOrder:         sortOrder,
		Enabled:           true,
		CompleteThreshold: 1.0,
		MissingFloor:      0.05,
	}
}

// DefaultChecks returns the built-in completeness check set. Target pool
// checks cover the curated symbols an operator cares about day to day;
// source pool checks cover everything the provider serves.
func DefaultChecks() []models.CompletenessCheck {
	return []models.CompletenessCheck{
		defaultCheck(
			models.CompletenessScopeTargetPool,
			models.BucketStock,
			dataset.DatasetDailyPrice,
			10,
		),
		defaultCheck(
			models.CompletenessScopeTargetPool,
			models.BucketStock,
			dataset.DatasetFundamental,
			20,
		),
		defaultCheck(
			models.CompletenessScopeTargetPool,
			models.BucketEtf,
			dataset.DatasetDailyPrice,
			30,
		),
		defaultCheck(
			models.CompletenessScopeSourcePool,
			models.BucketStock,
			dataset.DatasetDailyPrice,
			10,
		),
		defaultCheck(
			models.CompletenessScopeSourcePool,
			models.BucketEtf,
			dataset.DatasetDailyPrice,
			20,
		),
		defaultCheck(
			models.CompletenessScopeSourcePool,
			models.BucketFutures,
			dataset.DatasetDailyPrice,
			30,
		),
		defaultCheck(
			models.CompletenessScopeSourcePool,
			models.BucketSpot,
			dataset.DatasetDailyPrice,
			40,
		),
		defaultCheck(
			models.CompletenessScopeSourcePool,
			models.BucketFx,
			dataset.DatasetDailyPrice,
			50,
		),
		defaultCheck(
			models.CompletenessScopeSourcePool,
			models.BucketStock,
			dataset.DatasetFundamental,
			60,
		),
		defaultCheck(
			models.CompletenessScopeSourcePool,
			models.BucketMacro,
			dataset.DatasetMacroSeries,
			70,
		),
	}
}
