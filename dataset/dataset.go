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

package dataset

import (
	"fmt"
	"slices"

	"github.com/blinklabs-io/marketd/database/models"
)

// Dataset IDs
const (
	DatasetInstrument  = "instrument_basic"
	DatasetDailyPrice  = "daily_price"
	DatasetFundamental = "fundamental"
	DatasetMacroSeries = "macro_series"
)

// Contract describes one dataset participating in completeness accounting.
// Contracts are defined at process start and never mutated at runtime.
type Contract struct {
	Id              string
	Storage         string
	Table           string
	KeyColumns      []string // ordered, non-empty; first column is the entity key
	TradeDateColumn string   // empty means presence-based freshness
	Description     string
	Buckets         []string // asset-class buckets the dataset applies to
}

// Validate checks the contract's internal invariants
func (c *Contract) Validate() error {
	if c.Id == "" {
		return fmt.Errorf("dataset contract missing id")
	}
	if c.Table == "" {
		return fmt.Errorf("dataset contract %s missing table", c.Id)
	}
	if len(c.KeyColumns) == 0 {
		return fmt.Errorf("dataset contract %s has no key columns", c.Id)
	}
	return nil
}

// AppliesTo returns true when the dataset applies to the given bucket
func (c *Contract) AppliesTo(bucketId string) bool {
	return slices.Contains(c.Buckets, bucketId)
}

// copy returns a deep copy so callers can't mutate registry state
func (c *Contract) copy() Contract {
	out := *c
	out.KeyColumns = slices.Clone(c.KeyColumns)
	out.Buckets = slices.Clone(c.Buckets)
	return out
}

// MacroSeries is the static set of macro series codes the cache is expected
// to carry. Used as the entity set for macro-bucket completeness checks.
var MacroSeries = []string{
	"cpi",
	"gdp",
	"m2",
	"pmi",
}

// Registry is the static in-memory dataset catalog
type Registry struct {
	contracts []Contract
	byId      map[string]int
}

// NewRegistry creates a registry holding the default dataset contracts
func NewRegistry() *Registry {
	return newRegistry(defaultContracts)
}

func newRegistry(contracts []Contract) *Registry {
	r := &Registry{
		byId: make(map[string]int, len(contracts)),
	}
	for _, contract := range contracts {
		r.contracts = append(r.contracts, contract.copy())
		r.byId[contract.Id] = len(r.contracts) - 1
	}
	return r
}

// Contracts returns defensive copies of all registered contracts
func (r *Registry) Contracts() []Contract {
	out := make([]Contract, 0, len(r.contracts))
	for i := range r.contracts {
		out = append(out, r.contracts[i].copy())
	}
	return out
}

// ContractById returns a defensive copy of the contract with the given ID
func (r *Registry) ContractById(id string) (Contract, bool) {
	idx, ok := r.byId[id]
	if !ok {
		return Contract{}, false
	}
	return r.contracts[idx].copy(), true
}

var instrumentBuckets = []string{
	models.BucketStock,
	models.BucketEtf,
	models.BucketFutures,
	models.BucketSpot,
	models.BucketFx,
}

var defaultContracts = []Contract{
	{
		Id:          DatasetInstrument,
		Storage:     "sqlite",
		Table:       "instrument",
		KeyColumns:  []string{"symbol"},
		Description: "instrument metadata for all tradable symbols",
		Buckets:     instrumentBuckets,
	},
	{
		Id:              DatasetDailyPrice,
		Storage:         "sqlite",
		Table:           "daily_price",
		KeyColumns:      []string{"symbol", "trade_date"},
		TradeDateColumn: "trade_date",
		Description:     "end-of-day price bars",
		Buckets: []string{
			models.BucketStock,
			models.BucketEtf,
			models.BucketFutures,
			models.BucketSpot,
			models.BucketFx,
		},
	},
	{
		Id:          DatasetFundamental,
		Storage:     "sqlite",
		Table:       "fundamental",
		KeyColumns:  []string{"symbol", "period_end"},
		Description: "periodic fundamentals snapshots",
		Buckets:     []string{models.BucketStock},
	},
	{
		Id:          DatasetMacroSeries,
		Storage:     "sqlite",
		Table:       "macro_value",
		KeyColumns:  []string{"series_code", "period_date"},
		Description: "macro economic series observations",
		Buckets:     []string{models.BucketMacro},
	},
}
