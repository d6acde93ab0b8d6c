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

import "testing"

func TestRegistryDefaults(t *testing.T) {
	r := NewRegistry()
	contracts := r.Contracts()
	if len(contracts) == 0 {
		t.Fatalf("expected default contracts")
	}
	for _, contract := range contracts {
		if err := contract.Validate(); err != nil {
			t.Fatalf("invalid default contract: %s", err)
		}
	}
}

func TestRegistryDefensiveCopies(t *testing.T) {
	r := NewRegistry()
	contract, ok := r.ContractById(DatasetDailyPrice)
	if !ok {
		t.Fatalf("expected contract %s", DatasetDailyPrice)
	}
	contract.KeyColumns[0] = "mutated"
	contract.Buckets[0] = "mutated"
	again, _ := r.ContractById(DatasetDailyPrice)
	if again.KeyColumns[0] == "mutated" {
		t.Fatalf("registry key columns were mutated through a copy")
	}
	if again.Buckets[0] == "mutated" {
		t.Fatalf("registry buckets were mutated through a copy")
	}
}

func TestContractAppliesTo(t *testing.T) {
	r := NewRegistry()
	contract, ok := r.ContractById(DatasetFundamental)
	if !ok {
		t.Fatalf("expected contract %s", DatasetFundamental)
	}
	if !contract.AppliesTo("stock") {
		t.Fatalf("fundamentals should apply to stocks")
	}
	if contract.AppliesTo("fx") {
		t.Fatalf("fundamentals should not apply to fx")
	}
}

func TestContractValidate(t *testing.T) {
	testDefs := []struct {
		contract  Contract
		expectErr bool
	}{
		{
			contract: Contract{
				Id:         "test",
				Table:      "test_table",
				KeyColumns: []string{"symbol"},
			},
		},
		{
			contract:  Contract{Table: "x", KeyColumns: []string{"a"}},
			expectErr: true,
		},
		{
			contract:  Contract{Id: "x", KeyColumns: []string{"a"}},
			expectErr: true,
		},
		{
			contract:  Contract{Id: "x", Table: "y"},
			expectErr: true,
		},
	}
	for _, testDef := range testDefs {
		err := testDef.contract.Validate()
		if testDef.expectErr && err == nil {
			t.Fatalf("expected error for contract %+v", testDef.contract)
		}
		if !testDef.expectErr && err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
	}
}
