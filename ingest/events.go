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

package ingest

import (
	"github.com/blinklabs-io/marketd/event"
)

const (
	// RunFinishedEventType is emitted on the event bus whenever a run
	// reaches a terminal status
	RunFinishedEventType = event.EventType("ingest.run.finished")
)

// RunFinishedEvent carries the terminal state of an ingest run
type RunFinishedEvent struct {
	RunId         string
	Scope         string
	Mode          string
	Status        string
	AsOfTradeDate string
	Inserted      int64
	Updated       int64
	Errors        int64
}
