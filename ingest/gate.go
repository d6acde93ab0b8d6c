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
	"context"
	"errors"
	"sync"
)

// ErrRunCancelled is returned from Gate.Checkpoint once the run has been
// cancelled
var ErrRunCancelled = errors.New("ingest run cancelled")

// Gate carries cooperative pause/cancel signals into a running ingestion.
// The pipeline calls Checkpoint at safe boundaries (between datasets and
// pagination units); pause suspends progress there, cancel prevents the next
// unit of work from starting. Neither interrupts an in-flight request.
type Gate struct {
	mu        sync.Mutex
	resumeCh  chan struct{}
	paused    bool
	cancelled bool
}

func NewGate() *Gate {
	return &Gate{}
}

// Pause suspends progress at the next checkpoint
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused || g.cancelled {
		return
	}
	g.paused = true
	g.resumeCh = make(chan struct{})
}

// Resume releases a paused run
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.resumeCh)
}

// Cancel marks the run cancelled and releases it if paused
func (g *Gate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = true
	if g.paused {
		g.paused = false
		close(g.resumeCh)
	}
}

// Cancelled returns true once Cancel has been called
func (g *Gate) Cancelled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled
}

// Checkpoint blocks while the gate is paused and returns ErrRunCancelled
// once the run has been cancelled. A nil gate is always open.
func (g *Gate) Checkpoint(ctx context.Context) error {
	if g == nil {
		return nil
	}
	for {
		g.mu.Lock()
		if g.cancelled {
			g.mu.Unlock()
			return ErrRunCancelled
		}
		if !g.paused {
			g.mu.Unlock()
			return nil
		}
		resumeCh := g.resumeCh
		g.mu.Unlock()
		select {
		case <-resumeCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
