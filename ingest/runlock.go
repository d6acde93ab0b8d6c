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
	"sync"
)

// RunLock is a single-flight mutex with a FIFO wait queue. It serializes all
// ingestion work across the process. Acquisition has no timeout by design;
// callers that need a deadline race it via their context. The lock is not
// reentrant.
type RunLock struct {
	mu      sync.Mutex
	waiters []chan struct{}
	busy    bool
}

// Acquire takes the lock, waiting in FIFO order behind the current holder
// and any earlier waiters. It returns early with the context error when the
// context is done before the lock is granted.
func (l *RunLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if !l.busy {
		l.busy = true
		l.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	l.waiters = append(l.waiters, ready)
	l.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, waiter := range l.waiters {
			if waiter == ready {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// The lock was handed to us concurrently with cancellation, so we
		// own it and must pass it along
		l.Release()
		return ctx.Err()
	}
}

// Release releases the lock, handing it directly to the next queued waiter
// if there is one
func (l *RunLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.waiters) > 0 {
		ready := l.waiters[0]
		l.waiters = l.waiters[1:]
		// Ownership transfers to the waiter; busy stays set
		close(ready)
		return
	}
	l.busy = false
}

// RunExclusive runs the given operation while holding the lock. The lock is
// always released, including when the operation returns an error or panics.
func (l *RunLock) RunExclusive(
	ctx context.Context,
	operation func() error,
) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return operation()
}

// QueueLength returns the number of callers currently waiting for the lock
func (l *RunLock) QueueLength() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}
