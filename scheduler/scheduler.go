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

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/marketd/database"
	"github.com/blinklabs-io/marketd/database/models"
	"github.com/blinklabs-io/marketd/ingest"

	"github.com/prometheus/client_golang/prometheus"
)

// Control plane states
const (
	StateIdle       = "idle"
	StateRunning    = "running"
	StatePaused     = "paused"
	StateCancelling = "cancelling"
)

var (
	// ErrAlreadyRunning is returned by TriggerNow while a run is in progress
	ErrAlreadyRunning = errors.New("an ingest run is already in progress")

	// ErrInvalidState is returned for a control command that does not apply
	// to the current state
	ErrInvalidState = errors.New("operation not valid in current state")

	// ErrInvalidSchedule is returned for a schedule config that fails
	// validation
	ErrInvalidSchedule = errors.New("invalid schedule config")
)

// SchedulerConfig describes the scheduler configuration
type SchedulerConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	DB           *database.Database
	Ledger       *ingest.Ledger
	Pipeline     *ingest.Pipeline
	Now          func() time.Time
}

// ControlStatus is a point-in-time snapshot of the control plane
type ControlStatus struct {
	State        string
	CurrentRunId string
	QueueLength  int
}

// Scheduler owns run execution for the daemon: it serializes all runs behind
// a FIFO lock, drives the daily timer, and exposes the operator control
// plane (trigger, pause, resume, cancel). Pause and cancel act at pipeline
// checkpoints, never mid-request.
type Scheduler struct {
	config    SchedulerConfig
	logger    *slog.Logger
	now       func() time.Time
	metrics   *schedulerMetrics
	lock      ingest.RunLock
	runCtx    context.Context
	cancelCtx context.CancelFunc
	wakeCh    chan struct{}
	doneCh    chan struct{}
	runWg     sync.WaitGroup
	mu        sync.Mutex
	state     string
	gate      *ingest.Gate
	pending   int
	started   bool
}

type schedulerMetrics struct {
	triggersTotal *prometheus.CounterVec
}

// New creates a new scheduler
func New(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Scheduler{
		config: cfg,
		logger: logger.With("component", "scheduler"),
		now:    cfg.Now,
		wakeCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
		state:  StateIdle,
	}
	if cfg.PromRegistry != nil {
		s.initMetrics(cfg.PromRegistry)
	}
	return s
}

func (s *Scheduler) initMetrics(promRegistry prometheus.Registerer) {
	s.metrics = &schedulerMetrics{
		triggersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketd_scheduler_triggers_total",
				Help: "total runs launched by the scheduler by mode",
			},
			[]string{"mode"},
		),
	}
	promRegistry.MustRegister(s.metrics.triggersTotal)
}

// Start converges stale run records left behind by a previous process,
// evaluates startup and catch-up policy, and starts the timer loop. It must
// be called before any control command.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	s.mu.Unlock()
	converged, err := s.config.Ledger.ConvergeStaleRuns()
	if err != nil {
		return fmt.Errorf("failed to converge stale runs: %w", err)
	}
	if converged > 0 {
		s.logger.Warn("recovered abandoned ingest runs", "count", converged)
	}
	ctx, s.cancelCtx = context.WithCancel(ctx)
	s.runCtx = ctx
	if err := s.evaluateStartup(ctx); err != nil {
		return err
	}
	go s.loop(ctx)
	return nil
}

// Stop stops the timer loop and cancels any active run
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	if s.gate != nil {
		s.gate.Cancel()
	}
	s.mu.Unlock()
	s.cancelCtx()
	<-s.doneCh
	// Wait for any in-flight run to reach its terminal record
	s.runWg.Wait()
	return nil
}

// evaluateStartup applies the run-on-startup and catch-up policies
func (s *Scheduler) evaluateStartup(ctx context.Context) error {
	cfg, err := s.config.DB.ScheduleConfig()
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	if cfg.RunOnStartup {
		s.logger.Info("launching startup run", "scope", cfg.Scope)
		s.launch(ctx, cfg.Scope, models.IngestModeScheduled)
		return nil
	}
	if !cfg.CatchUpMissed {
		return nil
	}
	missed, err := s.missedLastDue(cfg)
	if err != nil {
		s.logger.Warn("failed to evaluate catch-up policy", "error", err)
		return nil
	}
	if missed {
		s.logger.Info("launching catch-up run", "scope", cfg.Scope)
		s.launch(ctx, cfg.Scope, models.IngestModeCatchUp)
	}
	return nil
}

// missedLastDue reports whether the most recent schedule due time passed
// with no successful run started at or after it. Failed and cancelled runs
// do not count: a run that crashed at the due time still needs catching up.
func (s *Scheduler) missedLastDue(cfg *models.ScheduleConfig) (bool, error) {
	lastDue, err := lastDueBefore(s.now(), cfg)
	if err != nil {
		return false, err
	}
	last, err := s.config.Ledger.LastSuccessfulRun("")
	if err != nil {
		return false, err
	}
	if last != nil && last.StartedAt >= lastDue.UnixMilli() {
		return false, nil
	}
	return true, nil
}

// loop waits for the next schedule fire time, re-evaluating whenever the
// schedule config changes
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)
	for {
		var timerCh <-chan time.Time
		var timer *time.Timer
		cfg, err := s.config.DB.ScheduleConfig()
		if err != nil {
			s.logger.Error("failed to load schedule config", "error", err)
		} else if cfg != nil && cfg.Enabled {
			next, err := nextRunAfter(s.now(), cfg)
			if err != nil {
				s.logger.Error("unusable schedule config", "error", err)
			} else {
				s.logger.Debug(
					"next scheduled run",
					"at", next.Format(time.RFC3339),
				)
				timer = time.NewTimer(next.Sub(s.now()))
				timerCh = timer.C
			}
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wakeCh:
			if timer != nil {
				timer.Stop()
			}
		case <-timerCh:
			s.launch(ctx, cfg.Scope, models.IngestModeScheduled)
		}
	}
}

// TriggerNow launches a manual run for the given scope. It returns
// ErrAlreadyRunning while another run is in progress. The run is bound to
// the scheduler's lifetime, not the caller's.
func (s *Scheduler) TriggerNow(scope string) error {
	if !models.ValidIngestScope(scope) {
		return fmt.Errorf("%w: %s", ingest.ErrInvalidScope, scope)
	}
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("scheduler not started")
	}
	// The decision and the reservation are one critical section so two
	// concurrent triggers cannot both queue behind the run lock
	if s.state != StateIdle || s.pending > 0 {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.pending++
	ctx := s.runCtx
	s.mu.Unlock()
	s.launchReserved(ctx, scope, models.IngestModeManual)
	return nil
}

// Pause suspends the active run at its next checkpoint
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return fmt.Errorf("%w: cannot pause while %s", ErrInvalidState, s.state)
	}
	s.gate.Pause()
	s.state = StatePaused
	s.logger.Info("run paused")
	return nil
}

// Resume releases a paused run
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return fmt.Errorf(
			"%w: cannot resume while %s",
			ErrInvalidState,
			s.state,
		)
	}
	s.gate.Resume()
	s.state = StateRunning
	s.logger.Info("run resumed")
	return nil
}

// Cancel requests cancellation of the active run. The run ends at its next
// checkpoint; in-flight work is not interrupted.
func (s *Scheduler) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning && s.state != StatePaused {
		return fmt.Errorf(
			"%w: cannot cancel while %s",
			ErrInvalidState,
			s.state,
		)
	}
	s.gate.Cancel()
	s.state = StateCancelling
	s.logger.Info("run cancellation requested")
	return nil
}

// Status returns a snapshot of the control plane. The current run ID comes
// from the run ledger and may briefly lag the state during run startup.
func (s *Scheduler) Status() ControlStatus {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	status := ControlStatus{
		State:       state,
		QueueLength: s.lock.QueueLength(),
	}
	if state != StateIdle {
		if runs, err := s.config.DB.IngestRunsByStatus(
			models.IngestStatusRunning,
		); err == nil && len(runs) > 0 {
			status.CurrentRunId = runs[0].RunId
		}
	}
	return status
}

// GetScheduleConfig returns the persisted schedule config, or nil when it
// has never been seeded
func (s *Scheduler) GetScheduleConfig() (*models.ScheduleConfig, error) {
	return s.config.DB.ScheduleConfig()
}

// SetScheduleConfig validates and persists a new schedule config, then wakes
// the timer loop so the change takes effect immediately
func (s *Scheduler) SetScheduleConfig(cfg *models.ScheduleConfig) error {
	if err := validateScheduleConfig(cfg); err != nil {
		return err
	}
	if err := s.config.DB.UpdateScheduleConfig(cfg); err != nil {
		return err
	}
	s.wake()
	s.logger.Info(
		"schedule config updated",
		"enabled", cfg.Enabled,
		"run_at", cfg.RunAt,
		"timezone", cfg.Timezone,
		"scope", cfg.Scope,
	)
	return nil
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func validateScheduleConfig(cfg *models.ScheduleConfig) error {
	if _, err := time.Parse("15:04", cfg.RunAt); err != nil {
		return fmt.Errorf(
			"%w: run_at %q is not HH:mm",
			ErrInvalidSchedule,
			cfg.RunAt,
		)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf(
			"%w: unknown timezone %q",
			ErrInvalidSchedule,
			cfg.Timezone,
		)
	}
	if !models.ValidIngestScope(cfg.Scope) {
		return fmt.Errorf(
			"%w: unknown scope %q",
			ErrInvalidSchedule,
			cfg.Scope,
		)
	}
	return nil
}

// launch queues a run behind the FIFO lock and executes it asynchronously
func (s *Scheduler) launch(ctx context.Context, scope string, mode string) {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()
	s.launchReserved(ctx, scope, mode)
}

// launchReserved executes a launch whose pending slot has already been
// taken under the mutex
func (s *Scheduler) launchReserved(
	ctx context.Context,
	scope string,
	mode string,
) {
	if s.metrics != nil {
		s.metrics.triggersTotal.WithLabelValues(mode).Inc()
	}
	s.runWg.Add(1)
	go func() {
		defer s.runWg.Done()
		defer func() {
			s.mu.Lock()
			s.pending--
			s.mu.Unlock()
		}()
		err := s.lock.RunExclusive(ctx, func() error {
			gate := ingest.NewGate()
			s.mu.Lock()
			s.state = StateRunning
			s.gate = gate
			s.mu.Unlock()
			defer func() {
				s.mu.Lock()
				s.state = StateIdle
				s.gate = nil
				s.mu.Unlock()
			}()
			run, err := s.config.Pipeline.Run(ctx, scope, mode, gate)
			if err != nil {
				return err
			}
			s.logger.Info(
				"run completed",
				"run_id", run.RunId,
				"status", run.Status,
				"mode", mode,
			)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error(
				"run execution failed",
				"scope", scope,
				"mode", mode,
				"error", err,
			)
		}
	}()
}
