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
	"fmt"
	"time"

	"github.com/blinklabs-io/marketd/database/models"
)

// fireTimeOn resolves the schedule's wall-clock fire time on the day of the
// given local time
func fireTimeOn(local time.Time, cfg *models.ScheduleConfig) (time.Time, error) {
	runAt, err := time.Parse("15:04", cfg.RunAt)
	if err != nil {
		return time.Time{}, fmt.Errorf(
			"invalid schedule time %q: %w",
			cfg.RunAt,
			err,
		)
	}
	return time.Date(
		local.Year(),
		local.Month(),
		local.Day(),
		runAt.Hour(),
		runAt.Minute(),
		0,
		0,
		local.Location(),
	), nil
}

// nextRunAfter returns the next schedule fire time strictly after t
func nextRunAfter(
	t time.Time,
	cfg *models.ScheduleConfig,
) (time.Time, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf(
			"invalid schedule timezone %q: %w",
			cfg.Timezone,
			err,
		)
	}
	fire, err := fireTimeOn(t.In(loc), cfg)
	if err != nil {
		return time.Time{}, err
	}
	if !fire.After(t) {
		fire = fire.AddDate(0, 0, 1)
	}
	return fire, nil
}

// lastDueBefore returns the most recent schedule fire time at or before t
func lastDueBefore(
	t time.Time,
	cfg *models.ScheduleConfig,
) (time.Time, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf(
			"invalid schedule timezone %q: %w",
			cfg.Timezone,
			err,
		)
	}
	fire, err := fireTimeOn(t.In(loc), cfg)
	if err != nil {
		return time.Time{}, err
	}
	if fire.After(t) {
		fire = fire.AddDate(0, 0, -1)
	}
	return fire, nil
}
