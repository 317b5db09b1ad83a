// go-canon
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-canon.
//
// go-canon is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-canon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-canon; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package watch

import (
	"testing"
	"time"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.PollTimeout)
	assert.Equal(t, 3, cfg.MaxConsecutiveErrors)
	assert.True(t, cfg.SleepRecovery.Enabled)
	assert.Equal(t, 3, cfg.SleepRecovery.MaxRecoveryAttempts)
}

func TestDetectSleep(t *testing.T) {
	t.Parallel()

	cfg := DefaultSleepRecoveryConfig()
	tests := []struct {
		name    string
		elapsed time.Duration
		enabled bool
		want    bool
	}{
		{"on time", 5 * time.Second, true, false},
		{"within threshold", 7 * time.Second, true, false},
		{"slept", 30 * time.Second, true, true},
		{"disabled", time.Hour, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := cfg
			c.Enabled = tt.enabled
			assert.Equal(t, tt.want, c.DetectSleep(tt.elapsed, 5*time.Second))
		})
	}
}

func TestLinkStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "degraded", StateDegraded.String())
	assert.Equal(t, "recovering", StateRecovering.String())
	assert.Equal(t, "lost", StateLost.String())
	assert.Equal(t, "unknown", LinkState(42).String())
}

func TestBatteryChange(t *testing.T) {
	t.Parallel()

	ok := canon.BatteryStatus{Status: canon.PowerOK}
	low := canon.BatteryStatus{Status: canon.PowerBad}

	tests := []struct {
		name        string
		prev        Status
		next        canon.BatteryStatus
		wantChanged bool
		wantLow     bool
	}{
		{"first ok", Status{}, ok, true, false},
		{"first low", Status{}, low, true, true},
		{"unchanged", Status{HaveBattery: true, Battery: ok}, ok, false, false},
		{"turned low", Status{HaveBattery: true, Battery: ok}, low, true, true},
		{"still low", Status{HaveBattery: true, Battery: low}, low, false, false},
		{"recovered", Status{HaveBattery: true, Battery: low}, ok, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			changed, becameLow := batteryChange(tt.prev, tt.next)
			assert.Equal(t, tt.wantChanged, changed)
			assert.Equal(t, tt.wantLow, becameLow)
		})
	}
}
