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

import "time"

// SleepRecoveryConfig configures recovery after the host slept. A sleeping
// host drops the USB device or leaves the camera timed out on the serial
// line, so the link is re-established before the next poll.
type SleepRecoveryConfig struct {
	// Enabled enables sleep detection and recovery attempts
	Enabled bool

	// TimeDiscontinuityThreshold is how far past the poll interval a gap
	// between polls must be to count as a sleep. Default: 2 seconds
	TimeDiscontinuityThreshold time.Duration

	// MaxRecoveryAttempts is the number of recovery attempts before the
	// link is declared lost. Default: 3
	MaxRecoveryAttempts int

	// RecoveryBackoff is the delay between recovery attempts
	RecoveryBackoff time.Duration
}

// DefaultSleepRecoveryConfig returns sensible defaults for sleep recovery
func DefaultSleepRecoveryConfig() SleepRecoveryConfig {
	return SleepRecoveryConfig{
		Enabled:                    true,
		TimeDiscontinuityThreshold: 2 * time.Second,
		MaxRecoveryAttempts:        3,
		RecoveryBackoff:            500 * time.Millisecond,
	}
}

// DetectSleep reports whether elapsed exceeds pollInterval plus the
// discontinuity threshold.
func (cfg SleepRecoveryConfig) DetectSleep(elapsed, pollInterval time.Duration) bool {
	if !cfg.Enabled {
		return false
	}
	return elapsed > pollInterval+cfg.TimeDiscontinuityThreshold
}

// Config holds watcher options.
type Config struct {
	// PollInterval is the time between battery polls
	PollInterval time.Duration
	// PollTimeout bounds one poll. A serial camera at 9600 baud needs a few
	// seconds for a retransmitted exchange.
	PollTimeout time.Duration
	// MaxConsecutiveErrors is how many failed polls in a row trigger a
	// recovery. Fatal errors trigger it at once.
	MaxConsecutiveErrors int
	// SleepRecovery configures recovery after host sleep and lost links
	SleepRecovery SleepRecoveryConfig
}

// DefaultConfig returns the default watcher configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:         5 * time.Second,
		PollTimeout:          10 * time.Second,
		MaxConsecutiveErrors: 3,
		SleepRecovery:        DefaultSleepRecoveryConfig(),
	}
}
