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
	"errors"
	"time"

	canon "github.com/ZaparooProject/go-canon"
)

// LinkState is the watcher's view of the camera link.
type LinkState int

const (
	// StateIdle: not polled yet
	StateIdle LinkState = iota
	// StateConnected: the last poll succeeded
	StateConnected
	// StateDegraded: recent polls failed but the link is not given up
	StateDegraded
	// StateRecovering: re-initialising or reopening the camera
	StateRecovering
	// StateLost: recovery failed or was impossible; the watcher stopped
	StateLost
)

func (s LinkState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateRecovering:
		return "recovering"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Status is a snapshot of what the watcher knows.
type Status struct {
	LastPoll time.Time
	Battery  canon.BatteryStatus
	// HaveBattery is false until a poll succeeds.
	HaveBattery       bool
	State             LinkState
	ConsecutiveErrors int
}

// ErrLinkLost is returned by Run when the camera cannot be recovered.
var ErrLinkLost = errors.New("camera link lost")

// batteryChange classifies a new battery reading against the previous one.
func batteryChange(prev Status, next canon.BatteryStatus) (changed, becameLow bool) {
	if !prev.HaveBattery {
		return true, !next.OK()
	}
	changed = prev.Battery != next
	becameLow = prev.Battery.OK() && !next.OK()
	return changed, becameLow
}
