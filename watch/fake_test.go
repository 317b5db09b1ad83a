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
	"context"
	"errors"
	"sync"

	canon "github.com/ZaparooProject/go-canon"
)

type pollResult struct {
	battery canon.BatteryStatus
	err     error
}

// fakeCamera replays scripted battery results; once the script runs out it
// repeats the last entry.
type fakeCamera struct {
	mu       sync.Mutex
	script   []pollResult
	polls    int
	initErrs []error
	inits    int
	closed   bool
}

func newFakeCamera(script ...pollResult) *fakeCamera {
	return &fakeCamera{script: script}
}

func (f *fakeCamera) Battery(ctx context.Context) (canon.BatteryStatus, error) {
	if err := ctx.Err(); err != nil {
		return canon.BatteryStatus{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.script) == 0 {
		return canon.BatteryStatus{Status: canon.PowerOK}, nil
	}
	i := f.polls
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.polls++
	return f.script[i].battery, f.script[i].err
}

func (f *fakeCamera) Init(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.inits
	f.inits++
	if i < len(f.initErrs) {
		return f.initErrs[i]
	}
	return nil
}

func (f *fakeCamera) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("already closed")
	}
	f.closed = true
	return nil
}

func (f *fakeCamera) counts() (polls, inits int, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls, f.inits, f.closed
}

var (
	okBattery  = pollResult{battery: canon.BatteryStatus{Status: canon.PowerOK}}
	lowBattery = pollResult{battery: canon.BatteryStatus{Status: canon.PowerBad, Source: 0x20}}
	errPoll    = errors.New("no reply")
	badPoll    = pollResult{err: errPoll}
)
