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

package testing

import (
	"math/rand/v2"
	"time"

	canon "github.com/ZaparooProject/go-canon"
)

// JitterConfig configures the behavior of JitteryPort.
type JitterConfig struct {
	MaxLatencyMs     int
	FragmentMinBytes int
	StallAfterBytes  int
	StallDuration    time.Duration
	Seed             uint64
	FragmentReads    bool
	// BridgeBoundaryStress splits reads at the 64 byte packets of a
	// USB-serial bridge.
	BridgeBoundaryStress bool
}

// DefaultJitterConfig returns a sensible default configuration for testing.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatencyMs:     2,
		FragmentReads:    true,
		FragmentMinBytes: 1,
	}
}

// JitteryPort wraps a serial port the way a PL2303 or FTDI bridge
// delivers it: late, and in arbitrary fragments that split frames and
// escape sequences. Bytes are buffered, never dropped.
type JitteryPort struct {
	canon.SerialPort
	rng                 *rand.Rand
	readBuf             []byte
	config              JitterConfig
	bytesReadSinceStall int
	stallTriggered      bool
}

var _ canon.SerialPort = (*JitteryPort)(nil)

// NewJitteryPort wraps backend with jitter simulation.
func NewJitteryPort(backend canon.SerialPort, config JitterConfig) *JitteryPort {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}
	return &JitteryPort{
		SerialPort: backend,
		config:     config,
		rng:        rand.New(rand.NewPCG(seed, seed^0xDEADBEEF)), //nolint:gosec // Test code, not crypto
		readBuf:    make([]byte, 0, 1024),
	}
}

// Read returns a random slice of what the backend has delivered.
//
//nolint:gocognit,cyclop // Jitter simulation inherently requires multiple conditions
func (j *JitteryPort) Read(buf []byte) (int, error) {
	if j.config.MaxLatencyMs > 0 {
		if delay := time.Duration(j.rng.IntN(j.config.MaxLatencyMs+1)) * time.Millisecond; delay > 0 {
			time.Sleep(delay)
		}
	}

	if len(j.readBuf) == 0 {
		tmp := make([]byte, 1024)
		n, err := j.SerialPort.Read(tmp)
		if err != nil || n == 0 {
			return 0, err //nolint:wrapcheck // Pass-through wrapper
		}
		j.readBuf = append(j.readBuf, tmp[:n]...)
	}

	toReturn := min(len(j.readBuf), len(buf))

	if j.config.StallAfterBytes > 0 && !j.stallTriggered {
		if j.bytesReadSinceStall >= j.config.StallAfterBytes {
			j.stallTriggered = true
			if j.config.StallDuration > 0 {
				time.Sleep(j.config.StallDuration)
			}
		} else {
			toReturn = min(toReturn, j.config.StallAfterBytes-j.bytesReadSinceStall)
		}
	}

	if j.config.BridgeBoundaryStress && toReturn > 0 {
		untilBoundary := 64 - j.bytesReadSinceStall%64
		toReturn = min(toReturn, untilBoundary)
	}

	if j.config.FragmentReads && toReturn > j.config.FragmentMinBytes {
		toReturn = j.config.FragmentMinBytes + j.rng.IntN(toReturn-j.config.FragmentMinBytes+1)
	}

	copy(buf, j.readBuf[:toReturn])
	j.readBuf = j.readBuf[toReturn:]
	j.bytesReadSinceStall += toReturn
	return toReturn, nil
}

// ResetInput drops buffered bytes along with the backend's.
func (j *JitteryPort) ResetInput() error {
	j.readBuf = j.readBuf[:0]
	return j.SerialPort.ResetInput() //nolint:wrapcheck // Pass-through wrapper
}

// ResetStallState resets the stall tracking state.
func (j *JitteryPort) ResetStallState() {
	j.bytesReadSinceStall = 0
	j.stallTriggered = false
}

// Buffered reports how many bytes are held back from the caller.
func (j *JitteryPort) Buffered() int {
	return len(j.readBuf)
}
