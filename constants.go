// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package canon

import "time"

// Connection retry constants control camera connection behavior.
const (
	// DefaultConnectionRetries is the number of attempts to connect to a camera.
	DefaultConnectionRetries = 3
	// ConnectionInitialBackoff is the initial delay between connection attempts.
	ConnectionInitialBackoff = 250 * time.Millisecond
	// ConnectionMaxBackoff is the maximum delay between connection attempts.
	ConnectionMaxBackoff = 2 * time.Second
	// ConnectionBackoffMultiplier is the exponential backoff multiplier.
	ConnectionBackoffMultiplier = 2.0
	// ConnectionJitter is the random jitter factor (0.0-1.0).
	ConnectionJitter = 0.1
	// ConnectionRetryTimeout is the overall timeout for all connection attempts.
	// Serial wake-up alone can take several seconds per attempt.
	ConnectionRetryTimeout = 60 * time.Second
)

// Serial link constants.
const (
	// SerialMaxTries bounds message retransmission and the wake-up loop.
	SerialMaxTries = 10
	// SerialWakeTimeout is the read timeout while waking the camera.
	SerialWakeTimeout = 900 * time.Millisecond
	// SerialReplyTimeout is the read timeout once the link is up. Large
	// flash cards need several seconds before answering.
	SerialReplyTimeout = 5 * time.Second
	// SerialResetDelay is how long the camera takes to switch off.
	SerialResetDelay = 3 * time.Second
	// SerialDefaultSpeed is the speed every session starts at.
	SerialDefaultSpeed = 9600
)

// USB constants.
const (
	// USBDefaultTimeout is the per-transfer timeout.
	USBDefaultTimeout = 5 * time.Second
	// USBShutterTimeout covers shutter release, which is slow on EOS bodies.
	USBShutterTimeout = 15 * time.Second
	// USBPollTimeout is the per-poll interrupt timeout during capture.
	USBPollTimeout = 500 * time.Millisecond
	// USBMaxPolls bounds the capture event loop.
	USBMaxPolls = 12000
	// USBDrainPolls is the number of quick polls used to empty the
	// interrupt pipe before a capture.
	USBDrainPolls = 10
	// USBFailureDrainPolls and USBFailureDrainTimeout clean the pipe after
	// an abandoned capture.
	USBFailureDrainPolls   = 5
	USBFailureDrainTimeout = 1 * time.Second
	// USBIdentifyRetries is the number of identify attempts during init.
	USBIdentifyRetries = 4
	// USBDefaultTransferUnit applies when the camera does not report one.
	USBDefaultTransferUnit = 0x1400
)

// Size limits used as corruption guards on declared lengths.
const (
	SizeLimitThumb      = 100 * 1024
	SizeLimitThumbCR2   = 10 * 1024 * 1024
	SizeLimitPicture    = 10 * 1024 * 1024
	SizeLimitMovieSmall = 100 * 1024 * 1024
	SizeLimitMovieLarge = 2048 * 1024 * 1024
	// SizeLimitDirectory bounds a USB directory listing.
	SizeLimitDirectory = 1024 * 1024
	// SizeLimitDiskName bounds the storage device name reply.
	SizeLimitDiskName = 1024
)
