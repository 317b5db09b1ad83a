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
	"fmt"
	"time"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/ZaparooProject/go-canon/internal/syncutil"
)

// Camera is the part of *canon.Camera the watcher drives.
type Camera interface {
	Battery(ctx context.Context) (canon.BatteryStatus, error)
	Init(ctx context.Context) error
	Close() error
}

var _ Camera = (*canon.Camera)(nil)

// Recoverer re-establishes a failed camera link.
type Recoverer interface {
	// AttemptRecovery returns nil once the camera answers again.
	AttemptRecovery(ctx context.Context) error

	// Camera returns the current camera, which may change after a reopen
	Camera() Camera
}

// ReopenFunc opens a fresh, initialised camera.
type ReopenFunc func(ctx context.Context) (Camera, error)

// DefaultRecoverer tries two tiers per attempt:
// 1. Init on the existing camera, which reruns the wake-up or USB handshake
// 2. Close it and open a new one through reopen, when provided
type DefaultRecoverer struct {
	cam         Camera
	reopen      ReopenFunc
	backoff     time.Duration
	maxAttempts int
	mu          syncutil.Mutex
}

// NewDefaultRecoverer creates a recoverer. With a nil reopen only Init is
// attempted.
func NewDefaultRecoverer(cam Camera, reopen ReopenFunc, backoff time.Duration, maxAttempts int) *DefaultRecoverer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &DefaultRecoverer{
		cam:         cam,
		reopen:      reopen,
		backoff:     backoff,
		maxAttempts: maxAttempts,
	}
}

// AttemptRecovery runs up to maxAttempts rounds of both tiers.
func (r *DefaultRecoverer) AttemptRecovery(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for attempt := range r.maxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff):
			}
		}

		err := r.cam.Init(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("attempt %d init: %w", attempt+1, err))

		if r.reopen == nil {
			continue
		}
		_ = r.cam.Close()
		cam, err := r.reopen(ctx)
		if err == nil {
			r.cam = cam
			return nil
		}
		errs = append(errs, fmt.Errorf("attempt %d reopen: %w", attempt+1, err))
	}
	return errors.Join(errs...)
}

// Camera returns the current camera.
func (r *DefaultRecoverer) Camera() Camera {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cam
}
