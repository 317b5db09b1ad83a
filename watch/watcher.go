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

// Package watch polls a connected camera in the background: it reports
// battery changes, rides out transient link errors and re-establishes the
// link after host sleep or a lost connection.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/ZaparooProject/go-canon/internal/syncutil"
	"github.com/sirupsen/logrus"
)

// Callbacks receive watcher events on the polling goroutine. A panicking
// callback is recovered and logged.
type Callbacks struct {
	// OnBattery receives the first reading and every change
	OnBattery func(status canon.BatteryStatus)
	// OnLowBattery fires when the level turns bad
	OnLowBattery func(status canon.BatteryStatus)
	// OnStateChange fires on every link state transition
	OnStateChange func(from, to LinkState)
	// OnFatal receives the error that stopped the watcher
	OnFatal func(err error)
}

// Metrics are the watcher's counters.
type Metrics struct {
	Polls            int64
	PollErrors       int64
	Recoveries       int64
	FailedRecoveries int64
	LastPollLatency  time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithRecoverer replaces the default Init-only recoverer.
func WithRecoverer(r Recoverer) Option {
	return func(w *Watcher) {
		w.recoverer = r
	}
}

// WithClock replaces the clock used for sleep detection.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		w.now = now
	}
}

// Watcher polls one camera.
type Watcher struct {
	cam       Camera
	recoverer Recoverer
	config    *Config
	callbacks Callbacks
	now       func() time.Time
	log       *logrus.Entry

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
	running  atomic.Bool

	mu     syncutil.Mutex
	status Status
	err    error

	polls            atomic.Int64
	pollErrors       atomic.Int64
	recoveries       atomic.Int64
	failedRecoveries atomic.Int64
	lastPollLatency  atomic.Int64
}

// New creates a watcher. A nil config means DefaultConfig. Unless
// WithRecoverer is given and sleep recovery is enabled, recovery reruns
// Init on cam.
func New(cam Camera, config *Config, callbacks Callbacks, opts ...Option) *Watcher {
	if config == nil {
		config = DefaultConfig()
	}
	w := &Watcher{
		cam:       cam,
		config:    config,
		callbacks: callbacks,
		now:       time.Now,
		log:       canon.Log("watch"),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.recoverer == nil && config.SleepRecovery.Enabled {
		w.recoverer = NewDefaultRecoverer(cam, nil,
			config.SleepRecovery.RecoveryBackoff, config.SleepRecovery.MaxRecoveryAttempts)
	}
	return w
}

// Start runs the watcher on its own goroutine. Calling it again while it
// runs does nothing.
func (w *Watcher) Start(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		_ = w.run(ctx)
	}()
}

// Run polls until ctx ends, Stop is called or the link is lost. Only a
// lost link returns an error.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New("watcher already running")
	}
	return w.run(ctx)
}

func (w *Watcher) run(ctx context.Context) error {
	defer w.doneOnce.Do(func() { close(w.done) })
	defer w.running.Store(false)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.cycle(ctx); err != nil {
			w.fail(err)
			return err
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		case <-w.stopChan:
			return nil
		}
	}
}

// Stop ends the polling goroutine and waits for it.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
}

// Done is closed when the polling loop first exits.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Err returns the error that stopped the watcher, if any.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Status returns a snapshot of the last poll.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Metrics returns the counters.
func (w *Watcher) Metrics() Metrics {
	return Metrics{
		Polls:            w.polls.Load(),
		PollErrors:       w.pollErrors.Load(),
		Recoveries:       w.recoveries.Load(),
		FailedRecoveries: w.failedRecoveries.Load(),
		LastPollLatency:  time.Duration(w.lastPollLatency.Load()),
	}
}

func (w *Watcher) camera() Camera {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cam
}

// cycle runs one poll. It returns an error only when the link is gone.
func (w *Watcher) cycle(ctx context.Context) error {
	now := w.now()
	w.mu.Lock()
	last := w.status.LastPoll
	w.status.LastPoll = now
	w.mu.Unlock()

	if !last.IsZero() && w.config.SleepRecovery.DetectSleep(now.Sub(last), w.config.PollInterval) {
		w.log.Warnf("host slept for %s, re-establishing the link", now.Sub(last).Round(time.Second))
		if err := w.recover(ctx, errors.New("host sleep")); err != nil {
			return err
		}
	}

	pollCtx := ctx
	if w.config.PollTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, w.config.PollTimeout)
		defer cancel()
	}
	start := time.Now()
	battery, err := w.camera().Battery(pollCtx)
	w.lastPollLatency.Store(int64(time.Since(start)))
	w.polls.Add(1)

	if err == nil {
		w.recordBattery(battery)
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}

	w.pollErrors.Add(1)
	w.mu.Lock()
	w.status.ConsecutiveErrors++
	consecutive := w.status.ConsecutiveErrors
	w.mu.Unlock()
	w.log.Debugf("battery poll failed (%d in a row): %v", consecutive, err)

	if canon.IsFatal(err) || consecutive >= w.config.MaxConsecutiveErrors {
		return w.recover(ctx, err)
	}
	w.setState(StateDegraded)
	return nil
}

func (w *Watcher) recordBattery(battery canon.BatteryStatus) {
	w.mu.Lock()
	changed, becameLow := batteryChange(w.status, battery)
	w.status.Battery = battery
	w.status.HaveBattery = true
	w.status.ConsecutiveErrors = 0
	w.mu.Unlock()

	w.setState(StateConnected)
	if changed && w.callbacks.OnBattery != nil {
		w.safeCall("OnBattery", func() { w.callbacks.OnBattery(battery) })
	}
	if becameLow && w.callbacks.OnLowBattery != nil {
		w.safeCall("OnLowBattery", func() { w.callbacks.OnLowBattery(battery) })
	}
}

func (w *Watcher) recover(ctx context.Context, cause error) error {
	if w.recoverer == nil {
		return fmt.Errorf("%w: %w", ErrLinkLost, cause)
	}
	w.setState(StateRecovering)
	if err := w.recoverer.AttemptRecovery(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		w.failedRecoveries.Add(1)
		return fmt.Errorf("%w: %w (recovery: %w)", ErrLinkLost, cause, err)
	}
	w.recoveries.Add(1)
	w.mu.Lock()
	w.cam = w.recoverer.Camera()
	w.status.ConsecutiveErrors = 0
	w.mu.Unlock()
	w.log.Debugf("link re-established after: %v", cause)
	w.setState(StateConnected)
	return nil
}

func (w *Watcher) fail(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
	w.setState(StateLost)
	if w.callbacks.OnFatal != nil {
		w.safeCall("OnFatal", func() { w.callbacks.OnFatal(err) })
	}
}

func (w *Watcher) setState(to LinkState) {
	w.mu.Lock()
	from := w.status.State
	w.status.State = to
	w.mu.Unlock()
	if from != to && w.callbacks.OnStateChange != nil {
		w.safeCall("OnStateChange", func() { w.callbacks.OnStateChange(from, to) })
	}
}

func (w *Watcher) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Warnf("%s callback panicked: %v", name, r)
		}
	}()
	fn()
}
