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

// Package usb drives Canon cameras over USB: the command dialogue, long
// transfers, remote capture and the camera operations built on them.
package usb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/sirupsen/logrus"
)

var le = binary.LittleEndian

// traceSize is the number of transfers kept for error reports.
const traceSize = 32

// Option configures an Engine.
type Option func(*Engine) error

// WithPollInterval sets the interrupt poll timeout used while waiting for
// capture events.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) error {
		if d <= 0 {
			return fmt.Errorf("%w: poll interval %s", canon.ErrInvalidParameter, d)
		}
		e.pollInterval = d
		return nil
	}
}

// WithMaxPolls bounds the capture event loop.
func WithMaxPolls(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			return fmt.Errorf("%w: max polls must be at least 1", canon.ErrInvalidParameter)
		}
		e.maxPolls = n
		return nil
	}
}

// WithTransferUnit overrides the bulk read size the camera reports at init.
func WithTransferUnit(n int) Option {
	return func(e *Engine) error {
		if n < 0x40 {
			return fmt.Errorf("%w: transfer unit 0x%x below 0x40", canon.ErrInvalidParameter, n)
		}
		e.unitOverride = n
		return nil
	}
}

// WithModel skips model detection from the product id.
func WithModel(m *canon.Model) Option {
	return func(e *Engine) error {
		if m == nil {
			return fmt.Errorf("%w: nil model", canon.ErrInvalidParameter)
		}
		e.forced = m
		return nil
	}
}

// WithStatus receives progress messages.
func WithStatus(fn canon.StatusFunc) Option {
	return func(e *Engine) error {
		e.statusFn = fn
		return nil
	}
}

// WithLocation sets the zone camera clocks are interpreted in. The
// default is time.Local.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) error {
		if loc == nil {
			return fmt.Errorf("%w: nil location", canon.ErrInvalidParameter)
		}
		e.loc = loc
		return nil
	}
}

// Engine implements canon.Engine over USB.
type Engine struct {
	dev      canon.USBDevice
	model    *canon.Model
	forced   *canon.Model
	profile  Profile
	trace    *canon.TraceBuffer
	log      *logrus.Entry
	statusFn canon.StatusFunc
	loc      *time.Location

	pollInterval time.Duration
	maxPolls     int
	unit         int
	unitOverride int
	serial       uint32
	bodyID       uint32

	ready  bool
	locked bool
	remote bool
}

var _ canon.Engine = (*Engine)(nil)

// New returns an engine on dev. The camera is not contacted until Init.
func New(dev canon.USBDevice, opts ...Option) (*Engine, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", canon.ErrInvalidParameter)
	}
	e := &Engine{
		dev:          dev,
		trace:        canon.NewTraceBuffer(string(canon.TransportUSB), dev.Path(), traceSize),
		log:          canon.Log("usb").WithField("device", dev.Path()),
		loc:          time.Local,
		pollInterval: canon.USBPollTimeout,
		maxPolls:     canon.USBMaxPolls,
		unit:         canon.USBDefaultTransferUnit,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) status(msg string) {
	e.log.Debug(msg)
	if e.statusFn != nil {
		e.statusFn(msg)
	}
}

// Profile returns the protocol class profile, or nil before Init.
func (e *Engine) Profile() Profile {
	return e.profile
}

// TransferUnit is the bulk read size in use, a multiple of 0x40.
func (e *Engine) TransferUnit() int {
	u := e.unit
	if e.unitOverride != 0 {
		u = e.unitOverride
	}
	return u &^ 0x3f
}

// Model returns the detected model, or nil before Init.
func (e *Engine) Model() *canon.Model {
	return e.model
}

// Type returns the transport type.
func (*Engine) Type() canon.TransportType {
	return canon.TransportUSB
}

func (e *Engine) resolveModel() error {
	if e.model != nil {
		return nil
	}
	m := e.forced
	if m == nil {
		var err error
		m, err = canon.LookupUSB(e.dev.ProductID())
		if err != nil {
			return err
		}
	}
	p, err := ProfileFor(m.Class)
	if err != nil {
		return err
	}
	e.model, e.profile = m, p
	e.log = e.log.WithField("model", m.Name)
	return nil
}

// Camera states reported by the first control read.
const (
	stateActive = 'A'
	stateWoken  = 'C'
)

// Init runs the USB handshake: camera state, transfer unit, identification
// and the class-specific setup.
func (e *Engine) Init(ctx context.Context) error {
	if err := e.init(ctx); err != nil {
		return e.trace.WrapError(err)
	}
	return nil
}

func (e *Engine) init(ctx context.Context) error {
	if err := e.resolveModel(); err != nil {
		return err
	}
	e.ready = false
	e.status("Initializing camera")

	state, err := e.handshake()
	if err != nil {
		return err
	}
	e.ready = true

	var idErr error
	for try := 1; try <= canon.USBIdentifyRetries; try++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, idErr = e.Identify(ctx); idErr == nil {
			break
		}
		e.log.WithError(idErr).Debugf("identify attempt %d failed", try)
	}
	if idErr != nil {
		e.ready = false
		return fmt.Errorf("%w: %w", canon.ErrCameraBusy, idErr)
	}

	if err := e.setup(ctx, state); err != nil {
		e.ready = false
		return err
	}
	e.status("Connected to camera")
	return nil
}

func (e *Engine) setup(ctx context.Context, state byte) error {
	if e.profile.Class() == canon.Class6 {
		if e.bodyID == 0 {
			if _, err := e.readBodyID(ctx); err != nil {
				return err
			}
		}
		if _, err := e.dialogue(ctx, OpPicAbilities, nil); err != nil {
			e.log.WithError(err).Debug("picture abilities failed")
		}
		if _, err := e.Battery(ctx); err != nil {
			return err
		}
		if state == stateWoken {
			return e.drainWakeNotice(ctx)
		}
		return nil
	}
	if e.profile.LocksAtInit() {
		if err := e.profile.LockKeys(ctx, e); err != nil {
			return err
		}
	}
	_, err := e.Battery(ctx)
	return err
}

// handshake performs the control transfers that open a session and
// returns the camera state byte.
func (e *Engine) handshake() (byte, error) {
	path := e.dev.Path()
	state := make([]byte, 1)
	n, err := e.dev.ControlRead(0x0c, 0x55, 0, state)
	if err != nil {
		return 0, fmt.Errorf("initial contact: %w", err)
	}
	e.trace.RecordRX(state[:n], "camera state")
	if n != 1 {
		return 0, fmt.Errorf("initial contact: %w: %d bytes", canon.ErrShortRead, n)
	}
	switch state[0] {
	case stateActive:
		e.log.Debug("camera was already active")
	case stateWoken:
		e.log.Debug("camera was woken up")
	default:
		return 0, fmt.Errorf("%w: initial camera response %q", canon.ErrInvalidResponse, state[0])
	}

	msg := make([]byte, 0x58)
	if n, err = e.dev.ControlRead(0x04, 0x01, 0, msg); err != nil {
		return 0, fmt.Errorf("init step 2: %w", err)
	}
	e.trace.RecordRX(msg[:n], "init block")
	if n != len(msg) {
		return 0, fmt.Errorf("init step 2: %w: %d of %d bytes", canon.ErrShortRead, n, len(msg))
	}
	if unit := le.Uint32(msg[0x4c:]); unit != 0xffffffff && unit >= 0x40 {
		e.unit = int(unit)
	} else {
		e.unit = canon.USBDefaultTransferUnit
	}
	e.log.Debugf("transfer unit 0x%x", e.TransferUnit())

	if state[0] == stateActive {
		ack := make([]byte, 0x50)
		if n, err = e.dev.ControlRead(0x04, 0x04, 0, ack); err != nil {
			return 0, fmt.Errorf("init step 3: %w", err)
		}
		if n != len(ack) {
			return 0, fmt.Errorf("init step 3: %w: %d of %d bytes", canon.ErrShortRead, n, len(ack))
		}
		return state[0], nil
	}

	msg[0] = 0x10
	copy(msg[0x40:], msg[0x48:0x58])
	e.trace.RecordTX(msg[:0x50], "init reply")
	if n, err = e.dev.ControlWrite(0x04, 0x11, 0, msg[:0x50]); err != nil {
		return 0, fmt.Errorf("init step 3: %w", err)
	}
	if n != 0x50 {
		return 0, canon.NewTransportWriteError("init step 3", path)
	}

	buf := make([]byte, 0x40)
	n, err = e.dev.BulkRead(buf)
	if err != nil {
		return 0, fmt.Errorf("init step 4: %w", err)
	}
	e.trace.RecordRX(buf[:n], "init step 4")
	// A slow camera may skip straight to the 54 78 00 00 trailer.
	early := n >= 4 && buf[n-4] == 0x54 && buf[n-3] == 0x78 && buf[n-2] == 0 && buf[n-1] == 0
	if n != 0x40 && !early {
		return 0, fmt.Errorf("init step 4: %w: %d of 64 bytes", canon.ErrShortRead, n)
	}
	if !early && le.Uint32(buf) != 4 {
		e.log.Debugf("init step 4 announced %d trailing bytes, expected 4", le.Uint32(buf))
	}
	if n, err = e.dev.BulkRead(buf[:4]); err != nil || n != 4 {
		e.log.WithError(err).Debugf("init trailer read returned %d bytes", n)
	}
	return state[0], nil
}

// drainWakeNotice collects the 0x10 byte notice a freshly woken EOS 20D
// generation camera leaves on the interrupt pipe.
func (e *Engine) drainWakeNotice(ctx context.Context) error {
	buf := make([]byte, 0x40)
	got := 0
	for i := 0; i < e.maxPolls && got < 0x10; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := e.dev.PollInterrupt(buf, e.pollInterval)
		if err != nil {
			return fmt.Errorf("wake notice: %w", err)
		}
		if n > 0 {
			e.trace.RecordRX(buf[:n], "interrupt")
		}
		got += n
	}
	if got < 0x10 {
		return fmt.Errorf("wake notice: %w: %d of 16 bytes", canon.ErrShortRead, got)
	}
	if got > 0x10 {
		e.log.Debugf("wake notice of %d bytes", got)
	}
	return nil
}

// Abort releases the device under a blocked transfer. Remote control is
// not left; the camera drops it when the device is reopened.
func (e *Engine) Abort() error {
	if err := e.dev.Close(); err != nil && !errors.Is(err, canon.ErrTransportClosed) {
		return fmt.Errorf("abort %s: %w", e.dev.Path(), err)
	}
	return nil
}

// Close leaves remote control if it was entered, then releases the device.
func (e *Engine) Close() error {
	if e.ready && e.remote {
		if err := e.control(context.Background(), SubExit, 0, 0); err != nil {
			e.log.WithError(err).Debug("leaving remote control failed")
		}
		e.remote = false
	}
	e.ready = false
	if err := e.dev.Close(); err != nil && !errors.Is(err, canon.ErrTransportClosed) {
		return fmt.Errorf("close %s: %w", e.dev.Path(), err)
	}
	return nil
}
