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

// Package serial drives Canon cameras over an RS-232 link: the wake-up
// handshake, the acknowledged message exchange and the camera operations
// built on it.
package serial

import (
	"context"
	"fmt"
	"strings"
	"time"

	canon "github.com/ZaparooProject/go-canon"
)

// Option configures an Engine.
type Option func(*Engine) error

// WithSpeed sets the line speed negotiated after wake-up.
func WithSpeed(baud int) Option {
	return func(e *Engine) error {
		if _, ok := speedCodes[baud]; !ok {
			return fmt.Errorf("%w: unsupported speed %d", canon.ErrInvalidParameter, baud)
		}
		e.speed = baud
		return nil
	}
}

// WithMaxTries sets how many times a message is sent before the link is
// declared lost.
func WithMaxTries(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			return fmt.Errorf("%w: max tries must be at least 1", canon.ErrInvalidParameter)
		}
		e.maxTries = n
		return nil
	}
}

// WithModel skips model detection from the wake-up identification.
func WithModel(m *canon.Model) Option {
	return func(e *Engine) error {
		if m == nil {
			return fmt.Errorf("%w: nil model", canon.ErrInvalidParameter)
		}
		e.forced = m
		return nil
	}
}

// WithSleep replaces time.Sleep, mainly so tests need not wait.
func WithSleep(fn func(time.Duration)) Option {
	return func(e *Engine) error {
		e.sleep = fn
		return nil
	}
}

// WithStatus receives progress messages such as "Looking for camera ...".
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

// Engine implements canon.Engine over a serial port.
type Engine struct {
	port     canon.SerialPort
	link     *Link
	model    *canon.Model
	forced   *canon.Model
	statusFn canon.StatusFunc
	sleep    func(time.Duration)
	loc      *time.Location
	speed    int
	maxTries int
}

var _ canon.Engine = (*Engine)(nil)

// New returns an engine on port. The camera is not contacted until Init.
func New(port canon.SerialPort, opts ...Option) (*Engine, error) {
	if port == nil {
		return nil, fmt.Errorf("%w: nil port", canon.ErrInvalidParameter)
	}
	e := &Engine{
		port:     port,
		sleep:    time.Sleep,
		loc:      time.Local,
		speed:    canon.SerialDefaultSpeed,
		maxTries: canon.SerialMaxTries,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.link = newLink(port, e.maxTries, e.sleep)
	e.link.speed = e.speed
	return e, nil
}

func (e *Engine) status(msg string) {
	e.link.log.Debug(msg)
	if e.statusFn != nil {
		e.statusFn(msg)
	}
}

// Link exposes the session, mostly for diagnostics.
func (e *Engine) Link() *Link {
	return e.link
}

// Init runs the handshake. A camera that was already initialised only
// gets a ping.
func (e *Engine) Init(ctx context.Context) error {
	if on, err := e.port.CTS(); err == nil && !on {
		e.link.log.Debug("CTS low, camera is probably off")
	}
	h := &handshake{e: e, l: e.link}
	if err := h.run(ctx); err != nil {
		return e.link.trace.WrapError(err)
	}
	return nil
}

// resolveModel picks the model from the wake-up identification.
// Unknown Canon identifications are treated as a PowerShot S10, the
// oldest protocol variant.
func (e *Engine) resolveModel(ident string) error {
	if e.forced != nil {
		e.model = e.forced
	} else if m, err := canon.LookupSerialIdent(ident); err == nil {
		e.model = m
	} else {
		m, lerr := canon.LookupName("PowerShot S10")
		if lerr != nil {
			return err
		}
		e.link.log.WithField("ident", ident).Warn("unknown camera, assuming PowerShot S10")
		e.model = m
	}
	e.status("Detected a " + e.model.Name)
	e.link.slow = e.needsSlowSend()
	return nil
}

// needsSlowSend reports cameras that lose bytes above 57600 baud.
func (e *Engine) needsSlowSend() bool {
	if e.speed <= 57600 {
		return false
	}
	switch e.model.Name {
	case "PowerShot A5", "PowerShot A5 Zoom", "PowerShot A50":
		return true
	}
	return false
}

// Model returns the detected model, or nil before Init.
func (e *Engine) Model() *canon.Model {
	return e.model
}

// Type returns the transport type.
func (*Engine) Type() canon.TransportType {
	return canon.TransportSerial
}

// Close switches the camera off and closes the port.
func (e *Engine) Close() error {
	if e.link.ready {
		if err := e.link.powerOff(); err != nil {
			e.link.log.WithError(err).Debug("power off failed")
		}
	}
	if err := e.port.Close(); err != nil {
		return fmt.Errorf("close %s: %w", e.port.Path(), err)
	}
	return nil
}

// Abort closes the port under a blocked exchange. The camera is left on.
func (e *Engine) Abort() error {
	if err := e.port.Close(); err != nil {
		return fmt.Errorf("abort %s: %w", e.port.Path(), err)
	}
	return nil
}

// LockKeys is a USB remote-capture feature.
func (*Engine) LockKeys(context.Context) error {
	return fmt.Errorf("%w: key lock", canon.ErrNotSupported)
}

// UnlockKeys is a USB remote-capture feature.
func (*Engine) UnlockKeys(context.Context) error {
	return fmt.Errorf("%w: key unlock", canon.ErrNotSupported)
}

// Capture is not available over serial.
func (*Engine) Capture(context.Context, canon.TransferMode) (*canon.CaptureSession, error) {
	return nil, fmt.Errorf("%w: remote capture", canon.ErrNotSupported)
}

// FetchImage is not available over serial.
func (*Engine) FetchImage(
	context.Context, *canon.CaptureSession, canon.ImageKind, canon.ProgressFunc,
) ([]byte, error) {
	return nil, fmt.Errorf("%w: remote capture", canon.ErrNotSupported)
}

// cstring returns the NUL-terminated string at b[off:], at most limit bytes.
func cstring(b []byte, off, limit int) string {
	if off >= len(b) {
		return ""
	}
	s := b[off:min(len(b), off+limit)]
	if i := strings.IndexByte(string(s), 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}
