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

// Package uart opens host serial ports for the serial protocol engine.
package uart

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/ZaparooProject/go-canon/internal/syncutil"
	"go.bug.st/serial"
)

// Port implements canon.SerialPort on a host serial port.
type Port struct {
	port    serial.Port
	name    string
	mu      syncutil.Mutex
	baud    int
	timeout time.Duration
	closed  bool
}

var _ canon.SerialPort = (*Port)(nil)

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// minReadTimeout is the shortest read timeout the platform driver honours.
// Shorter timeouts on Windows return before USB-serial bridges have
// delivered anything.
func minReadTimeout() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 0
}

// windowsPostWriteDelay gives Windows drivers time to flush a write
func windowsPostWriteDelay() {
	if isWindows() {
		time.Sleep(15 * time.Millisecond)
	}
}

func mode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// New opens name at 9600 8N1, the speed every camera starts at.
func New(name string) (*Port, error) {
	p, err := serial.Open(name, mode(canon.SerialDefaultSpeed))
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	port := Wrap(p, name)
	if err := port.SetReadTimeout(canon.SerialWakeTimeout); err != nil {
		_ = p.Close()
		return nil, err
	}
	return port, nil
}

// Wrap adapts an already open port. The port is assumed to run at 9600 baud.
func Wrap(p serial.Port, name string) *Port {
	return &Port{
		port:    p,
		name:    name,
		baud:    canon.SerialDefaultSpeed,
		timeout: canon.SerialWakeTimeout,
	}
}

func (p *Port) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// convert maps driver errors onto the transport error model.
func (p *Port) convert(op string, err error) error {
	var pe *serial.PortError
	if p.isClosed() || (errors.As(err, &pe) && pe.Code() == serial.PortClosed) {
		return canon.NewTransportClosedError(op, p.name)
	}
	return canon.NewTransportError(op, p.name, fmt.Errorf("%w: %w", canon.ErrTransportRead, err),
		canon.ErrorTypeTransient)
}

// Read reads whatever the camera has sent. A read that times out with
// nothing received returns a timeout error rather than 0, nil.
func (p *Port) Read(buf []byte) (int, error) {
	if p.isClosed() {
		return 0, canon.NewTransportClosedError("read", p.name)
	}
	const maxRetries = 3
	for attempt := 0; ; attempt++ {
		n, err := p.port.Read(buf)
		switch {
		case err != nil && isInterruptedSystemCall(err) && attempt < maxRetries-1:
			continue
		case err != nil:
			return n, p.convert("read", err)
		case n == 0 && len(buf) > 0:
			if p.isClosed() {
				return 0, canon.NewTransportClosedError("read", p.name)
			}
			return 0, canon.NewTimeoutError("read", p.name)
		}
		return n, nil
	}
}

// Write sends data to the camera.
func (p *Port) Write(data []byte) (int, error) {
	if p.isClosed() {
		return 0, canon.NewTransportClosedError("write", p.name)
	}
	n, err := p.port.Write(data)
	if err != nil {
		if errors.Is(p.convert("write", err), canon.ErrTransportClosed) {
			return n, canon.NewTransportClosedError("write", p.name)
		}
		return n, canon.NewTransportError("write", p.name, fmt.Errorf("%w: %w", canon.ErrTransportWrite, err),
			canon.ErrorTypeTransient)
	}
	if n != len(data) {
		return n, canon.NewTransportWriteError("write", p.name)
	}
	if isWindows() {
		windowsPostWriteDelay()
		if err := p.drainWithRetry("write"); err != nil {
			return n, err
		}
	}
	return n, nil
}

// SetReadTimeout sets the per-read timeout.
func (p *Port) SetReadTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	timeout = max(timeout, minReadTimeout())
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("serial set timeout failed: %w", err)
	}
	p.timeout = timeout
	return nil
}

// SetBaudRate switches the host side of the line.
func (p *Port) SetBaudRate(baud int) error {
	if baud <= 0 {
		return fmt.Errorf("%w: line speed %d", canon.ErrInvalidParameter, baud)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.port.SetMode(mode(baud)); err != nil {
		return fmt.Errorf("serial set speed %d failed: %w", baud, err)
	}
	p.baud = baud
	return nil
}

// BaudRate returns the current host line speed.
func (p *Port) BaudRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baud
}

// ResetInput discards unread input.
func (p *Port) ResetInput() error {
	if err := p.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("serial input reset failed: %w", err)
	}
	return nil
}

// CTS reports the clear-to-send line. Cameras raise it while powered.
func (p *Port) CTS() (bool, error) {
	bits, err := p.port.GetModemStatusBits()
	if err != nil {
		return false, fmt.Errorf("serial modem status failed: %w", err)
	}
	return bits.CTS, nil
}

// Close closes the port. Reads blocked in the driver return
// ErrTransportClosed.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	if err := p.port.Close(); err != nil {
		return fmt.Errorf("serial close failed: %w", err)
	}
	return nil
}

// Path returns the port name.
func (p *Port) Path() string {
	return p.name
}

func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

func (p *Port) drainWithRetry(operation string) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := p.port.Drain()
		if err == nil {
			return nil
		}
		if isInterruptedSystemCall(err) && attempt < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<attempt))
			continue
		}
		return fmt.Errorf("serial %s drain failed: %w", operation, err)
	}
	return fmt.Errorf("serial %s drain failed after %d retries", operation, maxRetries)
}
