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

package canon

import (
	"io"
	"time"
)

// SerialPort is the byte transport used by the serial protocol engine.
//
// Read must return a *TransportError wrapping ErrTransportTimeout when the
// read timeout expires with no data, and ErrTransportClosed once Close has
// been called.
type SerialPort interface {
	io.ReadWriter

	// SetReadTimeout sets the per-read timeout
	SetReadTimeout(timeout time.Duration) error

	// SetBaudRate changes the host side line speed
	SetBaudRate(baud int) error

	// ResetInput discards anything buffered but not yet read
	ResetInput() error

	// CTS reports the clear-to-send line, which is raised while the camera is on
	CTS() (bool, error)

	// Close closes the port; blocked calls fail with ErrTransportClosed
	Close() error

	// Path returns the port name for logs and errors
	Path() string
}

// USBDevice is the transport used by the USB protocol engine. Control
// transfers are vendor requests addressed to the device.
type USBDevice interface {
	// ControlRead performs a device-to-host vendor control transfer
	ControlRead(request uint8, value, index uint16, buf []byte) (int, error)

	// ControlWrite performs a host-to-device vendor control transfer
	ControlWrite(request uint8, value, index uint16, data []byte) (int, error)

	// BulkRead reads from the bulk IN endpoint
	BulkRead(buf []byte) (int, error)

	// PollInterrupt reads one notification from the interrupt endpoint.
	// It returns 0 and a nil error when nothing arrives within timeout.
	PollInterrupt(buf []byte, timeout time.Duration) (int, error)

	// SetTimeout sets the control and bulk transfer timeout
	SetTimeout(timeout time.Duration) error

	// Timeout returns the current transfer timeout
	Timeout() time.Duration

	// ProductID returns the USB product id, used to pick the camera model
	ProductID() uint16

	// Close releases the device
	Close() error

	// Path returns a bus/address string for logs and errors
	Path() string
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportSerial represents an RS-232 link.
	TransportSerial TransportType = "serial"
	// TransportUSB represents a USB connection.
	TransportUSB TransportType = "usb"
	// TransportMock represents a simulated camera for testing
	TransportMock TransportType = "mock"
)
