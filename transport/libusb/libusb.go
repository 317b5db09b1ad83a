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

// Package libusb opens Canon cameras through libusb for the USB protocol
// engine.
package libusb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/ZaparooProject/go-canon/internal/syncutil"
	"github.com/google/gousb"
	pkgerrors "github.com/pkg/errors"
)

// VendorCanon is Canon's USB vendor id.
const VendorCanon gousb.ID = 0x04a9

// Vendor requests addressed to the device.
const (
	requestIn  = gousb.ControlIn | gousb.ControlVendor | gousb.ControlDevice
	requestOut = gousb.ControlOut | gousb.ControlVendor | gousb.ControlDevice
)

// Device implements canon.USBDevice on a libusb handle.
type Device struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface
	bulkIn *gousb.InEndpoint
	intrIn *gousb.InEndpoint
	path   string

	mu      syncutil.Mutex
	timeout time.Duration
	pid     uint16
	closed  bool
}

var _ canon.USBDevice = (*Device)(nil)

// Path formats a bus and address the way detection reports them.
func Path(bus, addr int) string {
	return fmt.Sprintf("usb:%03d,%03d", bus, addr)
}

// ParsePath splits a "usb:BUS,ADDR" path. An empty path or "usb:" selects
// the first camera found.
func ParsePath(path string) (bus, addr int, err error) {
	rest, ok := strings.CutPrefix(path, "usb:")
	if !ok && path != "" {
		return 0, 0, fmt.Errorf("%w: USB path %q", canon.ErrInvalidParameter, path)
	}
	if rest == "" {
		return 0, 0, nil
	}
	b, a, ok := strings.Cut(rest, ",")
	if !ok {
		return 0, 0, fmt.Errorf("%w: USB path %q", canon.ErrInvalidParameter, path)
	}
	if bus, err = strconv.Atoi(b); err != nil {
		return 0, 0, fmt.Errorf("%w: USB bus in %q", canon.ErrInvalidParameter, path)
	}
	if addr, err = strconv.Atoi(a); err != nil {
		return 0, 0, fmt.Errorf("%w: USB address in %q", canon.ErrInvalidParameter, path)
	}
	return bus, addr, nil
}

// Supported reports whether desc is a Canon camera in the model table.
func Supported(desc *gousb.DeviceDesc) bool {
	if desc.Vendor != VendorCanon {
		return false
	}
	_, err := canon.LookupUSB(uint16(desc.Product))
	return err == nil
}

// Open claims the camera at path, or the first supported camera when path
// is empty.
func Open(path string) (*Device, error) {
	bus, addr, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if bus != 0 {
			return desc.Bus == bus && desc.Address == addr
		}
		return Supported(desc)
	})
	if len(devs) == 0 {
		_ = ctx.Close()
		if err != nil {
			return nil, pkgerrors.Wrap(err, "usb enumeration")
		}
		return nil, fmt.Errorf("%w: no camera at %q", canon.ErrCameraNotFound, path)
	}
	// Keep the first match.
	for _, extra := range devs[1:] {
		_ = extra.Close()
	}
	d, err := claim(ctx, devs[0])
	if err != nil {
		_ = devs[0].Close()
		_ = ctx.Close()
		return nil, err
	}
	return d, nil
}

func claim(ctx *gousb.Context, dev *gousb.Device) (*Device, error) {
	desc := dev.Desc
	path := Path(desc.Bus, desc.Address)
	if err := dev.SetAutoDetach(true); err != nil {
		canon.Debugf("%s: auto detach unavailable: %v", path, err)
	}
	cfgNum, err := dev.ActiveConfigNum()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "%s: active configuration", path)
	}
	cfg, err := dev.Config(cfgNum)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "%s: configuration %d", path, cfgNum)
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		_ = cfg.Close()
		return nil, pkgerrors.Wrapf(err, "%s: claim interface", path)
	}

	d := &Device{
		ctx:     ctx,
		dev:     dev,
		cfg:     cfg,
		intf:    intf,
		path:    path,
		pid:     uint16(desc.Product),
		timeout: canon.USBDefaultTimeout,
	}
	for _, ep := range intf.Setting.Endpoints {
		if ep.Direction != gousb.EndpointDirectionIn {
			continue
		}
		var in **gousb.InEndpoint
		switch ep.TransferType {
		case gousb.TransferTypeBulk:
			in = &d.bulkIn
		case gousb.TransferTypeInterrupt:
			in = &d.intrIn
		default:
			continue
		}
		if *in != nil {
			continue
		}
		if *in, err = intf.InEndpoint(ep.Number); err != nil {
			d.release()
			return nil, pkgerrors.Wrapf(err, "%s: endpoint %s", path, ep)
		}
	}
	if d.bulkIn == nil || d.intrIn == nil {
		d.release()
		return nil, fmt.Errorf("%s: %w: missing bulk or interrupt endpoint", path, canon.ErrUnsupportedModel)
	}
	dev.ControlTimeout = d.timeout
	return d, nil
}

// fail converts a libusb failure into a transport error. A vanished device
// is permanent.
func (d *Device) fail(op string, sentinel, err error) error {
	wrapped := pkgerrors.Wrapf(sentinel, "%v", err)
	switch {
	case d.isClosed():
		return canon.NewTransportClosedError(op, d.path)
	case errors.Is(err, gousb.ErrorNoDevice), errors.Is(err, gousb.TransferNoDevice):
		return canon.NewTransportError(op, d.path, pkgerrors.Wrap(canon.ErrLinkLost, err.Error()),
			canon.ErrorTypePermanent)
	case isTimeout(err):
		return canon.NewTimeoutError(op, d.path)
	}
	return canon.NewTransportError(op, d.path, wrapped, canon.ErrorTypeTransient)
}

func isTimeout(err error) bool {
	return errors.Is(err, gousb.ErrorTimeout) ||
		errors.Is(err, gousb.TransferTimedOut) ||
		errors.Is(err, gousb.TransferCancelled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// ControlRead performs a vendor IN request.
func (d *Device) ControlRead(request uint8, value, index uint16, buf []byte) (int, error) {
	if d.isClosed() {
		return 0, canon.NewTransportClosedError("control read", d.path)
	}
	n, err := d.dev.Control(requestIn, request, value, index, buf)
	if err != nil {
		return n, d.fail("control read", canon.ErrTransportRead, err)
	}
	return n, nil
}

// ControlWrite performs a vendor OUT request.
func (d *Device) ControlWrite(request uint8, value, index uint16, data []byte) (int, error) {
	if d.isClosed() {
		return 0, canon.NewTransportClosedError("control write", d.path)
	}
	n, err := d.dev.Control(requestOut, request, value, index, data)
	if err != nil {
		return n, d.fail("control write", canon.ErrTransportWrite, err)
	}
	return n, nil
}

// BulkRead reads from the bulk IN endpoint within the transfer timeout.
func (d *Device) BulkRead(buf []byte) (int, error) {
	if d.isClosed() {
		return 0, canon.NewTransportClosedError("bulk read", d.path)
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.Timeout())
	defer cancel()
	n, err := d.bulkIn.ReadContext(ctx, buf)
	if err != nil {
		return n, d.fail("bulk read", canon.ErrTransportRead, err)
	}
	return n, nil
}

// PollInterrupt waits up to timeout for one interrupt notification.
func (d *Device) PollInterrupt(buf []byte, timeout time.Duration) (int, error) {
	if d.isClosed() {
		return 0, canon.NewTransportClosedError("interrupt read", d.path)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := d.intrIn.ReadContext(ctx, buf)
	if err != nil {
		if isTimeout(err) && !d.isClosed() {
			return 0, nil
		}
		return n, d.fail("interrupt read", canon.ErrTransportRead, err)
	}
	return n, nil
}

// SetTimeout sets the control and bulk transfer timeout.
func (d *Device) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: timeout %s", canon.ErrInvalidParameter, timeout)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeout = timeout
	d.dev.ControlTimeout = timeout
	return nil
}

// Timeout returns the transfer timeout.
func (d *Device) Timeout() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timeout
}

// ProductID returns the USB product id.
func (d *Device) ProductID() uint16 {
	return d.pid
}

// Path returns the bus and address as "usb:BUS,ADDR".
func (d *Device) Path() string {
	return d.path
}

func (d *Device) release() {
	if d.intf != nil {
		d.intf.Close()
	}
	if d.cfg != nil {
		_ = d.cfg.Close()
	}
}

// Close releases the interface and the device.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.release()
	var errs []error
	if err := d.dev.Close(); err != nil {
		errs = append(errs, pkgerrors.Wrapf(err, "%s: close device", d.path))
	}
	if err := d.ctx.Close(); err != nil {
		errs = append(errs, pkgerrors.Wrap(err, "close libusb context"))
	}
	return errors.Join(errs...)
}
