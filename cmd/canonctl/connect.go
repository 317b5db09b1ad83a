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

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/ZaparooProject/go-canon/detection"
	_ "github.com/ZaparooProject/go-canon/detection/uart"
	_ "github.com/ZaparooProject/go-canon/detection/usb"
	"github.com/ZaparooProject/go-canon/engine/serial"
	usbengine "github.com/ZaparooProject/go-canon/engine/usb"
	"github.com/ZaparooProject/go-canon/transport/libusb"
	"github.com/ZaparooProject/go-canon/transport/uart"
)

// factories builds engines from the command line configuration.
type factories struct {
	cfg    *config
	status canon.StatusFunc
}

func isUSBPath(path string) bool {
	return strings.HasPrefix(strings.ToLower(path), "usb:")
}

func (f *factories) serialOptions() ([]serial.Option, error) {
	opts := []serial.Option{serial.WithStatus(f.status)}
	if f.cfg.speed != 0 {
		opts = append(opts, serial.WithSpeed(f.cfg.speed))
	}
	if f.cfg.model != "" {
		m, err := canon.LookupName(f.cfg.model)
		if err != nil {
			return nil, err
		}
		opts = append(opts, serial.WithModel(m))
	}
	return opts, nil
}

func (f *factories) newSerialEngine(path string) (canon.Engine, error) {
	opts, err := f.serialOptions()
	if err != nil {
		return nil, err
	}
	port, err := uart.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	engine, err := serial.New(port, opts...)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return engine, nil
}

func (f *factories) newUSBEngine(path string) (canon.Engine, error) {
	dev, err := libusb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open USB camera: %w", err)
	}
	engine, err := usbengine.New(dev, usbengine.WithStatus(f.status))
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	return engine, nil
}

// newEngine picks the engine from the path form.
func (f *factories) newEngine(path string) (canon.Engine, error) {
	if isUSBPath(path) {
		return f.newUSBEngine(path)
	}
	return f.newSerialEngine(path)
}

func (f *factories) newEngineFromDevice(device detection.DeviceInfo) (canon.Engine, error) {
	switch device.Transport {
	case detection.TransportUSB:
		return f.newUSBEngine(device.Path)
	case detection.TransportSerial:
		return f.newSerialEngine(device.Path)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", device.Transport)
	}
}

func connect(ctx context.Context, cfg *config, out io.Writer) (*canon.Camera, error) {
	f := &factories{
		cfg:    cfg,
		status: func(msg string) { _, _ = fmt.Fprintln(out, msg) },
	}
	opts := []canon.ConnectOption{
		canon.WithConnectTimeout(cfg.timeout),
		canon.WithCameraOptions(canon.WithStatus(f.status)),
	}
	if cfg.devicePath == "" {
		mode, err := parseMode(cfg.detectMode)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			canon.WithAutoDetection(),
			canon.WithEngineFromDeviceFactory(f.newEngineFromDevice),
			canon.WithDeviceDetector(func(ctx context.Context, o *detection.Options) ([]detection.DeviceInfo, error) {
				o.Mode = mode
				return detection.DetectAll(ctx, o)
			}))
		canon.Debugln("Auto-detecting Canon cameras...")
	} else {
		opts = append(opts, canon.WithEngineFactory(f.newEngine))
		canon.Debugf("Opening %s", cfg.devicePath)
	}

	cam, err := canon.ConnectCamera(ctx, cfg.devicePath, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to camera: %w", err)
	}
	return cam, nil
}
