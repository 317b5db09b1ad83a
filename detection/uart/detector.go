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

// Package uart finds Canon cameras on RS-232 ports and USB-serial cables.
package uart

import (
	"context"
	"strings"
	"time"

	"github.com/ZaparooProject/go-canon/detection"
	"github.com/ZaparooProject/go-canon/engine/serial"
	"github.com/ZaparooProject/go-canon/transport/uart"
)

const (
	safeProbeTimeout = 2 * time.Second
	// Waking a camera at 9600 baud takes several frames.
	fullProbeTimeout = 15 * time.Second
)

type detector struct{}

// New creates a serial port detector.
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return detection.TransportSerial
}

// Detect lists serial ports that may have a camera attached.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := getSerialPorts(ctx)
	if err != nil {
		return nil, err
	}

	var devices []detection.DeviceInfo
	for _, i := range filterPorts(ports, opts) {
		select {
		case <-ctx.Done():
			return devices, nil
		default:
		}
		if device, ok := d.processPort(ctx, &ports[i], opts.Mode); ok {
			devices = append(devices, device)
		}
	}
	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// filterPorts returns the indexes of ports that survive the block and
// ignore lists.
func filterPorts(ports []serialPort, opts *detection.Options) []int {
	kept := make([]int, 0, len(ports))
	for i := range ports {
		if ports[i].VIDPID != "" && detection.IsBlocked(ports[i].VIDPID, opts.Blocklist) {
			continue
		}
		if detection.IsPathIgnored(ports[i].Path, opts.IgnorePaths) {
			continue
		}
		kept = append(kept, i)
	}
	return kept
}

func (*detector) processPort(ctx context.Context, port *serialPort,
	mode detection.Mode,
) (detection.DeviceInfo, bool) {
	confidence, likely := classifyPort(port)
	if mode == detection.Passive && !likely {
		return detection.DeviceInfo{}, false
	}
	device := createDeviceInfo(port, confidence)
	if mode == detection.Passive {
		return device, true
	}

	timeout := safeProbeTimeout
	if mode == detection.Full {
		timeout = fullProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := probeDeviceFn(probeCtx, port.Path, mode)
	switch {
	case res.identified:
		device.Confidence = detection.High
		device.Name = res.name
		device.Metadata["model"] = res.name
	case res.cts:
		device.Confidence = raise(device.Confidence)
		device.Metadata["cts"] = "on"
	case !likely:
		return detection.DeviceInfo{}, false
	}
	return device, true
}

func raise(c detection.Confidence) detection.Confidence {
	if c < detection.High {
		return c + 1
	}
	return c
}

func createDeviceInfo(port *serialPort, confidence detection.Confidence) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  detection.TransportSerial,
		Path:       port.Path,
		Confidence: confidence,
		Metadata:   make(map[string]string),
	}
	if port.VIDPID != "" {
		device.Metadata["vidpid"] = port.VIDPID
	}
	if port.Manufacturer != "" {
		device.Metadata["manufacturer"] = port.Manufacturer
	}
	if port.Product != "" {
		device.Metadata["product"] = port.Product
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
	return device
}

type serialPort struct {
	Path         string
	Name         string
	VIDPID       string
	Manufacturer string
	Product      string
	SerialNumber string
}

// knownBridges are USB-serial chips found in camera serial cables.
var knownBridges = []string{
	"067B:2303", // Prolific PL2303
	"0403:6001", // FTDI FT232R
	"0403:6015", // FTDI FT230X
	"10C4:EA60", // Silicon Labs CP210x
	"1A86:7523", // QinHeng CH340
}

// classifyPort gives the confidence a port earns from metadata alone. A
// port is likely when it is a known bridge or a built-in RS-232 port.
func classifyPort(port *serialPort) (detection.Confidence, bool) {
	upper := strings.ToUpper(port.VIDPID)
	for _, known := range knownBridges {
		if upper == known {
			return detection.Medium, true
		}
	}
	lower := strings.ToLower(port.Product + " " + port.Manufacturer)
	for _, keyword := range []string{"rs232", "rs-232", "usb-serial", "usb serial", "uart"} {
		if strings.Contains(lower, keyword) {
			return detection.Medium, true
		}
	}
	if port.VIDPID == "" && isBuiltinPort(port.Path) {
		return detection.Low, true
	}
	return detection.Low, false
}

func isBuiltinPort(path string) bool {
	lower := strings.ToLower(path)
	for _, prefix := range []string{"/dev/ttys", "/dev/ttyama", "/dev/cu.serial", "com"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

type probeResult struct {
	name       string
	identified bool
	cts        bool
}

var probeDeviceFn = probeDevice

// probeDevice opens the port once. Safe mode only samples CTS, which a
// powered camera raises; Full mode wakes the camera and identifies it.
// Failures are not retried: most probed ports have no camera behind them.
func probeDevice(ctx context.Context, path string, mode detection.Mode) probeResult {
	port, err := uart.New(path)
	if err != nil {
		return probeResult{}
	}

	cts, err := port.CTS()
	res := probeResult{cts: err == nil && cts}
	if mode != detection.Full {
		_ = port.Close()
		return res
	}

	engine, err := serial.New(port, serial.WithMaxTries(2))
	if err != nil {
		_ = port.Close()
		return res
	}
	defer func() { _ = engine.Close() }()
	if err := engine.Init(ctx); err != nil {
		return res
	}
	id, err := engine.Identify(ctx)
	if err != nil {
		return res
	}
	res.identified = true
	res.name = id.CameraName
	if id.Model != nil && res.name == "" {
		res.name = id.Model.Name
	}
	return res
}
