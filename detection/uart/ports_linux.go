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

//go:build linux

package uart

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZaparooProject/go-canon/detection"
)

// sysfsLookup walks from /sys/class/tty/<name>/device towards the root
// and returns the first non-empty result of read on a visited directory.
func sysfsLookup(name string, read func(dir string) string) string {
	resolved, err := filepath.EvalSymlinks(filepath.Join("/sys/class/tty", name, "device"))
	if err != nil || !strings.HasPrefix(resolved, "/sys/") {
		return ""
	}
	for dir := resolved; dir != "/sys" && dir != "/"; dir = filepath.Dir(dir) {
		if v := read(dir); v != "" {
			return v
		}
	}
	return ""
}

func usbManufacturer(name string) string {
	return sysfsLookup(name, func(dir string) string {
		// #nosec G304 -- path stays under /sys/
		b, err := os.ReadFile(filepath.Join(dir, "manufacturer"))
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	})
}

// usbVIDPID reads the PRODUCT line of the USB interface uevent.
func usbVIDPID(name string) string {
	return sysfsLookup(name, func(dir string) string {
		// #nosec G304 -- path stays under /sys/
		b, err := os.ReadFile(filepath.Join(dir, "uevent"))
		if err != nil {
			return ""
		}
		for line := range strings.Lines(string(b)) {
			if strings.HasPrefix(line, "PRODUCT=") {
				return detection.ParseVIDPID(strings.TrimSpace(line))
			}
		}
		return ""
	})
}

// getSerialPortsFallback lists device nodes, taking USB ids and the
// manufacturer from sysfs where the node sits behind a USB bridge.
func getSerialPortsFallback(_ context.Context) ([]serialPort, error) {
	var ports []serialPort
	for _, pattern := range []string{"/dev/ttyS*", "/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyAMA*"} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, path := range matches {
			if _, err := os.Stat(path); err != nil {
				continue
			}
			port := serialPort{Path: path, Name: filepath.Base(path)}
			if port.VIDPID = usbVIDPID(port.Name); port.VIDPID != "" {
				port.Manufacturer = usbManufacturer(port.Name)
			}
			ports = append(ports, port)
		}
	}
	return ports, nil
}
