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

package uart

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ZaparooProject/go-canon/detection"
	"go.bug.st/serial/enumerator"
)

var listPorts = enumerator.GetDetailedPortsList

// getSerialPorts enumerates ports with their USB metadata, falling back to
// a device node scan when the enumerator finds nothing.
func getSerialPorts(ctx context.Context) ([]serialPort, error) {
	details, err := listPorts()
	if err != nil || len(details) == 0 {
		ports, fbErr := getSerialPortsFallback(ctx)
		if fbErr != nil {
			if err != nil {
				return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
			}
			return nil, fbErr
		}
		if len(ports) == 0 {
			return nil, detection.ErrNoDevicesFound
		}
		return ports, nil
	}

	ports := make([]serialPort, 0, len(details))
	for _, d := range details {
		port := serialPort{
			Path: d.Name,
			Name: filepath.Base(d.Name),
		}
		if d.IsUSB {
			port.VIDPID = detection.ParseVIDPID(d.VID + ":" + d.PID)
			port.Product = d.Product
			port.SerialNumber = d.SerialNumber
			port.Manufacturer = usbManufacturer(port.Name)
		}
		ports = append(ports, port)
	}
	return ports, nil
}
