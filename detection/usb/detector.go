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

// Package usb finds Canon cameras on the USB bus by vendor and product id.
package usb

import (
	"context"
	"fmt"
	"time"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/ZaparooProject/go-canon/detection"
	usbengine "github.com/ZaparooProject/go-canon/engine/usb"
	"github.com/ZaparooProject/go-canon/transport/libusb"
	"github.com/google/gousb"
)

const identifyTimeout = 10 * time.Second

type detector struct{}

// New creates a USB detector.
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return detection.TransportUSB
}

// Detect lists Canon devices. Descriptors alone identify the model, so
// only Full mode opens the camera to read its name and owner.
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	descs, err := listDescs()
	if err != nil {
		return nil, err
	}

	var devices []detection.DeviceInfo
	for _, desc := range descs {
		if desc.Vendor != libusb.VendorCanon {
			continue
		}
		device, ok := describe(desc)
		if !ok && opts.Mode == detection.Passive {
			continue
		}
		if detection.IsBlocked(device.Metadata["vidpid"], opts.Blocklist) ||
			detection.IsPathIgnored(device.Path, opts.IgnorePaths) {
			continue
		}
		if ok && opts.Mode == detection.Full {
			identify(ctx, &device)
		}
		devices = append(devices, device)
	}
	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// describe builds the device entry from a descriptor. Canon products
// outside the model table (printers, scanners, PTP-only bodies) get Low
// confidence and report false.
func describe(desc *gousb.DeviceDesc) (detection.DeviceInfo, bool) {
	device := detection.DeviceInfo{
		Transport:  detection.TransportUSB,
		Path:       libusb.Path(desc.Bus, desc.Address),
		Confidence: detection.Low,
		Metadata: map[string]string{
			"vidpid": detection.VIDPID(uint16(desc.Vendor), uint16(desc.Product)),
		},
	}
	model, err := canon.LookupUSB(uint16(desc.Product))
	if err != nil {
		return device, false
	}
	device.Name = model.Name
	device.Confidence = detection.High
	device.Metadata["model"] = model.Name
	device.Metadata["class"] = model.Class.String()
	device.Metadata["capture"] = model.Capture.String()
	return device, true
}

var identifyFn = identifyCamera

func identify(ctx context.Context, device *detection.DeviceInfo) {
	ctx, cancel := context.WithTimeout(ctx, identifyTimeout)
	defer cancel()
	id, err := identifyFn(ctx, device.Path)
	if err != nil {
		canon.Debugf("%s: identify failed: %v", device.Path, err)
		device.Metadata["identify"] = "failed"
		return
	}
	if id.CameraName != "" {
		device.Name = id.CameraName
	}
	if id.Owner != "" {
		device.Metadata["owner"] = id.Owner
	}
	device.Metadata["firmware"] = id.FirmwareString()
}

func identifyCamera(ctx context.Context, path string) (*canon.Identity, error) {
	dev, err := libusb.Open(path)
	if err != nil {
		return nil, err
	}
	engine, err := usbengine.New(dev)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	defer func() { _ = engine.Close() }()
	if err := engine.Init(ctx); err != nil {
		return nil, err
	}
	return engine.Identify(ctx)
}

var listDescs = enumerate

// enumerate collects descriptors without opening any device.
func enumerate() (descs []*gousb.DeviceDesc, err error) {
	// NewContext panics when libusb cannot initialise.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: libusb: %v", detection.ErrUnsupportedPlatform, r)
		}
	}()
	ctx := gousb.NewContext()
	defer func() { _ = ctx.Close() }()

	_, err = ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor == libusb.VendorCanon {
			descs = append(descs, desc)
		}
		return false
	})
	if err != nil && len(descs) == 0 {
		return nil, fmt.Errorf("usb enumeration: %w", err)
	}
	return descs, nil
}
