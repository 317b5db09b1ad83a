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
// Package detection finds Canon cameras on serial ports and the USB bus.
// Transport-specific detectors register themselves from their own packages.
package detection

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ZaparooProject/go-canon/internal/syncutil"
)

// Mode sets how far detection may go in talking to a device.
type Mode int

const (
	// Passive only reads port and descriptor metadata
	Passive Mode = iota
	// Safe opens the device without sending protocol traffic (CTS check)
	Safe
	// Full wakes the camera and reads its identification
	Full
)

func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Safe:
		return "safe"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Confidence is how sure a detector is that a device is a Canon camera.
type Confidence int

const (
	// Low: a plausible port, such as a built-in RS-232 port
	Low Confidence = iota
	// Medium: a known USB-serial bridge, or a serial port with CTS raised
	Medium
	// High: a Canon USB product in the model table, or an identified camera
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// Transport names used in DeviceInfo.Transport and Options.Transports.
const (
	TransportSerial = "serial"
	TransportUSB    = "usb"
)

// DeviceInfo describes one candidate camera.
type DeviceInfo struct {
	// Metadata such as "vidpid", "model" and "serial"
	Metadata map[string]string
	// Transport is TransportSerial or TransportUSB
	Transport string
	// Path is a port name ("/dev/ttyS0", "COM1") or "usb:BUS,ADDR"
	Path string
	// Name is the model name when known, else a port description
	Name       string
	Confidence Confidence
}

func (d DeviceInfo) String() string {
	what := "device"
	if d.Name != "" {
		what = d.Name
	}
	return fmt.Sprintf("%s %s at %s (confidence: %s)", d.Transport, what, d.Path, d.Confidence)
}

// Options controls a detection run.
type Options struct {
	// Blocklist holds VID:PID pairs that are never probed
	Blocklist []string
	// IgnorePaths holds ports or "usb:BUS,ADDR" paths to skip
	IgnorePaths []string
	// Transports limits the run to these transports; empty means all
	Transports []string
	CacheTTL   time.Duration
	// Timeout bounds the whole run; zero leaves only the caller's context
	Timeout     time.Duration
	Mode        Mode
	EnableCache bool
}

// DefaultOptions returns Safe detection with a short cache.
func DefaultOptions() Options {
	return Options{
		Mode:        Safe,
		Timeout:     5 * time.Second,
		Blocklist:   DefaultBlocklist(),
		EnableCache: true,
		CacheTTL:    30 * time.Second,
	}
}

// Detector finds candidate cameras on one transport.
type Detector interface {
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
	Transport() string
}

var (
	ErrNoDevicesFound      = errors.New("no Canon cameras found")
	ErrDetectionTimeout    = errors.New("detection timeout")
	ErrUnsupportedPlatform = errors.New("platform not supported")
	// ErrNoDetectors means no registered detector serves the requested transports
	ErrNoDetectors = errors.New("no detectors available for specified transports")
)

var (
	registry   []Detector
	registryMu syncutil.RWMutex
)

// RegisterDetector makes d available to DetectAll. Transport packages call
// it from init.
func RegisterDetector(d Detector) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, d)
}

func getDetectors(transports []string) []Detector {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var out []Detector
	for _, d := range registry {
		if len(transports) == 0 || slices.Contains(transports, d.Transport()) {
			out = append(out, d)
		}
	}
	return out
}

type detectionResult struct {
	err     error
	devices []DeviceInfo
}

// DetectAll runs the selected detectors concurrently and returns their
// devices in preference order (see Sort). Devices are returned even when
// some detectors fail; the errors are joined only when nothing was found.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	detectors := getDetectors(opts.Transports)
	if len(detectors) == 0 {
		return nil, ErrNoDetectors
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	results := make([]detectionResult, len(detectors))
	var wg sync.WaitGroup
	for i, d := range detectors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runSingleDetector(ctx, d, opts)
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	// Detectors that return on cancellation finish together with ctx.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectionTimeout, err)
	}
	return mergeResults(results)
}

func runSingleDetector(ctx context.Context, detector Detector, opts *Options) detectionResult {
	transport := detector.Transport()
	if opts.EnableCache {
		if cached, ok := getCached(transport, opts.Mode, opts.CacheTTL); ok {
			// Options may have changed since the entry was stored.
			return detectionResult{devices: filterDevices(cached, opts)}
		}
	}

	devices, err := detector.Detect(ctx, opts)
	if err != nil && !errors.Is(err, ErrNoDevicesFound) {
		return detectionResult{err: fmt.Errorf("%s detection: %w", transport, err)}
	}

	switch {
	case !opts.EnableCache:
	case len(devices) > 0:
		setCached(transport, opts.Mode, devices)
	default:
		// An unplugged camera must not linger until the TTL runs out.
		clearCacheForTransport(transport)
	}
	return detectionResult{devices: devices}
}

func mergeResults(results []detectionResult) ([]DeviceInfo, error) {
	var devices []DeviceInfo
	var errs []error
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		devices = append(devices, r.devices...)
	}

	switch {
	case len(devices) > 0:
		Sort(devices)
		return devices, nil
	case len(errs) > 0:
		return nil, errors.Join(errs...)
	default:
		return nil, ErrNoDevicesFound
	}
}

// comparePreference orders a before b when a is the better connection:
// higher confidence, then USB over serial.
func comparePreference(a, b DeviceInfo) int {
	if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
		return c
	}
	aUSB, bUSB := a.Transport == TransportUSB, b.Transport == TransportUSB
	switch {
	case aUSB && !bUSB:
		return -1
	case bUSB && !aUSB:
		return 1
	}
	return 0
}

// Sort orders devices best first, keeping the reported order among
// equally preferred devices.
func Sort(devices []DeviceInfo) {
	slices.SortStableFunc(devices, comparePreference)
}

// Best picks the device to connect to: highest confidence first, USB
// over serial on a tie, then the first reported.
func Best(devices []DeviceInfo) (DeviceInfo, bool) {
	if len(devices) == 0 {
		return DeviceInfo{}, false
	}
	best := devices[0]
	for _, d := range devices[1:] {
		if comparePreference(d, best) < 0 {
			best = d
		}
	}
	return best, true
}

// filterDevices drops devices matched by IgnorePaths or Blocklist.
func filterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	if len(opts.IgnorePaths) == 0 && len(opts.Blocklist) == 0 {
		return devices
	}
	return slices.DeleteFunc(slices.Clone(devices), func(d DeviceInfo) bool {
		return IsPathIgnored(d.Path, opts.IgnorePaths) || IsBlocked(d.Metadata["vidpid"], opts.Blocklist)
	})
}

// ClearDetectionCache drops every cached result.
func ClearDetectionCache() {
	clearCache()
}

// ClearDetectionCacheForTransport drops cached results for one transport.
func ClearDetectionCacheForTransport(transport string) {
	clearCacheForTransport(transport)
}
