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

//nolint:paralleltest // tests share the detector registry and the cache
package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceInfoString(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		device   DeviceInfo
	}{
		{
			name:     "serial port without a name",
			device:   DeviceInfo{Transport: TransportSerial, Path: "/dev/ttyS0", Confidence: Low},
			expected: "serial device at /dev/ttyS0 (confidence: low)",
		},
		{
			name:     "serial bridge",
			device:   DeviceInfo{Transport: TransportSerial, Path: "/dev/ttyUSB0", Confidence: Medium},
			expected: "serial device at /dev/ttyUSB0 (confidence: medium)",
		},
		{
			name: "named USB camera",
			device: DeviceInfo{
				Transport: TransportUSB, Path: "usb:001,004", Name: "PowerShot G2", Confidence: High,
			},
			expected: "usb PowerShot G2 at usb:001,004 (confidence: high)",
		},
		{
			name:     "unknown confidence",
			device:   DeviceInfo{Transport: TransportSerial, Path: "COM3", Confidence: Confidence(99)},
			expected: "serial device at COM3 (confidence: unknown)",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.device.String())
		})
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, Safe, opts.Mode)
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.True(t, opts.EnableCache)
	assert.Equal(t, 30*time.Second, opts.CacheTTL)
	assert.Contains(t, opts.Blocklist, "2341:0043")
}

func TestBest(t *testing.T) {
	serialLow := DeviceInfo{Transport: TransportSerial, Path: "/dev/ttyS0", Confidence: Low}
	serialMedium := DeviceInfo{Transport: TransportSerial, Path: "/dev/ttyUSB0", Confidence: Medium}
	serialHigh := DeviceInfo{Transport: TransportSerial, Path: "/dev/ttyS1", Confidence: High}
	usbHigh := DeviceInfo{Transport: TransportUSB, Path: "usb:001,004", Confidence: High}

	tests := []struct {
		name    string
		devices []DeviceInfo
		want    DeviceInfo
		wantOK  bool
	}{
		{name: "none"},
		{name: "single", devices: []DeviceInfo{serialLow}, want: serialLow, wantOK: true},
		{
			name:    "highest confidence wins",
			devices: []DeviceInfo{serialLow, serialMedium},
			want:    serialMedium, wantOK: true,
		},
		{
			name:    "usb wins a tie",
			devices: []DeviceInfo{serialHigh, usbHigh},
			want:    usbHigh, wantOK: true,
		},
		{
			name:    "first of equal serial ports",
			devices: []DeviceInfo{serialHigh, {Transport: TransportSerial, Path: "/dev/ttyS2", Confidence: High}},
			want:    serialHigh, wantOK: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Best(tc.devices)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCacheGetSet(t *testing.T) {
	clearCache()
	defer clearCache()

	cached, found := getCached(TransportSerial, Safe, time.Minute)
	assert.False(t, found)
	assert.Nil(t, cached)

	devices := []DeviceInfo{{Transport: TransportSerial, Path: "/dev/ttyS0", Confidence: Medium}}
	setCached(TransportSerial, Safe, devices)

	// Mutating either side must not reach the cache.
	devices[0].Path = "/dev/ttyS9"
	cached, found = getCached(TransportSerial, Safe, time.Minute)
	require.True(t, found)
	assert.Equal(t, "/dev/ttyS0", cached[0].Path)
	cached[0].Path = "/dev/ttyS8"
	cached, _ = getCached(TransportSerial, Safe, time.Minute)
	assert.Equal(t, "/dev/ttyS0", cached[0].Path)

	time.Sleep(time.Millisecond)
	_, found = getCached(TransportSerial, Safe, time.Nanosecond)
	assert.False(t, found)
}

func TestCacheSeparatesModes(t *testing.T) {
	clearCache()
	defer clearCache()

	setCached(TransportUSB, Passive, []DeviceInfo{{Transport: TransportUSB, Name: "usb device"}})
	_, found := getCached(TransportUSB, Full, time.Minute)
	assert.False(t, found)

	cached, found := getCached(TransportUSB, Passive, time.Minute)
	require.True(t, found)
	assert.Equal(t, "usb device", cached[0].Name)

	setCached(TransportUSB, Full, []DeviceInfo{{Transport: TransportUSB}})
	clearCacheForTransport(TransportUSB)
	_, found = getCached(TransportUSB, Passive, time.Minute)
	assert.False(t, found)
	_, found = getCached(TransportUSB, Full, time.Minute)
	assert.False(t, found)
}

func TestCacheCopiesMetadata(t *testing.T) {
	clearCache()
	defer clearCache()

	meta := map[string]string{"model": "PowerShot G2"}
	setCached(TransportUSB, Safe, []DeviceInfo{{Transport: TransportUSB, Metadata: meta}})
	meta["model"] = "changed"

	cached, found := getCached(TransportUSB, Safe, time.Minute)
	require.True(t, found)
	assert.Equal(t, "PowerShot G2", cached[0].Metadata["model"])

	cached[0].Metadata["model"] = "changed again"
	cached, _ = getCached(TransportUSB, Safe, time.Minute)
	assert.Equal(t, "PowerShot G2", cached[0].Metadata["model"])
}

func TestCacheClear(t *testing.T) {
	clearCache()
	defer clearCache()

	setCached(TransportSerial, Safe, []DeviceInfo{{Transport: TransportSerial}})
	setCached(TransportUSB, Safe, []DeviceInfo{{Transport: TransportUSB}})

	ClearDetectionCacheForTransport(TransportSerial)
	_, found := getCached(TransportSerial, Safe, time.Minute)
	assert.False(t, found)
	_, found = getCached(TransportUSB, Safe, time.Minute)
	assert.True(t, found)

	ClearDetectionCache()
	_, found = getCached(TransportUSB, Safe, time.Minute)
	assert.False(t, found)
}

func TestSort(t *testing.T) {
	devices := []DeviceInfo{
		{Transport: TransportSerial, Path: "/dev/ttyS0", Confidence: Low},
		{Transport: TransportSerial, Path: "/dev/ttyUSB0", Confidence: High},
		{Transport: TransportSerial, Path: "/dev/ttyUSB1", Confidence: Medium},
		{Transport: TransportUSB, Path: "usb:001,004", Confidence: High},
		{Transport: TransportSerial, Path: "/dev/ttyS1", Confidence: Low},
	}
	Sort(devices)

	paths := make([]string, len(devices))
	for i, d := range devices {
		paths[i] = d.Path
	}
	assert.Equal(t, []string{"usb:001,004", "/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyS0", "/dev/ttyS1"}, paths)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "passive", Passive.String())
	assert.Equal(t, "safe", Safe.String())
	assert.Equal(t, "full", Full.String())
	assert.Equal(t, "mode(7)", Mode(7).String())
}

func TestIsBlocked(t *testing.T) {
	blocklist := DefaultBlocklist()

	tests := []struct {
		name    string
		vidpid  string
		blocked bool
	}{
		{"Arduino Uno", "2341:0043", true},
		{"lowercase", "0483:374b", true},
		{"whitespace", "  2341:0010  ", true},
		{"Canon camera", "04A9:3055", false},
		{"FTDI cable", "0403:6001", false},
		{"empty", "", false},
		{"partial", "2341:", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.blocked, IsBlocked(tc.vidpid, blocklist))
		})
	}
}

func TestVIDPID(t *testing.T) {
	assert.Equal(t, "04A9:3055", VIDPID(0x04a9, 0x3055))
	assert.Equal(t, "0403:6001", VIDPID(0x403, 0x6001))
}

func TestParseVIDPID(t *testing.T) {
	tests := []struct {
		name       string
		descriptor string
		expected   string
	}{
		{"lsusb", "04a9:3055", "04A9:3055"},
		{"uevent", "PRODUCT=67b/2303/300", "067B:2303"},
		{"uevent without revision", "PRODUCT=403/6001", "0403:6001"},
		{"windows hardware id", `USB\VID_10C4&PID_EA60\0001`, "10C4:EA60"},
		{"windows lowercase", `usb\vid_04a9&pid_3055`, "04A9:3055"},
		{"windows missing pid", `USB\VID_04A9`, ""},
		{"uevent missing product", "PRODUCT=67b", ""},
		{"not hex", "zz:2303", ""},
		{"too wide", "12345:0001", ""},
		{"invalid", "not a valid descriptor", ""},
		{"empty", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseVIDPID(tc.descriptor))
		})
	}
}

type stubDetector struct {
	err       error
	transport string
	devices   []DeviceInfo
	calls     int
}

func (s *stubDetector) Detect(_ context.Context, _ *Options) ([]DeviceInfo, error) {
	s.calls++
	return s.devices, s.err
}

func (s *stubDetector) Transport() string {
	return s.transport
}

type blockingDetector struct{}

func (*blockingDetector) Detect(ctx context.Context, _ *Options) ([]DeviceInfo, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (*blockingDetector) Transport() string {
	return "blocking"
}

func withRegistry(t *testing.T, detectors ...Detector) {
	t.Helper()
	saved := registry
	registry = nil
	for _, d := range detectors {
		RegisterDetector(d)
	}
	clearCache()
	t.Cleanup(func() {
		registry = saved
		clearCache()
	})
}

func TestGetDetectorsFilter(t *testing.T) {
	withRegistry(t,
		&stubDetector{transport: TransportSerial},
		&stubDetector{transport: TransportUSB},
	)

	assert.Len(t, getDetectors(nil), 2)
	assert.Len(t, getDetectors([]string{TransportUSB}), 1)
	assert.Len(t, getDetectors([]string{TransportSerial, TransportUSB}), 2)
	assert.Empty(t, getDetectors([]string{"i2c"}))
}

func TestDetectAll(t *testing.T) {
	serialDev := DeviceInfo{Transport: TransportSerial, Path: "/dev/ttyUSB0", Confidence: Medium}
	usbDev := DeviceInfo{
		Transport: TransportUSB, Path: "usb:001,004", Confidence: High,
		Metadata: map[string]string{"vidpid": "04A9:3055"},
	}

	t.Run("merges transports", func(t *testing.T) {
		withRegistry(t,
			&stubDetector{transport: TransportSerial, devices: []DeviceInfo{serialDev}},
			&stubDetector{transport: TransportUSB, devices: []DeviceInfo{usbDev}},
		)
		opts := DefaultOptions()
		devices, err := DetectAll(context.Background(), &opts)
		require.NoError(t, err)
		assert.ElementsMatch(t, []DeviceInfo{serialDev, usbDev}, devices)
	})

	t.Run("devices despite a failing detector", func(t *testing.T) {
		withRegistry(t,
			&stubDetector{transport: TransportSerial, err: errors.New("permission denied")},
			&stubDetector{transport: TransportUSB, devices: []DeviceInfo{usbDev}},
		)
		opts := DefaultOptions()
		devices, err := DetectAll(context.Background(), &opts)
		require.NoError(t, err)
		assert.Equal(t, []DeviceInfo{usbDev}, devices)
	})

	t.Run("errors when every detector fails", func(t *testing.T) {
		withRegistry(t, &stubDetector{transport: TransportUSB, err: errors.New("libusb: access denied")})
		opts := DefaultOptions()
		_, err := DetectAll(context.Background(), &opts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "usb detection")
	})

	t.Run("nothing found", func(t *testing.T) {
		withRegistry(t, &stubDetector{transport: TransportSerial, err: ErrNoDevicesFound})
		opts := DefaultOptions()
		_, err := DetectAll(context.Background(), &opts)
		assert.ErrorIs(t, err, ErrNoDevicesFound)
	})

	t.Run("no detectors", func(t *testing.T) {
		withRegistry(t)
		opts := DefaultOptions()
		opts.Transports = []string{TransportUSB}
		_, err := DetectAll(context.Background(), &opts)
		assert.ErrorIs(t, err, ErrNoDetectors)
	})

	t.Run("timeout", func(t *testing.T) {
		withRegistry(t, &blockingDetector{})
		opts := DefaultOptions()
		opts.Timeout = 10 * time.Millisecond
		opts.EnableCache = false
		_, err := DetectAll(context.Background(), &opts)
		assert.ErrorIs(t, err, ErrDetectionTimeout)
	})

	t.Run("cache serves repeat calls and is filtered", func(t *testing.T) {
		stub := &stubDetector{transport: TransportUSB, devices: []DeviceInfo{usbDev}}
		withRegistry(t, stub)
		opts := DefaultOptions()
		_, err := DetectAll(context.Background(), &opts)
		require.NoError(t, err)

		opts.Blocklist = []string{"04a9:3055"}
		_, err = DetectAll(context.Background(), &opts)
		assert.ErrorIs(t, err, ErrNoDevicesFound)
		assert.Equal(t, 1, stub.calls)
	})

	t.Run("empty result clears the cache", func(t *testing.T) {
		stub := &stubDetector{transport: TransportUSB, devices: []DeviceInfo{usbDev}}
		withRegistry(t, stub)
		setCached(TransportUSB, Safe, []DeviceInfo{usbDev})
		opts := DefaultOptions()
		opts.CacheTTL = time.Nanosecond
		time.Sleep(time.Millisecond)
		stub.devices = nil
		_, err := DetectAll(context.Background(), &opts)
		assert.ErrorIs(t, err, ErrNoDevicesFound)
		_, found := getCached(TransportUSB, Safe, time.Hour)
		assert.False(t, found)
	})
}
