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
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZaparooProject/go-canon/detection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEngine implements the calls Camera makes in these tests. Anything
// else panics through the nil embedded interface.
type stubEngine struct {
	Engine
	initErrs []error
	inits    atomic.Int32
	model    *Model
	listed   []string
	got      []string
	closed   atomic.Bool
	drive    string
	captured *CaptureSession
	abort    chan struct{}
}

func newStubEngine() *stubEngine {
	m, _ := LookupUSB(0x3055)
	return &stubEngine{model: m, drive: "D:", abort: make(chan struct{})}
}

func (s *stubEngine) Init(context.Context) error {
	i := int(s.inits.Add(1)) - 1
	if i < len(s.initErrs) {
		return s.initErrs[i]
	}
	return nil
}

func (s *stubEngine) Identify(context.Context) (*Identity, error) {
	return &Identity{Model: s.model, CameraName: "Canon PowerShot G2", Owner: "Test Owner",
		Firmware: [4]byte{0, 1, 0, 1}}, nil
}

func (s *stubEngine) DiskName(context.Context) (string, error) { return s.drive, nil }

func (s *stubEngine) DiskInfo(_ context.Context, disk string) (*DiskInfo, error) {
	return &DiskInfo{Name: disk, Capacity: 1000, Available: 400}, nil
}

func (s *stubEngine) ListDirectory(_ context.Context, path string) ([]DirEntry, error) {
	s.listed = append(s.listed, path)
	return []DirEntry{{Name: "IMG_0001.JPG", Size: 5}}, nil
}

func (s *stubEngine) GetFile(_ context.Context, path string, _ ProgressFunc) ([]byte, error) {
	s.got = append(s.got, path)
	return []byte("data"), nil
}

func (s *stubEngine) SetOwnerName(context.Context, string) error { return nil }

func (s *stubEngine) Capture(_ context.Context, mode TransferMode) (*CaptureSession, error) {
	s.captured = &CaptureSession{Mode: mode, Full: CapturedImage{Size: 10, Key: 1}}
	return s.captured, nil
}

// GetThumbnail blocks like a transfer stuck on a silent camera.
func (s *stubEngine) GetThumbnail(context.Context, string, ProgressFunc) ([]byte, error) {
	<-s.abort
	return nil, NewTransportClosedError("read", "stub")
}

func (s *stubEngine) Abort() error {
	close(s.abort)
	return nil
}

func (s *stubEngine) Model() *Model       { return s.model }
func (s *stubEngine) Type() TransportType { return TransportMock }

func (s *stubEngine) Close() error {
	s.closed.Store(true)
	return nil
}

func noRetry() Option { return WithRetryConfig(nil) }

func TestNewRejectsNilEngine(t *testing.T) {
	t.Parallel()
	_, err := New(nil)
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestCameraInit(t *testing.T) {
	t.Parallel()

	var msgs []string
	eng := newStubEngine()
	cam, err := New(eng, noRetry(), WithStatus(func(m string) { msgs = append(msgs, m) }))
	require.NoError(t, err)
	assert.Nil(t, cam.Identity())

	require.NoError(t, cam.Init(context.Background()))
	id := cam.Identity()
	require.NotNil(t, id)
	assert.Equal(t, "Canon PowerShot G2", id.CameraName)
	assert.Equal(t, "1.0.1.0", id.FirmwareString())
	assert.Equal(t, []string{"Connecting to camera over mock...", "Connected to Canon PowerShot G2"}, msgs)
	assert.Same(t, eng, cam.Engine())
}

func TestCameraInitRetries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		errs       []error
		wantErr    error
		wantStatus bool
		wantInits  int32
	}{
		{
			name:      "timeout then success",
			errs:      []error{NewTimeoutError("read", "sim")},
			wantInits: 2,
		},
		{
			name:      "desync is retried",
			errs:      []error{ErrOutOfSequence, ErrUnexpectedMessage},
			wantInits: 3,
		},
		{
			name:       "camera refusal stops",
			errs:       []error{NewCameraStatusError("identify", StatusBadParameters)},
			wantStatus: true,
			wantInits:  1,
		},
		{
			name:      "gives up",
			errs:      []error{ErrNoACK, ErrNoACK, ErrNoACK, ErrNoACK},
			wantErr:   ErrNoACK,
			wantInits: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			eng := newStubEngine()
			eng.initErrs = tt.errs
			rc := DefaultRetryConfig()
			rc.InitialBackoff = time.Microsecond
			rc.MaxBackoff = time.Microsecond
			cam, err := New(eng, WithRetryConfig(rc))
			require.NoError(t, err)

			err = cam.Init(context.Background())
			switch {
			case tt.wantStatus:
				var se *CameraStatusError
				require.ErrorAs(t, err, &se)
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			default:
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantInits, eng.inits.Load())
		})
	}
}

func TestCameraInitReportsRetries(t *testing.T) {
	t.Parallel()

	var msgs []string
	eng := newStubEngine()
	eng.initErrs = []error{ErrNoACK}
	rc := DefaultRetryConfig()
	rc.InitialBackoff = time.Microsecond
	rc.MaxBackoff = time.Microsecond
	cam, err := New(eng, WithRetryConfig(rc), WithStatus(func(m string) { msgs = append(msgs, m) }))
	require.NoError(t, err)

	require.NoError(t, cam.Init(context.Background()))
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[1], "Attempt 1 of 3 failed")
	assert.Equal(t, "Connected to Canon PowerShot G2", msgs[2])
}

func TestCameraResolvesSlashPaths(t *testing.T) {
	t.Parallel()

	eng := newStubEngine()
	cam, err := New(eng, noRetry())
	require.NoError(t, err)
	require.NoError(t, cam.Init(context.Background()))
	ctx := context.Background()

	_, err = cam.ListDirectory(ctx, "/dcim/100canon")
	require.NoError(t, err)
	_, err = cam.GetFile(ctx, `A:\DCIM\IMG_0002.JPG`, nil)
	require.NoError(t, err)
	_, err = cam.GetFile(ctx, "relative.jpg", nil)
	require.ErrorIs(t, err, ErrInvalidParameter)

	assert.Equal(t, []string{`D:\DCIM\100CANON`}, eng.listed)
	assert.Equal(t, []string{`A:\DCIM\IMG_0002.JPG`}, eng.got)

	info, err := cam.DiskInfo(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "D:", info.Name)
}

func TestCameraSetOwnerUpdatesIdentity(t *testing.T) {
	t.Parallel()

	cam, err := New(newStubEngine(), noRetry())
	require.NoError(t, err)
	require.NoError(t, cam.Init(context.Background()))
	require.NoError(t, cam.SetOwnerName(context.Background(), "Ada"))
	assert.Equal(t, "Ada", cam.Identity().Owner)
}

func TestCameraCapture(t *testing.T) {
	t.Parallel()

	t.Run("supported", func(t *testing.T) {
		t.Parallel()
		eng := newStubEngine()
		cam, err := New(eng, noRetry())
		require.NoError(t, err)
		session, err := cam.Capture(context.Background(), TransferFullToPC)
		require.NoError(t, err)
		assert.Equal(t, TransferFullToPC, session.Mode)
	})

	t.Run("model without remote capture", func(t *testing.T) {
		t.Parallel()
		eng := newStubEngine()
		eng.model, _ = LookupUSB(0x3041)
		cam, err := New(eng, noRetry())
		require.NoError(t, err)
		_, err = cam.Capture(context.Background(), TransferFullToPC)
		require.ErrorIs(t, err, ErrNotSupported)
		assert.Nil(t, eng.captured)
	})

	t.Run("fetch without session", func(t *testing.T) {
		t.Parallel()
		cam, err := New(newStubEngine(), noRetry())
		require.NoError(t, err)
		_, err = cam.FetchFullImage(context.Background(), nil, nil)
		require.ErrorIs(t, err, ErrNoCapture)
	})
}

func TestConnectCamera(t *testing.T) {
	t.Parallel()

	t.Run("explicit path", func(t *testing.T) {
		t.Parallel()
		eng := newStubEngine()
		var gotPath string
		cam, err := ConnectCamera(context.Background(), "/dev/ttyS0",
			WithEngineFactory(func(path string) (Engine, error) {
				gotPath = path
				return eng, nil
			}))
		require.NoError(t, err)
		assert.Equal(t, "/dev/ttyS0", gotPath)
		assert.NotNil(t, cam.Identity())
	})

	t.Run("missing factory", func(t *testing.T) {
		t.Parallel()
		_, err := ConnectCamera(context.Background(), "/dev/ttyS0")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "engine factory not provided")
	})

	t.Run("factory failure", func(t *testing.T) {
		t.Parallel()
		_, err := ConnectCamera(context.Background(), "/dev/ttyS0",
			WithEngineFactory(func(string) (Engine, error) { return nil, ErrTransportNotReady }))
		require.ErrorIs(t, err, ErrTransportNotReady)
	})

	t.Run("init failure closes engine", func(t *testing.T) {
		t.Parallel()
		eng := newStubEngine()
		eng.initErrs = []error{ErrLinkLost}
		_, err := ConnectCamera(context.Background(), "usb:001,002",
			WithEngineFactory(func(string) (Engine, error) { return eng, nil }))
		require.ErrorIs(t, err, ErrLinkLost)
		assert.True(t, eng.closed.Load())
	})

	t.Run("bad retries option", func(t *testing.T) {
		t.Parallel()
		_, err := ConnectCamera(context.Background(), "x", WithConnectionRetries(0))
		require.Error(t, err)
	})

	t.Run("camera options applied", func(t *testing.T) {
		t.Parallel()
		var msgs []string
		_, err := ConnectCamera(context.Background(), "x",
			WithEngineFactory(func(string) (Engine, error) { return newStubEngine(), nil }),
			WithCameraOptions(WithStatus(func(m string) { msgs = append(msgs, m) })),
			WithConnectTimeout(time.Second))
		require.NoError(t, err)
		assert.NotEmpty(t, msgs)
	})
}

func TestConnectCameraAutoDetect(t *testing.T) {
	t.Parallel()

	serialDev := detection.DeviceInfo{Transport: detection.TransportSerial, Path: "/dev/ttyUSB0",
		Confidence: detection.High}
	usbDev := detection.DeviceInfo{Transport: detection.TransportUSB, Path: "usb:001,004",
		Confidence: detection.High}

	t.Run("picks best device", func(t *testing.T) {
		t.Parallel()
		var picked detection.DeviceInfo
		cam, err := ConnectCamera(context.Background(), "",
			WithAutoDetection(),
			WithDeviceDetector(func(context.Context, *detection.Options) ([]detection.DeviceInfo, error) {
				return []detection.DeviceInfo{serialDev, usbDev}, nil
			}),
			WithEngineFromDeviceFactory(func(d detection.DeviceInfo) (Engine, error) {
				picked = d
				return newStubEngine(), nil
			}))
		require.NoError(t, err)
		assert.NotNil(t, cam)
		assert.Equal(t, usbDev.Path, picked.Path)
	})

	t.Run("nothing found", func(t *testing.T) {
		t.Parallel()
		_, err := ConnectCamera(context.Background(), "",
			WithDeviceDetector(func(context.Context, *detection.Options) ([]detection.DeviceInfo, error) {
				return nil, nil
			}),
			WithEngineFromDeviceFactory(func(detection.DeviceInfo) (Engine, error) { return newStubEngine(), nil }))
		require.ErrorIs(t, err, ErrCameraNotFound)
	})

	t.Run("detector error", func(t *testing.T) {
		t.Parallel()
		_, err := ConnectCamera(context.Background(), "",
			WithDeviceDetector(func(context.Context, *detection.Options) ([]detection.DeviceInfo, error) {
				return nil, detection.ErrNoDevicesFound
			}),
			WithEngineFromDeviceFactory(func(detection.DeviceInfo) (Engine, error) { return newStubEngine(), nil }))
		require.ErrorIs(t, err, detection.ErrNoDevicesFound)
	})

	t.Run("auto-detected init is single shot", func(t *testing.T) {
		t.Parallel()
		eng := newStubEngine()
		eng.initErrs = []error{ErrNoACK}
		_, err := ConnectCamera(context.Background(), "",
			WithDeviceDetector(func(context.Context, *detection.Options) ([]detection.DeviceInfo, error) {
				return []detection.DeviceInfo{serialDev}, nil
			}),
			WithEngineFromDeviceFactory(func(detection.DeviceInfo) (Engine, error) { return eng, nil }))
		require.ErrorIs(t, err, ErrNoACK)
		assert.Equal(t, int32(1), eng.inits.Load())
	})

	t.Run("missing device factory", func(t *testing.T) {
		t.Parallel()
		_, err := ConnectCamera(context.Background(), "", WithAutoDetection())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "device factory not provided")
	})
}

func TestCameraClose(t *testing.T) {
	t.Parallel()
	eng := newStubEngine()
	cam, err := New(eng)
	require.NoError(t, err)
	require.NoError(t, cam.Close())
	assert.True(t, eng.closed.Load())
}

func TestCameraAbortUnblocksCall(t *testing.T) {
	t.Parallel()
	eng := newStubEngine()
	cam, err := New(eng, noRetry())
	require.NoError(t, err)
	require.NoError(t, cam.Init(context.Background()))

	errc := make(chan error, 1)
	go func() {
		_, err := cam.GetThumbnail(context.Background(), `D:\DCIM\100CANON\IMG_0001.JPG`, nil)
		errc <- err
	}()

	// Abort must not wait for the lock GetThumbnail holds.
	require.NoError(t, cam.Abort())
	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrTransportClosed)
		assert.True(t, IsFatal(err))
		assert.Equal(t, KindLinkLost, Classify(err))
	case <-time.After(2 * time.Second):
		t.Fatal("blocked call did not return after Abort")
	}
}
