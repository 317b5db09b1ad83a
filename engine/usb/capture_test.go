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

package usb

import (
	"context"
	"testing"
	"time"

	canon "github.com/ZaparooProject/go-canon"
	testutil "github.com/ZaparooProject/go-canon/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const captureKey = 0x00a1b2c3

var (
	keyEOSLock     = testutil.USBKey(0x1b, 0x12, 0x201)
	keyEOSUnlock   = testutil.USBKey(0x1c, 0x12, 0x201)
	keyLock2       = testutil.USBKey(0x36, 0x12, 0x201)
	keyRetrieve    = testutil.USBKey(0x17, 0x12, 0x202)
	keyRetrieve2   = testutil.USBKey(0x26, 0x12, 0x202)
	captureThumb   = []byte("thumbnail jpeg")
	captureImage   = pattern(0x3000)
	captureMode    = canon.TransferThumbToPC | canon.TransferFullToPC
	prepareSubs    = []int{int(SubInit), int(SubSetTransferMode), int(SubGetParams), int(SubGetParams)}
	captureSubsAll = append(append([]int(nil), prepareSubs...), int(SubShutterRelease))
)

func TestCapture(t *testing.T) {
	t.Parallel()
	tests := []struct {
		script       func(*testutil.VirtualUSBCamera)
		name         string
		wantLocks    []uint32
		wantUnlocks  int
		pid          uint16
		wantLocked   bool
		wantRetrieve uint32
	}{
		{
			name: "PowerShot ends at exposure", pid: pidG2,
			script: func(c *testutil.VirtualUSBCamera) {
				c.ScriptPowerShotCapture(captureKey, captureThumb, captureImage)
			},
			wantLocked:   true,
			wantRetrieve: keyRetrieve,
		},
		{
			name: "EOS waits for completion", pid: pidD60,
			script: func(c *testutil.VirtualUSBCamera) {
				c.ScriptEOSCapture(captureKey, captureThumb, captureImage)
			},
			wantLocks:    []uint32{keyEOSLock},
			wantUnlocks:  1,
			wantRetrieve: keyRetrieve,
		},
		{
			name: "EOS unlocks on completion without storage notice", pid: pidD60,
			script: func(c *testutil.VirtualUSBCamera) {
				c.ScriptPowerShotCapture(captureKey, captureThumb, captureImage)
				c.CaptureEvents = append(c.CaptureEvents, testutil.Event(0x0f))
			},
			wantLocks:    []uint32{keyEOSLock},
			wantUnlocks:  1,
			wantRetrieve: keyRetrieve,
		},
		{
			name: "EOS repeated release notice", pid: pidD60,
			script: func(c *testutil.VirtualUSBCamera) {
				c.ScriptEOSCapture(captureKey, captureThumb, captureImage)
				ev := c.CaptureEvents
				c.CaptureEvents = append([][]byte{
					testutil.ProgressEvent(0x1c), testutil.ProgressEvent(0x1d),
				}, ev...)
			},
			wantLocks:    []uint32{keyEOSLock},
			wantUnlocks:  1,
			wantRetrieve: keyRetrieve,
		},
		{
			name: "300D stops at storage notice", pid: canon.ProductEOS300D,
			script: func(c *testutil.VirtualUSBCamera) {
				c.ScriptPowerShotCapture(captureKey, captureThumb, captureImage)
				c.CaptureEvents = append(c.CaptureEvents, testutil.Event(0x0e))
			},
			wantLocks:    []uint32{keyEOSLock},
			wantUnlocks:  1,
			wantRetrieve: keyRetrieve,
		},
		{
			name: "20D ends at exposure", pid: pid20D,
			script: func(c *testutil.VirtualUSBCamera) {
				c.ScriptPowerShotCapture(captureKey, captureThumb, captureImage)
			},
			wantLocks:    []uint32{keyLock2},
			wantLocked:   true,
			wantRetrieve: keyRetrieve2,
		},
		{
			name: "unknown progress codes are skipped", pid: pidG2,
			script: func(c *testutil.VirtualUSBCamera) {
				c.ScriptPowerShotCapture(captureKey, captureThumb, captureImage)
				c.CaptureEvents = append([][]byte{testutil.ProgressEvent(0x1e)}, c.CaptureEvents...)
			},
			wantLocked:   true,
			wantRetrieve: keyRetrieve,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cam := testutil.NewVirtualUSBCamera(tt.pid)
			tt.script(cam)
			e := newTestEngine(t, cam)
			// Left over from an earlier session; drained before the shutter.
			cam.QueueInterrupt(testutil.Event(0x42))
			ctx := context.Background()

			s, err := e.Capture(ctx, captureMode)
			require.NoError(t, err)
			assert.Equal(t, captureMode, s.Mode)
			assert.Equal(t, canon.CapturedImage{Size: uint32(len(captureThumb)), Key: captureKey}, s.Thumbnail)
			assert.Equal(t, canon.CapturedImage{Size: uint32(len(captureImage)), Key: captureKey}, s.Full)
			assert.Zero(t, s.Secondary.Size)

			assert.Equal(t, captureSubsAll, cam.Subcommands())
			assert.Equal(t, uint32(captureMode), cam.Mode)
			assert.Equal(t, 1, cam.Shots)
			assert.True(t, cam.Remote)
			assert.Equal(t, []time.Duration{
				canon.USBShutterTimeout, canon.USBDefaultTimeout, canon.USBShutterTimeout, canon.USBDefaultTimeout,
			}, cam.Timeouts)
			for _, k := range tt.wantLocks {
				assert.Len(t, cam.RequestsFor(k), 1, "lock 0x%08x", k)
			}
			assert.Len(t, cam.RequestsFor(keyEOSUnlock), tt.wantUnlocks)
			assert.Equal(t, tt.wantLocked, cam.Locked)

			thumb, err := e.FetchImage(ctx, s, canon.ImageThumbnail, nil)
			require.NoError(t, err)
			assert.Equal(t, captureThumb, thumb)
			var last int
			full, err := e.FetchImage(ctx, s, canon.ImageFull, func(done, _ int) { last = done })
			require.NoError(t, err)
			assert.Equal(t, captureImage, full)
			assert.Equal(t, len(captureImage), last)

			reqs := cam.RequestsFor(tt.wantRetrieve)
			require.Len(t, reqs, 2)
			p := reqs[1].Payload
			require.Len(t, p, 16)
			assert.Zero(t, le.Uint32(p))
			assert.Equal(t, uint32(e.TransferUnit()), le.Uint32(p[4:])) //nolint:gosec // small unit
			assert.Equal(t, uint32(testutil.DownloadFull), le.Uint32(p[8:]))
			assert.Equal(t, uint32(captureKey), le.Uint32(p[12:]))
		})
	}
}

func TestCaptureSecondaryImage(t *testing.T) {
	t.Parallel()
	cam := testutil.NewVirtualUSBCamera(pidG2)
	raw := pattern(0x900)
	cam.ScriptPowerShotCapture(captureKey, captureThumb, captureImage)
	cam.StoreCapture(testutil.DownloadSecondary, captureKey+1, raw)
	ev := cam.CaptureEvents
	cam.CaptureEvents = append(ev[:3:3], testutil.SizeEvent(0x0c, captureKey+1, uint32(len(raw))), ev[3])
	e := newTestEngine(t, cam)

	s, err := e.Capture(context.Background(), captureMode)
	require.NoError(t, err)
	assert.Equal(t, canon.CapturedImage{Size: uint32(len(raw)), Key: captureKey + 1}, s.Secondary)

	got, err := e.FetchImage(context.Background(), s, canon.ImageSecondary, nil)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestCaptureFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		wantErr error
		name    string
		events  [][]byte
	}{
		{
			name:    "exposure before release",
			events:  [][]byte{testutil.ProgressEvent(0x1d)},
			wantErr: canon.ErrProtocolDesync,
		},
		{
			name:    "release twice",
			events:  [][]byte{testutil.ProgressEvent(0x1c), testutil.ProgressEvent(0x1c)},
			wantErr: canon.ErrProtocolDesync,
		},
		{
			name:    "storage before exposure",
			events:  [][]byte{testutil.ProgressEvent(0x1c), testutil.Event(0x0e)},
			wantErr: canon.ErrProtocolDesync,
		},
		{
			name:    "completion before exposure",
			events:  [][]byte{testutil.Event(0x0f)},
			wantErr: canon.ErrProtocolDesync,
		},
		{
			name:    "unknown notification",
			events:  [][]byte{testutil.ProgressEvent(0x1c), testutil.Event(0x42)},
			wantErr: canon.ErrProtocolDesync,
		},
		{
			name:    "truncated notification",
			events:  [][]byte{{0, 0, 0}},
			wantErr: canon.ErrShortRead,
		},
		{
			name:    "no notifications",
			wantErr: canon.ErrTransportTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cam := testutil.NewVirtualUSBCamera(pidD60)
			cam.CaptureEvents = tt.events
			e := newTestEngine(t, cam, WithMaxPolls(5))

			_, err := e.Capture(context.Background(), captureMode)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, canon.HasTrace(err))
			// The keys locked for the capture are released again.
			assert.False(t, cam.Locked)
			assert.Len(t, cam.RequestsFor(keyEOSUnlock), 1)
		})
	}
}

func TestCapturePolling(t *testing.T) {
	t.Parallel()
	cam := testutil.NewVirtualUSBCamera(pidG2)
	e := newTestEngine(t, cam, WithMaxPolls(5))
	before := cam.Polls

	_, err := e.Capture(context.Background(), captureMode)
	require.ErrorIs(t, err, canon.ErrTransportTimeout)
	// One empty drain poll, the event loop, then the clean-up polls.
	assert.Equal(t, 1+5+canon.USBFailureDrainPolls, cam.Polls-before)
}

func TestCapturePhotoError(t *testing.T) {
	t.Parallel()
	cam := testutil.NewVirtualUSBCamera(pidD60)
	cam.CaptureEvents = [][]byte{testutil.ProgressEvent(0x1c), testutil.PhotoFailureEvent(0x00000321)}
	e := newTestEngine(t, cam)

	_, err := e.Capture(context.Background(), captureMode)
	var pe *canon.PhotoError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, uint32(0x321), pe.Code)
	assert.Equal(t, canon.KindRejected, canon.Classify(err))
	assert.False(t, cam.Locked)
}

func TestCaptureRefused(t *testing.T) {
	t.Parallel()

	t.Run("model without remote capture", func(t *testing.T) {
		t.Parallel()
		cam := testutil.NewVirtualUSBCamera(pidS10)
		e := newTestEngine(t, cam)
		_, err := e.Capture(context.Background(), captureMode)
		require.ErrorIs(t, err, canon.ErrNotSupported)
		assert.Empty(t, cam.Subcommands())
	})

	t.Run("camera rejects control", func(t *testing.T) {
		t.Parallel()
		cam := testutil.NewVirtualUSBCamera(pidG2)
		e := newTestEngine(t, cam)
		cam.Statuses[keyControl] = canon.StatusNoCaptureMode
		_, err := e.Capture(context.Background(), captureMode)
		var se *canon.CameraStatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, canon.StatusNoCaptureMode, se.Code)
		assert.Zero(t, cam.Shots)
		assert.Equal(t, canon.USBDefaultTimeout, cam.Timeout())
	})

	t.Run("before init", func(t *testing.T) {
		t.Parallel()
		e, err := New(testutil.NewVirtualUSBCamera(pidG2))
		require.NoError(t, err)
		_, err = e.Capture(context.Background(), captureMode)
		require.ErrorIs(t, err, canon.ErrTransportNotReady)
	})
}

func TestCaptureRemoteOnce(t *testing.T) {
	t.Parallel()
	cam := testutil.NewVirtualUSBCamera(pidG2)
	cam.ScriptPowerShotCapture(captureKey, captureThumb, captureImage)
	e := newTestEngine(t, cam)
	ctx := context.Background()

	_, err := e.Capture(ctx, captureMode)
	require.NoError(t, err)
	_, err = e.Capture(ctx, canon.TransferFullToDrive)
	require.NoError(t, err)

	want := append(append([]int(nil), captureSubsAll...),
		int(SubSetTransferMode), int(SubGetParams), int(SubGetParams), int(SubShutterRelease))
	assert.Equal(t, want, cam.Subcommands())
	assert.Equal(t, uint32(canon.TransferFullToDrive), cam.Mode)
	assert.Equal(t, 2, cam.Shots)
}

func TestFetchImageErrors(t *testing.T) {
	t.Parallel()
	cam := testutil.NewVirtualUSBCamera(pidG2)
	cam.ScriptPowerShotCapture(captureKey, captureThumb, captureImage)
	e := newTestEngine(t, cam)
	ctx := context.Background()
	s, err := e.Capture(ctx, captureMode)
	require.NoError(t, err)

	_, err = e.FetchImage(ctx, nil, canon.ImageFull, nil)
	require.ErrorIs(t, err, canon.ErrInvalidParameter)

	_, err = e.FetchImage(ctx, s, canon.ImageKind(9), nil)
	require.ErrorIs(t, err, canon.ErrInvalidParameter)

	_, err = e.FetchImage(ctx, s, canon.ImageSecondary, nil)
	require.ErrorIs(t, err, canon.ErrNoCapture)

	// The camera now offers more than it announced.
	cam.StoreCapture(testutil.DownloadFull, captureKey, pattern(len(captureImage)+1))
	_, err = e.FetchImage(ctx, s, canon.ImageFull, nil)
	require.ErrorIs(t, err, canon.ErrSuspiciousLength)
}

func TestCaptureDecodesWireNotifications(t *testing.T) {
	t.Parallel()
	released := []byte{
		0x10, 0x00, 0x00, 0x00, 0x0a, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x1c, 0x00, 0x00, 0x00,
	}
	exposed := []byte{
		0x10, 0x00, 0x00, 0x00, 0x0a, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x1d, 0x00, 0x00, 0x00,
	}
	thumbReady := []byte{
		0x17, 0x00, 0x00, 0x00, 0x08, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x44, 0x33, 0x22, 0x11,
		0x00, 0x34, 0x12, 0x00, 0x00, 0x00, 0x00,
	}
	imageReady := []byte{
		0x17, 0x00, 0x00, 0x00, 0x0c, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x45, 0x33, 0x22, 0x11,
		0x00, 0x21, 0x43, 0x05, 0x00, 0x00, 0x00,
	}
	stored := []byte{0x08, 0x00, 0x00, 0x00, 0x0e, 0x00, 0x00, 0x00}
	done := []byte{0x08, 0x00, 0x00, 0x00, 0x0f, 0x00, 0x00, 0x00}

	tests := []struct {
		name   string
		events [][]byte
		pid    uint16
	}{
		{
			name:   "PowerShot",
			pid:    pidG2,
			events: [][]byte{released, thumbReady, imageReady, exposed},
		},
		{
			name:   "EOS",
			pid:    pidD60,
			events: [][]byte{released, thumbReady, imageReady, exposed, stored, done},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cam := testutil.NewVirtualUSBCamera(tt.pid)
			cam.CaptureEvents = tt.events
			e := newTestEngine(t, cam)

			s, err := e.Capture(context.Background(), captureMode)
			require.NoError(t, err)
			assert.Equal(t, canon.CapturedImage{Size: 0x1234, Key: 0x11223344}, s.Thumbnail)
			assert.Equal(t, canon.CapturedImage{Size: 0x54321, Key: 0x11223345}, s.Full)
			assert.Zero(t, s.Secondary)
		})
	}
}
