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
	"bytes"
	"context"
	"testing"

	canon "github.com/ZaparooProject/go-canon"
	testutil "github.com/ZaparooProject/go-canon/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope(t *testing.T) {
	t.Parallel()
	tests := []struct {
		profile  Profile
		name     string
		cmd      Command
		payload  []byte
		wantFlag byte
	}{
		{
			name:    "PowerShot short command",
			profile: powershotProfile{class: canon.Class1},
			cmd:     commands[OpBattery],
		},
		{
			name:    "PowerShot with payload",
			profile: powershotProfile{class: canon.Class1},
			cmd:     commands[OpMkdir],
			payload: []byte("D:\\DCIM\x00"),
		},
		{
			name:     "20D short command",
			profile:  revisedProfile{},
			cmd:      commands[OpIdentify],
			wantFlag: 0x10,
		},
		{
			name:     "20D long command",
			profile:  revisedProfile{},
			cmd:      class6Commands[OpDiskName],
			wantFlag: 0x20,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := &Engine{profile: tt.profile, serial: 7}
			req := e.envelope(tt.cmd, tt.payload)

			require.Len(t, req, envelopeLen+len(tt.payload))
			size := uint32(0x10 + len(tt.payload))
			assert.Equal(t, size, le.Uint32(req))
			assert.Equal(t, tt.cmd.Cmd3, le.Uint32(req[4:]))
			assert.Equal(t, byte(0x02), req[0x40])
			assert.Equal(t, tt.cmd.Cmd1, req[0x44])
			assert.Equal(t, tt.wantFlag, req[0x46])
			assert.Equal(t, tt.cmd.Cmd2, req[0x47])
			assert.Equal(t, size, le.Uint32(req[0x48:]))
			assert.Equal(t, uint32(7), le.Uint32(req[0x4c:]))
			assert.True(t, bytes.Equal(tt.payload, req[envelopeLen:]))
			assert.Equal(t, uint32(8), e.serial)
		})
	}
}

func TestDialogueSerialNumbers(t *testing.T) {
	t.Parallel()
	cam := testutil.NewVirtualUSBCamera(pidG2)
	e := newTestEngine(t, cam)
	_, err := e.Battery(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, cam.Requests)
	for i, r := range cam.Requests {
		assert.Equal(t, uint32(i), r.Serial, "request %d", i) //nolint:gosec // small index
		assert.Equal(t, uint8(0x04), r.Request)
		assert.Equal(t, uint32(0x10+len(r.Payload)), r.Length) //nolint:gosec // small payload
	}
}

func TestDialogueRevisedFlags(t *testing.T) {
	t.Parallel()
	cam := testutil.NewVirtualUSBCamera(pid20D)
	e := newTestEngine(t, cam)
	name, err := e.DiskName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "D:", name)

	for _, r := range cam.Requests {
		want := byte(0x10)
		if r.Cmd3 == 0x202 {
			want = 0x20
		}
		assert.Equal(t, want, r.Flag, "command 0x%08x", r.Key())
	}
	assert.Len(t, cam.RequestsFor(testutil.USBKey(0x0e, 0x11, 0x202)), 1)
}

func TestDialogueCameraStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		wantMsg string
		code    uint32
	}{
		{name: "card full", code: 0x0200002a, wantMsg: "Compact Flash card full"},
		{name: "no card", code: canon.StatusNoStorageCard, wantMsg: "No storage card in camera"},
		{name: "unknown", code: 0x12345678, wantMsg: "Unknown status code 0x12345678 from camera"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cam := testutil.NewVirtualUSBCamera(pidG2)
			e := newTestEngine(t, cam)
			cam.Statuses[keyDiskInfo] = tt.code

			_, err := e.DiskInfo(context.Background(), "D:")
			var se *canon.CameraStatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.code, se.Code)
			assert.Equal(t, tt.wantMsg, se.Message())
			assert.Equal(t, canon.KindRejected, canon.Classify(err))
			assert.Zero(t, cam.PendingBulk())
		})
	}
}

func TestDialogueReportedLength(t *testing.T) {
	t.Parallel()
	cam := testutil.NewVirtualUSBCamera(pidG2)
	e := newTestEngine(t, cam)

	// The battery table entry expects 8 data bytes; the camera sends 12.
	cam.Handle(keyBattery, func(c *testutil.VirtualUSBCamera, _ []byte) []byte {
		r := make([]byte, 12)
		r[4] = 5
		return r
	})
	before := len(cam.BulkReads)
	b, err := e.Battery(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(5), b.Status)
	assert.False(t, b.OK())
	assert.Equal(t, []int{0x40, 0x1c}, cam.BulkReads[before:])
	assert.Zero(t, cam.PendingBulk())
}

func TestDialogueLengthAt48(t *testing.T) {
	t.Parallel()
	cam := testutil.NewVirtualUSBCamera(pidG2)
	cam.LengthAt48 = true
	e := newTestEngine(t, cam)

	cam.Handle(keyIdentify, func(c *testutil.VirtualUSBCamera, _ []byte) []byte {
		r := make([]byte, 0x5c)
		copy(r[12:], c.Name)
		return r
	})
	before := len(cam.BulkReads)
	id, err := e.Identify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Canon PowerShot G2", id.CameraName)
	assert.Equal(t, []int{0x80, 0x2c}, cam.BulkReads[before:])
	assert.Zero(t, cam.PendingBulk())
}

func TestDialogueReplyErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		setup   func(*testutil.VirtualUSBCamera)
		wantErr error
		name    string
	}{
		{
			name:    "length above ceiling",
			setup:   func(c *testutil.VirtualUSBCamera) { c.ReportedLength[keyBattery] = 0x2000 },
			wantErr: canon.ErrSuspiciousLength,
		},
		{
			name: "reply without status word",
			setup: func(c *testutil.VirtualUSBCamera) {
				c.Handle(keyBattery, func(*testutil.VirtualUSBCamera, []byte) []byte { return nil })
			},
			wantErr: canon.ErrShortRead,
		},
		{
			name:    "bulk read fails",
			setup:   func(c *testutil.VirtualUSBCamera) { c.FailBulkRead = len(c.BulkReads) + 1 },
			wantErr: canon.ErrTransportRead,
		},
		{
			name:    "bulk read returns nothing",
			setup:   func(c *testutil.VirtualUSBCamera) { c.ZeroBulkRead = len(c.BulkReads) + 1 },
			wantErr: canon.ErrShortRead,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cam := testutil.NewVirtualUSBCamera(pidG2)
			e := newTestEngine(t, cam)
			tt.setup(cam)

			_, err := e.Battery(context.Background())
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, canon.HasTrace(err))
		})
	}
}

func TestDialogueCallerErrors(t *testing.T) {
	t.Parallel()
	cam := testutil.NewVirtualUSBCamera(pidG2)
	e := newTestEngine(t, cam)
	ctx := context.Background()
	sent := len(cam.Requests)

	_, err := e.dialogue(ctx, Op(999), nil)
	require.ErrorIs(t, err, canon.ErrUnknownOperation)

	_, err = e.dialogue(ctx, OpControl, le.AppendUint32(nil, 0x55))
	require.ErrorIs(t, err, canon.ErrUnknownOperation)

	_, err = e.dialogue(ctx, OpControl, nil)
	require.ErrorIs(t, err, canon.ErrInvalidParameter)

	_, err = e.dialogue(ctx, OpMkdir, make([]byte, maxPayload+1))
	require.ErrorIs(t, err, canon.ErrMessageTooLarge)

	require.ErrorIs(t, e.control(ctx, Subcommand(0x55), 0, 0), canon.ErrUnknownOperation)
	require.ErrorIs(t, e.control(ctx, SubSetParams, 0, 0), canon.ErrUnknownOperation)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.Battery(cctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Len(t, cam.Requests, sent)
}

func TestControlPayload(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		want  []byte
		sub   Subcommand
		w0    uint32
		w1    uint32
		reply int
	}{
		{name: "init", sub: SubInit, want: []byte{0, 0, 0, 0, 0, 0, 0, 0}, reply: 0x1c},
		{
			name: "transfer mode", sub: SubSetTransferMode, w0: 4, w1: 2, reply: 0x1c,
			want: []byte{0x09, 0, 0, 0, 0x04, 0, 0, 0, 0x02, 0, 0, 0},
		},
		{
			name: "get params", sub: SubGetParams, w0: 4, w1: 2, reply: 0x4c,
			want: []byte{0x0a, 0, 0, 0, 0x04, 0, 0, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, sc, err := controlPayload(tt.sub, tt.w0, tt.w1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p)
			assert.Equal(t, tt.reply, sc.addReply)
		})
	}
}

func TestControlRevisedSuffix(t *testing.T) {
	t.Parallel()
	cam := testutil.NewVirtualUSBCamera(pid20D)
	e := newTestEngine(t, cam)
	require.NoError(t, e.control(context.Background(), SubInit, 0, 0))

	reqs := cam.RequestsFor(keyControl)
	last := reqs[len(reqs)-1]
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0}, last.Payload)
	assert.True(t, cam.Remote)
}
