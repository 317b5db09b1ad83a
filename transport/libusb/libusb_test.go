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

package libusb

import (
	"testing"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		wantBus  int
		wantAddr int
		wantErr  bool
	}{
		{name: "empty selects first", path: ""},
		{name: "bare prefix", path: "usb:"},
		{name: "bus and address", path: "usb:001,004", wantBus: 1, wantAddr: 4},
		{name: "unpadded", path: "usb:3,17", wantBus: 3, wantAddr: 17},
		{name: "serial device", path: "/dev/ttyS0", wantErr: true},
		{name: "missing address", path: "usb:001", wantErr: true},
		{name: "bad bus", path: "usb:x,4", wantErr: true},
		{name: "bad address", path: "usb:1,y", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bus, addr, err := ParsePath(tt.path)
			if tt.wantErr {
				require.ErrorIs(t, err, canon.ErrInvalidParameter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBus, bus)
			assert.Equal(t, tt.wantAddr, addr)
		})
	}
}

func TestPathRoundTrip(t *testing.T) {
	t.Parallel()

	p := Path(2, 9)
	assert.Equal(t, "usb:002,009", p)
	bus, addr, err := ParsePath(p)
	require.NoError(t, err)
	assert.Equal(t, 2, bus)
	assert.Equal(t, 9, addr)
}

func TestSupported(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		desc gousb.DeviceDesc
		want bool
	}{
		{name: "PowerShot G2", desc: gousb.DeviceDesc{Vendor: VendorCanon, Product: 0x3055}, want: true},
		{name: "EOS 20D", desc: gousb.DeviceDesc{Vendor: VendorCanon, Product: 0x30eb}, want: true},
		{name: "unknown Canon product", desc: gousb.DeviceDesc{Vendor: VendorCanon, Product: 0x0001}},
		{name: "other vendor", desc: gousb.DeviceDesc{Vendor: 0x2341, Product: 0x3055}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Supported(&tt.desc))
		})
	}
}
