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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToCameraPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		drive, path, want string
		wantErr           bool
	}{
		{drive: "D:", path: "/DCIM/100CANON/IMG_0001.JPG", want: `D:\DCIM\100CANON\IMG_0001.JPG`},
		{drive: `D:\`, path: "/dcim", want: `D:\DCIM`},
		{drive: "A:", path: "/", want: "A:"},
		{drive: "A:", path: "/DCIM/", want: `A:\DCIM`},
		{drive: "A:", path: "DCIM", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			got, err := ToCameraPath(tt.drive, tt.path)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidParameter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromCameraPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/DCIM/100CANON", FromCameraPath(`D:\DCIM\100CANON`))
	assert.Equal(t, "/", FromCameraPath("A:"))
	assert.Equal(t, "/IMG.JPG", FromCameraPath("IMG.JPG"))
}

func TestSplitCameraPath(t *testing.T) {
	t.Parallel()
	dir, name := SplitCameraPath(`D:\DCIM\100CANON\IMG_0001.JPG`)
	assert.Equal(t, `D:\DCIM\100CANON`, dir)
	assert.Equal(t, "IMG_0001.JPG", name)

	dir, name = SplitCameraPath("IMG.JPG")
	assert.Empty(t, dir)
	assert.Equal(t, "IMG.JPG", name)
}

func TestModelLookups(t *testing.T) {
	t.Parallel()

	m, err := LookupUSB(0x3055)
	require.NoError(t, err)
	assert.Equal(t, "PowerShot G2", m.Name)
	assert.Equal(t, Class1, m.Class)
	assert.True(t, m.HasUSB())

	_, err = LookupUSB(0xffff)
	require.ErrorIs(t, err, ErrUnsupportedModel)

	m, err = LookupSerialIdent("Canon PowerShot S10\x00\x00")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x3041), m.ProductID)

	_, err = LookupSerialIdent("Nikon")
	require.ErrorIs(t, err, ErrUnsupportedModel)

	m, err = LookupName("powershot g2")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x3055), m.ProductID)

	// lookups hand out copies
	m.Name = "changed"
	again, err := LookupUSB(0x3055)
	require.NoError(t, err)
	assert.Equal(t, "PowerShot G2", again.Name)
}

func TestModelsTable(t *testing.T) {
	t.Parallel()

	all := Models()
	require.NotEmpty(t, all)
	for _, m := range all {
		assert.NotEmpty(t, m.Name)
		assert.True(t, m.HasUSB() || m.SerialIdent != "", "%s has no transport", m.Name)
		assert.Positive(t, m.MaxFile(), "%s has no size limit", m.Name)
	}
	all[0].Name = "changed"
	assert.NotEqual(t, "changed", Models()[0].Name)
}

func TestClassAndCaptureStrings(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "none", ClassNone.String())
	assert.Equal(t, "class 6", Class6.String())
	assert.Equal(t, "supported", CaptureSupported.String())
	assert.Equal(t, "experimental", CaptureExperimental.String())
	assert.Equal(t, "none", CaptureNone.String())
}

func TestBatteryStatusString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "OK (AC adapter)", BatteryStatus{Status: PowerOK}.String())
	assert.Equal(t, "BAD (battery)", BatteryStatus{Status: PowerBad, Source: 0x20}.String())
}

func TestAttributes(t *testing.T) {
	t.Parallel()
	assert.True(t, AttrDirectory.IsDir())
	assert.True(t, AttrRecurseDirectory.IsDir())
	assert.False(t, AttrWriteProtected.IsDir())
	assert.True(t, (AttrWriteProtected | AttrNotDownloaded).WriteProtected())
	assert.False(t, AttrNotDownloaded.Downloaded())
	assert.True(t, Attributes(0).Downloaded())
}

func TestCaptureSessionImage(t *testing.T) {
	t.Parallel()
	s := &CaptureSession{Thumbnail: CapturedImage{Size: 1}, Full: CapturedImage{Size: 2}, Secondary: CapturedImage{Size: 3}}
	for kind, want := range map[ImageKind]uint32{ImageThumbnail: 1, ImageFull: 2, ImageSecondary: 3} {
		img, err := s.Image(kind)
		require.NoError(t, err)
		assert.Equal(t, want, img.Size, kind.String())
	}
	_, err := s.Image(ImageKind(7))
	require.ErrorIs(t, err, ErrInvalidParameter)
	assert.Equal(t, "ImageKind(7)", ImageKind(7).String())
}

func TestCameraTimeRoundTrip(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("CET", 3600)
	wall := time.Date(2004, time.June, 1, 9, 30, 15, 0, loc)
	secs := TimeToCameraTime(wall)
	assert.Equal(t, uint32(time.Date(2004, time.June, 1, 9, 30, 15, 0, time.UTC).Unix()), secs)
	assert.True(t, wall.Equal(CameraTimeToTime(secs, loc)))

	assert.Zero(t, TimeToCameraTime(time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)))
}
