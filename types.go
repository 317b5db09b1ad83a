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

package canon

import (
	"fmt"
	"time"
)

// Identity is what a camera reports about itself.
type Identity struct {
	Model *Model
	// CameraName is the model string stored in the camera firmware.
	CameraName string
	// Owner is the user-settable owner string.
	Owner string
	// Firmware is the four byte firmware version, most significant first.
	Firmware [4]byte
	// BodyID is the serial number reported by EOS bodies; zero elsewhere.
	BodyID uint32
}

// FirmwareString formats the firmware version the way the camera menus do.
func (id *Identity) FirmwareString() string {
	return fmt.Sprintf("%d.%d.%d.%d", id.Firmware[3], id.Firmware[2], id.Firmware[1], id.Firmware[0])
}

// Power status values.
const (
	PowerOK  = 6
	PowerBad = 4
	// powerMaskBattery is set in the source byte while running on battery.
	powerMaskBattery = 0x20
)

// BatteryStatus is the power report.
type BatteryStatus struct {
	Status byte
	Source byte
}

// OK reports whether the battery level is sufficient.
func (b BatteryStatus) OK() bool { return b.Status == PowerOK }

// OnBattery reports whether the camera runs on its battery rather than AC.
func (b BatteryStatus) OnBattery() bool { return b.Source&powerMaskBattery != 0 }

func (b BatteryStatus) String() string {
	level := "BAD"
	if b.OK() {
		level = "OK"
	}
	source := "AC adapter"
	if b.OnBattery() {
		source = "battery"
	}
	return fmt.Sprintf("%s (%s)", level, source)
}

// DiskInfo is the capacity of a storage device in KiB.
type DiskInfo struct {
	Name      string
	Capacity  uint32
	Available uint32
}

// Attributes are the file attribute bits used in directory entries and by
// SetFileAttributes.
type Attributes uint8

const (
	// AttrWriteProtected marks a file the camera refuses to delete.
	AttrWriteProtected Attributes = 0x01
	// AttrDirectory and AttrRecurseDirectory mark directories.
	AttrDirectory        Attributes = 0x10
	AttrRecurseDirectory Attributes = 0x80
	// AttrNotDownloaded is set until a file has been fetched once.
	AttrNotDownloaded Attributes = 0x20
)

// IsDir reports whether either directory bit is set.
func (a Attributes) IsDir() bool { return a&(AttrDirectory|AttrRecurseDirectory) != 0 }

// WriteProtected reports whether the protect bit is set.
func (a Attributes) WriteProtected() bool { return a&AttrWriteProtected != 0 }

// Downloaded reports whether the file has already been fetched.
func (a Attributes) Downloaded() bool { return a&AttrNotDownloaded == 0 }

// DirEntry is one decoded directory listing record.
type DirEntry struct {
	Time  time.Time
	Name  string
	Size  uint32
	Attrs Attributes
}

// IsDir reports whether the entry is a directory.
func (e *DirEntry) IsDir() bool { return e.Attrs.IsDir() }

// TransferMode is the bitmask telling the camera where captured images go.
type TransferMode uint32

const (
	TransferThumbToPC    TransferMode = 0x01
	TransferFullToPC     TransferMode = 0x02
	TransferThumbToDrive TransferMode = 0x04
	TransferFullToDrive  TransferMode = 0x08
)

// ImageKind selects which captured image FetchImage retrieves.
type ImageKind int

const (
	ImageThumbnail ImageKind = iota
	ImageFull
	ImageSecondary
)

func (k ImageKind) String() string {
	switch k {
	case ImageThumbnail:
		return "thumbnail"
	case ImageFull:
		return "full"
	case ImageSecondary:
		return "secondary"
	default:
		return fmt.Sprintf("ImageKind(%d)", int(k))
	}
}

// CapturedImage is one image announced by the camera after a capture.
type CapturedImage struct {
	Size uint32
	Key  uint32
}

// CaptureSession records what a capture produced. A zero Size means the
// camera did not announce that image.
type CaptureSession struct {
	Thumbnail CapturedImage
	Full      CapturedImage
	Secondary CapturedImage
	Mode      TransferMode
}

// Image returns the record for kind.
func (s *CaptureSession) Image(kind ImageKind) (CapturedImage, error) {
	switch kind {
	case ImageThumbnail:
		return s.Thumbnail, nil
	case ImageFull:
		return s.Full, nil
	case ImageSecondary:
		return s.Secondary, nil
	default:
		return CapturedImage{}, fmt.Errorf("%w: image kind %d", ErrInvalidParameter, int(kind))
	}
}

// ProgressFunc receives transfer progress. total is zero when unknown.
type ProgressFunc func(done, total int)

// StatusFunc receives informational status messages.
type StatusFunc func(msg string)

// Cameras keep a wall clock with no zone. The wire value is the number of
// seconds since 1970-01-01 in that local clock, so conversion goes through
// the host's local zone offset.

// CameraTimeToTime converts a camera timestamp to a time.Time in loc.
func CameraTimeToTime(secs uint32, loc *time.Location) time.Time {
	wall := time.Unix(int64(secs), 0).UTC()
	return time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), 0, loc)
}

// TimeToCameraTime converts t to the camera's wall-clock seconds.
func TimeToCameraTime(t time.Time) uint32 {
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
	secs := wall.Unix()
	if secs < 0 {
		return 0
	}
	return uint32(secs) //nolint:gosec // camera clock is 32-bit
}
