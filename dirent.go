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
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// Directory entry layout.
const (
	direntAttrs   = 0
	direntSize    = 2
	direntTime    = 6
	direntName    = 10
	direntMinSize = 11
	direntMaxName = 256
)

// ParseDirEntries decodes a raw directory listing. The first record
// describes the listed directory itself and is skipped. Timestamps are
// interpreted in loc; nil means time.Local.
//
// A trailing run of NUL bytes shorter than a record is padding some cameras
// append. A record whose name runs past the data or is longer than 256
// bytes ends the listing with what was decoded so far.
func ParseDirEntries(data []byte, loc *time.Location) ([]DirEntry, error) {
	if loc == nil {
		loc = time.Local
	}
	if len(data) < direntMinSize {
		return nil, fmt.Errorf("%w: directory listing of %d bytes", ErrInvalidResponse, len(data))
	}

	end := bytes.IndexByte(data[direntName:], 0)
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated directory name in listing", ErrInvalidResponse)
	}
	pos := direntName + end + 1

	var entries []DirEntry
	for pos < len(data) {
		rest := data[pos:]
		if len(rest) < direntMinSize {
			if allZero(rest) {
				break
			}
			return entries, fmt.Errorf("%w: truncated directory entry at offset %d", ErrInvalidResponse, pos)
		}

		nameLen := bytes.IndexByte(rest[direntName:], 0)
		if nameLen < 0 {
			Debugf("dirent at %d has an unterminated name, stopping", pos)
			break
		}
		if nameLen > direntMaxName {
			Debugf("dirent at %d has a %d byte name, stopping", pos, nameLen)
			break
		}

		if nameLen > 0 {
			e := DirEntry{
				Attrs: Attributes(rest[direntAttrs]),
				Size:  binary.LittleEndian.Uint32(rest[direntSize:]),
				Name:  string(rest[direntName : direntName+nameLen]),
			}
			if ts := binary.LittleEndian.Uint32(rest[direntTime:]); ts != 0 {
				e.Time = CameraTimeToTime(ts, loc)
			}
			entries = append(entries, e)
		}
		pos += direntMinSize + nameLen
	}
	return entries, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// AppendDirEntry encodes one record. It is the inverse of the decoder and
// is used by the camera simulators.
func AppendDirEntry(dst []byte, e *DirEntry) []byte {
	var hdr [direntName]byte
	hdr[direntAttrs] = byte(e.Attrs)
	binary.LittleEndian.PutUint32(hdr[direntSize:], e.Size)
	if !e.Time.IsZero() {
		binary.LittleEndian.PutUint32(hdr[direntTime:], TimeToCameraTime(e.Time))
	}
	dst = append(dst, hdr[:]...)
	dst = append(dst, e.Name...)
	return append(dst, 0)
}
