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

package serial

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	canon "github.com/ZaparooProject/go-canon"
)

// File chunk layout: status, total, offset, size, end flag, then data.
const (
	chunkStatus = 0
	chunkTotal  = 4
	chunkOffset = 8
	chunkSize   = 12
	chunkEnd    = 16
	chunkData   = 20
)

// Upper bounds on a declared serial file size.
const (
	serialFileLimit      = 2_000_000
	serialLargeFileLimit = 10_000_000
	serialThumbLimit     = 2_000_000
)

// maxSerialPath is the longest path the one-byte length field can carry.
const maxSerialPath = 254

// fileLimit returns the largest file the model is trusted to send.
func (e *Engine) fileLimit() int {
	switch e.model.Name {
	case "PowerShot S10", "PowerShot S20", "PowerShot G1", "PowerShot G2":
		return serialLargeFileLimit
	}
	return serialFileLimit
}

// GetFile downloads a file.
func (e *Engine) GetFile(ctx context.Context, path string, progress canon.ProgressFunc) ([]byte, error) {
	if e.model == nil {
		return nil, fmt.Errorf("%w: engine not initialised", canon.ErrTransportNotReady)
	}
	data, err := e.download(ctx, path, false, e.fileLimit(), progress)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return data, nil
}

// GetThumbnail downloads the thumbnail of a picture and returns the JPEG
// embedded in it.
func (e *Engine) GetThumbnail(ctx context.Context, path string, progress canon.ProgressFunc) ([]byte, error) {
	if e.model == nil {
		return nil, fmt.Errorf("%w: engine not initialised", canon.ErrTransportNotReady)
	}
	data, err := e.download(ctx, path, true, serialThumbLimit, progress)
	if err != nil {
		return nil, fmt.Errorf("thumbnail %s: %w", path, err)
	}
	return extractJPEG(data), nil
}

func (e *Engine) download(
	ctx context.Context, path string, thumb bool, limit int, progress canon.ProgressFunc,
) ([]byte, error) {
	if len(path) > maxSerialPath {
		return nil, fmt.Errorf("%w: path longer than %d bytes", canon.ErrInvalidParameter, maxSerialPath)
	}
	payload := make([]byte, 8, 8+len(path)+1)
	if thumb {
		payload[0] = 0x01
	}
	payload[5] = byte(len(path) + 1)
	payload = append(payload, cpath(path)...)

	msg, err := e.dialogue(ctx, opGetFile, dirFile, payload)
	if err != nil {
		return nil, err
	}
	if len(msg) < chunkData {
		return nil, fmt.Errorf("%w: first chunk of %d bytes", canon.ErrShortRead, len(msg))
	}
	total := int(binary.LittleEndian.Uint32(msg[chunkTotal:]))
	if total > limit {
		return nil, fmt.Errorf("%w: %d bytes declared, limit %d", canon.ErrSuspiciousLength, total, limit)
	}

	data := make([]byte, total)
	expect := 0
	for {
		if len(msg) < chunkData {
			return nil, fmt.Errorf("%w: chunk of %d bytes", canon.ErrShortRead, len(msg))
		}
		if st := binary.LittleEndian.Uint32(msg[chunkStatus:]); st != 0 {
			return nil, canon.NewCameraStatusError("file chunk", st)
		}
		offset := int(binary.LittleEndian.Uint32(msg[chunkOffset:]))
		size := int(binary.LittleEndian.Uint32(msg[chunkSize:]))
		if offset != expect || expect+size > total || size > len(msg)-chunkData {
			return nil, fmt.Errorf("%w: chunk at %d+%d does not fit (expected %d of %d)",
				canon.ErrProtocolDesync, offset, size, expect, total)
		}
		copy(data[expect:], msg[chunkData:chunkData+size])
		expect += size
		if progress != nil {
			progress(expect, total)
		}
		last := binary.LittleEndian.Uint32(msg[chunkEnd:]) != 0
		if last != (expect == total) {
			return nil, fmt.Errorf("%w: end mark disagrees with data (%d of %d)",
				canon.ErrProtocolDesync, expect, total)
		}
		if last {
			return data, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err = e.link.recvMessage(ctx, opGetFile, dirFile^dirReverse)
		if err != nil {
			return nil, e.link.trace.WrapError(err)
		}
	}
}

// JPEG markers used to find the thumbnail inside an EXIF header.
var (
	jpegStart = []byte{0xFF, 0xD8, 0xFF}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// extractJPEG returns the first JPEG embedded after the start of data,
// which in an EXIF file is the thumbnail. Data without one is returned
// unchanged.
func extractJPEG(data []byte) []byte {
	if len(data) < len(jpegStart) {
		return data
	}
	start := bytes.Index(data[1:], jpegStart)
	if start < 0 {
		return data
	}
	start++
	end := bytes.Index(data[start:], jpegEnd)
	if end < 0 {
		return data
	}
	return data[start : start+end+len(jpegEnd)]
}
