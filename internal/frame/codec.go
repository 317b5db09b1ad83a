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

package frame

import (
	"bytes"
	"errors"
	"fmt"

	canon "github.com/ZaparooProject/go-canon"
)

// ErrNeedMoreData is returned by Decode when the buffer holds no complete frame.
var ErrNeedMoreData = errors.New("incomplete frame")

func needsEscape(b byte) bool {
	return b == FBEG || b == FEND || b == ESC
}

// Encode wraps payload in FBEG/FEND, escaping any control byte inside it.
func Encode(payload []byte) []byte {
	n := len(payload) + 2
	for _, b := range payload {
		if needsEscape(b) {
			n++
		}
	}
	out := make([]byte, 0, n)
	out = append(out, FBEG)
	for _, b := range payload {
		if needsEscape(b) {
			out = append(out, ESC, b^XOR)
		} else {
			out = append(out, b)
		}
	}
	return append(out, FEND)
}

// Decode extracts the first frame from buf. Bytes before FBEG are noise and
// skipped. It returns the payload and the number of bytes of buf consumed.
func Decode(buf []byte) (payload []byte, consumed int, err error) {
	start := bytes.IndexByte(buf, FBEG)
	if start < 0 {
		return nil, len(buf), ErrNeedMoreData
	}

	out := make([]byte, 0, 64)
	escaped := false
	for i := start + 1; i < len(buf); i++ {
		b := buf[i]
		switch {
		case escaped:
			if b == FEND || b == FBEG {
				return nil, i, fmt.Errorf("%w: escape followed by 0x%02x", canon.ErrFrameCorrupted, b)
			}
			b ^= XOR
			escaped = false
		case b == ESC:
			escaped = true
			continue
		case b == FEND:
			return out, i + 1, nil
		case b == FBEG:
			out = out[:0]
			continue
		}
		if len(out) >= MaxFrameSize {
			return nil, i + 1, fmt.Errorf("%w: more than %d bytes", canon.ErrFrameOverflow, MaxFrameSize)
		}
		out = append(out, b)
	}
	return nil, start, ErrNeedMoreData
}
