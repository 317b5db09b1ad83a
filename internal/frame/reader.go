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
	"bufio"
	"fmt"
	"io"

	canon "github.com/ZaparooProject/go-canon"
)

// Reader pulls frames off a byte stream.
//
// A read error (typically a timeout) aborts the frame in progress; the
// next ReadFrame starts over by hunting for FBEG.
type Reader struct {
	src io.Reader
	br  *bufio.Reader
	buf []byte
}

// NewReader returns a Reader on src.
func NewReader(src io.Reader) *Reader {
	return &Reader{
		src: src,
		br:  bufio.NewReaderSize(src, 256),
		buf: make([]byte, 0, 256),
	}
}

// Reset drops any buffered bytes.
func (r *Reader) Reset() {
	r.br.Reset(r.src)
}

// ReadFrame returns the next un-stuffed frame. The returned slice is only
// valid until the next call.
func (r *Reader) ReadFrame() ([]byte, error) {
	for {
		c, err := r.br.ReadByte()
		if err != nil {
			return nil, err
		}
		if c == FBEG {
			break
		}
	}

	r.buf = r.buf[:0]
	for {
		c, err := r.br.ReadByte()
		if err != nil {
			return nil, err
		}
		switch c {
		case FEND:
			return r.buf, nil
		case FBEG:
			// A new frame started before this one ended; keep the newer one.
			r.buf = r.buf[:0]
			continue
		case ESC:
			c, err = r.br.ReadByte()
			if err != nil {
				return nil, err
			}
			if c == FEND || c == FBEG {
				return nil, fmt.Errorf("%w: escape followed by 0x%02x", canon.ErrFrameCorrupted, c)
			}
			c ^= XOR
		}
		if len(r.buf) >= MaxFrameSize {
			return nil, fmt.Errorf("%w: more than %d bytes", canon.ErrFrameOverflow, MaxFrameSize)
		}
		r.buf = append(r.buf, c)
	}
}
