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
	"io"
	"testing"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		payload []byte
		want    []byte
	}{
		{
			name:    "empty",
			payload: nil,
			want:    []byte{FBEG, FEND},
		},
		{
			name:    "plain bytes",
			payload: []byte{0x00, 0x05, 0x00, 0x00},
			want:    []byte{FBEG, 0x00, 0x05, 0x00, 0x00, FEND},
		},
		{
			name:    "all control bytes",
			payload: []byte{0xC0, 0xC1, 0x7E},
			want:    []byte{FBEG, ESC, 0xE0, ESC, 0xE1, ESC, 0x5E, FEND},
		},
		{
			name:    "xor image of control bytes is not escaped",
			payload: []byte{0xE0, 0xE1, 0x5E},
			want:    []byte{FBEG, 0xE0, 0xE1, 0x5E, FEND},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Encode(tt.payload))
		})
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		wantErr      error
		name         string
		buf          []byte
		want         []byte
		wantConsumed int
	}{
		{
			name:         "simple frame",
			buf:          []byte{FBEG, 0x01, 0x02, FEND},
			want:         []byte{0x01, 0x02},
			wantConsumed: 4,
		},
		{
			name:         "noise before start",
			buf:          []byte{0x55, 0x55, FEND, FBEG, 0x01, FEND, 0x99},
			want:         []byte{0x01},
			wantConsumed: 6,
		},
		{
			name:         "escaped bytes",
			buf:          []byte{FBEG, ESC, 0xE0, ESC, 0x5E, FEND},
			want:         []byte{0xC0, 0x7E},
			wantConsumed: 6,
		},
		{
			name:    "no end marker",
			buf:     []byte{FBEG, 0x01, 0x02},
			wantErr: ErrNeedMoreData,
		},
		{
			name:    "no start marker",
			buf:     []byte{0x01, 0x02},
			wantErr: ErrNeedMoreData,
		},
		{
			name:    "dangling escape",
			buf:     []byte{FBEG, 0x01, ESC, FEND},
			wantErr: canon.ErrFrameCorrupted,
		},
		{
			name:         "restart keeps the newer frame",
			buf:          []byte{FBEG, 0x01, FBEG, 0x02, FEND},
			want:         []byte{0x02},
			wantConsumed: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, consumed, err := Decode(tt.buf)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantConsumed, consumed)
		})
	}
}

func TestDecode_Overflow(t *testing.T) {
	t.Parallel()
	buf := append([]byte{FBEG}, bytes.Repeat([]byte{0x55}, MaxFrameSize+1)...)
	buf = append(buf, FEND)

	_, _, err := Decode(buf)
	require.ErrorIs(t, err, canon.ErrFrameOverflow)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()
	payloads := [][]byte{
		{},
		{0x00},
		{0xC0},
		{0x7E, 0x7E, 0x7E},
		bytes.Repeat([]byte{0xC1, 0x00}, 100),
		ACK(7),
		EOT(255),
	}
	for _, p := range payloads {
		got, consumed, err := Decode(Encode(p))
		require.NoError(t, err)
		assert.Equal(t, len(Encode(p)), consumed)
		assert.Equal(t, p, got)
	}
}

func TestReader_ReadFrame(t *testing.T) {
	t.Parallel()
	var stream []byte
	stream = append(stream, 0x55, 0x55)
	stream = append(stream, Encode([]byte{0x01, 0xC0})...)
	stream = append(stream, Encode([]byte{0x02})...)

	r := NewReader(bytes.NewReader(stream))

	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0xC0}, f)

	f, err = r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, f)

	_, err = r.ReadFrame()
	require.ErrorIs(t, err, io.EOF)
}

func TestReader_OverflowThenRecover(t *testing.T) {
	t.Parallel()
	var stream []byte
	stream = append(stream, FBEG)
	stream = append(stream, bytes.Repeat([]byte{0x55}, MaxFrameSize+10)...)
	stream = append(stream, FEND)
	stream = append(stream, Encode([]byte{0xAA})...)

	r := NewReader(bytes.NewReader(stream))

	_, err := r.ReadFrame()
	require.ErrorIs(t, err, canon.ErrFrameOverflow)

	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, f)
}

func TestReader_DanglingEscape(t *testing.T) {
	t.Parallel()
	r := NewReader(bytes.NewReader([]byte{FBEG, ESC, FEND}))
	_, err := r.ReadFrame()
	require.ErrorIs(t, err, canon.ErrFrameCorrupted)
}
