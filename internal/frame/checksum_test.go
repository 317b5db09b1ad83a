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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{
			name: "standard check value",
			data: []byte("123456789"),
			want: 0x906E,
		},
		{
			name: "ACK packet",
			data: []byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x00},
			want: 0xD1DB,
		},
		{
			name: "EOT packet",
			data: []byte{0x00, 0x04, 0x01, 0x00, 0x00, 0x00},
			want: 0xC624,
		},
		{
			name: "9600 speed packet",
			data: []byte{0x00, 0x03, 0x02, 0x02, 0x01, 0x10, 0x00, 0x00, 0x00, 0x00},
			want: 0x39C0,
		},
		{
			name: "115200 speed packet",
			data: []byte{0x00, 0x03, 0x80, 0x02, 0x01, 0x10, 0x00, 0x00, 0x00, 0x00},
			want: 0xF94D,
		},
		{
			name: "power off packet",
			data: []byte{0x00, 0x02},
			want: 0x2C55,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Checksum(tt.data))
			assert.True(t, Verify(tt.data, tt.want))
		})
	}
}

func TestVerify_SingleBitFlip(t *testing.T) {
	t.Parallel()
	data := []byte{0x00, 0x00, 0x03, 0x00, 'a', 'b', 'c'}
	sum := Checksum(data)

	for i := range data {
		for bit := range 8 {
			flipped := append([]byte(nil), data...)
			flipped[i] ^= 1 << bit
			assert.False(t, Verify(flipped, sum), "flip of byte %d bit %d went unnoticed", i, bit)
		}
	}
}
