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

import "github.com/sigurn/crc16"

// The camera uses CRC-16/X-25 over packet header and payload.
var crcTable = crc16.MakeTable(crc16.CRC16_X_25)

// Checksum computes the packet checksum of data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// Verify reports whether data has checksum want.
func Verify(data []byte, want uint16) bool {
	return Checksum(data) == want
}
