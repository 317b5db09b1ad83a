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

// Package frame implements the serial wire format: byte-stuffed frames
// carrying checksummed packets.
package frame

// Frame markers and control bytes
const (
	FBEG = 0xC0 // Frame start
	FEND = 0xC1 // Frame end
	ESC  = 0x7E // Escape prefix
	XOR  = 0x20 // Escaped bytes are sent XOR this value
)

// MaxFrameSize is the largest un-stuffed frame accepted on receive.
const MaxFrameSize = 5000

// Packet layout
const (
	PacketHeaderLen = 4
	CRCLen          = 2

	offSeq    = 0
	offType   = 1
	offLenLSB = 2
	offLenMSB = 3

	// MinPacketLen is a header plus checksum.
	MinPacketLen = PacketHeaderLen + CRCLen
	// MaxPacketPayload is the largest payload a length field can describe.
	MaxPacketPayload = 0xFFFF
	// controlPayloadLen is the payload size of EOT, ACK and NACK packets,
	// whatever their length field says.
	controlPayloadLen = 2
)

// PacketType is the type byte of a packet header.
type PacketType byte

// Packet types on the wire
const (
	TypeMSG PacketType = 0x00
	TypeEOT PacketType = 0x04
	TypeACK PacketType = 0x05
)

func (t PacketType) String() string {
	switch t {
	case TypeMSG:
		return "MSG"
	case TypeEOT:
		return "EOT"
	case TypeACK:
		return "ACK"
	default:
		return "0x" + hexByte(byte(t))
	}
}

// Subcodes in header byte 2 of control packets.
const (
	// nackSend marks an ACK as a NACK when the host sends it.
	nackSend = 0xFF
	// NACKReceived marks an ACK as a NACK when the camera sends it.
	NACKReceived = 0x01
	// uploadEOT marks an EOT closing an upload.
	uploadEOT = 0x03
)

func hexByte(b byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0x0F]})
}
