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
	"encoding/binary"
	"fmt"

	canon "github.com/ZaparooProject/go-canon"
)

// Packet is a decoded packet.
type Packet struct {
	// Payload is the data of a MSG packet; nil for control packets.
	Payload []byte
	// Length is the header length field. For control packets its low byte
	// is a subcode (NACK, upload).
	Length uint16
	Seq    byte
	Type   PacketType
}

// IsNACK reports whether p is a negative acknowledgement.
func (p *Packet) IsNACK() bool {
	return p.Type == TypeACK && byte(p.Length) == NACKReceived
}

func (p *Packet) String() string {
	if p.Type == TypeMSG {
		return fmt.Sprintf("MSG seq=%d len=%d", p.Seq, len(p.Payload))
	}
	if p.IsNACK() {
		return fmt.Sprintf("NACK seq=%d", p.Seq)
	}
	return fmt.Sprintf("%s seq=%d sub=%d", p.Type, p.Seq, byte(p.Length))
}

func build(typ PacketType, seq byte, length uint16, payload []byte) []byte {
	out := make([]byte, PacketHeaderLen+len(payload)+CRCLen)
	out[offSeq] = seq
	out[offType] = byte(typ)
	binary.LittleEndian.PutUint16(out[offLenLSB:], length)
	copy(out[PacketHeaderLen:], payload)
	body := len(out) - CRCLen
	binary.LittleEndian.PutUint16(out[body:], Checksum(out[:body]))
	return out
}

// BuildMessage returns a MSG packet carrying payload.
func BuildMessage(seq byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPacketPayload {
		return nil, fmt.Errorf("%w: packet payload of %d bytes", canon.ErrMessageTooLarge, len(payload))
	}
	return build(TypeMSG, seq, uint16(len(payload)), payload), nil //nolint:gosec // bounded above
}

// BuildControl returns an EOT or ACK packet. Control packets always carry
// two zero payload bytes; sub goes into the low byte of the length field.
func BuildControl(typ PacketType, seq, sub byte) []byte {
	return build(typ, seq, uint16(sub), make([]byte, controlPayloadLen))
}

// ACK acknowledges the message with sequence seq.
func ACK(seq byte) []byte { return BuildControl(TypeACK, seq, 0) }

// NACK asks the camera to retransmit.
func NACK(seq byte) []byte { return BuildControl(TypeACK, seq, nackSend) }

// EOT closes a message.
func EOT(seq byte) []byte { return BuildControl(TypeEOT, seq, 1) }

// PingEOT is an empty EOT used to check that the camera is still listening.
func PingEOT(seq byte) []byte { return BuildControl(TypeEOT, seq, 0) }

// UploadEOT closes an upload message.
func UploadEOT(seq byte) []byte { return BuildControl(TypeEOT, seq, uploadEOT) }

// ParsePacket validates and decodes an un-stuffed frame.
func ParsePacket(raw []byte) (*Packet, error) {
	if len(raw) < MinPacketLen {
		return nil, fmt.Errorf("%w: %d bytes", canon.ErrPacketTruncated, len(raw))
	}
	p := &Packet{
		Seq:    raw[offSeq],
		Type:   PacketType(raw[offType]),
		Length: binary.LittleEndian.Uint16(raw[offLenLSB:]),
	}
	body := len(raw) - CRCLen
	if p.Type == TypeMSG && int(p.Length)+PacketHeaderLen > body {
		return nil, fmt.Errorf("%w: declared %d, have %d", canon.ErrLengthMismatch,
			p.Length, body-PacketHeaderLen)
	}
	want := binary.LittleEndian.Uint16(raw[body:])
	if !Verify(raw[:body], want) {
		return nil, fmt.Errorf("%w: got 0x%04x, computed 0x%04x", canon.ErrChecksumMismatch,
			want, Checksum(raw[:body]))
	}
	if p.Type == TypeMSG {
		p.Payload = make([]byte, p.Length)
		copy(p.Payload, raw[PacketHeaderLen:])
	}
	return p, nil
}
