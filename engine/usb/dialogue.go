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

package usb

import (
	"context"
	"fmt"

	canon "github.com/ZaparooProject/go-canon"
)

// Request envelope layout.
const (
	envelopeLen   = 0x50
	maxPacket     = 1024
	maxPayload    = maxPacket - envelopeLen
	offCmd3       = 0x04
	offMarker     = 0x40
	offCmd1       = 0x44
	offFlag       = 0x46
	offCmd2       = 0x47
	offLength     = 0x48
	offSerial     = 0x4c
	replyBlock    = 0x40
	replyStatus   = envelopeLen
	minShortReply = envelopeLen + 4
)

// envelope builds the request for cmd. The serial number increments with
// every request of the session.
func (e *Engine) envelope(cmd Command, payload []byte) []byte {
	req := make([]byte, envelopeLen+len(payload))
	size := uint32(0x10 + len(payload)) //nolint:gosec // payload is bounded by maxPayload
	le.PutUint32(req, size)
	le.PutUint32(req[offCmd3:], cmd.Cmd3)
	req[offMarker] = 0x02
	req[offCmd1] = cmd.Cmd1
	req[offFlag] = e.profile.EnvelopeFlag(cmd.Cmd3)
	req[offCmd2] = cmd.Cmd2
	le.PutUint32(req[offLength:], size)
	le.PutUint32(req[offSerial:], e.serial)
	e.serial++
	copy(req[envelopeLen:], payload)
	return req
}

// dialogue sends op and reads its reply. Short commands return the data
// after the 0x50 byte reply header, with a non-zero status word turned into
// a *canon.CameraStatusError. Long commands return the whole 0x40 byte
// header block for longTransfer to interpret.
func (e *Engine) dialogue(ctx context.Context, op Op, payload []byte) ([]byte, error) {
	if !e.ready {
		return nil, fmt.Errorf("%w: engine not initialised", canon.ErrTransportNotReady)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd, err := e.profile.Command(op)
	if err != nil {
		return nil, err
	}
	replyLen := cmd.ReplyLen
	name := cmd.Name
	if op == OpControl {
		if len(payload) < 4 {
			return nil, fmt.Errorf("%w: control request without subcommand", canon.ErrInvalidParameter)
		}
		sub := Subcommand(le.Uint32(payload))
		sc, ok := subcommands[sub]
		if !ok {
			return nil, fmt.Errorf("%w: control subcommand 0x%02x", canon.ErrUnknownOperation, uint32(sub))
		}
		replyLen += sc.addReply
		name = sc.name
	}
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("%s: %w: payload of %d bytes", name, canon.ErrMessageTooLarge, len(payload))
	}

	req := e.envelope(cmd, payload)
	request := uint8(0x04)
	if len(req) <= 1 {
		request = 0x0c
	}
	e.log.Debugf("> %s (0x%02x 0x%02x 0x%x)", name, cmd.Cmd1, cmd.Cmd2, cmd.Cmd3)
	e.trace.RecordTX(req, name)
	n, err := e.dev.ControlWrite(request, 0x10, 0, req)
	if err != nil {
		return nil, e.trace.WrapError(fmt.Errorf("%s: %w", name, err))
	}
	if n != len(req) {
		return nil, e.trace.WrapError(canon.NewTransportWriteError(name, e.dev.Path()))
	}

	reply, err := e.readReply(cmd, replyLen)
	if err != nil {
		return nil, e.trace.WrapError(fmt.Errorf("%s: %w", name, err))
	}
	if cmd.Long() {
		return reply, nil
	}
	if len(reply) < minShortReply {
		return nil, e.trace.WrapError(fmt.Errorf("%s: %w: reply of %d bytes", name, canon.ErrShortRead, len(reply)))
	}
	data := reply[replyStatus:]
	if code := le.Uint32(data); code != canon.StatusOK {
		se := canon.NewCameraStatusError(name, code)
		e.log.Debugf("camera status %q in reply to %s", se.Message(), name)
		return nil, se
	}
	return data, nil
}

// readReply reads a reply in two parts: the expected length rounded down
// to 0x40, then the rest. Some cameras reject a single read. The length
// the camera reports in the first part wins over the table when they
// disagree.
func (e *Engine) readReply(cmd Command, replyLen int) ([]byte, error) {
	first := replyLen &^ (replyBlock - 1)
	buf := make([]byte, first, maxReplyLen)
	n, err := e.dev.BulkRead(buf)
	if err != nil {
		return nil, err
	}
	e.trace.RecordRX(buf[:n], "reply")
	if n != first {
		return nil, fmt.Errorf("%w: read 0x%x of 0x%x bytes", canon.ErrShortRead, n, first)
	}

	total := replyLen
	if !cmd.Long() {
		reported := le.Uint32(buf)
		if reported == 0 && first >= envelopeLen {
			reported = le.Uint32(buf[offLength:])
		}
		if reported > 0 && uint64(reported)+replyBlock != uint64(replyLen) {
			if uint64(reported)+replyBlock > maxReplyLen {
				return nil, fmt.Errorf("%w: camera reports 0x%x byte reply", canon.ErrSuspiciousLength,
					uint64(reported)+replyBlock)
			}
			e.log.Warnf("%s: expected 0x%x bytes, camera reports 0x%x", cmd.Name, replyLen, int(reported)+replyBlock)
			total = int(reported) + replyBlock
		}
	}
	if total > maxReplyLen {
		return nil, fmt.Errorf("%w: 0x%x byte reply", canon.ErrSuspiciousLength, total)
	}
	if total <= first {
		return buf[:total], nil
	}

	rest := buf[first:total]
	n, err = e.dev.BulkRead(rest)
	if err != nil {
		return nil, err
	}
	e.trace.RecordRX(rest[:n], "reply tail")
	if n != len(rest) {
		return nil, fmt.Errorf("%w: read 0x%x of 0x%x trailing bytes", canon.ErrShortRead, n, len(rest))
	}
	return buf[:total], nil
}

// controlReply runs a remote control subcommand and returns its reply data.
func (e *Engine) controlReply(ctx context.Context, sub Subcommand, word0, word1 uint32) ([]byte, error) {
	payload, _, err := controlPayload(sub, word0, word1)
	if err != nil {
		return nil, err
	}
	payload = append(payload, e.profile.ControlSuffix()...)
	return e.dialogue(ctx, OpControl, payload)
}

func (e *Engine) control(ctx context.Context, sub Subcommand, word0, word1 uint32) error {
	_, err := e.controlReply(ctx, sub, word0, word1)
	return err
}
