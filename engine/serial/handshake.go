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
	"errors"
	"fmt"
	"strings"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/ZaparooProject/go-canon/internal/frame"
)

// wakeByte is repeated to wake a sleeping camera.
const wakeByte = 0x55

var wakeBurst = bytes.Repeat([]byte{wakeByte}, 8)

// identOffset is where the identification string starts in the wake reply.
const identOffset = 26

// speedCodes are the camera's codes for each supported line speed.
var speedCodes = map[int]byte{
	9600:   0x02,
	19200:  0x08,
	38400:  0x20,
	57600:  0x40,
	115200: 0x80,
}

// SupportedSpeeds lists the line speeds a camera can be switched to.
func SupportedSpeeds() []int {
	return []int{9600, 19200, 38400, 57600, 115200}
}

// speedPacket builds the packet that tells the camera its new line speed.
func speedPacket(baud int) ([]byte, error) {
	code, ok := speedCodes[baud]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported speed %d", canon.ErrInvalidParameter, baud)
	}
	pkt := []byte{0x00, 0x03, code, 0x02, 0x01, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	crc := frame.Checksum(pkt[:10])
	pkt[10] = byte(crc)
	pkt[11] = byte(crc >> 8)
	return pkt, nil
}

// powerOffPacket switches the camera off.
var powerOffPacket = []byte{0x00, 0x02, 0x55, 0x2C}

// hsState names a step of the connection handshake.
type hsState int

const (
	hsStart hsState = iota
	hsPing
	hsPingSaved
	hsReset
	hsWake
	hsAwaitEOT
	hsNegotiate
	hsConfirm
	hsReady
)

func (s hsState) String() string {
	switch s {
	case hsStart:
		return "start"
	case hsPing:
		return "ping"
	case hsPingSaved:
		return "ping-saved-speed"
	case hsReset:
		return "reset"
	case hsWake:
		return "wake"
	case hsAwaitEOT:
		return "await-eot"
	case hsNegotiate:
		return "negotiate"
	case hsConfirm:
		return "confirm"
	case hsReady:
		return "ready"
	default:
		return fmt.Sprintf("hsState(%d)", int(s))
	}
}

// handshake brings a camera from unknown state to a live link.
type handshake struct {
	e      *Engine
	l      *Link
	ident  string
	resets int
}

type hsStep func(h *handshake, ctx context.Context) (hsState, error)

var hsTransitions = map[hsState]hsStep{
	hsStart:     (*handshake).start,
	hsPing:      (*handshake).ping,
	hsPingSaved: (*handshake).pingSaved,
	hsReset:     (*handshake).reset,
	hsWake:      (*handshake).wake,
	hsAwaitEOT:  (*handshake).awaitEOT,
	hsNegotiate: (*handshake).negotiate,
	hsConfirm:   (*handshake).confirm,
}

// maxResets bounds how many times the handshake power-cycles the camera.
const maxResets = 1

func (h *handshake) run(ctx context.Context) error {
	state := hsStart
	for state != hsReady {
		if err := ctx.Err(); err != nil {
			return err
		}
		step, ok := hsTransitions[state]
		if !ok {
			return fmt.Errorf("handshake: no transition from %s", state)
		}
		next, err := step(h, ctx)
		if err != nil {
			return fmt.Errorf("handshake %s: %w", state, err)
		}
		h.l.log.Debugf("handshake %s -> %s", state, next)
		state = next
	}
	h.l.ready = true
	h.l.state = State{Phase: PhaseIdle}
	return nil
}

func (h *handshake) start(context.Context) (hsState, error) {
	if err := h.l.setTimeout(canon.SerialWakeTimeout); err != nil {
		return 0, err
	}
	if err := h.l.flush(); err != nil {
		return 0, err
	}
	if h.l.ready {
		return hsPing, nil
	}
	return hsWake, nil
}

// pingOnce sends an empty EOT and reports whether it was acknowledged.
func (h *handshake) pingOnce(ctx context.Context) (bool, error) {
	if err := h.l.sendFrame(frame.PingEOT(h.l.seqTx), "ping"); err != nil {
		return false, err
	}
	err := h.l.waitForAck(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errNACK):
		return false, canon.ErrNACKReceived
	case errors.Is(err, canon.ErrNoACK):
		return false, nil
	default:
		return false, err
	}
}

func (h *handshake) ping(ctx context.Context) (hsState, error) {
	ok, err := h.pingOnce(ctx)
	if err != nil {
		return 0, err
	}
	if ok {
		return hsReady, nil
	}
	return hsPingSaved, nil
}

func (h *handshake) pingSaved(ctx context.Context) (hsState, error) {
	if h.e.speed != canon.SerialDefaultSpeed {
		if err := h.l.setSpeed(h.e.speed); err != nil {
			h.l.log.WithError(err).Warn("could not change speed")
		}
	}
	ok, err := h.pingOnce(ctx)
	if err != nil {
		return 0, err
	}
	if ok {
		return hsReady, nil
	}
	return hsReset, nil
}

func (h *handshake) reset(context.Context) (hsState, error) {
	if h.resets >= maxResets {
		return 0, fmt.Errorf("%w: camera does not answer after reset", canon.ErrLinkLost)
	}
	h.resets++
	h.e.status("Resetting protocol...")
	if err := h.l.powerOff(); err != nil {
		return 0, err
	}
	h.l.sleep(canon.SerialResetDelay)
	h.l.ready = false
	return hsStart, nil
}

func (h *handshake) wake(context.Context) (hsState, error) {
	h.e.status("Looking for camera ...")
	if h.l.fatal != nil {
		h.l.log.WithError(h.l.fatal).Debug("recovering from failed session")
		if err := h.l.setSpeed(canon.SerialDefaultSpeed); err != nil {
			return 0, err
		}
		h.l.fatal = nil
	}
	h.l.slow = false

	var reply []byte
	for try := 1; try <= h.l.maxTries && reply == nil; try++ {
		if err := h.l.write(wakeBurst); err != nil {
			return 0, err
		}
		raw, err := h.l.recvFrame()
		if err != nil {
			if isSilence(err) {
				continue
			}
			return 0, err
		}
		reply = append([]byte(nil), raw...)
	}
	if reply == nil {
		return 0, fmt.Errorf("%w: no response to wake-up", canon.ErrCameraNotFound)
	}
	if len(reply) <= identOffset {
		return 0, fmt.Errorf("%w: wake-up reply of %d bytes", canon.ErrInvalidResponse, len(reply))
	}
	ident := string(reply[identOffset:])
	if i := strings.IndexByte(ident, 0); i >= 0 {
		ident = ident[:i]
	}
	if !strings.Contains(ident, "Canon") {
		return 0, fmt.Errorf("%w: unrecognized identification %q", canon.ErrUnsupportedModel, ident)
	}
	h.ident = ident
	h.l.log.WithField("ident", ident).Debug("camera woke up")

	if err := h.e.resolveModel(ident); err != nil {
		return 0, err
	}
	return hsAwaitEOT, nil
}

func (h *handshake) awaitEOT(context.Context) (hsState, error) {
	if err := h.l.setTimeout(canon.SerialReplyTimeout); err != nil {
		return 0, err
	}
	pkt, err := h.l.recvPacket()
	if err != nil {
		return 0, err
	}
	if pkt.Type != frame.TypeEOT || pkt.Seq != 0 {
		return 0, fmt.Errorf("%w: bad EOT after wake-up: %s", canon.ErrProtocolDesync, pkt)
	}
	return hsNegotiate, nil
}

func (h *handshake) negotiate(ctx context.Context) (hsState, error) {
	h.l.seqTx = 0
	h.l.seqRx = 1

	speedPkt, err := speedPacket(h.e.speed)
	if err != nil {
		return 0, err
	}
	if err := h.l.sendFrame(frame.ACK(0), "ACK wake EOT"); err != nil {
		return 0, err
	}
	if err := h.l.sendFrame(speedPkt, "speed"); err != nil {
		return 0, err
	}
	if err := h.l.sendFrame(frame.EOT(0), "EOT"); err != nil {
		return 0, err
	}

	h.e.status("Changing speed... wait...")
	if err := h.l.waitForAck(ctx); err != nil && !errors.Is(err, errNACK) {
		return 0, err
	}
	if h.e.speed != canon.SerialDefaultSpeed {
		if err := h.l.setSpeed(h.e.speed); err != nil {
			h.l.log.WithError(err).Warn("could not change speed")
		}
	}
	return hsConfirm, nil
}

func (h *handshake) confirm(ctx context.Context) (hsState, error) {
	for try := 1; try <= h.l.maxTries; try++ {
		ok, err := h.pingOnce(ctx)
		if err != nil && !errors.Is(err, canon.ErrNACKReceived) {
			return 0, err
		}
		if ok {
			h.e.status("Connected to camera")
			return hsReady, nil
		}
		h.l.log.WithField("try", try).Debug("no ACK during initialization, retrying")
	}
	return 0, fmt.Errorf("%w: during initialization", canon.ErrNoACK)
}

// powerOff switches the camera off and drops the host back to 9600 baud.
func (l *Link) powerOff() error {
	if err := l.sendFrame(powerOffPacket, "power off"); err != nil {
		return err
	}
	l.sleep(slowSendDelay)
	if err := l.sendFrame(frame.EOT(0), "EOT"); err != nil {
		return err
	}
	l.ready = false
	return l.setSpeed(canon.SerialDefaultSpeed)
}
