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
	"errors"
	"fmt"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/ZaparooProject/go-canon/internal/frame"
)

// Message header layout
const (
	msgHeaderLen = 16
	msgOffTag    = 0
	msgOffType   = 4
	msgOffDir    = 7
	msgOffLen    = 8
	msgTag       = 0x02

	// dirReverse turns a request direction into the reply direction.
	dirReverse = 0x30

	// maxMessage is the largest message, header included, the camera accepts.
	maxMessage = frame.MaxPacketPayload - 12
)

// lowBatterySignature appears at offset 12 of the unsolicited message a
// camera sends when it shuts down on a flat battery.
var lowBatterySignature = []byte{0x30, 0x00, 0x00, 0x30}

// Phase is the position of the message layer state machine.
type Phase int

// Message layer phases
const (
	PhaseIdle Phase = iota
	PhaseAwaitAck
	PhaseReceiving
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseAwaitAck:
		return "AwaitAck"
	case PhaseReceiving:
		return "ReceivingFragments"
	case PhaseDone:
		return "Done"
	case PhaseFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// FailKind says why the message layer gave up.
type FailKind int

// Failure kinds
const (
	FailNone FailKind = iota
	FailLinkLoss
	FailLowBattery
	FailCorrupt
	FailDesync
)

func (k FailKind) String() string {
	switch k {
	case FailNone:
		return "none"
	case FailLinkLoss:
		return "FatalLinkLoss"
	case FailLowBattery:
		return "LowBattery"
	case FailCorrupt:
		return "Corrupt"
	case FailDesync:
		return "ProtocolDesync"
	default:
		return fmt.Sprintf("FailKind(%d)", int(k))
	}
}

// State is a phase plus, for PhaseFailed, the reason.
type State struct {
	Phase Phase
	Kind  FailKind
}

func (s State) String() string {
	if s.Phase == PhaseFailed {
		return fmt.Sprintf("Failed(%s)", s.Kind)
	}
	return s.Phase.String()
}

// buildMessage prepends the message header to payload.
func buildMessage(mtype, dir byte, payload []byte) ([]byte, error) {
	total := msgHeaderLen + len(payload)
	if total > maxMessage {
		return nil, fmt.Errorf("%w: %d bytes", canon.ErrMessageTooLarge, total)
	}
	msg := make([]byte, total)
	msg[msgOffTag] = msgTag
	msg[msgOffType] = mtype
	msg[msgOffDir] = dir
	binary.LittleEndian.PutUint16(msg[msgOffLen:], uint16(total)) //nolint:gosec // bounded above
	copy(msg[msgHeaderLen:], payload)
	return msg, nil
}

// errNACK is internal: the camera asked for a retransmission.
var errNACK = errors.New("nack")

// waitForAck waits for the ACK of the packet sent with seqTx. Stale EOTs
// are acknowledged again; anything else gets a NACK.
func (l *Link) waitForAck(ctx context.Context) error {
	for strays := 0; ; strays++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if strays > l.maxTries {
			return fmt.Errorf("%w: too many stray packets", canon.ErrNoACK)
		}
		pkt, err := l.recvPacket()
		if err != nil {
			if isSilence(err) {
				return fmt.Errorf("%w: %w", canon.ErrNoACK, err)
			}
			return err
		}
		switch {
		case pkt.Type == frame.TypeACK && pkt.Seq == l.seqTx:
			if pkt.IsNACK() {
				return errNACK
			}
			l.seqTx++
			return nil
		case pkt.Type == frame.TypeEOT:
			l.log.WithField("seq", pkt.Seq).Debug("old EOT, acknowledging again")
			if err := l.sendFrame(frame.ACK(pkt.Seq), "ACK stale EOT"); err != nil {
				return err
			}
		default:
			l.log.Debugf("expected ACK %d, got %s", l.seqTx, pkt)
			if err := l.sendFrame(frame.NACK(l.seqRx), "NACK stray"); err != nil {
				return err
			}
		}
	}
}

// sendMessage sends one message and waits for its acknowledgement,
// retransmitting up to maxTries times.
func (l *Link) sendMessage(ctx context.Context, mtype, dir byte, payload []byte) error {
	if l.fatal != nil {
		return l.fatal
	}
	msg, err := buildMessage(mtype, dir, payload)
	if err != nil {
		return err
	}

	for try := 1; try <= l.maxTries; try++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.state = State{Phase: PhaseAwaitAck}
		if err := l.transmit(msg); err != nil {
			return err
		}
		err := l.waitForAck(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errNACK):
			l.log.WithField("try", try).Debug("NACK, sending again")
		case errors.Is(err, canon.ErrNoACK):
			l.log.WithField("try", try).WithError(err).Debug("no ACK")
			if try == 2 {
				l.probe(ctx)
			}
		default:
			return err
		}
	}
	return l.fail(FailLinkLoss, fmt.Errorf("%w: message 0x%02x/0x%02x not acknowledged after %d tries",
		canon.ErrLinkLost, mtype, dir, l.maxTries))
}

// transmit writes msg as MSG packets followed by the closing EOT.
func (l *Link) transmit(msg []byte) error {
	var fragment byte
	for off := 0; off < len(msg); off += frame.MaxPacketPayload {
		end := min(off+frame.MaxPacketPayload, len(msg))
		pkt, err := frame.BuildMessage(fragment, msg[off:end])
		if err != nil {
			return err
		}
		if err := l.sendFrame(pkt, "MSG"); err != nil {
			return err
		}
		fragment++
	}
	return l.sendFrame(frame.EOT(l.seqTx), "EOT")
}

// probe pings the camera after repeated silence so the log shows whether
// it is still there.
func (l *Link) probe(ctx context.Context) {
	if err := l.sendFrame(frame.PingEOT(l.seqTx), "ping"); err != nil {
		return
	}
	if err := l.waitForAck(ctx); err != nil {
		l.log.WithError(err).Warn("camera does not answer pings")
		return
	}
	l.log.Debug("camera answered ping")
}

// recvMessage reassembles the next message of the given type and
// direction and returns the data after its header.
//
// A damaged packet spoils the whole message: the rest is discarded and the
// closing EOT is answered with a NACK so the camera starts over.
func (l *Link) recvMessage(ctx context.Context, mtype, dir byte) ([]byte, error) {
	if l.fatal != nil {
		return nil, l.fatal
	}
	l.state = State{Phase: PhaseReceiving}

	var (
		data     []byte
		declared int
		started  bool
		spoiled  bool
		faults   int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if faults > l.maxTries {
			l.state = State{Phase: PhaseFailed, Kind: FailCorrupt}
			return nil, fmt.Errorf("%w: message 0x%02x/0x%02x kept arriving damaged",
				canon.ErrChecksumMismatch, mtype, dir)
		}
		pkt, err := l.recvPacket()
		if err != nil {
			if isCorrupt(err) {
				faults++
				spoiled = true
				continue
			}
			return nil, err
		}

		switch pkt.Type {
		case frame.TypeMSG:
			if spoiled {
				continue
			}
			if !started {
				declared, err = l.checkHeader(pkt.Payload, mtype, dir)
				if err != nil {
					return nil, err
				}
				started = true
				data = append(data[:0], pkt.Payload[msgHeaderLen:]...)
			} else {
				data = append(data, pkt.Payload...)
			}
			if len(data) > declared {
				l.state = State{Phase: PhaseFailed, Kind: FailDesync}
				return nil, fmt.Errorf("%w: message overrun, %d bytes for %d declared",
					canon.ErrLengthMismatch, len(data), declared)
			}

		case frame.TypeEOT:
			switch {
			case spoiled:
				l.log.WithField("seq", pkt.Seq).Debug("damaged message, asking for it again")
				l.seqRx = pkt.Seq
				if err := l.sendFrame(frame.NACK(l.seqRx), "NACK damaged"); err != nil {
					return nil, err
				}
				spoiled, started = false, false
				data = data[:0]
			case !started:
				l.log.WithField("seq", pkt.Seq).Debug("old EOT, acknowledging again")
				if err := l.sendFrame(frame.ACK(pkt.Seq), "ACK stale EOT"); err != nil {
					return nil, err
				}
				faults++
			case pkt.Seq != l.seqRx:
				l.state = State{Phase: PhaseFailed, Kind: FailDesync}
				return nil, fmt.Errorf("%w: EOT %d, expected %d", canon.ErrOutOfSequence, pkt.Seq, l.seqRx)
			default:
				if err := l.sendFrame(frame.ACK(l.seqRx), "ACK"); err != nil {
					return nil, err
				}
				l.seqRx++
				if len(data) != declared {
					l.log.Warnf("message 0x%02x/0x%02x: %d bytes, header said %d", mtype, dir, len(data), declared)
				}
				l.state = State{Phase: PhaseDone}
				return data, nil
			}

		default:
			if started && !spoiled {
				l.state = State{Phase: PhaseFailed, Kind: FailDesync}
				return nil, fmt.Errorf("%w: %s inside a message", canon.ErrUnexpectedPacket, pkt)
			}
			l.log.Debugf("ignoring %s while waiting for a message", pkt)
			faults++
		}
	}
}

// checkHeader validates the first fragment of a message and returns the
// declared data length.
func (l *Link) checkHeader(p []byte, mtype, dir byte) (int, error) {
	if len(p) < msgHeaderLen || p[msgOffTag] != msgTag {
		l.state = State{Phase: PhaseFailed, Kind: FailDesync}
		return 0, fmt.Errorf("%w: bad message header", canon.ErrInvalidResponse)
	}
	if p[msgOffType] != mtype || p[msgOffDir] != dir {
		if p[msgOffType] == 0x01 && p[msgOffDir] == 0x00 && bytes.Equal(p[12:16], lowBatterySignature) {
			l.log.Warn("battery exhausted, camera off")
			return 0, l.fail(FailLowBattery, canon.ErrLowBattery)
		}
		l.state = State{Phase: PhaseFailed, Kind: FailDesync}
		return 0, fmt.Errorf("%w: got 0x%02x/0x%02x, want 0x%02x/0x%02x", canon.ErrUnexpectedMessage,
			p[msgOffType], p[msgOffDir], mtype, dir)
	}
	declared := int(binary.LittleEndian.Uint16(p[msgOffLen:])) - msgHeaderLen
	if declared < 0 {
		l.state = State{Phase: PhaseFailed, Kind: FailDesync}
		return 0, fmt.Errorf("%w: declared length below header size", canon.ErrInvalidResponse)
	}
	return declared, nil
}

// dialogue sends a request and returns the data of the camera's reply.
func (l *Link) dialogue(ctx context.Context, mtype, dir byte, payload []byte) ([]byte, error) {
	l.state = State{Phase: PhaseIdle}
	if err := l.sendMessage(ctx, mtype, dir, payload); err != nil {
		return nil, l.trace.WrapError(err)
	}
	reply, err := l.recvMessage(ctx, mtype, dir^dirReverse)
	if err != nil {
		return nil, l.trace.WrapError(err)
	}
	return reply, nil
}
