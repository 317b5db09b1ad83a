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
	"errors"
	"fmt"
	"time"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/ZaparooProject/go-canon/internal/frame"
	"github.com/sirupsen/logrus"
)

// slowSendDelay is the gap between bytes for cameras that drop characters
// at high speed.
const slowSendDelay = time.Millisecond

// traceSize is the number of wire exchanges kept for error reports.
const traceSize = 32

// Link owns one serial session: the port, the sequence counters and the
// sticky failure state. It is not safe for concurrent use.
type Link struct {
	port  canon.SerialPort
	rd    *frame.Reader
	trace *canon.TraceBuffer
	log   *logrus.Entry
	sleep func(time.Duration)

	// fatal is set once the link is lost or the battery gave out; every
	// later operation fails with it until the handshake runs again.
	fatal error
	state State

	maxTries int
	speed    int
	seqTx    byte
	seqRx    byte
	slow     bool
	ready    bool
}

func newLink(port canon.SerialPort, maxTries int, sleep func(time.Duration)) *Link {
	return &Link{
		port:     port,
		rd:       frame.NewReader(port),
		trace:    canon.NewTraceBuffer(string(canon.TransportSerial), port.Path(), traceSize),
		log:      canon.Log("serial").WithField("port", port.Path()),
		sleep:    sleep,
		maxTries: maxTries,
		speed:    canon.SerialDefaultSpeed,
	}
}

// State returns the message layer state after the last operation.
func (l *Link) State() State {
	return l.state
}

// Err returns the sticky session failure, if any.
func (l *Link) Err() error {
	return l.fatal
}

// fail records a sticky failure and drops the cached handshake.
func (l *Link) fail(kind FailKind, err error) error {
	l.state = State{Phase: PhaseFailed, Kind: kind}
	l.fatal = err
	l.ready = false
	return err
}

func (l *Link) writeRaw(data []byte) error {
	if !l.slow {
		return l.write(data)
	}
	for i := range data {
		if err := l.write(data[i : i+1]); err != nil {
			return err
		}
		l.sleep(slowSendDelay)
	}
	return nil
}

func (l *Link) write(data []byte) error {
	n, err := l.port.Write(data)
	if err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	if n != len(data) {
		return canon.NewTransportWriteError("serial write", l.port.Path())
	}
	return nil
}

// sendFrame stuffs and writes one packet.
func (l *Link) sendFrame(pkt []byte, note string) error {
	l.trace.RecordTX(pkt, note)
	return l.writeRaw(frame.Encode(pkt))
}

// recvFrame reads one un-stuffed frame without interpreting it.
func (l *Link) recvFrame() ([]byte, error) {
	raw, err := l.rd.ReadFrame()
	if err != nil {
		if errors.Is(err, canon.ErrTransportTimeout) {
			l.trace.RecordTimeout("frame")
		}
		return nil, err
	}
	l.trace.RecordRX(raw, "")
	return raw, nil
}

// recvPacket reads and validates the next packet.
func (l *Link) recvPacket() (*frame.Packet, error) {
	raw, err := l.recvFrame()
	if err != nil {
		return nil, err
	}
	pkt, err := frame.ParsePacket(raw)
	if err != nil {
		l.log.WithError(err).Debug("dropping bad packet")
		return nil, err
	}
	l.log.WithField("seq", pkt.Seq).Debugf("< %s", pkt)
	return pkt, nil
}

func (l *Link) setTimeout(d time.Duration) error {
	if err := l.port.SetReadTimeout(d); err != nil {
		return fmt.Errorf("set read timeout: %w", err)
	}
	return nil
}

func (l *Link) setSpeed(baud int) error {
	if err := l.port.SetBaudRate(baud); err != nil {
		return fmt.Errorf("set speed %d: %w", baud, err)
	}
	l.log.Debugf("host speed now %d", baud)
	return nil
}

// flush discards stale input on both sides of the frame reader.
func (l *Link) flush() error {
	if err := l.port.ResetInput(); err != nil {
		return fmt.Errorf("reset input: %w", err)
	}
	l.rd.Reset()
	return nil
}

// isCorrupt reports errors that mean a packet arrived damaged.
func isCorrupt(err error) bool {
	return errors.Is(err, canon.ErrChecksumMismatch) ||
		errors.Is(err, canon.ErrPacketTruncated) ||
		errors.Is(err, canon.ErrLengthMismatch) ||
		errors.Is(err, canon.ErrFrameCorrupted) ||
		errors.Is(err, canon.ErrFrameOverflow)
}

// isSilence reports errors that mean nothing usable arrived.
func isSilence(err error) bool {
	return errors.Is(err, canon.ErrTransportTimeout) || isCorrupt(err)
}
