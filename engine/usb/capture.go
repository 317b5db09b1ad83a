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
	"time"

	canon "github.com/ZaparooProject/go-canon"
)

// Interrupt notifications during a capture. The event code is at offset 4.
const (
	offEvent     = 4
	offEventSub  = 12
	offEventKey  = 0x0c
	offEventSize = 0x11
	offPhotoCode = 16
	sizeEventLen = 0x17

	eventThumbReady = 0x08
	eventProgress   = 0x0a
	eventImageReady = 0x0c
	eventStored     = 0x0e
	eventDone       = 0x0f

	progressReleased = 0x1c
	progressExposed  = 0x1d
	progressFailed   = 0x0a
)

// Download types of the retrieve capture request.
const (
	downloadThumb     = 1
	downloadFull      = 2
	downloadSecondary = 3
)

// Capture steps.
const (
	stepArmed = iota
	stepReleased
	stepExposed
	stepStored
)

// Capture releases the shutter and waits until the camera has announced
// the resulting images. The images stay in the camera until fetched with
// FetchImage; mode says whether they are also written to the card.
func (e *Engine) Capture(ctx context.Context, mode canon.TransferMode) (*canon.CaptureSession, error) {
	if !e.ready {
		return nil, fmt.Errorf("%w: engine not initialised", canon.ErrTransportNotReady)
	}
	if e.model.Capture == canon.CaptureNone {
		return nil, fmt.Errorf("%w: %s has no remote capture", canon.ErrNotSupported, e.model.Name)
	}
	if err := e.prepareCapture(ctx, mode); err != nil {
		return nil, fmt.Errorf("prepare capture: %w", err)
	}
	session, err := e.captureDialogue(ctx, mode)
	if err != nil {
		e.abortCapture()
		return nil, e.trace.WrapError(fmt.Errorf("capture: %w", err))
	}
	return session, nil
}

// withTimeout runs fn with the device timeout raised to d.
func (e *Engine) withTimeout(d time.Duration, fn func() error) error {
	prev := e.dev.Timeout()
	if err := e.dev.SetTimeout(d); err != nil {
		return err
	}
	err := fn()
	if rerr := e.dev.SetTimeout(prev); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// prepareCapture enters remote control if needed and sets the transfer
// mode. Shutter release and mode changes can be slow on EOS bodies.
func (e *Engine) prepareCapture(ctx context.Context, mode canon.TransferMode) error {
	err := e.withTimeout(canon.USBShutterTimeout, func() error {
		if !e.remote {
			e.status("Entering remote control")
			if err := e.control(ctx, SubInit, 0, 0); err != nil {
				return err
			}
			e.remote = true
		}
		return e.control(ctx, SubSetTransferMode, 0x04, uint32(mode))
	})
	if err != nil {
		return err
	}
	if err := e.control(ctx, SubGetParams, 0, 0); err != nil {
		return err
	}
	if err := e.control(ctx, SubGetParams, 0x04, uint32(mode)); err != nil {
		return err
	}
	if e.profile.LocksForCapture() {
		return e.profile.LockKeys(ctx, e)
	}
	return nil
}

// drain discards notifications left on the interrupt pipe. It stops at the
// first empty poll or after polls attempts.
func (e *Engine) drain(polls int, timeout time.Duration) {
	buf := make([]byte, 0x40)
	for range polls {
		n, err := e.dev.PollInterrupt(buf, timeout)
		if err != nil || n == 0 {
			return
		}
		e.trace.RecordRX(buf[:n], "drained")
	}
}

// abortCapture leaves the pipe and the keys in a usable state after a
// failed capture.
func (e *Engine) abortCapture() {
	buf := make([]byte, 0x40)
	for range canon.USBFailureDrainPolls {
		if n, err := e.dev.PollInterrupt(buf, canon.USBFailureDrainTimeout); err == nil && n > 0 {
			e.trace.RecordRX(buf[:n], "drained")
		}
	}
	if err := e.profile.UnlockKeys(context.Background(), e); err != nil {
		e.log.WithError(err).Debug("unlock after failed capture")
	}
}

// nextEvent polls the interrupt pipe until a notification arrives. polls
// counts attempts across the whole capture.
func (e *Engine) nextEvent(ctx context.Context, buf []byte, polls *int) (int, error) {
	for *polls < e.maxPolls {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		*polls++
		n, err := e.dev.PollInterrupt(buf, e.pollInterval)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			e.trace.RecordRX(buf[:n], "interrupt")
			return n, nil
		}
	}
	return 0, canon.NewTimeoutError("capture event", e.dev.Path())
}

func (e *Engine) captureDialogue(ctx context.Context, mode canon.TransferMode) (*canon.CaptureSession, error) {
	e.drain(canon.USBDrainPolls, e.pollInterval)

	err := e.withTimeout(canon.USBShutterTimeout, func() error {
		return e.control(ctx, SubShutterRelease, 0, 0)
	})
	if err != nil {
		return nil, err
	}

	s := &canon.CaptureSession{Mode: mode}
	step := stepArmed
	buf := make([]byte, 0x40)
	polls := 0
	for {
		n, err := e.nextEvent(ctx, buf, &polls)
		if err != nil {
			return nil, err
		}
		if n <= offEvent {
			return nil, fmt.Errorf("%w: %d byte notification", canon.ErrShortRead, n)
		}
		ev := buf[:n]
		switch ev[offEvent] {
		case eventThumbReady, eventImageReady:
			img, err := sizeEvent(ev)
			if err != nil {
				return nil, err
			}
			switch {
			case ev[offEvent] == eventThumbReady:
				s.Thumbnail = img
				e.log.Debugf("thumbnail of %d bytes, key 0x%08x", img.Size, img.Key)
			case s.Full.Size == 0:
				s.Full = img
				e.log.Debugf("image of %d bytes, key 0x%08x", img.Size, img.Key)
			default:
				s.Secondary = img
				e.log.Debugf("secondary image of %d bytes, key 0x%08x", img.Size, img.Key)
			}

		case eventProgress:
			if n <= offEventSub {
				return nil, fmt.Errorf("%w: %d byte progress notification", canon.ErrShortRead, n)
			}
			switch ev[offEventSub] {
			case progressReleased:
				switch step {
				case stepArmed:
					step = stepReleased
				case stepExposed:
					e.log.Debug("repeated release notice, card may be nearly full")
					step = stepReleased
				default:
					return nil, fmt.Errorf("%w: release notice at step %d", canon.ErrProtocolDesync, step)
				}
			case progressExposed:
				if step != stepReleased {
					return nil, fmt.Errorf("%w: exposure notice at step %d", canon.ErrProtocolDesync, step)
				}
				step = stepExposed
				if e.profile.ReleaseEndsCapture() {
					return s, nil
				}
			case progressFailed:
				if n < offPhotoCode+4 {
					return nil, fmt.Errorf("%w: %d byte failure notification", canon.ErrShortRead, n)
				}
				return nil, &canon.PhotoError{Code: le.Uint32(ev[offPhotoCode:])}
			default:
				e.log.Debugf("ignoring progress subcode 0x%02x", ev[offEventSub])
			}

		case eventStored:
			if step != stepExposed {
				return nil, fmt.Errorf("%w: storage notice at step %d", canon.ErrProtocolDesync, step)
			}
			step = stepStored
			if err := e.profile.UnlockKeys(ctx, e); err != nil {
				return nil, err
			}
			// The 300D never sends the final notice.
			if e.model.ProductID == canon.ProductEOS300D {
				return s, nil
			}

		case eventDone:
			switch step {
			case stepExposed:
				if err := e.profile.UnlockKeys(ctx, e); err != nil {
					return nil, err
				}
			case stepStored:
			default:
				return nil, fmt.Errorf("%w: completion at step %d", canon.ErrProtocolDesync, step)
			}
			return s, nil

		default:
			return nil, fmt.Errorf("%w: interrupt code 0x%02x", canon.ErrProtocolDesync, ev[offEvent])
		}
	}
}

func sizeEvent(ev []byte) (canon.CapturedImage, error) {
	if len(ev) < offEventSize+4 {
		return canon.CapturedImage{}, fmt.Errorf("%w: %d byte size notification", canon.ErrShortRead, len(ev))
	}
	if len(ev) != sizeEventLen {
		canon.Debugf("size notification of 0x%x bytes, expected 0x%x", len(ev), sizeEventLen)
	}
	return canon.CapturedImage{
		Size: le.Uint32(ev[offEventSize:]),
		Key:  le.Uint32(ev[offEventKey:]),
	}, nil
}

// FetchImage downloads one image announced by Capture.
func (e *Engine) FetchImage(
	ctx context.Context, session *canon.CaptureSession, kind canon.ImageKind, progress canon.ProgressFunc,
) ([]byte, error) {
	if session == nil {
		return nil, fmt.Errorf("%w: nil capture session", canon.ErrInvalidParameter)
	}
	img, err := session.Image(kind)
	if err != nil {
		return nil, err
	}
	if img.Size == 0 {
		return nil, fmt.Errorf("%w: %s", canon.ErrNoCapture, kind)
	}
	typ := uint32(downloadFull)
	switch kind {
	case canon.ImageThumbnail:
		typ = downloadThumb
	case canon.ImageSecondary:
		typ = downloadSecondary
	}
	payload := le.AppendUint32(nil, 0)
	payload = le.AppendUint32(payload, uint32(e.TransferUnit())) //nolint:gosec // unit is small
	payload = le.AppendUint32(payload, typ)
	payload = le.AppendUint32(payload, img.Key)
	data, err := e.longTransfer(ctx, OpRetrieveCapture, payload, int64(img.Size), progress)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", kind, err)
	}
	return data, nil
}
