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

// Profile holds what differs between protocol classes. Every class-specific
// decision in the engine goes through it.
type Profile interface {
	Class() canon.Class
	// Command resolves op to this class's codes.
	Command(op Op) (Command, error)
	// EnvelopeFlag is written at offset 0x46 of each request; zero means
	// the byte is left clear.
	EnvelopeFlag(cmd3 uint32) byte
	// ControlSuffix is appended to every remote control payload.
	ControlSuffix() []byte
	// ReleaseEndsCapture reports whether the second 0x0a interrupt
	// completes a capture.
	ReleaseEndsCapture() bool
	// LocksForCapture reports whether keys are locked before the shutter.
	LocksForCapture() bool
	// LocksAtInit reports whether Init locks the keys.
	LocksAtInit() bool
	// HasBodyID reports whether the body serial number can be read.
	HasBodyID() bool
	LockKeys(ctx context.Context, e *Engine) error
	UnlockKeys(ctx context.Context, e *Engine) error
}

// ProfileFor returns the profile of class.
func ProfileFor(class canon.Class) (Profile, error) {
	switch class {
	case canon.Class0, canon.Class1, canon.Class2, canon.Class3, canon.Class5:
		return powershotProfile{class: class}, nil
	case canon.Class4:
		return eosProfile{}, nil
	case canon.Class6:
		return revisedProfile{}, nil
	default:
		return nil, fmt.Errorf("%w: no USB protocol for %s", canon.ErrUnsupportedModel, class)
	}
}

func baseCommand(op Op) (Command, error) {
	c, ok := commands[op]
	if !ok {
		return Command{}, fmt.Errorf("%w: op %d", canon.ErrUnknownOperation, int(op))
	}
	return c, nil
}

// lockPayload is the argument of the EOS style lock requests.
var lockPayload = []byte{0x06, 0x00, 0x00, 0x00}

// powershotProfile covers the PowerShot classes.
type powershotProfile struct {
	class canon.Class
}

func (p powershotProfile) Class() canon.Class            { return p.class }
func (powershotProfile) Command(op Op) (Command, error) { return baseCommand(op) }
func (powershotProfile) EnvelopeFlag(uint32) byte       { return 0 }
func (powershotProfile) ControlSuffix() []byte          { return nil }
func (powershotProfile) ReleaseEndsCapture() bool       { return true }
func (powershotProfile) LocksForCapture() bool          { return false }
func (powershotProfile) LocksAtInit() bool              { return true }
func (powershotProfile) HasBodyID() bool                { return false }

func (p powershotProfile) LockKeys(ctx context.Context, e *Engine) error {
	switch p.class {
	case canon.Class0:
		e.log.Debug("class 0 cameras have no key lock")
		return nil
	case canon.Class5:
	default:
		reply, err := e.dialogue(ctx, OpPicAbilities, nil)
		if err != nil {
			return fmt.Errorf("lock keys: %w", err)
		}
		if len(reply) != 0x334 {
			e.log.Debugf("picture abilities returned 0x%x bytes, expected 0x334", len(reply))
		}
	}
	reply, err := e.dialogue(ctx, OpGenericLock, nil)
	if err != nil {
		return fmt.Errorf("lock keys: %w", err)
	}
	if len(reply) != 4 {
		return fmt.Errorf("lock keys: %w: 0x%x bytes, expected 4", canon.ErrInvalidResponse, len(reply))
	}
	e.locked = true
	return nil
}

func (powershotProfile) UnlockKeys(_ context.Context, e *Engine) error {
	e.log.Debug("keys stay locked until the camera is released")
	return nil
}

// eosProfile covers the EOS bodies up to the 300D/10D generation.
type eosProfile struct{}

func (eosProfile) Class() canon.Class            { return canon.Class4 }
func (eosProfile) Command(op Op) (Command, error) { return baseCommand(op) }
func (eosProfile) EnvelopeFlag(uint32) byte       { return 0 }
func (eosProfile) ControlSuffix() []byte          { return nil }
func (eosProfile) ReleaseEndsCapture() bool       { return false }
func (eosProfile) LocksForCapture() bool          { return true }
func (eosProfile) LocksAtInit() bool              { return false }
func (eosProfile) HasBodyID() bool                { return true }

func (eosProfile) LockKeys(ctx context.Context, e *Engine) error {
	return lockWith(ctx, e, OpEOSLock, 4)
}

func (eosProfile) UnlockKeys(ctx context.Context, e *Engine) error {
	return unlockWith(ctx, e)
}

// revisedProfile is the protocol of the EOS 20D, 350D, 5D and SD200.
type revisedProfile struct{}

func (revisedProfile) Class() canon.Class { return canon.Class6 }

func (revisedProfile) Command(op Op) (Command, error) {
	if c, ok := class6Commands[op]; ok {
		return c, nil
	}
	return baseCommand(op)
}

func (revisedProfile) EnvelopeFlag(cmd3 uint32) byte {
	if cmd3 == cmdLong {
		return 0x20
	}
	return 0x10
}

func (revisedProfile) ControlSuffix() []byte    { return []byte{0} }
func (revisedProfile) ReleaseEndsCapture() bool { return true }
func (revisedProfile) LocksForCapture() bool    { return true }
func (revisedProfile) LocksAtInit() bool        { return false }
func (revisedProfile) HasBodyID() bool          { return true }

func (revisedProfile) LockKeys(ctx context.Context, e *Engine) error {
	reply, err := e.dialogue(ctx, OpPicAbilities, nil)
	switch {
	case err != nil:
		e.log.WithError(err).Debug("picture abilities failed, locking anyway")
	case len(reply) != 0x424:
		e.log.Debugf("picture abilities returned 0x%x bytes, expected 0x424", len(reply))
	}
	return lockWith(ctx, e, OpGenericLock, 0x0c)
}

func (revisedProfile) UnlockKeys(ctx context.Context, e *Engine) error {
	return unlockWith(ctx, e)
}

func lockWith(ctx context.Context, e *Engine, op Op, want int) error {
	reply, err := e.dialogue(ctx, op, lockPayload)
	if err != nil {
		return fmt.Errorf("lock keys: %w", err)
	}
	if len(reply) != want {
		return fmt.Errorf("lock keys: %w: 0x%x bytes, expected 0x%x", canon.ErrInvalidResponse, len(reply), want)
	}
	e.locked = true
	return nil
}

func unlockWith(ctx context.Context, e *Engine) error {
	if !e.locked {
		e.log.Debug("keys are not locked")
		return nil
	}
	reply, err := e.dialogue(ctx, OpEOSUnlock, nil)
	if err != nil {
		return fmt.Errorf("unlock keys: %w", err)
	}
	if len(reply) != 4 {
		return fmt.Errorf("unlock keys: %w: 0x%x bytes, expected 4", canon.ErrInvalidResponse, len(reply))
	}
	e.locked = false
	return nil
}
