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
	"context"
	"encoding/binary"
	"fmt"
	"time"

	canon "github.com/ZaparooProject/go-canon"
)

// Request types and directions. Replies come back with dir^0x30.
const (
	dirFile   = 0x11
	dirCamera = 0x12

	opGetFile      = 0x01 // dirFile
	opIdentify     = 0x01 // dirCamera
	opGetTime      = 0x03
	opSetTime      = 0x04
	opSetOwner     = 0x05 // dirCamera
	opMkdir        = 0x05 // dirFile
	opRmdir        = 0x06
	opDiskInfo     = 0x09
	opDiskName     = 0x0a // dirFile
	opBattery      = 0x0a // dirCamera
	opListDir      = 0x0b
	opDelete       = 0x0d
	opSetAttrs     = 0x0e
	maxOwnerLen    = 30
	maxIdentString = 30
)

// statusProtected is the serial reply byte for a protected file.
const statusProtected = 0x29

func (e *Engine) dialogue(ctx context.Context, mtype, dir byte, payload []byte) ([]byte, error) {
	if e.model == nil {
		return nil, fmt.Errorf("%w: engine not initialised", canon.ErrTransportNotReady)
	}
	return e.link.dialogue(ctx, mtype, dir, payload)
}

// cpath is a NUL-terminated path argument.
func cpath(s string) []byte {
	return append([]byte(s), 0)
}

// Identify returns model, owner and firmware revision.
func (e *Engine) Identify(ctx context.Context) (*canon.Identity, error) {
	reply, err := e.dialogue(ctx, opIdentify, dirCamera, nil)
	if err != nil {
		return nil, fmt.Errorf("identify: %w", err)
	}
	if len(reply) < 12 {
		return nil, fmt.Errorf("identify: %w: %d bytes", canon.ErrShortRead, len(reply))
	}
	id := &canon.Identity{
		Model:      e.model,
		CameraName: cstring(reply, 12, maxIdentString),
		Owner:      cstring(reply, 44, maxOwnerLen),
	}
	copy(id.Firmware[:], reply[8:12])
	return id, nil
}

// OwnerName returns the owner string stored in the camera.
func (e *Engine) OwnerName(ctx context.Context) (string, error) {
	id, err := e.Identify(ctx)
	if err != nil {
		return "", err
	}
	return id.Owner, nil
}

// SetOwnerName stores a new owner string of at most 30 characters.
func (e *Engine) SetOwnerName(ctx context.Context, name string) error {
	if len(name) > maxOwnerLen {
		return fmt.Errorf("%w: owner name longer than %d characters", canon.ErrInvalidParameter, maxOwnerLen)
	}
	if _, err := e.dialogue(ctx, opSetOwner, dirCamera, cpath(name)); err != nil {
		return fmt.Errorf("set owner: %w", err)
	}
	return nil
}

// Battery returns the power status.
func (e *Engine) Battery(ctx context.Context) (canon.BatteryStatus, error) {
	reply, err := e.dialogue(ctx, opBattery, dirCamera, nil)
	if err != nil {
		return canon.BatteryStatus{}, fmt.Errorf("battery: %w", err)
	}
	if len(reply) < 8 {
		return canon.BatteryStatus{}, fmt.Errorf("battery: %w: %d bytes", canon.ErrShortRead, len(reply))
	}
	return canon.BatteryStatus{Status: reply[4], Source: reply[7]}, nil
}

// Time returns the camera clock.
func (e *Engine) Time(ctx context.Context) (time.Time, error) {
	reply, err := e.dialogue(ctx, opGetTime, dirCamera, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("get time: %w", err)
	}
	if len(reply) < 8 {
		return time.Time{}, fmt.Errorf("get time: %w: %d bytes", canon.ErrShortRead, len(reply))
	}
	return canon.CameraTimeToTime(binary.LittleEndian.Uint32(reply[4:]), e.loc), nil
}

// SetTime sets the camera clock.
func (e *Engine) SetTime(ctx context.Context, t time.Time) error {
	payload := make([]byte, 12)
	binary.LittleEndian.PutUint32(payload, canon.TimeToCameraTime(t.In(e.loc)))
	if _, err := e.dialogue(ctx, opSetTime, dirCamera, payload); err != nil {
		return fmt.Errorf("set time: %w", err)
	}
	return nil
}

// DiskName returns the storage drive, e.g. "D:".
func (e *Engine) DiskName(ctx context.Context) (string, error) {
	reply, err := e.dialogue(ctx, opDiskName, dirFile, nil)
	if err != nil {
		return "", fmt.Errorf("disk name: %w", err)
	}
	name := cstring(reply, 4, canon.SizeLimitDiskName)
	if name == "" {
		return "", fmt.Errorf("disk name: %w: empty drive name", canon.ErrInvalidResponse)
	}
	return name, nil
}

// DiskInfo returns capacity and free space of disk in KiB.
func (e *Engine) DiskInfo(ctx context.Context, disk string) (*canon.DiskInfo, error) {
	reply, err := e.dialogue(ctx, opDiskInfo, dirFile, cpath(disk))
	if err != nil {
		return nil, fmt.Errorf("disk info %s: %w", disk, err)
	}
	if len(reply) < 12 {
		return nil, fmt.Errorf("disk info %s: %w: %d bytes", disk, canon.ErrShortRead, len(reply))
	}
	// Serial cameras report bytes.
	return &canon.DiskInfo{
		Name:      disk,
		Capacity:  binary.LittleEndian.Uint32(reply[4:]) / 1024,
		Available: binary.LittleEndian.Uint32(reply[8:]) / 1024,
	}, nil
}

// SetFileAttributes replaces the attribute byte of dir\name.
func (e *Engine) SetFileAttributes(ctx context.Context, dir, name string, attrs canon.Attributes) error {
	payload := []byte{0, 0, 0, byte(attrs)}
	payload = append(payload, cpath(dir)...)
	payload = append(payload, cpath(name)...)
	if _, err := e.dialogue(ctx, opSetAttrs, dirFile, payload); err != nil {
		return fmt.Errorf("set attributes %s\\%s: %w", dir, name, err)
	}
	return nil
}

// DeleteFile removes dir\name.
func (e *Engine) DeleteFile(ctx context.Context, dir, name string) error {
	payload := append(cpath(dir), cpath(name)...)
	reply, err := e.dialogue(ctx, opDelete, dirFile, payload)
	if err != nil {
		return fmt.Errorf("delete %s\\%s: %w", dir, name, err)
	}
	if len(reply) < 1 {
		return fmt.Errorf("delete %s\\%s: %w: empty reply", dir, name, canon.ErrShortRead)
	}
	if reply[0] == statusProtected {
		return canon.NewCameraStatusError("delete "+dir+"\\"+name, statusProtected)
	}
	return nil
}

// MakeDir creates a directory.
func (e *Engine) MakeDir(ctx context.Context, path string) error {
	return e.dirOp(ctx, opMkdir, "mkdir", path)
}

// RemoveDir removes an empty directory.
func (e *Engine) RemoveDir(ctx context.Context, path string) error {
	return e.dirOp(ctx, opRmdir, "rmdir", path)
}

func (e *Engine) dirOp(ctx context.Context, op byte, name, path string) error {
	reply, err := e.dialogue(ctx, op, dirFile, cpath(path))
	if err != nil {
		return fmt.Errorf("%s %s: %w", name, path, err)
	}
	if len(reply) < 1 {
		return fmt.Errorf("%s %s: %w: empty reply", name, path, canon.ErrShortRead)
	}
	if reply[0] != 0 {
		return canon.NewCameraStatusError(name+" "+path, uint32(reply[0]))
	}
	return nil
}

// Directory listing replies: a flag saying whether more messages follow,
// then the records.
const (
	listLastFlag   = 4
	listRecords    = 5
	listMinFirst   = 16
	listNoRecursed = 0x00
)

// ListDirectory returns the entries of path. The listing may span several
// messages; the records are concatenated before decoding.
func (e *Engine) ListDirectory(ctx context.Context, path string) ([]canon.DirEntry, error) {
	payload := []byte{listNoRecursed}
	payload = append(payload, cpath(path)...)
	payload = append(payload, 0, 0)

	reply, err := e.dialogue(ctx, opListDir, dirFile, payload)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	if len(reply) < listMinFirst {
		return nil, fmt.Errorf("list %s: %w: %d bytes", path, canon.ErrShortRead, len(reply))
	}
	if reply[listRecords] == 0 {
		return nil, nil
	}

	records := append([]byte(nil), reply[listRecords:]...)
	for reply[listLastFlag] == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		reply, err = e.link.recvMessage(ctx, opListDir, dirFile^dirReverse)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", path, e.link.trace.WrapError(err))
		}
		if len(reply) < listRecords {
			return nil, fmt.Errorf("list %s: %w: continuation of %d bytes", path, canon.ErrShortRead, len(reply))
		}
		records = append(records, reply[listRecords:]...)
		if len(records) > canon.SizeLimitDirectory {
			return nil, fmt.Errorf("list %s: %w: listing over %d bytes", path,
				canon.ErrSuspiciousLength, canon.SizeLimitDirectory)
		}
	}

	entries, err := canon.ParseDirEntries(records, e.loc)
	if err != nil {
		return entries, fmt.Errorf("list %s: %w", path, err)
	}
	return entries, nil
}
