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
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	canon "github.com/ZaparooProject/go-canon"
)

const (
	maxOwnerLen    = 30
	maxIdentString = 32
	// maxFileArg is the longest path a get file request carries.
	maxFileArg = 100 - 8 - 1
	// deletePathLen is the fixed path field of the revised delete request.
	deletePathLen = 0x30
	listNoRecurse = 0x00
)

// cpath is a NUL-terminated path argument.
func cpath(s string) []byte {
	return append([]byte(s), 0)
}

// cstring returns the NUL-terminated string at b[off:], at most limit bytes.
func cstring(b []byte, off, limit int) string {
	if off >= len(b) {
		return ""
	}
	s := b[off:min(len(b), off+limit)]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}

// Identify returns model, owner, firmware revision and, on EOS bodies, the
// body serial number.
func (e *Engine) Identify(ctx context.Context) (*canon.Identity, error) {
	reply, err := e.dialogue(ctx, OpIdentify, nil)
	if err != nil {
		return nil, fmt.Errorf("identify: %w", err)
	}
	if len(reply) < 12 {
		return nil, fmt.Errorf("identify: %w: %d bytes", canon.ErrShortRead, len(reply))
	}
	id := &canon.Identity{
		Model:      e.model,
		CameraName: cstring(reply, 12, maxIdentString),
		Owner:      cstring(reply, 44, maxIdentString),
	}
	copy(id.Firmware[:], reply[8:12])
	if e.profile.HasBodyID() && e.bodyID == 0 {
		if _, err := e.readBodyID(ctx); err != nil {
			e.log.WithError(err).Debug("body id unavailable")
		}
	}
	id.BodyID = e.bodyID
	return id, nil
}

func (e *Engine) readBodyID(ctx context.Context) (uint32, error) {
	reply, err := e.dialogue(ctx, OpEOSBodyID, nil)
	if err != nil {
		return 0, fmt.Errorf("body id: %w", err)
	}
	if len(reply) != 8 {
		return 0, fmt.Errorf("body id: %w: %d bytes, expected 8", canon.ErrInvalidResponse, len(reply))
	}
	e.bodyID = le.Uint32(reply[4:])
	e.log.Debugf("body id %010d", e.bodyID)
	return e.bodyID, nil
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
	if _, err := e.dialogue(ctx, OpSetOwner, cpath(name)); err != nil {
		return fmt.Errorf("set owner: %w", err)
	}
	return nil
}

// Battery returns the power status.
func (e *Engine) Battery(ctx context.Context) (canon.BatteryStatus, error) {
	reply, err := e.dialogue(ctx, OpBattery, nil)
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
	reply, err := e.dialogue(ctx, OpGetTime, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("get time: %w", err)
	}
	if len(reply) < 8 {
		return time.Time{}, fmt.Errorf("get time: %w: %d bytes", canon.ErrShortRead, len(reply))
	}
	return canon.CameraTimeToTime(le.Uint32(reply[4:]), e.loc), nil
}

// SetTime sets the camera clock.
func (e *Engine) SetTime(ctx context.Context, t time.Time) error {
	payload := make([]byte, 12)
	le.PutUint32(payload, canon.TimeToCameraTime(t.In(e.loc)))
	if _, err := e.dialogue(ctx, OpSetTime, payload); err != nil {
		return fmt.Errorf("set time: %w", err)
	}
	return nil
}

// DiskName returns the storage drive, e.g. "D:".
func (e *Engine) DiskName(ctx context.Context) (string, error) {
	data, err := e.longTransfer(ctx, OpDiskName, nil, canon.SizeLimitDiskName, nil)
	if err != nil {
		return "", fmt.Errorf("disk name: %w", err)
	}
	name := cstring(data, 0, len(data))
	if name == "" {
		return "", fmt.Errorf("disk name: %w: empty drive name", canon.ErrInvalidResponse)
	}
	return name, nil
}

// DiskInfo returns capacity and free space of disk in KiB.
func (e *Engine) DiskInfo(ctx context.Context, disk string) (*canon.DiskInfo, error) {
	payload := cpath(disk)
	revised := e.profile != nil && e.profile.Class() == canon.Class6
	if revised {
		payload = []byte(strings.TrimSuffix(disk, `\`))
	}
	reply, err := e.dialogue(ctx, OpDiskInfo, payload)
	if err != nil {
		return nil, fmt.Errorf("disk info %s: %w", disk, err)
	}
	if len(reply) < 12 {
		return nil, fmt.Errorf("disk info %s: %w: %d bytes", disk, canon.ErrShortRead, len(reply))
	}
	info := &canon.DiskInfo{
		Name:      disk,
		Capacity:  le.Uint32(reply[4:]),
		Available: le.Uint32(reply[8:]),
	}
	// Older cameras count bytes, the revised protocol KiB.
	if !revised {
		info.Capacity /= 1024
		info.Available /= 1024
	}
	return info, nil
}

// ListDirectory returns the entries of path.
func (e *Engine) ListDirectory(ctx context.Context, path string) ([]canon.DirEntry, error) {
	payload := []byte{listNoRecurse}
	payload = append(payload, cpath(path)...)
	payload = append(payload, 0, 0)
	data, err := e.longTransfer(ctx, OpListDir, payload, canon.SizeLimitDirectory, nil)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	entries, err := canon.ParseDirEntries(data, e.loc)
	if err != nil {
		return entries, fmt.Errorf("list %s: %w", path, err)
	}
	return entries, nil
}

// GetFile downloads a file. Large files report progress per chunk.
func (e *Engine) GetFile(ctx context.Context, path string, progress canon.ProgressFunc) ([]byte, error) {
	if len(path) > maxFileArg {
		return nil, fmt.Errorf("%w: path %q too long", canon.ErrInvalidParameter, path)
	}
	var payload []byte
	if e.profile != nil && e.profile.Class() == canon.Class6 {
		payload = le.AppendUint32(nil, 1)
		payload = append(payload, cpath(path)...)
		payload = append(payload, 0)
	} else {
		payload = le.AppendUint32(nil, 0)
		payload = le.AppendUint32(payload, uint32(e.TransferUnit())) //nolint:gosec // unit is small
		payload = append(payload, cpath(path)...)
	}
	return e.fetch(ctx, path, payload, e.maxFile(), progress)
}

// GetThumbnail downloads the thumbnail of a picture.
func (e *Engine) GetThumbnail(ctx context.Context, path string, progress canon.ProgressFunc) ([]byte, error) {
	if len(path) > maxFileArg {
		return nil, fmt.Errorf("%w: path %q too long", canon.ErrInvalidParameter, path)
	}
	payload := le.AppendUint32(nil, 1)
	payload = le.AppendUint32(payload, uint32(e.TransferUnit())) //nolint:gosec // unit is small
	payload = append(payload, cpath(path)...)
	var limit int64 = canon.SizeLimitThumb
	if e.model != nil && e.model.MaxThumb > 0 {
		limit = e.model.MaxThumb
	}
	return e.fetch(ctx, path, payload, limit, progress)
}

func (e *Engine) maxFile() int64 {
	if e.model != nil && e.model.MaxFile() > 0 {
		return e.model.MaxFile()
	}
	return canon.SizeLimitPicture
}

func (e *Engine) fetch(
	ctx context.Context, path string, payload []byte, limit int64, progress canon.ProgressFunc,
) ([]byte, error) {
	data, err := e.longTransfer(ctx, OpGetFile, payload, limit, progress)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, canon.NewCameraStatusError("get "+path, canon.StatusFileNotFound)
	}
	return data, nil
}

// DeleteFile removes dir\name.
func (e *Engine) DeleteFile(ctx context.Context, dir, name string) error {
	var payload []byte
	if e.profile != nil && e.profile.Class() == canon.Class6 {
		full := strings.TrimSuffix(dir, `\`) + `\` + name
		if len(full) >= deletePathLen {
			return fmt.Errorf("%w: path %q too long", canon.ErrInvalidParameter, full)
		}
		payload = make([]byte, deletePathLen)
		copy(payload, full)
		payload = append(payload, strings.TrimSuffix(dir, `\`)+`\`...)
	} else {
		payload = append(cpath(dir), cpath(name)...)
		payload = append(payload, 0)
	}
	if _, err := e.dialogue(ctx, OpDelete, payload); err != nil {
		return fmt.Errorf("delete %s\\%s: %w", dir, name, err)
	}
	return nil
}

// SetFileAttributes replaces the attribute byte of dir\name.
func (e *Engine) SetFileAttributes(ctx context.Context, dir, name string, attrs canon.Attributes) error {
	payload := le.AppendUint32(nil, uint32(attrs))
	payload = append(payload, cpath(dir)...)
	payload = append(payload, cpath(name)...)
	payload = append(payload, 0)
	if _, err := e.dialogue(ctx, OpSetAttrs, payload); err != nil {
		return fmt.Errorf("set attributes %s\\%s: %w", dir, name, err)
	}
	return nil
}

// SetFileTime stores t as the modification time of path.
func (e *Engine) SetFileTime(ctx context.Context, path string, t time.Time) error {
	payload := le.AppendUint32(nil, canon.TimeToCameraTime(t.In(e.loc)))
	payload = append(payload, cpath(path)...)
	payload = append(payload, 0)
	if _, err := e.dialogue(ctx, OpSetFileTime, payload); err != nil {
		return fmt.Errorf("set file time %s: %w", path, err)
	}
	return nil
}

// MakeDir creates a directory.
func (e *Engine) MakeDir(ctx context.Context, path string) error {
	if _, err := e.dialogue(ctx, OpMkdir, cpath(path)); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

// RemoveDir removes an empty directory.
func (e *Engine) RemoveDir(ctx context.Context, path string) error {
	if _, err := e.dialogue(ctx, OpRmdir, cpath(path)); err != nil {
		return fmt.Errorf("rmdir %s: %w", path, err)
	}
	return nil
}

// LockKeys locks the camera controls and, on PowerShots, blanks the LCD.
func (e *Engine) LockKeys(ctx context.Context) error {
	if !e.ready {
		return fmt.Errorf("%w: engine not initialised", canon.ErrTransportNotReady)
	}
	return e.profile.LockKeys(ctx, e)
}

// UnlockKeys releases a lock taken by LockKeys where the camera supports it.
func (e *Engine) UnlockKeys(ctx context.Context) error {
	if !e.ready {
		return fmt.Errorf("%w: engine not initialised", canon.ErrTransportNotReady)
	}
	return e.profile.UnlockKeys(ctx, e)
}
