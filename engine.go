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

package canon

import (
	"context"
	"time"
)

// Engine is one protocol implementation bound to one transport. Paths are
// camera paths ("A:\DCIM\100CANON"); Camera translates from slash paths.
//
// Engines are not safe for concurrent use. Camera serialises access.
type Engine interface {
	// Init brings the link up and establishes the camera model.
	Init(ctx context.Context) error
	Identify(ctx context.Context) (*Identity, error)

	GetFile(ctx context.Context, path string, progress ProgressFunc) ([]byte, error)
	GetThumbnail(ctx context.Context, path string, progress ProgressFunc) ([]byte, error)
	DeleteFile(ctx context.Context, dir, name string) error
	SetFileAttributes(ctx context.Context, dir, name string, attrs Attributes) error
	ListDirectory(ctx context.Context, path string) ([]DirEntry, error)
	MakeDir(ctx context.Context, path string) error
	RemoveDir(ctx context.Context, path string) error

	// DiskName returns the drive of the storage card, for example "A:".
	DiskName(ctx context.Context) (string, error)
	DiskInfo(ctx context.Context, disk string) (*DiskInfo, error)

	OwnerName(ctx context.Context) (string, error)
	SetOwnerName(ctx context.Context, name string) error
	Time(ctx context.Context) (time.Time, error)
	SetTime(ctx context.Context, t time.Time) error
	Battery(ctx context.Context) (BatteryStatus, error)

	LockKeys(ctx context.Context) error
	UnlockKeys(ctx context.Context) error
	// Capture releases the shutter and waits for the camera to announce the
	// resulting images.
	Capture(ctx context.Context, mode TransferMode) (*CaptureSession, error)
	FetchImage(ctx context.Context, session *CaptureSession, kind ImageKind, progress ProgressFunc) ([]byte, error)

	// Model returns the model established by Init, or nil before it.
	Model() *Model
	// Abort closes the transport without any protocol teardown. It may be
	// called while another call is blocked; that call then fails with
	// ErrTransportClosed and the engine cannot be used again.
	Abort() error
	Close() error
	Type() TransportType
}
