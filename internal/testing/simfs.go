// go-canon
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-canon.
//
// go-canon is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-canon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-canon; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package testing provides camera simulators for tests.
//
// VirtualSerialCamera speaks the serial frame, packet and message
// protocol. VirtualUSBCamera answers control, bulk and interrupt
// transfers. Both serve a CardFS, an in-memory storage card.
package testing

import (
	"sort"
	"strings"
	"time"

	canon "github.com/ZaparooProject/go-canon"
)

// SimFile is a file on the simulated card.
type SimFile struct {
	Modified time.Time
	Data     []byte
	Thumb    []byte
	Attrs    canon.Attributes
}

// CardFS is a storage card keyed by camera path ("D:\DCIM\100CANON").
// Paths are compared case-insensitively, as the camera does.
type CardFS struct {
	Files map[string]*SimFile
	Dirs  map[string]bool
	Drive string
	// Capacity and Available are in bytes.
	Capacity  uint32
	Available uint32
}

// NewCardFS returns a card holding drive and its root.
func NewCardFS(drive string) *CardFS {
	return &CardFS{
		Files:     make(map[string]*SimFile),
		Dirs:      map[string]bool{strings.ToUpper(drive): true},
		Drive:     strings.ToUpper(drive),
		Capacity:  64 * 1024 * 1024,
		Available: 32 * 1024 * 1024,
	}
}

func key(path string) string {
	return strings.ToUpper(strings.TrimRight(path, "\\"))
}

func parent(path string) string {
	if i := strings.LastIndexByte(path, '\\'); i >= 0 {
		return path[:i]
	}
	return ""
}

func base(path string) string {
	return path[strings.LastIndexByte(path, '\\')+1:]
}

// AddFile stores a file, creating its parent directories.
func (fs *CardFS) AddFile(path string, f *SimFile) {
	path = key(path)
	for d := parent(path); d != "" && !fs.Dirs[d]; d = parent(d) {
		fs.Dirs[d] = true
	}
	fs.Files[path] = f
}

// File returns the file at path.
func (fs *CardFS) File(path string) (*SimFile, bool) {
	f, ok := fs.Files[key(path)]
	return f, ok
}

// Mkdir creates a directory. It fails if the parent is missing or the
// directory exists.
func (fs *CardFS) Mkdir(path string) bool {
	path = key(path)
	if fs.Dirs[path] || !fs.Dirs[parent(path)] {
		return false
	}
	fs.Dirs[path] = true
	return true
}

// Rmdir removes an empty directory.
func (fs *CardFS) Rmdir(path string) bool {
	path = key(path)
	if !fs.Dirs[path] || path == fs.Drive {
		return false
	}
	for p := range fs.Files {
		if parent(p) == path {
			return false
		}
	}
	for d := range fs.Dirs {
		if parent(d) == path {
			return false
		}
	}
	delete(fs.Dirs, path)
	return true
}

// Delete removes dir\name. It reports false for a missing file.
func (fs *CardFS) Delete(dir, name string) bool {
	p := key(dir) + "\\" + strings.ToUpper(name)
	if _, ok := fs.Files[p]; !ok {
		return false
	}
	delete(fs.Files, p)
	return true
}

// Listing encodes dir the way cameras do: a record for dir itself, then
// one record per child, sorted by name. It returns nil for a missing
// directory.
func (fs *CardFS) Listing(dir string) []byte {
	dir = key(dir)
	if !fs.Dirs[dir] {
		return nil
	}
	out := canon.AppendDirEntry(nil, &canon.DirEntry{Name: base(dir), Attrs: canon.AttrDirectory})

	var names []string
	for d := range fs.Dirs {
		if parent(d) == dir {
			names = append(names, d)
		}
	}
	for p := range fs.Files {
		if parent(p) == dir {
			names = append(names, p)
		}
	}
	sort.Strings(names)
	for _, p := range names {
		e := canon.DirEntry{Name: base(p)}
		if f, ok := fs.Files[p]; ok {
			e.Size = uint32(len(f.Data)) //nolint:gosec // simulated files are small
			e.Attrs = f.Attrs
			e.Time = f.Modified
		} else {
			e.Attrs = canon.AttrDirectory
		}
		out = canon.AppendDirEntry(out, &e)
	}
	return out
}
