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
	"fmt"

	canon "github.com/ZaparooProject/go-canon"
)

// Op names a camera function independently of the codes a class uses for it.
type Op int

const (
	OpIdentify Op = iota
	OpGetTime
	OpSetTime
	OpSetOwner
	OpMkdir
	OpRmdir
	OpDiskInfo
	OpDiskName
	OpBattery
	OpListDir
	OpGetFile
	OpDelete
	OpSetAttrs
	OpSetFileTime
	OpControl
	OpRetrieveCapture
	OpRetrievePreview
	OpEOSLock
	OpEOSUnlock
	OpEOSBodyID
	OpPicAbilities
	OpGenericLock
)

// Command is the wire identity of an operation: the three command bytes of
// the request envelope and the expected reply length, envelope included.
type Command struct {
	Name     string
	Cmd1     byte
	Cmd2     byte
	Cmd3     uint32
	ReplyLen int
}

// Command classes in cmd3.
const (
	cmdShort = 0x201
	cmdLong  = 0x202
)

// Long reports whether the reply is a long-transfer header.
func (c Command) Long() bool { return c.Cmd3 == cmdLong }

var commands = map[Op]Command{
	OpGetFile:         {"get file", 0x01, 0x11, cmdLong, 0x40},
	OpIdentify:        {"identify camera", 0x01, 0x12, cmdShort, 0x9c},
	OpGetTime:         {"get time", 0x03, 0x12, cmdShort, 0x60},
	OpSetTime:         {"set time", 0x04, 0x12, cmdShort, 0x54},
	OpMkdir:           {"make directory", 0x05, 0x11, cmdShort, 0x54},
	OpSetOwner:        {"change owner", 0x05, 0x12, cmdShort, 0x54},
	OpRmdir:           {"remove directory", 0x06, 0x11, cmdShort, 0x54},
	OpDiskInfo:        {"disk info", 0x09, 0x11, cmdShort, 0x5c},
	OpDiskName:        {"flash device ident", 0x0a, 0x11, cmdLong, 0x40},
	OpBattery:         {"power status", 0x0a, 0x12, cmdShort, 0x58},
	OpListDir:         {"get directory", 0x0b, 0x11, cmdLong, 0x40},
	OpDelete:          {"delete file", 0x0d, 0x11, cmdShort, 0x54},
	OpSetAttrs:        {"set file attributes", 0x0e, 0x11, cmdShort, 0x54},
	OpSetFileTime:     {"set file time", 0x0f, 0x11, cmdShort, 0x54},
	OpControl:         {"remote camera control", 0x13, 0x12, cmdShort, 0x40},
	OpRetrieveCapture: {"download captured image", 0x17, 0x12, cmdLong, 0x40},
	OpRetrievePreview: {"download captured preview", 0x18, 0x12, cmdLong, 0x40},
	OpEOSLock:         {"EOS lock keys", 0x1b, 0x12, cmdShort, 0x54},
	OpEOSUnlock:       {"EOS unlock keys", 0x1c, 0x12, cmdShort, 0x54},
	OpEOSBodyID:       {"EOS get body ID", 0x1d, 0x12, cmdShort, 0x58},
	OpPicAbilities:    {"get picture abilities", 0x1f, 0x12, cmdShort, 0x384},
	OpGenericLock:     {"lock keys and turn off LCD", 0x20, 0x12, cmdShort, 0x54},
}

// The EOS 20D generation renumbered part of the table.
var class6Commands = map[Op]Command{
	OpDiskName:        {"flash device ident 2", 0x0e, 0x11, cmdLong, 0x40},
	OpBattery:         {"power status 2", 0x13, 0x12, cmdShort, 0x58},
	OpEOSBodyID:       {"EOS get body ID 2", 0x23, 0x12, cmdShort, 0x54},
	OpPicAbilities:    {"get picture abilities 2", 0x24, 0x12, cmdShort, 0x474},
	OpRetrieveCapture: {"download captured image 2", 0x26, 0x12, cmdLong, 0x40},
	OpGenericLock:     {"lock keys 2", 0x36, 0x12, cmdShort, 0x54},
}

// maxReplyLen is the largest short reply any command produces.
const maxReplyLen = 0x474 + 0x40

// Subcommands of the remote camera control function.
type Subcommand uint32

const (
	SubInit             Subcommand = 0x00
	SubExit             Subcommand = 0x01
	SubViewfinderStart  Subcommand = 0x02
	SubViewfinderStop   Subcommand = 0x03
	SubShutterRelease   Subcommand = 0x04
	SubSetParams        Subcommand = 0x07
	SubSetTransferMode  Subcommand = 0x09
	SubGetParams        Subcommand = 0x0a
	SubGetZoom          Subcommand = 0x0b
	SubSetZoom          Subcommand = 0x0c
	SubGetAvailableShot Subcommand = 0x0d
	SubGetCustomFunc    Subcommand = 0x0f
	SubGetExtParamsSize Subcommand = 0x10
	SubGetExtParams     Subcommand = 0x12
)

type subcommand struct {
	name string
	// cmdLen is the request length counted from offset 0x40 of the
	// envelope; the payload is cmdLen-0x10 bytes.
	cmdLen   int
	addReply int
}

// Subcommands the cameras were never seen to accept have no lengths and are
// left out.
var subcommands = map[Subcommand]subcommand{
	SubInit:             {"camera control init", 0x18, 0x1c},
	SubShutterRelease:   {"release shutter", 0x18, 0x1c},
	SubSetParams:        {"set release params", 0x00, 0x1c},
	SubSetTransferMode:  {"set transfer mode", 0x1c, 0x1c},
	SubGetParams:        {"get release params", 0x18, 0x4c},
	SubGetZoom:          {"get zoom position", 0x18, 0x20},
	SubSetZoom:          {"set zoom position", 0x1c, 0x1c},
	SubGetAvailableShot: {"get available shot", 0x18, 0x20},
	SubGetCustomFunc:    {"get custom func", 0x22, 0x26},
	SubGetExtParamsSize: {"get extended release params size", 0x1c, 0x20},
	SubGetExtParams:     {"get extended release params", 0x1c, 0x2c},
	SubExit:             {"exit release control", 0x18, 0x1c},
}

// controlPayload packs a control request: the subcommand followed by up to
// two parameter words, as far as the request length allows.
func controlPayload(sub Subcommand, word0, word1 uint32) ([]byte, subcommand, error) {
	sc, ok := subcommands[sub]
	if !ok || sc.cmdLen < 0x14 {
		return nil, sc, fmt.Errorf("%w: control subcommand 0x%02x", canon.ErrUnknownOperation, uint32(sub))
	}
	p := make([]byte, sc.cmdLen-0x10)
	le.PutUint32(p, uint32(sub))
	if len(p) >= 8 {
		le.PutUint32(p[4:], word0)
	}
	if len(p) >= 12 {
		le.PutUint32(p[8:], word1)
	}
	return p, sc, nil
}
