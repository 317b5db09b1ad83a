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

package testing

import (
	"encoding/binary"
	"time"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/ZaparooProject/go-canon/internal/syncutil"
)

// USBHandler answers one short or long command. Short commands return the
// reply data starting with the status word; long commands return the data
// streamed after the header.
type USBHandler func(cam *VirtualUSBCamera, payload []byte) []byte

// USBKey identifies a command by its three command codes.
func USBKey(cmd1, cmd2 byte, cmd3 uint32) uint32 {
	return uint32(cmd1)<<24 | uint32(cmd2)<<16 | cmd3&0xffff
}

// USBRequest is one command the host sent.
type USBRequest struct {
	Payload []byte
	Cmd3    uint32
	Serial  uint32
	Length  uint32
	Request uint8
	Cmd1    byte
	Cmd2    byte
	Flag    byte
}

// Key returns the USBKey of the request.
func (r *USBRequest) Key() uint32 { return USBKey(r.Cmd1, r.Cmd2, r.Cmd3) }

// Subcommand returns the remote control subcommand, or -1.
func (r *USBRequest) Subcommand() int {
	if r.Cmd1 != 0x13 || r.Cmd2 != simDirCamera || len(r.Payload) < 4 {
		return -1
	}
	return int(binary.LittleEndian.Uint32(r.Payload))
}

// Remote control subcommands and their reply data lengths.
var simControlData = map[uint32]int{
	0x00: 0x0c, 0x01: 0x0c, 0x04: 0x0c, 0x07: 0x0c, 0x09: 0x0c, 0x0a: 0x3c,
	0x0b: 0x10, 0x0c: 0x0c, 0x0d: 0x10, 0x0f: 0x16, 0x10: 0x10, 0x12: 0x1c,
}

// Capture download types.
const (
	DownloadThumb     = 1
	DownloadFull      = 2
	DownloadSecondary = 3
)

// CaptureKey indexes VirtualUSBCamera.Captured.
func CaptureKey(typ, key uint32) uint64 {
	return uint64(typ)<<32 | uint64(key)
}

// VirtualUSBCamera is a camera on the other end of a USB cable. It
// implements canon.USBDevice. Commands are answered as soon as they are
// written and the replies queued on the bulk pipe, so reads never block.
type VirtualUSBCamera struct {
	handlers map[uint32]USBHandler
	FS       *CardFS
	Model    *canon.Model

	Name     string
	Owner    string
	Firmware [4]byte
	Clock    uint32
	Power    byte
	Source   byte
	BodyID   uint32

	// State is the byte reported on first contact, 'A' or 'C'.
	State        byte
	TransferUnit uint32
	// WakeNotice is queued on the interrupt pipe after a 'C' handshake.
	WakeNotice []byte
	// Revised selects the request layouts of the EOS 20D generation.
	Revised bool

	// CaptureEvents are queued on the interrupt pipe at shutter release.
	CaptureEvents [][]byte
	Captured      map[uint64][]byte

	bulk       []byte
	interrupts [][]byte
	initBlock  []byte
	timeout    time.Duration

	mu syncutil.Mutex

	// Accounting
	Requests   []USBRequest
	BulkReads  []int
	Polls      int
	Timeouts   []time.Duration
	Shots      int
	Remote     bool
	Mode       uint32
	Locked     bool
	Handshakes int

	// Fault injection
	// ReportedLength replaces the length field of short replies to a key.
	ReportedLength map[uint32]uint32
	// LengthAt48 moves the reported length from offset 0 to offset 0x48.
	LengthAt48 bool
	// Statuses makes a key answer with a status code and no data.
	Statuses map[uint32]uint32
	// FailBulkRead fails the nth bulk read (1-based) with a transport error.
	FailBulkRead int
	// ZeroBulkRead makes the nth bulk read return no data and no error.
	ZeroBulkRead int
	// ShortBulkRead makes the nth bulk read return half of what was asked.
	ShortBulkRead int
	// EarlyTrailer answers the init write with only the 54 78 00 00 trailer.
	EarlyTrailer bool
	// BadState replaces the state byte.
	BadState byte
	closed   bool
}

// NewVirtualUSBCamera returns the camera with the given product id, woken
// from standby, with an empty card.
func NewVirtualUSBCamera(productID uint16) *VirtualUSBCamera {
	m, err := canon.LookupUSB(productID)
	if err != nil {
		panic(err)
	}
	c := &VirtualUSBCamera{
		handlers:       make(map[uint32]USBHandler),
		FS:             NewCardFS("D:"),
		Model:          m,
		Name:           "Canon " + m.Name,
		Owner:          "Test Owner",
		Firmware:       [4]byte{0x00, 0x01, 0x00, 0x01},
		Clock:          1_000_000_000,
		Power:          canon.PowerOK,
		BodyID:         1234567,
		State:          'C',
		TransferUnit:   canon.USBDefaultTransferUnit,
		Captured:       make(map[uint64][]byte),
		ReportedLength: make(map[uint32]uint32),
		Statuses:       make(map[uint32]uint32),
		timeout:        canon.USBDefaultTimeout,
	}
	if m.Class == canon.Class6 {
		c.Revised = true
		c.WakeNotice = make([]byte, 0x10)
	}
	c.installDefaults()
	return c
}

// Handle overrides the reply to one command.
func (c *VirtualUSBCamera) Handle(key uint32, h USBHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[key] = h
}

// QueueInterrupt appends a notification to the interrupt pipe.
func (c *VirtualUSBCamera) QueueInterrupt(ev []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupts = append(c.interrupts, ev)
}

// PendingBulk returns the number of queued bulk bytes the host has not read.
func (c *VirtualUSBCamera) PendingBulk() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bulk)
}

// RequestsFor returns the requests sent with key.
func (c *VirtualUSBCamera) RequestsFor(key uint32) []USBRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []USBRequest
	for i := range c.Requests {
		if c.Requests[i].Key() == key {
			out = append(out, c.Requests[i])
		}
	}
	return out
}

// Subcommands returns the remote control subcommands sent, in order.
func (c *VirtualUSBCamera) Subcommands() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int
	for i := range c.Requests {
		if sub := c.Requests[i].Subcommand(); sub >= 0 {
			out = append(out, sub)
		}
	}
	return out
}

// StoreCapture makes an image available to the retrieve capture command.
func (c *VirtualUSBCamera) StoreCapture(typ, key uint32, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Captured[CaptureKey(typ, key)] = data
}

// SizeEvent is an image ready notification: code 0x08 for a thumbnail,
// 0x0c for a full image.
func SizeEvent(code byte, key, size uint32) []byte {
	ev := make([]byte, 0x17)
	ev[4] = code
	binary.LittleEndian.PutUint32(ev[0x0c:], key)
	binary.LittleEndian.PutUint32(ev[0x11:], size)
	return ev
}

// ProgressEvent is a 0x0a notification with subcode sub.
func ProgressEvent(sub byte) []byte {
	ev := make([]byte, 0x10)
	ev[4] = 0x0a
	ev[12] = sub
	return ev
}

// PhotoFailureEvent reports a failed exposure.
func PhotoFailureEvent(code uint32) []byte {
	ev := make([]byte, 0x14)
	ev[4] = 0x0a
	ev[12] = 0x0a
	binary.LittleEndian.PutUint32(ev[16:], code)
	return ev
}

// Event is a bare notification with the given code.
func Event(code byte) []byte {
	ev := make([]byte, 0x08)
	ev[4] = code
	return ev
}

// ScriptPowerShotCapture stores a thumbnail and image under key and queues
// the notifications a PowerShot sends for them.
func (c *VirtualUSBCamera) ScriptPowerShotCapture(key uint32, thumb, full []byte) {
	c.StoreCapture(DownloadThumb, key, thumb)
	c.StoreCapture(DownloadFull, key, full)
	c.CaptureEvents = [][]byte{
		ProgressEvent(0x1c),
		SizeEvent(0x08, key, uint32(len(thumb))), //nolint:gosec // test data
		SizeEvent(0x0c, key, uint32(len(full))),  //nolint:gosec // test data
		ProgressEvent(0x1d),
	}
}

// ScriptEOSCapture is ScriptPowerShotCapture with the EOS storage and
// completion notices appended.
func (c *VirtualUSBCamera) ScriptEOSCapture(key uint32, thumb, full []byte) {
	c.ScriptPowerShotCapture(key, thumb, full)
	c.CaptureEvents = append(c.CaptureEvents, Event(0x0e), Event(0x0f))
}

// ControlRead implements canon.USBDevice.
func (c *VirtualUSBCamera) ControlRead(request uint8, value, _ uint16, buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, canon.NewTransportClosedError("control read", c.Path())
	}
	switch {
	case request == 0x0c && value == 0x55:
		if len(buf) == 0 {
			return 0, nil
		}
		buf[0] = c.State
		if c.BadState != 0 {
			buf[0] = c.BadState
		}
		return 1, nil
	case request == 0x04 && value == 0x01:
		c.initBlock = make([]byte, 0x58)
		for i := 0x48; i < 0x58; i++ {
			c.initBlock[i] = byte(i)
		}
		binary.LittleEndian.PutUint32(c.initBlock[0x4c:], c.TransferUnit)
		return copy(buf, c.initBlock), nil
	case request == 0x04 && value == 0x04:
		c.Handshakes++
		return copy(buf, make([]byte, 0x50)), nil
	}
	return 0, canon.NewTransportError("control read", c.Path(), canon.ErrInvalidParameter, canon.ErrorTypePermanent)
}

// ControlWrite implements canon.USBDevice.
func (c *VirtualUSBCamera) ControlWrite(request uint8, value, _ uint16, data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, canon.NewTransportClosedError("control write", c.Path())
	}
	switch {
	case request == 0x04 && value == 0x11:
		c.initReply(data)
		return len(data), nil
	case value == 0x10:
		c.command(request, data)
		return len(data), nil
	}
	return 0, canon.NewTransportError("control write", c.Path(), canon.ErrInvalidParameter, canon.ErrorTypePermanent)
}

func (c *VirtualUSBCamera) initReply(msg []byte) {
	if len(msg) != 0x50 || msg[0] != 0x10 || c.initBlock == nil ||
		string(msg[0x40:0x50]) != string(c.initBlock[0x48:0x58]) {
		return
	}
	c.Handshakes++
	if c.EarlyTrailer {
		c.bulk = append(c.bulk, 0x54, 0x78, 0x00, 0x00)
	} else {
		block := make([]byte, 0x40)
		binary.LittleEndian.PutUint32(block, 4)
		c.bulk = append(c.bulk, block...)
		c.bulk = append(c.bulk, 0x54, 0x78, 0x00, 0x00)
	}
	if c.WakeNotice != nil {
		c.interrupts = append(c.interrupts, c.WakeNotice)
	}
}

func (c *VirtualUSBCamera) command(request uint8, msg []byte) {
	if len(msg) < 0x50 {
		return
	}
	req := USBRequest{
		Request: request,
		Length:  binary.LittleEndian.Uint32(msg),
		Cmd3:    binary.LittleEndian.Uint32(msg[4:]),
		Cmd1:    msg[0x44],
		Flag:    msg[0x46],
		Cmd2:    msg[0x47],
		Serial:  binary.LittleEndian.Uint32(msg[0x4c:]),
		Payload: append([]byte(nil), msg[0x50:]...),
	}
	c.Requests = append(c.Requests, req)
	key := req.Key()

	var data []byte
	switch code, failed := c.Statuses[key]; {
	case failed:
		data = le32(code)
	case req.Subcommand() >= 0:
		data = c.control(&req)
	default:
		h, ok := c.handlers[key]
		if !ok {
			data = le32(canon.StatusBadParameters)
			break
		}
		data = h(c, req.Payload)
	}

	if req.Cmd3 == 0x202 {
		hdr := make([]byte, 0x40)
		binary.LittleEndian.PutUint32(hdr[6:], uint32(len(data))) //nolint:gosec // test data
		c.bulk = append(c.bulk, hdr...)
		c.bulk = append(c.bulk, data...)
		return
	}
	block := make([]byte, 0x50+len(data))
	copy(block[0x50:], data)
	reported := uint32(len(block) - 0x40) //nolint:gosec // test data
	if r, ok := c.ReportedLength[key]; ok {
		reported = r
	}
	if c.LengthAt48 {
		binary.LittleEndian.PutUint32(block[0x48:], reported)
	} else {
		binary.LittleEndian.PutUint32(block, reported)
	}
	c.bulk = append(c.bulk, block...)
}

func (c *VirtualUSBCamera) control(req *USBRequest) []byte {
	sub := uint32(req.Subcommand()) //nolint:gosec // checked by caller
	size, ok := simControlData[sub]
	if !ok {
		return le32(canon.StatusBadParameters)
	}
	word := func(off int) uint32 {
		if len(req.Payload) < off+4 {
			return 0
		}
		return binary.LittleEndian.Uint32(req.Payload[off:])
	}
	switch sub {
	case 0x00:
		c.Remote = true
	case 0x01:
		c.Remote = false
	case 0x09:
		c.Mode = word(8)
	case 0x04:
		if !c.Remote {
			return append(le32(canon.StatusNoCaptureMode), make([]byte, size-4)...)
		}
		c.Shots++
		c.interrupts = append(c.interrupts, c.CaptureEvents...)
	}
	return make([]byte, size)
}

// BulkRead implements canon.USBDevice.
func (c *VirtualUSBCamera) BulkRead(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, canon.NewTransportClosedError("bulk read", c.Path())
	}
	c.BulkReads = append(c.BulkReads, len(buf))
	switch len(c.BulkReads) {
	case c.FailBulkRead:
		return 0, canon.NewTransportReadError("bulk read", c.Path())
	case c.ZeroBulkRead:
		return 0, nil
	}
	if len(c.bulk) == 0 {
		return 0, canon.NewTimeoutError("bulk read", c.Path())
	}
	if len(c.BulkReads) == c.ShortBulkRead {
		buf = buf[:len(buf)/2]
	}
	n := copy(buf, c.bulk)
	c.bulk = c.bulk[n:]
	return n, nil
}

// PollInterrupt implements canon.USBDevice.
func (c *VirtualUSBCamera) PollInterrupt(buf []byte, _ time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, canon.NewTransportClosedError("interrupt read", c.Path())
	}
	c.Polls++
	if len(c.interrupts) == 0 {
		return 0, nil
	}
	n := copy(buf, c.interrupts[0])
	c.interrupts = c.interrupts[1:]
	return n, nil
}

// SetTimeout implements canon.USBDevice.
func (c *VirtualUSBCamera) SetTimeout(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
	c.Timeouts = append(c.Timeouts, d)
	return nil
}

// Timeout implements canon.USBDevice.
func (c *VirtualUSBCamera) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// ProductID implements canon.USBDevice.
func (c *VirtualUSBCamera) ProductID() uint16 {
	return c.Model.ProductID
}

// Close implements canon.USBDevice.
func (c *VirtualUSBCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *VirtualUSBCamera) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Path implements canon.USBDevice.
func (*VirtualUSBCamera) Path() string {
	return "usb:001,004"
}

func statusOnly(code uint32) []byte {
	return le32(code)
}

// splitNames parses "a NUL b NUL" arguments.
func splitNames(d []byte) (string, string) {
	first := cstr(d)
	rest := d[min(len(d), len(first)+1):]
	return first, cstr(rest)
}

func (c *VirtualUSBCamera) installDefaults() {
	ok := func([]byte) []byte { return statusOnly(canon.StatusOK) }
	c.handlers[USBKey(0x01, simDirCamera, 0x201)] = func(c *VirtualUSBCamera, _ []byte) []byte {
		r := make([]byte, 0x4c)
		copy(r[8:12], c.Firmware[:])
		copy(r[12:44], c.Name)
		copy(r[44:76], c.Owner)
		return r
	}
	c.handlers[USBKey(0x03, simDirCamera, 0x201)] = func(c *VirtualUSBCamera, _ []byte) []byte {
		r := make([]byte, 0x10)
		binary.LittleEndian.PutUint32(r[4:], c.Clock)
		return r
	}
	c.handlers[USBKey(0x04, simDirCamera, 0x201)] = func(c *VirtualUSBCamera, d []byte) []byte {
		if len(d) >= 4 {
			c.Clock = binary.LittleEndian.Uint32(d)
		}
		return ok(d)
	}
	c.handlers[USBKey(0x05, simDirCamera, 0x201)] = func(c *VirtualUSBCamera, d []byte) []byte {
		c.Owner = cstr(d)
		return ok(d)
	}
	power := func(c *VirtualUSBCamera, _ []byte) []byte {
		r := make([]byte, 8)
		r[4] = c.Power
		r[7] = c.Source
		return r
	}
	c.handlers[USBKey(0x0a, simDirCamera, 0x201)] = power
	c.handlers[USBKey(0x13, simDirCamera, 0x201)] = power

	c.handlers[USBKey(0x05, simDirFile, 0x201)] = func(c *VirtualUSBCamera, d []byte) []byte {
		if !c.FS.Mkdir(cstr(d)) {
			return statusOnly(canon.StatusBadParameters)
		}
		return ok(d)
	}
	c.handlers[USBKey(0x06, simDirFile, 0x201)] = func(c *VirtualUSBCamera, d []byte) []byte {
		if !c.FS.Rmdir(cstr(d)) {
			return statusOnly(canon.StatusBadParameters)
		}
		return ok(d)
	}
	c.handlers[USBKey(0x09, simDirFile, 0x201)] = func(c *VirtualUSBCamera, _ []byte) []byte {
		capacity, available := c.FS.Capacity, c.FS.Available
		if c.Revised {
			capacity, available = capacity/1024, available/1024
		}
		r := make([]byte, 4, 12)
		r = append(r, le32(capacity)...)
		return append(r, le32(available)...)
	}
	drive := func(c *VirtualUSBCamera, _ []byte) []byte {
		return append([]byte(c.FS.Drive), 0)
	}
	c.handlers[USBKey(0x0a, simDirFile, 0x202)] = drive
	c.handlers[USBKey(0x0e, simDirFile, 0x202)] = drive
	c.handlers[USBKey(0x0b, simDirFile, 0x202)] = func(c *VirtualUSBCamera, d []byte) []byte {
		if len(d) < 2 {
			return nil
		}
		return c.FS.Listing(cstr(d[1:]))
	}
	c.handlers[USBKey(0x01, simDirFile, 0x202)] = usbGetFile
	c.handlers[USBKey(0x0d, simDirFile, 0x201)] = usbDelete
	c.handlers[USBKey(0x0e, simDirFile, 0x201)] = func(c *VirtualUSBCamera, d []byte) []byte {
		if len(d) < 5 {
			return statusOnly(canon.StatusBadParameters)
		}
		dir, name := splitNames(d[4:])
		f, found := c.FS.File(dir + "\\" + name)
		if !found {
			return statusOnly(canon.StatusFileNotFound)
		}
		f.Attrs = canon.Attributes(binary.LittleEndian.Uint32(d))
		return ok(d)
	}
	c.handlers[USBKey(0x0f, simDirFile, 0x201)] = func(c *VirtualUSBCamera, d []byte) []byte {
		if len(d) < 5 {
			return statusOnly(canon.StatusBadParameters)
		}
		f, found := c.FS.File(cstr(d[4:]))
		if !found {
			return statusOnly(canon.StatusFileNotFound)
		}
		f.Modified = canon.CameraTimeToTime(binary.LittleEndian.Uint32(d), time.UTC)
		return ok(d)
	}

	retrieve := func(c *VirtualUSBCamera, d []byte) []byte {
		if len(d) < 16 {
			return nil
		}
		typ := binary.LittleEndian.Uint32(d[8:])
		key := binary.LittleEndian.Uint32(d[12:])
		return c.Captured[CaptureKey(typ, key)]
	}
	c.handlers[USBKey(0x17, simDirCamera, 0x202)] = retrieve
	c.handlers[USBKey(0x26, simDirCamera, 0x202)] = retrieve

	lock := func(size int) USBHandler {
		return func(c *VirtualUSBCamera, _ []byte) []byte {
			c.Locked = true
			return make([]byte, size)
		}
	}
	c.handlers[USBKey(0x1b, simDirCamera, 0x201)] = lock(4)
	c.handlers[USBKey(0x20, simDirCamera, 0x201)] = lock(4)
	c.handlers[USBKey(0x36, simDirCamera, 0x201)] = lock(0x0c)
	c.handlers[USBKey(0x1c, simDirCamera, 0x201)] = func(c *VirtualUSBCamera, d []byte) []byte {
		c.Locked = false
		return ok(d)
	}
	bodyID := func(c *VirtualUSBCamera, _ []byte) []byte {
		r := make([]byte, 8)
		binary.LittleEndian.PutUint32(r[4:], c.BodyID)
		return r
	}
	c.handlers[USBKey(0x1d, simDirCamera, 0x201)] = bodyID
	c.handlers[USBKey(0x23, simDirCamera, 0x201)] = bodyID
	c.handlers[USBKey(0x1f, simDirCamera, 0x201)] = func(*VirtualUSBCamera, []byte) []byte {
		return make([]byte, 0x334)
	}
	c.handlers[USBKey(0x24, simDirCamera, 0x201)] = func(*VirtualUSBCamera, []byte) []byte {
		return make([]byte, 0x424)
	}
}

// usbGetFile serves a file or thumbnail. The revised request carries the
// path straight after the type word.
func usbGetFile(c *VirtualUSBCamera, d []byte) []byte {
	if len(d) < 5 {
		return nil
	}
	typ := binary.LittleEndian.Uint32(d)
	path := ""
	switch {
	case c.Revised && d[4] != 0:
		path, typ = cstr(d[4:]), 0
	case len(d) > 8:
		path = cstr(d[8:])
	}
	f, found := c.FS.File(path)
	if !found {
		return nil
	}
	if typ == 1 {
		return f.Thumb
	}
	return f.Data
}

func usbDelete(c *VirtualUSBCamera, d []byte) []byte {
	var dir, name string
	if c.Revised {
		if len(d) < 0x30 {
			return statusOnly(canon.StatusBadParameters)
		}
		full := cstr(d[:0x30])
		dir, name = parent(full), base(full)
	} else {
		dir, name = splitNames(d)
	}
	f, found := c.FS.File(dir + "\\" + name)
	switch {
	case !found:
		return statusOnly(canon.StatusFileNotFound)
	case f.Attrs.WriteProtected():
		return statusOnly(canon.StatusFileProtected)
	}
	c.FS.Delete(dir, name)
	return statusOnly(canon.StatusOK)
}
