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
	"bytes"
	"encoding/binary"
	"errors"
	"time"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/ZaparooProject/go-canon/internal/frame"
	"github.com/ZaparooProject/go-canon/internal/syncutil"
)

// SerialHandler answers one request. It returns the data of each reply
// message, without the message header; most requests get exactly one.
type SerialHandler func(cam *VirtualSerialCamera, data []byte) [][]byte

// Serial message header fields the simulator needs.
const (
	simMsgHeader = 16
	simDirFile   = 0x11
	simDirCamera = 0x12
	simReverse   = 0x30
)

// SerialKey identifies a request by message type and direction.
func SerialKey(mtype, dir byte) uint16 {
	return uint16(mtype)<<8 | uint16(dir)
}

// VirtualSerialCamera is a camera on the other end of a serial cable. It
// implements canon.SerialPort. Writes are processed immediately and
// replies queued, so reads never block: an empty queue is a timeout.
type VirtualSerialCamera struct {
	handlers map[uint16]SerialHandler
	replies  map[byte][][]byte
	FS       *CardFS

	Ident    string
	Name     string
	Owner    string
	Firmware [4]byte
	Clock    uint32
	Power    byte
	Source   byte

	in      []byte
	out     bytes.Buffer
	pending []byte
	// Frames holds every un-stuffed frame the host sent.
	Frames [][]byte

	// FragmentSize splits reply messages into MSG packets of this size.
	FragmentSize int
	// ChunkSize is the data carried by each file transfer message.
	ChunkSize int
	// ListChunk is the record bytes carried by each listing message.
	ListChunk int

	mu syncutil.Mutex

	// Counters
	MessagePackets int
	Requests       map[uint16]int
	PowerOffs      int
	WakeBursts     int

	Speed       int
	HostBaud    int
	ReadTimeout time.Duration

	// Fault injection
	IgnoreWakes  int
	DropACKs     int
	NACKMessages int
	Silent       bool
	CorruptNext  bool
	LowBattery   bool

	camSeq byte
	awake  bool
	closed bool
}

// NewVirtualSerialCamera returns a PowerShot A50 with an empty card.
func NewVirtualSerialCamera() *VirtualSerialCamera {
	c := &VirtualSerialCamera{
		handlers:     make(map[uint16]SerialHandler),
		replies:      make(map[byte][][]byte),
		Requests:     make(map[uint16]int),
		FS:           NewCardFS("D:"),
		Ident:        "Canon PowerShot A50",
		Name:         "Canon PowerShot A50",
		Owner:        "Test Owner",
		Firmware:     [4]byte{0x00, 0x01, 0x00, 0x01},
		Clock:        1_000_000_000,
		Power:        canon.PowerOK,
		FragmentSize: 1000,
		ChunkSize:    900,
		ListChunk:    200,
		Speed:        canon.SerialDefaultSpeed,
		HostBaud:     canon.SerialDefaultSpeed,
	}
	c.installDefaults()
	return c
}

// Handle overrides the reply to one request type.
func (c *VirtualSerialCamera) Handle(mtype, dir byte, h SerialHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[SerialKey(mtype, dir)] = h
}

// Awake reports whether the camera has been woken up.
func (c *VirtualSerialCamera) Awake() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awake
}

// PowerDown puts the camera to sleep as if its power button was pressed.
func (c *VirtualSerialCamera) PowerDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awake = false
	c.out.Reset()
}

// RequestCount returns how many complete requests of a type arrived.
func (c *VirtualSerialCamera) RequestCount(mtype, dir byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Requests[SerialKey(mtype, dir)]
}

// MessagesReceived returns the number of MSG packets the host sent.
func (c *VirtualSerialCamera) MessagesReceived() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.MessagePackets
}

// Write implements io.Writer.
func (c *VirtualSerialCamera) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, canon.NewTransportClosedError("write", c.Path())
	}
	if !c.awake {
		c.wake(p)
		return len(p), nil
	}
	c.in = append(c.in, p...)
	for {
		raw, n, err := frame.Decode(c.in)
		c.in = c.in[n:]
		if err != nil {
			if errors.Is(err, frame.ErrNeedMoreData) {
				break
			}
			continue
		}
		c.Frames = append(c.Frames, append([]byte(nil), raw...))
		c.handlePacket(raw)
		if !c.awake {
			c.in = c.in[:0]
			break
		}
	}
	return len(p), nil
}

// Read implements io.Reader. An empty queue reads as a timeout.
func (c *VirtualSerialCamera) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, canon.NewTransportClosedError("read", c.Path())
	}
	if c.out.Len() == 0 {
		return 0, canon.NewTimeoutError("read", c.Path())
	}
	n, _ := c.out.Read(p)
	return n, nil
}

// SetReadTimeout records the timeout.
func (c *VirtualSerialCamera) SetReadTimeout(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ReadTimeout = d
	return nil
}

// SetBaudRate records the host speed.
func (c *VirtualSerialCamera) SetBaudRate(baud int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.HostBaud = baud
	return nil
}

// ResetInput drops queued replies.
func (c *VirtualSerialCamera) ResetInput() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Reset()
	return nil
}

// CTS is high while the camera is on.
func (c *VirtualSerialCamera) CTS() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awake, nil
}

// Close closes the simulated port.
func (c *VirtualSerialCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Path names the simulated port.
func (*VirtualSerialCamera) Path() string {
	return "sim:serial"
}

func (c *VirtualSerialCamera) queue(pkt []byte) {
	c.out.Write(frame.Encode(pkt))
}

// wake answers a burst of 0x55 with the identification frame and the
// EOT that opens a session. Frames written to a sleeping camera are
// dropped even when they carry 0x55 bytes.
func (c *VirtualSerialCamera) wake(p []byte) {
	if len(p) == 0 || len(bytes.Trim(p, "\x55")) != 0 {
		return
	}
	c.WakeBursts++
	if c.IgnoreWakes > 0 {
		c.IgnoreWakes--
		return
	}
	reply := make([]byte, 26, 64)
	reply[0] = 0x01
	reply = append(reply, c.Ident...)
	reply = append(reply, 0)
	for len(reply) < 60 {
		reply = append(reply, 0)
	}
	c.out.Write(frame.Encode(reply))
	c.queue(frame.EOT(0))
	c.awake = true
	c.camSeq = 1
	c.in = c.in[:0]
	c.pending = nil
	c.replies = make(map[byte][][]byte)
}

var simPowerOff = []byte{0x00, 0x02, 0x55, 0x2C}

func (c *VirtualSerialCamera) handlePacket(raw []byte) {
	if bytes.Equal(raw, simPowerOff) {
		c.PowerOffs++
		c.awake = false
		return
	}
	pkt, err := frame.ParsePacket(raw)
	if err != nil {
		return
	}
	switch pkt.Type {
	case frame.TypeMSG:
		c.MessagePackets++
		c.pending = append(c.pending, pkt.Payload...)
	case frame.TypeEOT:
		c.handleEOT(pkt)
	case frame.TypeACK:
		if byte(pkt.Length) == 0xFF {
			// Host NACK: send that message again.
			for _, p := range c.replies[pkt.Seq] {
				c.queue(p)
			}
		}
	default:
		if pkt.Type == 0x03 {
			c.Speed = speedFromCode(raw[2])
		}
	}
}

func speedFromCode(code byte) int {
	switch code {
	case 0x08:
		return 19200
	case 0x20:
		return 38400
	case 0x40:
		return 57600
	case 0x80:
		return 115200
	default:
		return 9600
	}
}

func (c *VirtualSerialCamera) handleEOT(pkt *frame.Packet) {
	msg := c.pending
	c.pending = nil
	if c.Silent {
		return
	}
	if len(msg) == 0 {
		c.queue(frame.ACK(pkt.Seq))
		return
	}
	if c.DropACKs > 0 {
		c.DropACKs--
		return
	}
	if c.NACKMessages > 0 {
		c.NACKMessages--
		c.queue(frame.BuildControl(frame.TypeACK, pkt.Seq, frame.NACKReceived))
		return
	}
	c.queue(frame.ACK(pkt.Seq))
	if len(msg) < simMsgHeader {
		return
	}
	c.respond(msg[4], msg[7], msg[simMsgHeader:])
}

func (c *VirtualSerialCamera) respond(mtype, dir byte, data []byte) {
	k := SerialKey(mtype, dir)
	c.Requests[k]++
	if c.LowBattery {
		c.LowBattery = false
		msg := make([]byte, simMsgHeader)
		msg[0] = 0x02
		msg[4] = 0x01
		copy(msg[12:], []byte{0x30, 0x00, 0x00, 0x30})
		binary.LittleEndian.PutUint16(msg[8:], simMsgHeader)
		c.sendMessage(msg)
		return
	}
	h, ok := c.handlers[k]
	if !ok {
		return
	}
	for _, reply := range h(c, data) {
		msg := make([]byte, simMsgHeader, simMsgHeader+len(reply))
		msg[0] = 0x02
		msg[4] = mtype
		msg[7] = dir ^ simReverse
		binary.LittleEndian.PutUint16(msg[8:], uint16(simMsgHeader+len(reply))) //nolint:gosec // test data
		c.sendMessage(append(msg, reply...))
	}
}

// sendMessage queues msg as MSG packets and a closing EOT.
func (c *VirtualSerialCamera) sendMessage(msg []byte) {
	var pkts [][]byte
	var seq byte
	for off := 0; off < len(msg); off += c.FragmentSize {
		end := min(off+c.FragmentSize, len(msg))
		p, err := frame.BuildMessage(seq, msg[off:end])
		if err != nil {
			return
		}
		pkts = append(pkts, p)
		seq++
	}
	pkts = append(pkts, frame.EOT(c.camSeq))
	c.replies[c.camSeq] = pkts
	c.camSeq++

	for i, p := range pkts {
		if i == 0 && c.CorruptNext {
			c.CorruptNext = false
			bad := append([]byte(nil), p...)
			bad[len(bad)-1] ^= 0xFF
			c.queue(bad)
			continue
		}
		c.queue(p)
	}
}

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func le32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func (c *VirtualSerialCamera) installDefaults() {
	c.handlers[SerialKey(0x01, simDirCamera)] = func(c *VirtualSerialCamera, _ []byte) [][]byte {
		r := make([]byte, 76)
		copy(r[8:12], c.Firmware[:])
		copy(r[12:42], c.Name)
		copy(r[44:74], c.Owner)
		return [][]byte{r}
	}
	c.handlers[SerialKey(0x0a, simDirCamera)] = func(c *VirtualSerialCamera, _ []byte) [][]byte {
		r := make([]byte, 8)
		r[4] = c.Power
		r[7] = c.Source
		return [][]byte{r}
	}
	c.handlers[SerialKey(0x03, simDirCamera)] = func(c *VirtualSerialCamera, _ []byte) [][]byte {
		return [][]byte{append(make([]byte, 4), le32(c.Clock)...)}
	}
	c.handlers[SerialKey(0x04, simDirCamera)] = func(c *VirtualSerialCamera, d []byte) [][]byte {
		if len(d) >= 4 {
			c.Clock = binary.LittleEndian.Uint32(d)
		}
		return [][]byte{make([]byte, 4)}
	}
	c.handlers[SerialKey(0x05, simDirCamera)] = func(c *VirtualSerialCamera, d []byte) [][]byte {
		c.Owner = cstr(d)
		return [][]byte{make([]byte, 4)}
	}
	c.handlers[SerialKey(0x0a, simDirFile)] = func(c *VirtualSerialCamera, _ []byte) [][]byte {
		return [][]byte{append(make([]byte, 4), append([]byte(c.FS.Drive), 0)...)}
	}
	c.handlers[SerialKey(0x09, simDirFile)] = func(c *VirtualSerialCamera, _ []byte) [][]byte {
		r := make([]byte, 4, 12)
		r = append(r, le32(c.FS.Capacity)...)
		return [][]byte{append(r, le32(c.FS.Available)...)}
	}
	c.handlers[SerialKey(0x0b, simDirFile)] = serialListing
	c.handlers[SerialKey(0x01, simDirFile)] = serialGetFile
	c.handlers[SerialKey(0x0d, simDirFile)] = func(c *VirtualSerialCamera, d []byte) [][]byte {
		dir := cstr(d)
		name := cstr(d[min(len(d), len(dir)+1):])
		r := make([]byte, 4)
		if f, ok := c.FS.File(dir + "\\" + name); ok && f.Attrs.WriteProtected() {
			r[0] = 0x29
		} else if !c.FS.Delete(dir, name) {
			r[0] = 0x22
		}
		return [][]byte{r}
	}
	c.handlers[SerialKey(0x05, simDirFile)] = func(c *VirtualSerialCamera, d []byte) [][]byte {
		r := make([]byte, 4)
		if !c.FS.Mkdir(cstr(d)) {
			r[0] = 0x01
		}
		return [][]byte{r}
	}
	c.handlers[SerialKey(0x06, simDirFile)] = func(c *VirtualSerialCamera, d []byte) [][]byte {
		r := make([]byte, 4)
		if !c.FS.Rmdir(cstr(d)) {
			r[0] = 0x01
		}
		return [][]byte{r}
	}
	c.handlers[SerialKey(0x0e, simDirFile)] = func(c *VirtualSerialCamera, d []byte) [][]byte {
		if len(d) > 4 {
			dir := cstr(d[4:])
			name := cstr(d[min(len(d), 4+len(dir)+1):])
			if f, ok := c.FS.File(dir + "\\" + name); ok {
				f.Attrs = canon.Attributes(d[3])
			}
		}
		return [][]byte{make([]byte, 4)}
	}
}

// serialListing splits a directory listing over messages of ListChunk
// record bytes; byte 4 marks the last one.
func serialListing(c *VirtualSerialCamera, d []byte) [][]byte {
	path := ""
	if len(d) > 1 {
		path = cstr(d[1:])
	}
	records := c.FS.Listing(path)
	if records == nil {
		return [][]byte{make([]byte, 16)}
	}
	var out [][]byte
	for off := 0; off < len(records); off += c.ListChunk {
		end := min(off+c.ListChunk, len(records))
		msg := make([]byte, 5, 5+end-off)
		if end == len(records) {
			msg[4] = 1
		}
		msg = append(msg, records[off:end]...)
		// The first message must be long enough to look valid.
		for len(msg) < 16 {
			msg = append(msg, 0)
		}
		out = append(out, msg)
	}
	return out
}

// serialGetFile sends a file or thumbnail in ChunkSize pieces.
func serialGetFile(c *VirtualSerialCamera, d []byte) [][]byte {
	if len(d) < 9 {
		return nil
	}
	f, ok := c.FS.File(cstr(d[8:]))
	if !ok {
		r := make([]byte, 20)
		binary.LittleEndian.PutUint32(r, canon.StatusFileNotFound)
		return [][]byte{r}
	}
	data := f.Data
	if d[0] == 0x01 {
		data = f.Thumb
	}
	total := uint32(len(data)) //nolint:gosec // test data
	var out [][]byte
	for off := 0; ; off += c.ChunkSize {
		end := min(off+c.ChunkSize, len(data))
		r := make([]byte, 20, 20+end-off)
		binary.LittleEndian.PutUint32(r[4:], total)
		binary.LittleEndian.PutUint32(r[8:], uint32(off))      //nolint:gosec // test data
		binary.LittleEndian.PutUint32(r[12:], uint32(end-off)) //nolint:gosec // test data
		if end == len(data) {
			binary.LittleEndian.PutUint32(r[16:], 1)
		}
		out = append(out, append(r, data[off:end]...))
		if end == len(data) {
			return out
		}
	}
}
