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
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// Error categories for retry logic and user-facing classification
var (
	// Transport errors
	ErrTransportTimeout  = errors.New("transport timeout")
	ErrTransportWrite    = errors.New("transport write failed")
	ErrTransportRead     = errors.New("transport read failed")
	ErrTransportClosed   = errors.New("transport is closed")
	ErrTransportNotReady = errors.New("transport not ready")

	// Integrity errors - retryable up to the link retry bound
	ErrFrameCorrupted   = errors.New("frame corrupted")
	ErrFrameOverflow    = errors.New("frame exceeds receive ceiling")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrPacketTruncated  = errors.New("packet truncated")
	ErrLengthMismatch   = errors.New("declared length does not match data")

	// Link errors
	ErrNoACK        = errors.New("no ACK received")
	ErrNACKReceived = errors.New("NACK received")
	ErrLinkLost     = errors.New("camera link lost")
	ErrLowBattery   = errors.New("battery exhausted, camera off")

	// Protocol-sequence errors
	ErrUnexpectedPacket  = errors.New("unexpected packet type")
	ErrOutOfSequence     = errors.New("packet out of sequence")
	ErrUnexpectedMessage = errors.New("unexpected message")
	ErrProtocolDesync    = errors.New("protocol desynchronized")
	ErrShortRead         = errors.New("short read from camera")
	ErrInvalidResponse   = errors.New("invalid response format")

	// Camera-reported conditions
	ErrSuspiciousLength = errors.New("camera reported a suspicious length")
	ErrCameraNotFound   = errors.New("camera not found")
	ErrUnsupportedModel = errors.New("camera model not supported")
	ErrCameraBusy       = errors.New("camera did not become ready")

	// Caller errors - never transmitted
	ErrUnknownOperation = errors.New("unknown operation")
	ErrMessageTooLarge  = errors.New("message too large")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNotSupported     = errors.New("operation not supported on this transport")
	ErrNoCapture        = errors.New("no captured image of that kind")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// TransportError wraps transport-level errors with additional context
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Port      string    // Port or device identifier
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Camera status codes carried in the first word of a USB reply.
const (
	StatusOK              uint32 = 0x00000000
	StatusFileNotFound    uint32 = 0x02000022
	StatusFileProtected   uint32 = 0x02000029
	StatusCardFull        uint32 = 0x0200002a
	StatusLockFailed      uint32 = 0x02000081
	StatusUnlockFailed    uint32 = 0x02000082
	StatusNoCaptureMode   uint32 = 0x02000085
	StatusBadParameters   uint32 = 0x02000086
	StatusNoStorageCard   uint32 = 0x02000087
	serialStatusProtected uint32 = 0x29
)

var statusMessages = map[uint32]string{
	StatusFileNotFound:  "File not found",
	StatusFileProtected: "File was protected",
	StatusCardFull:      "Compact Flash card full",
	StatusLockFailed:    "Failed to lock EOS keys",
	StatusUnlockFailed:  "Failed to unlock EOS keys",
	StatusNoCaptureMode: "Could not switch to capture mode",
	StatusBadParameters: "Invalid command parameters",
	StatusNoStorageCard: "No storage card in camera",
}

// StatusMessage returns the camera's meaning for a status code.
func StatusMessage(code uint32) string {
	if m, ok := statusMessages[code]; ok {
		return m
	}
	return fmt.Sprintf("Unknown status code 0x%08x from camera", code)
}

// CameraStatusError is a reply the transport delivered intact but in which
// the camera refused the request.
type CameraStatusError struct {
	Op   string
	Code uint32
}

func (e *CameraStatusError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: camera status 0x%08x (%s)", e.Op, e.Code, e.Message())
	}
	return fmt.Sprintf("camera status 0x%08x (%s)", e.Code, e.Message())
}

// Message returns the human-readable status text.
func (e *CameraStatusError) Message() string {
	if e.Code == serialStatusProtected {
		return statusMessages[StatusFileProtected]
	}
	return StatusMessage(e.Code)
}

// NewCameraStatusError creates a camera status error for op.
func NewCameraStatusError(op string, code uint32) *CameraStatusError {
	return &CameraStatusError{Op: op, Code: code}
}

// PhotoError reports a failed exposure during remote capture. The code is
// the camera's own and is passed through untouched.
type PhotoError struct {
	Code uint32
}

func (e *PhotoError) Error() string {
	return fmt.Sprintf("camera reported photo failure 0x%08x", e.Code)
}

// Kind is the user-facing class of a failed operation.
type Kind int

const (
	// KindNone means no error.
	KindNone Kind = iota
	// KindLinkLost means the camera is unreachable: check cable and power.
	KindLinkLost
	// KindRejected means the camera answered and refused.
	KindRejected
	// KindDesync means the protocol lost step; retry or re-initialize.
	KindDesync
	// KindTransient covers integrity failures worth retrying.
	KindTransient
	// KindCaller is a programming error that never reached the wire.
	KindCaller
	// KindOther is anything unclassified.
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindLinkLost:
		return "link lost"
	case KindRejected:
		return "rejected by camera"
	case KindDesync:
		return "protocol desync"
	case KindTransient:
		return "transient"
	case KindCaller:
		return "caller error"
	default:
		return "other"
	}
}

// Classify maps an error onto the class a user interface should report.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var se *CameraStatusError
	var pe *PhotoError
	switch {
	case errors.As(err, &se), errors.As(err, &pe), errors.Is(err, ErrLowBattery):
		return KindRejected
	case errors.Is(err, ErrUnknownOperation),
		errors.Is(err, ErrMessageTooLarge),
		errors.Is(err, ErrInvalidParameter),
		errors.Is(err, ErrNotSupported):
		return KindCaller
	case IsFatal(err), errors.Is(err, ErrTransportTimeout), errors.Is(err, ErrNoACK):
		return KindLinkLost
	case errors.Is(err, ErrUnexpectedPacket),
		errors.Is(err, ErrOutOfSequence),
		errors.Is(err, ErrUnexpectedMessage),
		errors.Is(err, ErrProtocolDesync),
		errors.Is(err, ErrSuspiciousLength),
		errors.Is(err, ErrInvalidResponse),
		errors.Is(err, ErrShortRead):
		return KindDesync
	case IsRetryable(err):
		return KindTransient
	default:
		return KindOther
	}
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// The camera explicitly refused; repeating the request is not known to be safe.
	var se *CameraStatusError
	var pe *PhotoError
	if errors.As(err, &se) || errors.As(err, &pe) {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrNoACK),
		errors.Is(err, ErrNACKReceived),
		errors.Is(err, ErrFrameCorrupted),
		errors.Is(err, ErrFrameOverflow),
		errors.Is(err, ErrChecksumMismatch),
		errors.Is(err, ErrPacketTruncated),
		errors.Is(err, ErrLengthMismatch):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error ends the whole session: the camera
// must be reset or the transport reopened before anything else can work.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrLinkLost) || errors.Is(err, ErrLowBattery) {
		return true
	}

	var te *TransportError
	if errors.As(err, &te) && te.Type == ErrorTypePermanent {
		return true
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrCameraNotFound),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for device disconnection detection.
// These are defined here because they're not available on non-Windows platforms.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors raised when the cable is
// pulled during I/O.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}

	return false
}

// NewTransportError creates a standard transport error with consistent formatting
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTimeoutError creates a timeout error for transport operations
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewTransportWriteError creates a write error (transient)
func NewTransportWriteError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportWrite, ErrorTypeTransient)
}

// NewTransportReadError creates a read error (transient)
func NewTransportReadError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportRead, ErrorTypeTransient)
}

// NewTransportClosedError reports use of a closed transport (permanent)
func NewTransportClosedError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportClosed, ErrorTypePermanent)
}

// =============================================================================
// Wire Trace Logging
// =============================================================================
// TraceableError embeds wire-level trace data in errors so that a failed
// operation carries the last exchanges with the camera.

// TraceDirection indicates the direction of wire data
type TraceDirection string

const (
	// TraceTX indicates data sent to the camera
	TraceTX TraceDirection = "TX"
	// TraceRX indicates data received from the camera
	TraceRX TraceDirection = "RX"
)

// TraceEntry represents a single wire-level operation
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	hexData := FormatHex(e.Data)
	if e.Note != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData, e.Note)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData)
}

// TraceableError wraps an error with wire-level trace data for debugging.
//
//	var te *canon.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("Wire trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err       error
	Transport string
	Port      string
	Trace     []TraceEntry
}

func (e *TraceableError) Error() string {
	return e.Err.Error()
}

func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns a human-readable formatted trace log
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s:%s] (no trace data)", e.Transport, e.Port)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s:%s] Wire trace (%d entries):\n", e.Transport, e.Port, len(e.Trace))
	for _, entry := range e.Trace {
		direction := ">"
		if entry.Direction == TraceRX {
			direction = "<"
		}
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, "  %s %s (%s)\n", direction, FormatHex(entry.Data), entry.Note)
		} else {
			_, _ = fmt.Fprintf(&sb, "  %s %s\n", direction, FormatHex(entry.Data))
		}
	}
	return sb.String()
}

// FormatHex formats a byte slice as space-separated hex, truncated after 32 bytes.
func FormatHex(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	n := min(len(data), 32)
	parts := make([]string, n)
	for i := range n {
		parts[i] = fmt.Sprintf("%02X", data[i])
	}
	out := strings.Join(parts, " ")
	if len(data) > n {
		out += fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	return out
}

// TraceBuffer collects trace entries during a session in a fixed-size ring.
type TraceBuffer struct {
	transport string
	port      string
	entries   []TraceEntry
	maxSize   int
}

// NewTraceBuffer creates a new trace buffer with the specified capacity
func NewTraceBuffer(transport, port string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16
	}
	return &TraceBuffer{
		entries:   make([]TraceEntry, 0, maxSize),
		maxSize:   maxSize,
		transport: transport,
		port:      port,
	}
}

// RecordTX records a transmission to the camera
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records data received from the camera
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

// RecordTimeout records a timeout event
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.record(TraceRX, nil, "TIMEOUT: "+note)
}

func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	if tb == nil {
		return
	}
	entry := TraceEntry{
		Direction: dir,
		Data:      append([]byte(nil), data...),
		Timestamp: time.Now(),
		Note:      note,
	}

	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
	} else {
		tb.entries = append(tb.entries, entry)
	}
}

// Len returns the number of recorded entries.
func (tb *TraceBuffer) Len() int {
	if tb == nil {
		return 0
	}
	return len(tb.entries)
}

// WrapError wraps an error with the collected trace data.
// Returns nil if err is nil; an error that already carries a trace is returned as is.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil || tb == nil || HasTrace(err) {
		return err
	}

	entriesCopy := make([]TraceEntry, len(tb.entries))
	copy(entriesCopy, tb.entries)

	return &TraceableError{
		Err:       err,
		Trace:     entriesCopy,
		Transport: tb.transport,
		Port:      tb.port,
	}
}

// Clear resets the trace buffer
func (tb *TraceBuffer) Clear() {
	if tb != nil {
		tb.entries = tb.entries[:0]
	}
}

// HasTrace checks if an error contains trace data
func HasTrace(err error) bool {
	var te *TraceableError
	return errors.As(err, &te)
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
