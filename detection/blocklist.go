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

package detection

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultBlocklist returns USB-serial devices that are never camera
// cables. Probing them can reset the board behind the port.
// Entries are VID:PID in hex, compared case-insensitively.
func DefaultBlocklist() []string {
	return []string{
		"2341:0043", // Arduino Uno
		"2341:0001", // Arduino Uno (early firmware)
		"2341:0010", // Arduino Mega 2560
		"2341:0042", // Arduino Mega 2560 R3
		"1366:0105", // SEGGER J-Link CDC
		"0483:374B", // ST-LINK/V2-1 virtual COM port
	}
}

// VIDPID formats a USB vendor and product id the way blocklists and
// DeviceInfo metadata carry them.
func VIDPID(vid, pid uint16) string {
	return fmt.Sprintf("%04X:%04X", vid, pid)
}

// IsBlocked reports whether vidpid appears in blocklist.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.TrimSpace(vidpid)
	if vidpid == "" {
		return false
	}
	for _, blocked := range blocklist {
		if strings.EqualFold(vidpid, strings.TrimSpace(blocked)) {
			return true
		}
	}
	return false
}

// ParseVIDPID extracts a normalised "VVVV:PPPP" from the identifiers
// operating systems hand out for USB devices:
//
//	PRODUCT=67b/2303/300           (Linux uevent, hex without padding)
//	USB\VID_067B&PID_2303\5&1A2B   (Windows hardware id)
//	067b:2303                      (lsusb)
//
// It returns "" when descriptor carries no usable pair.
func ParseVIDPID(descriptor string) string {
	descriptor = strings.TrimSpace(descriptor)

	if rest, ok := strings.CutPrefix(descriptor, "PRODUCT="); ok {
		fields := strings.Split(rest, "/")
		if len(fields) < 2 {
			return ""
		}
		return formatPair(fields[0], fields[1])
	}

	upper := strings.ToUpper(descriptor)
	if vi := strings.Index(upper, "VID_"); vi >= 0 {
		pi := strings.Index(upper, "PID_")
		if pi < 0 {
			return ""
		}
		return formatPair(hexPrefix(upper[vi+4:]), hexPrefix(upper[pi+4:]))
	}

	vid, pid, ok := strings.Cut(descriptor, ":")
	if !ok {
		return ""
	}
	return formatPair(vid, pid)
}

// hexPrefix returns the leading hex digits of s.
func hexPrefix(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool {
		return !strings.ContainsRune("0123456789abcdefABCDEF", r)
	})
	if end < 0 {
		return s
	}
	return s[:end]
}

func formatPair(vid, pid string) string {
	v, err := strconv.ParseUint(vid, 16, 16)
	if err != nil {
		return ""
	}
	p, err := strconv.ParseUint(pid, 16, 16)
	if err != nil {
		return ""
	}
	return VIDPID(uint16(v), uint16(p))
}

// IsPathIgnored reports whether devicePath matches an entry of
// ignorePaths. Serial paths compare case-insensitively after cleaning;
// "usb:BUS,ADDR" paths compare numerically so "usb:1,4" matches
// "usb:001,004".
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" {
		return false
	}
	device := normalizedPath(devicePath)
	for _, ignore := range ignorePaths {
		if ignore != "" && normalizedPath(ignore) == device {
			return true
		}
	}
	return false
}

func normalizedPath(path string) string {
	path = strings.ToLower(strings.TrimSpace(path))
	if rest, ok := strings.CutPrefix(path, "usb:"); ok {
		bus, addr, found := strings.Cut(rest, ",")
		b, errBus := strconv.Atoi(bus)
		a, errAddr := strconv.Atoi(addr)
		if found && errBus == nil && errAddr == nil {
			return fmt.Sprintf("usb:%03d,%03d", b, a)
		}
		return path
	}
	return filepath.Clean(path)
}
