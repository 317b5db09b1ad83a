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

package testing

import (
	"errors"
	"testing"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/ZaparooProject/go-canon/internal/frame"
)

func TestSleepingCameraIgnoresFramesWithWakeBytes(t *testing.T) {
	t.Parallel()
	cam := NewVirtualSerialCamera()

	for _, pkt := range [][]byte{{0x00, 0x02, 0x55, 0x2C}, frame.EOT(0)} {
		if _, err := cam.Write(frame.Encode(pkt)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if cam.WakeBursts != 0 {
		t.Fatalf("WakeBursts = %d after power-off frames, want 0", cam.WakeBursts)
	}
	buf := make([]byte, 64)
	if _, err := cam.Read(buf); !errors.Is(err, canon.ErrTransportTimeout) {
		t.Fatalf("Read = %v, want timeout from a sleeping camera", err)
	}

	if _, err := cam.Write(wakeBurst); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if cam.WakeBursts != 1 {
		t.Fatalf("WakeBursts = %d after wake burst, want 1", cam.WakeBursts)
	}
	if _, err := cam.Read(buf); err != nil {
		t.Fatalf("Read after wake failed: %v", err)
	}
}
