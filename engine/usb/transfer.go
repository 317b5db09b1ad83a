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
	"context"
	"fmt"

	canon "github.com/ZaparooProject/go-canon"
)

// offTotal is where a long-transfer header carries the data length.
const offTotal = 6

// traceChunk bounds how much of each bulk chunk goes into the trace.
const traceChunk = 32

// longTransfer runs a command whose reply is a 0x40 byte header announcing
// the data length, then reads the data from the bulk pipe in transfer
// unit chunks. A length above maxSane is refused before anything is read;
// zero disables the check. There is no resume: any short or failed read
// ends the transfer.
func (e *Engine) longTransfer(
	ctx context.Context, op Op, payload []byte, maxSane int64, progress canon.ProgressFunc,
) ([]byte, error) {
	hdr, err := e.dialogue(ctx, op, payload)
	if err != nil {
		return nil, err
	}
	if len(hdr) != replyBlock {
		return nil, e.trace.WrapError(fmt.Errorf("%w: long transfer header of 0x%x bytes",
			canon.ErrInvalidResponse, len(hdr)))
	}
	total := int64(le.Uint32(hdr[offTotal:]))
	if maxSane > 0 && total > maxSane {
		return nil, e.trace.WrapError(fmt.Errorf("%w: camera announced %d bytes, limit is %d",
			canon.ErrSuspiciousLength, total, maxSane))
	}
	e.log.Debugf("long transfer of %d bytes", total)

	unit := e.TransferUnit()
	data := make([]byte, total)
	done := 0
	for done < len(data) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk := data[done:min(done+unit, len(data))]
		n, err := e.dev.BulkRead(chunk)
		if err != nil {
			return nil, e.trace.WrapError(fmt.Errorf("bulk read at %d of %d: %w", done, total, err))
		}
		e.trace.RecordRX(chunk[:min(n, traceChunk)], fmt.Sprintf("bulk %d bytes", n))
		if n != len(chunk) {
			return nil, e.trace.WrapError(fmt.Errorf("%w: 0x%x of 0x%x bytes at %d of %d",
				canon.ErrShortRead, n, len(chunk), done, total))
		}
		done += n
		if progress != nil {
			progress(done, len(data))
		}
	}
	return data, nil
}
