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

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const defaultBarWidth = 40

// progress draws a transfer bar on terminals and stays quiet elsewhere.
type progress struct {
	out   io.Writer
	label string
	width int
	tty   bool
	drawn bool
	last  int
}

func newProgress(out io.Writer, label string) *progress {
	p := &progress{out: out, label: label, width: defaultBarWidth}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = true
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil {
			// label, brackets and the percentage take the rest
			p.width = max(10, min(cols-len(label)-12, 60))
		}
	}
	return p
}

// renderBar formats one bar line. An unknown total shows a byte count.
func renderBar(label string, done, total, width int) string {
	if total <= 0 {
		return fmt.Sprintf("%s %d bytes", label, done)
	}
	done = min(done, total)
	filled := width * done / total
	return fmt.Sprintf("%s [%s%s] %3d%%", label,
		strings.Repeat("#", filled), strings.Repeat(".", width-filled), 100*done/total)
}

func (p *progress) update(done, total int) {
	if !p.tty || done == p.last {
		return
	}
	p.last = done
	p.drawn = true
	_, _ = fmt.Fprintf(p.out, "\r%s", renderBar(p.label, done, total, p.width))
}

func (p *progress) finish(err error) {
	if !p.drawn {
		return
	}
	if err != nil {
		_, _ = fmt.Fprintln(p.out, " failed")
		return
	}
	_, _ = fmt.Fprintln(p.out)
}
