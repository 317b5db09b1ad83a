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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/peterh/liner"
)

const historyFile = "canonctl_history"

func historyPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, historyFile)
}

// completeCommand offers command names for the first word.
func completeCommand(line string) []string {
	if strings.Contains(line, " ") {
		return nil
	}
	var out []string
	for _, name := range shellCommandNames() {
		if strings.HasPrefix(name, line) {
			out = append(out, name)
		}
	}
	return out
}

func shellCommandNames() []string {
	names := []string{"cd", "pwd", "lcd", "help", "exit"}
	for _, c := range commands {
		names = append(names, c.name)
	}
	return names
}

func runShell(ctx context.Context, s *session) error {
	line := liner.NewLiner()
	defer func() { _ = line.Close() }()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeCommand)

	hist := historyPath()
	if hist != "" {
		if f, err := os.Open(hist); err == nil { // #nosec G304 -- user cache dir
			_, _ = line.ReadHistory(f)
			_ = f.Close()
		}
		defer func() {
			if f, err := os.Create(hist); err == nil { // #nosec G304 -- user cache dir
				_, _ = line.WriteHistory(f)
				_ = f.Close()
			}
		}()
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		input, err := line.Prompt(fmt.Sprintf("canon %s> ", s.cwd))
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		done, err := execLine(ctx, s, strings.Fields(input))
		if err != nil {
			s.printf("Error: %v\n", err)
			if canon.IsFatal(err) {
				return err
			}
		}
		if done {
			return nil
		}
	}
}

// execLine runs one shell line and reports whether the shell should exit.
func execLine(ctx context.Context, s *session, fields []string) (bool, error) {
	name, args := fields[0], fields[1:]
	switch name {
	case "exit", "quit":
		return true, nil
	case "help":
		for _, c := range commands {
			s.printf("  %-28s %s\n", c.name+" "+c.usage, c.help)
		}
		s.printf("  %-28s %s\n", "cd <dir>", "change camera directory")
		s.printf("  %-28s %s\n", "pwd", "print camera directory")
		s.printf("  %-28s %s\n", "lcd <dir>", "change download directory")
		return false, nil
	case "pwd":
		s.printf("%s\n", s.cwd)
		return false, nil
	case "cd":
		return false, changeDir(ctx, s, optionalArg(args, 0))
	case "lcd":
		if len(args) != 1 {
			return false, errors.New("usage: lcd <dir>")
		}
		fi, err := os.Stat(args[0])
		if err != nil {
			return false, err
		}
		if !fi.IsDir() {
			return false, fmt.Errorf("%s is not a directory", args[0])
		}
		s.dest = args[0]
		return false, nil
	}

	cmd := lookupCommand(name)
	if cmd == nil {
		return false, fmt.Errorf("unknown command %q, try help", name)
	}
	if err := cmd.checkArgs(args); err != nil {
		return false, err
	}
	return false, cmd.run(ctx, s, args)
}

// changeDir moves to dir after finding it in its parent's listing. An
// empty listing cannot tell a missing directory from an empty one.
func changeDir(ctx context.Context, s *session, dir string) error {
	target := "/"
	if dir != "" {
		target = s.resolve(dir)
	}
	if target != "/" {
		entries, err := s.cam.ListDirectory(ctx, path.Dir(target))
		if err != nil {
			return err
		}
		name := path.Base(target)
		found := false
		for i := range entries {
			if entries[i].IsDir() && strings.EqualFold(entries[i].Name, name) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s: no such directory", target)
		}
	}
	s.cwd = target
	return nil
}
