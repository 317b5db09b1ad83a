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
	"text/tabwriter"
	"time"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/ZaparooProject/go-canon/watch"
)

// session is the state shared by commands within one connection.
type session struct {
	cam *canon.Camera
	out io.Writer
	// cwd is the shell's current camera directory in slash form.
	cwd string
	// dest is where downloads land.
	dest string
}

func newSession(cam *canon.Camera, out io.Writer) *session {
	return &session{cam: cam, out: out, cwd: "/", dest: "."}
}

// resolve makes a slash path absolute against the current directory.
func (s *session) resolve(p string) string {
	if p == "" {
		return s.cwd
	}
	if !strings.HasPrefix(p, "/") {
		p = path.Join(s.cwd, p)
	}
	return path.Clean(p)
}

func (s *session) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}

type command struct {
	run     func(ctx context.Context, s *session, args []string) error
	name    string
	usage   string
	help    string
	minArgs int
	maxArgs int
}

func (c *command) checkArgs(args []string) error {
	if len(args) < c.minArgs || len(args) > c.maxArgs {
		return fmt.Errorf("usage: %s %s", c.name, c.usage)
	}
	return nil
}

var commands []*command

func init() {
	commands = []*command{
		{name: "info", help: "show model, owner, firmware, battery and clock", run: cmdInfo},
		{name: "ls", usage: "[dir]", help: "list a directory", maxArgs: 1, run: cmdList},
		{name: "get", usage: "<file> [dest]", help: "download a file", minArgs: 1, maxArgs: 2, run: cmdGet},
		{name: "thumb", usage: "<file> [dest]", help: "download a thumbnail", minArgs: 1, maxArgs: 2, run: cmdThumb},
		{name: "rm", usage: "<file>", help: "delete a file", minArgs: 1, maxArgs: 1, run: cmdRemove},
		{name: "protect", usage: "<file> on|off", help: "set the write-protect bit", minArgs: 2, maxArgs: 2,
			run: cmdProtect},
		{name: "mkdir", usage: "<dir>", help: "create a directory", minArgs: 1, maxArgs: 1, run: cmdMkdir},
		{name: "rmdir", usage: "<dir>", help: "remove an empty directory", minArgs: 1, maxArgs: 1, run: cmdRmdir},
		{name: "disk", help: "show drive capacity", run: cmdDisk},
		{name: "capture", usage: "[thumb|full|both]", help: "release the shutter and download the result",
			maxArgs: 1, run: cmdCapture},
		{name: "settime", usage: "[now|RFC3339]", help: "set the camera clock", maxArgs: 1, run: cmdSetTime},
		{name: "owner", usage: "[name]", help: "show or set the owner name", maxArgs: 1, run: cmdOwner},
		{name: "watch", usage: "[interval] [duration]", help: "poll the battery and report link changes",
			maxArgs: 2, run: cmdWatch},
	}
}

func lookupCommand(name string) *command {
	for _, c := range commands {
		if c.name == name {
			return c
		}
	}
	return nil
}

func cmdInfo(ctx context.Context, s *session, _ []string) error {
	id := s.cam.Identity()
	if id == nil {
		return errors.New("camera not initialized")
	}
	s.printf("Camera:   %s\n", id.CameraName)
	if m := id.Model; m != nil {
		s.printf("Model:    %s (%s, remote capture %s)\n", m.Name, m.Class, m.Capture)
	}
	s.printf("Owner:    %s\n", id.Owner)
	s.printf("Firmware: %s\n", id.FirmwareString())
	if id.BodyID != 0 {
		s.printf("Body ID:  %d\n", id.BodyID)
	}
	if b, err := s.cam.Battery(ctx); err == nil {
		s.printf("Power:    %s\n", b)
	} else {
		s.printf("Power:    unavailable (%v)\n", err)
	}
	if t, err := s.cam.Time(ctx); err == nil {
		s.printf("Clock:    %s\n", t.Format(time.DateTime))
	}
	return nil
}

func cmdList(ctx context.Context, s *session, args []string) error {
	dir := s.cwd
	if len(args) > 0 {
		dir = s.resolve(args[0])
	}
	entries, err := s.cam.ListDirectory(ctx, dir)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	for i := range entries {
		e := &entries[i]
		flags := []byte("---")
		if e.IsDir() {
			flags[0] = 'd'
		}
		if e.Attrs.WriteProtected() {
			flags[1] = 'p'
		}
		if !e.Attrs.Downloaded() {
			flags[2] = 'n'
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", flags, e.Size, e.Time.Format(time.DateTime), e.Name)
	}
	return w.Flush()
}

// writeDownload stores data under dest, which may be a directory.
func (s *session) writeDownload(data []byte, name, dest string) (string, error) {
	if dest == "" {
		dest = s.dest
	}
	if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		dest = filepath.Join(dest, name)
	}
	if err := os.WriteFile(dest, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", dest, err)
	}
	return dest, nil
}

func optionalArg(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return ""
}

func cmdGet(ctx context.Context, s *session, args []string) error {
	src := s.resolve(args[0])
	name := path.Base(src)
	bar := newProgress(s.out, name)
	data, err := s.cam.GetFile(ctx, src, bar.update)
	bar.finish(err)
	if err != nil {
		return err
	}
	dest, err := s.writeDownload(data, name, optionalArg(args, 1))
	if err != nil {
		return err
	}
	s.printf("Saved %s (%d bytes)\n", dest, len(data))
	return nil
}

func thumbName(name string) string {
	return strings.TrimSuffix(name, path.Ext(name)) + "_thumb.jpg"
}

func cmdThumb(ctx context.Context, s *session, args []string) error {
	src := s.resolve(args[0])
	name := thumbName(path.Base(src))
	data, err := s.cam.GetThumbnail(ctx, src, nil)
	if err != nil {
		return err
	}
	dest, err := s.writeDownload(data, name, optionalArg(args, 1))
	if err != nil {
		return err
	}
	s.printf("Saved %s (%d bytes)\n", dest, len(data))
	return nil
}

func cmdRemove(ctx context.Context, s *session, args []string) error {
	return s.cam.DeleteFile(ctx, s.resolve(args[0]))
}

func cmdProtect(ctx context.Context, s *session, args []string) error {
	var attrs canon.Attributes
	switch args[1] {
	case "on":
		attrs = canon.AttrWriteProtected
	case "off":
	default:
		return errors.New("usage: protect <file> on|off")
	}
	return s.cam.SetFileAttributes(ctx, s.resolve(args[0]), attrs)
}

func cmdMkdir(ctx context.Context, s *session, args []string) error {
	return s.cam.MakeDir(ctx, s.resolve(args[0]))
}

func cmdRmdir(ctx context.Context, s *session, args []string) error {
	return s.cam.RemoveDir(ctx, s.resolve(args[0]))
}

func cmdDisk(ctx context.Context, s *session, _ []string) error {
	info, err := s.cam.DiskInfo(ctx, "")
	if err != nil {
		return err
	}
	s.printf("Drive %s: %d KiB free of %d KiB\n", info.Name, info.Available, info.Capacity)
	return nil
}

func parseCaptureMode(arg string) (canon.TransferMode, error) {
	switch arg {
	case "", "full":
		return canon.TransferFullToPC, nil
	case "thumb":
		return canon.TransferThumbToPC, nil
	case "both":
		return canon.TransferThumbToPC | canon.TransferFullToPC, nil
	default:
		return 0, fmt.Errorf("%w: capture mode %q", canon.ErrInvalidParameter, arg)
	}
}

func cmdCapture(ctx context.Context, s *session, args []string) error {
	mode, err := parseCaptureMode(optionalArg(args, 0))
	if err != nil {
		return err
	}
	sess, err := s.cam.Capture(ctx, mode)
	if err != nil {
		return err
	}
	stamp := time.Now().Format("20060102_150405")
	fetch := []struct {
		kind canon.ImageKind
		want bool
		name string
	}{
		{canon.ImageThumbnail, mode&canon.TransferThumbToPC != 0, "capture_" + stamp + "_thumb.jpg"},
		{canon.ImageFull, mode&canon.TransferFullToPC != 0, "capture_" + stamp + ".jpg"},
		{canon.ImageSecondary, mode&canon.TransferFullToPC != 0 && sess.Secondary.Size > 0,
			"capture_" + stamp + "_2.jpg"},
	}
	for _, f := range fetch {
		if !f.want {
			continue
		}
		bar := newProgress(s.out, f.kind.String())
		data, err := s.cam.FetchImage(ctx, sess, f.kind, bar.update)
		bar.finish(err)
		if err != nil {
			return err
		}
		dest, err := s.writeDownload(data, f.name, "")
		if err != nil {
			return err
		}
		s.printf("Saved %s (%d bytes)\n", dest, len(data))
	}
	return nil
}

func cmdSetTime(ctx context.Context, s *session, args []string) error {
	arg := optionalArg(args, 0)
	if arg == "" || arg == "now" {
		return s.cam.SyncTime(ctx)
	}
	t, err := time.Parse(time.RFC3339, arg)
	if err != nil {
		return fmt.Errorf("%w: time %q: %w", canon.ErrInvalidParameter, arg, err)
	}
	return s.cam.SetTime(ctx, t)
}

func cmdOwner(ctx context.Context, s *session, args []string) error {
	if len(args) == 1 {
		return s.cam.SetOwnerName(ctx, args[0])
	}
	name, err := s.cam.OwnerName(ctx)
	if err != nil {
		return err
	}
	s.printf("%s\n", name)
	return nil
}

// cmdWatch polls the battery until interrupted, the optional duration
// passes or the link is lost.
func cmdWatch(ctx context.Context, s *session, args []string) error {
	cfg := watch.DefaultConfig()
	if arg := optionalArg(args, 0); arg != "" {
		d, err := time.ParseDuration(arg)
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: interval %q", canon.ErrInvalidParameter, arg)
		}
		cfg.PollInterval = d
	}
	if arg := optionalArg(args, 1); arg != "" {
		d, err := time.ParseDuration(arg)
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: duration %q", canon.ErrInvalidParameter, arg)
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	w := watch.New(s.cam, cfg, watch.Callbacks{
		OnBattery: func(b canon.BatteryStatus) {
			s.printf("%s  power: %s\n", time.Now().Format(time.TimeOnly), b)
		},
		OnLowBattery: func(canon.BatteryStatus) {
			s.printf("%s  warning: battery low\n", time.Now().Format(time.TimeOnly))
		},
		OnStateChange: func(from, to watch.LinkState) {
			if from != watch.StateIdle {
				s.printf("%s  link %s -> %s\n", time.Now().Format(time.TimeOnly), from, to)
			}
		},
	})
	if err := w.Run(ctx); err != nil {
		return err
	}
	m := w.Metrics()
	s.printf("%d polls, %d errors, %d recoveries\n", m.Polls, m.PollErrors, m.Recoveries)
	return nil
}
