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

// Command canonctl talks to Canon cameras over RS-232 or USB.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	canon "github.com/ZaparooProject/go-canon"
	"github.com/ZaparooProject/go-canon/detection"
)

type config struct {
	devicePath string
	detectMode string
	model      string
	speed      int
	timeout    time.Duration
	debug      bool
	sessionLog bool
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		out := fs.Output()
		_, _ = fmt.Fprintf(out, "usage: canonctl [flags] <command> [args]\n\ncommands:\n")
		_, _ = fmt.Fprintf(out, "  %-28s %s\n", "detect", "list candidate cameras")
		for _, cmd := range commands {
			_, _ = fmt.Fprintf(out, "  %-28s %s\n", cmd.name+" "+cmd.usage, cmd.help)
		}
		_, _ = fmt.Fprintf(out, "  %-28s %s\n", "shell", "interactive prompt")
		_, _ = fmt.Fprintf(out, "\nflags:\n")
		fs.PrintDefaults()
	}
}

func parseConfig(args []string, stderr io.Writer) (*config, []string, error) {
	cfg := &config{}
	fs := flag.NewFlagSet("canonctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.devicePath, "device", "",
		`Serial port ("/dev/ttyS0", "COM1") or "usb:BUS,ADDR" (auto-detect if empty)`)
	fs.StringVar(&cfg.detectMode, "detect", "safe", "Detection mode: passive, safe or full")
	fs.StringVar(&cfg.model, "model", "", "Serial camera model name, skips model detection")
	fs.IntVar(&cfg.speed, "speed", 0, "Serial line speed after wake-up (9600-115200)")
	fs.DurationVar(&cfg.timeout, "timeout", 30*time.Second, "Connection timeout")
	fs.BoolVar(&cfg.debug, "debug", false, "Enable debug output")
	fs.BoolVar(&cfg.sessionLog, "log", false, "Write a session log file")
	fs.Usage = usage(fs)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if _, err := parseMode(cfg.detectMode); err != nil {
		return nil, nil, err
	}
	return cfg, fs.Args(), nil
}

func parseMode(s string) (detection.Mode, error) {
	switch strings.ToLower(s) {
	case "passive":
		return detection.Passive, nil
	case "safe", "":
		return detection.Safe, nil
	case "full":
		return detection.Full, nil
	default:
		return 0, fmt.Errorf("%w: detection mode %q", canon.ErrInvalidParameter, s)
	}
}

func runDetect(ctx context.Context, cfg *config, out io.Writer) error {
	opts := detection.DefaultOptions()
	opts.Mode, _ = parseMode(cfg.detectMode)
	opts.EnableCache = false
	devices, err := detection.DetectAll(ctx, &opts)
	if err != nil {
		return err
	}
	for _, d := range devices {
		_, _ = fmt.Fprintln(out, d)
		if vidpid := d.Metadata["vidpid"]; vidpid != "" {
			_, _ = fmt.Fprintf(out, "    vid:pid %s\n", vidpid)
		}
	}
	return nil
}

func run(ctx context.Context, cfg *config, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New("no command given, try -h")
	}
	name, rest := args[0], args[1:]
	if name == "detect" {
		return runDetect(ctx, cfg, stdout)
	}
	var cmd *command
	if name != "shell" {
		if cmd = lookupCommand(name); cmd == nil {
			return fmt.Errorf("unknown command %q", name)
		}
		if err := cmd.checkArgs(rest); err != nil {
			return err
		}
	}

	cam, err := connect(ctx, cfg, stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := cam.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close camera: %v\n", err)
		}
	}()
	// Reads block for up to the link timeout; closing the transport is the
	// only way to cut them short on Ctrl-C.
	stop := context.AfterFunc(ctx, func() { _ = cam.Abort() })
	defer stop()

	s := newSession(cam, stdout)
	if cmd == nil {
		return runShell(ctx, s)
	}
	return cmd.run(ctx, s, rest)
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:]))
}

func mainWithExitCode(args []string) int {
	cfg, rest, err := parseConfig(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if cfg.debug {
		canon.SetDebugEnabled(true)
	}
	if cfg.sessionLog {
		path, err := canon.InitSessionLog()
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to open session log: %v\n", err)
		} else {
			_, _ = fmt.Fprintf(os.Stderr, "Logging session to %s\n", path)
			defer func() { _ = canon.CloseSessionLog() }()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Fprint(os.Stderr, "\nShutting down gracefully...\n")
		cancel()
	}()

	if err := run(ctx, cfg, rest, os.Stdout); err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if cfg.debug {
			if trace := canon.GetTrace(err); trace != nil {
				_, _ = fmt.Fprintln(os.Stderr, trace.FormatTrace())
			}
		}
		return 1
	}
	return 0
}
