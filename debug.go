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
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// The package logger runs at debug level and writes nowhere itself; output
// goes through hooks. The console hook drops debug entries unless debug
// mode is on, and the session hook (debug_file.go) keeps everything.
var (
	logger       = newLogger()
	debugEnabled atomic.Bool
	console      = &writerHook{
		writer: os.Stderr,
		formatter: &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		},
		filter: func(lvl logrus.Level) bool {
			return lvl <= logrus.WarnLevel || debugEnabled.Load()
		},
	}
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	return l
}

func init() {
	logger.AddHook(console)
	if os.Getenv("CANON_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled.Store(true)
	}
}

// writerHook formats entries onto a writer, optionally filtered by level.
type writerHook struct {
	writer    io.Writer
	formatter logrus.Formatter
	filter    func(logrus.Level) bool
	mu        sync.Mutex
}

func (*writerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *writerHook) Fire(entry *logrus.Entry) error {
	if h.filter != nil && !h.filter(entry.Level) {
		return nil
	}
	line, err := h.formatter.Format(entry)
	if err != nil {
		return fmt.Errorf("format log entry: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.writer.Write(line); err != nil {
		return fmt.Errorf("write log entry: %w", err)
	}
	return nil
}

// Logger returns the package logger so subpackages can log with fields.
func Logger() *logrus.Logger {
	return logger
}

// Log returns an entry tagged with the protocol layer that emits it.
func Log(layer string) *logrus.Entry {
	return logger.WithField("layer", layer)
}

// Debugf prints debug information.
// Always reaches the session log; reaches the console only in debug mode.
func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
}

// Debugln prints debug information.
func Debugln(args ...any) {
	logger.Debugln(args...)
}

// Warnf reports a recoverable anomaly, such as a camera disagreeing with
// an expected reply length.
func Warnf(format string, args ...any) {
	logger.Warnf(format, args...)
}

// SetDebugEnabled allows programmatic control of debug logging
func SetDebugEnabled(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether debug output reaches the console.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// SetLogOutput redirects console output. Passing nil discards it.
func SetLogOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	console.mu.Lock()
	console.writer = w
	console.mu.Unlock()
}
