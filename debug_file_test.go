//nolint:paralleltest // Tests modify package-level session log state, cannot run in parallel
package canon

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSessionLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.log")
	got, err := initSessionLogAt(path)
	require.NoError(t, err)
	require.Equal(t, path, got)
	t.Cleanup(func() { _ = CloseSessionLog() })
	return path
}

func TestInitSessionLog_CreatesFile(t *testing.T) {
	origDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() {
		_ = CloseSessionLog()
		_ = os.Chdir(origDir)
	})

	path, err := InitSessionLog()
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "Log file should exist")
	assert.Regexp(t, regexp.MustCompile(`^canon_\d{8}_\d{6}\.log$`), path)
	assert.Equal(t, path, GetSessionLogPath())
}

func TestInitSessionLog_WritesHeader(t *testing.T) {
	path := openTestSessionLog(t)
	require.NoError(t, CloseSessionLog())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "=== Canon Camera Debug Session Log ===")
	assert.Contains(t, string(content), "PID:")
	assert.Contains(t, string(content), "Go Version:")
	assert.Contains(t, string(content), "=== Session ended ===")
}

func TestSessionLog_KeepsDebugWhenConsoleQuiet(t *testing.T) {
	buf := captureConsole(t, false)
	path := openTestSessionLog(t)

	Debugf("frame %X", []byte{0xC0, 0x01})
	require.NoError(t, CloseSessionLog())

	assert.Empty(t, buf.String())
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "frame C001")
}

func TestSessionLog_AlreadyOpen(t *testing.T) {
	openTestSessionLog(t)

	_, err := initSessionLogAt(filepath.Join(t.TempDir(), "second.log"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already open")
}

func TestCloseSessionLog_Idempotent(t *testing.T) {
	openTestSessionLog(t)

	require.NoError(t, CloseSessionLog())
	require.NoError(t, CloseSessionLog())
	assert.Empty(t, GetSessionLogPath())
}

func TestCloseSessionLog_StopsWriting(t *testing.T) {
	captureConsole(t, false)
	path := openTestSessionLog(t)
	require.NoError(t, CloseSessionLog())

	Debugf("after close")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "after close")
}
