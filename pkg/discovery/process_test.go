//go:build linux

package discovery

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindPID_Self(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	pid, err := FindPID(exe)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestFindPID_NotFound(t *testing.T) {
	_, err := FindPID("/no/such/binary/exists/facto-exporter-test")
	assert.ErrorIs(t, err, ErrPIDNotFound)
}

func TestFindThread_NotFound(t *testing.T) {
	_, err := FindThread(os.Getpid(), "no-such-thread-name")
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestFindThread_MainThread(t *testing.T) {
	// the main thread's comm is normally the (truncated) executable name;
	// rather than guess truncation rules, just assert at least one thread
	// in our own task dir is discoverable under its own name.
	entries, err := os.ReadDir("/proc/self/task")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	comm, err := os.ReadFile("/proc/self/task/" + entries[0].Name() + "/comm")
	require.NoError(t, err)

	tid, err := FindThread(os.Getpid(), string(trimNewline(comm)))
	require.NoError(t, err)
	assert.Positive(t, tid)
}

func trimNewline(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\n' {
		return b[:len(b)-1]
	}
	return b
}

func TestDetectYamaScope_NoError(t *testing.T) {
	_, err := DetectYamaScope()
	assert.NoError(t, err)
}
