//go:build linux

package shell

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"

	"github.com/FauxFaux/facto-exporter/pkg/shellcode"
	"github.com/FauxFaux/facto-exporter/pkg/tracee"
)

// zeroCountBody is a minimal stand-in domain body for tests that don't
// need a real container walk: it writes zero to the shared region's
// count field (offset 24, rdi+0x18) and traps immediately.
//
// 48 C7 47 18 00 00 00 00    mov qword [rdi+0x18], 0
// CC                         int3
var zeroCountBody = shellcode.Blob{
	Code:        []byte{0x48, 0xC7, 0x47, 0x18, 0x00, 0x00, 0x00, 0x00, 0xCC},
	EntryOffset: 0,
}

func spawnStopped(t *testing.T) (*tracee.Tracer, int, func()) {
	t.Helper()

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	cleanup := func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	}

	if err := unix.PtraceAttach(pid); err != nil {
		cleanup()
		t.Skipf("ptrace attach unavailable in this sandbox: %v", err)
	}
	var status unix.WaitStatus
	if _, err := unix.Wait4(pid, &status, 0, nil); err != nil {
		cleanup()
		t.Skipf("wait4 after attach failed: %v", err)
	}

	return tracee.New(pid), pid, func() {
		_ = unix.PtraceDetach(pid)
		cleanup()
	}
}

func findExecScratch(t *testing.T, pid int) uint64 {
	t.Helper()
	tr := tracee.New(pid)
	regs, err := tr.GetRegs()
	require.NoError(t, err)
	// RIP sits inside an executable mapping; word-align downward for a
	// safe scratch address to stash stage-1 backup words at.
	return regs.Rip &^ 0x7
}

func TestInjectAndEnter_ZeroCount(t *testing.T) {
	tr, pid, cleanup := spawnStopped(t)
	defer cleanup()

	scratch := findExecScratch(t, pid)

	s, err := InjectInto(tr, scratch, zeroCountBody, nil, 8)
	if err != nil {
		t.Skipf("shell injection unavailable in this sandbox: %v", err)
	}

	require.NoError(t, s.SetSetAddr(0xdeadbeef))
	require.NoError(t, s.Enter())

	count, err := s.ReadCount()
	require.NoError(t, err)
	assert.Zero(t, count)

	records, err := s.ReadCraftings()
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, s.Exit())
}

func TestReadCount_RejectsOverCapacity(t *testing.T) {
	tr, pid, cleanup := spawnStopped(t)
	defer cleanup()

	scratch := findExecScratch(t, pid)

	s, err := InjectInto(tr, scratch, zeroCountBody, nil, 2)
	if err != nil {
		t.Skipf("shell injection unavailable in this sandbox: %v", err)
	}

	// overwrite count directly to something past capacity, bypassing the
	// body, to exercise the validation path deterministically.
	require.NoError(t, tr.WriteWords(s.regionAddr+offCount, []uint64{99}))

	_, err = s.ReadCount()
	assert.ErrorIs(t, err, ErrBadCount)
}
