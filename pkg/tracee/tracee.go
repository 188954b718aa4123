//go:build linux

// Package tracee provides the low-level ptrace primitives the extraction
// loop drives a stopped target process with: word-granular remote memory
// I/O, hardware breakpoint management via the debug registers, and the
// continue/step/wait state machine with signal passthrough.
//
// Apart from New and Attach, every exported function here requires the
// tracee to already be stopped (attached and waited-on). Attach is the
// only one that attaches; none of them detach.
package tracee

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// debug register offsets within struct user on x86-64, as consumed by
// PTRACE_PEEKUSER/PTRACE_POKEUSER (see sys/user.h's u_debugreg[8]).
const (
	offDR0 = 848
	offDR1 = 856
	offDR2 = 864
	offDR3 = 872
	offDR6 = 896
	offDR7 = 904
)

// ErrAddrOverflow means the requested address range overflows a 64-bit
// address space; it indicates a caller bug, not a tracee fault.
var ErrAddrOverflow = errors.New("tracee: address range overflows uint64")

// ErrUnaligned means an address or length wasn't a multiple of 8 bytes,
// where the operation requires word alignment.
var ErrUnaligned = errors.New("tracee: address or length not word-aligned")

// ErrShortBulkRead means process_vm_readv returned fewer bytes than
// requested in a single vector, which the protocol never expects.
var ErrShortBulkRead = errors.New("tracee: bulk read returned short")

// Tracer drives one stopped tracee by pid via ptrace.
type Tracer struct {
	Pid int
}

// New returns a Tracer for an already-attached pid.
func New(pid int) *Tracer {
	return &Tracer{Pid: pid}
}

// Attach ptrace-attaches to pid, waits for the resulting initial stop,
// and sets PTRACE_O_EXITKILL so a crashed or killed tracer doesn't leave
// the tracee stuck stopped forever. Returns a Tracer ready for use.
func Attach(pid int) (*Tracer, error) {
	if err := unix.PtraceAttach(pid); err != nil {
		return nil, fmt.Errorf("tracee: attach %d: %w", pid, err)
	}
	t := New(pid)
	if err := t.WaitForStop(); err != nil {
		return nil, fmt.Errorf("tracee: wait for initial stop: %w", err)
	}
	if err := unix.PtraceSetOptions(pid, unix.PTRACE_O_EXITKILL); err != nil {
		return nil, fmt.Errorf("tracee: set options: %w", err)
	}
	return t, nil
}

// GetRegs reads the tracee's general-purpose register file.
func (t *Tracer) GetRegs() (unix.PtraceRegs, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(t.Pid, &regs); err != nil {
		return regs, fmt.Errorf("tracee: getregs: %w", err)
	}
	return regs, nil
}

// SetRegs writes the tracee's general-purpose register file.
func (t *Tracer) SetRegs(regs *unix.PtraceRegs) error {
	if err := unix.PtraceSetRegs(t.Pid, regs); err != nil {
		return fmt.Errorf("tracee: setregs: %w", err)
	}
	return nil
}

// ReadWord reads one aligned 64-bit word at addr.
func (t *Tracer) ReadWord(addr uint64) (uint64, error) {
	var buf [8]byte
	if _, err := unix.PtracePeekData(t.Pid, uintptr(addr), buf[:]); err != nil {
		return 0, fmt.Errorf("tracee: peek %#x: %w", addr, err)
	}
	return leUint64(buf[:]), nil
}

// ReadWords reads n consecutive aligned 64-bit words starting at addr.
func (t *Tracer) ReadWords(addr uint64, n int) ([]uint64, error) {
	span := uint64(n) * 8
	if addr+span < addr {
		return nil, ErrAddrOverflow
	}
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		w, err := t.ReadWord(addr + uint64(i)*8)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

// WriteWords writes words starting at addr, one aligned 64-bit trace-write
// per word. addr must be 8-byte aligned.
func (t *Tracer) WriteWords(addr uint64, words []uint64) error {
	if addr%8 != 0 {
		return ErrUnaligned
	}
	for i, w := range words {
		var buf [8]byte
		putLeUint64(buf[:], w)
		dest := addr + uint64(i)*8
		if _, err := unix.PtracePokeData(t.Pid, uintptr(dest), buf[:]); err != nil {
			return fmt.Errorf("tracee: poke %#x: %w", dest, err)
		}
	}
	return nil
}

// BulkRead performs a single vectored remote read of len bytes at base,
// for ranges too large to usefully split into word-at-a-time trace reads.
func (t *Tracer) BulkRead(base uint64, length int) ([]byte, error) {
	buf := make([]byte, length)
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(length)}}
	remote := []unix.RemoteIovec{{Base: uintptr(base), Len: length}}

	n, err := unix.ProcessVMReadv(t.Pid, local, remote, 0)
	if err != nil {
		return nil, fmt.Errorf("tracee: process_vm_readv %#x/%d: %w", base, length, err)
	}
	if n != length {
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrShortBulkRead, n, length)
	}
	return buf, nil
}

// Breakpoint programs up to four hardware execution breakpoints. A nil
// slot clears that debug address register's local-enable bit; a non-nil
// slot writes the address and sets it.
func (t *Tracer) Breakpoint(addrs [4]*uint64) error {
	dr7, err := t.peekUser(offDR7)
	if err != nil {
		return fmt.Errorf("tracee: read dr7: %w", err)
	}

	offsets := [4]uintptr{offDR0, offDR1, offDR2, offDR3}
	for i, addr := range addrs {
		if addr == nil {
			dr7 = clearBit(dr7, uint(i)*2)
			continue
		}
		if err := t.pokeUser(offsets[i], *addr); err != nil {
			return fmt.Errorf("tracee: write dr%d: %w", i, err)
		}
		dr7 = setBit(dr7, uint(i)*2)
	}

	if err := t.pokeUser(offDR7, dr7); err != nil {
		return fmt.Errorf("tracee: write dr7: %w", err)
	}
	return nil
}

// WhichBreakpoints reads the debug status register and returns which of
// the four slots fired since it was last cleared.
func (t *Tracer) WhichBreakpoints() ([4]bool, error) {
	var fired [4]bool
	dr6, err := t.peekUser(offDR6)
	if err != nil {
		return fired, fmt.Errorf("tracee: read dr6: %w", err)
	}
	for i := range fired {
		fired[i] = dr6&(1<<uint(i)) != 0
	}
	return fired, nil
}

// ClearBreakpoints disables all four hardware breakpoint slots; it is
// the first step of the extraction loop's cleanup path.
func (t *Tracer) ClearBreakpoints() error {
	return t.Breakpoint([4]*uint64{nil, nil, nil, nil})
}

// RunUntilStop issues PTRACE_CONT and waits for the tracee's next clean
// stop, re-injecting any signal that isn't the stop itself.
func (t *Tracer) RunUntilStop() error {
	if err := unix.PtraceCont(t.Pid, 0); err != nil {
		return fmt.Errorf("tracee: cont: %w", err)
	}
	return t.WaitForStop()
}

// SingleStep executes exactly one instruction and waits for the
// resulting trap.
func (t *Tracer) SingleStep() error {
	if err := unix.PtraceSingleStep(t.Pid); err != nil {
		return fmt.Errorf("tracee: singlestep: %w", err)
	}
	return t.WaitForStop()
}

// WaitForStop waits for the tracee to stop, passing through any signal
// that isn't SIGSTOP or SIGTRAP and continuing to wait. This tolerates
// routine signals (e.g. SIGALRM) the target delivers to itself.
func (t *Tracer) WaitForStop() error {
	var status unix.WaitStatus
	for {
		pid, err := unix.Wait4(t.Pid, &status, 0, nil)
		if err != nil {
			return fmt.Errorf("tracee: wait4: %w", err)
		}
		if pid != t.Pid {
			continue
		}
		if !status.Stopped() {
			return fmt.Errorf("tracee: unexpected wait status %v", status)
		}

		sig := status.StopSignal()
		if sig == unix.SIGSTOP || sig == unix.SIGTRAP {
			return nil
		}

		if err := unix.PtraceCont(t.Pid, int(sig)); err != nil {
			return fmt.Errorf("tracee: re-inject signal %v: %w", sig, err)
		}
	}
}

func (t *Tracer) peekUser(offset uintptr) (uint64, error) {
	v, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_PEEKUSR, uintptr(t.Pid), offset, 0, 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return uint64(v), nil
}

func (t *Tracer) pokeUser(offset uintptr, value uint64) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_POKEUSR, uintptr(t.Pid), offset, uintptr(value), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func setBit(v uint64, bit uint) uint64   { return v | (1 << bit) }
func clearBit(v uint64, bit uint) uint64 { return v &^ (1 << bit) }

func leUint64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

func putLeUint64(b []byte, v uint64) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}
