//go:build linux

// Package shellcode stages position-independent machine code into a
// stopped tracee's address space: a stage-1 mmap stub that carves out
// scratch RWX memory, and the stage-2 assembly of the domain shell's
// trampoline, body, and a status-getter blob (the mock one, which the
// test harness calls in place of a real target's getter) into that
// memory.
package shellcode

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/FauxFaux/facto-exporter/pkg/tracee"
)

// Blob is one position-independent machine-code fragment. EntryOffset is
// the byte offset of its entry point, as declared by whatever produced
// it (an assembler/linker's symbol table, in the original toolchain).
type Blob struct {
	Code        []byte
	EntryOffset uint64
}

// ErrNonZeroEntry means a blob's declared entry point isn't at offset
// zero. The trampoline's jump target is hardcoded to the first byte of
// the body that follows it, so any blob violating this can't be used
// without teaching the trampoline a longer jump first.
var ErrNonZeroEntry = errors.New("shellcode: blob entry offset is not zero")

// ErrMmapFailed means the stage-1 stub's mmap syscall returned -1.
var ErrMmapFailed = errors.New("shellcode: stage-1 mmap returned failure sentinel")

// PadToWord packs buf into 64-bit little-endian words, padding the final
// partial word with the given fill byte.
func PadToWord(buf []byte, fill byte) []uint64 {
	n := (len(buf) + 7) / 8
	words := make([]uint64, n)
	padded := make([]byte, n*8)
	copy(padded, buf)
	for i := len(buf); i < len(padded); i++ {
		padded[i] = fill
	}
	for i := 0; i < n; i++ {
		words[i] = binary.LittleEndian.Uint64(padded[i*8 : i*8+8])
	}
	return words
}

// stage1Stub builds the hand-assembled mmap(NULL, size, PROT_READ|WRITE|EXEC,
// MAP_PRIVATE|MAP_ANONYMOUS, -1, 0) syscall stub: it loads the syscall
// arguments into their ABI registers, executes the syscall, and traps.
// size must fit in a signed 32-bit immediate (the Go loader never
// requests more than a few tens of megabytes of scratch).
func stage1Stub(size uint32) []byte {
	var code []byte
	movRegImm32 := func(rex, modrm byte, imm uint32) []byte {
		b := make([]byte, 7)
		b[0], b[1], b[2] = rex, 0xC7, modrm
		binary.LittleEndian.PutUint32(b[3:], imm)
		return b
	}
	code = append(code, movRegImm32(0x48, 0xC7, 0)...)           // mov rdi, 0
	code = append(code, movRegImm32(0x48, 0xC6, size)...)        // mov rsi, size
	code = append(code, movRegImm32(0x48, 0xC2, 0x7)...)         // mov rdx, PROT_READ|WRITE|EXEC
	code = append(code, movRegImm32(0x49, 0xC2, 0x22)...)        // mov r10, MAP_PRIVATE|MAP_ANONYMOUS
	code = append(code, movRegImm32(0x49, 0xC0, 0xFFFFFFFF)...)  // mov r8, -1
	code = append(code, movRegImm32(0x49, 0xC1, 0)...)           // mov r9, 0
	code = append(code, movRegImm32(0x48, 0xC0, 9)...)           // mov rax, SYS_mmap
	code = append(code, 0x0F, 0x05)                              // syscall
	code = append(code, 0xCC)                                    // int3
	return code
}

// InjectMmap runs the stage-1 mmap stub at scratch (which must be inside
// an executable mapping the tracer has write access to) and returns the
// address of a freshly mmap'd size-byte RWX region. The tracee must
// already be stopped at a safe location: inside user code, not mid
// syscall or holding a lock that a re-entrant stop would deadlock on.
func InjectMmap(tr *tracee.Tracer, scratch uint64, size uint32) (uint64, error) {
	stub := PadToWord(stage1Stub(size), 0xCC)

	backup, err := tr.ReadWords(scratch, len(stub))
	if err != nil {
		return 0, fmt.Errorf("shellcode: backup scratch words: %w", err)
	}
	if err := tr.WriteWords(scratch, stub); err != nil {
		return 0, fmt.Errorf("shellcode: write stage1 stub: %w", err)
	}

	origRegs, err := tr.GetRegs()
	if err != nil {
		return 0, err
	}
	regs := origRegs
	regs.Rip = scratch
	if err := tr.SetRegs(&regs); err != nil {
		return 0, err
	}

	if err := tr.RunUntilStop(); err != nil {
		return 0, fmt.Errorf("shellcode: run stage1 stub: %w", err)
	}

	after, err := tr.GetRegs()
	if err != nil {
		return 0, err
	}
	mapAddr := after.Rax
	if mapAddr == ^uint64(0) {
		return 0, ErrMmapFailed
	}

	if err := tr.WriteWords(scratch, backup); err != nil {
		return 0, fmt.Errorf("shellcode: restore scratch words: %w", err)
	}
	if err := tr.SetRegs(&origRegs); err != nil {
		return 0, err
	}

	return mapAddr, nil
}
