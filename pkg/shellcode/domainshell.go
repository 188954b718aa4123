//go:build linux

package shellcode

import "fmt"

// Trampoline is the fixed one-word "call-end" blob: a short jump over
// nothing (it occupies exactly one word) straight to the byte immediately
// following it, where the domain body begins. It never varies, since the
// body always starts at byte offset 8 regardless of target profile.
//
// E9 03 00 00 00       jmp rel32 +3   ; lands on byte 8 (5 + 3)
// CC CC CC             padding to one word
var Trampoline = Blob{
	Code:        []byte{0xE9, 0x03, 0x00, 0x00, 0x00, 0xCC, 0xCC, 0xCC},
	EntryOffset: 0,
}

// MockStatusGetter is the status-getter stand-in used by the test
// harness in place of a real target's getStatus: it ignores its
// argument and always returns a fixed sentinel value in the
// conventional return register, so harness assertions can tell a
// harvested record apart from a zeroed one.
//
// B8 0D D0 0D F0       mov eax, 0xf00dd00d
// C3                   ret
// CC CC                padding to one word
const MockStatusValue = 0xf00dd00d

var MockStatusGetter = Blob{
	Code:        []byte{0xB8, 0x0D, 0xD0, 0x0D, 0xF0, 0xC3, 0xCC, 0xCC},
	EntryOffset: 0,
}

// Assembled is a stage-2 shell ready to be written into the tracee: the
// concatenated, word-padded machine code, plus the byte offset within it
// of the status-getter blob (callers add this to the region's mmap base
// to get the status-getter function address the shared region expects
// at offset 8).
type Assembled struct {
	Words            []uint64
	StatusGetterByte uint64
}

// AssembleShell concatenates the trampoline, the domain body, and a
// status-getter blob into one stage-2 image. Every blob must declare a
// zero entry offset: the trampoline's jump target is fixed at byte 8
// (trampoline's own length), so a body or status-getter starting
// anywhere else would silently run the wrong code.
func AssembleShell(body, statusGetter Blob) (Assembled, error) {
	for name, b := range map[string]Blob{
		"trampoline":    Trampoline,
		"body":          body,
		"status-getter": statusGetter,
	} {
		if b.EntryOffset != 0 {
			return Assembled{}, fmt.Errorf("%w: %s", ErrNonZeroEntry, name)
		}
	}

	var mem []byte
	mem = append(mem, Trampoline.Code...)
	mem = append(mem, body.Code...)
	statusGetterByte := uint64(len(mem))
	mem = append(mem, statusGetter.Code...)

	return Assembled{
		Words:            PadToWord(mem, 0xCC),
		StatusGetterByte: statusGetterByte,
	}, nil
}
