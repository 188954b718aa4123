//go:build linux

// Package shell implements the tracer's side of the domain shell
// protocol: a fixed shared-memory layout written into the tracee so the
// tracer can hand it a container root and capacity, jump the tracee's
// instruction pointer into staged machine code, and harvest the records
// it writes back.
package shell

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/FauxFaux/facto-exporter/pkg/record"
	"github.com/FauxFaux/facto-exporter/pkg/shellcode"
	"github.com/FauxFaux/facto-exporter/pkg/tracee"
)

// Shared-region field offsets, in bytes, from the base of the region.
const (
	offSetRoot       = 0
	offStatusGetter  = 8
	offCapacity      = 16
	offCount         = 24
	offRecordArray   = 32
	recordStride     = 16 // unit, products, status, reserved; 4 bytes each
	defaultScratchSz = 64 << 20
)

// ErrBadCount means the shell's declared count exceeds the declared
// capacity, which the tracer must treat as a non-fatal skip rather than
// trusting the decode. The output array sits inline in the shared
// region, so there is no separate output address to validate.
var ErrBadCount = errors.New("shell: declared record count is out of bounds")

// ErrNoTrap means the shell ran for longer than maxShellSteps without
// hitting its completion trap; the tracee is assumed wedged.
var ErrNoTrap = errors.New("shell: did not reach completion trap")

// maxShellSteps bounds the single-step harvest loop so a miscompiled or
// mismatched body blob can't hang the tracer forever.
const maxShellSteps = 1 << 20

// Shell is a stage-2 domain shell staged into one tracee, ready for
// repeated entry.
type Shell struct {
	tr           *tracee.Tracer
	MapAddr      uint64
	regionAddr   uint64
	capacity     uint64
	entryAddr    uint64
	savedRegs    unix.PtraceRegs
	haveSaved    bool
}

// InjectInto stages a fresh shell (stage-1 mmap, then stage-2 assembly)
// at scratch inside the tracee and reserves capacity record slots in its
// shared region. The tracee must be stopped at a safe location.
//
// statusGetterAddr, if non-nil, overrides which function address is
// written into the shared region's status-getter field: a real
// deployment passes the target's resolved getStatus address here. A nil
// value falls back to the address of the mock status-getter blob that's
// always assembled alongside the body, which is what the test harness
// wants (a stable sentinel return value instead of a real target ABI).
func InjectInto(tr *tracee.Tracer, scratch uint64, body shellcode.Blob, statusGetterAddr *uint64, capacity uint64) (*Shell, error) {
	regionSize := offRecordArray + capacity*recordStride
	totalSize := uint64(defaultScratchSz)
	if totalSize < regionSize+4096 {
		totalSize = regionSize + 4096
	}

	mapAddr, err := shellcode.InjectMmap(tr, scratch, uint32(totalSize))
	if err != nil {
		return nil, fmt.Errorf("shell: stage1 inject: %w", err)
	}

	asm, err := shellcode.AssembleShell(body, shellcode.MockStatusGetter)
	if err != nil {
		return nil, fmt.Errorf("shell: assemble stage2: %w", err)
	}

	if err := tr.WriteWords(mapAddr, asm.Words); err != nil {
		return nil, fmt.Errorf("shell: write stage2: %w", err)
	}

	regionAddr := mapAddr + uint64(len(asm.Words))*8
	s := &Shell{
		tr:         tr,
		MapAddr:    mapAddr,
		regionAddr: regionAddr,
		capacity:   capacity,
		entryAddr:  mapAddr,
	}

	resolvedStatusGetter := mapAddr + asm.StatusGetterByte
	if statusGetterAddr != nil {
		resolvedStatusGetter = *statusGetterAddr
	}
	if err := s.writeHeader(resolvedStatusGetter, capacity); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Shell) writeHeader(statusGetterAddr, capacity uint64) error {
	header := []uint64{0, statusGetterAddr, capacity, 0}
	if err := s.tr.WriteWords(s.regionAddr, header); err != nil {
		return fmt.Errorf("shell: write shared-region header: %w", err)
	}
	return nil
}

// SetSetAddr writes the ordered-container root pointer into the shared
// region. The tracer does this every tick before entering the shell.
func (s *Shell) SetSetAddr(addr uint64) error {
	return s.tr.WriteWords(s.regionAddr+offSetRoot, []uint64{addr})
}

// Enter saves the tracee's current register file, points it at the
// shell's entry with the shared-region base in the first-argument
// register, then single-steps until the instruction at the current IP
// is the shell's completion trap opcode (0xCC).
func (s *Shell) Enter() error {
	orig, err := s.tr.GetRegs()
	if err != nil {
		return err
	}
	s.savedRegs = orig
	s.haveSaved = true

	regs := orig
	regs.Rip = s.entryAddr
	regs.Rdi = s.regionAddr // first-argument register, SysV x86-64 ABI
	if err := s.tr.SetRegs(&regs); err != nil {
		return err
	}

	for i := 0; i < maxShellSteps; i++ {
		if err := s.tr.SingleStep(); err != nil {
			return fmt.Errorf("shell: single step: %w", err)
		}
		cur, err := s.tr.GetRegs()
		if err != nil {
			return err
		}
		word, err := s.tr.ReadWord(cur.Rip)
		if err != nil {
			return fmt.Errorf("shell: read instruction at %#x: %w", cur.Rip, err)
		}
		if byte(word) == 0xCC {
			return nil
		}
	}
	return ErrNoTrap
}

// Exit restores the register file captured by the most recent Enter,
// resuming the tracee at the location it was stopped before entry.
func (s *Shell) Exit() error {
	if !s.haveSaved {
		return errors.New("shell: exit called before a matching enter")
	}
	saved := s.savedRegs
	s.haveSaved = false
	return s.tr.SetRegs(&saved)
}

// ReadCount reads the shell's declared output record count, validating
// it against the reserved capacity.
func (s *Shell) ReadCount() (uint64, error) {
	count, err := s.tr.ReadWord(s.regionAddr + offCount)
	if err != nil {
		return 0, fmt.Errorf("shell: read count: %w", err)
	}
	if count > s.capacity {
		return 0, fmt.Errorf("%w: count %d exceeds capacity %d", ErrBadCount, count, s.capacity)
	}
	return count, nil
}

// ReadCraftings reads count crafting records from the output array and
// decodes them into record.Crafting values.
func (s *Shell) ReadCraftings() ([]record.Crafting, error) {
	count, err := s.ReadCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	raw, err := s.tr.BulkRead(s.regionAddr+offRecordArray, int(count*recordStride))
	if err != nil {
		return nil, fmt.Errorf("shell: bulk read records: %w", err)
	}

	out := make([]record.Crafting, count)
	for i := range out {
		base := raw[i*recordStride:]
		out[i] = record.Crafting{
			UnitNumber:       binary.LittleEndian.Uint32(base[0:4]),
			ProductsComplete: binary.LittleEndian.Uint32(base[4:8]),
			Status:           binary.LittleEndian.Uint32(base[8:12]),
		}
	}
	return out, nil
}
