//go:build linux

// Package harness builds a synthetic red-black-tree container of crafting
// objects directly in a traced process's memory, for shell/extraction
// tests that need something real to walk without a real target binary.
//
// The node layout below (color+padding, parent, left, right, then the
// data pointer) is libstdc++'s std::_Rb_tree ABI, not a per-profile
// detail: it's fixed by the C++ standard library the target links, so
// unlike profile.Layout's crafting-object offsets it never varies by
// target release.
package harness

import (
	"encoding/binary"
	"fmt"

	"github.com/FauxFaux/facto-exporter/pkg/profile"
	"github.com/FauxFaux/facto-exporter/pkg/shellcode"
	"github.com/FauxFaux/facto-exporter/pkg/tracee"
)

const (
	// fakeCraftingSize is oversized relative to any real crafting object
	// so both of a profile's offsets always land inside it regardless of
	// which release's Layout is supplied.
	fakeCraftingSize = 1024

	// _Rb_tree_node_base layout: color+padding (8), parent (8), left (16),
	// right (24), followed immediately by the node's data pointer (32).
	rbEntrySize = 40
	rbOffLeft   = 16
	rbOffRight  = 24
	rbOffData   = 32

	// _Rb_tree container header: the tree's root node pointer sits at
	// offset 16; the element count lives wherever the profile says.
	rbSetOffBegin   = 16
	rbSetHeaderSize = 48
)

// Unit is one synthetic crafting object's identifying fields. Status is
// deliberately absent: it's supplied by the shell's status-getter call,
// not read out of the container, so the harness has nothing to fake for
// it beyond what shellcode.MockStatusGetter already returns.
type Unit struct {
	UnitNumber       uint32
	ProductsComplete uint32
}

type treeNode struct {
	left, right *int
	data        int
}

// place lays indices 0..len(idxs)-1 into a tree the same way the
// original harness did: split the slice in half, the first element of
// the right half becomes this node, and its two halves (excluding that
// element) are recursed into as children. The resulting shape has no
// relationship to sort order; it only needs to be a connected tree for a
// full-traversal domain walk to visit every node.
func place(heap *[]treeNode, idxs []int) *int {
	if len(idxs) == 0 {
		return nil
	}
	mid := len(idxs) / 2
	left := idxs[:mid]
	rest := idxs[mid:]
	us := rest[0]
	right := rest[1:]

	leftRef := place(heap, left)
	rightRef := place(heap, right)

	i := len(*heap)
	*heap = append(*heap, treeNode{left: leftRef, right: rightRef, data: us})
	return &i
}

// BuildFakeSet mmaps scratch space in the tracee, writes units.len()
// crafting objects and a balanced binary tree of _Rb_tree-shaped nodes
// over them, then writes the container header pointing at the tree's
// root. It returns the address to hand the shell as the container root
// (the same value the insertion breakpoint's first-argument register
// carries against a real target).
func BuildFakeSet(tr *tracee.Tracer, scratch uint64, layout profile.Layout, units []Unit) (uint64, error) {
	if len(units) == 0 {
		return 0, fmt.Errorf("harness: no units supplied")
	}

	headerSize := uint64(rbSetHeaderSize)
	if layout.SetSizeOffset+8 > headerSize {
		headerSize = layout.SetSizeOffset + 8
	}

	totalEstimate := uint32(len(units))*(fakeCraftingSize+rbEntrySize) + uint32(headerSize) + 4096
	base, err := shellcode.InjectMmap(tr, scratch, totalEstimate)
	if err != nil {
		return 0, fmt.Errorf("harness: inject scratch mapping: %w", err)
	}

	var mem []byte

	craftingOff := make([]int, len(units))
	for i, u := range units {
		craftingOff[i] = len(mem)
		obj := make([]byte, fakeCraftingSize)
		binary.LittleEndian.PutUint32(obj[layout.UnitNumberOffset:], u.UnitNumber)
		binary.LittleEndian.PutUint32(obj[layout.ProductsCompleteOffset:], u.ProductsComplete)
		mem = append(mem, obj...)
	}

	var heap []treeNode
	idxs := make([]int, len(units))
	for i := range idxs {
		idxs[i] = i
	}
	root := place(&heap, idxs)

	entriesStart := len(mem)
	entryAddr := func(ref *int) uint64 {
		if ref == nil {
			return 0
		}
		return base + uint64(entriesStart) + uint64(*ref)*rbEntrySize
	}

	for _, n := range heap {
		entry := make([]byte, rbEntrySize)
		binary.LittleEndian.PutUint64(entry[rbOffLeft:], entryAddr(n.left))
		binary.LittleEndian.PutUint64(entry[rbOffRight:], entryAddr(n.right))
		binary.LittleEndian.PutUint64(entry[rbOffData:], base+uint64(craftingOff[n.data]))
		mem = append(mem, entry...)
	}

	setAddr := base + uint64(len(mem))
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(header[rbSetOffBegin:], entryAddr(root))
	binary.LittleEndian.PutUint64(header[layout.SetSizeOffset:], uint64(len(units)))
	mem = append(mem, header...)

	if err := tr.WriteWords(base, shellcode.PadToWord(mem, 0x66)); err != nil {
		return 0, fmt.Errorf("harness: write fake set: %w", err)
	}

	return setAddr, nil
}
