//go:build linux

// Package discovery resolves the target binary's symbol table and locates
// its running process and worker thread by walking /proc, the same
// /proc-scanning style the teacher repo uses for process introspection,
// applied here against an ELF image and the pid/task tree instead of
// cgroup/stat files.
package discovery

import (
	"debug/elf"
	"fmt"
)

// Symbol is a resolved ELF symbol's virtual address and declared size.
type Symbol struct {
	Addr uint64
	Size uint64
}

// SymbolTable maps raw (possibly mangled) symbol names to their resolved
// address and size. It is immutable after LoadSymbols returns it.
type SymbolTable map[string]Symbol

// LoadSymbols parses binPath's ELF symbol table and string table. It
// fails if either section is absent, matching spec.md §4.1.
func LoadSymbols(binPath string) (SymbolTable, error) {
	f, err := elf.Open(binPath)
	if err != nil {
		return nil, fmt.Errorf("discovery: open %s: %w", binPath, err)
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		return nil, fmt.Errorf("discovery: read symtab of %s: %w", binPath, err)
	}
	if len(syms) == 0 {
		return nil, fmt.Errorf("discovery: %s has an empty symbol table", binPath)
	}

	table := make(SymbolTable, len(syms))
	for _, sym := range syms {
		table[sym.Name] = Symbol{Addr: sym.Value, Size: sym.Size}
	}
	return table, nil
}

// Lookup returns the raw symbol by exact name, or false if absent.
func (t SymbolTable) Lookup(name string) (Symbol, bool) {
	s, ok := t[name]
	return s, ok
}
