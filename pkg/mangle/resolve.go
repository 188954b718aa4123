// Package mangle resolves a human-readable C++ identifier to a mangled
// ELF symbol when the exact mangled name isn't known in advance, by
// demangling candidates and comparing their unqualified form.
//
// This exists because helper member functions are often compiler- and
// version-sensitive in their exact mangled spelling (argument types,
// template instantiation, "isra" clones) while their unqualified C++ name
// is stable across a target's patch releases.
package mangle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ianlancetaylor/demangle"

	"github.com/FauxFaux/facto-exporter/pkg/discovery"
)

// ErrNoMatch means no symbol in the table demangles to the desired name.
var ErrNoMatch = errors.New("mangle: no symbol demangles to the requested name")

// Resolved is a symbol found either by exact match or by demangle-and-compare.
type Resolved struct {
	Raw  string
	Addr uint64
	Size uint64
}

// Resolve returns the symbol for desired: if desired is present verbatim
// in table, that symbol is returned directly. Otherwise every symbol
// whose raw name contains desired as a substring is demangled (with
// parameter and return types stripped) and the first whose demangled,
// unqualified form equals desired exactly is returned.
func Resolve(table discovery.SymbolTable, desired string) (Resolved, error) {
	if sym, ok := table.Lookup(desired); ok {
		return Resolved{Raw: desired, Addr: sym.Addr, Size: sym.Size}, nil
	}

	for raw, sym := range table {
		if !strings.Contains(raw, desired) {
			continue
		}
		name, err := demangle.ToString(raw, demangle.NoParams, demangle.NoTemplateParams, demangle.NoClones)
		if err != nil {
			// not a valid mangled name (or not C++); not a candidate
			continue
		}
		if stripEmptyArgs(name) == desired {
			return Resolved{Raw: raw, Addr: sym.Addr, Size: sym.Size}, nil
		}
	}

	return Resolved{}, fmt.Errorf("%w: %q", ErrNoMatch, desired)
}

// stripEmptyArgs removes a bare trailing "()" that NoParams can still
// leave on a zero-argument function's demangled spelling.
func stripEmptyArgs(demangled string) string {
	return strings.TrimSuffix(demangled, "()")
}
