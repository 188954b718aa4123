// Package profile isolates a single game release's ABI surface into one
// value: the symbol names to resolve, the crafting object's field
// offsets, and the shell blob to stage. Every other package operates in
// terms of a Profile rather than hardcoding any of this, so supporting a
// new target version is a matter of adding a profile, not touching the
// extraction loop.
package profile

import "github.com/FauxFaux/facto-exporter/pkg/shellcode"

// Symbols names the raw or demangle-resolvable identifiers the extractor
// needs from the target binary's symbol table.
type Symbols struct {
	// InsertUnique is the ordered-set template instantiation's "insert
	// unique" entry point; its first-argument register holds the set's
	// root pointer on hit.
	InsertUnique string

	// TickCandidates are mangled spellings of the per-frame update
	// entry point, tried in order. Patch releases sometimes compile it
	// to an "isra" clone with an otherwise-identical body; trying both
	// spellings tolerates that without pinning a single release.
	TickCandidates []string

	// StatusGetter is the crafting object's status accessor, called by
	// the shell with the object pointer as its first argument.
	StatusGetter string

	// Alloc and Free name a statically-linked allocator pair.
	// extractor.ResolveSymbols requires both to resolve; neither the
	// extraction loop nor the shell uses the resolved addresses.
	Alloc string
	Free  string
}

// Layout describes the crafting object's field offsets, in bytes, and
// the container root's "size" field offset relative to the set's base
// pointer.
type Layout struct {
	UnitNumberOffset       uint64
	ProductsCompleteOffset uint64
	SetSizeOffset          uint64
}

// Profile bundles everything that differs between target releases.
type Profile struct {
	Name    string
	Symbols Symbols
	Layout  Layout
	Body    shellcode.Blob
}

// defaultSetSizeOffset is the byte offset, within the ordered set's header, of
// its cached element count; re-read whenever the insertion breakpoint
// fires since the set is about to mutate underneath it.
const defaultSetSizeOffset = 40

// Default returns a best-known profile for the currently supported
// target release. Its tick candidates cover both the plain and
// compiler-clone spellings seen across patch releases of the same
// minor version.
func Default() Profile {
	return Profile{
		Name: "default",
		Symbols: Symbols{
			InsertUnique: "_ZNSt8_Rb_treeIP15CraftingMachineS1_St9_IdentityIS1_E20UnitNumberComparatorSaIS1_EE16_M_insert_uniqueIS1_EESt4pairISt17_Rb_tree_iteratorIS1_EbEOT_",
			TickCandidates: []string{
				"_ZN8MainLoop14gameUpdateStepEP22MultiplayerManagerBaseP8ScenarioP10AppManagerNS_9HeavyModeE",
				"_ZN8MainLoop14gameUpdateStepEP22MultiplayerManagerBaseP8ScenarioP10AppManagerNS_9HeavyModeE.isra.0",
			},
			StatusGetter: "_ZNK15CraftingMachine9getStatusEv",
			Alloc:        "CRYPTO_malloc",
			Free:         "CRYPTO_free",
		},
		Layout: Layout{
			UnitNumberOffset:       0x98,
			ProductsCompleteOffset: 0x204,
			SetSizeOffset:          defaultSetSizeOffset,
		},
		// Body is intentionally left unset: the real domain-walk blob is
		// a per-profile compiled asset supplied alongside the profile at
		// deployment time, not something checked in with the source.
		Body: shellcode.Blob{},
	}
}
