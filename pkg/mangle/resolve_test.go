package mangle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FauxFaux/facto-exporter/pkg/discovery"
)

func TestResolve_ExactMatch(t *testing.T) {
	table := discovery.SymbolTable{
		"_ZN15CraftingMachine10getStatusEv": {Addr: 0x1000, Size: 0x40},
	}

	got, err := Resolve(table, "_ZN15CraftingMachine10getStatusEv")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000), got.Addr)
	assert.Equal(t, "_ZN15CraftingMachine10getStatusEv", got.Raw)
}

func TestResolve_DemangleMatch(t *testing.T) {
	// _ZN15CraftingMachine12giveProductsERK6Recipeb demangles (with params
	// stripped) to "CraftingMachine::giveProducts".
	table := discovery.SymbolTable{
		"_ZN15CraftingMachine12giveProductsERK6Recipeb": {Addr: 0x2000, Size: 0x80},
		"_ZN9Something5ElseEv":                          {Addr: 0x3000, Size: 0x10},
	}

	got, err := Resolve(table, "CraftingMachine::giveProducts")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x2000), got.Addr)
	assert.Equal(t, "_ZN15CraftingMachine12giveProductsERK6Recipeb", got.Raw)
}

func TestResolve_DemangleMatch_IsraClone(t *testing.T) {
	// a GCC "isra" clone still contains the base mangled name as a
	// substring; its demangled spelling is unaffected by the suffix.
	table := discovery.SymbolTable{
		"_ZN9LuaEntity23luaReadProductsFinishedEP9lua_State.isra.0": {Addr: 0x4000, Size: 0x20},
	}

	got, err := Resolve(table, "LuaEntity::luaReadProductsFinished")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x4000), got.Addr)
}

func TestResolve_NoMatch(t *testing.T) {
	table := discovery.SymbolTable{
		"_ZN9Something5ElseEv": {Addr: 0x3000, Size: 0x10},
	}

	_, err := Resolve(table, "NoSuch::Thing")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestResolve_NoMatch_EmptyTable(t *testing.T) {
	_, err := Resolve(discovery.SymbolTable{}, "Anything::AtAll")
	assert.ErrorIs(t, err, ErrNoMatch)
}
