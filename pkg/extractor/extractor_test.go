//go:build linux

package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FauxFaux/facto-exporter/pkg/discovery"
	"github.com/FauxFaux/facto-exporter/pkg/profile"
)

func testProfile() profile.Profile {
	p := profile.Default()
	return p
}

func TestResolveSymbols_ExactMatches(t *testing.T) {
	p := testProfile()
	table := discovery.SymbolTable{
		p.Symbols.InsertUnique:        {Addr: 0x1000},
		p.Symbols.TickCandidates[0]:   {Addr: 0x2000},
		p.Symbols.StatusGetter:        {Addr: 0x3000},
		p.Symbols.Alloc:               {Addr: 0x4000},
		p.Symbols.Free:                {Addr: 0x5000},
	}

	r, err := ResolveSymbols(table, p)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000), r.InsertUnique)
	assert.Equal(t, uint64(0x2000), r.Tick)
	assert.Equal(t, uint64(0x3000), r.StatusGetter)
	assert.Equal(t, uint64(0x4000), r.Alloc)
	assert.Equal(t, uint64(0x5000), r.Free)
}

func TestResolveSymbols_FallsBackToIsraClone(t *testing.T) {
	p := testProfile()
	table := discovery.SymbolTable{
		p.Symbols.InsertUnique:      {Addr: 0x1000},
		p.Symbols.TickCandidates[1]: {Addr: 0x2222}, // only the isra variant present
		p.Symbols.StatusGetter:      {Addr: 0x3000},
		p.Symbols.Alloc:             {Addr: 0x4000},
		p.Symbols.Free:              {Addr: 0x5000},
	}

	r, err := ResolveSymbols(table, p)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x2222), r.Tick)
}

func TestResolveSymbols_MissingRequiredSymbol(t *testing.T) {
	p := testProfile()
	table := discovery.SymbolTable{
		p.Symbols.TickCandidates[0]: {Addr: 0x2000},
		p.Symbols.StatusGetter:      {Addr: 0x3000},
		p.Symbols.Alloc:             {Addr: 0x4000},
		p.Symbols.Free:              {Addr: 0x5000},
	}

	_, err := ResolveSymbols(table, p)
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestResolveSymbols_NoTickCandidateResolves(t *testing.T) {
	p := testProfile()
	table := discovery.SymbolTable{
		p.Symbols.InsertUnique: {Addr: 0x1000},
		p.Symbols.StatusGetter: {Addr: 0x3000},
		p.Symbols.Alloc:        {Addr: 0x4000},
		p.Symbols.Free:         {Addr: 0x5000},
	}

	_, err := ResolveSymbols(table, p)
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestTicksPerHarvest_MatchesGovernorDesign(t *testing.T) {
	// K ~= 60 * N seconds of real time at the target's 60 UPS update rate;
	// the governor's chosen N is 7 (a harvest roughly every 7 seconds).
	assert.Equal(t, 420, TicksPerHarvest)
}
