//go:build linux

package discovery

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSymbols_OwnBinary(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	table, err := LoadSymbols(exe)
	if err != nil {
		t.Skipf("symbol table unavailable on this build (stripped binary?): %v", err)
	}
	assert.NotEmpty(t, table)

	_, ok := table["definitely_not_a_real_symbol_xyz"]
	assert.False(t, ok)
}

func TestLoadSymbols_MissingFile(t *testing.T) {
	_, err := LoadSymbols("/no/such/elf/binary")
	assert.Error(t, err)
}
