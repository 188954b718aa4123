package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits_SortsAndDedups(t *testing.T) {
	units, err := ParseUnits("3,1,2,1")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, units)
}

func TestParseUnits_Single(t *testing.T) {
	units, err := ParseUnits("42")
	require.NoError(t, err)
	assert.Equal(t, []uint32{42}, units)
}

func TestParseUnits_RejectsEmptyEntry(t *testing.T) {
	_, err := ParseUnits("1,,2")
	assert.Error(t, err)
}

func TestParseUnits_RejectsNonNumeric(t *testing.T) {
	_, err := ParseUnits("1,abc")
	assert.Error(t, err)
}

func TestStatusName_KnownAndUnknown(t *testing.T) {
	assert.Equal(t, "no_power", StatusName(37))
	assert.Equal(t, "working", StatusName(1))
	assert.Equal(t, "unknown", StatusName(9999))
}
