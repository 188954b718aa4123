package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FauxFaux/facto-exporter/pkg/record"
)

func TestLast_StatusChange(t *testing.T) {
	h := NewHistory()
	// arrival order oldest -> newest; unit 9's status sequence is
	// 5, 5, 2, 2 (oldest to newest).
	h.Append(obsAt(1, record.Crafting{UnitNumber: 9, ProductsComplete: 1, Status: 5}))
	h.Append(obsAt(2, record.Crafting{UnitNumber: 9, ProductsComplete: 1, Status: 5}))
	h.Append(obsAt(3, record.Crafting{UnitNumber: 9, ProductsComplete: 1, Status: 2}))
	h.Append(obsAt(4, record.Crafting{UnitNumber: 9, ProductsComplete: 1, Status: 2}))

	changes, err := h.Last([]uint32{9})
	require.NoError(t, err)

	c := changes[9]
	require.NotNil(t, c.LastStatus)
	assert.EqualValues(t, 2, *c.LastStatus)
	require.NotNil(t, c.PreviousStatus)
	assert.EqualValues(t, 5, *c.PreviousStatus)
	require.NotNil(t, c.LastStatusChange)
	assert.EqualValues(t, 2, *c.LastStatusChange)
}

func TestLast_ProducedChange(t *testing.T) {
	h := NewHistory()
	h.Append(obsAt(1, record.Crafting{UnitNumber: 1, ProductsComplete: 10, Status: 1}))
	h.Append(obsAt(2, record.Crafting{UnitNumber: 1, ProductsComplete: 10, Status: 1}))
	h.Append(obsAt(3, record.Crafting{UnitNumber: 1, ProductsComplete: 20, Status: 1}))

	changes, err := h.Last([]uint32{1})
	require.NoError(t, err)

	c := changes[1]
	require.NotNil(t, c.ProducedChange)
	// the newest observation whose products differ from the one after it
	// is ts=2 (10, followed by 20 at ts=3).
	assert.EqualValues(t, 2, *c.ProducedChange)
}

func TestLast_UnknownUnitIsZeroValue(t *testing.T) {
	h := NewHistory()
	h.Append(obsAt(1, record.Crafting{UnitNumber: 1, ProductsComplete: 1, Status: 1}))

	changes, err := h.Last([]uint32{404})
	require.NoError(t, err)
	c := changes[404]
	assert.Nil(t, c.LastStatus)
	assert.Nil(t, c.ProducedChange)
}

func TestLast_EmptyHistory(t *testing.T) {
	h := NewHistory()
	_, err := h.Last([]uint32{1})
	assert.ErrorIs(t, err, ErrEmptyHistory)
}

func TestBulkStatus_CoversLatestObservationUnits(t *testing.T) {
	h := NewHistory()
	h.Append(obsAt(1,
		record.Crafting{UnitNumber: 1, ProductsComplete: 1, Status: 1},
		record.Crafting{UnitNumber: 2, ProductsComplete: 2, Status: 2},
	))

	changes, err := h.BulkStatus()
	require.NoError(t, err)
	assert.Len(t, changes, 2)
	assert.Contains(t, changes, uint32(1))
	assert.Contains(t, changes, uint32(2))
}
