package record

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPack_Determinism(t *testing.T) {
	obs := Observation{
		Time: time.Unix(1700000000, 0).UTC(),
		Units: []Crafting{
			{UnitNumber: 1, ProductsComplete: 10, Status: 1},
			{UnitNumber: 2, ProductsComplete: 20, Status: 2},
		},
	}

	got := Pack(obs)

	want := []byte{
		0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0xf1, 0x53, 0x65, 0x00, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00, 0x0a, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00, 0x14, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00,
	}

	assert.Equal(t, want, got)
}

func TestPackUnpack_RoundTrip(t *testing.T) {
	cases := []Observation{
		{Time: time.Unix(0, 0).UTC(), Units: nil},
		{Time: time.Unix(1700000000, 0).UTC(), Units: []Crafting{{1, 10, 1}}},
		{
			Time: time.Unix(1700000042, 0).UTC(),
			Units: []Crafting{
				{UnitNumber: 1, ProductsComplete: 10, Status: 1},
				{UnitNumber: 2, ProductsComplete: 20, Status: 2},
				{UnitNumber: 300, ProductsComplete: 0, Status: 37},
			},
		},
	}

	for _, obs := range cases {
		packed := Pack(obs)
		got, err := Unpack(bytes.NewReader(packed))
		require.NoError(t, err)
		assert.Equal(t, obs.Time.Unix(), got.Time.Unix())
		assert.Equal(t, obs.Units, got.Units)
		if len(obs.Units) == 0 {
			assert.Empty(t, got.Units)
		}
	}
}

func TestUnpack_ShortRead(t *testing.T) {
	obs := Observation{Time: time.Unix(1, 0), Units: []Crafting{{1, 2, 3}}}
	packed := Pack(obs)

	_, err := Unpack(bytes.NewReader(packed[:len(packed)-4]))
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestUnpack_CountTooLarge(t *testing.T) {
	hdr := make([]byte, 16)
	hdr[4] = 0x01 // count = 1<<32
	_, err := Unpack(bytes.NewReader(hdr))
	assert.ErrorIs(t, err, ErrRecordCountTooLarge)
}
